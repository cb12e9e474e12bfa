// Package api is the client of the control plane inspection API used to
// read what the server received and to inject server data.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/eddielth/msghub-e2e/config"
	"github.com/eddielth/msghub-e2e/data"
	errs "github.com/eddielth/msghub-e2e/errors"
	"github.com/eddielth/msghub-e2e/logger"
	"github.com/eddielth/msghub-e2e/retry"
	"github.com/eddielth/msghub-e2e/value"
)

// Client talks to the inspection API of one device
type Client struct {
	http    *http.Client
	baseURL string
	token   string
	device  string
}

// New creates a client for the device of realm. A zero timeout means the
// default of ten seconds.
func New(cfg config.APIConfig, realm, deviceID string) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errs.New(errs.KindConfiguration, "api url %q is not an absolute URL", cfg.URL)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimSuffix(cfg.URL, "/"),
		token:   cfg.Token,
		device:  "/v1/" + url.PathEscape(realm) + "/devices/" + url.PathEscape(deviceID),
	}, nil
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

type version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
}

type deviceStatus struct {
	Introspection map[string]version `json:"introspection"`
}

func (c *Client) interfaceURL(iface, path string) string {
	return c.baseURL + c.device + "/interfaces/" + url.PathEscape(iface) + path
}

func (c *Client) do(ctx context.Context, method, target string, body json.RawMessage) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(envelope{Data: body})
		if err != nil {
			return nil, errs.Wrap(errs.KindEncoding, err, "encode request")
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, target, err)
	}
	logger.Debug("%s %s: %s", method, target, resp.Status)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := &StatusError{Method: method, URL: target, Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			// asking again with the same token cannot succeed
			return nil, retry.Permanent(err)
		}
		return nil, err
	}
	if len(raw) == 0 || resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errs.Wrap(errs.KindSchema, err, "%s %s: decode response", method, target)
	}
	return env.Data, nil
}

// StatusError is a non 2xx answer
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// Interfaces lists the interface names the server sees in the device
// introspection, sorted
func (c *Client) Interfaces(ctx context.Context) ([]string, error) {
	raw, err := c.do(ctx, http.MethodGet, c.baseURL+c.device, nil)
	if err != nil {
		return nil, err
	}
	var status deviceStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, errs.Wrap(errs.KindSchema, err, "decode device status")
	}

	names := make([]string, 0, len(status.Introspection))
	for name := range status.Introspection {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// AggregateValue returns the newest object published at path
func (c *Client) AggregateValue(ctx context.Context, iface, path string) (data.Data, error) {
	raw, err := c.do(ctx, http.MethodGet, c.interfaceURL(iface, path), nil)
	if err != nil {
		return data.Data{}, err
	}

	var samples []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &samples); err != nil {
		return data.Data{}, errs.Wrap(errs.KindSchema, err, "decode %s%s", iface, path)
	}
	if len(samples) == 0 {
		return data.Data{}, errs.New(errs.KindAssertion, "missing data from publish on %s%s", iface, path)
	}

	// samples are in publish order
	last := samples[len(samples)-1]
	delete(last, "timestamp")
	record, err := json.Marshal(last)
	if err != nil {
		return data.Data{}, errs.Wrap(errs.KindEncoding, err, "re-encode sample")
	}

	var d data.Data
	if err := json.Unmarshal(record, &d); err != nil {
		return data.Data{}, err
	}
	return d, nil
}

// IndividualValues returns the latest value of every endpoint of an
// individual interface, in catalog order
func (c *Client) IndividualValues(ctx context.Context, iface string) (*value.Object, error) {
	raw, err := c.do(ctx, http.MethodGet, c.interfaceURL(iface, ""), nil)
	if err != nil {
		return nil, err
	}
	return decodeIndividuals(iface, raw)
}

// Property returns the property set of an interface; it is empty once
// every property was unset
func (c *Client) Property(ctx context.Context, iface string) (*value.Object, error) {
	return c.IndividualValues(ctx, iface)
}

type sample struct {
	Value     json.RawMessage `json:"value"`
	Timestamp string          `json:"timestamp"`
}

func decodeIndividuals(iface string, raw json.RawMessage) (*value.Object, error) {
	obj := value.NewObject()
	if len(raw) == 0 || string(raw) == "null" {
		return obj, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, errs.Wrap(errs.KindSchema, err, "decode %s", iface)
	}

	for _, e := range data.Endpoints {
		field, ok := fields[e.Name]
		if !ok {
			continue
		}
		delete(fields, e.Name)

		// datastreams wrap the value with its timestamp
		if trimmed := bytes.TrimSpace(field); len(trimmed) > 0 && trimmed[0] == '{' {
			var s sample
			if err := json.Unmarshal(trimmed, &s); err != nil {
				return nil, errs.Wrap(errs.KindSchema, err, "decode %s/%s", iface, e.Name)
			}
			field = s.Value
		}

		v, err := value.UnmarshalJSONValue(e.Kind, field)
		if err != nil {
			return nil, errs.WithEndpoint(errs.Wrap(errs.KindSchema, err, "decode %s", iface), e.Name)
		}
		obj.Insert(e.Name, v)
	}
	for name := range fields {
		return nil, errs.New(errs.KindUnknownField, "%s: unknown field %q", iface, name)
	}
	return obj, nil
}

// SendObject injects an aggregate at path as the server
func (c *Client) SendObject(ctx context.Context, iface, path string, obj *value.Object) error {
	raw, err := data.MarshalObject(obj)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, c.interfaceURL(iface, path), raw)
	return err
}

// SendIndividual injects a single value at path as the server
func (c *Client) SendIndividual(ctx context.Context, iface, path string, v value.Value) error {
	raw, err := value.MarshalJSONValue(v)
	if err != nil {
		return errs.Wrap(errs.KindEncoding, err, "encode %s%s", iface, path)
	}
	_, err = c.do(ctx, http.MethodPost, c.interfaceURL(iface, path), raw)
	return err
}

// Unset retracts a server property
func (c *Client) Unset(ctx context.Context, iface, path string) error {
	_, err := c.do(ctx, http.MethodDelete, c.interfaceURL(iface, path), nil)
	return err
}
