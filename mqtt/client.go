package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/eddielth/msghub-e2e/config"
	errs "github.com/eddielth/msghub-e2e/errors"
	"github.com/eddielth/msghub-e2e/logger"
)

// MessageHandler is the callback function type for handling MQTT messages
type MessageHandler func(topic string, payload []byte)

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client represents an MQTT client
type Client struct {
	client paho.Client
	config config.MQTTConfig

	mu   sync.Mutex
	subs map[string]subscription
}

// NewClient creates a new MQTT client. The client ID defaults to
// prefix followed by the current unix time.
func NewClient(cfg config.MQTTConfig, prefix string) (*Client, error) {
	if cfg.Broker == "" {
		return nil, errs.New(errs.KindConfiguration, "MQTT broker address cannot be empty")
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)

	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	tlsConfig, err := newTLSConfig(cfg)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}

	c := &Client{
		config: cfg,
		subs:   make(map[string]subscription),
	}

	// Messages of one subscription must reach the handler in publish order
	opts.SetOrderMatters(true)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Error("MQTT connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
		logger.Info("trying to reconnect to MQTT broker...")
	})
	opts.SetOnConnectHandler(c.resubscribe)

	c.client = paho.NewClient(opts)
	return c, nil
}

func newTLSConfig(cfg config.MQTTConfig) (*tls.Config, error) {
	if cfg.CAFile == "" && cfg.CertFile == "" && !cfg.InsecureSkipVerify {
		return nil, nil
	}

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, errs.Wrap(errs.KindConfiguration, err, "read CA file")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errs.New(errs.KindConfiguration, "no certificate found in %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, errs.Wrap(errs.KindConfiguration, err, "load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// wait blocks until the token completes or ctx is done
func wait(ctx context.Context, token paho.Token, what string) error {
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("%s: %w", what, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", what, ctx.Err())
	}
}

// Connect connects to the MQTT broker
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := wait(ctx, c.client.Connect(), "connect to MQTT broker"); err != nil {
		return err
	}

	logger.Info("successfully connected to MQTT broker: %s", c.config.Broker)
	return nil
}

// Publish sends payload to topic and waits for the broker acknowledgement
func (c *Client) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	if err := wait(ctx, c.client.Publish(topic, qos, retained, payload), "publish to "+topic); err != nil {
		return err
	}
	logger.Debug("published %d bytes to %s", len(payload), topic)
	return nil
}

// Subscribe subscribes to the specified topic. The subscription is
// restored after a reconnect.
func (c *Client) Subscribe(ctx context.Context, topic string, qos byte, handler MessageHandler) error {
	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	if err := wait(ctx, c.client.Subscribe(topic, qos, c.dispatch(handler)), "subscribe to "+topic); err != nil {
		return err
	}

	logger.Info("successfully subscribed to topic: %s", topic)
	return nil
}

func (c *Client) dispatch(handler MessageHandler) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		logger.Debug("received message from topic %s", msg.Topic())
		handler(msg.Topic(), msg.Payload())
	}
}

func (c *Client) resubscribe(client paho.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, sub := range c.subs {
		token := client.Subscribe(topic, sub.qos, c.dispatch(sub.handler))
		go func(topic string) {
			if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
				logger.Warn("failed to restore subscription to %s: %v", topic, token.Error())
			}
		}(topic)
	}
}

// IsConnected reports whether the connection is up
func (c *Client) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Disconnect disconnects from the MQTT broker
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
	logger.Info("disconnected from MQTT broker")
}

// DeviceBase returns the topic prefix of a device: <realm>/<device_id>
func DeviceBase(realm, deviceID string) string {
	return realm + "/" + deviceID
}

// DataTopic returns the topic of one interface path
func DataTopic(base, iface, path string) string {
	return base + "/" + iface + path
}

// SplitTopic splits a topic below base into interface name and path,
// e.g. test/dev/org.Iface/sensor_1/value gives org.Iface and
// /sensor_1/value.
func SplitTopic(base, topic string) (iface, path string, ok bool) {
	rest, found := strings.CutPrefix(topic, base+"/")
	if !found {
		return "", "", false
	}
	iface, path, found = strings.Cut(rest, "/")
	if !found || iface == "" || path == "" {
		return "", "", false
	}
	return iface, "/" + path, true
}
