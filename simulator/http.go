package simulator

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/eddielth/msghub-e2e/data"
	errs "github.com/eddielth/msghub-e2e/errors"
	"github.com/eddielth/msghub-e2e/logger"
	"github.com/eddielth/msghub-e2e/value"
	"github.com/eddielth/msghub-e2e/wire"
)

const maxBody = 1 << 20

type envelope struct {
	Data json.RawMessage `json:"data"`
}

type timedValue struct {
	Value     json.RawMessage `json:"value"`
	Timestamp string          `json:"timestamp"`
}

type apiError struct {
	Errors struct {
		Detail string `json:"detail"`
	} `json:"errors"`
}

// Handler returns the inspection API
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/{realm}/devices/{device}", s.authorize(s.getDevice))
	mux.HandleFunc("GET /v1/{realm}/devices/{device}/interfaces/{iface}", s.authorize(s.getInterface))
	mux.HandleFunc("GET /v1/{realm}/devices/{device}/interfaces/{iface}/{path...}", s.authorize(s.getPath))
	mux.HandleFunc("POST /v1/{realm}/devices/{device}/interfaces/{iface}/{path...}", s.authorize(s.postPath))
	mux.HandleFunc("DELETE /v1/{realm}/devices/{device}/interfaces/{iface}/{path...}", s.authorize(s.deletePath))
	return mux
}

// authorize checks the bearer token and the realm of a routed request
func (s *Server) authorize(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if r.PathValue("realm") != s.realm {
			writeError(w, http.StatusNotFound, "unknown realm")
			return
		}
		logger.Debug("%s %s", r.Method, r.URL.Path)
		next(w, r)
	}
}

func writeData(w http.ResponseWriter, status int, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeRaw(w, status, raw)
}

func writeRaw(w http.ResponseWriter, status int, raw json.RawMessage) {
	body, err := json.Marshal(envelope{Data: raw})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	var e apiError
	e.Errors.Detail = detail
	body, _ := json.Marshal(e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// statusOf maps an error kind to an HTTP status
func statusOf(err error) int {
	switch errs.KindOf(err) {
	case errs.KindConfiguration:
		return http.StatusNotFound
	case errs.KindSchema, errs.KindUnknownField, errs.KindEncoding:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) getDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("device")

	s.mu.Lock()
	d := s.device(id, false)
	var status struct {
		ID            string             `json:"id"`
		Introspection map[string]version `json:"introspection"`
	}
	if d != nil {
		status.ID = id
		status.Introspection = make(map[string]version, len(d.introspection))
		for name, v := range d.introspection {
			status.Introspection[name] = v
		}
	}
	s.mu.Unlock()

	if d == nil {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	writeData(w, http.StatusOK, status)
}

// getInterface lists the latest value of every path of an individual
// interface. Datastream values carry their reception timestamp.
func (s *Server) getInterface(w http.ResponseWriter, r *http.Request) {
	id, iface := r.PathValue("device"), r.PathValue("iface")
	desc, ok := s.descriptor(iface)
	if !ok {
		writeError(w, http.StatusNotFound, "interface not found")
		return
	}
	if desc.IsObject() {
		writeError(w, http.StatusBadRequest, "object aggregated interfaces are read by path")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.device(id, false)
	if d == nil {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}

	out := make(map[string]json.RawMessage)
	for path, iv := range d.individuals[iface] {
		raw, err := value.MarshalJSONValue(iv.v)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !desc.IsProperty() {
			raw, err = json.Marshal(timedValue{Value: raw, Timestamp: value.FormatDateTime(iv.at)})
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		out[strings.TrimPrefix(path, "/")] = raw
	}
	writeData(w, http.StatusOK, out)
}

// getPath returns the samples of an object path in publish order, or the
// value of an individual path
func (s *Server) getPath(w http.ResponseWriter, r *http.Request) {
	id, iface, path := r.PathValue("device"), r.PathValue("iface"), "/"+r.PathValue("path")
	desc, ok := s.descriptor(iface)
	if !ok {
		writeError(w, http.StatusNotFound, "interface not found")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.device(id, false)
	if d == nil {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}

	if !desc.IsObject() {
		iv, ok := d.individuals[iface][path]
		if !ok {
			writeError(w, http.StatusNotFound, "path not found")
			return
		}
		raw, err := value.MarshalJSONValue(iv.v)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeRaw(w, http.StatusOK, raw)
		return
	}

	samples := d.aggregates[iface][path]
	out := make([]map[string]json.RawMessage, 0, len(samples))
	for _, smp := range samples {
		raw, err := data.MarshalObject(smp.obj)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		var record map[string]json.RawMessage
		if err := json.Unmarshal(raw, &record); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		record["timestamp"], _ = json.Marshal(value.FormatDateTime(smp.at))
		out = append(out, record)
	}
	writeData(w, http.StatusOK, out)
}

func readData(r *http.Request) (json.RawMessage, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errs.Wrap(errs.KindSchema, err, "decode request")
	}
	if len(env.Data) == 0 {
		return nil, errs.New(errs.KindSchema, "request without data")
	}
	return env.Data, nil
}

func (s *Server) postPath(w http.ResponseWriter, r *http.Request) {
	id, iface, path := r.PathValue("device"), r.PathValue("iface"), "/"+r.PathValue("path")
	desc, ok := s.descriptor(iface)
	if !ok {
		writeError(w, http.StatusNotFound, "interface not found")
		return
	}

	raw, err := readData(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var p wire.Payload
	if desc.IsObject() {
		obj, err := data.UnmarshalObject(raw)
		if err != nil {
			writeError(w, statusOf(err), err.Error())
			return
		}
		p = wire.Object(obj)
	} else {
		kind, err := desc.KindOf(path)
		if err != nil {
			writeError(w, statusOf(err), err.Error())
			return
		}
		v, err := value.UnmarshalJSONValue(kind, raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		p = wire.Individual(v)
	}

	if err := s.inject(r.Context(), id, iface, path, p); err != nil {
		writeError(w, statusOf(err), err.Error())
		return
	}
	writeRaw(w, http.StatusOK, raw)
}

func (s *Server) deletePath(w http.ResponseWriter, r *http.Request) {
	id, iface, path := r.PathValue("device"), r.PathValue("iface"), "/"+r.PathValue("path")
	if err := s.inject(r.Context(), id, iface, path, wire.Unset()); err != nil {
		writeError(w, statusOf(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
