// Package simulator is a minimal control plane: it records what devices
// publish on the broker and serves it through the inspection API, and it
// publishes the server data injected through that API.
package simulator

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	errs "github.com/eddielth/msghub-e2e/errors"
	"github.com/eddielth/msghub-e2e/interfaces"
	"github.com/eddielth/msghub-e2e/logger"
	"github.com/eddielth/msghub-e2e/mqtt"
	"github.com/eddielth/msghub-e2e/value"
	"github.com/eddielth/msghub-e2e/wire"
)

const producerProperties = "control/producer/properties"

// Publisher is the broker link of the simulator
type Publisher interface {
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
	Subscribe(ctx context.Context, topic string, qos byte, handler mqtt.MessageHandler) error
}

type version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
}

type sample struct {
	obj *value.Object
	at  time.Time
}

type individual struct {
	v  value.Value
	at time.Time
}

type deviceState struct {
	introspection map[string]version
	// keyed by interface, then by path
	aggregates  map[string]map[string][]sample
	individuals map[string]map[string]individual
}

func newDeviceState() *deviceState {
	return &deviceState{
		introspection: make(map[string]version),
		aggregates:    make(map[string]map[string][]sample),
		individuals:   make(map[string]map[string]individual),
	}
}

func (d *deviceState) values(iface string) map[string]individual {
	m, ok := d.individuals[iface]
	if !ok {
		m = make(map[string]individual)
		d.individuals[iface] = m
	}
	return m
}

// Server holds the state of every device of one realm
type Server struct {
	pub     Publisher
	catalog *interfaces.Catalog
	realm   string
	token   string
	now     func() time.Time

	mu      sync.Mutex
	devices map[string]*deviceState
}

// New creates a simulator for realm. A non-empty token is required as
// bearer token on every API request.
func New(pub Publisher, catalog *interfaces.Catalog, realm, token string) *Server {
	return &Server{
		pub:     pub,
		catalog: catalog,
		realm:   realm,
		token:   token,
		now:     time.Now,
		devices: make(map[string]*deviceState),
	}
}

// Start subscribes to every device topic of the realm
func (s *Server) Start(ctx context.Context) error {
	topic := s.realm + "/#"
	if err := s.pub.Subscribe(ctx, topic, 2, s.handleMessage); err != nil {
		return err
	}
	logger.Info("server simulator subscribed to %s", topic)
	return nil
}

func (s *Server) device(id string, create bool) *deviceState {
	d, ok := s.devices[id]
	if !ok && create {
		d = newDeviceState()
		s.devices[id] = d
	}
	return d
}

func (s *Server) handleMessage(topic string, payload []byte) {
	rest, ok := strings.CutPrefix(topic, s.realm+"/")
	if !ok {
		return
	}
	deviceID, sub, _ := strings.Cut(rest, "/")
	if deviceID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.device(deviceID, true)

	switch {
	case sub == "":
		s.introspect(deviceID, d, string(payload))
	case sub == producerProperties:
		s.purge(deviceID, d, string(payload))
	case strings.HasPrefix(sub, "control/"):
		logger.Debug("ignoring control message on %s", topic)
	default:
		iface, path, ok := mqtt.SplitTopic(s.realm+"/"+deviceID, topic)
		if !ok {
			logger.Warn("unexpected topic %s", topic)
			return
		}
		if err := s.record(d, iface, path, payload); err != nil {
			logger.Warn("device %s: dropping message on %s: %v", deviceID, topic, err)
		}
	}
}

// introspect replaces the introspection with a name:major:minor list
func (s *Server) introspect(deviceID string, d *deviceState, introspection string) {
	entries := make(map[string]version)
	for _, entry := range strings.Split(introspection, ";") {
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			logger.Warn("device %s: malformed introspection entry %q", deviceID, entry)
			return
		}
		major, err1 := strconv.Atoi(parts[1])
		minor, err2 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil {
			logger.Warn("device %s: malformed introspection entry %q", deviceID, entry)
			return
		}
		entries[parts[0]] = version{Major: major, Minor: minor}
	}
	d.introspection = entries
	logger.Info("device %s introspection: %d interfaces", deviceID, len(entries))
}

// purge drops every device property not listed in the producer
// properties message
func (s *Server) purge(deviceID string, d *deviceState, list string) {
	keep := make(map[string]struct{})
	for _, entry := range strings.Split(list, ";") {
		if entry != "" {
			keep[entry] = struct{}{}
		}
	}

	for iface, values := range d.individuals {
		desc, ok := s.descriptor(iface)
		if !ok || !desc.IsProperty() || desc.Ownership != interfaces.OwnershipDevice {
			continue
		}
		for path := range values {
			if _, ok := keep[iface+path]; !ok {
				logger.Debug("device %s: purging %s%s", deviceID, iface, path)
				delete(values, path)
			}
		}
	}
}

func (s *Server) descriptor(iface string) (*interfaces.Descriptor, bool) {
	i, ok := s.catalog.Get(iface)
	if !ok {
		return nil, false
	}
	return i.Descriptor, true
}

// record stores device data; messages on server owned interfaces are the
// echo of injected data and are skipped
func (s *Server) record(d *deviceState, iface, path string, payload []byte) error {
	desc, ok := s.descriptor(iface)
	if !ok {
		return errs.New(errs.KindSchema, "unknown interface %s", iface)
	}
	if desc.Ownership != interfaces.OwnershipDevice {
		return nil
	}

	p, err := wire.Decode(payload)
	if err != nil {
		return err
	}

	switch {
	case p.IsUnset():
		if !desc.IsProperty() {
			return errs.New(errs.KindSchema, "unset on datastream %s", iface)
		}
		delete(d.values(iface), path)
	case desc.IsObject():
		obj, ok := p.AsObject()
		if !ok {
			return errs.Mismatch("payload", wire.ShapeObject, p.Shape())
		}
		paths, ok := d.aggregates[iface]
		if !ok {
			paths = make(map[string][]sample)
			d.aggregates[iface] = paths
		}
		paths[path] = append(paths[path], sample{obj: obj, at: s.now()})
	default:
		v, ok := p.AsIndividual()
		if !ok {
			return errs.Mismatch("payload", wire.ShapeIndividual, p.Shape())
		}
		kind, err := desc.KindOf(path)
		if err != nil {
			return err
		}
		if v.Kind() != kind {
			return errs.Mismatch("kind", kind, v.Kind())
		}
		d.values(iface)[path] = individual{v: v, at: s.now()}
	}
	return nil
}

// inject publishes server data for a device and tracks server properties
func (s *Server) inject(ctx context.Context, deviceID, iface, path string, p wire.Payload) error {
	desc, ok := s.descriptor(iface)
	if !ok {
		return errs.New(errs.KindConfiguration, "unknown interface %s", iface)
	}
	if desc.Ownership != interfaces.OwnershipServer {
		return errs.New(errs.KindConfiguration, "interface %s is device owned", iface)
	}
	if p.IsUnset() && !desc.IsProperty() {
		return errs.New(errs.KindConfiguration, "cannot unset datastream %s", iface)
	}

	raw, err := wire.Encode(p)
	if err != nil {
		return err
	}

	qos := byte(2)
	if !desc.IsProperty() {
		if m, ok := desc.Mapping(path); ok {
			qos = m.QoS()
		} else if desc.IsObject() {
			// object paths name the object, not one of its mappings
			qos = desc.Mappings[0].QoS()
		}
	}
	topic := mqtt.DataTopic(mqtt.DeviceBase(s.realm, deviceID), iface, path)
	if err := s.pub.Publish(ctx, topic, qos, false, raw); err != nil {
		return err
	}
	logger.Debug("injected %s on %s", p, topic)

	if desc.IsProperty() {
		s.mu.Lock()
		defer s.mu.Unlock()
		values := s.device(deviceID, true).values(iface)
		if v, ok := p.AsIndividual(); ok {
			values[path] = individual{v: v, at: s.now()}
		} else {
			delete(values, path)
		}
	}
	return nil
}
