package hub

import (
	"context"
	"sort"
	"strings"
	"sync"

	errs "github.com/eddielth/msghub-e2e/errors"
	"github.com/eddielth/msghub-e2e/interfaces"
	"github.com/eddielth/msghub-e2e/logger"
	"github.com/eddielth/msghub-e2e/mqtt"
	"github.com/eddielth/msghub-e2e/store"
	"github.com/eddielth/msghub-e2e/wire"
)

// QoS of introspection and control messages
const controlQoS = 2

type upstreamMessage struct {
	topic   string
	payload []byte
}

// mailbox queues broker messages without ever blocking the MQTT client,
// which must keep processing acknowledgements while the router waits.
type mailbox struct {
	mu     sync.Mutex
	items  []upstreamMessage
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) push(topic string, payload []byte) {
	m.mu.Lock()
	m.items = append(m.items, upstreamMessage{topic: topic, payload: payload})
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []upstreamMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}

// router owns the routing state; it runs on a single goroutine
type router struct {
	h          *Hub
	owners     map[string]*session
	subscribed map[string]bool
}

func newRouter(h *Hub) *router {
	return &router{
		h:          h,
		owners:     make(map[string]*session),
		subscribed: make(map[string]bool),
	}
}

func (r *router) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-r.h.requests:
			if err := r.handle(ctx, req); err != nil {
				return err
			}
		case <-r.h.inbox.notify:
			for _, msg := range r.h.inbox.drain() {
				if err := r.downstream(ctx, msg); err != nil {
					return err
				}
			}
		}
	}
}

func (r *router) handle(ctx context.Context, req request) error {
	switch req.f.Type {
	case wire.FrameAttach:
		return r.attach(ctx, req.s, req.f)
	case wire.FrameData:
		return r.data(ctx, req.s, req.f)
	case wire.FrameUnset:
		return r.unset(ctx, req.s, req.f)
	case wire.FrameDetach:
		r.detach(ctx, req.s)
		return nil
	default:
		req.s.reject(req.f, "unexpected %s frame", req.f.Type)
		return nil
	}
}

func (r *router) attach(ctx context.Context, s *session, f wire.Frame) error {
	if s.node != "" {
		s.reject(f, "node %s is already attached", s.node)
		return nil
	}
	if f.Node == "" {
		s.reject(f, "attach without a node id")
		return nil
	}

	ifaces := make(map[string]*interfaces.Descriptor, len(f.Interfaces))
	for _, raw := range f.Interfaces {
		desc, err := interfaces.ParseDescriptor(raw)
		if err != nil {
			s.reject(f, "%v", err)
			return nil
		}
		if owner, taken := r.owners[desc.Name]; taken {
			s.reject(f, "interface %s already belongs to node %s", desc.Name, owner)
			return nil
		}
		ifaces[desc.Name] = desc
	}

	s.node = f.Node
	s.ifaces = ifaces
	for name := range ifaces {
		r.owners[name] = s
	}
	logger.Info("node %s attached with %d interfaces", s.node, len(ifaces))

	if err := r.publishIntrospection(ctx); err != nil {
		return err
	}
	for name, desc := range ifaces {
		if desc.Ownership != interfaces.OwnershipServer || r.subscribed[name] {
			continue
		}
		topic := r.h.base + "/" + name + "/#"
		if err := r.h.upstream.Subscribe(ctx, topic, controlQoS, r.h.inbox.push); err != nil {
			return errs.Wrap(errs.KindTask, err, "subscribe %s", name)
		}
		r.subscribed[name] = true
	}
	if err := r.publishProducerProperties(ctx, s); err != nil {
		return err
	}

	if err := s.conn.Send(wire.Frame{Type: wire.FrameAttachAck, Node: s.node}); err != nil {
		logger.Warn("failed to acknowledge attach of %s: %v", s.node, err)
	}
	return nil
}

func (r *router) detach(ctx context.Context, s *session) {
	if s.node == "" {
		return
	}
	for name := range s.ifaces {
		if r.owners[name] == s {
			delete(r.owners, name)
		}
	}
	logger.Info("node %s detached", s.node)
	s.node = ""
	s.ifaces = make(map[string]*interfaces.Descriptor)

	if r.h.closed() {
		return
	}
	if err := r.publishIntrospection(ctx); err != nil {
		logger.Warn("failed to publish introspection after detach: %v", err)
	}
}

// publishIntrospection announces every attached interface as a sorted
// name:major:minor list separated by semicolons
func (r *router) publishIntrospection(ctx context.Context) error {
	entries := make([]string, 0, len(r.owners))
	for name, s := range r.owners {
		entries = append(entries, s.ifaces[name].Introspection())
	}
	sort.Strings(entries)

	introspection := strings.Join(entries, ";")
	if err := r.h.upstream.Publish(ctx, r.h.base, controlQoS, false, []byte(introspection)); err != nil {
		return errs.Wrap(errs.KindTask, err, "publish introspection")
	}
	logger.Debug("published introspection %q", introspection)
	return nil
}

// publishProducerProperties lists the device properties the hub still
// holds so the server can purge the others
func (r *router) publishProducerProperties(ctx context.Context, s *session) error {
	var paths []string
	for name, desc := range s.ifaces {
		if !desc.IsProperty() || desc.Ownership != interfaces.OwnershipDevice {
			continue
		}
		props, err := r.h.opts.Store.Load(ctx, name)
		if err != nil {
			return errs.Wrap(errs.KindTask, err, "load properties of %s", name)
		}
		for _, p := range store.Paths(props) {
			paths = append(paths, name+p)
		}
	}
	sort.Strings(paths)

	topic := r.h.base + "/control/producer/properties"
	if err := r.h.upstream.Publish(ctx, topic, controlQoS, false, []byte(strings.Join(paths, ";"))); err != nil {
		return errs.Wrap(errs.KindTask, err, "publish producer properties")
	}
	return nil
}

func (r *router) deviceInterface(s *session, f wire.Frame) (*interfaces.Descriptor, bool) {
	if s.node == "" {
		s.reject(f, "node is not attached")
		return nil, false
	}
	desc, ok := s.ifaces[f.Interface]
	if !ok {
		s.reject(f, "interface %s is not attached by %s", f.Interface, s.node)
		return nil, false
	}
	if desc.Ownership != interfaces.OwnershipDevice {
		s.reject(f, "interface %s is server owned", f.Interface)
		return nil, false
	}
	return desc, true
}

func (r *router) data(ctx context.Context, s *session, f wire.Frame) error {
	desc, ok := r.deviceInterface(s, f)
	if !ok {
		return nil
	}
	p, err := wire.Decode(f.Payload)
	if err != nil {
		s.reject(f, "%v", err)
		return nil
	}
	if p.IsUnset() {
		s.reject(f, "data frame without a value")
		return nil
	}
	qos, err := validate(desc, f.Path, p)
	if err != nil {
		s.reject(f, "%v", err)
		return nil
	}

	topic := mqtt.DataTopic(r.h.base, f.Interface, f.Path)
	if err := r.h.upstream.Publish(ctx, topic, qos, false, f.Payload); err != nil {
		return errs.Wrap(errs.KindTask, err, "publish %s%s", f.Interface, f.Path)
	}
	if desc.IsProperty() {
		if err := r.h.opts.Store.Save(ctx, f.Interface, f.Path, f.Payload); err != nil {
			return errs.Wrap(errs.KindTask, err, "store %s%s", f.Interface, f.Path)
		}
	}
	r.h.opts.Metrics.HubMessage("upstream")
	logger.Debug("forwarded %s to %s", wire.Diagnostic(f.Payload), topic)

	return r.rendezvous(ctx)
}

func (r *router) unset(ctx context.Context, s *session, f wire.Frame) error {
	desc, ok := r.deviceInterface(s, f)
	if !ok {
		return nil
	}
	if _, err := validate(desc, f.Path, wire.Unset()); err != nil {
		s.reject(f, "%v", err)
		return nil
	}

	topic := mqtt.DataTopic(r.h.base, f.Interface, f.Path)
	if err := r.h.upstream.Publish(ctx, topic, controlQoS, false, nil); err != nil {
		return errs.Wrap(errs.KindTask, err, "unset %s%s", f.Interface, f.Path)
	}
	if err := r.h.opts.Store.Delete(ctx, f.Interface, f.Path); err != nil {
		return errs.Wrap(errs.KindTask, err, "delete %s%s", f.Interface, f.Path)
	}
	r.h.opts.Metrics.HubMessage("upstream")

	return r.rendezvous(ctx)
}

// rendezvous crosses the barrier once per forwarded device message
func (r *router) rendezvous(ctx context.Context) error {
	if r.h.opts.Barrier == nil {
		return nil
	}
	return r.h.opts.Barrier.Wait(ctx)
}

func (r *router) downstream(ctx context.Context, msg upstreamMessage) error {
	iface, path, ok := mqtt.SplitTopic(r.h.base, msg.topic)
	if !ok {
		logger.Warn("ignoring message on unexpected topic %s", msg.topic)
		return nil
	}
	s, ok := r.owners[iface]
	if !ok {
		logger.Warn("no node owns %s, dropping message for %s", iface, path)
		return nil
	}
	desc := s.ifaces[iface]
	f := wire.Frame{Type: wire.FrameEvent, Interface: iface, Path: path, Payload: msg.payload}
	if desc.Ownership != interfaces.OwnershipServer {
		logger.Warn("ignoring server message on device owned %s", iface)
		return nil
	}

	p, err := wire.Decode(msg.payload)
	if err != nil {
		s.reject(f, "server sent an invalid payload: %v", err)
		return nil
	}
	if _, err := validate(desc, path, p); err != nil {
		s.reject(f, "server sent %v", err)
		return nil
	}

	if desc.IsProperty() {
		if p.IsUnset() {
			err = r.h.opts.Store.Delete(ctx, iface, path)
		} else {
			err = r.h.opts.Store.Save(ctx, iface, path, msg.payload)
		}
		if err != nil {
			return errs.Wrap(errs.KindTask, err, "store %s%s", iface, path)
		}
	}

	if err := s.conn.Send(f); err != nil {
		logger.Warn("failed to deliver %s%s to %s: %v", iface, path, s, err)
		return nil
	}
	r.h.opts.Metrics.HubMessage("downstream")
	logger.Debug("delivered %s%s to %s: %s", iface, path, s, wire.Diagnostic(msg.payload))
	return nil
}

// validate checks a payload against the interface mappings and returns
// the QoS to publish it with
func validate(desc *interfaces.Descriptor, path string, p wire.Payload) (byte, error) {
	if p.IsUnset() {
		m, ok := desc.Mapping(path)
		if !ok {
			return 0, errs.New(errs.KindSchema, "%s: no mapping for path %s", desc.Name, path)
		}
		if !desc.IsProperty() || !m.AllowUnset {
			return 0, errs.New(errs.KindSchema, "%s%s cannot be unset", desc.Name, path)
		}
		return m.QoS(), nil
	}

	if obj, ok := p.AsObject(); ok {
		if !desc.IsObject() {
			return 0, errs.New(errs.KindSchema, "%s is not object aggregated", desc.Name)
		}
		var qos byte
		for _, name := range obj.Names() {
			v, _ := obj.Get(name)
			m, ok := desc.Mapping(path + "/" + name)
			if !ok {
				return 0, errs.New(errs.KindSchema, "%s: no mapping for %s/%s", desc.Name, path, name)
			}
			if m.Kind() != v.Kind() {
				return 0, errs.New(errs.KindSchema, "%s%s/%s: expected %s, got %s", desc.Name, path, name, m.Kind(), v.Kind())
			}
			qos = max(qos, m.QoS())
		}
		return qos, nil
	}

	v, _ := p.AsIndividual()
	if desc.IsObject() {
		return 0, errs.New(errs.KindSchema, "%s expects objects", desc.Name)
	}
	m, ok := desc.Mapping(path)
	if !ok {
		return 0, errs.New(errs.KindSchema, "%s: no mapping for path %s", desc.Name, path)
	}
	if m.Kind() != v.Kind() {
		return 0, errs.New(errs.KindSchema, "%s%s: expected %s, got %s", desc.Name, path, m.Kind(), v.Kind())
	}
	return m.QoS(), nil
}
