// Package hub implements the message hub: nodes attach over a local TCP
// socket, their data is forwarded to the broker under the device topic
// tree and server data coming back from the broker is routed to the node
// owning the interface.
package hub

import (
	"context"
	"errors"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/eddielth/msghub-e2e/barrier"
	errs "github.com/eddielth/msghub-e2e/errors"
	"github.com/eddielth/msghub-e2e/logger"
	"github.com/eddielth/msghub-e2e/metrics"
	"github.com/eddielth/msghub-e2e/mqtt"
	"github.com/eddielth/msghub-e2e/store"
)

// Upstream is the broker link of the hub
type Upstream interface {
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
	Subscribe(ctx context.Context, topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Options configures a Hub
type Options struct {
	// Listen is the TCP address nodes attach to
	Listen   string
	Realm    string
	DeviceID string
	// Barrier, when set, is crossed once per device message forwarded
	Barrier *barrier.Barrier
	Store   store.Backend
	Metrics *metrics.Metrics
}

// Hub routes messages between attached nodes and the broker
type Hub struct {
	opts     Options
	upstream Upstream
	base     string
	listener net.Listener

	requests chan request
	inbox    *mailbox

	mu    sync.Mutex
	conns map[*session]struct{}

	ready     chan struct{}
	closing   chan struct{}
	closeOnce sync.Once
}

// New binds the listen address
func New(upstream Upstream, opts Options) (*Hub, error) {
	if opts.Realm == "" || opts.DeviceID == "" {
		return nil, errs.New(errs.KindConfiguration, "hub needs a realm and a device id")
	}
	if opts.Store == nil {
		return nil, errs.New(errs.KindConfiguration, "hub needs a property store")
	}

	listener, err := net.Listen("tcp", opts.Listen)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, err, "listen on %s", opts.Listen)
	}

	return &Hub{
		opts:     opts,
		upstream: upstream,
		base:     mqtt.DeviceBase(opts.Realm, opts.DeviceID),
		listener: listener,
		requests: make(chan request),
		inbox:    newMailbox(),
		conns:    make(map[*session]struct{}),
		ready:    make(chan struct{}),
		closing:  make(chan struct{}),
	}, nil
}

// Addr returns the address nodes must dial
func (h *Hub) Addr() string {
	return h.listener.Addr().String()
}

// Ready is closed once the hub accepts nodes
func (h *Hub) Ready() <-chan struct{} {
	return h.ready
}

// Close asks Run to stop. It is safe to call more than once.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.closing)
	})
}

func (h *Hub) closed() bool {
	select {
	case <-h.closing:
		return true
	default:
		return false
	}
}

// Run serves nodes until Close is called or ctx is done. It returns nil
// after Close. The broker link must already be up.
func (h *Hub) Run(ctx context.Context) error {
	if !h.upstream.IsConnected() {
		h.listener.Close()
		return errs.New(errs.KindTask, "message hub has no broker connection")
	}

	g, gctx := errgroup.WithContext(ctx)
	r := newRouter(h)

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-h.closing:
		}
		// unblocks Accept and the session readers
		h.listener.Close()
		h.closeSessions()
		return errClosed
	})

	g.Go(func() error {
		return r.run(gctx)
	})

	g.Go(func() error {
		for {
			conn, err := h.listener.Accept()
			if err != nil {
				if h.closed() || gctx.Err() != nil {
					return nil
				}
				return errs.Wrap(errs.KindTask, err, "accept node connection")
			}
			s := newSession(conn)
			logger.Info("node connection from %s", s.conn.RemoteAddr())
			g.Go(func() error {
				return h.serve(gctx, s)
			})
		}
	})

	logger.Info("message hub listening on %s for %s", h.Addr(), h.base)
	close(h.ready)

	err := g.Wait()
	if errors.Is(err, errClosed) || errors.Is(err, context.Canceled) {
		if h.closed() {
			logger.Info("message hub stopped")
			return nil
		}
		return ctx.Err()
	}
	return err
}

var errClosed = errors.New("hub closed")
