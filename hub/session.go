package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/eddielth/msghub-e2e/interfaces"
	"github.com/eddielth/msghub-e2e/logger"
	"github.com/eddielth/msghub-e2e/wire"
)

// session is one node connection. Only the router touches node and
// ifaces; the reader goroutine only reads from conn.
type session struct {
	conn   *wire.Conn
	node   string
	ifaces map[string]*interfaces.Descriptor
}

func newSession(conn net.Conn) *session {
	return &session{
		conn:   wire.NewConn(conn),
		ifaces: make(map[string]*interfaces.Descriptor),
	}
}

func (s *session) String() string {
	if s.node == "" {
		return s.conn.RemoteAddr()
	}
	return s.node
}

// reject reports a refused frame back to the node
func (s *session) reject(f wire.Frame, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	logger.Warn("rejected %s frame from %s: %s", f.Type, s, msg)
	err := s.conn.Send(wire.Frame{
		Type:      wire.FrameError,
		Interface: f.Interface,
		Path:      f.Path,
		Error:     msg,
	})
	if err != nil {
		logger.Warn("failed to notify %s: %v", s, err)
	}
}

type request struct {
	s *session
	f wire.Frame
}

// serve reads the frames of one node and hands them to the router in
// arrival order
func (h *Hub) serve(ctx context.Context, s *session) error {
	h.track(s, true)
	defer h.track(s, false)
	defer s.conn.Close()

	for {
		f, err := s.conn.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) && !h.closed() {
				logger.Error("node %s: %v", s, err)
			}
			// the router forgets the node as if it had detached
			h.submit(ctx, request{s: s, f: wire.Frame{Type: wire.FrameDetach}})
			return nil
		}

		logger.Debug("node %s sent %s frame %s%s", s, f.Type, f.Interface, f.Path)
		if !h.submit(ctx, request{s: s, f: f}) {
			return nil
		}
		if f.Type == wire.FrameDetach {
			return nil
		}
	}
}

func (h *Hub) submit(ctx context.Context, req request) bool {
	select {
	case h.requests <- req:
		return true
	case <-ctx.Done():
		return false
	}
}

func (h *Hub) track(s *session, add bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if add {
		h.conns[s] = struct{}{}
		return
	}
	delete(h.conns, s)
}

func (h *Hub) closeSessions() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.conns {
		s.conn.Close()
	}
}
