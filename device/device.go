// Package device is the node side of the message hub: it attaches a set of
// interfaces, publishes device data and delivers server events in order.
package device

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	errs "github.com/eddielth/msghub-e2e/errors"
	"github.com/eddielth/msghub-e2e/interfaces"
	"github.com/eddielth/msghub-e2e/logger"
	"github.com/eddielth/msghub-e2e/metrics"
	"github.com/eddielth/msghub-e2e/value"
	"github.com/eddielth/msghub-e2e/wire"
)

// Event is one server message delivered to the node
type Event struct {
	Interface string
	Path      string
	Data      wire.Payload
}

// Option configures a Client
type Option func(*Client)

// WithMetrics counts received events
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithEventBuffer sets how many events may wait for Recv
func WithEventBuffer(n int) Option {
	return func(c *Client) { c.buffer = n }
}

// Client is an attached node
type Client struct {
	conn    *wire.Conn
	node    string
	metrics *metrics.Metrics
	buffer  int

	events chan Event
	done   chan struct{}
	err    error

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to the hub at addr and attaches ifaces under node. It
// returns once the hub acknowledged the attach.
func Dial(ctx context.Context, addr, node string, ifaces []interfaces.Interface, opts ...Option) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, err, "connect to message hub at %s", addr)
	}

	c := &Client{
		conn:   wire.NewConn(conn),
		node:   node,
		buffer: 16,
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.events = make(chan Event, c.buffer)

	schemas := make([][]byte, 0, len(ifaces))
	for _, i := range ifaces {
		schemas = append(schemas, i.Schema)
	}

	if err := c.attach(ctx, schemas); err != nil {
		c.conn.Close()
		return nil, err
	}
	logger.Info("node %s attached to %s with %d interfaces", node, addr, len(ifaces))
	return c, nil
}

func (c *Client) attach(ctx context.Context, schemas [][]byte) error {
	// Recv cannot be interrupted by ctx directly
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	if err := c.conn.Send(wire.Frame{Type: wire.FrameAttach, Node: c.node, Interfaces: schemas}); err != nil {
		return err
	}

	f, err := c.conn.Recv()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errs.Wrap(errs.KindTask, err, "wait for attach acknowledgement")
	}
	switch f.Type {
	case wire.FrameAttachAck:
		return nil
	case wire.FrameError:
		return errs.New(errs.KindConfiguration, "message hub refused attach: %s", f.Error)
	default:
		return errs.New(errs.KindTask, "unexpected %s frame while attaching", f.Type)
	}
}

// Node returns the node id
func (c *Client) Node() string { return c.node }

// Run delivers server events until the connection ends. It returns nil
// after Close and an error if the hub rejected a message or hung up.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.done)

	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	c.err = c.receive(ctx)
	return c.err
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Client) receive(ctx context.Context) error {
	for {
		f, err := c.conn.Recv()
		if err != nil {
			switch {
			case c.isClosed():
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(err, io.EOF):
				return errs.New(errs.KindTask, "message hub closed the connection")
			default:
				return errs.Wrap(errs.KindTask, err, "node %s", c.node)
			}
		}

		switch f.Type {
		case wire.FrameEvent:
			p, err := wire.Decode(f.Payload)
			if err != nil {
				return errs.WithEndpoint(err, f.Interface+f.Path)
			}
			logger.Debug("node %s received %s on %s%s: %s", c.node, p.Shape(), f.Interface, f.Path, wire.Diagnostic(f.Payload))
			select {
			case c.events <- Event{Interface: f.Interface, Path: f.Path, Data: p}:
			case <-ctx.Done():
				return ctx.Err()
			}
		case wire.FrameError:
			return errs.New(errs.KindTask, "message hub rejected %s%s: %s", f.Interface, f.Path, f.Error)
		default:
			logger.Warn("node %s ignoring %s frame", c.node, f.Type)
		}
	}
}

func (c *Client) send(ctx context.Context, f wire.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isClosed() {
		return errs.New(errs.KindTask, "node %s is closed", c.node)
	}
	return c.conn.Send(f)
}

// SendObject publishes an aggregate at path
func (c *Client) SendObject(ctx context.Context, iface, path string, obj *value.Object) error {
	payload, err := wire.EncodeObject(obj)
	if err != nil {
		return err
	}
	return c.send(ctx, wire.Frame{Type: wire.FrameData, Interface: iface, Path: path, Payload: payload})
}

// Send publishes a single value at path
func (c *Client) Send(ctx context.Context, iface, path string, v value.Value) error {
	if v.IsUnset() {
		return c.Unset(ctx, iface, path)
	}
	payload, err := wire.EncodeIndividual(v)
	if err != nil {
		return err
	}
	return c.send(ctx, wire.Frame{Type: wire.FrameData, Interface: iface, Path: path, Payload: payload})
}

// Unset retracts the property at path
func (c *Client) Unset(ctx context.Context, iface, path string) error {
	return c.send(ctx, wire.Frame{Type: wire.FrameUnset, Interface: iface, Path: path})
}

// Recv blocks until the next server event
func (c *Client) Recv(ctx context.Context) (Event, error) {
	select {
	case e := <-c.events:
		c.metrics.EventReceived()
		return e, nil
	case <-c.done:
		// drain what arrived before the loop stopped
		select {
		case e := <-c.events:
			c.metrics.EventReceived()
			return e, nil
		default:
		}
		if c.err != nil {
			return Event{}, c.err
		}
		return Event{}, errs.New(errs.KindTask, "node %s stopped receiving", c.node)
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Close detaches from the hub and closes the connection
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		if sendErr := c.conn.Send(wire.Frame{Type: wire.FrameDetach}); sendErr != nil {
			err = errs.Wrap(errs.KindTeardown, sendErr, "detach node %s", c.node)
		}
		if closeErr := c.conn.Close(); closeErr != nil && err == nil {
			err = errs.Wrap(errs.KindTeardown, closeErr, "close node %s", c.node)
		}
		logger.Info("node %s closed", c.node)
	})
	return err
}
