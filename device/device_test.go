package device

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/eddielth/msghub-e2e/errors"
	"github.com/eddielth/msghub-e2e/interfaces"
	"github.com/eddielth/msghub-e2e/metrics"
	"github.com/eddielth/msghub-e2e/value"
	"github.com/eddielth/msghub-e2e/wire"
)

// fakeHub accepts one node and lets the test script the hub side
type fakeHub struct {
	listener net.Listener
	conns    chan *wire.Conn
}

func newFakeHub(t *testing.T) *fakeHub {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	h := &fakeHub{listener: l, conns: make(chan *wire.Conn, 1)}
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		h.conns <- wire.NewConn(conn)
	}()
	return h
}

// accept answers the attach frame with reply
func (h *fakeHub) accept(t *testing.T, reply wire.Frame) (*wire.Conn, wire.Frame) {
	t.Helper()
	conn := <-h.conns
	f, err := conn.Recv()
	require.NoError(t, err)
	require.NoError(t, conn.Send(reply))
	return conn, f
}

func primary(t *testing.T) []interfaces.Interface {
	catalog, err := interfaces.Default()
	require.NoError(t, err)
	return catalog.Primary()
}

func dial(t *testing.T, ctx context.Context, h *fakeHub, opts ...Option) (*Client, *wire.Conn) {
	t.Helper()
	type result struct {
		c   *Client
		err error
	}
	ifaces := primary(t)
	done := make(chan result, 1)
	go func() {
		c, err := Dial(ctx, h.listener.Addr().String(), "node", ifaces, opts...)
		done <- result{c, err}
	}()

	conn, attach := h.accept(t, wire.Frame{Type: wire.FrameAttachAck})
	assert.Equal(t, wire.FrameAttach, attach.Type)
	assert.Equal(t, "node", attach.Node)
	assert.Len(t, attach.Interfaces, 6)

	res := <-done
	require.NoError(t, res.err)
	return res.c, conn
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestDialRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	_, err = Dial(testContext(t), addr, "node", nil)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindConfiguration))
}

func TestDialAttachRefused(t *testing.T) {
	ctx := testContext(t)
	h := newFakeHub(t)

	ifaces := primary(t)
	done := make(chan error, 1)
	go func() {
		_, err := Dial(ctx, h.listener.Addr().String(), "node", ifaces)
		done <- err
	}()
	h.accept(t, wire.Frame{Type: wire.FrameError, Error: "no"})

	err := <-done
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused attach: no")
}

func TestSendFrames(t *testing.T) {
	ctx := testContext(t)
	h := newFakeHub(t)
	c, conn := dial(t, ctx, h)
	defer c.Close()

	require.NoError(t, c.Send(ctx, interfaces.DeviceDatastream, "/integer_endpoint", value.Integer(1)))
	f, err := conn.Recv()
	require.NoError(t, err)
	assert.Equal(t, wire.FrameData, f.Type)
	assert.Equal(t, "/integer_endpoint", f.Path)
	p, err := wire.Decode(f.Payload)
	require.NoError(t, err)
	v, _ := p.AsIndividual()
	assert.True(t, v.Equal(value.Integer(1)))

	obj := value.NewObject()
	obj.Insert("double_endpoint", value.Double(4.34))
	require.NoError(t, c.SendObject(ctx, interfaces.DeviceAggregate, interfaces.AggregatePath, obj))
	f, err = conn.Recv()
	require.NoError(t, err)
	p, err = wire.Decode(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, wire.ShapeObject, p.Shape())

	require.NoError(t, c.Unset(ctx, interfaces.DeviceProperty, "/integer_endpoint"))
	f, err = conn.Recv()
	require.NoError(t, err)
	assert.Equal(t, wire.FrameUnset, f.Type)

	// sending an unset value is an unset
	require.NoError(t, c.Send(ctx, interfaces.DeviceProperty, "/integer_endpoint", value.Unset()))
	f, err = conn.Recv()
	require.NoError(t, err)
	assert.Equal(t, wire.FrameUnset, f.Type)
}

func TestRecvEventsInOrder(t *testing.T) {
	ctx := testContext(t)
	h := newFakeHub(t)
	m := metrics.New()
	c, conn := dial(t, ctx, h, WithMetrics(m), WithEventBuffer(1))

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	go func() {
		for i := int32(0); i < 5; i++ {
			payload, _ := wire.EncodeIndividual(value.Integer(i))
			_ = conn.Send(wire.Frame{Type: wire.FrameEvent, Interface: interfaces.ServerDatastream, Path: "/integer_endpoint", Payload: payload})
		}
		_ = conn.Send(wire.Frame{Type: wire.FrameEvent, Interface: interfaces.ServerProperty, Path: "/integer_endpoint"})
	}()

	for i := int32(0); i < 5; i++ {
		ev, err := c.Recv(ctx)
		require.NoError(t, err)
		v, ok := ev.Data.AsIndividual()
		require.True(t, ok)
		assert.True(t, v.Equal(value.Integer(i)))
	}
	ev, err := c.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ServerProperty, ev.Interface)
	assert.True(t, ev.Data.IsUnset())

	require.NoError(t, c.Close())
	assert.NoError(t, <-runErr)

	_, err = c.Recv(ctx)
	assert.True(t, errs.IsKind(err, errs.KindTask))
	assert.Error(t, c.Send(ctx, interfaces.DeviceDatastream, "/integer_endpoint", value.Integer(1)))

	f, err := conn.Recv()
	require.NoError(t, err)
	assert.Equal(t, wire.FrameDetach, f.Type)
}

func TestRunFailsOnRejection(t *testing.T) {
	ctx := testContext(t)
	h := newFakeHub(t)
	c, conn := dial(t, ctx, h)
	defer c.Close()

	require.NoError(t, conn.Send(wire.Frame{Type: wire.FrameError, Interface: "iface", Path: "/p", Error: "bad kind"}))
	err := c.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad kind")

	_, err = c.Recv(ctx)
	assert.Contains(t, err.Error(), "bad kind")
}

func TestRunFailsWhenHubHangsUp(t *testing.T) {
	ctx := testContext(t)
	h := newFakeHub(t)
	c, conn := dial(t, ctx, h)
	defer c.Close()

	require.NoError(t, conn.Close())
	err := c.Run(ctx)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindTask))
}
