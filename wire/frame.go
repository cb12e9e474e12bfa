package wire

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/fxamacker/cbor/v2"

	errs "github.com/eddielth/msghub-e2e/errors"
)

// FrameType identifies a node protocol message
type FrameType uint8

const (
	// FrameAttach registers a node and its interface descriptors
	FrameAttach FrameType = iota + 1
	// FrameAttachAck confirms the attach
	FrameAttachAck
	// FrameData carries device data towards the hub
	FrameData
	// FrameUnset retracts a device property
	FrameUnset
	// FrameEvent carries server data towards a node
	FrameEvent
	// FrameDetach announces an orderly disconnect
	FrameDetach
	// FrameError reports a rejected request
	FrameError
)

func (t FrameType) String() string {
	switch t {
	case FrameAttach:
		return "attach"
	case FrameAttachAck:
		return "attach-ack"
	case FrameData:
		return "data"
	case FrameUnset:
		return "unset"
	case FrameEvent:
		return "event"
	case FrameDetach:
		return "detach"
	case FrameError:
		return "error"
	}
	return "unknown"
}

// Frame is one message of the node protocol
type Frame struct {
	Type       FrameType `cbor:"1,keyasint"`
	Node       string    `cbor:"2,keyasint,omitempty"`
	Interfaces [][]byte  `cbor:"3,keyasint,omitempty"`
	Interface  string    `cbor:"4,keyasint,omitempty"`
	Path       string    `cbor:"5,keyasint,omitempty"`
	Payload    []byte    `cbor:"6,keyasint,omitempty"`
	Error      string    `cbor:"7,keyasint,omitempty"`
}

// Conn exchanges frames over a stream connection. Send is safe for
// concurrent use; Recv must be called from a single goroutine.
type Conn struct {
	conn net.Conn
	mu   sync.Mutex
	enc  *cbor.Encoder
	dec  *cbor.Decoder
}

// NewConn wraps an established connection
func NewConn(conn net.Conn) *Conn {
	return &Conn{
		conn: conn,
		enc:  encMode.NewEncoder(conn),
		dec:  decMode.NewDecoder(conn),
	}
}

// Send writes one frame
func (c *Conn) Send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enc.Encode(f); err != nil {
		return errs.Wrap(errs.KindEncoding, err, "send %s frame", f.Type)
	}
	return nil
}

// Recv reads the next frame. It returns io.EOF once the peer closed the
// stream cleanly.
func (c *Conn) Recv() (Frame, error) {
	var f Frame
	if err := c.dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return Frame{}, io.EOF
		}
		return Frame{}, errs.Wrap(errs.KindEncoding, err, "receive frame")
	}
	return f, nil
}

// RemoteAddr returns the peer address
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Close closes the underlying connection
func (c *Conn) Close() error {
	return c.conn.Close()
}
