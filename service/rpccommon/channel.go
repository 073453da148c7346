package rpccommon

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/go-delve/rdbg/pkg/logflags"
	"github.com/go-delve/rdbg/pkg/wire"
)

// Caller performs remote calls. It is implemented by Channel and Pool.
type Caller interface {
	Call(ctx context.Context, method string, in wire.Marshaler, out wire.Unmarshaler) error
}

// Channel carries calls to the agent over one connection.
//
// A request is two frames, the method name followed by the encoded
// argument; the response is a single frame holding an envelope. Calls are
// serialized: a Channel never has more than one call in flight.
//
// A call that fails at the transport level, or whose context ends before
// the response arrives, leaves the stream in an unknown position. The
// channel is then broken and every later call fails with a
// *TransportError.
type Channel struct {
	conn       io.ReadWriteCloser
	maxPayload int
	log        *logrus.Entry

	mu     sync.Mutex
	broken error
	seq    atomic.Uint64
	closed atomic.Bool
}

// NewChannel returns a channel using conn. Responses larger than
// maxPayload bytes are rejected, 0 means no limit.
func NewChannel(conn io.ReadWriteCloser, maxPayload int) *Channel {
	return &Channel{conn: conn, maxPayload: maxPayload, log: logflags.RPCLogger()}
}

// Dial connects to the agent listening at addr.
func Dial(ctx context.Context, network, addr string, maxPayload int) (*Channel, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, &TransportError{Method: "dial", Err: err}
	}
	return NewChannel(conn, maxPayload), nil
}

// Call encodes in, sends it to method and decodes the reply into out,
// which may be nil if the reply is not needed.
func (c *Channel) Call(ctx context.Context, method string, in wire.Marshaler, out wire.Unmarshaler) error {
	payload, err := wire.Marshal(in)
	if err != nil {
		return err
	}
	resp, err := c.CallPayload(ctx, method, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.Unmarshal(out)
}

// CallPayload sends an already encoded payload to method and returns the
// encoded reply.
func (c *Channel) CallPayload(ctx context.Context, method string, payload []byte) (wire.Payload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return wire.Payload{}, &TransportError{Method: method, Err: errChannelClosed}
	}
	if c.broken != nil {
		return wire.Payload{}, &TransportError{Method: method, Err: c.broken}
	}
	if err := ctx.Err(); err != nil {
		return wire.Payload{}, &TransportError{Method: method, Err: err}
	}

	seq := c.seq.Inc()
	log := c.log.WithField("seq", seq).WithField("method", method)
	log.WithField("len", len(payload)).Debug("->")

	// Closing the connection unblocks the round trip when ctx ends.
	var fired atomic.Bool
	stop := make(chan struct{})
	watchdogDone := make(chan struct{})
	go func() {
		defer close(watchdogDone)
		select {
		case <-ctx.Done():
			fired.Store(true)
			c.conn.Close()
		case <-stop:
		}
	}()
	resp, err := c.roundTrip(method, payload)
	close(stop)
	<-watchdogDone

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && fired.Load() {
			err = ctxErr
		}
		c.breakWith(err)
		log.WithError(err).Debug("call failed")
		var perr *wire.ProtocolError
		if errors.As(err, &perr) {
			return wire.Payload{}, perr
		}
		return wire.Payload{}, &TransportError{Method: method, Err: err}
	}
	if fired.Load() {
		c.breakWith(ctx.Err())
	}

	var env envelope
	if err := wire.Unmarshal(resp, &env); err != nil {
		return wire.Payload{}, err
	}
	log.WithField("len", len(env.Body)).Debug("<-")
	if env.Err != "" {
		return wire.Payload{}, &ServerError{Method: method, Msg: env.Err}
	}
	return wire.Decode(env.Body), nil
}

func (c *Channel) roundTrip(method string, payload []byte) ([]byte, error) {
	buf := make([]byte, 0, 2*wire.FrameHeaderLen+len(method)+len(payload))
	buf = wire.AppendFrame(buf, []byte(method))
	buf = wire.AppendFrame(buf, payload)
	if _, err := c.conn.Write(buf); err != nil {
		return nil, err
	}
	resp, err := wire.ReadFrame(c.conn, c.maxPayload)
	if err == io.EOF {
		err = errConnectionLost
	}
	return resp, err
}

// breakWith must be called with c.mu held.
func (c *Channel) breakWith(err error) {
	if c.broken == nil {
		c.broken = err
		c.conn.Close()
	}
}

// Broken reports whether the channel can no longer be used.
func (c *Channel) Broken() bool {
	if c.closed.Load() {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broken != nil
}

// Close closes the underlying connection. A call in flight fails with a
// *TransportError.
func (c *Channel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}
