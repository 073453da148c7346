package rpccommon

import (
	"context"
	"errors"
	"sync"

	"github.com/cenkalti/backoff/v4"

	"github.com/go-delve/rdbg/pkg/wire"
)

// DialFunc opens a new channel to the agent.
type DialFunc func(ctx context.Context) (*Channel, error)

// Pool spreads calls over up to size independent channels, so that a slow
// call does not hold back the others. Each call uses one channel for its
// whole duration. Broken channels are discarded and replaced on demand.
type Pool struct {
	dial    DialFunc
	redials uint64
	sem     chan struct{}

	mu     sync.Mutex
	idle   []*Channel
	closed bool
}

// NewPool returns a pool of at most size channels opened with dial. A
// failed dial is attempted again up to redials times.
func NewPool(size int, redials int, dial DialFunc) *Pool {
	if size <= 0 {
		size = 1
	}
	if redials < 0 {
		redials = 0
	}
	return &Pool{dial: dial, redials: uint64(redials), sem: make(chan struct{}, size)}
}

var errPoolClosed = errors.New("pool closed")

func (p *Pool) get(ctx context.Context, method string) (*Channel, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, &TransportError{Method: method, Err: ctx.Err()}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return nil, &TransportError{Method: method, Err: errPoolClosed}
	}
	for len(p.idle) > 0 {
		ch := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if !ch.Broken() {
			p.mu.Unlock()
			return ch, nil
		}
	}
	p.mu.Unlock()

	var ch *Channel
	err := backoff.Retry(func() error {
		var err error
		ch, err = p.dial(ctx)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.redials), ctx))
	if err != nil {
		<-p.sem
		var terr *TransportError
		if errors.As(err, &terr) {
			return nil, err
		}
		return nil, &TransportError{Method: method, Err: err}
	}
	return ch, nil
}

func (p *Pool) put(ch *Channel) {
	p.mu.Lock()
	if p.closed || ch.Broken() {
		ch.Close()
	} else {
		p.idle = append(p.idle, ch)
	}
	p.mu.Unlock()
	<-p.sem
}

// Call performs the call on a free channel.
func (p *Pool) Call(ctx context.Context, method string, in wire.Marshaler, out wire.Unmarshaler) error {
	ch, err := p.get(ctx, method)
	if err != nil {
		return err
	}
	defer p.put(ch)
	return ch.Call(ctx, method, in, out)
}

// CallPayload performs a raw call on a free channel.
func (p *Pool) CallPayload(ctx context.Context, method string, payload []byte) (wire.Payload, error) {
	ch, err := p.get(ctx, method)
	if err != nil {
		return wire.Payload{}, err
	}
	defer p.put(ch)
	return ch.CallPayload(ctx, method, payload)
}

// Close closes every idle channel. Channels in use are closed when their
// call returns.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for _, ch := range p.idle {
		ch.Close()
	}
	p.idle = nil
	return nil
}
