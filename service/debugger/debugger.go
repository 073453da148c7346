package debugger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/go-delve/rdbg/pkg/breakpoints"
	"github.com/go-delve/rdbg/pkg/ids"
	"github.com/go-delve/rdbg/pkg/locspec"
	"github.com/go-delve/rdbg/pkg/logflags"
	"github.com/go-delve/rdbg/pkg/target"
	"github.com/go-delve/rdbg/service/api"
)

// Debugger service.
//
// Debugger is a session with one remote agent. It owns the breakpoint
// registry, applies the configured timeout to every remote call and keeps
// breakpoints up to date with the events reported by the agent.
type Debugger struct {
	config   *Config
	id       string
	log      *logrus.Entry
	target   target.Target
	recorder *target.ErrorRecorder
	events   target.EventSource
	registry *breakpoints.Registry

	cancel     context.CancelFunc
	done       chan struct{}
	detachOnce sync.Once
	detachErr  error
}

// Config provides the configuration to start a Debugger.
type Config struct {
	// RPCTimeout bounds every call made to the agent.
	RPCTimeout time.Duration
	// CallRetries is the number of times an idempotent call is repeated
	// after a transport failure, RetryInterval the pause between attempts.
	CallRetries   int
	RetryInterval time.Duration
	// EventPoll is how long a single wait for agent events may block.
	EventPoll time.Duration
	// RetiredIDCache is the number of removed identifiers remembered.
	RetiredIDCache int
	// Sink receives breakpoint notifications. May be nil.
	Sink breakpoints.EventSink
}

func (c *Config) defaults() {
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = 5 * time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 100 * time.Millisecond
	}
	if c.EventPoll <= 0 {
		c.EventPoll = time.Second
	}
	if c.RetiredIDCache <= 0 {
		c.RetiredIDCache = 256
	}
}

// New creates a new Debugger placing breakpoints on t. If events is not
// nil a background loop polls it and updates breakpoints when modules are
// loaded or placed breakpoints fail.
func New(config *Config, t target.Target, events target.EventSource) (*Debugger, error) {
	if config == nil {
		config = &Config{}
	}
	config.defaults()

	alloc, err := ids.New(config.RetiredIDCache)
	if err != nil {
		return nil, err
	}
	id := uuid.New().String()
	d := &Debugger{
		config: config,
		id:     id,
		log:    logflags.DebuggerLogger().WithField("session", id[:8]),
		events: events,
		done:   make(chan struct{}),
	}
	tlog := logflags.TargetLogger().WithField("session", id[:8])
	d.recorder = target.NewErrorRecorder(target.WithRetry(target.WithLogging(t, tlog), config.CallRetries, config.RetryInterval))
	d.target = d.recorder
	d.registry = breakpoints.NewRegistry(alloc, config.Sink)

	var ctx context.Context
	ctx, d.cancel = context.WithCancel(context.Background())
	if events != nil {
		go d.eventLoop(ctx)
	} else {
		close(d.done)
	}
	d.log.Info("session started")
	return d, nil
}

// ID returns the unique identifier of the session.
func (d *Debugger) ID() string {
	return d.id
}

// Registry returns the breakpoint registry of the session.
func (d *Debugger) Registry() *breakpoints.Registry {
	return d.registry
}

func (d *Debugger) callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d.config.RPCTimeout)
}

// CreateBreakpoint parses locStr and places a breakpoint there.
//
// A breakpoint the agent could not bind is still returned, in the Error
// state, with a nil error. If the call to the agent failed the breakpoint
// is returned Unbound together with the error; it is bound again by
// RefreshBreakpoints.
func (d *Debugger) CreateBreakpoint(locStr string) (*breakpoints.PendingBreakpoint, error) {
	spec, err := locspec.Parse(locStr)
	if err != nil {
		return nil, err
	}
	return d.CreateBreakpointAt(spec)
}

// CreateBreakpointAt is like CreateBreakpoint for an already parsed
// location.
func (d *Debugger) CreateBreakpointAt(spec api.LocationSpec) (*breakpoints.PendingBreakpoint, error) {
	bp := d.registry.CreatePendingBreakpoint(spec, d.target)
	ctx, cancel := d.callContext()
	defer cancel()
	if err := d.registry.Bind(ctx, bp); err != nil {
		return bp, fmt.Errorf("could not set breakpoint at %s: %w", spec, err)
	}
	return bp, nil
}

// FindBreakpoint returns the breakpoint with the given identifier.
func (d *Debugger) FindBreakpoint(id int) (*breakpoints.PendingBreakpoint, error) {
	bp, ok := d.registry.GetPendingBreakpointByID(id)
	if !ok {
		if d.registry.Retired(id) {
			return nil, fmt.Errorf("breakpoint %d has been cleared", id)
		}
		return nil, fmt.Errorf("no breakpoint with id %d", id)
	}
	return bp, nil
}

// ClearBreakpoint removes the breakpoint with the given identifier.
func (d *Debugger) ClearBreakpoint(id int) (*breakpoints.PendingBreakpoint, error) {
	bp, err := d.FindBreakpoint(id)
	if err != nil {
		return nil, err
	}
	return bp, d.RemoveBreakpoint(bp)
}

// RemoveBreakpoint removes bp, which may not have an identifier yet.
func (d *Debugger) RemoveBreakpoint(bp *breakpoints.PendingBreakpoint) error {
	ctx, cancel := d.callContext()
	defer cancel()
	return d.registry.RemovePendingBreakpoint(ctx, bp)
}

// EnableBreakpoint arms or disarms the breakpoint with the given
// identifier on the agent.
func (d *Debugger) EnableBreakpoint(id int, enabled bool) (*breakpoints.PendingBreakpoint, error) {
	bp, err := d.FindBreakpoint(id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := d.callContext()
	defer cancel()
	return bp, d.registry.EnableBreakpoint(ctx, bp, enabled)
}

// Breakpoints returns every breakpoint of the session in creation order.
func (d *Debugger) Breakpoints() []*breakpoints.PendingBreakpoint {
	return d.registry.PendingBreakpoints()
}

// CreateWatchpoint watches rng for accesses of the given kind. Requests
// equivalent to an existing watchpoint share it.
func (d *Debugger) CreateWatchpoint(rng api.AddrRange, kind api.AccessKind) (*breakpoints.Watchpoint, error) {
	ctx, cancel := d.callContext()
	defer cancel()
	w, err := d.registry.Watch(ctx, d.target, rng, kind)
	if err != nil {
		return nil, fmt.Errorf("could not set watchpoint on %s: %w", rng, err)
	}
	return w, nil
}

// ClearWatchpoint drops one reference to the watchpoint with the given
// identifier. The watchpoint is cleared on the agent when the last
// reference goes away.
func (d *Debugger) ClearWatchpoint(id int) error {
	w, err := d.FindWatchpoint(id)
	if err != nil {
		return err
	}
	ctx, cancel := d.callContext()
	defer cancel()
	return d.registry.UnregisterWatchpoint(ctx, w)
}

// FindWatchpoint returns the watchpoint with the given identifier.
func (d *Debugger) FindWatchpoint(id int) (*breakpoints.Watchpoint, error) {
	w, ok := d.registry.GetWatchpointByID(id)
	if !ok {
		if d.registry.Retired(id) {
			return nil, fmt.Errorf("watchpoint %d has been cleared", id)
		}
		return nil, fmt.Errorf("no watchpoint with id %d", id)
	}
	return w, nil
}

// EnableWatchpoint arms or disarms the watchpoint with the given
// identifier. Every request sharing the watchpoint is affected.
func (d *Debugger) EnableWatchpoint(id int, enabled bool) (*breakpoints.Watchpoint, error) {
	w, err := d.FindWatchpoint(id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := d.callContext()
	defer cancel()
	return w, d.registry.EnableWatchpoint(ctx, w, enabled)
}

// Watchpoints returns the watchpoints of the session.
func (d *Debugger) Watchpoints() []*breakpoints.Watchpoint {
	return d.registry.Watchpoints()
}

// WatchpointRefCount returns the number of requests sharing w.
func (d *Debugger) WatchpointRefCount(w *breakpoints.Watchpoint) int {
	return d.registry.GetWatchpointRefCount(w)
}

// Counts returns the number of breakpoints tracked and the number of
// locations bound.
func (d *Debugger) Counts() (pending, bound int) {
	return d.registry.GetNumPendingBreakpoints(), d.registry.GetNumBoundBreakpoints()
}

// FailedCalls returns the number of failed calls to the agent per
// operation.
func (d *Debugger) FailedCalls() map[string]int {
	return d.recorder.Summary()
}

// RefreshBreakpoints binds every breakpoint that is still Unbound and
// updates the locations of every placed breakpoint.
func (d *Debugger) RefreshBreakpoints() error {
	var errs []error
	for _, bp := range d.registry.PendingBreakpoints() {
		ctx, cancel := d.callContext()
		var err error
		if bp.RemoteID() == 0 {
			if bp.State() == breakpoints.Unbound {
				err = d.registry.Bind(ctx, bp)
			}
		} else {
			err = d.registry.UpdateLocations(ctx, bp)
		}
		cancel()
		var rerr *breakpoints.RegistrationError
		if err != nil && !errors.Is(err, breakpoints.ErrRemoved) && !errors.As(err, &rerr) {
			errs = append(errs, fmt.Errorf("%v: %w", bp, err))
		}
	}
	return errors.Join(errs...)
}

// Detach stops the event loop and clears every breakpoint and watchpoint
// from the agent. Calling Detach more than once returns the first result.
func (d *Debugger) Detach() error {
	d.detachOnce.Do(func() {
		d.cancel()
		<-d.done
		n := len(d.registry.PendingBreakpoints()) + len(d.registry.Watchpoints())
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(n+1)*d.config.RPCTimeout)
		defer cancel()
		d.detachErr = d.registry.Clear(ctx)
		d.log.Info("session detached")
	})
	return d.detachErr
}
