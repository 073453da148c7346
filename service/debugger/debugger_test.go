package debugger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-delve/rdbg/pkg/agent"
	"github.com/go-delve/rdbg/pkg/breakpoints"
	"github.com/go-delve/rdbg/service/api"
	"github.com/go-delve/rdbg/service/rpccommon"
)

const testImage = `
lines:
  - {file: /src/main.go, line: 10, addr: 0x1000, function: main.main}
  - {file: /src/main.go, line: 11, addr: 0x1010, function: main.main}
  - {file: /src/util.go, line: 5, addr: 0x2000, function: main.helper}
  - {file: /src/util.go, line: 5, addr: 0x3000, function: main.caller}
modules:
  - name: libplugin.so
    lines:
      - {file: /src/plugin.go, line: 3, addr: 0x9000, function: plugin.Init}
`

type countingSink struct {
	mu      sync.Mutex
	bound   int
	errs    []*breakpoints.BreakpointError
	removed int
}

func (s *countingSink) BreakpointBound(*breakpoints.PendingBreakpoint, []api.Location) {
	s.mu.Lock()
	s.bound++
	s.mu.Unlock()
}

func (s *countingSink) BreakpointError(err *breakpoints.BreakpointError) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func (s *countingSink) BreakpointRemoved(*breakpoints.PendingBreakpoint) {
	s.mu.Lock()
	s.removed++
	s.mu.Unlock()
}

func (s *countingSink) WatchpointBound(*breakpoints.Watchpoint) {}

func newTestDebugger(t *testing.T) (*Debugger, *agent.Agent, *countingSink) {
	t.Helper()
	img, err := agent.ParseImage([]byte(testImage))
	require.NoError(t, err)
	a := agent.New(img)
	sink := &countingSink{}
	d, err := New(&Config{RPCTimeout: time.Second, CallRetries: 2, EventPoll: 10 * time.Millisecond, Sink: sink}, a, a)
	require.NoError(t, err)
	t.Cleanup(func() { d.Detach() })
	return d, a, sink
}

func TestCreateAndClearBreakpoint(t *testing.T) {
	d, a, sink := newTestDebugger(t)

	bp, err := d.CreateBreakpoint("util.go:5")
	require.NoError(t, err)
	require.Equal(t, breakpoints.Bound, bp.State())
	require.NotZero(t, bp.ID())
	require.Equal(t, 2, bp.NumLocations())

	pending, bound := d.Counts()
	require.Equal(t, 1, pending)
	require.Equal(t, 2, bound)

	found, err := d.FindBreakpoint(bp.ID())
	require.NoError(t, err)
	require.Same(t, bp, found)

	_, err = d.ClearBreakpoint(bp.ID())
	require.NoError(t, err)
	require.Equal(t, 0, a.NumBreakpoints())
	require.Equal(t, 1, sink.removed)

	_, err = d.ClearBreakpoint(bp.ID())
	require.EqualError(t, err, "breakpoint 1 has been cleared")
	_, err = d.FindBreakpoint(42)
	require.EqualError(t, err, "no breakpoint with id 42")
}

func TestCreateBreakpointParseError(t *testing.T) {
	d, _, _ := newTestDebugger(t)
	_, err := d.CreateBreakpoint("main.go:")
	require.Error(t, err)
	pending, _ := d.Counts()
	require.Equal(t, 0, pending)
}

func TestBindFailureIsRecorded(t *testing.T) {
	d, _, sink := newTestDebugger(t)
	bp, err := d.CreateBreakpoint("main.missing+3")
	require.NoError(t, err)
	require.Equal(t, breakpoints.Error, bp.State())
	require.Equal(t, api.BindErrNoFunctionFound, bp.Err().Code)
	require.Len(t, sink.errs, 1)

	// the failed breakpoint has no identifier but can still be removed
	require.NoError(t, d.RemoveBreakpoint(bp))
	pending, _ := d.Counts()
	require.Equal(t, 0, pending)
}

func TestModuleLoadBindsDeferredBreakpoint(t *testing.T) {
	d, a, _ := newTestDebugger(t)

	bp, err := d.CreateBreakpoint("plugin.Init")
	require.NoError(t, err)
	require.Equal(t, breakpoints.Error, bp.State())
	require.Equal(t, api.BindErrNoFunctionLocation, bp.Err().Code)
	require.NotZero(t, bp.RemoteID())

	require.NoError(t, a.LoadModule("libplugin.so"))
	require.Eventually(t, func() bool {
		return bp.State() == breakpoints.Bound
	}, 2*time.Second, 5*time.Millisecond)
	require.Nil(t, bp.Err())
	require.Equal(t, uint64(0x9000), bp.Locations()[0].PC)
}

func TestAgentReportedFailure(t *testing.T) {
	d, a, _ := newTestDebugger(t)

	bp, err := d.CreateBreakpoint("main.go:10")
	require.NoError(t, err)
	require.NoError(t, a.FailBreakpoint(bp.RemoteID(), "module unloaded"))
	require.Eventually(t, func() bool {
		return bp.State() == breakpoints.Error
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, "module unloaded", bp.Err().Reason)
}

func TestWatchpointsAreShared(t *testing.T) {
	d, a, _ := newTestDebugger(t)
	rng := api.AddrRange{Addr: 0x1000, Size: 8}

	w1, err := d.CreateWatchpoint(rng, api.AccessWrite)
	require.NoError(t, err)
	w2, err := d.CreateWatchpoint(rng, api.AccessWrite)
	require.NoError(t, err)
	require.Same(t, w1, w2)
	require.Equal(t, 2, d.WatchpointRefCount(w1))
	require.Equal(t, 1, a.NumWatchpoints())

	require.NoError(t, d.ClearWatchpoint(w1.ID()))
	require.Equal(t, 1, a.NumWatchpoints())
	require.NoError(t, d.ClearWatchpoint(w1.ID()))
	require.Equal(t, 0, a.NumWatchpoints())
	require.Error(t, d.ClearWatchpoint(w1.ID()))

	_, err = d.CreateWatchpoint(api.AddrRange{Addr: 0x1000, Size: 3}, api.AccessWrite)
	var berr *api.BindError
	require.True(t, errors.As(err, &berr), "got %v", err)
}

// flakyTarget fails the first SetBreakpoint with a temporary error.
type flakyTarget struct {
	*agent.Agent
	failed bool
}

type tempErr struct{}

func (tempErr) Error() string   { return "connection reset" }
func (tempErr) Temporary() bool { return true }

func (f *flakyTarget) SetBreakpoint(ctx context.Context, spec api.LocationSpec) (api.BindResult, error) {
	if !f.failed {
		f.failed = true
		return api.BindResult{}, tempErr{}
	}
	return f.Agent.SetBreakpoint(ctx, spec)
}

func TestRefreshBindsUnboundBreakpoints(t *testing.T) {
	img, err := agent.ParseImage([]byte(testImage))
	require.NoError(t, err)
	a := agent.New(img)
	d, err := New(&Config{RPCTimeout: time.Second}, &flakyTarget{Agent: a}, nil)
	require.NoError(t, err)
	defer d.Detach()

	bp, err := d.CreateBreakpoint("main.go:11")
	require.Error(t, err)
	require.Equal(t, breakpoints.Unbound, bp.State())
	require.Equal(t, 1, d.FailedCalls()["SetBreakpoint"])

	require.NoError(t, d.RefreshBreakpoints())
	require.Equal(t, breakpoints.Bound, bp.State())
	require.Equal(t, 1, a.NumBreakpoints())
}

func TestDetachClearsEverything(t *testing.T) {
	d, a, _ := newTestDebugger(t)

	_, err := d.CreateBreakpoint("main.go:10")
	require.NoError(t, err)
	_, err = d.CreateBreakpoint("*0x2000")
	require.NoError(t, err)
	_, err = d.CreateWatchpoint(api.AddrRange{Addr: 0x8000, Size: 4}, api.AccessRead)
	require.NoError(t, err)

	require.NoError(t, d.Detach())
	require.Equal(t, 0, a.NumBreakpoints())
	require.Equal(t, 0, a.NumWatchpoints())
	require.Empty(t, d.Breakpoints())
	require.Empty(t, d.Watchpoints())
	require.NoError(t, d.Detach())
}

func TestToggleBreakpoint(t *testing.T) {
	d, a, _ := newTestDebugger(t)

	bp, err := d.CreateBreakpoint("main.go:10")
	require.NoError(t, err)

	_, err = d.EnableBreakpoint(bp.ID(), false)
	require.NoError(t, err)
	require.False(t, bp.Enabled())
	require.False(t, a.BreakpointEnabled(bp.RemoteID()))
	require.Equal(t, breakpoints.Bound, bp.State())

	_, err = d.EnableBreakpoint(bp.ID(), true)
	require.NoError(t, err)
	require.True(t, a.BreakpointEnabled(bp.RemoteID()))

	_, err = d.ClearBreakpoint(bp.ID())
	require.NoError(t, err)
	_, err = d.EnableBreakpoint(bp.ID(), true)
	require.Error(t, err)
	require.Contains(t, err.Error(), "has been cleared")

	// a stale handle on a removed breakpoint
	require.ErrorIs(t, d.Registry().EnableBreakpoint(context.Background(), bp, true), breakpoints.ErrRemoved)
}

func TestToggleWatchpoint(t *testing.T) {
	d, a, _ := newTestDebugger(t)

	w, err := d.CreateWatchpoint(api.AddrRange{Addr: 0x7000, Size: 4}, api.AccessRead)
	require.NoError(t, err)
	_, err = d.EnableWatchpoint(w.ID(), false)
	require.NoError(t, err)
	require.False(t, w.Enabled())
	require.False(t, a.WatchpointEnabled(w.RemoteID()))
	require.Equal(t, 1, a.NumWatchpoints())

	require.NoError(t, d.ClearWatchpoint(w.ID()))
	_, err = d.EnableWatchpoint(w.ID(), true)
	require.Error(t, err)
}

// lostReplyTarget performs clears on the agent but reports the first one
// of each kind as a transport failure, like a reply lost on the way back.
type lostReplyTarget struct {
	*agent.Agent
	mu              sync.Mutex
	bpReplyLost     bool
	watchReplyLost  bool
	clearBpCalls    int
	clearWatchCalls int
}

func (l *lostReplyTarget) ClearBreakpoint(ctx context.Context, remoteID int, locations []api.Location) error {
	err := l.Agent.ClearBreakpoint(ctx, remoteID, locations)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clearBpCalls++
	if err == nil && !l.bpReplyLost {
		l.bpReplyLost = true
		return &rpccommon.TransportError{Method: "RPCServer.ClearBreakpoint", Err: errors.New("connection reset")}
	}
	return err
}

func (l *lostReplyTarget) ClearWatchpoint(ctx context.Context, watchID int) error {
	err := l.Agent.ClearWatchpoint(ctx, watchID)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clearWatchCalls++
	if err == nil && !l.watchReplyLost {
		l.watchReplyLost = true
		return &rpccommon.TransportError{Method: "RPCServer.ClearWatchpoint", Err: errors.New("connection reset")}
	}
	return err
}

func TestClearWithLostReplyIsRetried(t *testing.T) {
	img, err := agent.ParseImage([]byte(testImage))
	require.NoError(t, err)
	a := agent.New(img)
	lt := &lostReplyTarget{Agent: a}
	d, err := New(&Config{RPCTimeout: time.Second, CallRetries: 3, RetryInterval: time.Millisecond}, lt, nil)
	require.NoError(t, err)
	defer d.Detach()

	bp, err := d.CreateBreakpoint("main.go:10")
	require.NoError(t, err)
	removed, err := d.ClearBreakpoint(bp.ID())
	require.NoError(t, err)
	require.True(t, removed.Removed())
	require.Equal(t, 0, a.NumBreakpoints())
	pending, _ := d.Counts()
	require.Equal(t, 0, pending)
	require.Equal(t, 2, lt.clearBpCalls)

	w, err := d.CreateWatchpoint(api.AddrRange{Addr: 0x8000, Size: 8}, api.AccessWrite)
	require.NoError(t, err)
	require.NoError(t, d.ClearWatchpoint(w.ID()))
	require.Equal(t, 0, a.NumWatchpoints())
	require.Empty(t, d.Watchpoints())
	require.Equal(t, 2, lt.clearWatchCalls)

	require.Empty(t, d.FailedCalls(), "a retried clear that succeeded is not a failure")
}
