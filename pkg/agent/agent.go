// Package agent implements an in-memory remote debug agent. It resolves
// breakpoint requests against a symbol image, enforces the hardware
// watchpoint limits of a real target and queues asynchronous events, like
// module loads, for the front end to poll.
package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-delve/rdbg/pkg/logflags"
	"github.com/go-delve/rdbg/service/api"
)

// MaxWatchpoints is the number of hardware watchpoint slots.
const MaxWatchpoints = 4

// NoBreakpointError is returned when a breakpoint handle is unknown.
type NoBreakpointError struct {
	ID int
}

func (nbp NoBreakpointError) Error() string {
	return fmt.Sprintf("no breakpoint with handle %d", nbp.ID)
}

// NoWatchpointError is returned when a watchpoint handle is unknown.
type NoWatchpointError struct {
	ID int
}

func (nwp NoWatchpointError) Error() string {
	return fmt.Sprintf("no watchpoint with handle %d", nwp.ID)
}

type breakpoint struct {
	spec     api.LocationSpec
	locs     []api.Location
	nextLoc  int
	disabled bool
}

type watchpoint struct {
	rng      api.AddrRange
	kind     api.AccessKind
	disabled bool
}

// Agent is an in-memory implementation of target.Target and
// target.EventSource. It is safe for concurrent use.
type Agent struct {
	log *logrus.Entry

	mu      sync.Mutex
	lines   []LineEntry
	pending map[string][]LineEntry
	bps     map[int]*breakpoint
	nextBp  int
	watches map[int]watchpoint
	nextWp  int
	events  []api.TargetEvent
	notify  chan struct{}
	latency time.Duration
}

// New returns an agent serving img.
func New(img *Image) *Agent {
	a := &Agent{
		log:     logflags.AgentLogger(),
		pending: make(map[string][]LineEntry),
		bps:     make(map[int]*breakpoint),
		watches: make(map[int]watchpoint),
		notify:  make(chan struct{}),
	}
	if img != nil {
		a.lines = append(a.lines, img.Lines...)
		for _, m := range img.Modules {
			a.pending[m.Name] = m.Lines
		}
	}
	return a
}

// SetLatency makes every subsequent call wait d before answering.
func (a *Agent) SetLatency(d time.Duration) {
	a.mu.Lock()
	a.latency = d
	a.mu.Unlock()
}

func (a *Agent) wait(ctx context.Context) error {
	a.mu.Lock()
	d := a.latency
	a.mu.Unlock()
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetBreakpoint resolves spec and records a breakpoint. Symbolic requests
// that do not resolve yet are accepted with no locations and are resolved
// again when a module is loaded.
func (a *Agent) SetBreakpoint(ctx context.Context, spec api.LocationSpec) (api.BindResult, error) {
	if err := a.wait(ctx); err != nil {
		return api.BindResult{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	entries, err := a.resolve(spec)
	if err != nil {
		a.log.WithField("spec", spec.String()).Debugf("bind failed: %v", err)
		return api.BindResult{}, err
	}
	a.nextBp++
	bp := &breakpoint{spec: spec}
	bp.update(entries)
	a.bps[a.nextBp] = bp
	a.log.WithFields(logrus.Fields{"handle": a.nextBp, "spec": spec.String(), "locations": len(bp.locs)}).Debug("breakpoint set")
	return api.BindResult{ID: a.nextBp, Locations: bp.locations()}, nil
}

// ClearBreakpoint removes a breakpoint from all its locations. Clearing a
// handle that was already cleared succeeds; a handle that was never
// issued is an error.
func (a *Agent) ClearBreakpoint(ctx context.Context, remoteID int, locations []api.Location) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.bps[remoteID]; !ok {
		if remoteID > 0 && remoteID <= a.nextBp {
			a.log.WithField("handle", remoteID).Debug("breakpoint already cleared")
			return nil
		}
		return NoBreakpointError{ID: remoteID}
	}
	delete(a.bps, remoteID)
	a.log.WithField("handle", remoteID).Debug("breakpoint cleared")
	return nil
}

// EnableBreakpoint arms or disarms every location of a breakpoint. A
// disabled breakpoint keeps its handle and its locations.
func (a *Agent) EnableBreakpoint(ctx context.Context, remoteID int, enabled bool) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	bp, ok := a.bps[remoteID]
	if !ok {
		return NoBreakpointError{ID: remoteID}
	}
	bp.disabled = !enabled
	a.log.WithField("handle", remoteID).WithField("enabled", enabled).Debug("breakpoint toggled")
	return nil
}

// BreakpointLocations returns the current locations of a breakpoint.
func (a *Agent) BreakpointLocations(ctx context.Context, remoteID int) ([]api.Location, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	bp, ok := a.bps[remoteID]
	if !ok {
		return nil, NoBreakpointError{ID: remoteID}
	}
	return bp.locations(), nil
}

// SetWatchpoint places a hardware watchpoint.
func (a *Agent) SetWatchpoint(ctx context.Context, rng api.AddrRange, kind api.AccessKind) (int, error) {
	if err := a.wait(ctx); err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	switch rng.Size {
	case 1, 2, 4, 8:
	default:
		return 0, &api.BindError{Code: api.BindErrInvalidWatchSize}
	}
	if kind&^api.AccessReadWrite != 0 || kind == 0 {
		return 0, &api.BindError{Code: api.BindErrNotSupported, Msg: fmt.Sprintf("invalid access kind %v", kind)}
	}
	if len(a.watches) >= MaxWatchpoints {
		return 0, &api.BindError{Code: api.BindErrNoWatchSlots}
	}
	a.nextWp++
	a.watches[a.nextWp] = watchpoint{rng: rng, kind: kind}
	a.log.WithFields(logrus.Fields{"handle": a.nextWp, "range": rng.String(), "kind": kind.String()}).Debug("watchpoint set")
	return a.nextWp, nil
}

// ClearWatchpoint frees a hardware watchpoint slot. Like ClearBreakpoint
// it succeeds for a handle that was already cleared.
func (a *Agent) ClearWatchpoint(ctx context.Context, watchID int) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.watches[watchID]; !ok {
		if watchID > 0 && watchID <= a.nextWp {
			a.log.WithField("handle", watchID).Debug("watchpoint already cleared")
			return nil
		}
		return NoWatchpointError{ID: watchID}
	}
	delete(a.watches, watchID)
	a.log.WithField("handle", watchID).Debug("watchpoint cleared")
	return nil
}

// EnableWatchpoint arms or disarms a watchpoint. A disabled watchpoint
// still occupies its hardware slot.
func (a *Agent) EnableWatchpoint(ctx context.Context, watchID int, enabled bool) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.watches[watchID]
	if !ok {
		return NoWatchpointError{ID: watchID}
	}
	w.disabled = !enabled
	a.watches[watchID] = w
	a.log.WithField("handle", watchID).WithField("enabled", enabled).Debug("watchpoint toggled")
	return nil
}

// WaitForEvent returns the next queued event, waiting up to timeout for
// one to arrive. It returns nil if no event arrived in time.
func (a *Agent) WaitForEvent(ctx context.Context, timeout time.Duration) (*api.TargetEvent, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		a.mu.Lock()
		if len(a.events) > 0 {
			ev := a.events[0]
			a.events = a.events[1:]
			a.mu.Unlock()
			return &ev, nil
		}
		notify := a.notify
		a.mu.Unlock()

		select {
		case <-notify:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// LoadModule makes the lines of a module available, resolves every
// breakpoint again and queues a ModuleLoaded event.
func (a *Agent) LoadModule(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	lines, ok := a.pending[name]
	if !ok {
		return fmt.Errorf("unknown module %q", name)
	}
	delete(a.pending, name)
	a.lines = append(a.lines, lines...)

	for id, bp := range a.bps {
		entries, err := a.resolve(bp.spec)
		if err != nil {
			continue
		}
		if n := bp.update(entries); n > 0 {
			a.log.WithFields(logrus.Fields{"handle": id, "module": name, "new": n}).Debug("breakpoint resolved")
		}
	}
	a.push(api.TargetEvent{Kind: api.ModuleLoaded, Module: name})
	return nil
}

// FailBreakpoint queues a BreakpointFailed event for a placed breakpoint.
func (a *Agent) FailBreakpoint(remoteID int, msg string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.bps[remoteID]; !ok {
		return NoBreakpointError{ID: remoteID}
	}
	a.push(api.TargetEvent{Kind: api.BreakpointFailed, BreakpointID: remoteID, Msg: msg})
	return nil
}

// NumBreakpoints returns the number of placed breakpoints.
func (a *Agent) NumBreakpoints() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.bps)
}

// BreakpointEnabled reports whether the breakpoint with the given handle
// is placed and armed.
func (a *Agent) BreakpointEnabled(remoteID int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	bp, ok := a.bps[remoteID]
	return ok && !bp.disabled
}

// WatchpointEnabled reports whether the watchpoint with the given handle
// is placed and armed.
func (a *Agent) WatchpointEnabled(watchID int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.watches[watchID]
	return ok && !w.disabled
}

// NumWatchpoints returns the number of occupied watchpoint slots.
func (a *Agent) NumWatchpoints() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.watches)
}

func (a *Agent) push(ev api.TargetEvent) {
	a.events = append(a.events, ev)
	close(a.notify)
	a.notify = make(chan struct{})
}

// resolve returns the line entries spec refers to. Must be called with
// a.mu held.
func (a *Agent) resolve(spec api.LocationSpec) ([]LineEntry, error) {
	switch spec.Kind {
	case api.FileLineLocation:
		var r []LineEntry
		for _, e := range a.lines {
			if e.Line == spec.Line && sameFile(e.File, spec.File) {
				r = append(r, e)
			}
		}
		return r, nil

	case api.FunctionLocation:
		entries := a.functionEntries(spec.Function)
		if spec.Offset == 0 {
			return entries, nil
		}
		if len(entries) == 0 {
			return nil, &api.BindError{Code: api.BindErrNoFunctionFound}
		}
		var r []LineEntry
		for _, start := range entries {
			for _, e := range a.lines {
				if e.Function == spec.Function && e.File == start.File && e.Line == start.Line+spec.Offset {
					r = append(r, e)
				}
			}
		}
		if len(r) == 0 {
			return nil, &api.BindError{Code: api.BindErrPositionNotAvailable}
		}
		return r, nil

	case api.AddressLocation:
		if spec.Addr == 0 {
			return nil, &api.BindError{Code: api.BindErrInvalidAddress}
		}
		for _, e := range a.lines {
			if e.Addr == spec.Addr {
				return []LineEntry{e}, nil
			}
		}
		return []LineEntry{{Addr: spec.Addr}}, nil
	}
	return nil, &api.BindError{Code: api.BindErrNotSupported}
}

// functionEntries returns the first line of every copy of the function
// called name, one per source file.
func (a *Agent) functionEntries(name string) []LineEntry {
	first := make(map[string]LineEntry)
	for _, e := range a.lines {
		if e.Function != name {
			continue
		}
		if cur, ok := first[e.File]; !ok || e.Line < cur.Line || (e.Line == cur.Line && e.Addr < cur.Addr) {
			first[e.File] = e
		}
	}
	r := make([]LineEntry, 0, len(first))
	for _, e := range first {
		r = append(r, e)
	}
	sort.Slice(r, func(i, j int) bool { return r[i].Addr < r[j].Addr })
	return r
}

func sameFile(have, want string) bool {
	return have == want || strings.HasSuffix(have, "/"+want)
}

// update adds a location for every entry not already bound and returns
// how many were added.
func (bp *breakpoint) update(entries []LineEntry) int {
	n := 0
outer:
	for _, e := range entries {
		for _, l := range bp.locs {
			if l.PC == e.Addr {
				continue outer
			}
		}
		bp.nextLoc++
		bp.locs = append(bp.locs, api.Location{ID: bp.nextLoc, PC: e.Addr, File: e.File, Line: e.Line, Function: e.Function})
		n++
	}
	return n
}

func (bp *breakpoint) locations() []api.Location {
	r := make([]api.Location, len(bp.locs))
	copy(r, bp.locs)
	return r
}
