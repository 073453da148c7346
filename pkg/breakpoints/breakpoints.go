// Package breakpoints implements the session scoped registry of pending
// breakpoints and shared watchpoints.
//
// The registry owns every entry. Other components refer to breakpoints and
// watchpoints by identifier and resolve them through the registry before
// use; an identifier that no longer resolves belongs to an entity that was
// removed.
package breakpoints

import (
	"fmt"

	"github.com/go-delve/rdbg/pkg/target"
	"github.com/go-delve/rdbg/service/api"
)

// State is the binding state of a pending breakpoint.
type State uint8

const (
	// Unbound breakpoints have no remote placement and no identifier.
	Unbound State = iota
	// Bound breakpoints were placed by the agent at one or more locations.
	Bound
	// Error breakpoints failed to bind, or stopped working after binding.
	Error
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Bound:
		return "bound"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// PendingBreakpoint is a breakpoint request tracked by the registry,
// whether or not it was successfully bound.
//
// All mutable fields are guarded by the owning registry's lock; use the
// accessor methods to read them.
type PendingBreakpoint struct {
	registry *Registry
	target   target.Target
	request  api.LocationSpec
	seq      int

	id       int
	remoteID int
	state    State
	locs     []api.Location
	err      *BreakpointError
	disabled bool

	binding  bool
	removing bool
	removed  bool
}

// Request returns the location spec the breakpoint was created for.
func (bp *PendingBreakpoint) Request() api.LocationSpec {
	return bp.request
}

// ID returns the identifier of the breakpoint, 0 until it is bound.
func (bp *PendingBreakpoint) ID() int {
	bp.registry.mu.RLock()
	defer bp.registry.mu.RUnlock()
	return bp.id
}

// RemoteID returns the handle assigned by the agent, 0 until the agent
// accepted the breakpoint.
func (bp *PendingBreakpoint) RemoteID() int {
	bp.registry.mu.RLock()
	defer bp.registry.mu.RUnlock()
	return bp.remoteID
}

// State returns the binding state.
func (bp *PendingBreakpoint) State() State {
	bp.registry.mu.RLock()
	defer bp.registry.mu.RUnlock()
	return bp.state
}

// Locations returns a copy of the bound locations.
func (bp *PendingBreakpoint) Locations() []api.Location {
	bp.registry.mu.RLock()
	defer bp.registry.mu.RUnlock()
	r := make([]api.Location, len(bp.locs))
	copy(r, bp.locs)
	return r
}

// NumLocations returns the number of bound locations.
func (bp *PendingBreakpoint) NumLocations() int {
	bp.registry.mu.RLock()
	defer bp.registry.mu.RUnlock()
	return len(bp.locs)
}

// Err returns the last error recorded on the breakpoint, or nil.
func (bp *PendingBreakpoint) Err() *BreakpointError {
	bp.registry.mu.RLock()
	defer bp.registry.mu.RUnlock()
	return bp.err
}

// Enabled reports whether the breakpoint is armed. Breakpoints are
// created enabled.
func (bp *PendingBreakpoint) Enabled() bool {
	bp.registry.mu.RLock()
	defer bp.registry.mu.RUnlock()
	return !bp.disabled
}

// Removed reports whether the breakpoint was removed from the registry.
func (bp *PendingBreakpoint) Removed() bool {
	bp.registry.mu.RLock()
	defer bp.registry.mu.RUnlock()
	return bp.removed
}

func (bp *PendingBreakpoint) String() string {
	bp.registry.mu.RLock()
	defer bp.registry.mu.RUnlock()
	state := bp.state.String()
	if bp.disabled {
		state += ", disabled"
	}
	if bp.id == 0 {
		return fmt.Sprintf("breakpoint at %s (%s)", bp.request, state)
	}
	return fmt.Sprintf("breakpoint %d at %s (%s)", bp.id, bp.request, state)
}

// BreakpointError describes why a breakpoint failed to bind. It is
// immutable once created.
type BreakpointError struct {
	Breakpoint *PendingBreakpoint
	Code       api.BindErrorCode
	Reason     string
}

// NewBreakpointError returns an error for bp. An empty reason is replaced
// by the default message of code.
func NewBreakpointError(bp *PendingBreakpoint, code api.BindErrorCode, reason string) *BreakpointError {
	if reason == "" {
		reason = code.Message()
	}
	return &BreakpointError{Breakpoint: bp, Code: code, Reason: reason}
}

func (e *BreakpointError) Error() string {
	return e.Reason
}

// RegistrationError is returned when a caller violates a registry
// invariant, for example by registering a breakpoint that has no
// identifier. The registry is left unchanged.
type RegistrationError struct {
	Op     string
	ID     int
	Reason string
}

func (e *RegistrationError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("%s: breakpoint %d: %s", e.Op, e.ID, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// EventSink receives the notifications the registry pushes to the user
// interface. Methods are never called with the registry locked and may
// call back into the registry.
type EventSink interface {
	// BreakpointBound is called when new locations were bound.
	BreakpointBound(bp *PendingBreakpoint, newLocations []api.Location)
	BreakpointError(err *BreakpointError)
	BreakpointRemoved(bp *PendingBreakpoint)
	WatchpointBound(w *Watchpoint)
}

// MultiSink forwards every event to each of its sinks in order.
type MultiSink []EventSink

func (m MultiSink) BreakpointBound(bp *PendingBreakpoint, newLocations []api.Location) {
	for _, s := range m {
		s.BreakpointBound(bp, newLocations)
	}
}

func (m MultiSink) BreakpointError(err *BreakpointError) {
	for _, s := range m {
		s.BreakpointError(err)
	}
}

func (m MultiSink) BreakpointRemoved(bp *PendingBreakpoint) {
	for _, s := range m {
		s.BreakpointRemoved(bp)
	}
}

func (m MultiSink) WatchpointBound(w *Watchpoint) {
	for _, s := range m {
		s.WatchpointBound(w)
	}
}

type nopSink struct{}

func (nopSink) BreakpointBound(*PendingBreakpoint, []api.Location) {}
func (nopSink) BreakpointError(*BreakpointError)                   {}
func (nopSink) BreakpointRemoved(*PendingBreakpoint)               {}
func (nopSink) WatchpointBound(*Watchpoint)                        {}
