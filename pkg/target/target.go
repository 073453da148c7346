// Package target defines the interface through which the breakpoint
// registry places and clears breakpoints and watchpoints on the remote
// process, and decorators adding cross cutting behavior to it.
package target

import (
	"context"
	"time"

	"github.com/go-delve/rdbg/service/api"
)

// Target places breakpoints and watchpoints on the debugged process.
//
// Expected bind failures, like a function that does not exist, are
// returned as *api.BindError. Any other error means the operation could
// not be carried out and its outcome on the remote side is unknown.
type Target interface {
	// SetBreakpoint asks the agent to place a breakpoint. On success the
	// result carries the agent handle and the resolved locations, which may
	// be empty when the location can not be resolved yet.
	SetBreakpoint(ctx context.Context, spec api.LocationSpec) (api.BindResult, error)
	// ClearBreakpoint removes the breakpoint with the given handle from all
	// of its locations. Clearing a handle that was already cleared
	// succeeds.
	ClearBreakpoint(ctx context.Context, remoteID int, locations []api.Location) error
	// EnableBreakpoint arms or disarms a placed breakpoint without
	// clearing it.
	EnableBreakpoint(ctx context.Context, remoteID int, enabled bool) error
	// BreakpointLocations returns the current locations of a placed
	// breakpoint.
	BreakpointLocations(ctx context.Context, remoteID int) ([]api.Location, error)
	// SetWatchpoint places a watchpoint and returns its handle.
	SetWatchpoint(ctx context.Context, rng api.AddrRange, kind api.AccessKind) (int, error)
	// ClearWatchpoint removes a watchpoint. Clearing a handle that was
	// already cleared succeeds.
	ClearWatchpoint(ctx context.Context, watchID int) error
	EnableWatchpoint(ctx context.Context, watchID int, enabled bool) error
}

// EventSource delivers asynchronous notifications from the agent.
type EventSource interface {
	// WaitForEvent waits up to timeout for the next event. It returns a nil
	// event if none arrived in time.
	WaitForEvent(ctx context.Context, timeout time.Duration) (*api.TargetEvent, error)
}
