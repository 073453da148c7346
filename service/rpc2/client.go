package rpc2

import (
	"context"
	"time"

	"github.com/go-delve/rdbg/pkg/target"
	"github.com/go-delve/rdbg/pkg/wire"
	"github.com/go-delve/rdbg/service/api"
	"github.com/go-delve/rdbg/service/rpccommon"
)

// RPCClient is a target.Target talking to a remote RPCServer.
type RPCClient struct {
	caller rpccommon.Caller
}

// Ensure the implementation satisfies the interfaces.
var (
	_ target.Target      = &RPCClient{}
	_ target.EventSource = &RPCClient{}
)

// NewClient returns a client issuing calls through caller, usually a
// *rpccommon.Pool.
func NewClient(caller rpccommon.Caller) *RPCClient {
	return &RPCClient{caller: caller}
}

func (c *RPCClient) SetBreakpoint(ctx context.Context, spec api.LocationSpec) (api.BindResult, error) {
	var out SetBreakpointOut
	if err := c.call(ctx, "SetBreakpoint", &SetBreakpointIn{Spec: spec}, &out); err != nil {
		return api.BindResult{}, err
	}
	if out.BindErr != nil {
		return api.BindResult{}, out.BindErr
	}
	return out.Result, nil
}

func (c *RPCClient) ClearBreakpoint(ctx context.Context, remoteID int, locations []api.Location) error {
	return c.call(ctx, "ClearBreakpoint", &ClearBreakpointIn{ID: remoteID, Locations: locations}, &ClearBreakpointOut{})
}

func (c *RPCClient) EnableBreakpoint(ctx context.Context, remoteID int, enabled bool) error {
	return c.call(ctx, "EnableBreakpoint", &EnableBreakpointIn{ID: remoteID, Enabled: enabled}, &EnableBreakpointOut{})
}

func (c *RPCClient) BreakpointLocations(ctx context.Context, remoteID int) ([]api.Location, error) {
	var out BreakpointLocationsOut
	err := c.call(ctx, "BreakpointLocations", &BreakpointLocationsIn{ID: remoteID}, &out)
	return out.Locations, err
}

func (c *RPCClient) SetWatchpoint(ctx context.Context, rng api.AddrRange, kind api.AccessKind) (int, error) {
	var out SetWatchpointOut
	if err := c.call(ctx, "SetWatchpoint", &SetWatchpointIn{Range: rng, Kind: kind}, &out); err != nil {
		return 0, err
	}
	if out.BindErr != nil {
		return 0, out.BindErr
	}
	return out.ID, nil
}

func (c *RPCClient) ClearWatchpoint(ctx context.Context, watchID int) error {
	return c.call(ctx, "ClearWatchpoint", &ClearWatchpointIn{ID: watchID}, &ClearWatchpointOut{})
}

func (c *RPCClient) EnableWatchpoint(ctx context.Context, watchID int, enabled bool) error {
	return c.call(ctx, "EnableWatchpoint", &EnableWatchpointIn{ID: watchID, Enabled: enabled}, &EnableWatchpointOut{})
}

// WaitForEvent asks the agent to wait up to timeout for an event. ctx must
// allow for the full timeout plus the round trip.
func (c *RPCClient) WaitForEvent(ctx context.Context, timeout time.Duration) (*api.TargetEvent, error) {
	var out WaitForEventOut
	err := c.call(ctx, "WaitForEvent", &WaitForEventIn{TimeoutMs: timeout.Milliseconds()}, &out)
	return out.Event, err
}

func (c *RPCClient) call(ctx context.Context, method string, args wire.Marshaler, reply wire.Unmarshaler) error {
	return c.caller.Call(ctx, "RPCServer."+method, args, reply)
}
