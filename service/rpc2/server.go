package rpc2

import (
	"context"
	"errors"
	"time"

	"github.com/go-delve/rdbg/pkg/target"
	"github.com/go-delve/rdbg/service/api"
)

// Agent is the interface served by RPCServer.
type Agent interface {
	target.Target
	target.EventSource
}

// RPCServer exposes an agent over rpccommon.Server. Every method is
// registered as "RPCServer.<Name>".
type RPCServer struct {
	agent Agent
}

// NewServer returns a server forwarding calls to agent.
func NewServer(agent Agent) *RPCServer {
	return &RPCServer{agent: agent}
}

// SetBreakpoint places a breakpoint. Bind failures are reported in
// out.BindErr, the call itself succeeds.
func (s *RPCServer) SetBreakpoint(arg SetBreakpointIn, out *SetBreakpointOut) error {
	res, err := s.agent.SetBreakpoint(context.Background(), arg.Spec)
	var berr *api.BindError
	if errors.As(err, &berr) {
		out.BindErr = berr
		return nil
	}
	if err != nil {
		return err
	}
	out.Result = res
	return nil
}

func (s *RPCServer) ClearBreakpoint(arg ClearBreakpointIn, out *ClearBreakpointOut) error {
	return s.agent.ClearBreakpoint(context.Background(), arg.ID, arg.Locations)
}

func (s *RPCServer) EnableBreakpoint(arg EnableBreakpointIn, out *EnableBreakpointOut) error {
	return s.agent.EnableBreakpoint(context.Background(), arg.ID, arg.Enabled)
}

func (s *RPCServer) BreakpointLocations(arg BreakpointLocationsIn, out *BreakpointLocationsOut) error {
	locs, err := s.agent.BreakpointLocations(context.Background(), arg.ID)
	if err != nil {
		return err
	}
	out.Locations = locs
	return nil
}

// SetWatchpoint places a watchpoint. Like SetBreakpoint, bind failures are
// reported in out.BindErr.
func (s *RPCServer) SetWatchpoint(arg SetWatchpointIn, out *SetWatchpointOut) error {
	id, err := s.agent.SetWatchpoint(context.Background(), arg.Range, arg.Kind)
	var berr *api.BindError
	if errors.As(err, &berr) {
		out.BindErr = berr
		return nil
	}
	if err != nil {
		return err
	}
	out.ID = id
	return nil
}

func (s *RPCServer) ClearWatchpoint(arg ClearWatchpointIn, out *ClearWatchpointOut) error {
	return s.agent.ClearWatchpoint(context.Background(), arg.ID)
}

func (s *RPCServer) EnableWatchpoint(arg EnableWatchpointIn, out *EnableWatchpointOut) error {
	return s.agent.EnableWatchpoint(context.Background(), arg.ID, arg.Enabled)
}

// WaitForEvent blocks for up to arg.TimeoutMs milliseconds waiting for
// the next event. out.Event is nil if none arrived.
func (s *RPCServer) WaitForEvent(arg WaitForEventIn, out *WaitForEventOut) error {
	ev, err := s.agent.WaitForEvent(context.Background(), time.Duration(arg.TimeoutMs)*time.Millisecond)
	if err != nil {
		return err
	}
	out.Event = ev
	return nil
}
