package debugger

import (
	"context"
	"time"

	"github.com/go-delve/rdbg/pkg/breakpoints"
	"github.com/go-delve/rdbg/service/api"
)

func (d *Debugger) eventLoop(ctx context.Context) {
	defer close(d.done)
	for {
		wctx, cancel := context.WithTimeout(ctx, d.config.EventPoll+d.config.RPCTimeout)
		ev, err := d.events.WaitForEvent(wctx, d.config.EventPoll)
		cancel()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			d.log.Debugf("waiting for events: %v", err)
			select {
			case <-time.After(d.config.EventPoll):
			case <-ctx.Done():
				return
			}
			continue
		}
		if ev != nil {
			d.handleEvent(ev)
		}
	}
}

func (d *Debugger) handleEvent(ev *api.TargetEvent) {
	d.log.WithField("kind", ev.Kind.String()).Debug("agent event")
	switch ev.Kind {
	case api.ModuleLoaded:
		if err := d.RefreshBreakpoints(); err != nil {
			d.log.Warnf("updating breakpoints after loading %s: %v", ev.Module, err)
		}
	case api.BreakpointFailed:
		bp, ok := d.registry.FindByRemoteID(ev.BreakpointID)
		if !ok {
			d.log.Debugf("failure reported for unknown breakpoint handle %d", ev.BreakpointID)
			return
		}
		d.registry.ReportBreakpointError(breakpoints.NewBreakpointError(bp, api.BindErrUnknown, ev.Msg))
	default:
		d.log.Warnf("unknown event kind %v", ev.Kind)
	}
}
