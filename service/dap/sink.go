// Package dap reports breakpoint changes to an IDE as Debug Adapter
// Protocol events.
package dap

import (
	"fmt"
	"io"
	"sync"

	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"

	"github.com/go-delve/rdbg/pkg/breakpoints"
	"github.com/go-delve/rdbg/pkg/logflags"
	"github.com/go-delve/rdbg/service/api"
)

// EventSink is a breakpoints.EventSink writing DAP "breakpoint" and
// "output" events to w. It is safe for concurrent use.
type EventSink struct {
	log *logrus.Entry

	mu    sync.Mutex
	w     io.Writer
	seq   int
	known map[int]bool
}

var _ breakpoints.EventSink = &EventSink{}

// NewEventSink returns a sink writing to w.
func NewEventSink(w io.Writer) *EventSink {
	return &EventSink{log: logflags.DAPLogger(), w: w, known: make(map[int]bool)}
}

func (s *EventSink) BreakpointBound(bp *breakpoints.PendingBreakpoint, newLocations []api.Location) {
	s.sendBreakpoint(bp, func(b *dap.Breakpoint) {
		b.Verified = true
		if len(newLocations) > 0 {
			b.Line = newLocations[0].Line
		}
	})
}

func (s *EventSink) BreakpointError(err *breakpoints.BreakpointError) {
	if err.Breakpoint == nil {
		return
	}
	s.sendBreakpoint(err.Breakpoint, func(b *dap.Breakpoint) {
		b.Verified = false
		b.Message = err.Reason
	})
}

func (s *EventSink) BreakpointRemoved(bp *breakpoints.PendingBreakpoint) {
	id := bp.ID()
	if id == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.known, id)
	s.send(&dap.BreakpointEvent{
		Event: s.newEvent("breakpoint"),
		Body:  dap.BreakpointEventBody{Reason: "removed", Breakpoint: dap.Breakpoint{Id: id}},
	})
}

func (s *EventSink) WatchpointBound(w *breakpoints.Watchpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.send(&dap.OutputEvent{
		Event: s.newEvent("output"),
		Body:  dap.OutputEventBody{Category: "console", Output: fmt.Sprintf("Watchpoint %d set on %s\n", w.ID(), w.Range)},
	})
}

func (s *EventSink) sendBreakpoint(bp *breakpoints.PendingBreakpoint, fill func(*dap.Breakpoint)) {
	id := bp.ID()
	b := dap.Breakpoint{Id: id}
	if req := bp.Request(); req.Kind == api.FileLineLocation {
		b.Line = req.Line
	}
	fill(&b)

	s.mu.Lock()
	defer s.mu.Unlock()
	reason := "changed"
	if id == 0 || !s.known[id] {
		reason = "new"
	}
	if id != 0 {
		s.known[id] = true
	}
	s.send(&dap.BreakpointEvent{
		Event: s.newEvent("breakpoint"),
		Body:  dap.BreakpointEventBody{Reason: reason, Breakpoint: b},
	})
}

// newEvent must be called with s.mu held.
func (s *EventSink) newEvent(event string) dap.Event {
	s.seq++
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Seq: s.seq, Type: "event"},
		Event:           event,
	}
}

// send must be called with s.mu held.
func (s *EventSink) send(msg dap.Message) {
	if err := dap.WriteProtocolMessage(s.w, msg); err != nil {
		s.log.Errorf("unable to send %T: %v", msg, err)
		return
	}
	s.log.Debugf("[-> to client]%#v", msg)
}
