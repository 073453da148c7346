package breakpoints

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/go-delve/rdbg/pkg/ids"
	"github.com/go-delve/rdbg/pkg/logflags"
	"github.com/go-delve/rdbg/pkg/target"
	"github.com/go-delve/rdbg/service/api"
)

var (
	// ErrRemoved is returned by operations on a breakpoint that was removed.
	ErrRemoved = errors.New("breakpoint has been removed")
	// ErrWatchpointRemoved is returned by operations on a watchpoint whose
	// last reference was dropped.
	ErrWatchpointRemoved = errors.New("watchpoint has been removed")
)

// Registry is the authoritative map from identifier to breakpoint and
// watchpoint state for one debug session.
//
// Map mutations and breakpoint state changes happen under one lock.
// Remote calls are never made with that lock held: results are applied
// afterwards, and only if the breakpoint still exists.
type Registry struct {
	log  *logrus.Entry
	ids  *ids.Allocator
	sink EventSink

	mu      sync.RWMutex
	live    map[*PendingBreakpoint]struct{}
	pending map[int]*PendingBreakpoint
	watches map[int]*Watchpoint
	byKey   map[watchKey]*Watchpoint
	seq     int

	// watchMu serializes the creation and destruction of watchpoints so
	// that equivalent requests are placed and cleared remotely once.
	watchMu sync.Mutex
}

// NewRegistry returns an empty registry drawing identifiers from alloc and
// pushing notifications to sink, which may be nil.
func NewRegistry(alloc *ids.Allocator, sink EventSink) *Registry {
	if sink == nil {
		sink = nopSink{}
	}
	return &Registry{
		log:     logflags.RegistryLogger(),
		ids:     alloc,
		sink:    sink,
		live:    make(map[*PendingBreakpoint]struct{}),
		pending: make(map[int]*PendingBreakpoint),
		watches: make(map[int]*Watchpoint),
		byKey:   make(map[watchKey]*Watchpoint),
	}
}

// CreatePendingBreakpoint returns a new Unbound breakpoint for req, to be
// placed on t. No identifier is assigned until the breakpoint is bound.
func (r *Registry) CreatePendingBreakpoint(req api.LocationSpec, t target.Target) *PendingBreakpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	bp := &PendingBreakpoint{registry: r, target: t, request: req, seq: r.seq}
	r.live[bp] = struct{}{}
	return bp
}

// Bind asks the target to place bp.
//
// If the target rejects the request with a bind error the breakpoint moves
// to Error, the error is reported and Bind returns nil. If the call itself
// fails the error is returned and the breakpoint stays Unbound. If the
// breakpoint is removed while the call is in flight its result is
// discarded, a placement made in the meantime is cleared, and ErrRemoved
// is returned.
//
// A successful bind supersedes any error reported for the breakpoint
// while the call was in flight.
func (r *Registry) Bind(ctx context.Context, bp *PendingBreakpoint) error {
	r.mu.Lock()
	switch {
	case bp.removed:
		r.mu.Unlock()
		return ErrRemoved
	case bp.binding || bp.state != Unbound:
		r.mu.Unlock()
		return &RegistrationError{Op: "Bind", ID: bp.id, Reason: fmt.Sprintf("breakpoint is %s", bp.state)}
	}
	bp.binding = true
	r.mu.Unlock()

	res, err := bp.target.SetBreakpoint(ctx, bp.request)

	r.mu.Lock()
	bp.binding = false
	if bp.removed {
		r.mu.Unlock()
		r.log.WithField("spec", bp.request.String()).Debug("discarding bind result for removed breakpoint")
		if err == nil {
			if cerr := bp.target.ClearBreakpoint(ctx, res.ID, res.Locations); cerr != nil {
				r.log.WithField("handle", res.ID).Warnf("could not clear orphaned breakpoint: %v", cerr)
			}
		}
		return ErrRemoved
	}

	var bindErr *api.BindError
	if err != nil {
		r.mu.Unlock()
		if errors.As(err, &bindErr) {
			r.ReportBreakpointError(NewBreakpointError(bp, bindErr.Code, bindErr.Msg))
			return nil
		}
		return err
	}

	bp.remoteID = res.ID
	bp.id = r.ids.Allocate()
	bp.locs = res.Locations
	var report *BreakpointError
	if len(res.Locations) == 0 {
		report = NewBreakpointError(bp, api.BindErrNoFunctionLocation, "")
		bp.state = Error
		bp.err = report
	} else {
		bp.state = Bound
		bp.err = nil
	}
	r.pending[bp.id] = bp
	locs := bp.locs
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{"id": bp.id, "handle": res.ID, "locations": len(locs)}).Debug("breakpoint bound")
	if report != nil {
		r.sink.BreakpointError(report)
	} else {
		r.EmitBreakpointBoundEvent(bp, locs)
	}
	return nil
}

// RegisterPendingBreakpoint inserts bp in the identifier map. The
// breakpoint must carry an identifier, which must not be registered to a
// different breakpoint. Registering a breakpoint twice is a no-op.
func (r *Registry) RegisterPendingBreakpoint(bp *PendingBreakpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case bp.registry != r:
		return &RegistrationError{Op: "RegisterPendingBreakpoint", ID: bp.id, Reason: "breakpoint belongs to another registry"}
	case bp.removed:
		return &RegistrationError{Op: "RegisterPendingBreakpoint", ID: bp.id, Reason: "breakpoint has been removed"}
	case bp.id == ids.None || bp.state == Unbound:
		return &RegistrationError{Op: "RegisterPendingBreakpoint", Reason: "breakpoint is not bound"}
	}
	if cur, ok := r.pending[bp.id]; ok {
		if cur != bp {
			return &RegistrationError{Op: "RegisterPendingBreakpoint", ID: bp.id, Reason: "identifier already registered"}
		}
		return nil
	}
	r.pending[bp.id] = bp
	r.live[bp] = struct{}{}
	return nil
}

// GetPendingBreakpointByID returns the registered breakpoint with the
// given identifier.
func (r *Registry) GetPendingBreakpointByID(id int) (*PendingBreakpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bp, ok := r.pending[id]
	return bp, ok
}

// Retired reports whether id belonged to a breakpoint or watchpoint that
// was removed recently.
func (r *Registry) Retired(id int) bool {
	return r.ids.RecentlyRetired(id)
}

// FindByRemoteID returns the breakpoint placed with the given agent
// handle.
func (r *Registry) FindByRemoteID(remoteID int) (*PendingBreakpoint, bool) {
	if remoteID == 0 {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, bp := range r.pending {
		if bp.remoteID == remoteID {
			return bp, true
		}
	}
	return nil, false
}

// ReportBreakpointError records err on its breakpoint, moves the
// breakpoint to Error and notifies the sink. Errors for breakpoints that
// were removed are dropped.
func (r *Registry) ReportBreakpointError(err *BreakpointError) {
	bp := err.Breakpoint
	if bp == nil {
		r.log.Warnf("breakpoint error without a breakpoint: %v", err)
		return
	}
	r.mu.Lock()
	if bp.removed {
		r.mu.Unlock()
		r.log.Debugf("dropping error for removed breakpoint: %v", err)
		return
	}
	bp.state = Error
	bp.err = err
	r.mu.Unlock()
	r.log.WithField("spec", bp.request.String()).Debugf("breakpoint error: %v", err)
	r.sink.BreakpointError(err)
}

// RemovePendingBreakpoint removes bp from the registry, clearing it on the
// target first if the agent placed it. Removing a removed breakpoint is a
// no-op. If clearing fails the error is returned and the breakpoint is
// left as it was.
//
// A breakpoint whose bind is still in flight is removed immediately; the
// bind result is discarded when it arrives.
func (r *Registry) RemovePendingBreakpoint(ctx context.Context, bp *PendingBreakpoint) error {
	r.mu.Lock()
	if bp.removed || bp.removing {
		r.mu.Unlock()
		return nil
	}
	if bp.binding || bp.remoteID == 0 {
		r.dropBreakpoint(bp)
		r.mu.Unlock()
		r.retire(bp)
		return nil
	}
	bp.removing = true
	remoteID := bp.remoteID
	locs := bp.locs
	r.mu.Unlock()

	err := bp.target.ClearBreakpoint(ctx, remoteID, locs)

	r.mu.Lock()
	bp.removing = false
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("could not clear %v: %w", bp, err)
	}
	r.dropBreakpoint(bp)
	r.mu.Unlock()
	r.retire(bp)
	return nil
}

// EnableBreakpoint arms or disarms bp on the target and records the new
// state once the target accepted it. Only breakpoints the agent placed
// can be toggled; a breakpoint removed before or during the call yields
// ErrRemoved. Setting the current state again is a no-op.
func (r *Registry) EnableBreakpoint(ctx context.Context, bp *PendingBreakpoint, enabled bool) error {
	r.mu.Lock()
	switch {
	case bp.removed || bp.removing:
		r.mu.Unlock()
		return ErrRemoved
	case bp.binding || bp.remoteID == 0:
		r.mu.Unlock()
		return &RegistrationError{Op: "EnableBreakpoint", ID: bp.id, Reason: "breakpoint is not placed"}
	case bp.disabled == !enabled:
		r.mu.Unlock()
		return nil
	}
	remoteID := bp.remoteID
	r.mu.Unlock()

	if err := bp.target.EnableBreakpoint(ctx, remoteID, enabled); err != nil {
		return fmt.Errorf("could not toggle %v: %w", bp, err)
	}

	r.mu.Lock()
	if bp.removed {
		r.mu.Unlock()
		return ErrRemoved
	}
	bp.disabled = !enabled
	r.mu.Unlock()
	r.log.WithFields(logrus.Fields{"id": bp.ID(), "enabled": enabled}).Debug("breakpoint toggled")
	return nil
}

// dropBreakpoint must be called with r.mu held.
func (r *Registry) dropBreakpoint(bp *PendingBreakpoint) {
	bp.removed = true
	delete(r.live, bp)
	if bp.id != ids.None && r.pending[bp.id] == bp {
		delete(r.pending, bp.id)
	}
}

func (r *Registry) retire(bp *PendingBreakpoint) {
	if id := bp.ID(); id != ids.None {
		r.ids.Retire(id)
	}
	r.log.WithField("spec", bp.request.String()).Debug("breakpoint removed")
	r.sink.BreakpointRemoved(bp)
}

// UpdateLocations queries the target for the current locations of bp,
// typically after a module was loaded, and notifies the sink of the
// locations that were not bound before. A breakpoint left with no
// locations moves to Error; one that gains locations moves to Bound.
func (r *Registry) UpdateLocations(ctx context.Context, bp *PendingBreakpoint) error {
	r.mu.RLock()
	remoteID := bp.remoteID
	skip := bp.removed || bp.removing || remoteID == 0
	r.mu.RUnlock()
	if skip {
		return nil
	}

	locs, err := bp.target.BreakpointLocations(ctx, remoteID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if bp.removed || bp.remoteID != remoteID {
		r.mu.Unlock()
		return nil
	}
	known := make(map[int]bool, len(bp.locs))
	for _, l := range bp.locs {
		known[l.ID] = true
	}
	var added []api.Location
	for _, l := range locs {
		if !known[l.ID] {
			added = append(added, l)
		}
	}
	bp.locs = locs
	var report *BreakpointError
	if len(locs) == 0 {
		if bp.state != Error {
			report = NewBreakpointError(bp, api.BindErrNoFunctionLocation, "")
			bp.err = report
		}
		bp.state = Error
	} else {
		bp.state = Bound
		bp.err = nil
	}
	r.mu.Unlock()

	if report != nil {
		r.sink.BreakpointError(report)
	}
	if len(added) > 0 {
		r.EmitBreakpointBoundEvent(bp, added)
	}
	return nil
}

// EmitBreakpointBoundEvent notifies the sink that newLocations were bound
// for bp. It does not change the registry.
func (r *Registry) EmitBreakpointBoundEvent(bp *PendingBreakpoint, newLocations []api.Location) {
	locs := make([]api.Location, len(newLocations))
	copy(locs, newLocations)
	r.sink.BreakpointBound(bp, locs)
}

// GetNumPendingBreakpoints returns the number of breakpoints tracked by
// the registry, in any state.
func (r *Registry) GetNumPendingBreakpoints() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}

// GetNumBoundBreakpoints returns the number of locations bound by
// breakpoints in the Bound state.
func (r *Registry) GetNumBoundBreakpoints() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, bp := range r.pending {
		if bp.state == Bound {
			n += len(bp.locs)
		}
	}
	return n
}

// PendingBreakpoints returns every breakpoint tracked by the registry in
// creation order.
func (r *Registry) PendingBreakpoints() []*PendingBreakpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bps := make([]*PendingBreakpoint, 0, len(r.live))
	for bp := range r.live {
		bps = append(bps, bp)
	}
	sort.Slice(bps, func(i, j int) bool { return bps[i].seq < bps[j].seq })
	return bps
}

// Watchpoints returns the registered watchpoints sorted by identifier.
func (r *Registry) Watchpoints() []*Watchpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ws := make([]*Watchpoint, 0, len(r.watches))
	for _, w := range r.watches {
		ws = append(ws, w)
	}
	sort.Slice(ws, func(i, j int) bool { return ws[i].id < ws[j].id })
	return ws
}

// Clear removes every breakpoint and watchpoint, clearing them on the
// target on a best effort basis. The registry is empty afterwards even if
// some remote calls failed; their errors are returned joined.
func (r *Registry) Clear(ctx context.Context) error {
	var errs []error
	for _, bp := range r.PendingBreakpoints() {
		if err := r.RemovePendingBreakpoint(ctx, bp); err != nil {
			errs = append(errs, err)
			r.mu.Lock()
			r.dropBreakpoint(bp)
			r.mu.Unlock()
			r.retire(bp)
		}
	}

	r.watchMu.Lock()
	defer r.watchMu.Unlock()
	for _, w := range r.Watchpoints() {
		if w.remoteID != 0 && w.target != nil {
			if err := w.target.ClearWatchpoint(ctx, w.remoteID); err != nil {
				errs = append(errs, fmt.Errorf("could not clear %v: %w", w, err))
			}
		}
		r.mu.Lock()
		r.dropWatchpoint(w)
		r.mu.Unlock()
		r.ids.Retire(w.id)
	}
	return errors.Join(errs...)
}
