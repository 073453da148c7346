package breakpoints

import (
	"context"
	"fmt"

	"go.uber.org/atomic"

	"github.com/go-delve/rdbg/pkg/target"
	"github.com/go-delve/rdbg/service/api"
)

// Watchpoint observes accesses to a memory range. Equivalent watchpoints,
// same range and access kind, share one registry entry and one remote
// placement; the entry counts its references.
type Watchpoint struct {
	Range api.AddrRange
	Kind  api.AccessKind

	target target.Target

	// id and remoteID are set before the watchpoint is published in the
	// registry and never change afterwards.
	id       int
	remoteID int
	// refs is guarded by the registry lock.
	refs     int
	disabled atomic.Bool
}

// NewWatchpoint returns an unregistered watchpoint. A watchpoint that was
// not placed through Registry.Watch has no remote side and is only
// tracked locally.
func NewWatchpoint(t target.Target, rng api.AddrRange, kind api.AccessKind) *Watchpoint {
	return &Watchpoint{Range: rng, Kind: kind, target: t}
}

// ID returns the identifier assigned on registration.
func (w *Watchpoint) ID() int {
	return w.id
}

// RemoteID returns the handle assigned by the agent, 0 if the watchpoint
// was never placed remotely.
func (w *Watchpoint) RemoteID() int {
	return w.remoteID
}

// Enabled reports whether the watchpoint is armed. The state is shared by
// every reference to the watchpoint.
func (w *Watchpoint) Enabled() bool {
	return !w.disabled.Load()
}

func (w *Watchpoint) String() string {
	if w.disabled.Load() {
		return fmt.Sprintf("watchpoint %d on %s (%s, disabled)", w.id, w.Range, w.Kind)
	}
	return fmt.Sprintf("watchpoint %d on %s (%s)", w.id, w.Range, w.Kind)
}

type watchKey struct {
	rng  api.AddrRange
	kind api.AccessKind
}

func (w *Watchpoint) key() watchKey {
	return watchKey{w.Range, w.Kind}
}

// RegisterWatchpoint registers w. If an equivalent watchpoint is already
// registered its reference count is incremented and the registered
// instance is returned, otherwise w is inserted with a count of 1 and
// returned.
func (r *Registry) RegisterWatchpoint(w *Watchpoint) *Watchpoint {
	r.watchMu.Lock()
	defer r.watchMu.Unlock()
	return r.registerWatchpoint(w)
}

func (r *Registry) registerWatchpoint(w *Watchpoint) *Watchpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byKey[w.key()]; ok {
		cur.refs++
		r.log.WithField("id", cur.id).WithField("refs", cur.refs).Debug("watchpoint shared")
		return cur
	}
	w.id = r.ids.Allocate()
	w.refs = 1
	r.watches[w.id] = w
	r.byKey[w.key()] = w
	r.log.WithField("id", w.id).WithField("range", w.Range.String()).Debug("watchpoint registered")
	return w
}

// Watch returns the watchpoint observing rng for kind accesses. The
// watchpoint is placed on the target only if no equivalent watchpoint is
// registered; otherwise the existing one gains a reference. Concurrent
// calls for the same range place it exactly once.
//
// Failures to place the watchpoint, including *api.BindError, are returned
// and leave the registry unchanged.
func (r *Registry) Watch(ctx context.Context, t target.Target, rng api.AddrRange, kind api.AccessKind) (*Watchpoint, error) {
	r.watchMu.Lock()
	defer r.watchMu.Unlock()

	key := watchKey{rng, kind}
	r.mu.Lock()
	if cur, ok := r.byKey[key]; ok {
		cur.refs++
		r.mu.Unlock()
		return cur, nil
	}
	r.mu.Unlock()

	remoteID, err := t.SetWatchpoint(ctx, rng, kind)
	if err != nil {
		return nil, err
	}
	w := NewWatchpoint(t, rng, kind)
	w.remoteID = remoteID
	w = r.registerWatchpoint(w)
	r.sink.WatchpointBound(w)
	return w, nil
}

// UnregisterWatchpoint drops one reference to the watchpoint equivalent to
// w. When the last reference is dropped the watchpoint is cleared on the
// target and removed from the registry; if clearing fails the error is
// returned and the watchpoint keeps its last reference.
//
// Unregistering a watchpoint that is not registered is a no-op.
func (r *Registry) UnregisterWatchpoint(ctx context.Context, w *Watchpoint) error {
	r.watchMu.Lock()
	defer r.watchMu.Unlock()

	r.mu.Lock()
	cur, ok := r.byKey[w.key()]
	if !ok {
		r.mu.Unlock()
		r.log.WithField("range", w.Range.String()).WithField("kind", w.Kind.String()).Warn("unregistering unknown watchpoint")
		return nil
	}
	if cur.refs > 1 {
		cur.refs--
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	if cur.remoteID != 0 && cur.target != nil {
		if err := cur.target.ClearWatchpoint(ctx, cur.remoteID); err != nil {
			return fmt.Errorf("could not clear %v: %w", cur, err)
		}
	}

	r.mu.Lock()
	r.dropWatchpoint(cur)
	r.mu.Unlock()
	r.ids.Retire(cur.id)
	return nil
}

// EnableWatchpoint arms or disarms w on the target. The change applies to
// every holder of a reference to w. A watchpoint that is no longer
// registered yields ErrWatchpointRemoved.
func (r *Registry) EnableWatchpoint(ctx context.Context, w *Watchpoint, enabled bool) error {
	r.watchMu.Lock()
	defer r.watchMu.Unlock()

	r.mu.RLock()
	cur, ok := r.watches[w.id]
	r.mu.RUnlock()
	if !ok || cur != w {
		return ErrWatchpointRemoved
	}
	if w.Enabled() == enabled {
		return nil
	}
	if w.remoteID != 0 && w.target != nil {
		if err := w.target.EnableWatchpoint(ctx, w.remoteID, enabled); err != nil {
			return fmt.Errorf("could not toggle %v: %w", w, err)
		}
	}
	w.disabled.Store(!enabled)
	r.log.WithField("id", w.id).WithField("enabled", enabled).Debug("watchpoint toggled")
	return nil
}

// dropWatchpoint must be called with r.mu held.
func (r *Registry) dropWatchpoint(w *Watchpoint) {
	w.refs = 0
	delete(r.watches, w.id)
	delete(r.byKey, w.key())
}

// GetWatchpointRefCount returns the reference count of the watchpoint
// equivalent to w, 0 if none is registered.
func (r *Registry) GetWatchpointRefCount(w *Watchpoint) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cur, ok := r.byKey[w.key()]; ok {
		return cur.refs
	}
	return 0
}

// GetWatchpointByID returns the watchpoint with the given identifier.
func (r *Registry) GetWatchpointByID(id int) (*Watchpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.watches[id]
	return w, ok
}
