package target

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/go-delve/rdbg/service/api"
)

// WithLogging returns a Target that logs every call to t with its
// duration.
func WithLogging(t Target, log *logrus.Entry) Target {
	return &loggingTarget{t: t, log: log}
}

type loggingTarget struct {
	t   Target
	log *logrus.Entry
}

func (l *loggingTarget) done(op string, start time.Time, err error, fields logrus.Fields) {
	entry := l.log.WithFields(fields).WithField("op", op).WithField("elapsed", time.Since(start))
	var bindErr *api.BindError
	switch {
	case err == nil:
		entry.Debug("call completed")
	case errors.As(err, &bindErr):
		entry.WithField("code", bindErr.Code).Debug(bindErr.Error())
	default:
		entry.WithError(err).Warn("call failed")
	}
}

func (l *loggingTarget) SetBreakpoint(ctx context.Context, spec api.LocationSpec) (api.BindResult, error) {
	start := time.Now()
	res, err := l.t.SetBreakpoint(ctx, spec)
	l.done("SetBreakpoint", start, err, logrus.Fields{"spec": spec.String(), "handle": res.ID, "locations": len(res.Locations)})
	return res, err
}

func (l *loggingTarget) ClearBreakpoint(ctx context.Context, remoteID int, locations []api.Location) error {
	start := time.Now()
	err := l.t.ClearBreakpoint(ctx, remoteID, locations)
	l.done("ClearBreakpoint", start, err, logrus.Fields{"handle": remoteID, "locations": len(locations)})
	return err
}

func (l *loggingTarget) EnableBreakpoint(ctx context.Context, remoteID int, enabled bool) error {
	start := time.Now()
	err := l.t.EnableBreakpoint(ctx, remoteID, enabled)
	l.done("EnableBreakpoint", start, err, logrus.Fields{"handle": remoteID, "enabled": enabled})
	return err
}

func (l *loggingTarget) BreakpointLocations(ctx context.Context, remoteID int) ([]api.Location, error) {
	start := time.Now()
	locs, err := l.t.BreakpointLocations(ctx, remoteID)
	l.done("BreakpointLocations", start, err, logrus.Fields{"handle": remoteID, "locations": len(locs)})
	return locs, err
}

func (l *loggingTarget) SetWatchpoint(ctx context.Context, rng api.AddrRange, kind api.AccessKind) (int, error) {
	start := time.Now()
	id, err := l.t.SetWatchpoint(ctx, rng, kind)
	l.done("SetWatchpoint", start, err, logrus.Fields{"range": rng.String(), "kind": kind.String(), "handle": id})
	return id, err
}

func (l *loggingTarget) ClearWatchpoint(ctx context.Context, watchID int) error {
	start := time.Now()
	err := l.t.ClearWatchpoint(ctx, watchID)
	l.done("ClearWatchpoint", start, err, logrus.Fields{"handle": watchID})
	return err
}

func (l *loggingTarget) EnableWatchpoint(ctx context.Context, watchID int, enabled bool) error {
	start := time.Now()
	err := l.t.EnableWatchpoint(ctx, watchID, enabled)
	l.done("EnableWatchpoint", start, err, logrus.Fields{"handle": watchID, "enabled": enabled})
	return err
}

// ErrorRecorder is a Target that records the failures of the calls it
// forwards. Bind errors are expected outcomes and are not recorded.
type ErrorRecorder struct {
	t Target

	mu       sync.Mutex
	failures map[string]int
	last     map[string]error
}

// NewErrorRecorder returns an ErrorRecorder forwarding to t.
func NewErrorRecorder(t Target) *ErrorRecorder {
	return &ErrorRecorder{t: t, failures: make(map[string]int), last: make(map[string]error)}
}

func (r *ErrorRecorder) record(op string, err error) {
	if err == nil {
		return
	}
	var bindErr *api.BindError
	if errors.As(err, &bindErr) {
		return
	}
	r.mu.Lock()
	r.failures[op]++
	r.last[op] = err
	r.mu.Unlock()
}

// Failures returns how many calls to op failed.
func (r *ErrorRecorder) Failures(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures[op]
}

// LastError returns the most recent failure of op.
func (r *ErrorRecorder) LastError(op string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last[op]
}

// Summary returns the number of failures per operation.
func (r *ErrorRecorder) Summary() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := make(map[string]int, len(r.failures))
	for op, n := range r.failures {
		m[op] = n
	}
	return m
}

func (r *ErrorRecorder) SetBreakpoint(ctx context.Context, spec api.LocationSpec) (api.BindResult, error) {
	res, err := r.t.SetBreakpoint(ctx, spec)
	r.record("SetBreakpoint", err)
	return res, err
}

func (r *ErrorRecorder) ClearBreakpoint(ctx context.Context, remoteID int, locations []api.Location) error {
	err := r.t.ClearBreakpoint(ctx, remoteID, locations)
	r.record("ClearBreakpoint", err)
	return err
}

func (r *ErrorRecorder) EnableBreakpoint(ctx context.Context, remoteID int, enabled bool) error {
	err := r.t.EnableBreakpoint(ctx, remoteID, enabled)
	r.record("EnableBreakpoint", err)
	return err
}

func (r *ErrorRecorder) BreakpointLocations(ctx context.Context, remoteID int) ([]api.Location, error) {
	locs, err := r.t.BreakpointLocations(ctx, remoteID)
	r.record("BreakpointLocations", err)
	return locs, err
}

func (r *ErrorRecorder) SetWatchpoint(ctx context.Context, rng api.AddrRange, kind api.AccessKind) (int, error) {
	id, err := r.t.SetWatchpoint(ctx, rng, kind)
	r.record("SetWatchpoint", err)
	return id, err
}

func (r *ErrorRecorder) ClearWatchpoint(ctx context.Context, watchID int) error {
	err := r.t.ClearWatchpoint(ctx, watchID)
	r.record("ClearWatchpoint", err)
	return err
}

func (r *ErrorRecorder) EnableWatchpoint(ctx context.Context, watchID int, enabled bool) error {
	err := r.t.EnableWatchpoint(ctx, watchID, enabled)
	r.record("EnableWatchpoint", err)
	return err
}

// temporary is implemented by errors after which the same call may
// succeed if repeated, like a dropped connection.
type temporary interface {
	Temporary() bool
}

// IsTemporary reports whether err, or an error it wraps, is temporary.
func IsTemporary(err error) bool {
	var t temporary
	return errors.As(err, &t) && t.Temporary()
}

// WithRetry returns a Target that repeats idempotent calls failing with a
// temporary error up to retries more times, waiting with exponential
// backoff starting at interval. Calls that place breakpoints or
// watchpoints are never repeated.
func WithRetry(t Target, retries int, interval time.Duration) Target {
	if retries <= 0 {
		return t
	}
	return &retryTarget{t: t, retries: uint64(retries), interval: interval}
}

type retryTarget struct {
	t        Target
	retries  uint64
	interval time.Duration
}

func (r *retryTarget) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	if r.interval > 0 {
		b.InitialInterval = r.interval
	}
	b.MaxElapsedTime = 0

	var lastAttemptErr error
	err := backoff.RetryNotify(func() error {
		err := op()
		if err != nil && !IsTemporary(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, r.retries), ctx), func(err error, _ time.Duration) {
		lastAttemptErr = err
	})
	if err != nil && lastAttemptErr != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return errors.Join(lastAttemptErr, err)
	}
	return err
}

func (r *retryTarget) SetBreakpoint(ctx context.Context, spec api.LocationSpec) (api.BindResult, error) {
	return r.t.SetBreakpoint(ctx, spec)
}

func (r *retryTarget) ClearBreakpoint(ctx context.Context, remoteID int, locations []api.Location) error {
	return r.retry(ctx, func() error {
		return r.t.ClearBreakpoint(ctx, remoteID, locations)
	})
}

func (r *retryTarget) EnableBreakpoint(ctx context.Context, remoteID int, enabled bool) error {
	return r.retry(ctx, func() error {
		return r.t.EnableBreakpoint(ctx, remoteID, enabled)
	})
}

func (r *retryTarget) BreakpointLocations(ctx context.Context, remoteID int) ([]api.Location, error) {
	var locs []api.Location
	err := r.retry(ctx, func() error {
		var err error
		locs, err = r.t.BreakpointLocations(ctx, remoteID)
		return err
	})
	return locs, err
}

func (r *retryTarget) SetWatchpoint(ctx context.Context, rng api.AddrRange, kind api.AccessKind) (int, error) {
	return r.t.SetWatchpoint(ctx, rng, kind)
}

func (r *retryTarget) ClearWatchpoint(ctx context.Context, watchID int) error {
	return r.retry(ctx, func() error {
		return r.t.ClearWatchpoint(ctx, watchID)
	})
}

func (r *retryTarget) EnableWatchpoint(ctx context.Context, watchID int, enabled bool) error {
	return r.retry(ctx, func() error {
		return r.t.EnableWatchpoint(ctx, watchID, enabled)
	})
}
