// Package scheduler implements the refresh scheduler (spec.md §4.5):
// per-key serialized refresh, and a debounced coalesced refresh of
// every active subscription key triggered by the change watcher.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/steveyegge/bdviewd/internal/metrics"
	"github.com/steveyegge/bdviewd/internal/registry"
	"github.com/steveyegge/bdviewd/internal/viewset"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Spec names a subscription: the full (type, params) pair plus its
// pre-derived key, so the scheduler never needs to re-derive it.
type Spec struct {
	Key     string
	SubType viewset.SubType
	Params  viewset.Params
}

// Fetcher runs one subscription's CLI invocation and returns its
// normalized items. Implemented by the daemon wiring cliexec+viewset
// together; kept as an interface so the scheduler has no direct
// dependency on subprocess execution.
type Fetcher func(ctx context.Context, spec Spec) ([]viewset.Issue, error)

// Scheduler owns per-key serialization (via singleflight) and the
// debounce timer for the coalesced global refresh.
type Scheduler struct {
	reg      *registry.Registry
	fetch    Fetcher
	logger   *slog.Logger
	debounce time.Duration
	metrics  *metrics.Metrics

	sf singleflight.Group

	mu    sync.Mutex
	timer *time.Timer
	specs map[string]Spec // key -> spec, for keys seen via ScheduleListRefresh callers
}

// SetMetrics attaches m so refresh counts and latency are recorded;
// nil is safe and leaves recording disabled.
func (s *Scheduler) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// New returns a Scheduler. debounce is the coalescing window for the
// global refresh (spec.md §4.5: "250 ms (configurable)").
func New(reg *registry.Registry, fetch Fetcher, logger *slog.Logger, debounce time.Duration) *Scheduler {
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	return &Scheduler{
		reg:      reg,
		fetch:    fetch,
		logger:   logger,
		debounce: debounce,
		specs:    make(map[string]Spec),
	}
}

// Refresh runs a single-key refresh per spec.md §4.5 steps 2-7: acquire
// the per-key lock (via singleflight, keyed by spec.Key), invoke the
// fetcher, apply the result to the registry, and publish the delta if
// non-empty. A fetch failure is logged and the previous state is
// retained — no delta is published — matching "a CLI failure inside a
// scheduled refresh is logged and the previous state is retained".
//
// The returned error is non-nil only so that the initial refresh on
// subscribe (spec.md §4.5 "Initial refresh on subscribe") can surface a
// tracker-failed reply to the subscribing client; background refreshes
// triggered by the debounce loop ignore the returned error.
func (s *Scheduler) Refresh(ctx context.Context, spec Spec) error {
	s.registerSpec(spec)

	start := time.Now()
	v, err, _ := s.sf.Do(spec.Key, func() (any, error) {
		items, err := s.fetch(ctx, spec)
		if err != nil {
			return nil, err
		}
		delta := s.reg.ApplyItems(spec.Key, items)
		s.reg.PublishDelta(spec.Key, delta)
		return nil, nil
	})
	// Forget immediately so the next refresh of this key is not
	// coalesced against this call's already-delivered result; we only
	// want singleflight's mutual-exclusion property per key, not its
	// duplicate-suppression across distinct calls in time.
	s.sf.Forget(spec.Key)
	_ = v

	if s.metrics != nil {
		s.metrics.RefreshLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
		if err != nil {
			s.metrics.RefreshFailures.Add(ctx, 1)
		} else {
			s.metrics.Refreshes.Add(ctx, 1)
		}
	}

	if err != nil {
		s.logger.Warn("refresh failed", "key", spec.Key, "error", err)
	}
	return err
}

// registerSpec remembers spec so the debounced global refresh can
// re-derive argv for every active key without the caller threading
// specs through the registry (which only stores keys, not specs).
func (s *Scheduler) registerSpec(spec Spec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specs[spec.Key] = spec
}

func (s *Scheduler) forgetSpec(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.specs, key)
}

// ScheduleListRefresh arms the debounce timer for the global refresh.
// Repeated calls within the debounce window coalesce into a single
// firing, per spec.md §4.5.
func (s *Scheduler) ScheduleListRefresh(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		s.runGlobalRefresh(ctx)
	})
}

// runGlobalRefresh enumerates every currently active key and issues a
// refresh for each, concurrently across keys (errgroup), sequentially
// within a key (singleflight inside Refresh).
func (s *Scheduler) runGlobalRefresh(ctx context.Context) {
	keys := s.reg.ActiveKeys()

	s.mu.Lock()
	specs := make([]Spec, 0, len(keys))
	for _, key := range keys {
		if spec, ok := s.specs[key]; ok {
			specs = append(specs, spec)
		}
	}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, spec := range specs {
		spec := spec
		if !s.reg.HasSubscribers(spec.Key) {
			s.forgetSpec(spec.Key)
			continue
		}
		g.Go(func() error {
			_ = s.Refresh(gctx, spec)
			return nil
		})
	}
	_ = g.Wait()
}
