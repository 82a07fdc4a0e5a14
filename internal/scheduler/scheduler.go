// Package scheduler runs the single cooperative poll loop that drives one
// orchestrator tick per interval.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"plexguard/internal/configstore"
	"plexguard/internal/media"
)

// MinInterval is the floor enforced on PLEXGUARD_REFRESH_INTERVAL,
// regardless of what an admin configures.
const MinInterval = time.Second

// Ticker is the Session Orchestrator's tick entry point. Satisfied by
// *orchestrator.Orchestrator.
type Ticker interface {
	Tick(ctx context.Context)
}

// Scheduler is the Poll Scheduler component (spec.md §4.5).
type Scheduler struct {
	ticker   Ticker
	config   *configstore.Store
	realtime media.RealtimeSubscriber

	startOnce  sync.Once
	cancel     context.CancelFunc
	done       chan struct{}
	triggerNow chan struct{}
}

// Option configures optional Scheduler behavior.
type Option func(*Scheduler)

// WithRealtime arms an optional fast path: when the upstream adapter
// supports a push channel, an update between ticks requests an immediate
// tick instead of waiting out the rest of the interval. The scheduled
// interval tick remains the only thing that runs when no realtime channel
// is available, so this is purely additive.
func WithRealtime(sub media.RealtimeSubscriber) Option {
	return func(s *Scheduler) { s.realtime = sub }
}

func New(ticker Ticker, config *configstore.Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		ticker:     ticker,
		config:     config,
		done:       make(chan struct{}),
		triggerNow: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the poll loop in a goroutine: an immediate tick, then one
// every interval() thereafter. Safe to call once; subsequent calls are
// no-ops.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		go s.run(ctx)
	})
}

// Stop signals shutdown and blocks until the in-flight tick (if any)
// completes and the loop exits.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	if s.realtime != nil {
		go s.watchRealtime(ctx)
	}

	s.ticker.Tick(ctx)
	for {
		timer := time.NewTimer(s.interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.ticker.Tick(ctx)
		case <-s.triggerNow:
			if !timer.Stop() {
				<-timer.C
			}
			s.ticker.Tick(ctx)
		}
	}
}

// watchRealtime drains the upstream's push channel and requests an
// out-of-cycle tick for every update, coalescing bursts into a single
// pending trigger. It never calls Tick itself, so the run loop's tick
// invocations stay single-threaded regardless of how fast updates arrive.
func (s *Scheduler) watchRealtime(ctx context.Context) {
	updates, err := s.realtime.Subscribe(ctx)
	if err != nil {
		slog.Warn("scheduler: realtime subscribe failed, continuing on polling only", "error", err)
		return
	}
	for range updates {
		select {
		case s.triggerNow <- struct{}{}:
		default:
		}
	}
}

// interval reads PLEXGUARD_REFRESH_INTERVAL fresh on every call, so a
// runtime config change takes effect on the next tick, never the current
// one. Always at least MinInterval.
func (s *Scheduler) interval() time.Duration {
	seconds := s.config.GetInt(configstore.KeyRefreshInterval, 10)
	interval := time.Duration(seconds) * time.Second
	if interval < MinInterval {
		slog.Warn("scheduler: configured refresh interval below minimum, clamping", "configured_seconds", seconds, "minimum", MinInterval)
		return MinInterval
	}
	return interval
}
