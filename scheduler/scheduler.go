// Package scheduler drives rebalance cycles on a fixed interval.
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/becomeliminal/yieldmind/core"
)

// DefaultInterval matches the five-minute cadence of the rebalance loop.
const DefaultInterval = 5 * time.Minute

// Runner executes one cycle. *cycle.Controller implements it.
type Runner interface {
	Run(ctx context.Context) core.CycleStatus
}

// Scheduler runs a cycle at start and then once per interval.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	initial  bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithoutInitialCycle waits one interval before the first cycle.
func WithoutInitialCycle() Option {
	return func(s *Scheduler) {
		s.initial = false
	}
}

// New creates a scheduler. A non-positive interval uses DefaultInterval.
func New(runner Runner, interval time.Duration, opts ...Option) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Scheduler{runner: runner, interval: interval, initial: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Interval returns the tick period.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Run blocks until ctx is cancelled. A tick that fires while a cycle is still
// running is dropped by the ticker rather than queued.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Printf("[SCHEDULER] Started: interval=%s", s.interval)

	if s.initial {
		s.tick(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[SCHEDULER] Stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	status := s.runner.Run(ctx)
	log.Printf("[SCHEDULER] Cycle finished: phase=%s status=%q", status.Phase, status.Message)
}
