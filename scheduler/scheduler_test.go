package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/becomeliminal/yieldmind/core"
	"github.com/becomeliminal/yieldmind/scheduler"
)

type countingRunner struct {
	runs atomic.Int32
	done chan struct{}
	want int32
}

func (r *countingRunner) Run(context.Context) core.CycleStatus {
	if r.runs.Add(1) == r.want {
		close(r.done)
	}
	return core.CycleStatus{Phase: core.PhaseCompleted}
}

func TestScheduler_InitialCycleThenTicks(t *testing.T) {
	runner := &countingRunner{done: make(chan struct{}), want: 3}
	s := scheduler.New(runner, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	select {
	case <-runner.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("only %d cycles ran", runner.runs.Load())
	}
	cancel()

	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
}

func TestScheduler_InitialCycleRunsImmediately(t *testing.T) {
	runner := &countingRunner{done: make(chan struct{}), want: 1}
	s := scheduler.New(runner, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	select {
	case <-runner.done:
	case <-time.After(2 * time.Second):
		t.Fatal("initial cycle did not run")
	}
}

func TestScheduler_WithoutInitialCycle(t *testing.T) {
	runner := &countingRunner{done: make(chan struct{}), want: 1}
	s := scheduler.New(runner, time.Hour, scheduler.WithoutInitialCycle())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if n := runner.runs.Load(); n != 0 {
		t.Errorf("runs = %d, want 0", n)
	}
}

func TestScheduler_DefaultInterval(t *testing.T) {
	if got := scheduler.New(&countingRunner{}, 0).Interval(); got != scheduler.DefaultInterval {
		t.Errorf("Interval = %v, want %v", got, scheduler.DefaultInterval)
	}
}
