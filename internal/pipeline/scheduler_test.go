package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"sentinel/internal/collector"
	"sentinel/internal/model"
)

// fakeClock advances only through Sleep and can cancel after N sleeps.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	stopAt int
	cancel context.CancelFunc
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	shouldCancel := c.stopAt > 0 && len(c.sleeps) >= c.stopAt && c.cancel != nil
	c.mu.Unlock()

	if shouldCancel {
		c.cancel()
	}
	return ctx.Err()
}

type scannerFunc func(ctx context.Context) collector.Scan

func (f scannerFunc) CollectAndAlert(ctx context.Context) collector.Scan {
	return f(ctx)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func processScan(cpu ...float64) collector.Scan {
	events := make([]model.Event, 0, len(cpu))
	for idx, value := range cpu {
		events = append(events, model.Event{
			EventType: "process",
			Data:      map[string]any{"pid": idx + 1, "cpu_percent": value},
		})
	}
	return collector.Scan{Events: events}
}

// TestScheduler_ContinuesAfterFailure verifies a failed tick is counted and retried after the interval.
// Params: testing.T for assertions.
// Returns: none.
func TestScheduler_ContinuesAfterFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := newFakeClock()
	clock.stopAt = 3
	clock.cancel = cancel

	calls := 0
	sink := SinkFunc(func(context.Context, collector.Scan) error {
		calls++
		if calls == 1 {
			return errors.New("database down")
		}
		return nil
	})

	var observed []error
	scheduler, err := NewScheduler(
		scannerFunc(func(context.Context) collector.Scan { return processScan(1) }),
		sink,
		SchedulerConfig{
			Interval:      10 * time.Second,
			Clock:         clock,
			OnTickFailure: func(err error) { observed = append(observed, err) },
		},
		discardLogger(),
	)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	stats := scheduler.Run(ctx)
	if stats.Ticks != 3 {
		t.Fatalf("expected 3 ticks, got %d", stats.Ticks)
	}
	if stats.Failures != 1 || len(observed) != 1 {
		t.Fatalf("expected 1 failure, got %d (%d observed)", stats.Failures, len(observed))
	}
	if stats.Elapsed != 30*time.Second {
		t.Fatalf("unexpected elapsed: %s", stats.Elapsed)
	}
	for _, d := range clock.sleeps {
		if d != 10*time.Second {
			t.Fatalf("sleep must equal interval regardless of outcome, got %s", d)
		}
	}
}

// TestScheduler_RecoversSinkPanic verifies a panicking sink becomes a tick failure.
// Params: testing.T for assertions.
// Returns: none.
func TestScheduler_RecoversSinkPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := newFakeClock()
	clock.stopAt = 2
	clock.cancel = cancel

	scheduler, err := NewScheduler(
		scannerFunc(func(context.Context) collector.Scan { return collector.Scan{} }),
		SinkFunc(func(context.Context, collector.Scan) error { panic("boom") }),
		SchedulerConfig{Interval: time.Second, Clock: clock},
		discardLogger(),
	)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	stats := scheduler.Run(ctx)
	if stats.Ticks != 2 || stats.Failures != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

// TestScheduler_TickRunsDetachedFromCancellation verifies an in-flight tick completes after stop.
// Params: testing.T for assertions.
// Returns: none.
func TestScheduler_TickRunsDetachedFromCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := newFakeClock()

	var tickCtxErr error
	scheduler, err := NewScheduler(
		scannerFunc(func(tickCtx context.Context) collector.Scan {
			cancel()
			tickCtxErr = tickCtx.Err()
			return collector.Scan{}
		}),
		SinkFunc(func(context.Context, collector.Scan) error { return nil }),
		SchedulerConfig{Interval: time.Second, Clock: clock},
		discardLogger(),
	)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	stats := scheduler.Run(ctx)
	if stats.Ticks != 1 || stats.Failures != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if tickCtxErr != nil {
		t.Fatalf("tick context must not observe cancellation, got %v", tickCtxErr)
	}
}

// TestScheduler_StopsBeforeFirstTick verifies an already-cancelled context runs nothing.
// Params: testing.T for assertions.
// Returns: none.
func TestScheduler_StopsBeforeFirstTick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scheduler, err := NewScheduler(
		scannerFunc(func(context.Context) collector.Scan {
			t.Fatalf("scan must not run")
			return collector.Scan{}
		}),
		SinkFunc(func(context.Context, collector.Scan) error { return nil }),
		SchedulerConfig{Clock: newFakeClock()},
		discardLogger(),
	)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	if stats := scheduler.Run(ctx); stats.Ticks != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

// TestNewScheduler_Validation verifies required dependencies.
// Params: testing.T for assertions.
// Returns: none.
func TestNewScheduler_Validation(t *testing.T) {
	sink := SinkFunc(func(context.Context, collector.Scan) error { return nil })
	scanner := scannerFunc(func(context.Context) collector.Scan { return collector.Scan{} })

	if _, err := NewScheduler(nil, sink, SchedulerConfig{}, discardLogger()); err == nil {
		t.Fatalf("expected scanner error")
	}
	if _, err := NewScheduler(scanner, nil, SchedulerConfig{}, discardLogger()); err == nil {
		t.Fatalf("expected sink error")
	}
	if _, err := NewScheduler(scanner, sink, SchedulerConfig{Interval: -time.Second}, discardLogger()); err == nil {
		t.Fatalf("expected interval error")
	}
	s, err := NewScheduler(scanner, sink, SchedulerConfig{}, discardLogger())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	if s.interval != defaultInterval {
		t.Fatalf("unexpected default interval: %s", s.interval)
	}
}
