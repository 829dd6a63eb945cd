package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sentinel/internal/collector"
)

const defaultInterval = 10 * time.Second

// Scanner runs one collect-and-evaluate cycle.
type Scanner interface {
	CollectAndAlert(ctx context.Context) collector.Scan
}

// Stats summarizes one scheduler run.
type Stats struct {
	Ticks    int
	Failures int
	Elapsed  time.Duration
}

// SchedulerConfig configures the agent loop.
type SchedulerConfig struct {
	Interval time.Duration
	Clock    Clock
	// OnTickFailure is invoked after each failed tick (metrics).
	OnTickFailure func(err error)
}

// Scheduler repeats scan → sink → sleep until cancelled.
// Params: scanner orchestration entry point; sink persistence/fan-out; logger.
// Returns: agent loop runtime.
type Scheduler struct {
	scanner   Scanner
	sink      Sink
	interval  time.Duration
	clock     Clock
	onFailure func(err error)
	logger    *slog.Logger
}

// NewScheduler validates dependencies and builds a scheduler.
// Params: scanner, sink, cfg and logger.
// Returns: scheduler or validation error.
func NewScheduler(scanner Scanner, sink Sink, cfg SchedulerConfig, logger *slog.Logger) (*Scheduler, error) {
	if scanner == nil {
		return nil, fmt.Errorf("scanner is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("interval must be >= 0")
	}
	if cfg.Interval == 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}

	return &Scheduler{
		scanner:   scanner,
		sink:      sink,
		interval:  cfg.Interval,
		clock:     cfg.Clock,
		onFailure: cfg.OnTickFailure,
		logger:    logger,
	}, nil
}

// Run executes ticks until ctx is cancelled. Cancellation is observed only
// between ticks: an in-flight tick always completes.
// Params: ctx lifecycle context.
// Returns: run statistics.
func (s *Scheduler) Run(ctx context.Context) Stats {
	started := s.clock.Now()
	stats := Stats{}
	s.logger.Info("agent started", slog.Duration("interval", s.interval))

	for ctx.Err() == nil {
		stats.Ticks++
		if err := s.tick(context.WithoutCancel(ctx)); err != nil {
			stats.Failures++
			s.logger.Error(
				"agent tick failed",
				slog.Int("tick", stats.Ticks),
				slog.String("error", err.Error()),
			)
			if s.onFailure != nil {
				s.onFailure(err)
			}
		}
		if err := s.clock.Sleep(ctx, s.interval); err != nil {
			break
		}
	}

	stats.Elapsed = s.clock.Now().Sub(started)
	s.logger.Info(
		"agent stopped",
		slog.Int("ticks", stats.Ticks),
		slog.Int("failures", stats.Failures),
		slog.Duration("elapsed", stats.Elapsed),
	)
	return stats
}

// tick runs one scan and hands it to the sink; panics become errors.
// Params: ctx detached from shutdown.
// Returns: tick failure.
func (s *Scheduler) tick(ctx context.Context) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("tick panic: %v", recovered)
		}
	}()

	scan := s.scanner.CollectAndAlert(ctx)
	s.logger.Debug(
		"agent tick",
		slog.Int("events", len(scan.Events)),
		slog.Int("alerts", len(scan.Alerts)),
	)
	if err := s.sink.Consume(ctx, scan); err != nil {
		return fmt.Errorf("consume scan: %w", err)
	}
	return nil
}
