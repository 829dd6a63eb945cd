package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sentinel/internal/collector"
	"sentinel/internal/metrics"
	"sentinel/internal/store"
)

// Sink consumes the result of one scan tick.
// Params: context and one scan.
// Returns: error if sink cannot process the scan.
type Sink interface {
	Consume(ctx context.Context, scan collector.Scan) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, scan collector.Scan) error

// Consume calls f.
func (f SinkFunc) Consume(ctx context.Context, scan collector.Scan) error {
	return f(ctx, scan)
}

// LogSink writes alerts into logs and scan totals into debug logs.
// Params: logger used for output.
// Returns: log sink instance.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log sink.
// Params: logger instance.
// Returns: scan sink implementation.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Consume logs every alert at warn level.
// Params: ctx for level checks; scan payload to log.
// Returns: always nil.
func (s *LogSink) Consume(ctx context.Context, scan collector.Scan) error {
	for _, alert := range scan.Alerts {
		s.logger.LogAttrs(
			ctx,
			slog.LevelWarn,
			"alert",
			slog.String("alert_id", alert.ID),
			slog.String("rule", alert.Rule()),
			slog.String("severity", string(alert.Severity)),
			slog.String("title", alert.Title),
		)
	}
	s.logger.LogAttrs(
		ctx,
		slog.LevelDebug,
		"scan complete",
		slog.Int("events", len(scan.Events)),
		slog.Int("alerts", len(scan.Alerts)),
	)
	return nil
}

// StoreSink persists events and alerts into a repository.
type StoreSink struct {
	repo store.Repository
}

// NewStoreSink creates a persistence sink.
func NewStoreSink(repo store.Repository) *StoreSink {
	return &StoreSink{repo: repo}
}

// Consume inserts events then alerts; both are attempted.
// Params: ctx insert scope; scan payload.
// Returns: joined persistence errors.
func (s *StoreSink) Consume(ctx context.Context, scan collector.Scan) error {
	var errs []error
	if err := s.repo.InsertEvents(ctx, scan.Events); err != nil {
		errs = append(errs, fmt.Errorf("persist events: %w", err))
	}
	if err := s.repo.InsertAlerts(ctx, scan.Alerts); err != nil {
		errs = append(errs, fmt.Errorf("persist alerts: %w", err))
	}
	return errors.Join(errs...)
}

// MetricsSink records scan outcomes into telemetry.
type MetricsSink struct {
	telemetry *metrics.Telemetry
	now       func() time.Time
}

// NewMetricsSink creates a telemetry sink.
func NewMetricsSink(telemetry *metrics.Telemetry) *MetricsSink {
	return &MetricsSink{telemetry: telemetry, now: time.Now}
}

// Consume tallies events by type, alerts by severity and failed collectors.
func (s *MetricsSink) Consume(_ context.Context, scan collector.Scan) error {
	eventsByType := make(map[string]int)
	for _, event := range scan.Events {
		eventsByType[event.EventType]++
	}
	alertsBySeverity := make(map[string]int)
	for _, alert := range scan.Alerts {
		alertsBySeverity[string(alert.Severity)]++
	}
	var failed []string
	for _, report := range scan.Reports {
		if report.Err != nil {
			failed = append(failed, report.Name)
		}
	}

	elapsed := 0.0
	if !scan.StartedAt.IsZero() {
		elapsed = s.now().Sub(scan.StartedAt).Seconds()
	}
	s.telemetry.ObserveScan(elapsed, eventsByType, alertsBySeverity, failed)
	return nil
}

// StoreSinkName is the MultiSink name under which the persistence sink is registered.
const StoreSinkName = "store"

// SinkError records which named sink rejected a scan.
type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string { return e.Sink + ": " + e.Err.Error() }

func (e *SinkError) Unwrap() error { return e.Err }

// FailedSinks lists the sink names recorded in err, in dispatch order.
// Params: err as returned by MultiSink.Consume.
// Returns: names, or nil when err carries no SinkError.
func FailedSinks(err error) []string {
	var names []string
	var walk func(error)
	walk = func(err error) {
		switch e := err.(type) {
		case nil:
		case *SinkError:
			names = append(names, e.Sink)
		case interface{ Unwrap() []error }:
			for _, inner := range e.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(e.Unwrap())
		}
	}
	walk(err)
	return names
}

type namedSink struct {
	name string
	sink Sink
}

// MultiSink dispatches one scan to multiple sink implementations.
// Params: named sink list.
// Returns: composite sink.
type MultiSink struct {
	sinks     []namedSink
	onFailure func(name string, err error)
}

// NewMultiSink builds an empty composite sink.
// Params: onFailure optional per-sink failure observer.
// Returns: multi sink implementation.
func NewMultiSink(onFailure func(name string, err error)) *MultiSink {
	return &MultiSink{onFailure: onFailure}
}

// Add registers sink under name; nil sinks are ignored.
func (s *MultiSink) Add(name string, sink Sink) *MultiSink {
	if sink != nil {
		s.sinks = append(s.sinks, namedSink{name: name, sink: sink})
	}
	return s
}

// Len returns number of registered sinks.
func (s *MultiSink) Len() int {
	return len(s.sinks)
}

// Consume forwards scan to each child sink; one failure does not stop the rest.
// Params: ctx consume context; scan payload.
// Returns: joined errors from downstream sinks, if any.
func (s *MultiSink) Consume(ctx context.Context, scan collector.Scan) error {
	var errs []error
	for _, child := range s.sinks {
		if err := child.sink.Consume(ctx, scan); err != nil {
			if s.onFailure != nil {
				s.onFailure(child.name, err)
			}
			errs = append(errs, &SinkError{Sink: child.name, Err: err})
		}
	}
	return errors.Join(errs...)
}
