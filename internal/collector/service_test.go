package collector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"sentinel/internal/model"
)

type staticCollector struct {
	name    string
	records []Record
	err     error
	panics  bool
	calls   int
}

// Name returns configured collector identity.
// Params: none.
// Returns: collector name.
func (c *staticCollector) Name() string {
	return c.name
}

// Collect returns configured records, error or panic.
// Params: ctx unused.
// Returns: fixed records or error.
func (c *staticCollector) Collect(_ context.Context) ([]Record, error) {
	c.calls++
	if c.panics {
		panic("boom")
	}
	return c.records, c.err
}

type countingEvaluator struct {
	seen int
}

// Evaluate emits one alert per event for test assertions.
// Params: events to evaluate.
// Returns: one low alert per event.
func (e *countingEvaluator) Evaluate(events []model.Event) []model.Alert {
	e.seen += len(events)
	alerts := make([]model.Alert, 0, len(events))
	for _, event := range events {
		alerts = append(alerts, model.Alert{Title: event.EventType, Severity: model.SeverityLow})
	}
	return alerts
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestEventType_StripsSuffix verifies event type derivation from collector identity.
// Params: testing.T for assertions.
// Returns: none.
func TestEventType_StripsSuffix(t *testing.T) {
	cases := map[string]string{
		"ProcessCollector": "process",
		"NetworkCollector": "network",
		"DiskCollector":    "disk",
		"gpu":              "gpu",
		"Collector":        "collector",
	}
	for name, expected := range cases {
		if got := EventType(name); got != expected {
			t.Fatalf("event type for %q: expected %q, got %q", name, expected, got)
		}
	}
}

// TestCollectAll_PreservesOrderAndCount verifies registration then intra-collector ordering.
// Params: testing.T for assertions.
// Returns: none.
func TestCollectAll_PreservesOrderAndCount(t *testing.T) {
	first := &staticCollector{name: "ProcessCollector", records: []Record{{"pid": 1}, {"pid": 2}}}
	second := &staticCollector{name: "NetworkCollector", records: []Record{{"pid": 3, "event_type": "spoofed"}}}
	third := &staticCollector{name: "DiskCollector", records: []Record{{"pid": 4}, {"pid": 5}, {"pid": 6}}}

	service := NewService(nil, discardLogger(), first, second, third)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	service.now = func() time.Time { return fixed }

	events := service.CollectAll(context.Background())
	if len(events) != 6 {
		t.Fatalf("expected 6 events, got %d", len(events))
	}

	expectedTypes := []string{"process", "process", "network", "disk", "disk", "disk"}
	for idx, event := range events {
		if event.EventType != expectedTypes[idx] {
			t.Fatalf("event[%d]: expected type %q, got %q", idx, expectedTypes[idx], event.EventType)
		}
		pid, _ := event.Number("pid")
		if int(pid) != idx+1 {
			t.Fatalf("event[%d]: expected pid %d, got %v", idx, idx+1, pid)
		}
		if _, exists := event.Data["event_type"]; exists {
			t.Fatalf("event[%d]: collector-provided event_type must not leak into data", idx)
		}
		if !event.CreatedAt.Equal(fixed) {
			t.Fatalf("event[%d]: unexpected created_at %v", idx, event.CreatedAt)
		}
	}
}

// TestCollectAll_FailingCollectorYieldsNothing verifies error and panic isolation.
// Params: testing.T for assertions.
// Returns: none.
func TestCollectAll_FailingCollectorYieldsNothing(t *testing.T) {
	failing := &staticCollector{name: "NetworkCollector", err: ErrSourceUnavailable}
	panicking := &staticCollector{name: "GPUCollector", panics: true}
	healthy := &staticCollector{name: "ProcessCollector", records: []Record{{"pid": 1}}}

	service := NewService(nil, discardLogger(), failing, panicking, healthy)
	scan := service.CollectAndAlert(context.Background())

	if len(scan.Events) != 1 || scan.Events[0].EventType != "process" {
		t.Fatalf("unexpected events: %+v", scan.Events)
	}
	if len(scan.Reports) != 3 {
		t.Fatalf("expected 3 reports, got %d", len(scan.Reports))
	}
	if !errors.Is(scan.Reports[0].Err, ErrSourceUnavailable) {
		t.Fatalf("expected source unavailable report, got %v", scan.Reports[0].Err)
	}
	if scan.Reports[1].Err == nil {
		t.Fatalf("expected panic converted into report error")
	}
	if scan.Reports[2].Err != nil || scan.Reports[2].Count != 1 {
		t.Fatalf("unexpected healthy report: %+v", scan.Reports[2])
	}
}

// TestCollectAndAlert_EvaluatesCollectedEvents verifies evaluator composition.
// Params: testing.T for assertions.
// Returns: none.
func TestCollectAndAlert_EvaluatesCollectedEvents(t *testing.T) {
	evaluator := &countingEvaluator{}
	service := NewService(
		evaluator,
		discardLogger(),
		&staticCollector{name: "ProcessCollector", records: []Record{{"pid": 1}, {"pid": 2}}},
	)

	scan := service.CollectAndAlert(context.Background())
	if evaluator.seen != 2 {
		t.Fatalf("expected evaluator to see 2 events, saw %d", evaluator.seen)
	}
	if len(scan.Alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(scan.Alerts))
	}
}

// TestCollectorStatus_ReportsHealth verifies trial collection status fields.
// Params: testing.T for assertions.
// Returns: none.
func TestCollectorStatus_ReportsHealth(t *testing.T) {
	healthy := &staticCollector{name: "ProcessCollector", records: []Record{{"pid": 1}, {"pid": 2}}}
	broken := &staticCollector{name: "NetworkCollector", err: errors.New("permission denied")}

	service := NewService(nil, discardLogger(), healthy, broken)
	status := service.CollectorStatus(context.Background())

	if got := status["ProcessCollector"]; !got.Working || got.Status != StatusActive || got.SampleCount != 2 {
		t.Fatalf("unexpected healthy status: %+v", got)
	}
	got := status["NetworkCollector"]
	if got.Working || got.Status != StatusError || got.Error != "permission denied" {
		t.Fatalf("unexpected broken status: %+v", got)
	}
	if healthy.calls != 1 || broken.calls != 1 {
		t.Fatalf("expected one trial collection each, got %d/%d", healthy.calls, broken.calls)
	}
}
