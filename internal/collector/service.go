package collector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"sentinel/internal/model"
)

const (
	StatusActive = "active"
	StatusError  = "error"
)

// Evaluator turns events into alerts against the currently active rule set.
type Evaluator interface {
	Evaluate(events []model.Event) []model.Alert
}

// Status is the trial-collection health of one collector.
type Status struct {
	Status      string `json:"status"`
	SampleCount int    `json:"sample_count"`
	Working     bool   `json:"working"`
	Error       string `json:"error,omitempty"`
}

// Report is the outcome of one collector within one tick.
type Report struct {
	Name      string
	EventType string
	Count     int
	Err       error
}

// Scan is the result of one collect→evaluate cycle.
type Scan struct {
	StartedAt time.Time
	Events    []model.Event
	Alerts    []model.Alert
	Reports   []Report
}

// Service owns the ordered collector list and runs it as one unit.
// Params: registered collectors, evaluator and logger.
// Returns: collection service shared by scheduler, stream sessions and API.
type Service struct {
	collectors []Collector
	evaluator  Evaluator
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a service over collectors in registration order.
// Params: evaluator used by CollectAndAlert; logger for diagnostics; collectors ordered list.
// Returns: service instance.
func NewService(evaluator Evaluator, logger *slog.Logger, collectors ...Collector) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		collectors: append([]Collector(nil), collectors...),
		evaluator:  evaluator,
		logger:     logger,
		now:        time.Now,
	}
}

// Names returns registered collector identities in registration order.
func (s *Service) Names() []string {
	names := make([]string, 0, len(s.collectors))
	for _, c := range s.collectors {
		names = append(names, c.Name())
	}
	return names
}

// EventType derives the event type from a collector identity.
// Params: name collector identity such as "ProcessCollector".
// Returns: lower-cased name without the "collector" suffix.
func EventType(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	if trimmed := strings.TrimSuffix(lower, "collector"); trimmed != "" {
		return trimmed
	}
	return lower
}

// CollectAll runs every collector and merges tagged events.
// Params: ctx for cancellation.
// Returns: events ordered by collector registration, then emission order.
func (s *Service) CollectAll(ctx context.Context) []model.Event {
	events, _ := s.collect(ctx)
	return events
}

// CollectAndAlert runs one scan: collect every source, then evaluate the rule set.
// Params: ctx for cancellation.
// Returns: scan with events, alerts and per-collector reports.
func (s *Service) CollectAndAlert(ctx context.Context) Scan {
	startedAt := s.now()
	events, reports := s.collect(ctx)

	var alerts []model.Alert
	if s.evaluator != nil {
		alerts = s.evaluator.Evaluate(events)
	}

	return Scan{
		StartedAt: startedAt,
		Events:    events,
		Alerts:    alerts,
		Reports:   reports,
	}
}

// CollectorStatus performs a trial collection per collector.
// Params: ctx for cancellation.
// Returns: status keyed by collector identity.
func (s *Service) CollectorStatus(ctx context.Context) map[string]Status {
	status := make(map[string]Status, len(s.collectors))
	for _, c := range s.collectors {
		records, err := s.safeCollect(ctx, c)
		status[c.Name()] = statusOf(len(records), err)
	}
	return status
}

// StatusFromReports builds the collector health view of one finished tick.
// Params: reports per-collector outcomes from CollectAndAlert.
// Returns: status keyed by collector name, without sampling again.
func StatusFromReports(reports []Report) map[string]Status {
	status := make(map[string]Status, len(reports))
	for _, report := range reports {
		status[report.Name] = statusOf(report.Count, report.Err)
	}
	return status
}

func statusOf(count int, err error) Status {
	if err != nil {
		return Status{Status: StatusError, Working: false, Error: err.Error()}
	}
	return Status{Status: StatusActive, SampleCount: count, Working: true}
}

// collect runs collectors sequentially and tags records with one tick timestamp.
// Params: ctx for cancellation.
// Returns: merged events and per-collector reports.
func (s *Service) collect(ctx context.Context) ([]model.Event, []Report) {
	createdAt := s.now().UTC()
	events := make([]model.Event, 0)
	reports := make([]Report, 0, len(s.collectors))

	for _, c := range s.collectors {
		name := c.Name()
		eventType := EventType(name)

		records, err := s.safeCollect(ctx, c)
		if err != nil {
			s.logger.Warn(
				"collector unavailable",
				slog.String("collector", name),
				slog.String("error", err.Error()),
			)
			reports = append(reports, Report{Name: name, EventType: eventType, Err: err})
			continue
		}

		for _, record := range records {
			data := make(map[string]any, len(record))
			for key, value := range record {
				if key == "event_type" {
					continue
				}
				data[key] = value
			}
			events = append(events, model.Event{
				EventType: eventType,
				Data:      data,
				CreatedAt: createdAt,
			})
		}
		reports = append(reports, Report{Name: name, EventType: eventType, Count: len(records)})
	}

	return events, reports
}

// safeCollect invokes one collector and converts panics into errors.
// Params: ctx for cancellation; c collector to run.
// Returns: records or collection error.
func (s *Service) safeCollect(ctx context.Context, c Collector) (records []Record, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			records = nil
			err = fmt.Errorf("collector %s panicked: %v", c.Name(), recovered)
		}
	}()
	return c.Collect(ctx)
}
