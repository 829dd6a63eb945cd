package pipeline

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"sentinel/internal/collector"
	"sentinel/internal/model"
)

const (
	defaultMinDuration = 10 * time.Second
	defaultMaxDuration = 300 * time.Second
	defaultFrameDelay  = 5 * time.Second
	defaultTopN        = 5
	frameStatusError   = "error"
)

// SessionConfig bounds a live monitoring session.
type SessionConfig struct {
	MinDuration time.Duration
	MaxDuration time.Duration
	Delay       time.Duration
	TopN        int
	Clock       Clock
}

// Snapshot is one successful streaming frame.
type Snapshot struct {
	Timestamp               time.Time                   `json:"timestamp"`
	EventsCount             int                         `json:"events_count"`
	AlertsCount             int                         `json:"alerts_count"`
	SystemStatus            map[string]collector.Status `json:"system_status"`
	TopProcesses            []map[string]any            `json:"top_processes"`
	NetworkConnectionsCount int                         `json:"network_connections_count"`
}

// Frame is either a snapshot or an error report for one tick.
type Frame struct {
	Snapshot *Snapshot
	ErrorAt  time.Time
	Err      string
}

// MarshalJSON renders snapshot fields, or {timestamp, status, error} for error frames.
func (f Frame) MarshalJSON() ([]byte, error) {
	if f.Snapshot != nil {
		return json.Marshal(f.Snapshot)
	}
	return json.Marshal(struct {
		Timestamp time.Time `json:"timestamp"`
		Status    string    `json:"status"`
		Error     string    `json:"error"`
	}{
		Timestamp: f.ErrorAt,
		Status:    frameStatusError,
		Error:     f.Err,
	})
}

// IsError reports whether the frame carries a tick failure.
func (f Frame) IsError() bool {
	return f.Snapshot == nil
}

// Session streams periodic snapshots for a bounded duration.
type Session struct {
	scanner Scanner
	cfg     SessionConfig
	logger  *slog.Logger
}

// NewSession applies defaults and builds a session factory.
// Params: scanner orchestration entry point; cfg bounds; logger.
// Returns: session runner shared by concurrent clients.
func NewSession(scanner Scanner, cfg SessionConfig, logger *slog.Logger) *Session {
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = defaultMinDuration
	}
	if cfg.MaxDuration < cfg.MinDuration {
		cfg.MaxDuration = max(defaultMaxDuration, cfg.MinDuration)
	}
	if cfg.Delay <= 0 {
		cfg.Delay = defaultFrameDelay
	}
	if cfg.TopN <= 0 {
		cfg.TopN = defaultTopN
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{scanner: scanner, cfg: cfg, logger: logger}
}

// Clamp bounds a requested duration to the configured range.
func (s *Session) Clamp(requested time.Duration) time.Duration {
	return min(max(requested, s.cfg.MinDuration), s.cfg.MaxDuration)
}

// Delay returns the pause between frames.
func (s *Session) Delay() time.Duration {
	return s.cfg.Delay
}

// Run emits frames while now < start+duration, sleeping between frames.
// Params: ctx ends the session on transport disconnect; requested duration; emit frame writer.
// Returns: frames emitted and emit error, if the transport failed.
func (s *Session) Run(ctx context.Context, requested time.Duration, emit func(Frame) error) (int, error) {
	duration := s.Clamp(requested)
	end := s.cfg.Clock.Now().Add(duration)
	frames := 0

	for s.cfg.Clock.Now().Before(end) {
		if ctx.Err() != nil {
			return frames, nil
		}
		frame := s.frame(ctx)
		if frame.IsError() {
			s.logger.Warn("stream tick failed", slog.String("error", frame.Err))
		}
		if err := emit(frame); err != nil {
			return frames, fmt.Errorf("emit frame: %w", err)
		}
		frames++
		if err := s.cfg.Clock.Sleep(ctx, s.cfg.Delay); err != nil {
			return frames, nil
		}
	}
	return frames, nil
}

// frame builds one snapshot; a panic becomes an error frame.
func (s *Session) frame(ctx context.Context) (frame Frame) {
	now := s.cfg.Clock.Now()
	defer func() {
		if recovered := recover(); recovered != nil {
			frame = Frame{ErrorAt: now, Err: fmt.Sprintf("%v", recovered)}
		}
	}()

	scan := s.scanner.CollectAndAlert(ctx)
	return Frame{Snapshot: BuildSnapshot(now, scan, s.cfg.TopN)}
}

// BuildSnapshot projects a scan into a streaming snapshot.
// Params: at frame time; scan result; topN process limit.
// Returns: snapshot with top processes by cpu_percent desc.
func BuildSnapshot(at time.Time, scan collector.Scan, topN int) *Snapshot {
	processes := make([]model.Event, 0)
	connections := 0
	for _, event := range scan.Events {
		switch event.EventType {
		case "process":
			processes = append(processes, event)
		case "network":
			connections++
		}
	}

	slices.SortStableFunc(processes, func(a, b model.Event) int {
		left, _ := a.Number("cpu_percent")
		right, _ := b.Number("cpu_percent")
		return cmp.Compare(right, left)
	})
	if len(processes) > topN {
		processes = processes[:topN]
	}
	top := make([]map[string]any, 0, len(processes))
	for _, event := range processes {
		top = append(top, event.Data)
	}

	return &Snapshot{
		Timestamp:               at,
		EventsCount:             len(scan.Events),
		AlertsCount:             len(scan.Alerts),
		SystemStatus:            collector.StatusFromReports(scan.Reports),
		TopProcesses:            top,
		NetworkConnectionsCount: connections,
	}
}
