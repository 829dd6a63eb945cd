package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"sentinel/internal/collector"
)

// TestSession_EmitsTwoFramesForTenSeconds verifies the strict now < end bound.
// Params: testing.T for assertions.
// Returns: none.
func TestSession_EmitsTwoFramesForTenSeconds(t *testing.T) {
	clock := newFakeClock()
	session := NewSession(
		scannerFunc(func(context.Context) collector.Scan { return processScan(5, 50) }),
		SessionConfig{Clock: clock},
		discardLogger(),
	)

	var frames []Frame
	count, err := session.Run(context.Background(), 10*time.Second, func(f Frame) error {
		frames = append(frames, f)
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if count != 2 || len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if got := frames[1].Snapshot.Timestamp.Sub(frames[0].Snapshot.Timestamp); got != 5*time.Second {
		t.Fatalf("unexpected frame spacing: %s", got)
	}
}

// TestSession_ClampsDuration verifies bounds on requested duration.
// Params: testing.T for assertions.
// Returns: none.
func TestSession_ClampsDuration(t *testing.T) {
	session := NewSession(nil, SessionConfig{Clock: newFakeClock()}, discardLogger())

	if got := session.Clamp(time.Second); got != 10*time.Second {
		t.Fatalf("expected min clamp, got %s", got)
	}
	if got := session.Clamp(time.Hour); got != 300*time.Second {
		t.Fatalf("expected max clamp, got %s", got)
	}
	if got := session.Clamp(42 * time.Second); got != 42*time.Second {
		t.Fatalf("unexpected clamp: %s", got)
	}
}

// TestSession_ErrorFrameContinues verifies a failing tick emits an error frame and the session goes on.
// Params: testing.T for assertions.
// Returns: none.
func TestSession_ErrorFrameContinues(t *testing.T) {
	calls := 0
	session := NewSession(
		scannerFunc(func(context.Context) collector.Scan {
			calls++
			if calls == 1 {
				panic("process table unreadable")
			}
			return processScan(1)
		}),
		SessionConfig{Clock: newFakeClock(), MinDuration: 15 * time.Second},
		discardLogger(),
	)

	var frames []Frame
	if _, err := session.Run(context.Background(), 15*time.Second, func(f Frame) error {
		frames = append(frames, f)
		return nil
	}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	if !frames[0].IsError() || frames[1].IsError() {
		t.Fatalf("unexpected frame kinds")
	}

	raw, err := json.Marshal(frames[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["status"] != "error" || decoded["error"] != "process table unreadable" {
		t.Fatalf("unexpected error frame: %s", raw)
	}
	if _, ok := decoded["timestamp"]; !ok {
		t.Fatalf("error frame missing timestamp")
	}
}

// TestSession_EmitFailureEndsSession verifies a transport failure stops the loop.
// Params: testing.T for assertions.
// Returns: none.
func TestSession_EmitFailureEndsSession(t *testing.T) {
	session := NewSession(
		scannerFunc(func(context.Context) collector.Scan { return collector.Scan{} }),
		SessionConfig{Clock: newFakeClock()},
		discardLogger(),
	)

	closed := errors.New("client went away")
	count, err := session.Run(context.Background(), time.Minute, func(Frame) error { return closed })
	if !errors.Is(err, closed) {
		t.Fatalf("expected emit error, got %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no completed frames, got %d", count)
	}
}

// TestSession_CancelEndsSession verifies disconnect via ctx stops streaming.
// Params: testing.T for assertions.
// Returns: none.
func TestSession_CancelEndsSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := newFakeClock()
	clock.stopAt = 1
	clock.cancel = cancel

	session := NewSession(
		scannerFunc(func(context.Context) collector.Scan { return collector.Scan{} }),
		SessionConfig{Clock: clock},
		discardLogger(),
	)
	count, err := session.Run(ctx, time.Minute, func(Frame) error { return nil })
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 frame, got %d", count)
	}
}

// TestBuildSnapshot_TopProcesses verifies cpu-desc ordering, stability and limit.
// Params: testing.T for assertions.
// Returns: none.
func TestBuildSnapshot_TopProcesses(t *testing.T) {
	scan := processScan(1, 90, 30, 90, 5, 70, 2)
	scan.Events = append(scan.Events, processScan(0).Events[0])
	scan.Events[len(scan.Events)-1].EventType = "network"

	snapshot := BuildSnapshot(time.Unix(0, 0), scan, 5)
	if snapshot.EventsCount != 8 || snapshot.NetworkConnectionsCount != 1 {
		t.Fatalf("unexpected counts: %+v", snapshot)
	}
	if len(snapshot.TopProcesses) != 5 {
		t.Fatalf("expected 5 top processes, got %d", len(snapshot.TopProcesses))
	}
	wantPIDs := []int{2, 4, 6, 3, 5}
	for idx, want := range wantPIDs {
		if got := snapshot.TopProcesses[idx]["pid"]; got != want {
			t.Fatalf("top[%d] pid = %v, want %d", idx, got, want)
		}
	}
	if len(snapshot.SystemStatus) != 0 {
		t.Fatalf("unexpected status: %+v", snapshot.SystemStatus)
	}
}

// TestBuildSnapshot_CollectorHealth verifies system_status mirrors the tick's collector reports.
// Params: testing.T for assertions.
// Returns: none.
func TestBuildSnapshot_CollectorHealth(t *testing.T) {
	scan := processScan(40)
	scan.Reports = []collector.Report{
		{Name: "ProcessCollector", EventType: "process", Count: 1},
		{Name: "NetworkCollector", EventType: "network", Err: errors.New("permission denied")},
	}

	snapshot := BuildSnapshot(time.Unix(0, 0), scan, 5)
	process := snapshot.SystemStatus["ProcessCollector"]
	if !process.Working || process.Status != collector.StatusActive || process.SampleCount != 1 {
		t.Fatalf("unexpected process status: %+v", process)
	}
	network := snapshot.SystemStatus["NetworkCollector"]
	if network.Working || network.Status != collector.StatusError || network.Error != "permission denied" {
		t.Fatalf("unexpected network status: %+v", network)
	}

	raw, err := json.Marshal(Frame{Snapshot: snapshot})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"NetworkCollector":{"status":"error","sample_count":0,"working":false,"error":"permission denied"}`) {
		t.Fatalf("unexpected frame: %s", raw)
	}
}
