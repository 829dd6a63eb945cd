package model

import (
	"encoding/json"
	"testing"
	"time"
)

// TestParseSeverity verifies normalization and rejection of unknown names.
// Params: t test context.
// Returns: none.
func TestParseSeverity(t *testing.T) {
	got, err := ParseSeverity("  HIGH ")
	if err != nil {
		t.Fatalf("ParseSeverity: %v", err)
	}
	if got != SeverityHigh {
		t.Fatalf("severity=%q, want=%q", got, SeverityHigh)
	}
	if _, err := ParseSeverity("urgent"); err == nil {
		t.Fatal("expected error for unknown severity")
	}
}

// TestEvent_Number verifies numeric reads across concrete types.
// Params: t test context.
// Returns: none.
func TestEvent_Number(t *testing.T) {
	ev := Event{Data: map[string]any{
		"pid":         int32(7),
		"cpu_percent": 12.5,
		"memory_mb":   json.Number("2048"),
		"name":        "bash",
	}}
	for key, want := range map[string]float64{"pid": 7, "cpu_percent": 12.5, "memory_mb": 2048} {
		got, ok := ev.Number(key)
		if !ok || got != want {
			t.Fatalf("%s: got=%v ok=%v, want=%v", key, got, ok, want)
		}
	}
	if _, ok := ev.Number("name"); ok {
		t.Fatal("string field must not read as number")
	}
	if _, ok := ev.Number("absent"); ok {
		t.Fatal("absent field must not read as number")
	}
}

// TestEvent_Map verifies the embedded event shape used in alert details.
// Params: t test context.
// Returns: none.
func TestEvent_Map(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	ev := Event{EventType: "process", Data: map[string]any{"pid": 1}, CreatedAt: at}
	m := ev.Map()
	if m["event_type"] != "process" {
		t.Fatalf("event_type=%v", m["event_type"])
	}
	if m["created_at"] != "2024-05-01T11:00:00Z" {
		t.Fatalf("created_at=%v", m["created_at"])
	}

	alert := Alert{Details: map[string]any{"rule_triggered": "process.high_cpu"}}
	if alert.Rule() != "process.high_cpu" {
		t.Fatalf("rule=%q", alert.Rule())
	}
}
