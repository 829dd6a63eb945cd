package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel/internal/model"
)

var testTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func networkEvent(remote string) model.Event {
	return model.Event{
		EventType: EventTypeNetwork,
		Data: map[string]any{
			"local_addr":  "10.0.0.2:51514",
			"remote_addr": remote,
			"status":      "ESTABLISHED",
			"pid":         int32(4242),
		},
		CreatedAt: testTime,
	}
}

func processEvent(cpu, mem float64) model.Event {
	return model.Event{
		EventType: EventTypeProcess,
		Data: map[string]any{
			"pid":         int32(77),
			"name":        "worker",
			"cpu_percent": cpu,
			"memory_mb":   mem,
		},
		CreatedAt: testTime,
	}
}

func mustRuleSet(t *testing.T, spec Spec) *RuleSet {
	t.Helper()
	rs, err := NewRuleSet(spec, "test")
	require.NoError(t, err)
	return rs
}

func TestEvaluate_BlocklistAndSuspiciousPortFireIndependently(t *testing.T) {
	spec := DefaultSpec()
	spec.BlocklistedIPs = []string{"203.0.113.5"}
	rs := mustRuleSet(t, spec)

	alerts := Evaluate(rs, []model.Event{networkEvent("203.0.113.5:22")})
	require.Len(t, alerts, 2)

	assert.Equal(t, "Blocklisted IP detected: 203.0.113.5", alerts[0].Title)
	assert.Equal(t, model.SeverityHigh, alerts[0].Severity)
	assert.Equal(t, RuleBlocklistedIP, alerts[0].Rule())

	assert.Equal(t, "Suspicious network connection pattern detected", alerts[1].Title)
	assert.Equal(t, model.SeverityMedium, alerts[1].Severity)
	assert.Equal(t, RuleSuspiciousPort, alerts[1].Rule())

	assert.NotEqual(t, alerts[0].ID, alerts[1].ID)
	assert.Equal(t, "network_security", alerts[0].Details["event_type"])
	assert.Equal(t, "critical", alerts[0].Details["severity_label"])
	assert.Equal(t, testTime, alerts[0].CreatedAt)
}

func TestEvaluate_NetworkEdgeCases(t *testing.T) {
	spec := DefaultSpec()
	spec.BlocklistedIPs = []string{"2001:db8::1"}
	rs := mustRuleSet(t, spec)

	tests := []struct {
		name   string
		remote string
		want   int
	}{
		{name: "no remote", remote: "", want: 0},
		{name: "no port separator", remote: "203.0.113.5", want: 0},
		{name: "benign port", remote: "198.51.100.7:443", want: 0},
		{name: "suspicious port only", remote: "198.51.100.7:3389", want: 1},
		{name: "ipv6 blocklisted", remote: "[2001:db8::1]:443", want: 1},
		{name: "ipv6 non canonical", remote: "[2001:0db8:0:0:0:0:0:1]:443", want: 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			alerts := Evaluate(rs, []model.Event{networkEvent(tc.remote)})
			assert.Len(t, alerts, tc.want)
		})
	}
}

func TestEvaluate_ProcessThresholdsAreStrict(t *testing.T) {
	rs := DefaultRuleSet("test")

	assert.Empty(t, Evaluate(rs, []model.Event{processEvent(80, 1000)}))

	alerts := Evaluate(rs, []model.Event{processEvent(80.01, 1000.5)})
	require.Len(t, alerts, 2)
	assert.Equal(t, "High CPU usage detected: 80.01%", alerts[0].Title)
	assert.Equal(t, RuleHighCPU, alerts[0].Rule())
	assert.Equal(t, "High memory usage detected: 1000.5MB", alerts[1].Title)
	assert.Equal(t, RuleHighMemory, alerts[1].Rule())
	assert.Equal(t, "process_security", alerts[1].Details["event_type"])
}

func TestEvaluate_CustomThresholds(t *testing.T) {
	spec := DefaultSpec()
	spec.Thresholds = Thresholds{CPUPercent: 50, MemoryMB: 10}
	rs := mustRuleSet(t, spec)

	alerts := Evaluate(rs, []model.Event{processEvent(51, 5)})
	require.Len(t, alerts, 1)
	assert.Equal(t, RuleHighCPU, alerts[0].Rule())
}

func TestEvaluate_UnknownTypeAndMissingFields(t *testing.T) {
	rs := DefaultRuleSet("test")
	events := []model.Event{
		{EventType: "disk", Data: map[string]any{"cpu_percent": 99.0}, CreatedAt: testTime},
		{EventType: EventTypeProcess, Data: map[string]any{"name": "idle"}, CreatedAt: testTime},
		{EventType: EventTypeProcess, Data: map[string]any{"cpu_percent": "high"}, CreatedAt: testTime},
	}
	assert.Empty(t, Evaluate(rs, events))
	assert.Nil(t, Evaluate(nil, events))
}

func TestEvaluate_Deterministic(t *testing.T) {
	rs := DefaultRuleSet("test")
	events := []model.Event{processEvent(95, 2048), networkEvent("198.51.100.7:22")}

	first := Evaluate(rs, events)
	second := Evaluate(rs, events)
	require.Len(t, first, 3)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Title, second[i].Title)
	}

	later := processEvent(95, 2048)
	later.CreatedAt = testTime.Add(time.Second)
	other := Evaluate(rs, []model.Event{later})
	assert.NotEqual(t, first[0].ID, other[0].ID)
}

func TestEvaluate_EmbedsEventData(t *testing.T) {
	rs := DefaultRuleSet("test")
	alerts := Evaluate(rs, []model.Event{processEvent(95, 1)})
	require.Len(t, alerts, 1)

	embedded, ok := alerts[0].Details["event_data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, EventTypeProcess, embedded["event_type"])
	assert.Equal(t, testTime.Format(time.RFC3339Nano), alerts[0].Details["timestamp"])
}
