package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestTelemetry_ObserveScan verifies counter fan-out per label.
// Params: testing.T for assertions.
// Returns: none.
func TestTelemetry_ObserveScan(t *testing.T) {
	tel := New()
	tel.ObserveScan(0.2, map[string]int{"process": 3, "network": 2}, map[string]int{"high": 1}, []string{"NetworkCollector"})
	tel.ObserveScan(0.1, map[string]int{"process": 1}, nil, nil)

	if got := testutil.ToFloat64(tel.ScansTotal); got != 2 {
		t.Fatalf("unexpected scans: %v", got)
	}
	if got := testutil.ToFloat64(tel.EventsTotal.WithLabelValues("process")); got != 4 {
		t.Fatalf("unexpected process events: %v", got)
	}
	if got := testutil.ToFloat64(tel.AlertsTotal.WithLabelValues("high")); got != 1 {
		t.Fatalf("unexpected alerts: %v", got)
	}
	if got := testutil.ToFloat64(tel.CollectorErrors.WithLabelValues("NetworkCollector")); got != 1 {
		t.Fatalf("unexpected collector errors: %v", got)
	}
}

// TestTelemetry_ObserveReload verifies result labels and active-set gauges.
// Params: testing.T for assertions.
// Returns: none.
func TestTelemetry_ObserveReload(t *testing.T) {
	tel := New()
	tel.ObserveReload(3, 7, nil)
	tel.ObserveReload(3, 7, errors.New("bad document"))

	if got := testutil.ToFloat64(tel.RuleReloads.WithLabelValues("failure")); got != 1 {
		t.Fatalf("unexpected failures: %v", got)
	}
	if got := testutil.ToFloat64(tel.RulesVersion); got != 3 {
		t.Fatalf("unexpected version: %v", got)
	}
	if got := testutil.ToFloat64(tel.BlocklistSize); got != 7 {
		t.Fatalf("unexpected blocklist size: %v", got)
	}
}

// TestTelemetry_InstancesAreIndependent verifies private registries do not collide.
// Params: testing.T for assertions.
// Returns: none.
func TestTelemetry_InstancesAreIndependent(t *testing.T) {
	first := New()
	second := New()
	first.TickFailures.Inc()

	if got := testutil.ToFloat64(second.TickFailures); got != 0 {
		t.Fatalf("registries leaked state: %v", got)
	}

	rec := httptest.NewRecorder()
	first.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "sentinel_tick_failures_total 1") {
		t.Fatalf("exposition missing counter:\n%s", body)
	}
}
