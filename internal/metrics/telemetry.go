package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sentinel"

// Telemetry holds the agent's own Prometheus instruments on a private registry.
type Telemetry struct {
	registry *prometheus.Registry

	ScansTotal      prometheus.Counter
	TickFailures    prometheus.Counter
	EventsTotal     *prometheus.CounterVec
	AlertsTotal     *prometheus.CounterVec
	CollectorErrors *prometheus.CounterVec
	RuleReloads     *prometheus.CounterVec
	RulesVersion    prometheus.Gauge
	BlocklistSize   prometheus.Gauge
	StreamSessions  prometheus.Gauge
	SinkFailures    *prometheus.CounterVec
	ScanDuration    prometheus.Histogram
}

// New registers every instrument plus Go runtime collectors.
// Params: none.
// Returns: telemetry bound to a fresh registry.
func New() *Telemetry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Telemetry{
		registry: registry,
		ScansTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Total number of collect-and-evaluate scans",
		}),
		TickFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_failures_total",
			Help:      "Total number of failed scheduler ticks",
		}),
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of collected events by type",
		}, []string{"event_type"}),
		AlertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Total number of generated alerts by severity",
		}, []string{"severity"}),
		CollectorErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collector_errors_total",
			Help:      "Total number of collector failures by collector",
		}, []string{"collector"}),
		RuleReloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_reloads_total",
			Help:      "Total number of rule reload attempts by result",
		}, []string{"result"}),
		RulesVersion: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rules_version",
			Help:      "Publish sequence of the active rule set",
		}),
		BlocklistSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rules_blocklisted_ips",
			Help:      "Number of blocklisted IPs in the active rule set",
		}),
		StreamSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_sessions_active",
			Help:      "Number of streaming sessions currently running",
		}),
		SinkFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_failures_total",
			Help:      "Total number of scan sink failures by sink",
		}, []string{"sink"}),
		ScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Duration of collect-and-evaluate scans",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Registry exposes the private registry for gathering in tests.
func (t *Telemetry) Registry() *prometheus.Registry {
	return t.registry
}

// Handler serves the registry in Prometheus exposition format.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{Registry: t.registry})
}

// ObserveScan records one scan outcome.
// Params: seconds scan duration; eventsByType and alertsBySeverity tallies; failed collectors.
// Returns: none.
func (t *Telemetry) ObserveScan(seconds float64, eventsByType, alertsBySeverity map[string]int, failed []string) {
	t.ScansTotal.Inc()
	t.ScanDuration.Observe(seconds)
	for eventType, count := range eventsByType {
		t.EventsTotal.WithLabelValues(eventType).Add(float64(count))
	}
	for severity, count := range alertsBySeverity {
		t.AlertsTotal.WithLabelValues(severity).Add(float64(count))
	}
	for _, name := range failed {
		t.CollectorErrors.WithLabelValues(name).Inc()
	}
}

// ObserveReload records a rule reload attempt and the active set's shape.
// Params: version and blocklist size of the active set; err reload error.
// Returns: none.
func (t *Telemetry) ObserveReload(version int64, blocklisted int, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	t.RuleReloads.WithLabelValues(result).Inc()
	t.RulesVersion.Set(float64(version))
	t.BlocklistSize.Set(float64(blocklisted))
}
