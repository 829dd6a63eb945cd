package api

import (
	"cmp"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"sentinel/internal/model"
	"sentinel/internal/pipeline"
	"sentinel/internal/rules"
)

const (
	statsWindowLimit = 1000
	activeAlertAge   = 24 * time.Hour
	statusPeek       = 5
)

func (s *Server) getRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        apiName,
		"version":     s.deps.Info.Version,
		"description": "Host monitoring and alerting API",
		"endpoints": map[string]string{
			"health":  "/health",
			"status":  "/status",
			"events":  "/events",
			"alerts":  "/alerts",
			"scan":    "/scan",
			"monitor": "/monitor",
			"rules":   "/rules",
			"stats":   "/stats",
			"metrics": "/metrics",
		},
	})
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	database := componentHealthy
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		s.logger.Warn("health: store ping failed", slog.String("error", err.Error()))
		database = componentUnhealthy
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.now().UTC(),
		"version":   s.deps.Info.Version,
		"components": map[string]any{
			"database":    database,
			"collectors":  s.deps.Service.CollectorStatus(r.Context()),
			"rule_engine": componentHealthy,
		},
	})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.Store.LatestEvents(r.Context(), statusPeek)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "status check failed: "+err.Error())
		return
	}
	alerts, err := s.deps.Store.LatestAlerts(r.Context(), statusPeek)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "status check failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"timestamp":  s.now().UTC(),
		"collectors": s.deps.Service.CollectorStatus(r.Context()),
		"rules":      s.deps.Rules.Summary(),
		"configuration": map[string]any{
			"host":                s.deps.Info.Host,
			"db_driver":           s.deps.Info.DBDriver,
			"collection_interval": s.deps.Info.CollectionInterval.Seconds(),
		},
		"recent_data": map[string]int{
			"events_count": len(events),
			"alerts_count": len(alerts),
		},
	})
}

func (s *Server) getEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 20, 1, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := s.deps.Store.LatestEvents(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch events: "+err.Error())
		return
	}

	eventType := r.URL.Query().Get("event_type")
	severity := r.URL.Query().Get("severity")
	out := make([]model.Event, 0, len(events))
	for _, event := range events {
		if eventType != "" && event.EventType != eventType {
			continue
		}
		if severity != "" {
			if value, _ := event.String("severity"); value != severity {
				continue
			}
		}
		out = append(out, event)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getAlerts(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 20, 1, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	active, err := boolQuery(r, "active", true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var severity model.Severity
	if raw := r.URL.Query().Get("severity"); raw != "" {
		if severity, err = model.ParseSeverity(raw); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	alerts, err := s.deps.Store.LatestAlerts(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch alerts: "+err.Error())
		return
	}

	cutoff := s.now().Add(-activeAlertAge)
	out := make([]model.Alert, 0, len(alerts))
	for _, alert := range alerts {
		if severity != "" && alert.Severity != severity {
			continue
		}
		if active && !alert.CreatedAt.After(cutoff) {
			continue
		}
		out = append(out, alert)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) postScan(w http.ResponseWriter, r *http.Request) {
	scan := s.deps.Service.CollectAndAlert(r.Context())

	status := "success"
	eventsStored, alertsStored := len(scan.Events), len(scan.Alerts)
	body := map[string]any{}
	if err := s.deps.Persist.Consume(r.Context(), scan); err != nil {
		s.logger.Error("manual scan persistence failed", slog.String("error", err.Error()))
		status = "partial"
		// An error without sink names comes from a bare store sink.
		failed := pipeline.FailedSinks(err)
		if len(failed) == 0 || slices.Contains(failed, pipeline.StoreSinkName) {
			eventsStored, alertsStored = 0, 0
		}
		body["error"] = err.Error()
	}

	types := make([]string, 0, 2)
	for _, event := range scan.Events {
		if !slices.Contains(types, event.EventType) {
			types = append(types, event.EventType)
		}
	}

	body["status"] = status
	body["timestamp"] = s.now().UTC()
	body["scan_results"] = map[string]int{
		"events_collected": len(scan.Events),
		"events_stored":    eventsStored,
		"alerts_generated": len(scan.Alerts),
		"alerts_stored":    alertsStored,
	}
	body["event_types"] = types
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) getRules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Rules.Summary())
}

func (s *Server) postRulesReload(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Rules.Reload(r.Context()); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"status":    "failed",
			"timestamp": s.now().UTC(),
			"message":   "Failed to reload rules",
			"error":     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"timestamp": s.now().UTC(),
		"message":   "Rules reloaded successfully",
		"rules":     s.deps.Rules.Summary(),
	})
}

// Stats is the aggregate view over a recent window of stored data.
type Stats struct {
	TotalEvents       int            `json:"total_events"`
	TotalAlerts       int            `json:"total_alerts"`
	EventDistribution map[string]int `json:"event_distribution"`
	AlertDistribution map[string]int `json:"alert_distribution"`
	EventsPerHour     float64        `json:"events_per_hour"`
	AlertsPerHour     float64        `json:"alerts_per_hour"`
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	hours, err := intQuery(r, "hours", 24, 1, 168)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := s.deps.Store.LatestEvents(r.Context(), statsWindowLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "statistics calculation failed: "+err.Error())
		return
	}
	alerts, err := s.deps.Store.LatestAlerts(r.Context(), statsWindowLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "statistics calculation failed: "+err.Error())
		return
	}

	now := s.now()
	writeJSON(w, http.StatusOK, map[string]any{
		"period_hours": hours,
		"timestamp":    now.UTC(),
		"statistics":   computeStats(events, alerts, now.Add(-time.Duration(hours)*time.Hour), hours),
	})
}

// computeStats counts events and alerts created strictly after cutoff.
func computeStats(events []model.Event, alerts []model.Alert, cutoff time.Time, hours int) Stats {
	stats := Stats{
		EventDistribution: map[string]int{},
		AlertDistribution: map[string]int{},
	}
	for _, event := range events {
		if !event.CreatedAt.After(cutoff) {
			continue
		}
		stats.TotalEvents++
		stats.EventDistribution[event.EventType]++
	}
	for _, alert := range alerts {
		if !alert.CreatedAt.After(cutoff) {
			continue
		}
		stats.TotalAlerts++
		stats.AlertDistribution[string(alert.Severity)]++
	}
	stats.EventsPerHour = float64(stats.TotalEvents) / float64(hours)
	stats.AlertsPerHour = float64(stats.TotalAlerts) / float64(hours)
	return stats
}

func (s *Server) getProcesses(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 50, 1, 200)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sortBy := r.URL.Query().Get("sort_by")
	if sortBy == "" {
		sortBy = "cpu"
	}
	compare, ok := processOrders[sortBy]
	if !ok {
		writeError(w, http.StatusBadRequest, "sort_by: must be one of cpu, memory, pid, name")
		return
	}

	processes, err := s.recentOfType(r, rules.EventTypeProcess)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch processes: "+err.Error())
		return
	}
	slices.SortStableFunc(processes, compare)
	writeJSON(w, http.StatusOK, processes[:min(limit, len(processes))])
}

func (s *Server) getNetwork(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 50, 1, 200)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	connections, err := s.recentOfType(r, rules.EventTypeNetwork)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch network connections: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, connections[:min(limit, len(connections))])
}

// recentOfType filters the stored window down to one event type, newest first.
func (s *Server) recentOfType(r *http.Request, eventType string) ([]model.Event, error) {
	events, err := s.deps.Store.LatestEvents(r.Context(), statsWindowLimit)
	if err != nil {
		return nil, err
	}
	out := make([]model.Event, 0, len(events))
	for _, event := range events {
		if event.EventType == eventType {
			out = append(out, event)
		}
	}
	return out, nil
}

var processOrders = map[string]func(a, b model.Event) int{
	"cpu":    descendingBy("cpu_percent"),
	"memory": descendingBy("memory_mb"),
	"pid": func(a, b model.Event) int {
		left, _ := a.Number("pid")
		right, _ := b.Number("pid")
		return cmp.Compare(left, right)
	},
	"name": func(a, b model.Event) int {
		left, _ := a.String("name")
		right, _ := b.String("name")
		return cmp.Compare(left, right)
	},
}

func descendingBy(key string) func(a, b model.Event) int {
	return func(a, b model.Event) int {
		left, _ := a.Number(key)
		right, _ := b.Number(key)
		return cmp.Compare(right, left)
	}
}
