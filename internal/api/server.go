package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"sentinel/internal/collector"
	"sentinel/internal/metrics"
	"sentinel/internal/pipeline"
	"sentinel/internal/rules"
	"sentinel/internal/store"
)

const (
	apiName    = "Sentinel API"
	apiVersion = "1.0.0"

	componentHealthy   = "healthy"
	componentUnhealthy = "unhealthy"
)

// Service is the collection surface used by the API.
type Service interface {
	CollectAndAlert(ctx context.Context) collector.Scan
	CollectorStatus(ctx context.Context) map[string]collector.Status
}

// RuleEngine exposes the active rule set and its reload trigger.
type RuleEngine interface {
	Summary() rules.Summary
	Reload(ctx context.Context) error
}

// Streamer runs one bounded live-monitoring session.
type Streamer interface {
	Run(ctx context.Context, requested time.Duration, emit func(pipeline.Frame) error) (int, error)
}

// Info carries static runtime facts reported by /status.
type Info struct {
	Version            string
	Host               string
	DBDriver           string
	CollectionInterval time.Duration
}

// Deps wires the API to shared runtime components.
type Deps struct {
	Service   Service
	Rules     RuleEngine
	Store     store.Repository
	Persist   pipeline.Sink
	Stream    Streamer
	Telemetry *metrics.Telemetry
	Logger    *slog.Logger
	Info      Info
	Now       func() time.Time
}

// Server is the HTTP control surface of the agent.
type Server struct {
	r        *chi.Mux
	deps     Deps
	logger   *slog.Logger
	now      func() time.Time
	upgrader websocket.Upgrader
}

// NewServer validates dependencies and mounts every route.
// Params: deps shared runtime components.
// Returns: server or validation error.
func NewServer(deps Deps) (*Server, error) {
	switch {
	case deps.Service == nil:
		return nil, fmt.Errorf("service is required")
	case deps.Rules == nil:
		return nil, fmt.Errorf("rule engine is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("store is required")
	case deps.Stream == nil:
		return nil, fmt.Errorf("streamer is required")
	}
	if deps.Persist == nil {
		deps.Persist = pipeline.NewStoreSink(deps.Store)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Info.Version == "" {
		deps.Info.Version = apiVersion
	}

	s := &Server{
		r:      chi.NewRouter(),
		deps:   deps,
		logger: deps.Logger,
		now:    deps.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	s.r.Use(middleware.RequestID)
	s.r.Use(middleware.RealIP)
	s.r.Use(s.requestLogger)
	s.r.Use(middleware.Recoverer)
	s.r.Use(cors)

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.r.Get("/", s.getRoot)
	s.r.Get("/health", s.getHealth)
	s.r.Get("/status", s.getStatus)

	s.r.Get("/events", s.getEvents)
	s.r.Get("/alerts", s.getAlerts)
	s.r.Get("/stats", s.getStats)
	s.r.Get("/processes", s.getProcesses)
	s.r.Get("/network", s.getNetwork)

	s.r.Post("/scan", s.postScan)

	s.r.Get("/rules", s.getRules)
	s.r.Post("/rules/reload", s.postRulesReload)

	// Streams
	s.r.Get("/monitor", s.getMonitor)
	s.r.Get("/ws/monitor", s.getMonitorWS)

	if s.deps.Telemetry != nil {
		s.r.Method(http.MethodGet, "/metrics", s.deps.Telemetry.Handler())
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler { return s.r }

// requestLogger logs one line per request after the handler returns.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug(
			"http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// cors allows browser dashboards on other origins to read the API.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders {"detail": msg}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

var errOutOfRange = errors.New("out of range")

// intQuery parses an optional integer query parameter within [lo, hi].
// Params: r request; name parameter; def default when absent; lo/hi inclusive bounds.
// Returns: parsed value or a client error.
func intQuery(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: not an integer: %q", name, raw)
	}
	if value < lo || value > hi {
		return 0, fmt.Errorf("%s: %w [%d, %d]: %d", name, errOutOfRange, lo, hi, value)
	}
	return value, nil
}

// boolQuery parses an optional boolean query parameter.
func boolQuery(r *http.Request, name string, def bool) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: not a boolean: %q", name, raw)
	}
	return value, nil
}
