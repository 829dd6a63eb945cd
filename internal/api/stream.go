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

	"github.com/gorilla/websocket"

	"sentinel/internal/pipeline"
)

const (
	defaultStreamSeconds = 60
	wsWriteTimeout       = 10 * time.Second
)

// durationQuery reads ?duration=N seconds; range clamping belongs to the session.
func durationQuery(r *http.Request) (time.Duration, error) {
	raw := r.URL.Query().Get("duration")
	if raw == "" {
		return defaultStreamSeconds * time.Second, nil
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("duration: not an integer: %q", raw)
	}
	return time.Duration(seconds) * time.Second, nil
}

// trackSession bumps the live session gauge.
// Returns: release func to defer.
func (s *Server) trackSession() func() {
	if s.deps.Telemetry == nil {
		return func() {}
	}
	s.deps.Telemetry.StreamSessions.Inc()
	return s.deps.Telemetry.StreamSessions.Dec
}

// getMonitor streams snapshots as server-sent events: "data: <json>\n\n".
func (s *Server) getMonitor(w http.ResponseWriter, r *http.Request) {
	duration, err := durationQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	defer s.trackSession()()
	frames, err := s.deps.Stream.Run(r.Context(), duration, func(frame pipeline.Frame) error {
		data, err := json.Marshal(frame)
		if err != nil {
			return fmt.Errorf("encode frame: %w", err)
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	s.logSessionEnd("sse", frames, err)
}

// getMonitorWS streams the same frames as websocket text messages.
func (s *Server) getMonitorWS(w http.ResponseWriter, r *http.Request) {
	duration, err := durationQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A read loop is required to observe client close frames.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug("websocket read error", slog.String("error", err.Error()))
				}
				return
			}
		}
	}()

	defer s.trackSession()()
	frames, err := s.deps.Stream.Run(ctx, duration, func(frame pipeline.Frame) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(frame)
	})
	s.logSessionEnd("websocket", frames, err)

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session complete"))
}

func (s *Server) logSessionEnd(transport string, frames int, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Info(
			"stream session ended by transport",
			slog.String("transport", transport),
			slog.Int("frames", frames),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Debug("stream session finished", slog.String("transport", transport), slog.Int("frames", frames))
}
