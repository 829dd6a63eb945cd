package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sentinel/internal/config"
)

// TestColorLineWriter_HighlightsLevelAndTokens verifies level and token coloring.
// Params: testing.T for assertions.
// Returns: none.
func TestColorLineWriter_HighlightsLevelAndTokens(t *testing.T) {
	var dst bytes.Buffer
	writer := &colorLineWriter{dst: &dst}

	line := `level=INFO msg="hello" peer=10.20.30.40 retries=3`
	if _, err := writer.Write([]byte(line)); err != nil {
		t.Fatalf("write: %v", err)
	}

	rendered := dst.String()
	if !strings.HasPrefix(rendered, ansiBlue) {
		t.Fatalf("expected INFO line base color")
	}
	if !strings.Contains(rendered, ansiGreen+`"hello"`+ansiReset+ansiBlue) {
		t.Fatalf("expected quoted string token color")
	}
	if !strings.Contains(rendered, ansiCyan+`10.20.30.40`+ansiReset+ansiBlue) {
		t.Fatalf("expected IP token color")
	}
	if !strings.Contains(rendered, ansiYellow+`3`+ansiReset+ansiBlue) {
		t.Fatalf("expected number token color")
	}
	if !strings.HasSuffix(rendered, ansiReset) {
		t.Fatalf("expected trailing reset sequence")
	}
}

// TestColorLineWriter_NoLevelColor verifies passthrough for unknown levels.
// Params: testing.T for assertions.
// Returns: none.
func TestColorLineWriter_NoLevelColor(t *testing.T) {
	var dst bytes.Buffer
	writer := &colorLineWriter{dst: &dst}

	line := `msg="plain" value=42`
	if _, err := writer.Write([]byte(line)); err != nil {
		t.Fatalf("write: %v", err)
	}

	if got := dst.String(); got != line {
		t.Fatalf("expected passthrough line, got %q", got)
	}
}

// TestColorLineWriter_KeepsTrailingNewline verifies reset is placed before the newline.
// Params: testing.T for assertions.
// Returns: none.
func TestColorLineWriter_KeepsTrailingNewline(t *testing.T) {
	var dst bytes.Buffer
	writer := &colorLineWriter{dst: &dst}

	if _, err := writer.Write([]byte("level=ERROR msg=\"failed\"\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	rendered := dst.String()
	if !strings.HasPrefix(rendered, ansiRed) {
		t.Fatalf("expected ERROR line base color")
	}
	if !strings.HasSuffix(rendered, ansiReset+"\n") {
		t.Fatalf("expected reset before newline, got %q", rendered)
	}
}

// TestNew_FileSinkWritesJSON verifies file sink format and level filtering.
// Params: testing.T for assertions.
// Returns: none.
func TestNew_FileSinkWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "sentinel.log")
	logger, closeFn, err := New(config.LogConfig{
		File: config.LogSinkConfig{Enabled: true, Level: "warn", Format: "json", Path: path},
	})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	logger.Info("dropped")
	logger.Warn("rules reload failed", slog.String("rules_file", "rules.yaml"))
	closeFn()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %q", len(lines), raw)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record["msg"] != "rules reload failed" || record["rules_file"] != "rules.yaml" {
		t.Fatalf("unexpected record: %v", record)
	}
}

// TestNew_FanOutAndPanicLevel verifies both sinks receive records and PANIC rendering.
// Params: testing.T for assertions.
// Returns: none.
func TestNew_FanOutAndPanicLevel(t *testing.T) {
	var first, second bytes.Buffer
	h1, err := newHandler(&first, config.LogSinkConfig{Level: "debug", Format: "line"})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	h2, err := newHandler(&second, config.LogSinkConfig{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	logger := slog.New(&fanoutHandler{handlers: []slog.Handler{h1, h2}}).With(slog.String("component", "test"))

	logger.Debug("only first")
	logger.Log(context.Background(), LevelPanic, "fatal")

	if !strings.Contains(first.String(), "only first") || strings.Contains(second.String(), "only first") {
		t.Fatalf("unexpected level routing")
	}
	if !strings.Contains(second.String(), `"level":"PANIC"`) || !strings.Contains(second.String(), `"component":"test"`) {
		t.Fatalf("unexpected panic record: %s", second.String())
	}
}

// TestParseLevel verifies level parsing.
// Params: testing.T for assertions.
// Returns: none.
func TestParseLevel(t *testing.T) {
	if level, err := ParseLevel("WARN"); err != nil || level != slog.LevelWarn {
		t.Fatalf("unexpected level: %v %v", level, err)
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
