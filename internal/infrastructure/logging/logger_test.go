package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/mbaxter-dev/sparkhist/internal/infrastructure/config"
)

// captureLogger builds a Logger writing JSON into buf, with the same
// default attributes New would attach.
func captureLogger(buf *bytes.Buffer) *Logger {
	handler := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}).
		WithAttrs([]slog.Attr{
			slog.String("service", "sparkhist"),
			slog.String("version", "test"),
		})
	return &Logger{Logger: slog.New(handler)}
}

func decodeRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("parsing log output %q: %v", buf.String(), err)
	}
	return record
}

func TestNew(t *testing.T) {
	configs := []config.LoggingConfig{
		{Level: "info", Format: "json", Output: "stdout"},
		{Level: "debug", Format: "text", Output: "stderr"},
		{},
	}
	for _, cfg := range configs {
		if New(cfg, "1.0.0") == nil {
			t.Errorf("New(%+v) returned nil", cfg)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	log := captureLogger(&buf)

	child := log.With("component", "ingest")
	if child == log {
		t.Fatal("With() returned the parent logger")
	}

	child.Info("batch committed")
	record := decodeRecord(t, &buf)
	if record["component"] != "ingest" {
		t.Errorf("component = %v, want ingest", record["component"])
	}
	if record["service"] != "sparkhist" {
		t.Errorf("child lost service attribute: %v", record["service"])
	}
}

func TestDefault(t *testing.T) {
	if Default() == nil {
		t.Fatal("Default() returned nil")
	}
}

func TestDefaultFieldsOnEveryRecord(t *testing.T) {
	var buf bytes.Buffer
	log := captureLogger(&buf)

	log.Info("device recorded", "device", "press7")

	record := decodeRecord(t, &buf)
	if record["service"] != "sparkhist" {
		t.Errorf("service = %v, want sparkhist", record["service"])
	}
	if record["version"] != "test" {
		t.Errorf("version = %v, want test", record["version"])
	}
	if record["msg"] != "device recorded" {
		t.Errorf("msg = %v", record["msg"])
	}
	if record["device"] != "press7" {
		t.Errorf("device = %v, want press7", record["device"])
	}
}
