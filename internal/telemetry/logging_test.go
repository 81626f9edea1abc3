package telemetry

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoggerWritesRedactedJSON(t *testing.T) {
	home := t.TempDir()
	logger, closer, err := NewLogger(home, "info", true)
	if err != nil {
		t.Fatalf("NewLogger error: %v", err)
	}

	logger.Info("source request",
		"api_key", "super-secret-value",
		"identity", "joao silva",
	)
	if err := closer.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(home, "logs", "system.jsonl"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := strings.TrimSpace(string(raw))
	if strings.Contains(line, "super-secret-value") {
		t.Fatal("secret value reached the log file")
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["api_key"] != "[REDACTED]" {
		t.Fatalf("api_key = %v, want redacted", entry["api_key"])
	}
	if entry["identity"] != "joao silva" {
		t.Fatalf("identity = %v, want untouched", entry["identity"])
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Fatal("timestamp key missing")
	}
	if entry["component"] != "lexflow" {
		t.Fatalf("component = %v", entry["component"])
	}
}
