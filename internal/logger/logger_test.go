package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New("info")
	log = log.Output(&buf)

	log.Info().Msg("test message")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON output, got error: %v, output: %s", err, buf.String())
	}

	if entry["message"] != "test message" {
		t.Errorf("expected message 'test message', got %v", entry["message"])
	}
	if _, ok := entry["time"]; !ok {
		t.Error("expected 'time' field in JSON output")
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		logLevel  string // level to log at
		shouldLog bool
	}{
		{"info logger logs info", "info", "info", true},
		{"info logger logs warn", "info", "warn", true},
		{"info logger skips debug", "info", "debug", false},
		{"debug logger logs debug", "debug", "debug", true},
		{"warn logger skips info", "warn", "info", false},
		{"error logger skips warn", "error", "warn", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := New(tt.level).Output(&buf)

			switch tt.logLevel {
			case "debug":
				log.Debug().Msg("test")
			case "info":
				log.Info().Msg("test")
			case "warn":
				log.Warn().Msg("test")
			case "error":
				log.Error().Msg("test")
			}

			hasOutput := buf.Len() > 0
			if hasOutput != tt.shouldLog {
				t.Errorf("level=%s, logAt=%s: expected shouldLog=%v, got output=%v (%s)",
					tt.level, tt.logLevel, tt.shouldLog, hasOutput, buf.String())
			}
		})
	}
}

func TestNew_InvalidLevel_DefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New("invalid_level").Output(&buf)

	// Should default to info, so debug should not appear
	log.Debug().Msg("debug message")
	if buf.Len() > 0 {
		t.Error("expected debug message to be filtered at info level")
	}

	log.Info().Msg("info message")
	if buf.Len() == 0 {
		t.Error("expected info message to appear at info level")
	}
}

func TestWithCorrelationID(t *testing.T) {
	ctx := context.Background()
	correlationID := "test-correlation-123"

	ctx = WithCorrelationID(ctx, correlationID)

	got := CorrelationIDFromContext(ctx)
	if got != correlationID {
		t.Errorf("expected correlation ID %s, got %s", correlationID, got)
	}
}

func TestFromContext_WithCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	log := New("info").Output(&buf)

	ctx := context.Background()
	ctx = WithLogger(ctx, log)
	ctx = WithCorrelationID(ctx, "req-abc-123")

	ctxLogger := FromContext(ctx)
	ctxLogger.Info().Msg("request handled")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON, got error: %v, output: %s", err, buf.String())
	}

	if entry["correlation_id"] != "req-abc-123" {
		t.Errorf("expected correlation_id 'req-abc-123', got %v", entry["correlation_id"])
	}
}

func TestFromContext_WithoutLogger(t *testing.T) {
	ctx := context.Background()

	// Should return a default logger without panic
	log := FromContext(ctx)
	var buf bytes.Buffer
	log = log.Output(&buf)
	log.Info().Msg("fallback")

	if buf.Len() == 0 {
		t.Error("expected fallback logger to produce output")
	}
}

func TestNewCorrelationID(t *testing.T) {
	id1 := NewCorrelationID()
	id2 := NewCorrelationID()

	if id1 == "" {
		t.Error("expected non-empty correlation ID")
	}
	if id1 == id2 {
		t.Error("expected unique correlation IDs")
	}
	// UUID format: 8-4-4-4-12
	if len(strings.Split(id1, "-")) != 5 {
		t.Errorf("expected UUID format (5 groups), got %s", id1)
	}
}

func TestNewFromConfig_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.log")
	log, closer := NewFromConfig(Config{Level: "debug", Output: "file", FilePath: path, MaxSizeMB: 1, MaxFiles: 1})
	log.Debug().Str("message_id", "m-1").Msg("written to file")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"message_id":"m-1"`) {
		t.Errorf("expected structured field in file output, got %s", data)
	}
}

func TestNewFromConfig_DefaultsToStdout(t *testing.T) {
	log, closer := NewFromConfig(Config{Level: "bogus"})
	defer closer.Close()

	if log.GetLevel() != zerolog.InfoLevel {
		t.Errorf("expected info level, got %s", log.GetLevel())
	}
}

func TestFromContextOr_UsesFallbackWithCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	fallback := New("debug").Output(&buf)

	ctx := WithCorrelationID(context.Background(), "corr-7")
	l := FromContextOr(ctx, fallback)
	l.Debug().Msg("component line")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON, got error: %v, output: %s", err, buf.String())
	}
	if entry["correlation_id"] != "corr-7" {
		t.Errorf("expected correlation_id 'corr-7', got %v", entry["correlation_id"])
	}
}

func TestFromContextOr_PrefersContextLogger(t *testing.T) {
	var ctxBuf, fallbackBuf bytes.Buffer
	ctx := WithLogger(context.Background(), New("info").Output(&ctxBuf))

	l := FromContextOr(ctx, New("info").Output(&fallbackBuf))
	l.Info().Msg("pass line")

	if ctxBuf.Len() == 0 {
		t.Error("expected the context logger to be used")
	}
	if fallbackBuf.Len() != 0 {
		t.Errorf("fallback logger should be unused, got %s", fallbackBuf.String())
	}
}
