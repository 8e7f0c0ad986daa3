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
	log := New("info").Output(&buf)

	log.Info().Str("queue", "orders").Msg("message sent")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON output, got error: %v, output: %s", err, buf.String())
	}
	if entry["message"] != "message sent" {
		t.Errorf("expected message 'message sent', got %v", entry["message"])
	}
	if entry["queue"] != "orders" {
		t.Errorf("expected queue field 'orders', got %v", entry["queue"])
	}
	if _, ok := entry["time"]; !ok {
		t.Error("expected 'time' field in JSON output")
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		logLevel  zerolog.Level
		shouldLog bool
	}{
		{"info logger logs info", "info", zerolog.InfoLevel, true},
		{"info logger logs warn", "info", zerolog.WarnLevel, true},
		{"info logger skips debug", "info", zerolog.DebugLevel, false},
		{"debug logger logs debug", "debug", zerolog.DebugLevel, true},
		{"warn logger skips info", "warn", zerolog.InfoLevel, false},
		{"invalid level defaults to info", "loud", zerolog.InfoLevel, true},
		{"empty level defaults to info", "", zerolog.DebugLevel, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := New(tt.level).Output(&buf)
			log.WithLevel(tt.logLevel).Msg("test")

			if got := buf.Len() > 0; got != tt.shouldLog {
				t.Errorf("expected shouldLog=%v, got output %q", tt.shouldLog, buf.String())
			}
		})
	}
}

func TestNewFromConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "queue.log")
	log := NewFromConfig(Config{Level: "debug", Output: "file", FilePath: path, MaxSizeMB: 1, MaxFiles: 1})

	log.Debug().Msg("written to file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("expected log line in file, got %q", data)
	}
}

func TestNewFileWriter_WritesToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "app.log")
	w := NewFileWriter(FileConfig{Path: logPath, MaxSizeMB: 10, MaxFiles: 3})

	msg := []byte(`{"level":"info","message":"hello"}` + "\n")
	n, err := w.Write(msg)
	if err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	if n != len(msg) {
		t.Errorf("expected %d bytes written, got %d", len(msg), n)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if string(data) != string(msg) {
		t.Errorf("expected file content %q, got %q", msg, data)
	}
}

func TestFromContext_CorrelationID(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithLogger(context.Background(), base)
	ctx = WithCorrelationID(ctx, "req-123")

	log := FromContext(ctx)
	log.Info().Msg("with id")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if entry["correlation_id"] != "req-123" {
		t.Errorf("expected correlation_id 'req-123', got %v", entry["correlation_id"])
	}
}

func TestCorrelationIDFromContext_Missing(t *testing.T) {
	if got := CorrelationIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty correlation ID, got %q", got)
	}
}

func TestNewCorrelationID_Unique(t *testing.T) {
	a, b := NewCorrelationID(), NewCorrelationID()
	if a == "" || a == b {
		t.Errorf("expected distinct non-empty IDs, got %q and %q", a, b)
	}
}
