package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, INFO, true)

	logger.WithField("component", "edge").Info("Served prerendered page", map[string]interface{}{
		"path":  "/promises/free-buses",
		"error": errors.New("boom"),
	})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if entry["message"] != "Served prerendered page" {
		t.Errorf("unexpected message %v", entry["message"])
	}
	if entry["level"] != "INFO" {
		t.Errorf("unexpected level %v", entry["level"])
	}
	if entry["component"] != "edge" || entry["path"] != "/promises/free-buses" || entry["error"] != "boom" {
		t.Errorf("missing fields: %v", entry)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, WARN, false)

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("messages below WARN leaked: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("expected warn message, got %s", buf.String())
	}

	logger.SetLevel(DEBUG)
	logger.Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Error("SetLevel did not lower the threshold")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   DEBUG,
		"INFO":    INFO,
		"Warning": WARN,
		"error":   ERROR,
		"fatal":   FATAL,
		"bogus":   INFO,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestFileLogger(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewFileLogger(dir, "tracker", INFO, true)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	logger.Info("hello file")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "tracker.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello file") {
		t.Errorf("log file missing entry: %s", data)
	}
}
