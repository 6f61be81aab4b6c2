package diagnose

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestStructuredLogger_FiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(LevelWarn, &buf)

	l.Warn("this one shows")
	if buf.Len() == 0 {
		t.Fatal("expected Warn to be written at LevelWarn")
	}

	buf.Reset()
	// Error is logged through the same Logger interface; Warn at a
	// higher-filtering level should be dropped.
	quiet := NewLoggerWithWriter(LevelError, &buf)
	quiet.Warn("should be dropped")
	if buf.Len() != 0 {
		t.Errorf("expected Warn to be dropped at LevelError, got %q", buf.String())
	}
}

func TestStructuredLogger_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(LevelInfo, &buf)

	l.Error("hook panicked", Field{Key: "index", Value: 3})

	var entry map[string]any
	line := strings.TrimSpace(buf.String())
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v (%q)", err, line)
	}
	if entry["msg"] != "hook panicked" {
		t.Errorf("msg = %v, want %q", entry["msg"], "hook panicked")
	}
	if entry["index"] != float64(3) {
		t.Errorf("index = %v, want 3", entry["index"])
	}
}

func TestNopLogger_DiscardsEverything(t *testing.T) {
	l := NewNopLogger()
	l.Warn("ignored")
	l.Error("also ignored")
}
