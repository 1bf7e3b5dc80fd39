package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestJSONLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "warn", "json")
	log.Info("dropped")
	log.Warn("kept", "request_id", "r1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if rec["msg"] != "kept" || rec["request_id"] != "r1" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestComponentTagsTextOutput(t *testing.T) {
	var buf bytes.Buffer
	log := Component(newLogger(&buf, "debug", "text"), "tracker")
	log.Debug("hello")
	if !strings.Contains(buf.String(), "component=tracker") {
		t.Fatalf("missing component attr: %q", buf.String())
	}
}
