package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestPreInitLoggerUsesConfiguredHandler(t *testing.T) {
	logger := L("scanner")

	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger.Info("scan complete", "files", 3)

	out := buf.String()
	if !strings.Contains(out, "msg=\"scan complete\"") {
		t.Fatalf("expected message, got: %s", out)
	}
	if !strings.Contains(out, "component=scanner") {
		t.Fatalf("expected component field, got: %s", out)
	}
	if !strings.Contains(out, "files=3") {
		t.Fatalf("expected files field, got: %s", out)
	}
}

func TestLoggerRespectsConfiguredLevel(t *testing.T) {
	logger := L("verifier")

	var buf bytes.Buffer
	Init("text", "warn", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info log should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn log should be emitted: %s", out)
	}
}

func TestJSONFormat(t *testing.T) {
	logger := L("reaper").With(KeyPath, "/tmp/a")

	var buf bytes.Buffer
	Init("json", "debug", &buf)

	logger.Debug("deleted")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if rec[KeyComponent] != "reaper" || rec[KeyPath] != "/tmp/a" {
		t.Fatalf("unexpected fields: %v", rec)
	}
}

func TestValidLevel(t *testing.T) {
	for _, lvl := range []string{"", "debug", "INFO", "warning", "error"} {
		if !ValidLevel(lvl) {
			t.Errorf("ValidLevel(%q) = false, want true", lvl)
		}
	}
	if ValidLevel("verbose") {
		t.Error("ValidLevel(verbose) = true, want false")
	}
}

func TestSwitchBetweenFormats(t *testing.T) {
	logger := L("finder")

	for _, format := range []string{"text", "json", "text", "json"} {
		var buf bytes.Buffer
		Init(format, "info", &buf)
		logger.Info("switched")

		out := strings.TrimSpace(buf.String())
		isJSON := json.Valid([]byte(out))
		if (format == "json") != isJSON {
			t.Errorf("format %s: got %q", format, out)
		}
		if !strings.Contains(out, "switched") {
			t.Errorf("format %s: message missing from %q", format, out)
		}
	}
	Init("text", "warn", nil)
}
