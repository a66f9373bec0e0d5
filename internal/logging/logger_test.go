package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "info", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("hello", String("step", "fixanat"))

	out := buf.String()
	if !strings.Contains(out, `"msg":"hello"`) {
		t.Errorf("expected JSON message, got %q", out)
	}
	if !strings.Contains(out, `"step":"fixanat"`) {
		t.Errorf("expected step attribute, got %q", out)
	}
}

func TestNewConsoleFormatLevels(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "warn", Format: "console", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("dropped")
	logger.Warn("kept", Int("count", 3))

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info record should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "kept") || !strings.Contains(out, "count=3") {
		t.Errorf("warn record missing: %q", out)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestFileFanoutCapturesDebug(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "fixfmap.log")

	var buf bytes.Buffer
	logger, err := New(Options{Level: "info", Format: "json", Writer: &buf, FilePath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Debug("file only")
	logger.Info("both")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "file only") {
		t.Errorf("debug record missing from file: %q", string(data))
	}
	if strings.Contains(buf.String(), "file only") {
		t.Errorf("debug record should not reach console at info level")
	}
}

func TestNewComponentLogger(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	NewComponentLogger(base, "scanindex").Info("row added")

	if !strings.Contains(buf.String(), `"component":"scanindex"`) {
		t.Errorf("component attribute missing: %q", buf.String())
	}

	// nil base must not panic
	NewComponentLogger(nil, "scanindex").Info("discarded")
}
