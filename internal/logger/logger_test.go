package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestColorTextHandlerColorsLevel(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, true)
	l := slog.New(h)
	l.Warn("dns lock missing")
	out := buf.String()
	// TextHandler quotes the message, so the escape byte appears in its
	// escaped spelling.
	if !strings.Contains(out, `\x1b[33m`) {
		t.Fatalf("expected yellow escape for warn, got %q", out)
	}
	if !strings.Contains(out, "WARN") {
		t.Fatalf("level token missing: %q", out)
	}
	if !strings.Contains(out, "dns lock missing") {
		t.Fatalf("message missing: %q", out)
	}
}

func TestColorTextHandlerDropsTime(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, false)
	slog.New(h).Info("boot")
	if strings.Contains(buf.String(), "time=") {
		t.Fatalf("time attribute kept despite showTime=false: %q", buf.String())
	}

	buf.Reset()
	h = NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, true)
	slog.New(h).Info("boot")
	if !strings.Contains(buf.String(), "time=") {
		t.Fatalf("time attribute missing despite showTime=true: %q", buf.String())
	}
}

func TestNewWritesToFile(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Dir: dir})
	l.Info("boot", "component", "test")
	b, err := os.ReadFile(filepath.Join(dir, "restraint.log"))
	if err != nil {
		t.Fatalf("log file: %v", err)
	}
	if !strings.Contains(string(b), "boot") {
		t.Fatalf("log file missing record: %q", b)
	}
	// File handler must not carry ANSI escapes.
	if strings.Contains(string(b), "\033[") {
		t.Fatalf("file log contains color escapes: %q", b)
	}
}

func TestNewDebugLevel(t *testing.T) {
	l := New(Config{Debug: true})
	if !l.Enabled(t.Context(), slog.LevelDebug) {
		t.Fatal("debug level should be enabled")
	}
}
