package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestPrettyHandlerFormatsComponentAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelDebug)
	logger := slog.New(newPrettyHandler(&buf, lvl))

	logger = logger.With(String(FieldComponent, "pipeline"))
	logger.Info("stage started", String(FieldStage, "reconstruct"), Int64(FieldPostID, 7))

	line := buf.String()
	if !strings.Contains(line, "INFO pipeline: stage started") {
		t.Fatalf("unexpected line: %q", line)
	}
	if !strings.Contains(line, "stage=reconstruct") || !strings.Contains(line, "post_id=7") {
		t.Fatalf("missing attrs: %q", line)
	}
	if strings.Contains(line, "component=") {
		t.Fatalf("component should be promoted to prefix: %q", line)
	}
}

func TestPrettyHandlerQuotesValuesWithSpaces(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newPrettyHandler(&buf, lvl))

	logger.Warn("classify", String("file", "camera trajectory.txt"))

	if !strings.Contains(buf.String(), `file="camera trajectory.txt"`) {
		t.Fatalf("expected quoted value: %q", buf.String())
	}
}

func TestPrettyHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelWarn)
	logger := slog.New(newPrettyHandler(&buf, lvl))

	logger.Info("quiet")
	if buf.Len() != 0 {
		t.Fatalf("expected info suppressed, got %q", buf.String())
	}
	logger.Error("loud")
	if !strings.Contains(buf.String(), "ERROR loud") {
		t.Fatalf("expected error logged, got %q", buf.String())
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "yaml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := NewNop()
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("nop logger should be disabled at every level")
	}
}
