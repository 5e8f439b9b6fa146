package util

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoggerLevelsAndPrecision(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, false).WithColor(false).WithPrecision(3)
	logger.Infof("value=%s", logger.Float(1.23456))
	logger.Debugf("hidden")
	out := buf.String()
	if !strings.Contains(out, "INFO value=1.235") {
		t.Fatalf("unexpected log output: %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line must be suppressed when not verbose: %q", out)
	}
}

func TestLoggerVerboseAndNaN(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, true).WithColor(false)
	logger.Debugf("shown")
	logger.Warnf("value=%s", logger.Float(math.NaN()))
	out := buf.String()
	if !strings.Contains(out, "DEBUG shown") || !strings.Contains(out, "WARN value=NaN") {
		t.Fatalf("unexpected log output: %q", out)
	}
}

type failingCloser struct{}

func (*failingCloser) Close() error { return errors.New("boom") }

func TestCloseLogsErrorsAndSkipsNil(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, false).WithColor(false)
	var nilCloser *failingCloser
	logger.Close(nil, "none")
	logger.Close(nilCloser, "typed nil")
	if buf.Len() != 0 {
		t.Fatalf("nil closers must be ignored: %q", buf.String())
	}
	logger.Close(&failingCloser{}, "archive")
	if !strings.Contains(buf.String(), "WARN close archive: boom") {
		t.Fatalf("unexpected log output: %q", buf.String())
	}
}

func TestOpenLogFileAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "run.log")
	_, closer, err := OpenLogFile(path)
	if err != nil {
		t.Fatalf("open log file: %v", err)
	}
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("log file missing: %v", err)
	}
}
