package util

import (
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"strconv"
)

const (
	colorReset  = "\x1b[0m"
	colorRed    = "\x1b[31m"
	colorGreen  = "\x1b[32m"
	colorYellow = "\x1b[33m"
	colorBlue   = "\x1b[34m"
	colorGray   = "\x1b[90m"
)

// DefaultPrecision is the number of decimals used when formatting floats in logs.
const DefaultPrecision = 2

// Logger writes leveled, colorized log lines. It is passed explicitly to every
// component instead of living in package state.
type Logger struct {
	out       *log.Logger
	verbose   bool
	precision int
	color     bool
}

// NewLogger returns a logger writing to w.
func NewLogger(w io.Writer, verbose bool) *Logger {
	if w == nil {
		w = io.Discard
	}
	return &Logger{
		out:       log.New(w, "", log.LstdFlags|log.Lmicroseconds),
		verbose:   verbose,
		precision: DefaultPrecision,
		color:     true,
	}
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *Logger {
	return NewLogger(io.Discard, false)
}

// WithPrecision sets the float precision used by Float.
func (l *Logger) WithPrecision(precision int) *Logger {
	if precision < 0 {
		precision = DefaultPrecision
	}
	l.precision = precision
	return l
}

// WithColor toggles ANSI colors on level tags.
func (l *Logger) WithColor(enabled bool) *Logger {
	l.color = enabled
	return l
}

// Verbose reports whether debug lines are emitted.
func (l *Logger) Verbose() bool {
	return l != nil && l.verbose
}

// Infof logs an info message.
func (l *Logger) Infof(format string, args ...any) {
	l.printf(colorGreen, "INFO", format, args...)
}

// Warnf logs a warning message.
func (l *Logger) Warnf(format string, args ...any) {
	l.printf(colorYellow, "WARN", format, args...)
}

// Errorf logs an error message.
func (l *Logger) Errorf(format string, args ...any) {
	l.printf(colorRed, "ERROR", format, args...)
}

// Highlightf logs a highlighted message.
func (l *Logger) Highlightf(format string, args ...any) {
	l.printf(colorBlue, "NOTE", format, args...)
}

// Debugf logs only when the logger is verbose.
func (l *Logger) Debugf(format string, args ...any) {
	if !l.Verbose() {
		return
	}
	l.printf(colorGray, "DEBUG", format, args...)
}

// Float formats v with the configured precision.
func (l *Logger) Float(v float64) string {
	precision := DefaultPrecision
	if l != nil {
		precision = l.precision
	}
	if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'f', precision, 64)
}

func (l *Logger) printf(color, level, format string, args ...any) {
	if l == nil {
		return
	}
	tag := level
	if l.color {
		tag = colorize(color, level)
	}
	l.out.Printf("%s %s", tag, fmt.Sprintf(format, args...))
}

func colorize(color, msg string) string {
	return color + msg + colorReset
}

// OpenLogFile opens path for appending and returns a writer teeing stdout and the file.
// The returned closer must be closed by the caller.
func OpenLogFile(path string) (io.Writer, io.Closer, error) {
	if path == "" {
		return os.Stdout, nil, nil
	}
	if err := EnsureParentDir(path); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return io.MultiWriter(os.Stdout, f), f, nil
}
