// Package logging provides a small level-gated logger: timestamped lines
// written to a file, a minimum level, and an optional stdout mirror.
package logging

import (
	"fmt"
	"os"
	"sync"
	"time"

	"minitrain-core/internal/clock"
)

// Level orders log severities from the most to least verbose.
type Level int

const (
	TRACE Level = iota
	DEBUG
	INFO
	WARN
	ERROR
	CRITICAL
)

func (l Level) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case CRITICAL:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Logger writes level-gated, timestamped lines to a file and optionally
// to stdout. Timestamps come from an injected clock.Source rather than
// time.Now directly, so a test can pin what a log line records the same
// way internal/controller pins fail-safe/pilot-release timing.
type Logger struct {
	mu         sync.Mutex
	minLevel   Level
	file       *os.File
	alsoStdout bool
	clk        clock.Source
}

// NewFileLogger opens (creating/appending) filePath for logging, timestamping
// lines from the real wall clock.
func NewFileLogger(filePath string, minLevel Level, alsoStdout bool) (*Logger, error) {
	return NewFileLoggerWithClock(filePath, minLevel, alsoStdout, clock.Real{})
}

// NewFileLoggerWithClock is NewFileLogger with an injectable clock.Source,
// for tests that need deterministic timestamps.
func NewFileLoggerWithClock(filePath string, minLevel Level, alsoStdout bool, clk clock.Source) (*Logger, error) {
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &Logger{minLevel: minLevel, file: f, alsoStdout: alsoStdout, clk: clk}, nil
}

// Close closes the underlying log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// SetMinLevel changes the minimum level that is written.
func (l *Logger) SetMinLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
}

func (l *Logger) log(level Level, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.minLevel {
		return
	}

	ts := l.clk.Now().Format(time.RFC3339Nano)
	line := fmt.Sprintf("%s [%s] %s\n", ts, level.String(), fmt.Sprintf(msg, args...))

	if l.file != nil {
		_, _ = l.file.WriteString(line)
		_ = l.file.Sync()
	}
	if l.alsoStdout {
		_, _ = os.Stdout.WriteString(line)
	}
}

func (l *Logger) Trace(msg string, args ...any)    { l.log(TRACE, msg, args...) }
func (l *Logger) Debug(msg string, args ...any)    { l.log(DEBUG, msg, args...) }
func (l *Logger) Info(msg string, args ...any)     { l.log(INFO, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)     { l.log(WARN, msg, args...) }
func (l *Logger) Error(msg string, args ...any)    { l.log(ERROR, msg, args...) }
func (l *Logger) Critical(msg string, args ...any) { l.log(CRITICAL, msg, args...) }

// ParseLevel maps a CLI-style level name to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch s {
	case "trace":
		return TRACE
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	case "critical":
		return CRITICAL
	default:
		return INFO
	}
}
