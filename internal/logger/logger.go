// Package logger provides the process-wide structured logger for FSGate.
//
// It wraps log/slog with a package-level API so every component logs through
// the same handler. Output format (colored text or JSON), minimum level, and
// destination are set once at startup via Init; the zero configuration logs
// INFO and above as text to stdout.
package logger

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config holds logger configuration.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or a file path
}

var (
	mu       sync.RWMutex
	slogger  = slog.New(newTextHandler(os.Stdout, slog.LevelInfo, isTerminal(os.Stdout.Fd())))
	levelVar slog.LevelVar
)

// Init configures the package logger. Safe to call more than once; the last
// call wins. Returns an error only when Output names a file that cannot be
// opened.
func Init(cfg Config) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}

	output := os.Stdout
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
	case "stderr":
		output = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log output %q: %w", cfg.Output, err)
		}
		output = f
	}

	levelVar.Set(level)

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(output, &slog.HandlerOptions{Level: &levelVar})
	} else {
		handler = newTextHandler(output, &levelVar, isTerminal(output.Fd()))
	}

	mu.Lock()
	slogger = slog.New(handler)
	mu.Unlock()
	return nil
}

// SetLevel changes the minimum level without rebuilding the handler.
func SetLevel(level string) {
	if l, err := parseLevel(level); err == nil {
		levelVar.Set(l)
	}
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(level) {
	case "", "INFO":
		return slog.LevelInfo, nil
	case "DEBUG":
		return slog.LevelDebug, nil
	case "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q (want DEBUG, INFO, WARN, or ERROR)", level)
	}
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return slogger
}

// Debug logs at DEBUG level with slog-style key/value pairs.
func Debug(msg string, args ...any) { current().Debug(msg, args...) }

// Info logs at INFO level with slog-style key/value pairs.
func Info(msg string, args ...any) { current().Info(msg, args...) }

// Warn logs at WARN level with slog-style key/value pairs.
func Warn(msg string, args ...any) { current().Warn(msg, args...) }

// Error logs at ERROR level with slog-style key/value pairs.
func Error(msg string, args ...any) { current().Error(msg, args...) }

// With returns a logger carrying the given attributes on every record.
func With(args ...any) *slog.Logger { return current().With(args...) }
