// Package logging wraps log/slog with the console format and audit helper
// used across appredirect.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"grimm.is/appredirect/internal/clock"
)

// Level represents log severity levels.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError

	// levelOff is above every level a caller can emit.
	levelOff = slog.LevelError + 4
)

var (
	defaultLogger *Logger
	defaultMu     sync.Mutex
)

// Logger is a slog.Logger whose level can be changed after creation.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// Config holds logger configuration.
type Config struct {
	Level  Level
	Output io.Writer // defaults to stderr
	JSON   bool
}

// New creates a Logger writing console lines, or JSON when cfg.JSON is set.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	lv := new(slog.LevelVar)
	lv.Set(cfg.Level)
	opts := &slog.HandlerOptions{Level: lv}

	var h slog.Handler = NewConsoleHandler(out, opts)
	if cfg.JSON {
		h = slog.NewJSONHandler(out, opts)
	}
	return &Logger{Logger: slog.New(h), level: lv}
}

// FromSettings builds a logger from the log_level / log_json config values.
func FromSettings(level string, json bool, out io.Writer) (*Logger, error) {
	lv, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return New(Config{Level: lv, Output: out, JSON: json}), nil
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New(Config{Level: levelOff, Output: io.Discard})
}

// ParseLevel maps "debug", "info", "warn" or "error" to a Level. Empty means info.
func ParseLevel(s string) (Level, error) {
	var lv Level
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "":
		return LevelInfo, nil
	case "warning":
		return LevelWarn, nil
	default:
		if err := lv.UnmarshalText([]byte(v)); err != nil {
			return LevelInfo, fmt.Errorf("unknown log level %q", s)
		}
	}
	return lv, nil
}

// Default returns the process-wide logger.
func Default() *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(Config{Level: LevelInfo})
	}
	return defaultLogger
}

// SetDefault replaces the process-wide logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// WithComponent returns a component-scoped logger derived from Default.
func WithComponent(name string) *Logger {
	return Default().WithComponent(name)
}

// SetLevel changes the level of this logger and everything derived from it.
func (l *Logger) SetLevel(level Level) {
	l.level.Set(level)
}

// GetLevel returns the current level.
func (l *Logger) GetLevel() Level {
	return l.level.Level()
}

// WithComponent tags every record with component=name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name), level: l.level}
}

// Audit records a change to the NAT table or to persisted intent. Details are
// emitted in key order so audit lines diff cleanly.
func (l *Logger) Audit(action, resource string, details map[string]any) {
	args := make([]any, 0, 8+2*len(details))
	args = append(args,
		"audit", true,
		"action", action,
		"resource", resource,
		"at", clock.Now().UTC().Format(time.RFC3339),
	)
	for _, k := range slices.Sorted(maps.Keys(details)) {
		args = append(args, k, details[k])
	}
	l.Info("AUDIT", args...)
}
