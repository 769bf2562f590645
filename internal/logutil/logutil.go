package logutil

import (
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"
)

// Logger is a component-scoped structured logger.
type Logger struct {
	*slog.Logger
}

// Options configure the process-wide log handler.
type Options struct {
	Level  string
	Format string
	Output io.Writer
}

var defaultLogger atomic.Pointer[Logger]

func init() {
	defaultLogger.Store(New(Options{}))
}

// New builds a logger. Format "json" emits one JSON object per line,
// anything else uses the colored text handler.
func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	level := parseLevel(opts.Level)
	if strings.EqualFold(opts.Format, "json") {
		handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
			Level: level,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					return slog.String(a.Key, a.Value.Time().UTC().Format(time.RFC3339Nano))
				}
				return a
			},
		})
		return &Logger{Logger: slog.New(handler)}
	}
	handler := tint.NewHandler(out, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	})
	return &Logger{Logger: slog.New(handler)}
}

// Configure replaces the default logger used by the package-level helpers.
func Configure(opts Options) *Logger {
	l := New(opts)
	defaultLogger.Store(l)
	return l
}

// Default returns the process-wide logger.
func Default() *Logger {
	return defaultLogger.Load()
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// WithComponent tags every record with a component name.
func (l *Logger) WithComponent(component string) *Logger {
	if l == nil {
		l = Default()
	}
	return &Logger{Logger: l.With(slog.String("component", component))}
}

// Info logs a structured info message.
func Info(msg string, fields map[string]interface{}) {
	Default().Info(msg, attrs(fields)...)
}

// Warn logs a structured warning.
func Warn(msg string, fields map[string]interface{}) {
	Default().Warn(msg, attrs(fields)...)
}

// Error logs a structured error message including the error string.
func Error(msg string, err error, fields map[string]interface{}) {
	args := attrs(fields)
	if err != nil {
		args = append(args, slog.String("error", err.Error()))
	}
	Default().Error(msg, args...)
}

func attrs(fields map[string]interface{}) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		args = append(args, slog.Any(k, fields[k]))
	}
	return args
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
