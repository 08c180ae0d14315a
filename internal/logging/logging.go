package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Logger is the application logger. Fields are passed as key/value pairs.
type Logger struct {
	*slog.Logger
}

// Options controls the output of NewLogger.
type Options struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string
	// Format is "text" (coloured on a terminal) or "json".
	Format string
	Output io.Writer
}

// NewLogger creates a new Logger.
func NewLogger(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	level := ParseLevel(opts.Level)

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(out, &tint.Options{
			NoColor:    !isTerminal(out),
			TimeFormat: time.DateTime,
			Level:      level,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// Nop returns a logger that discards everything, for tests.
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// With returns a logger that adds the given fields to every message.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
