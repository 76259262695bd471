// Package logging builds the slog loggers used across thinkact.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/m4xw311/thinkact/errors"
	"github.com/mattn/go-isatty"
)

const consoleTimeFormat = "2006-01-02 15:04:05.000Z07:00"

// Config selects the handler and level of a logger.
type Config struct {
	Level     string    // debug, info, warn or error
	Format    string    // json, or text for tinted console output
	Output    io.Writer // defaults to stderr
	AddSource bool
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, errors.New("unknown log level %q", level)
}

// New builds a logger from cfg. Stdout is never the default because the ACP
// server owns it for protocol traffic.
func New(cfg Config) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text", "console":
		handler = consoleHandler(out, level, cfg.AddSource)
	case "json":
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource})
	default:
		return nil, errors.New("unknown log format %q", cfg.Format)
	}
	return slog.New(handler), nil
}

// consoleHandler colours output only when out is a terminal. Error values
// are printed in red.
func consoleHandler(out io.Writer, level slog.Level, addSource bool) slog.Handler {
	noColor := !isTerminal(out)
	return tint.NewHandler(out, &tint.Options{
		Level:      level,
		AddSource:  addSource,
		TimeFormat: consoleTimeFormat,
		NoColor:    noColor,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if noColor || a.Value.Kind() != slog.KindAny {
				return a
			}
			if _, ok := a.Value.Any().(error); ok {
				return tint.Attr(9, a)
			}
			return a
		},
	})
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}

// Component tags l with a component attribute.
func Component(l *slog.Logger, name string) *slog.Logger {
	return OrDiscard(l).With(slog.String("component", name))
}
