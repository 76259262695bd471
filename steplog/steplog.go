// Package steplog records the steps of agent queries.
package steplog

import (
	"context"
	"log/slog"

	"github.com/m4xw311/thinkact/agent"
	"github.com/m4xw311/thinkact/errors"
	"github.com/m4xw311/thinkact/logging"
)

// SlogLogger writes each step as a structured log record.
type SlogLogger struct {
	logger *slog.Logger
	level  slog.Level
}

func NewSlogLogger(logger *slog.Logger, level slog.Level) *SlogLogger {
	return &SlogLogger{logger: logging.Component(logger, "steps"), level: level}
}

func (l *SlogLogger) LogStep(ctx context.Context, step agent.Step) error {
	attrs := []slog.Attr{
		slog.String("request_id", step.RequestID),
		slog.String("agent", step.Agent),
		slog.String("type", string(step.Type)),
		slog.Int("turn", step.Turn),
		slog.String("content", truncate(step.Content, 500)),
	}
	if step.ActionName != "" {
		attrs = append(attrs, slog.String("action", step.ActionName))
	}
	if len(step.ActionParams) > 0 {
		attrs = append(attrs, slog.Any("params", step.ActionParams))
	}
	l.logger.LogAttrs(ctx, l.level, "agent step", attrs...)
	return nil
}

// Multi fans a step out to several loggers and joins their errors.
type Multi []agent.StepLogger

func (m Multi) LogStep(ctx context.Context, step agent.Step) error {
	var errs []error
	for _, l := range m {
		if l == nil {
			continue
		}
		if err := l.LogStep(ctx, step); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
