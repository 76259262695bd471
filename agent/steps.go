package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

type StepType string

const (
	StepUserRequest StepType = "user_request"
	StepThought     StepType = "thought"
	StepAction      StepType = "action"
	StepObservation StepType = "observation"
	StepResponse    StepType = "response"
)

// Step is one entry of a query's reasoning trace.
type Step struct {
	RequestID    string
	Agent        string
	Type         StepType
	Turn         int
	Content      string
	ActionName   string
	ActionParams map[string]any
	Time         time.Time
}

// StepLogger persists or displays steps. A failing logger never affects the
// query.
type StepLogger interface {
	LogStep(ctx context.Context, step Step) error
}

// StepFunc adapts a function to StepLogger.
type StepFunc func(ctx context.Context, step Step) error

func (f StepFunc) LogStep(ctx context.Context, step Step) error { return f(ctx, step) }

func (a *Agent) logStep(ctx context.Context, logger *slog.Logger, step Step) {
	if a.cfg.Steps == nil {
		return
	}
	step.Agent = a.cfg.Name
	if step.Time.IsZero() {
		step.Time = time.Now().UTC()
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("step logger panicked", slog.String("step", string(step.Type)), slog.String("panic", fmt.Sprint(r)))
		}
	}()
	if err := a.cfg.Steps.LogStep(ctx, step); err != nil {
		logger.Warn("step logging failed", slog.String("step", string(step.Type)), slog.Any("error", err))
	}
}
