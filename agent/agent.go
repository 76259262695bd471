package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/m4xw311/thinkact/errors"
	"github.com/m4xw311/thinkact/logging"
	"github.com/m4xw311/thinkact/parser"
	"github.com/m4xw311/thinkact/prompt"
	"github.com/m4xw311/thinkact/session"
	"github.com/m4xw311/thinkact/tools"
)

const (
	DefaultTemperature = 0.1
	DefaultMaxTurns    = 5
)

const (
	summaryRequest = "You have reached your max turns for this task, please respond with a summary of your progress"
	budgetFallback = "I have reached my maximum number of actions (%d) and was unable to complete the task."
)

// Status classifies how a query ended.
type Status string

const (
	StatusCompleted       Status = "completed"
	StatusDiagnostic      Status = "diagnostic"
	StatusBudgetExhausted Status = "budget_exhausted"
	StatusFailed          Status = "failed"
	StatusCancelled       Status = "cancelled"
)

// Generator is the model surface the loop needs. *llm.FallbackChain and
// every llm.Provider satisfy it.
type Generator interface {
	Name() string
	Generate(ctx context.Context, messages []session.Message, temperature float64) (string, error)
}

// Metrics receives loop-level counters. *metrics.Recorder implements it.
type Metrics interface {
	ActionDispatched(action, status string)
	QueryFinished(status string, modelCalls int)
}

// Config wires an Agent. Only Model is required.
type Config struct {
	Name         string
	Model        Generator
	Registry     *tools.Registry
	Parser       *parser.Parser
	SystemPrompt prompt.SystemPrompt
	Temperature  float64
	// MaxTurns caps how many actions a query may run. Zero selects
	// DefaultMaxTurns.
	MaxTurns  int
	Canceller Canceller
	Steps     StepLogger
	Logger    *slog.Logger
	Metrics   Metrics
}

// Result is the outcome of a query that was not cancelled.
type Result struct {
	Answer     string
	Status     Status
	Turns      int
	ModelCalls int
	// Messages is the conversation after the query, without the system
	// prompt.
	Messages []session.Message
	// Err is the provider error behind StatusFailed.
	Err error
}

// Agent runs one ReAct query: it alternates model calls with action
// dispatch until the model answers, the action budget runs out, or the
// request is cancelled.
type Agent struct {
	cfg    Config
	logger *slog.Logger
	used   atomic.Bool
}

// New validates cfg and fills defaults. An Agent serves a single query.
func New(cfg Config) (*Agent, error) {
	if cfg.Model == nil {
		return nil, errors.New("agent %q needs a model", cfg.Name)
	}
	if cfg.MaxTurns < 0 {
		return nil, errors.New("max turns must not be negative, got %d", cfg.MaxTurns)
	}
	if cfg.MaxTurns == 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.Name == "" {
		cfg.Name = "agent"
	}
	cfg.Logger = logging.OrDiscard(cfg.Logger)
	if cfg.Parser == nil {
		cfg.Parser = parser.New(cfg.Logger)
	}
	if cfg.Registry == nil {
		reg, err := tools.NewRegistry()
		if err != nil {
			return nil, err
		}
		cfg.Registry = reg
	}
	return &Agent{cfg: cfg, logger: logging.Component(cfg.Logger, "agent").With(slog.String("agent", cfg.Name))}, nil
}

// query is the per-call state of Query.
type query struct {
	id          string
	conv        []session.Message
	offset      int
	turn        int
	actions     int
	modelCalls  int
	observation string
	logger      *slog.Logger
}

// Query answers the conversation in history. The returned error is non-nil
// only when the request was cancelled, as a *CancelledError, or when the
// Agent was already used.
func (a *Agent) Query(ctx context.Context, requestID string, history []session.Message) (Result, error) {
	if !a.used.CompareAndSwap(false, true) {
		return Result{}, ErrAgentUsed
	}
	started := time.Now()
	q := &query{id: requestID, logger: a.logger.With(slog.String("request_id", requestID))}
	if len(a.cfg.SystemPrompt.Segments) > 0 {
		q.conv = append(q.conv, a.cfg.SystemPrompt.Message())
		q.offset = 1
	}
	q.conv = append(q.conv, history...)

	q.logger.Info("query started", slog.Int("messages", len(history)))
	if req := lastUserText(history); req != "" {
		a.logStep(ctx, q.logger, Step{RequestID: requestID, Type: StepUserRequest, Content: req})
	}

	res, err := a.run(ctx, q)
	res.Turns = q.turn
	res.ModelCalls = q.modelCalls
	res.Messages = append([]session.Message(nil), q.conv[q.offset:]...)
	if err != nil {
		res.Status = StatusCancelled
	}

	if a.cfg.Metrics != nil {
		a.cfg.Metrics.QueryFinished(string(res.Status), res.ModelCalls)
	}
	q.logger.Info("query finished",
		slog.String("status", string(res.Status)),
		slog.Int("turns", res.Turns),
		slog.Int("actions", q.actions),
		slog.Int("model_calls", res.ModelCalls),
		slog.Duration("elapsed", time.Since(started)))
	return res, err
}

func (a *Agent) run(ctx context.Context, q *query) (Result, error) {
	for {
		if err := a.checkCancelled(ctx, q); err != nil {
			return Result{}, err
		}
		q.turn++

		text, err := a.generate(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, &CancelledError{RequestID: q.id, Turn: q.turn, Cause: ctx.Err()}
			}
			q.logger.Error("model call failed", slog.Int("turn", q.turn), slog.Any("error", err))
			return Result{Answer: fmt.Sprintf("Error in agent loop: %v", err), Status: StatusFailed, Err: err}, nil
		}

		out := a.cfg.Parser.Parse(ctx, text, a.cfg.Registry, a.reinvoker(q))
		q.logger.Debug("reply parsed", slog.Int("turn", q.turn), slog.String("layer", out.Layer.String()))
		if out.Thought != "" {
			a.logStep(ctx, q.logger, Step{RequestID: q.id, Type: StepThought, Turn: q.turn, Content: out.Thought})
		}

		switch d := out.Decision.(type) {
		case parser.FinalResponse:
			answer := q.embedObservation(d.Text)
			a.logStep(ctx, q.logger, Step{RequestID: q.id, Type: StepResponse, Turn: q.turn, Content: answer})
			return Result{Answer: answer, Status: StatusCompleted}, nil

		case parser.Diagnostic:
			q.logger.Warn("query ended with diagnostic", slog.String("diagnostic", d.Text))
			a.logStep(ctx, q.logger, Step{RequestID: q.id, Type: StepResponse, Turn: q.turn, Content: d.Text})
			return Result{Answer: d.Text, Status: StatusDiagnostic}, nil

		case parser.ActionCall:
			q.actions++
			a.logStep(ctx, q.logger, Step{
				RequestID:    q.id,
				Type:         StepAction,
				Turn:         q.turn,
				Content:      "Action: " + d.Name,
				ActionName:   d.Name,
				ActionParams: d.Params,
			})
			observation := a.dispatch(ctx, q, d)
			a.logStep(ctx, q.logger, Step{RequestID: q.id, Type: StepObservation, Turn: q.turn, Content: observation, ActionName: d.Name})

			if err := a.checkCancelled(ctx, q); err != nil {
				return Result{}, err
			}
			q.conv = append(q.conv, session.NewMessage(session.RoleUser, observation))
			q.observation = observation

			if q.actions >= a.cfg.MaxTurns {
				return a.summarize(ctx, q)
			}
		}
	}
}

// generate calls the model and records the raw reply in the conversation.
// The returned text has the control phrases removed.
func (a *Agent) generate(ctx context.Context, q *query) (string, error) {
	q.modelCalls++
	raw, err := a.cfg.Model.Generate(ctx, q.conv, a.cfg.Temperature)
	if err != nil {
		return "", err
	}
	q.conv = append(q.conv, session.NewMessage(session.RoleAssistant, raw))
	return filterControlPhrases(raw), nil
}

// reinvoker lets the parser ask the model to correct malformed JSON within
// the same conversation.
func (a *Agent) reinvoker(q *query) parser.Reinvoker {
	return func(ctx context.Context, correction string) (string, error) {
		q.conv = append(q.conv, session.NewMessage(session.RoleUser, correction))
		return a.generate(ctx, q)
	}
}

func (a *Agent) dispatch(ctx context.Context, q *query, call parser.ActionCall) string {
	action, err := a.cfg.Registry.Resolve(call.Name)
	if err == nil {
		var out string
		out, err = runHandler(ctx, action.Handler, call.Input)
		if err == nil {
			a.recordAction(call.Name, "ok")
			q.logger.Info("action completed", slog.String("action", call.Name), slog.Int("turn", q.turn))
			return "Observation: " + out
		}
	}
	a.recordAction(call.Name, "error")
	q.logger.Warn("action failed", slog.String("action", call.Name), slog.Any("error", err))
	return fmt.Sprintf("Error executing %s: %v", call.Name, err)
}

func runHandler(ctx context.Context, h tools.Handler, input string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("action panicked: %v", r)
		}
	}()
	return h(ctx, input)
}

// summarize asks for a progress summary once the action budget is spent.
func (a *Agent) summarize(ctx context.Context, q *query) (Result, error) {
	q.logger.Info("max turns reached, requesting progress summary", slog.Int("max_turns", a.cfg.MaxTurns))
	q.conv = append(q.conv, session.NewMessage(session.RoleUser, summaryRequest))

	answer, err := a.generate(ctx, q)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, &CancelledError{RequestID: q.id, Turn: q.turn, Cause: ctx.Err()}
		}
		q.logger.Error("progress summary failed", slog.Any("error", err))
		answer = fmt.Sprintf(budgetFallback, a.cfg.MaxTurns)
	} else if resp, ok := a.cfg.Parser.Parse(ctx, answer, a.cfg.Registry, nil).Decision.(parser.FinalResponse); ok {
		answer = resp.Text
	}
	a.logStep(ctx, q.logger, Step{RequestID: q.id, Type: StepResponse, Turn: q.turn, Content: answer})
	return Result{Answer: answer, Status: StatusBudgetExhausted}, nil
}

func (a *Agent) checkCancelled(ctx context.Context, q *query) error {
	if err := ctx.Err(); err != nil {
		return &CancelledError{RequestID: q.id, Turn: q.turn, Cause: err}
	}
	if a.cfg.Canceller != nil && a.cfg.Canceller.IsCancelled(q.id) {
		q.logger.Info("request cancelled", slog.Int("turn", q.turn))
		return &CancelledError{RequestID: q.id, Turn: q.turn}
	}
	return nil
}

func (a *Agent) recordAction(name, status string) {
	if a.cfg.Metrics != nil {
		a.cfg.Metrics.ActionDispatched(name, status)
	}
}

// embedObservation substitutes the latest observation for the marker and
// consumes it.
func (q *query) embedObservation(answer string) string {
	if q.observation == "" || !strings.Contains(answer, prompt.ObservationMarker) {
		return answer
	}
	obs := strings.TrimPrefix(q.observation, "Observation: ")
	q.observation = ""
	return strings.ReplaceAll(answer, prompt.ObservationMarker, obs)
}

func filterControlPhrases(text string) string {
	text = strings.ReplaceAll(text, prompt.StopPhrase, "")
	text = strings.ReplaceAll(text, prompt.ObservationPhrase, "")
	return strings.TrimSpace(text)
}

func lastUserText(history []session.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == session.RoleUser {
			return history[i].Text()
		}
	}
	return ""
}
