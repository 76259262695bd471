package agent

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/m4xw311/thinkact/errors"
	"github.com/m4xw311/thinkact/llm"
	"github.com/m4xw311/thinkact/prompt"
	"github.com/m4xw311/thinkact/session"
	"github.com/m4xw311/thinkact/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	searchCall = `{"thought": "I should search", "type": "action", "action": {"name": "search", "parameters": {"query": "X"}}}`
	answerX    = `{"thought": "done", "type": "response", "response": "X is on page 3"}`
)

type searchStub struct {
	mu     sync.Mutex
	inputs []string
	result string
	err    error
	hook   func()
}

func (s *searchStub) action() tools.Action {
	return tools.Action{
		Name:        "search",
		Description: "Searches documents",
		Handler: func(ctx context.Context, input string) (string, error) {
			s.mu.Lock()
			s.inputs = append(s.inputs, input)
			s.mu.Unlock()
			if s.hook != nil {
				s.hook()
			}
			return s.result, s.err
		},
	}
}

func newAgent(t *testing.T, model Generator, stub *searchStub, mutate func(*Config)) *Agent {
	t.Helper()
	reg, err := tools.NewRegistry(stub.action())
	require.NoError(t, err)
	cfg := Config{Name: "test", Model: model, Registry: reg, Temperature: DefaultTemperature}
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := New(cfg)
	require.NoError(t, err)
	return a
}

func findX() []session.Message {
	return []session.Message{session.NewMessage(session.RoleUser, "find X")}
}

func TestQueryActionThenResponse(t *testing.T) {
	model := llm.NewMockProvider("mock", llm.Reply(searchCall), llm.Reply(answerX))
	stub := &searchStub{result: "found X at page 3"}
	a := newAgent(t, model, stub, nil)

	res, err := a.Query(context.Background(), "req-1", findX())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "X is on page 3", res.Answer)
	assert.Equal(t, 2, res.Turns)
	assert.Equal(t, 2, res.ModelCalls)
	assert.Equal(t, []string{`{"query":"X"}`}, stub.inputs)

	second := model.Request(1)
	last := second[len(second)-1]
	assert.Equal(t, session.RoleUser, last.Role)
	assert.Equal(t, "Observation: found X at page 3", last.Content)

	require.Len(t, res.Messages, 4)
	assert.Equal(t, "find X", res.Messages[0].Content)
	assert.Equal(t, searchCall, res.Messages[1].Content)
	assert.Equal(t, answerX, res.Messages[3].Content)
}

func TestQueryPlainProse(t *testing.T) {
	prose := "The capital of France is Paris."
	model := llm.NewMockProvider("mock", llm.Reply(prose))
	stub := &searchStub{}
	res, err := newAgent(t, model, stub, nil).Query(context.Background(), "req", findX())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, prose, res.Answer)
	assert.Empty(t, stub.inputs)
	assert.Equal(t, 1, model.Calls())
}

func TestQueryBudgetExhausted(t *testing.T) {
	model := llm.NewMockProvider("mock",
		llm.Reply(searchCall),
		llm.Reply(searchCall),
		llm.Reply("Summary: I searched twice without finding X."),
	)
	stub := &searchStub{result: "nothing"}
	a := newAgent(t, model, stub, func(c *Config) { c.MaxTurns = 2 })

	res, err := a.Query(context.Background(), "req", findX())
	require.NoError(t, err)
	assert.Equal(t, StatusBudgetExhausted, res.Status)
	assert.Equal(t, "Summary: I searched twice without finding X.", res.Answer)
	assert.Equal(t, 3, model.Calls(), "max turns plus one")
	assert.Len(t, stub.inputs, 2)

	final := model.Request(2)
	require.GreaterOrEqual(t, len(final), 2)
	assert.Equal(t, "Observation: nothing", final[len(final)-2].Content)
	assert.Equal(t, summaryRequest, final[len(final)-1].Content)
}

func TestQueryBudgetSummaryVariants(t *testing.T) {
	t.Run("structured summary", func(t *testing.T) {
		model := llm.NewMockProvider("mock", llm.Reply(searchCall),
			llm.Reply(`{"thought": "wrap up", "type": "response", "response": "Searched once."}`))
		res, err := newAgent(t, model, &searchStub{}, func(c *Config) { c.MaxTurns = 1 }).
			Query(context.Background(), "req", findX())
		require.NoError(t, err)
		assert.Equal(t, "Searched once.", res.Answer)
	})

	t.Run("summary call fails", func(t *testing.T) {
		model := llm.NewMockProvider("mock", llm.Reply(searchCall), llm.Fail(errors.Sentinel("overloaded")))
		res, err := newAgent(t, model, &searchStub{}, func(c *Config) { c.MaxTurns = 1 }).
			Query(context.Background(), "req", findX())
		require.NoError(t, err)
		assert.Equal(t, StatusBudgetExhausted, res.Status)
		assert.Equal(t, "I have reached my maximum number of actions (1) and was unable to complete the task.", res.Answer)
		assert.Equal(t, 2, res.ModelCalls)
	})
}

func TestQueryHandlerFailureBecomesObservation(t *testing.T) {
	model := llm.NewMockProvider("mock", llm.Reply(searchCall), llm.Reply(answerX))
	stub := &searchStub{err: errors.Sentinel("index offline")}
	res, err := newAgent(t, model, stub, nil).Query(context.Background(), "req", findX())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)

	second := model.Request(1)
	assert.Equal(t, "Error executing search: index offline", second[len(second)-1].Content)
}

func TestQueryHandlerPanicBecomesObservation(t *testing.T) {
	model := llm.NewMockProvider("mock", llm.Reply(searchCall), llm.Reply(answerX))
	stub := &searchStub{hook: func() { panic("boom") }}
	_, err := newAgent(t, model, stub, nil).Query(context.Background(), "req", findX())
	require.NoError(t, err)

	second := model.Request(1)
	obs := second[len(second)-1].Content
	assert.True(t, strings.HasPrefix(obs, "Error executing search: "))
	assert.Contains(t, obs, "action panicked: boom")
}

func TestQueryUnknownAction(t *testing.T) {
	model := llm.NewMockProvider("mock",
		llm.Reply(`{"thought": "t", "type": "action", "action": {"name": "lookup", "parameters": {}}}`))
	stub := &searchStub{}
	res, err := newAgent(t, model, stub, nil).Query(context.Background(), "req", findX())
	require.NoError(t, err)
	assert.Equal(t, StatusDiagnostic, res.Status)
	assert.Equal(t, "Unknown action: lookup. Available: search", res.Answer)
	assert.Empty(t, stub.inputs)
	assert.Equal(t, 1, res.ModelCalls)
}

func TestQueryProviderFailure(t *testing.T) {
	cause := &llm.ProviderError{Provider: "anthropic", StatusCode: 401, Message: "invalid x-api-key"}
	model := llm.NewMockProvider("mock", llm.Fail(cause))
	res, err := newAgent(t, model, &searchStub{}, nil).Query(context.Background(), "req", findX())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "Error in agent loop: "+cause.Error(), res.Answer)
	assert.Same(t, cause, res.Err)
}

func TestQueryCancelledBeforeFirstCall(t *testing.T) {
	cancels := NewCancellations()
	cancels.Cancel("req")
	model := llm.NewMockProvider("mock", llm.Reply(answerX))
	res, err := newAgent(t, model, &searchStub{}, func(c *Config) { c.Canceller = cancels }).
		Query(context.Background(), "req", findX())

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCancelled))
	var ce *CancelledError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "req", ce.RequestID)
	assert.Equal(t, StatusCancelled, res.Status)
	assert.Equal(t, 0, model.Calls())
}

func TestQueryCancelledAfterAction(t *testing.T) {
	cancels := &Cancellations{}
	model := llm.NewMockProvider("mock", llm.Reply(searchCall), llm.Reply(answerX))
	stub := &searchStub{result: "partial", hook: func() { cancels.Cancel("req") }}
	res, err := newAgent(t, model, stub, func(c *Config) { c.Canceller = cancels }).
		Query(context.Background(), "req", findX())

	assert.True(t, errors.Is(err, ErrCancelled))
	assert.Equal(t, 1, model.Calls())
	assert.Len(t, stub.inputs, 1)
	require.Len(t, res.Messages, 2, "observation is not appended")
}

func TestQueryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	model := llm.NewMockProvider("mock", llm.Reply(answerX))
	_, err := newAgent(t, model, &searchStub{}, nil).Query(ctx, "req", findX())
	assert.True(t, errors.Is(err, ErrCancelled))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestQueryOnlyOnce(t *testing.T) {
	model := llm.NewMockProvider("mock", llm.Reply(answerX))
	a := newAgent(t, model, &searchStub{}, nil)
	_, err := a.Query(context.Background(), "req", findX())
	require.NoError(t, err)
	_, err = a.Query(context.Background(), "req-2", findX())
	assert.ErrorIs(t, err, ErrAgentUsed)
}

func TestQueryEmbedsObservation(t *testing.T) {
	model := llm.NewMockProvider("mock",
		llm.Reply(searchCall),
		llm.Reply(`{"thought": "quote it", "type": "response", "response": "Result: $$$observation$$$"}`),
	)
	stub := &searchStub{result: "found X at page 3"}
	res, err := newAgent(t, model, stub, nil).Query(context.Background(), "req", findX())
	require.NoError(t, err)
	assert.Equal(t, "Result: found X at page 3", res.Answer)
}

func TestQueryFiltersControlPhrases(t *testing.T) {
	raw := searchCall + "\n" + prompt.StopPhrase
	model := llm.NewMockProvider("mock", llm.Reply(raw), llm.Reply(answerX+" "+prompt.ObservationPhrase))
	res, err := newAgent(t, model, &searchStub{result: "ok"}, nil).Query(context.Background(), "req", findX())
	require.NoError(t, err)
	assert.Equal(t, "X is on page 3", res.Answer)
	assert.Equal(t, raw, res.Messages[1].Content, "history keeps the raw reply")
}

func TestQueryCorrectsMalformedJSON(t *testing.T) {
	model := llm.NewMockProvider("mock",
		llm.Reply(`{"thought": "x" "type": "response" "response": "hi"}`),
		llm.Reply("```json\n{\"thought\": \"x\", \"type\": \"response\", \"response\": \"hi\"}\n```"),
	)
	res, err := newAgent(t, model, &searchStub{}, nil).Query(context.Background(), "req", findX())
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Answer)
	assert.Equal(t, 1, res.Turns)
	assert.Equal(t, 2, res.ModelCalls)
	require.Len(t, res.Messages, 4)
	assert.True(t, strings.HasPrefix(res.Messages[2].Content, "Your previous response contained invalid JSON"))
}

func TestQuerySendsSystemPromptFirst(t *testing.T) {
	model := llm.NewMockProvider("mock", llm.Reply(answerX))
	sys := prompt.Build(prompt.Options{Context: "You are helpful."})
	res, err := newAgent(t, model, &searchStub{}, func(c *Config) { c.SystemPrompt = sys }).
		Query(context.Background(), "req", findX())
	require.NoError(t, err)

	first := model.Request(0)
	assert.Equal(t, session.RoleSystem, first[0].Role)
	assert.Contains(t, first[0].Text(), "You are helpful.")
	assert.Equal(t, session.RoleUser, res.Messages[0].Role)
}

func TestQueryStepTrace(t *testing.T) {
	var steps []Step
	logger := StepFunc(func(ctx context.Context, s Step) error {
		steps = append(steps, s)
		return nil
	})
	model := llm.NewMockProvider("mock", llm.Reply(searchCall), llm.Reply(answerX))
	_, err := newAgent(t, model, &searchStub{result: "found"}, func(c *Config) { c.Steps = logger }).
		Query(context.Background(), "req-7", findX())
	require.NoError(t, err)

	var types []StepType
	for _, s := range steps {
		types = append(types, s.Type)
		assert.Equal(t, "req-7", s.RequestID)
		assert.Equal(t, "test", s.Agent)
	}
	assert.Equal(t, []StepType{StepUserRequest, StepThought, StepAction, StepObservation, StepThought, StepResponse}, types)
	assert.Equal(t, "search", steps[2].ActionName)
	assert.Equal(t, map[string]any{"query": "X"}, steps[2].ActionParams)
	assert.Equal(t, "Observation: found", steps[3].Content)
	assert.Equal(t, 2, steps[5].Turn)
}

func TestQueryIgnoresBrokenStepLogger(t *testing.T) {
	for name, logger := range map[string]StepLogger{
		"error": StepFunc(func(context.Context, Step) error { return errors.Sentinel("disk full") }),
		"panic": StepFunc(func(context.Context, Step) error { panic("nil map") }),
	} {
		t.Run(name, func(t *testing.T) {
			model := llm.NewMockProvider("mock", llm.Reply(searchCall), llm.Reply(answerX))
			res, err := newAgent(t, model, &searchStub{}, func(c *Config) { c.Steps = logger }).
				Query(context.Background(), "req", findX())
			require.NoError(t, err)
			assert.Equal(t, StatusCompleted, res.Status)
		})
	}
}

type fakeMetrics struct {
	actions []string
	queries []string
	calls   int
}

func (f *fakeMetrics) ActionDispatched(action, status string) {
	f.actions = append(f.actions, action+"/"+status)
}

func (f *fakeMetrics) QueryFinished(status string, modelCalls int) {
	f.queries = append(f.queries, status)
	f.calls += modelCalls
}

func TestQueryMetrics(t *testing.T) {
	m := &fakeMetrics{}
	model := llm.NewMockProvider("mock", llm.Reply(searchCall), llm.Reply(answerX))
	_, err := newAgent(t, model, &searchStub{err: errors.Sentinel("x")}, func(c *Config) { c.Metrics = m }).
		Query(context.Background(), "req", findX())
	require.NoError(t, err)
	assert.Equal(t, []string{"search/error"}, m.actions)
	assert.Equal(t, []string{"completed"}, m.queries)
	assert.Equal(t, 2, m.calls)
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
	_, err = New(Config{Model: llm.NewMockProvider(""), MaxTurns: -1})
	assert.Error(t, err)

	a, err := New(Config{Model: llm.NewMockProvider("")})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxTurns, a.cfg.MaxTurns)
	assert.NotNil(t, a.cfg.Registry)
}

func TestCancellations(t *testing.T) {
	var c Cancellations
	assert.False(t, c.IsCancelled("a"))
	c.Cancel("a")
	assert.True(t, c.IsCancelled("a"))
	assert.False(t, c.IsCancelled("b"))
	c.Forget("a")
	assert.False(t, c.IsCancelled("a"))
}
