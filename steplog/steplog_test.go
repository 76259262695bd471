package steplog

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/m4xw311/thinkact/agent"
	"github.com/m4xw311/thinkact/errors"
	"github.com/m4xw311/thinkact/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), ":memory:", logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	steps := []agent.Step{
		{RequestID: "r1", Agent: "a", Type: agent.StepUserRequest, Content: "find X", Time: at},
		{RequestID: "r1", Agent: "a", Type: agent.StepAction, Turn: 1, Content: "Action: search",
			ActionName: "search", ActionParams: map[string]any{"query": "X"}, Time: at},
		{RequestID: "r2", Agent: "a", Type: agent.StepUserRequest, Content: "other", Time: at},
		{RequestID: "r1", Agent: "a", Type: agent.StepObservation, Turn: 1, Content: "Observation: page 3", Time: at},
	}
	for _, st := range steps {
		require.NoError(t, s.LogStep(ctx, st))
	}

	got, err := s.ListByRequest(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, r := range got {
		assert.Equal(t, i+1, r.Seq)
		assert.Equal(t, "r1", r.RequestID)
	}
	assert.Equal(t, agent.StepAction, got[1].Type)
	assert.Equal(t, "search", got[1].ActionName)
	assert.Equal(t, map[string]any{"query": "X"}, got[1].ActionParams)
	assert.True(t, at.Equal(got[1].Time))
	assert.Empty(t, got[0].ActionName)
	assert.Nil(t, got[0].ActionParams)

	other, err := s.ListByRequest(ctx, "r2")
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, 1, other[0].Seq)

	none, err := s.ListByRequest(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteStoreTruncatesContent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	long := strings.Repeat("é", MaxContent+50)
	require.NoError(t, s.LogStep(ctx, agent.Step{RequestID: "r", Agent: "a", Type: agent.StepObservation, Content: long}))

	got, err := s.ListByRequest(ctx, "r")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, MaxContent, len([]rune(got[0].Content)))
}

func TestSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Config{Format: "json", Output: &buf})
	require.NoError(t, err)

	l := NewSlogLogger(logger, slog.LevelInfo)
	require.NoError(t, l.LogStep(context.Background(), agent.Step{
		RequestID: "r", Agent: "a", Type: agent.StepAction, Turn: 2,
		Content: "Action: search", ActionName: "search", ActionParams: map[string]any{"query": "X"},
	}))
	out := buf.String()
	assert.Contains(t, out, `"msg":"agent step"`)
	assert.Contains(t, out, `"component":"steps"`)
	assert.Contains(t, out, `"type":"action"`)
	assert.Contains(t, out, `"action":"search"`)
	assert.Contains(t, out, `"turn":2`)
}

func TestMultiJoinsErrors(t *testing.T) {
	var seen []agent.StepType
	ok := agent.StepFunc(func(_ context.Context, s agent.Step) error {
		seen = append(seen, s.Type)
		return nil
	})
	fail := agent.StepFunc(func(context.Context, agent.Step) error { return errors.Sentinel("disk full") })

	m := Multi{ok, nil, fail, ok}
	err := m.LogStep(context.Background(), agent.Step{Type: agent.StepThought})
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, []agent.StepType{agent.StepThought, agent.StepThought}, seen)

	assert.NoError(t, Multi{ok}.LogStep(context.Background(), agent.Step{}))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "éé", truncate("ééé", 2))
}
