package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m4xw311/thinkact/config"
	"github.com/m4xw311/thinkact/session"
	"github.com/m4xw311/thinkact/steplog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(dir)
	return dir
}

func TestRunTerminalWithMockProvider(t *testing.T) {
	dir := isolate(t)
	var out, errOut bytes.Buffer

	code := run(context.Background(), []string{"-provider", "mock", "-session", "demo", "-log-level", "error"},
		strings.NewReader("hello\n/quit\n"), &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "Starting new session: demo")
	assert.Contains(t, out.String(), "Thinkact: I am a mock model. You said: 'hello'.")

	sess, err := session.Load(filepath.Join(dir, session.DefaultDir), "demo")
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 2)

	out.Reset()
	code = run(context.Background(), []string{"-provider", "mock", "-resume", "demo", "-log-level", "error"},
		strings.NewReader(""), &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "Resuming session: demo")
}

func TestRunRecordsStepsInSQLite(t *testing.T) {
	isolate(t)
	var out, errOut bytes.Buffer
	db := filepath.Join("data", "steps.db")

	code := run(context.Background(), []string{"-provider", "mock", "-session", "s", "-step-db", db, "-log-level", "error", "hi there"},
		strings.NewReader(""), &out, &errOut)
	require.Equal(t, 0, code, errOut.String())

	store, err := steplog.OpenSQLite(context.Background(), db, nil)
	require.NoError(t, err)
	defer store.Close()
	assert.FileExists(t, db)
}

func TestRunOneShotPrompt(t *testing.T) {
	isolate(t)
	var out, errOut bytes.Buffer

	code := run(context.Background(), []string{"-provider", "mock", "-session", "once", "-prompt", "ping", "-log-level", "error"},
		strings.NewReader("never read\n"), &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "You said: 'ping'")
	assert.NotContains(t, out.String(), "never read")
	assert.NotContains(t, out.String(), "Type your prompt")
}

func TestRunACPInitialize(t *testing.T) {
	isolate(t)
	var out, errOut bytes.Buffer

	code := run(context.Background(), []string{"-provider", "mock", "-acp", "-log-level", "error"},
		strings.NewReader(`{"jsonrpc":"2.0","id":0,"method":"initialize","params":{"protocolVersion":1}}`+"\n"), &out, &errOut)
	require.Equal(t, 0, code, errOut.String())

	var resp struct {
		ID     int            `json:"id"`
		Result map[string]any `json:"result"`
	}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp), "stdout carries only JSON-RPC")
	assert.EqualValues(t, 1, resp.Result["protocolVersion"])
}

func TestRunRejectsBadInput(t *testing.T) {
	isolate(t)
	var out, errOut bytes.Buffer

	assert.Equal(t, 2, run(context.Background(), []string{"-no-such-flag"}, strings.NewReader(""), &out, &errOut))
	assert.Equal(t, 1, run(context.Background(), []string{"-provider", "mock", "-max-turns", "0"}, strings.NewReader(""), &out, &errOut))
	assert.Equal(t, 1, run(context.Background(), []string{"-provider", "carrier-pigeon"}, strings.NewReader(""), &out, &errOut))
	assert.Equal(t, 1, run(context.Background(), []string{"-provider", "mock", "-resume", "missing"}, strings.NewReader(""), &out, &errOut))
}

func TestOptionsApply(t *testing.T) {
	opts, rest, err := parseFlags([]string{"-model", "gpt-4o", "-temperature", "0.5", "-max-turns", "9", "do", "it"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, []string{"do", "it"}, rest)

	cfg := config.Default()
	require.NoError(t, opts.apply(cfg))
	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.InDelta(t, 0.5, cfg.Temperature, 1e-9)
	assert.Equal(t, 9, cfg.MaxTurns)
	assert.Equal(t, "anthropic", cfg.Provider, "unset flags keep configured values")

	opts, _, err = parseFlags(nil, &bytes.Buffer{})
	require.NoError(t, err)
	cfg = config.Default()
	cfg.Temperature = 0.3
	require.NoError(t, opts.apply(cfg))
	assert.InDelta(t, 0.3, cfg.Temperature, 1e-9)
}
