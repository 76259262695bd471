package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder()

	r.ModelCall("anthropic", "claude", "success", 20*time.Millisecond, 100, 40)
	r.ModelCall("anthropic", "claude", "error", time.Millisecond, 0, 0)
	r.RetryAttempt("anthropic")
	r.RetryAttempt("anthropic")
	r.FallbackAttempt("anthropic", "openai", "success")
	r.ActionDispatched("search", "error")
	r.QueryFinished("completed", 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.modelCalls.WithLabelValues("anthropic", "claude", "success")))
	assert.Equal(t, 100.0, testutil.ToFloat64(r.modelTokens.WithLabelValues("anthropic", "claude", "input")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.retries.WithLabelValues("anthropic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.fallbacks.WithLabelValues("anthropic", "openai", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.actions.WithLabelValues("search", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.queries.WithLabelValues("completed")))
}

func TestRecordersAreIndependent(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	a.RetryAttempt("openai")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.retries.WithLabelValues("openai")))
}

func TestHandler(t *testing.T) {
	r := NewRecorder()
	r.QueryFinished("cancelled", 1)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `thinkact_queries_total{status="cancelled"} 1`)
}
