// Package metrics records Prometheus metrics for model calls, retries,
// fallbacks, action dispatches and finished queries.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns its registry so several recorders can coexist in one process.
type Recorder struct {
	registry *prometheus.Registry

	modelCalls    *prometheus.CounterVec
	modelTokens   *prometheus.CounterVec
	modelDuration *prometheus.HistogramVec
	retries       *prometheus.CounterVec
	fallbacks     *prometheus.CounterVec
	actions       *prometheus.CounterVec
	queries       *prometheus.CounterVec
	queryTurns    prometheus.Histogram
}

// NewRecorder creates a recorder backed by a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		modelCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thinkact_model_calls_total",
				Help: "Model invocations by provider, model and status",
			},
			[]string{"provider", "model", "status"},
		),
		modelTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thinkact_model_tokens_total",
				Help: "Tokens reported by providers",
			},
			[]string{"provider", "model", "type"},
		),
		modelDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "thinkact_model_call_duration_seconds",
				Help:    "Duration of model invocations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "model"},
		),
		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thinkact_retries_total",
				Help: "Retry attempts after a retryable provider failure",
			},
			[]string{"provider"},
		),
		fallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thinkact_fallbacks_total",
				Help: "Fallback candidates tried after a primary failure",
			},
			[]string{"from", "to", "status"},
		),
		actions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thinkact_actions_total",
				Help: "Action dispatches by action name and status",
			},
			[]string{"action", "status"},
		),
		queries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thinkact_queries_total",
				Help: "Finished agent queries by terminal status",
			},
			[]string{"status"},
		),
		queryTurns: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "thinkact_query_model_calls",
				Help:    "Model calls spent per query",
				Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10, 15, 20},
			},
		),
	}
}

// ModelCall records one provider invocation.
func (r *Recorder) ModelCall(provider, model, status string, elapsed time.Duration, inputTokens, outputTokens int64) {
	r.modelCalls.WithLabelValues(provider, model, status).Inc()
	r.modelDuration.WithLabelValues(provider, model).Observe(elapsed.Seconds())
	if inputTokens > 0 {
		r.modelTokens.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		r.modelTokens.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RetryAttempt counts a retry scheduled for provider.
func (r *Recorder) RetryAttempt(provider string) {
	r.retries.WithLabelValues(provider).Inc()
}

// FallbackAttempt counts a fallback candidate and how it ended.
func (r *Recorder) FallbackAttempt(from, to, status string) {
	r.fallbacks.WithLabelValues(from, to, status).Inc()
}

// ActionDispatched counts one handler invocation.
func (r *Recorder) ActionDispatched(action, status string) {
	r.actions.WithLabelValues(action, status).Inc()
}

// QueryFinished records the terminal status and model call count of a query.
func (r *Recorder) QueryFinished(status string, modelCalls int) {
	r.queries.WithLabelValues(status).Inc()
	r.queryTurns.Observe(float64(modelCalls))
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the recorder's metrics in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
