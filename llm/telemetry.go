package llm

import (
	"log/slog"
	"sync"
	"time"

	"github.com/m4xw311/thinkact/logging"
	"github.com/tiktoken-go/tokenizer"
)

// Usage is the token accounting a backend reports for one call.
type Usage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
}

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

// estimateTokens approximates a token count with the GPT-4 encoding, which is
// close enough across backends for request-size telemetry.
func estimateTokens(text string) int {
	codecOnce.Do(func() {
		c, err := tokenizer.ForModel(tokenizer.GPT4)
		if err == nil {
			codec = c
		}
	})
	if codec == nil {
		return len(text) / 4
	}
	n, err := codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

// telemetry is embedded by providers to log and record each call.
type telemetry struct {
	provider string
	logger   *slog.Logger
	recorder Recorder
}

func newTelemetry(provider string, opts Options) telemetry {
	t := telemetry{provider: provider, logger: logging.OrDiscard(opts.Logger), recorder: opts.Recorder}
	if t.recorder == nil {
		t.recorder = nopRecorder{}
	}
	t.logger = t.logger.With(slog.String("provider", provider))
	return t
}

// observe logs the call and forwards it to the recorder. The request token
// count is an estimate; usage holds what the backend reported.
func (t telemetry) observe(model, request string, started time.Time, usage Usage, err error) {
	elapsed := time.Since(started)
	status := "success"
	if err != nil {
		status = "error"
	}
	t.recorder.ModelCall(t.provider, model, status, elapsed, usage.InputTokens, usage.OutputTokens)

	attrs := []any{
		slog.String("model", model),
		slog.Int("request_chars", len(request)),
		slog.Int("request_tokens_est", estimateTokens(request)),
		slog.Duration("latency", elapsed),
	}
	if usage != (Usage{}) {
		attrs = append(attrs,
			slog.Int64("input_tokens", usage.InputTokens),
			slog.Int64("output_tokens", usage.OutputTokens),
			slog.Int64("cache_read_tokens", usage.CacheReadTokens),
			slog.Int64("cache_write_tokens", usage.CacheWriteTokens),
		)
	}
	if err != nil {
		t.logger.Warn("model call failed", append(attrs, slog.Any("error", err))...)
		return
	}
	t.logger.Info("model call completed", attrs...)
}
