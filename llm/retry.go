package llm

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/m4xw311/thinkact/errors"
	"github.com/m4xw311/thinkact/logging"
)

// RetryConfig bounds retries of a single provider call and says whether
// other providers may be tried afterwards.
type RetryConfig struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	EnableFallback bool
}

// DefaultRetryConfig returns 3 retries from 1s up to 60s, with fallback.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		BaseDelay:      time.Second,
		MaxDelay:       60 * time.Second,
		EnableFallback: true,
	}
}

// Retrier carries a RetryConfig and the hooks Retry uses. The zero value of
// each hook selects the production behavior.
type Retrier struct {
	Config RetryConfig

	// Sleep waits for d or until ctx ends.
	Sleep func(ctx context.Context, d time.Duration) error
	// Jitter returns a uniform duration in [0, max].
	Jitter func(max time.Duration) time.Duration
	// Retryable classifies a failure; IsRetryable when nil.
	Retryable func(error) bool

	Logger   *slog.Logger
	Recorder Recorder
}

// NewRetrier creates a Retrier with production hooks.
func NewRetrier(cfg RetryConfig, logger *slog.Logger, recorder Recorder) *Retrier {
	return &Retrier{Config: cfg, Logger: logger, Recorder: recorder}
}

// Attempts is the total number of calls Retry may make.
func (r *Retrier) Attempts() int {
	if r.Config.MaxRetries < 0 {
		return 1
	}
	return r.Config.MaxRetries + 1
}

// maxBackoff bounds an uncapped delay so doubling and jitter cannot overflow.
const maxBackoff = time.Duration(math.MaxInt64 / 2)

// Delay is the wait after failed attempt number attempt (0-based):
// min(base*2^attempt, max) plus up to 10% jitter. A zero max leaves the
// delay uncapped up to maxBackoff.
func (r *Retrier) Delay(attempt int) time.Duration {
	d := r.Config.BaseDelay
	if d <= 0 {
		return 0
	}
	limit := r.Config.MaxDelay
	if limit <= 0 || limit > maxBackoff {
		limit = maxBackoff
	}
	for i := 0; i < attempt && d < limit; i++ {
		if d > limit/2 {
			d = limit
			break
		}
		d *= 2
	}
	if d > limit {
		d = limit
	}
	return d + r.jitter(d/10)
}

func (r *Retrier) jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	if r.Jitter != nil {
		return r.Jitter(max)
	}
	return time.Duration(rand.Int64N(int64(max) + 1))
}

func (r *Retrier) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *Retrier) retryable(err error) bool {
	if r.Retryable != nil {
		return r.Retryable(err)
	}
	return IsRetryable(err)
}

func (r *Retrier) logger() *slog.Logger {
	return logging.OrDiscard(r.Logger)
}

func (r *Retrier) recorder() Recorder {
	if r.Recorder == nil {
		return nopRecorder{}
	}
	return r.Recorder
}

// Retry calls op until it succeeds, fails with a non-retryable error, or
// runs out of attempts. The last error is returned unchanged. Backoff
// sleeps run on the caller's goroutine; a nil r uses DefaultRetryConfig.
func Retry[T any](ctx context.Context, r *Retrier, provider string, op func() (T, error)) (T, error) {
	if r == nil {
		r = NewRetrier(DefaultRetryConfig(), nil, nil)
	}
	var zero T
	attempts := r.Attempts()

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		v, err := op()
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !r.retryable(err) {
			return zero, err
		}
		if attempt == attempts-1 {
			break
		}

		delay := r.Delay(attempt)
		r.logger().Warn("retrying model call",
			slog.String("provider", provider),
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", attempts),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)
		r.recorder().RetryAttempt(provider)

		if serr := r.sleep(ctx, delay); serr != nil {
			return zero, errors.Wrapf(serr, "retry backoff interrupted, last error: %v", lastErr)
		}
	}
	return zero, lastErr
}
