package llm

import (
	"context"
	"io"
	"log/slog"

	"github.com/m4xw311/thinkact/errors"
	"github.com/m4xw311/thinkact/logging"
	"github.com/m4xw311/thinkact/session"
)

// FallbackOrder is the priority in which alternative providers are tried.
var FallbackOrder = []string{ProviderAnthropic, ProviderGoogle, ProviderOpenAI, ProviderXAI}

// FallbackChain calls a primary provider through Retry and, when that fails
// with a transient error, tries the other providers in order. If every
// candidate fails the primary's error is returned.
type FallbackChain struct {
	Primary     Provider
	Retrier     *Retrier
	Factory     Factory
	Credentials Credentials
	// Order defaults to FallbackOrder.
	Order    []string
	Logger   *slog.Logger
	Recorder Recorder
}

// NewFallbackChain wires a chain with environment credentials.
func NewFallbackChain(primary Provider, retrier *Retrier, factory Factory, logger *slog.Logger, recorder Recorder) *FallbackChain {
	return &FallbackChain{
		Primary:     primary,
		Retrier:     retrier,
		Factory:     factory,
		Credentials: EnvCredentials{},
		Logger:      logger,
		Recorder:    recorder,
	}
}

// Name reports the primary provider.
func (c *FallbackChain) Name() string { return c.Primary.Name() }

// Generate implements Provider.
func (c *FallbackChain) Generate(ctx context.Context, messages []session.Message, temperature float64) (string, error) {
	return c.run(ctx, func(p Provider) (string, error) {
		return p.Generate(ctx, messages, temperature)
	})
}

// GenerateVision implements Provider. A primary without vision support
// falls through to the candidates.
func (c *FallbackChain) GenerateVision(ctx context.Context, prompt, imageURL string, temperature float64) (string, error) {
	return c.run(ctx, func(p Provider) (string, error) {
		return p.GenerateVision(ctx, prompt, imageURL, temperature)
	})
}

func (c *FallbackChain) run(ctx context.Context, call func(Provider) (string, error)) (string, error) {
	primary := c.Primary.Name()
	text, err := Retry(ctx, c.Retrier, primary, func() (string, error) { return call(c.Primary) })
	if err == nil {
		return text, nil
	}
	if !c.enabled() || ctx.Err() != nil {
		return "", err
	}
	if !IsRetryable(err) && !errors.Is(err, ErrNotSupported) {
		return "", err
	}

	log := logging.OrDiscard(c.Logger)
	rec := c.recorder()
	log.Warn("primary provider failed, trying fallbacks", slog.String("provider", primary), slog.Any("error", err))

	for _, name := range c.candidates(primary) {
		if !c.hasCredential(name) {
			log.Debug("skipping fallback without credentials", slog.String("provider", name))
			rec.FallbackAttempt(primary, name, "skipped")
			continue
		}
		p, ferr := c.Factory(ctx, name, "")
		if ferr != nil {
			log.Warn("could not create fallback provider", slog.String("provider", name), slog.Any("error", ferr))
			rec.FallbackAttempt(primary, name, "unavailable")
			continue
		}

		text, ferr := Retry(ctx, c.Retrier, name, func() (string, error) { return call(p) })
		if closer, ok := p.(io.Closer); ok {
			_ = closer.Close()
		}
		if ferr == nil {
			log.Info("fallback provider succeeded", slog.String("provider", name))
			rec.FallbackAttempt(primary, name, "success")
			return text, nil
		}
		log.Warn("fallback provider failed", slog.String("provider", name), slog.Any("error", ferr))
		rec.FallbackAttempt(primary, name, "error")
		if ctx.Err() != nil {
			break
		}
	}
	return "", err
}

func (c *FallbackChain) enabled() bool {
	if c.Factory == nil {
		return false
	}
	if c.Retrier == nil {
		return DefaultRetryConfig().EnableFallback
	}
	return c.Retrier.Config.EnableFallback
}

func (c *FallbackChain) candidates(primary string) []string {
	order := c.Order
	if order == nil {
		order = FallbackOrder
	}
	out := make([]string, 0, len(order))
	for _, name := range order {
		if name != primary {
			out = append(out, name)
		}
	}
	return out
}

func (c *FallbackChain) hasCredential(provider string) bool {
	creds := c.Credentials
	if creds == nil {
		creds = EnvCredentials{}
	}
	_, ok := creds.Lookup(provider)
	return ok
}

func (c *FallbackChain) recorder() Recorder {
	if c.Recorder == nil {
		return nopRecorder{}
	}
	return c.Recorder
}
