package llm

import (
	"context"
	"testing"
	"time"

	"github.com/m4xw311/thinkact/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFactory hands out pre-built mocks and records which were requested.
type fakeFactory struct {
	providers map[string]*MockProvider
	requested []string
}

func (f *fakeFactory) build(_ context.Context, name, _ string) (Provider, error) {
	f.requested = append(f.requested, name)
	p, ok := f.providers[name]
	if !ok {
		return nil, &ProviderError{Provider: name, Message: "unknown"}
	}
	return p, nil
}

func unavailable(provider string) error {
	return &ProviderError{Provider: provider, StatusCode: 503, Message: "service unavailable"}
}

func conversation() []session.Message {
	return []session.Message{session.NewMessage(session.RoleUser, "hello")}
}

func TestFallbackSkipsCandidatesWithoutCredentials(t *testing.T) {
	primaryErr := unavailable("anthropic")
	primary := NewMockProvider("anthropic", Fail(primaryErr))
	google := NewMockProvider("google", Reply("from google"))
	openai := NewMockProvider("openai", Reply("from openai"))

	factory := &fakeFactory{providers: map[string]*MockProvider{"google": google, "openai": openai}}
	chain := &FallbackChain{
		Primary:     primary,
		Retrier:     instantRetrier(RetryConfig{MaxRetries: 0, EnableFallback: true}, nil),
		Factory:     factory.build,
		Credentials: StaticCredentials{"openai": "sk-test"},
	}

	got, err := chain.Generate(context.Background(), conversation(), 0.1)
	require.NoError(t, err)
	assert.Equal(t, "from openai", got)
	assert.Equal(t, 0, google.Calls())
	assert.Equal(t, []string{"openai"}, factory.requested)
}

func TestFallbackReturnsPrimaryErrorWhenAllFail(t *testing.T) {
	primaryErr := unavailable("openai")
	primary := NewMockProvider("openai", Fail(primaryErr), Fail(primaryErr))
	anthropic := NewMockProvider("anthropic", Fail(unavailable("anthropic")), Fail(unavailable("anthropic")))
	xai := NewMockProvider("xai", Fail(&ProviderError{Provider: "xai", StatusCode: 500, Message: "boom"}), Fail(&ProviderError{Provider: "xai", StatusCode: 500, Message: "boom"}))

	factory := &fakeFactory{providers: map[string]*MockProvider{"anthropic": anthropic, "xai": xai}}
	chain := &FallbackChain{
		Primary:     primary,
		Retrier:     instantRetrier(RetryConfig{MaxRetries: 1, EnableFallback: true}, nil),
		Factory:     factory.build,
		Credentials: StaticCredentials{"anthropic": "a", "xai": "x", "google": "  "},
	}

	_, err := chain.Generate(context.Background(), conversation(), 0.1)
	assert.Same(t, primaryErr, err)
	assert.Equal(t, 2, primary.Calls())
	assert.Equal(t, 2, anthropic.Calls())
	assert.Equal(t, 2, xai.Calls())
	assert.Equal(t, []string{"anthropic", "xai"}, factory.requested)
}

func TestFallbackDisabled(t *testing.T) {
	primaryErr := unavailable("anthropic")
	primary := NewMockProvider("anthropic", Fail(primaryErr), Fail(primaryErr), Fail(primaryErr))
	factory := &fakeFactory{providers: map[string]*MockProvider{"openai": NewMockProvider("openai", Reply("never"))}}

	chain := &FallbackChain{
		Primary:     primary,
		Retrier:     instantRetrier(RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, EnableFallback: false}, nil),
		Factory:     factory.build,
		Credentials: StaticCredentials{"openai": "k"},
	}

	_, err := chain.Generate(context.Background(), conversation(), 0.1)
	assert.Same(t, primaryErr, err)
	assert.Equal(t, 3, primary.Calls())
	assert.Empty(t, factory.requested)
}

func TestFallbackNotTriedForFatalErrors(t *testing.T) {
	fatal := &ProviderError{Provider: "anthropic", StatusCode: 401, Message: "invalid x-api-key"}
	primary := NewMockProvider("anthropic", Fail(fatal))
	factory := &fakeFactory{providers: map[string]*MockProvider{"openai": NewMockProvider("openai", Reply("never"))}}

	chain := &FallbackChain{
		Primary:     primary,
		Retrier:     instantRetrier(DefaultRetryConfig(), nil),
		Factory:     factory.build,
		Credentials: StaticCredentials{"openai": "k"},
	}

	_, err := chain.Generate(context.Background(), conversation(), 0.1)
	assert.Same(t, fatal, err)
	assert.Equal(t, 1, primary.Calls())
	assert.Empty(t, factory.requested)
}

func TestFallbackVisionWhenPrimaryLacksIt(t *testing.T) {
	primary := &BedrockProvider{modelID: "m", telemetry: newTelemetry(ProviderBedrock, Options{})}
	openai := NewMockProvider("openai", Reply("a cat"))
	factory := &fakeFactory{providers: map[string]*MockProvider{"openai": openai}}

	chain := &FallbackChain{
		Primary:     primary,
		Retrier:     instantRetrier(DefaultRetryConfig(), nil),
		Factory:     factory.build,
		Credentials: StaticCredentials{"openai": "k"},
	}

	got, err := chain.GenerateVision(context.Background(), "what is this?", "https://example.com/cat.png", 0)
	require.NoError(t, err)
	assert.Equal(t, "a cat", got)
}

func TestCandidatesExcludePrimary(t *testing.T) {
	c := &FallbackChain{}
	assert.Equal(t, []string{"anthropic", "openai", "xai"}, c.candidates("google"))
	assert.Equal(t, FallbackOrder, c.candidates("mock"))
}
