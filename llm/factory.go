package llm

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/m4xw311/thinkact/errors"
)

// Provider keys.
const (
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
	ProviderOpenAI    = "openai"
	ProviderXAI       = "xai"
	ProviderBedrock   = "bedrock"
	ProviderOllama    = "ollama"
	ProviderMock      = "mock"
)

// CredentialEnv names the environment variable holding each keyed
// provider's API key.
var CredentialEnv = map[string]string{
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderGoogle:    "GEMINI_API_KEY",
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderXAI:       "XAI_API_KEY",
}

// Options are shared by every provider constructor.
type Options struct {
	Logger     *slog.Logger
	Recorder   Recorder
	HTTPClient *http.Client
	// BaseURL overrides the backend endpoint.
	BaseURL string
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

// Credentials looks up API keys. Lookups are read-only and safe for
// concurrent use.
type Credentials interface {
	Lookup(provider string) (string, bool)
}

// EnvCredentials reads keys from CredentialEnv. Blank values count as absent.
type EnvCredentials struct{}

func (EnvCredentials) Lookup(provider string) (string, bool) {
	name, ok := CredentialEnv[provider]
	if !ok {
		return "", false
	}
	v := strings.TrimSpace(os.Getenv(name))
	return v, v != ""
}

// StaticCredentials serves fixed keys, mainly for tests.
type StaticCredentials map[string]string

func (s StaticCredentials) Lookup(provider string) (string, bool) {
	v := strings.TrimSpace(s[provider])
	return v, v != ""
}

// ProviderForModel infers the provider from a model name.
func ProviderForModel(model string) (string, error) {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "grok"):
		return ProviderXAI, nil
	case strings.Contains(m, "o3"), strings.Contains(m, "gpt"):
		return ProviderOpenAI, nil
	case strings.Contains(m, "claude"):
		return ProviderAnthropic, nil
	case strings.Contains(m, "gemini"):
		return ProviderGoogle, nil
	}
	return "", errors.New("cannot determine provider for model %q", model)
}

// DefaultModel returns the model a provider uses when none is configured.
func DefaultModel(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return DefaultAnthropicModel
	case ProviderGoogle:
		return DefaultGeminiModel
	case ProviderOpenAI:
		return DefaultOpenAIModel
	case ProviderXAI:
		return DefaultXAIModel
	case ProviderBedrock:
		return DefaultBedrockModel
	case ProviderOllama:
		return DefaultOllamaModel
	}
	return ""
}

// Factory builds a fresh provider. An empty model selects the default.
type Factory func(ctx context.Context, provider, model string) (Provider, error)

// NewFactory returns a Factory backed by NewProvider.
func NewFactory(creds Credentials, opts Options) Factory {
	return func(ctx context.Context, provider, model string) (Provider, error) {
		return NewProvider(ctx, provider, model, creds, opts)
	}
}

// NewProvider builds the named backend.
func NewProvider(ctx context.Context, provider, model string, creds Credentials, opts Options) (Provider, error) {
	if creds == nil {
		creds = EnvCredentials{}
	}
	key := func() (string, error) {
		k, ok := creds.Lookup(provider)
		if !ok {
			return "", errors.New("%s environment variable not set", CredentialEnv[provider])
		}
		return k, nil
	}

	switch provider {
	case ProviderAnthropic:
		k, err := key()
		if err != nil {
			return nil, err
		}
		return NewAnthropicProvider(k, model, opts)
	case ProviderOpenAI:
		k, err := key()
		if err != nil {
			return nil, err
		}
		return NewOpenAIProvider(k, model, opts)
	case ProviderXAI:
		k, err := key()
		if err != nil {
			return nil, err
		}
		return NewXAIProvider(k, model, opts)
	case ProviderGoogle:
		k, err := key()
		if err != nil {
			return nil, err
		}
		return NewGeminiProvider(ctx, k, model, opts)
	case ProviderBedrock:
		return NewBedrockProvider(ctx, model, opts)
	case ProviderOllama:
		return NewOllamaProvider(model, opts)
	case ProviderMock:
		p := NewMockProvider(ProviderMock)
		p.Echo = true
		return p, nil
	}
	return nil, errors.New("unknown provider %q", provider)
}
