package llm

import (
	"strings"

	"github.com/m4xw311/thinkact/errors"
)

const (
	DefaultXAIModel = "grok-3"
	xaiBaseURL      = "https://api.x.ai/v1"
	xaiVisionModel  = "grok-vision-beta"
)

// NewXAIProvider returns an OpenAI-compatible provider pointed at xAI.
func NewXAIProvider(apiKey, model string, opts Options) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("xai API key not set")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = xaiBaseURL
	}
	return newOpenAICompatible(ProviderXAI, apiKey, normalizeGrokModel(model), xaiVisionModel, opts), nil
}

// normalizeGrokModel accepts display names such as "Grok 3".
func normalizeGrokModel(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	if m == "" {
		return DefaultXAIModel
	}
	return strings.Join(strings.Fields(m), "-")
}
