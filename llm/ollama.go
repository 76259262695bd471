package llm

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/m4xw311/thinkact/errors"
	"github.com/m4xw311/thinkact/session"
	"github.com/ollama/ollama/api"
)

const (
	DefaultOllamaModel = "llama3.1"
	defaultOllamaHost  = "http://localhost:11434"
)

// OllamaProvider runs against a local Ollama server. It needs no API key,
// so it is only ever used as a primary.
type OllamaProvider struct {
	client *api.Client
	model  string
	telemetry
}

// NewOllamaProvider connects to opts.BaseURL, OLLAMA_HOST, or localhost.
func NewOllamaProvider(model string, opts Options) (*OllamaProvider, error) {
	host := opts.BaseURL
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = defaultOllamaHost
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid ollama host %q", host)
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &OllamaProvider{
		client:    api.NewClient(u, hc),
		model:     model,
		telemetry: newTelemetry(ProviderOllama, opts),
	}, nil
}

func (o *OllamaProvider) Name() string { return ProviderOllama }

// Generate performs a non-streaming chat request.
func (o *OllamaProvider) Generate(ctx context.Context, messages []session.Message, temperature float64) (string, error) {
	msgs := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, api.Message{Role: string(m.Role), Content: m.Text()})
	}

	stream := false
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: msgs,
		Stream:   &stream,
		Options:  map[string]any{"temperature": temperature},
	}

	request := conversationText(messages)
	started := time.Now()
	var resp api.ChatResponse
	err := o.client.Chat(ctx, req, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	if err != nil {
		o.observe(o.model, request, started, Usage{}, err)
		return "", wrapError(ProviderOllama, err)
	}

	o.observe(o.model, request, started, Usage{
		InputTokens:  int64(resp.PromptEvalCount),
		OutputTokens: int64(resp.EvalCount),
	}, nil)
	return resp.Message.Content, nil
}

func (o *OllamaProvider) GenerateVision(context.Context, string, string, float64) (string, error) {
	return "", notSupported(ProviderOllama, "vision")
}
