package llm

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/m4xw311/thinkact/errors"
	"github.com/m4xw311/thinkact/session"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

const (
	DefaultOpenAIModel = "o3-mini-2025-01-31"
	openAIVisionModel  = "gpt-4o"
)

// OpenAIProvider is a client for the OpenAI Chat Completion API. The xAI
// backend reuses it with a different base URL.
type OpenAIProvider struct {
	client      *openai.Client
	name        string
	model       string
	visionModel string
	telemetry
}

// NewOpenAIProvider creates an OpenAIProvider. OPENAI_BASE_URL overrides the
// endpoint when opts.BaseURL is empty.
func NewOpenAIProvider(apiKey, model string, opts Options) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("openai API key not set")
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	if opts.BaseURL == "" {
		opts.BaseURL = os.Getenv("OPENAI_BASE_URL")
	}
	return newOpenAICompatible(ProviderOpenAI, apiKey, model, openAIVisionModel, opts), nil
}

func newOpenAICompatible(name, apiKey, model, visionModel string, opts Options) *OpenAIProvider {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	// The v2 SDK returns a value; keep a pointer so services share state.
	c := openai.NewClient(reqOpts...)
	return &OpenAIProvider{
		client:      &c,
		name:        name,
		model:       model,
		visionModel: visionModel,
		telemetry:   newTelemetry(name, opts),
	}
}

func (o *OpenAIProvider) Name() string { return o.name }

// Generate sends the conversation as chat messages. Reasoning models reject
// a temperature, so none is sent for them.
func (o *OpenAIProvider) Generate(ctx context.Context, messages []session.Message, temperature float64) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: toOpenAIMessages(messages),
	}
	if !isReasoningModel(o.model) {
		params.Temperature = openai.Float(temperature)
	}
	return o.send(ctx, params, o.model, conversationText(messages))
}

// GenerateVision passes the image by URL in an image_url content part.
func (o *OpenAIProvider) GenerateVision(ctx context.Context, prompt, imageURL string, temperature float64) (string, error) {
	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(prompt),
		openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: imageURL}),
	}
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(o.visionModel),
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(parts)},
		Temperature: openai.Float(temperature),
	}
	return o.send(ctx, params, o.visionModel, prompt)
}

func (o *OpenAIProvider) send(ctx context.Context, params openai.ChatCompletionNewParams, model, request string) (string, error) {
	started := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		o.observe(model, request, started, Usage{}, err)
		return "", wrapError(o.name, err)
	}

	usage := Usage{
		InputTokens:     resp.Usage.PromptTokens,
		OutputTokens:    resp.Usage.CompletionTokens,
		CacheReadTokens: resp.Usage.PromptTokensDetails.CachedTokens,
	}
	o.observe(model, request, started, usage, nil)

	if len(resp.Choices) == 0 {
		return "", &ProviderError{Provider: o.name, Message: "empty response: no choices returned"}
	}
	return resp.Choices[0].Message.Content, nil
}

// toOpenAIMessages keeps roles as they are; the chat API accepts repeated
// roles and system messages anywhere.
func toOpenAIMessages(messages []session.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Text()))
		case session.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Text()))
		default:
			out = append(out, openai.UserMessage(msg.Text()))
		}
	}
	return out
}

func isReasoningModel(model string) bool {
	m := strings.ToLower(model)
	for _, prefix := range []string{"o1", "o3", "o4"} {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}
