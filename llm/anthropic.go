package llm

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m4xw311/thinkact/errors"
	"github.com/m4xw311/thinkact/session"
)

const (
	DefaultAnthropicModel = "claude-sonnet-4-5-20250929"

	anthropicMaxTokens       = 4000
	anthropicVisionMaxTokens = 500
)

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	client *anthropic.Client
	model  string
	http   *http.Client
	telemetry
}

// NewAnthropicProvider creates an AnthropicProvider. The SDK's own retries
// are disabled; callers wrap calls in Retry.
func NewAnthropicProvider(apiKey, model string, opts Options) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic API key not set")
	}
	if model == "" {
		model = DefaultAnthropicModel
	}

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

	client := anthropic.NewClient(reqOpts...)
	return &AnthropicProvider{
		client:    &client,
		model:     model,
		http:      opts.httpClient(),
		telemetry: newTelemetry(ProviderAnthropic, opts),
	}, nil
}

func (a *AnthropicProvider) Name() string { return ProviderAnthropic }

// Generate sends the conversation to the Messages API. Cacheable system
// blocks are sent with ephemeral cache control.
func (a *AnthropicProvider) Generate(ctx context.Context, messages []session.Message, temperature float64) (string, error) {
	system, turns := splitConversation(messages)

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   anthropicMaxTokens,
		Messages:    toAnthropicMessages(turns),
		Temperature: anthropic.Float(temperature),
	}
	if len(system) > 0 {
		params.System = toAnthropicSystem(system)
	}

	return a.send(ctx, params, conversationText(messages))
}

// GenerateVision fetches the image and sends it inline as base64.
func (a *AnthropicProvider) GenerateVision(ctx context.Context, prompt, imageURL string, temperature float64) (string, error) {
	data, header, err := fetchImage(ctx, a.http, imageURL)
	if err != nil {
		return "", wrapError(ProviderAnthropic, err)
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   anthropicVisionMaxTokens,
		Temperature: anthropic.Float(temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(imageMediaType(data, header), base64.StdEncoding.EncodeToString(data)),
				anthropic.NewTextBlock(prompt),
			),
		},
	}
	return a.send(ctx, params, prompt)
}

func (a *AnthropicProvider) send(ctx context.Context, params anthropic.MessageNewParams, request string) (string, error) {
	started := time.Now()
	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		a.observe(a.model, request, started, Usage{}, err)
		return "", wrapError(ProviderAnthropic, err)
	}

	usage := Usage{
		InputTokens:      resp.Usage.InputTokens,
		OutputTokens:     resp.Usage.OutputTokens,
		CacheReadTokens:  resp.Usage.CacheReadInputTokens,
		CacheWriteTokens: resp.Usage.CacheCreationInputTokens,
	}
	a.observe(a.model, request, started, usage, nil)
	return anthropicText(resp), nil
}

func toAnthropicSystem(blocks []session.Block) []anthropic.TextBlockParam {
	out := make([]anthropic.TextBlockParam, 0, len(blocks))
	for _, b := range blocks {
		block := anthropic.TextBlockParam{Text: b.Text}
		if b.Cacheable {
			cc := anthropic.NewCacheControlEphemeralParam()
			switch b.CacheTTL {
			case "1h":
				cc.TTL = anthropic.CacheControlEphemeralTTLTTL1h
			case "5m":
				cc.TTL = anthropic.CacheControlEphemeralTTLTTL5m
			}
			block.CacheControl = cc
		}
		out = append(out, block)
	}
	return out
}

func toAnthropicMessages(turns []turn) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		if t.assistant {
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.text)))
			continue
		}
		out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(t.text)))
	}
	return out
}

func anthropicText(resp *anthropic.Message) string {
	var sb strings.Builder
	for _, content := range resp.Content {
		if c, ok := content.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(c.Text)
		}
	}
	return sb.String()
}
