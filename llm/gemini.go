package llm

import (
	"context"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/m4xw311/thinkact/errors"
	"github.com/m4xw311/thinkact/session"
	"google.golang.org/api/option"
)

const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiProvider is a client for the Google Gemini API.
type GeminiProvider struct {
	client *genai.Client
	model  string
	telemetry
}

// NewGeminiProvider creates a GeminiProvider. Close releases the client.
func NewGeminiProvider(ctx context.Context, apiKey, model string, opts Options) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key not set")
	}
	if model == "" {
		model = DefaultGeminiModel
	}

	clientOpts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	client, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}

	return &GeminiProvider{
		client:    client,
		model:     model,
		telemetry: newTelemetry(ProviderGoogle, opts),
	}, nil
}

func (g *GeminiProvider) Name() string { return ProviderGoogle }

// Close shuts down the underlying client.
func (g *GeminiProvider) Close() error { return g.client.Close() }

// Generate replays the history through a chat session and sends the last
// user turn. System content becomes the model's system instruction.
func (g *GeminiProvider) Generate(ctx context.Context, messages []session.Message, temperature float64) (string, error) {
	system, turns := splitConversation(messages)
	if len(turns) == 0 {
		return "", &ProviderError{Provider: ProviderGoogle, Message: "bad request: conversation has no user turn"}
	}

	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(float32(temperature))
	if len(system) > 0 {
		model.SystemInstruction = genai.NewUserContent(genai.Text(systemText(system)))
	}

	history := toGeminiContent(turns)
	last := history[len(history)-1]

	chat := model.StartChat()
	chat.History = history[:len(history)-1]

	started := time.Now()
	resp, err := chat.SendMessage(ctx, last.Parts...)
	return g.finish(resp, err, conversationText(messages), started)
}

// GenerateVision embeds the image URL in the prompt text.
func (g *GeminiProvider) GenerateVision(ctx context.Context, prompt, imageURL string, temperature float64) (string, error) {
	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(float32(temperature))

	text := prompt + "\n\nImage URL: " + imageURL
	started := time.Now()
	resp, err := model.GenerateContent(ctx, genai.Text(text))
	return g.finish(resp, err, text, started)
}

func (g *GeminiProvider) finish(resp *genai.GenerateContentResponse, err error, request string, started time.Time) (string, error) {
	if err != nil {
		g.observe(g.model, request, started, Usage{}, err)
		return "", wrapError(ProviderGoogle, err)
	}

	var usage Usage
	if md := resp.UsageMetadata; md != nil {
		usage = Usage{
			InputTokens:     int64(md.PromptTokenCount),
			OutputTokens:    int64(md.CandidatesTokenCount),
			CacheReadTokens: int64(md.CachedContentTokenCount),
		}
	}
	g.observe(g.model, request, started, usage, nil)

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", &ProviderError{Provider: ProviderGoogle, Message: "received an empty response from Gemini"}
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String(), nil
}

// toGeminiContent maps merged turns to Gemini's user/model roles.
func toGeminiContent(turns []turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if t.assistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(t.text)},
		})
	}
	return contents
}
