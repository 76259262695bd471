package llm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/m4xw311/thinkact/errors"
	"github.com/m4xw311/thinkact/session"
)

const DefaultBedrockModel = "anthropic.claude-3-5-sonnet-20240620-v1:0"

// bedrockInvoker is the slice of the Bedrock runtime client the provider uses.
type bedrockInvoker interface {
	InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockProvider calls Anthropic models hosted on AWS Bedrock.
type BedrockProvider struct {
	client  bedrockInvoker
	modelID string
	telemetry
}

// NewBedrockProvider loads the default AWS credential chain.
func NewBedrockProvider(ctx context.Context, modelID string, opts Options) (*BedrockProvider, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var clientOpts []func(*bedrockruntime.Options)
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, func(o *bedrockruntime.Options) {
			o.BaseEndpoint = aws.String(opts.BaseURL)
		})
	}
	return newBedrockProvider(bedrockruntime.NewFromConfig(cfg, clientOpts...), modelID, opts), nil
}

func newBedrockProvider(client bedrockInvoker, modelID string, opts Options) *BedrockProvider {
	if modelID == "" {
		modelID = DefaultBedrockModel
	}
	return &BedrockProvider{client: client, modelID: modelID, telemetry: newTelemetry(ProviderBedrock, opts)}
}

func (b *BedrockProvider) Name() string { return ProviderBedrock }

// Generate invokes the model with an Anthropic-format request body.
func (b *BedrockProvider) Generate(ctx context.Context, messages []session.Message, temperature float64) (string, error) {
	system, turns := splitConversation(messages)
	body, err := createBedrockRequest(turns, systemText(system), temperature)
	if err != nil {
		return "", &ProviderError{Provider: ProviderBedrock, Message: "could not encode request", Err: err}
	}

	request := conversationText(messages)
	started := time.Now()
	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		b.observe(b.modelID, request, started, Usage{}, err)
		return "", wrapError(ProviderBedrock, err)
	}

	text, usage, err := parseBedrockResponse(resp.Body)
	b.observe(b.modelID, request, started, usage, err)
	if err != nil {
		return "", wrapError(ProviderBedrock, err)
	}
	return text, nil
}

func (b *BedrockProvider) GenerateVision(context.Context, string, string, float64) (string, error) {
	return "", notSupported(ProviderBedrock, "vision")
}

type bedrockContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type bedrockMessage struct {
	Role    string           `json:"role"`
	Content []bedrockContent `json:"content"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	Temperature      float64          `json:"temperature"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
}

// createBedrockRequest creates the request body for Anthropic models on Bedrock.
func createBedrockRequest(turns []turn, system string, temperature float64) ([]byte, error) {
	req := bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        anthropicMaxTokens,
		Temperature:      temperature,
		System:           system,
		Messages:         make([]bedrockMessage, 0, len(turns)),
	}
	for _, t := range turns {
		role := "user"
		if t.assistant {
			role = "assistant"
		}
		req.Messages = append(req.Messages, bedrockMessage{
			Role:    role,
			Content: []bedrockContent{{Type: "text", Text: t.text}},
		})
	}
	return json.Marshal(req)
}

type bedrockResponse struct {
	Content []bedrockContent `json:"content"`
	Usage   struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
	Error any `json:"error"`
}

// parseBedrockResponse extracts the text blocks and usage from a response body.
func parseBedrockResponse(body []byte) (string, Usage, error) {
	var resp bedrockResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", Usage{}, errors.Wrapf(err, "failed to unmarshal Bedrock response")
	}
	if resp.Error != nil {
		return "", Usage{}, errors.New("Bedrock API error: %v", resp.Error)
	}

	var text string
	for _, c := range resp.Content {
		if c.Type == "text" {
			text += c.Text
		}
	}
	return text, Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens}, nil
}
