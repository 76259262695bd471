package llm

import (
	"context"
	"strings"
	"time"

	"github.com/m4xw311/thinkact/session"
)

// Provider is implemented once per upstream model backend. Implementations
// own authentication and request translation.
type Provider interface {
	// Name returns the provider key, e.g. "anthropic".
	Name() string
	// Generate sends the ordered conversation and returns the model text.
	Generate(ctx context.Context, messages []session.Message, temperature float64) (string, error)
	// GenerateVision answers prompt about the image at imageURL. Backends
	// without vision return an error wrapping ErrNotSupported.
	GenerateVision(ctx context.Context, prompt, imageURL string, temperature float64) (string, error)
}

// Recorder receives call-level metrics. *metrics.Recorder implements it.
type Recorder interface {
	ModelCall(provider, model, status string, elapsed time.Duration, inputTokens, outputTokens int64)
	RetryAttempt(provider string)
	FallbackAttempt(from, to, status string)
}

type nopRecorder struct{}

func (nopRecorder) ModelCall(string, string, string, time.Duration, int64, int64) {}
func (nopRecorder) RetryAttempt(string)                                          {}
func (nopRecorder) FallbackAttempt(string, string, string)                       {}

// turn is a provider-neutral message after system extraction and role merging.
type turn struct {
	assistant bool
	text      string
}

// splitConversation pulls system content out of messages and merges
// consecutive messages that share a role. Backends that require strictly
// alternating roles build on this.
func splitConversation(messages []session.Message) ([]session.Block, []turn) {
	var system []session.Block
	var turns []turn
	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			if len(msg.Blocks) > 0 {
				system = append(system, msg.Blocks...)
			} else if msg.Content != "" {
				system = append(system, session.Block{Text: msg.Content})
			}
		default:
			t := turn{assistant: msg.Role == session.RoleAssistant, text: msg.Text()}
			if n := len(turns); n > 0 && turns[n-1].assistant == t.assistant {
				turns[n-1].text += "\n\n" + t.text
				continue
			}
			turns = append(turns, t)
		}
	}
	return system, turns
}

// systemText joins system blocks into one prompt.
func systemText(blocks []session.Block) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		parts = append(parts, b.Text)
	}
	return strings.Join(parts, "\n\n")
}

// conversationText flattens a conversation for request-size telemetry.
func conversationText(messages []session.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(m.Text())
		sb.WriteByte('\n')
	}
	return sb.String()
}
