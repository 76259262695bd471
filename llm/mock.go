package llm

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/m4xw311/thinkact/session"
)

// MockReply is one scripted answer. A non-nil Err is returned instead of Text.
type MockReply struct {
	Text string
	Err  error
}

// Reply scripts a successful answer.
func Reply(text string) MockReply { return MockReply{Text: text} }

// Fail scripts a failed call.
func Fail(err error) MockReply { return MockReply{Err: err} }

// MockProvider returns scripted replies in order and records every request.
// Once the script runs out it either echoes the last user message as a
// final response (Echo) or fails.
type MockProvider struct {
	ProviderName string
	Echo         bool

	mu       sync.Mutex
	replies  []MockReply
	requests [][]session.Message
}

// NewMockProvider scripts a provider named name.
func NewMockProvider(name string, replies ...MockReply) *MockProvider {
	if name == "" {
		name = ProviderMock
	}
	return &MockProvider{ProviderName: name, replies: replies}
}

func (m *MockProvider) Name() string { return m.ProviderName }

func (m *MockProvider) Generate(ctx context.Context, messages []session.Message, _ float64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make([]session.Message, len(messages))
	copy(snapshot, messages)
	m.requests = append(m.requests, snapshot)

	if len(m.replies) == 0 {
		if m.Echo {
			return echoResponse(messages), nil
		}
		return "", &ProviderError{Provider: m.ProviderName, Message: "mock: no scripted reply left"}
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	return r.Text, r.Err
}

func (m *MockProvider) GenerateVision(ctx context.Context, prompt, _ string, temperature float64) (string, error) {
	return m.Generate(ctx, []session.Message{session.NewMessage(session.RoleUser, prompt)}, temperature)
}

// Calls returns how many requests the provider has received.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Request returns the messages of the i-th call.
func (m *MockProvider) Request(i int) []session.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[i]
}

func echoResponse(messages []session.Message) string {
	var last string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == session.RoleUser {
			last = messages[i].Text()
			break
		}
	}
	out, _ := json.Marshal(map[string]string{
		"thought":  "Echoing the request.",
		"type":     "response",
		"response": "I am a mock model. You said: '" + last + "'.",
	})
	return string(out)
}
