package prompt

import (
	"strings"
	"testing"

	"github.com/m4xw311/thinkact/session"
	"github.com/m4xw311/thinkact/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func searchAction() tools.Action {
	return tools.Action{
		Name:        "web_search",
		Description: "Searches the web.",
		Parameters: map[string]tools.Param{
			"query": {Type: "string", Description: "Search terms"},
			"limit": {Description: "Maximum results"},
		},
		Returns: "Result snippets",
		Example: `{"name": "web_search", "parameters": {"query": "go generics"}}`,
	}
}

func TestBuildSectionOrder(t *testing.T) {
	p := Build(Options{
		Context:      "You are a research assistant.",
		Instructions: "Answer briefly.",
		Examples:     []string{"User: hi\nResponse: hello"},
		Actions:      []tools.Action{searchAction()},
	})
	require.Len(t, p.Segments, 1)
	assert.False(t, p.Segments[0].Cacheable)

	text := p.Text()
	order := []string{
		"=== Context ===\nYou are a research assistant.",
		"=== Response Template ===",
		"=== Available Actions ===",
		"=== General Instructions ===",
		"=== Additional Instructions/Context ===\nAnswer briefly.",
		"=== Examples of Full Flow ===\n\nUser: hi",
	}
	last := -1
	for _, section := range order {
		i := strings.Index(text, section)
		require.Greater(t, i, last, section)
		last = i
	}
	assert.Contains(t, text, StopPhrase)
	assert.Contains(t, text, ObservationPhrase)
}

func TestBuildDefaults(t *testing.T) {
	text := Build(Options{}).Text()
	assert.Contains(t, text, "No additional context")
	assert.Contains(t, text, "No general instructions")
	assert.NotContains(t, text, "=== Available Actions ===")
	assert.NotContains(t, text, "=== Examples of Full Flow ===")
}

func TestFormatAction(t *testing.T) {
	want := "Name: web_search\n" +
		"Description: Searches the web.\n" +
		"Action Parameters:\n" +
		"    - limit (any): Maximum results\n" +
		"    - query (string): Search terms\n" +
		"Returns: Result snippets\n" +
		`Example Invocation: {"name": "web_search", "parameters": {"query": "go generics"}}`
	assert.Equal(t, want, FormatAction(searchAction()))

	bare := FormatAction(tools.Action{Name: "now", Returns: "time"})
	assert.Contains(t, bare, "Action Parameters: none")
	assert.NotContains(t, bare, "Example Invocation")
}

func TestBuildWithCaching(t *testing.T) {
	p := Build(Options{
		Context:  "ctx",
		Actions:  []tools.Action{searchAction()},
		Examples: []string{"one", "two"},
		Caching:  true,
		CacheTTL: "1h",
	})
	require.Len(t, p.Segments, 2)
	static, dynamic := p.Segments[0], p.Segments[1]
	assert.True(t, static.Cacheable)
	assert.Equal(t, "1h", static.CacheTTL)
	assert.Contains(t, static.Text, "=== Available Actions ===")
	assert.NotContains(t, static.Text, "=== General Instructions ===")
	assert.False(t, dynamic.Cacheable)
	assert.Contains(t, dynamic.Text, "Example 1:\none\n\nExample 2:\ntwo")

	msg := p.Message()
	assert.Equal(t, session.RoleSystem, msg.Role)
	assert.Len(t, msg.Blocks, 2)
	assert.Equal(t, p.Text(), msg.Text())

	assert.Equal(t, "5m", Build(Options{Caching: true}).Segments[0].CacheTTL)
}

func TestMessageWithoutCaching(t *testing.T) {
	p := Build(Options{Context: "ctx"})
	msg := p.Message()
	assert.Empty(t, msg.Blocks)
	assert.Equal(t, p.Text(), msg.Content)
}

func TestCachingSupported(t *testing.T) {
	assert.True(t, CachingSupported("anthropic"))
	assert.True(t, CachingSupported("bedrock"))
	assert.False(t, CachingSupported("openai"))
}
