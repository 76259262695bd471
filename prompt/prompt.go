// Package prompt renders the agent system prompt from the action registry
// and user supplied context.
package prompt

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/m4xw311/thinkact/llm"
	"github.com/m4xw311/thinkact/session"
	"github.com/m4xw311/thinkact/tools"
)

// Control phrases the model is told to emit after an action. The agent
// strips them before parsing and display.
const (
	StopPhrase        = "STOP HERE - You will be called again with the action result."
	ObservationPhrase = "Stop your output here and you will be called again with the result of the action as an \"Observation\"."
)

// ObservationMarker in a final response is replaced by the latest
// observation.
const ObservationMarker = "$$$observation$$$"

const responseTemplate = "=== Response Template ===\n" +
	"You must respond with valid JSON in one of the following two formats:\n\n" +
	"1. When an action IS needed (calling a tool or sub agent):\n" +
	"```json\n" +
	"{\n" +
	"  \"thought\": \"Your reasoning about what action to take\",\n" +
	"  \"type\": \"action\",\n" +
	"  \"action\": {\n" +
	"    \"name\": \"action_name\",\n" +
	"    \"parameters\": {...}\n" +
	"  }\n" +
	"}\n" +
	"```\n" +
	"OR\n\n" +
	"2. When NO action or NO FURTHER ACTION is needed:\n" +
	"```json\n" +
	"{\n" +
	"  \"thought\": \"Your reasoning about why no action is needed\",\n" +
	"  \"type\": \"response\",\n" +
	"  \"response\": \"Your response\"\n" +
	"}\n" +
	"```\n\n" +
	"Always output valid JSON. Think first in the \"thought\" field, then specify the type and appropriate action or response.\n" +
	"After an action, end your output with: " + StopPhrase + "\n"

const generalInstructions = "=== General Instructions ===\n" +
	"- Request at most one action per reply and wait for its Observation.\n" +
	"- " + ObservationPhrase + "\n" +
	"- To quote the last observation verbatim in your response, write " + ObservationMarker + " in its place.\n"

// Options configures Build.
type Options struct {
	Context      string
	Instructions string
	Examples     []string
	Actions      []tools.Action
	// Caching splits the prompt into a cacheable static segment and a
	// dynamic one.
	Caching  bool
	CacheTTL string
}

// SystemPrompt is the rendered prompt, one or two segments.
type SystemPrompt struct {
	Segments []session.Block
}

// Build renders the system prompt.
func Build(opts Options) SystemPrompt {
	ctx := opts.Context
	if strings.TrimSpace(ctx) == "" {
		ctx = "No additional context"
	}
	instructions := opts.Instructions
	if strings.TrimSpace(instructions) == "" {
		instructions = "No general instructions"
	}

	var static strings.Builder
	fmt.Fprintf(&static, "=== Context ===\n%s\n\n", ctx)
	static.WriteString(responseTemplate)
	if len(opts.Actions) > 0 {
		static.WriteString("\n=== Available Actions ===\n\n")
		formatted := make([]string, 0, len(opts.Actions))
		for _, a := range opts.Actions {
			formatted = append(formatted, "```\n"+FormatAction(a)+"\n```")
		}
		static.WriteString(strings.Join(formatted, "\n\n"))
		static.WriteString("\n")
	}

	var dynamic strings.Builder
	dynamic.WriteString(generalInstructions)
	fmt.Fprintf(&dynamic, "\n=== Additional Instructions/Context ===\n%s\n", instructions)
	if len(opts.Examples) > 0 {
		dynamic.WriteString("\n=== Examples of Full Flow ===\n\n")
		dynamic.WriteString(formatExamples(opts.Examples))
		dynamic.WriteString("\n")
	}

	if !opts.Caching {
		return SystemPrompt{Segments: []session.Block{{Text: static.String() + "\n" + dynamic.String()}}}
	}
	ttl := opts.CacheTTL
	if ttl == "" {
		ttl = "5m"
	}
	return SystemPrompt{Segments: []session.Block{
		{Text: static.String(), Cacheable: true, CacheTTL: ttl},
		{Text: dynamic.String()},
	}}
}

// FormatAction renders one action the way the prompt lists it.
func FormatAction(a tools.Action) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Name: %s\n", a.Name)
	fmt.Fprintf(&sb, "Description: %s\n", a.Description)
	sb.WriteString("Action Parameters:")
	if len(a.Parameters) == 0 {
		sb.WriteString(" none")
	}
	for _, name := range slices.Sorted(maps.Keys(a.Parameters)) {
		p := a.Parameters[name]
		typ := p.Type
		if typ == "" {
			typ = "any"
		}
		fmt.Fprintf(&sb, "\n    - %s (%s): %s", name, typ, p.Description)
	}
	fmt.Fprintf(&sb, "\nReturns: %s", a.Returns)
	if a.Example != "" {
		fmt.Fprintf(&sb, "\nExample Invocation: %s", a.Example)
	}
	return sb.String()
}

func formatExamples(examples []string) string {
	if len(examples) == 1 {
		return examples[0]
	}
	parts := make([]string, 0, len(examples))
	for i, ex := range examples {
		parts = append(parts, fmt.Sprintf("Example %d:\n%s", i+1, ex))
	}
	return strings.Join(parts, "\n\n")
}

// Text joins the segments the way session.Message.Text joins blocks.
func (p SystemPrompt) Text() string {
	parts := make([]string, 0, len(p.Segments))
	for _, s := range p.Segments {
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, "\n\n")
}

// Message returns the prompt as the leading system message of a
// conversation. A single uncached segment is sent as plain content.
func (p SystemPrompt) Message() session.Message {
	msg := session.NewMessage(session.RoleSystem, "")
	if len(p.Segments) == 1 && !p.Segments[0].Cacheable {
		msg.Content = p.Segments[0].Text
		return msg
	}
	msg.Blocks = slices.Clone(p.Segments)
	return msg
}

// CachingSupported reports whether a provider honours cacheable blocks.
func CachingSupported(provider string) bool {
	return provider == llm.ProviderAnthropic || provider == llm.ProviderBedrock
}
