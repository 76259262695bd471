package parser

import (
	"log/slog"
	"regexp"
	"strings"
)

var (
	labelRe      = regexp.MustCompile(`(?i)^\d*\.?\s*(thought|thinking|action|observation|response):\s*(.*)$`)
	actionHeadRe = regexp.MustCompile(`(?s)^(\w+):\s*(.*)$`)
)

// terminators lists, per label, the labels that end its block.
var terminators = map[string][]string{
	"thought":  {"action", "response"},
	"thinking": {"action", "response"},
	"action":   {"observation", "response", "thought"},
	"response": {"thought", "action"},
}

type labelLine struct {
	index int
	label string
	rest  string
}

// legacyDoc is the label structure of a "Thought:/Action:/Response:" reply.
type legacyDoc struct {
	lines  []string
	labels []labelLine
}

func scanLabels(text string) legacyDoc {
	doc := legacyDoc{lines: strings.Split(text, "\n")}
	for i, line := range doc.lines {
		if m := labelRe.FindStringSubmatch(line); m != nil {
			doc.labels = append(doc.labels, labelLine{index: i, label: strings.ToLower(m[1]), rest: m[2]})
		}
	}
	return doc
}

// block returns the content of the labelled line at position k of labels,
// running until a line whose label ends it.
func (d legacyDoc) block(k int) string {
	start := d.labels[k]
	end := len(d.lines)
	for _, next := range d.labels[k+1:] {
		if ends(start.label, next.label) {
			end = next.index
			break
		}
	}
	parts := append([]string{start.rest}, d.lines[start.index+1:end]...)
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

func ends(label, next string) bool {
	for _, t := range terminators[label] {
		if t == next {
			return true
		}
	}
	return false
}

// first returns the block of the first label accepted by match.
func (d legacyDoc) first(match func(labelLine) bool) (string, bool) {
	for k, l := range d.labels {
		if match(l) {
			return d.block(k), true
		}
	}
	return "", false
}

func (p *Parser) legacy(a *attempt) TurnOutcome {
	doc := scanLabels(a.text)
	out := TurnOutcome{Layer: LayerLegacy}
	if thought, ok := doc.first(func(l labelLine) bool { return l.label == "thought" || l.label == "thinking" }); ok {
		out.Thought = thought
	}

	if body, ok := doc.first(func(l labelLine) bool { return l.label == "action" && actionHeadRe.MatchString(l.rest) }); ok {
		m := actionHeadRe.FindStringSubmatch(body)
		name, input := m[1], strings.TrimSpace(m[2])
		p.logger.Info("legacy action parsed", slog.String("action", name))
		out.Decision = resolve(ActionCall{Name: name, Params: map[string]any{"input": input}, Input: input}, a.actions)
		return out
	}

	if resp, ok := doc.first(func(l labelLine) bool { return l.label == "response" }); ok {
		out.Decision = FinalResponse{Text: resp}
		return out
	}

	if looksLikeDirectAnswer(a.text, a.actions) {
		p.logger.Info("treating reply as direct response")
		out.Decision = FinalResponse{Text: strings.TrimSpace(a.text)}
		return out
	}
	p.logger.Error("reply mentions actions but could not be parsed")
	out.Decision = Diagnostic{Text: UnparseableText}
	return out
}

// looksLikeDirectAnswer treats unlabelled prose as the final answer when it
// names no registered action as a whole word. A genuine answer that quotes
// an action name is misread as a failed action call.
func looksLikeDirectAnswer(text string, actions Actions) bool {
	return strings.TrimSpace(text) != "" && !actions.MentionedIn(text)
}
