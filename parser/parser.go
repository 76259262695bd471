// Package parser turns raw model text into a single agent decision. It tries
// structured JSON first, then a repaired form, then asks the model to correct
// itself, and finally falls back to the line-oriented "Thought:/Action:"
// format.
package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/m4xw311/thinkact/errors"
	"github.com/m4xw311/thinkact/logging"
	"github.com/m4xw311/thinkact/tools"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// Layer identifies which stage produced an outcome.
type Layer int

const (
	LayerStructured Layer = iota + 1
	LayerRepaired
	LayerCorrected
	LayerLegacy
)

func (l Layer) String() string {
	switch l {
	case LayerStructured:
		return "structured"
	case LayerRepaired:
		return "repaired"
	case LayerCorrected:
		return "corrected"
	case LayerLegacy:
		return "legacy"
	}
	return fmt.Sprintf("layer(%d)", int(l))
}

// Decision is one of ActionCall, FinalResponse or Diagnostic.
type Decision interface {
	decision()
}

// ActionCall asks the agent to run an action. Input is what the handler
// receives: compact parameter JSON, or the raw body of a legacy call.
type ActionCall struct {
	Name   string
	Params map[string]any
	Input  string
}

// FinalResponse ends the loop with an answer.
type FinalResponse struct {
	Text string
}

// Diagnostic ends the loop with a message explaining why no decision could
// be made.
type Diagnostic struct {
	Text string
}

func (ActionCall) decision()    {}
func (FinalResponse) decision() {}
func (Diagnostic) decision()    {}

// TurnOutcome is the parsed form of one model reply.
type TurnOutcome struct {
	Thought  string
	Decision Decision
	Layer    Layer
}

// UnparseableText is the diagnostic given when nothing could be extracted
// and the text looks like an attempted action.
const UnparseableText = "Could not parse response format. Please use valid JSON format as specified in the template."

// Actions is the part of the action registry the parser needs.
type Actions interface {
	Resolve(name string) (tools.Action, error)
	MentionedIn(text string) bool
}

// Reinvoker sends a correction request to the model and returns its reply.
type Reinvoker func(ctx context.Context, correction string) (string, error)

// Failure describes why a stage produced no outcome. Final failures skip
// the remaining JSON stages.
type Failure struct {
	Layer Layer
	Err   error
	Final bool
}

func (f *Failure) Error() string { return fmt.Sprintf("%s: %v", f.Layer, f.Err) }

func (f *Failure) Unwrap() error { return f.Err }

// CorrectionPrompt is the request sent when the model's JSON could not be
// decoded or repaired.
func CorrectionPrompt(parseErr error, original string) string {
	return fmt.Sprintf("Your previous response contained invalid JSON that could not be parsed.\n\n"+
		"Error: %v\n\n"+
		"Your original response:\n%s\n\n"+
		"Please provide ONLY a corrected JSON response with the exact same content, but with valid JSON syntax.\n"+
		"Do not include any explanation - just the corrected JSON wrapped in ```json``` code blocks.", parseErr, original)
}

// attempt carries state between stages for one Parse call.
type attempt struct {
	text      string
	actions   Actions
	reinvoke  Reinvoker
	candidate string
	syntaxErr error
}

type stage func(ctx context.Context, a *attempt) (TurnOutcome, *Failure)

// Parser turns raw model text into a TurnOutcome, escalating through
// structured decoding, repair and a correction re-invocation.
type Parser struct {
	logger *slog.Logger
	stages []stage
}

// New returns a Parser logging under the "parser" component.
func New(logger *slog.Logger) *Parser {
	p := &Parser{logger: logging.Component(logger, "parser")}
	p.stages = []stage{p.structured, p.repaired, p.corrected}
	return p
}

// Parse always yields an outcome. reinvoke may be nil, which disables the
// correction stage.
func (p *Parser) Parse(ctx context.Context, text string, actions Actions, reinvoke Reinvoker) TurnOutcome {
	a := &attempt{text: text, actions: actions, reinvoke: reinvoke}
	for _, s := range p.stages {
		out, f := s(ctx, a)
		if f == nil {
			return out
		}
		p.logger.Debug("parse stage failed", slog.String("layer", f.Layer.String()), slog.Any("error", f.Err))
		if f.Final {
			break
		}
	}
	return p.legacy(a)
}

func (p *Parser) structured(_ context.Context, a *attempt) (TurnOutcome, *Failure) {
	candidate, ok := extractCandidate(a.text)
	if !ok {
		return TurnOutcome{}, &Failure{Layer: LayerStructured, Err: errors.New("no JSON object found"), Final: true}
	}
	a.candidate = candidate
	out, err := decode(candidate, a.actions)
	if err != nil {
		return TurnOutcome{}, a.fail(LayerStructured, err)
	}
	out.Layer = LayerStructured
	return out, nil
}

func (p *Parser) repaired(_ context.Context, a *attempt) (TurnOutcome, *Failure) {
	out, err := decodeLenient(a.candidate, a.actions)
	if err != nil {
		p.logger.Warn("JSON repair failed", slog.Any("error", err))
		return TurnOutcome{}, a.fail(LayerRepaired, err)
	}
	p.logger.Info("JSON repaired")
	out.Layer = LayerRepaired
	return out, nil
}

func (p *Parser) corrected(ctx context.Context, a *attempt) (TurnOutcome, *Failure) {
	if a.reinvoke == nil {
		return TurnOutcome{}, &Failure{Layer: LayerCorrected, Err: errors.New("no reinvoker"), Final: true}
	}
	reply, err := a.reinvoke(ctx, CorrectionPrompt(a.syntaxErr, a.text))
	if err != nil {
		p.logger.Warn("JSON correction request failed", slog.Any("error", err))
		return TurnOutcome{}, &Failure{Layer: LayerCorrected, Err: err, Final: true}
	}
	candidate, ok := extractCandidate(reply)
	if !ok {
		return TurnOutcome{}, &Failure{Layer: LayerCorrected, Err: errors.New("correction held no JSON object"), Final: true}
	}
	out, err := decode(candidate, a.actions)
	if err != nil && isSyntax(err) {
		out, err = decodeLenient(candidate, a.actions)
	}
	if err != nil {
		p.logger.Warn("JSON correction unusable", slog.Any("error", err))
		return TurnOutcome{}, &Failure{Layer: LayerCorrected, Err: err, Final: true}
	}
	p.logger.Info("JSON corrected by model")
	out.Layer = LayerCorrected
	return out, nil
}

// fail records the first syntax error for the correction prompt. A candidate
// that decoded but had the wrong shape is not retried as JSON.
func (a *attempt) fail(layer Layer, err error) *Failure {
	if !isSyntax(err) {
		return &Failure{Layer: layer, Err: err, Final: true}
	}
	if a.syntaxErr == nil {
		a.syntaxErr = err
	}
	return &Failure{Layer: layer, Err: err}
}

type syntaxError struct{ err error }

func (e *syntaxError) Error() string { return e.err.Error() }
func (e *syntaxError) Unwrap() error { return e.err }

func isSyntax(err error) bool {
	var se *syntaxError
	return errors.As(err, &se)
}

// decodeLenient repairs the candidate and, failing that, reads it as a YAML
// flow mapping re-encoded to JSON.
func decodeLenient(candidate string, actions Actions) (TurnOutcome, error) {
	out, err := decode(Repair(candidate), actions)
	if err == nil || !isSyntax(err) {
		return out, err
	}
	var v any
	if yerr := yaml.Unmarshal([]byte(candidate), &v); yerr != nil {
		return TurnOutcome{}, err
	}
	if _, ok := v.(map[string]any); !ok {
		return TurnOutcome{}, err
	}
	data, jerr := json.Marshal(v)
	if jerr != nil {
		return TurnOutcome{}, err
	}
	return decode(string(data), actions)
}

// decode strictly decodes and validates one candidate. Syntax errors are
// wrapped in *syntaxError; anything else is a shape error.
func decode(candidate string, actions Actions) (TurnOutcome, error) {
	var probe any
	if err := json.Unmarshal([]byte(candidate), &probe); err != nil {
		return TurnOutcome{}, &syntaxError{err: err}
	}
	doc := gjson.Parse(candidate)
	if !doc.IsObject() {
		return TurnOutcome{}, errors.New("decision must be a JSON object")
	}

	thought := doc.Get("thought")
	if !thought.Exists() {
		return TurnOutcome{}, errors.New("missing 'thought' field")
	}
	if thought.Type != gjson.String {
		return TurnOutcome{}, errors.New("'thought' must be a string")
	}
	out := TurnOutcome{Thought: thought.Str}

	switch typ := doc.Get("type"); {
	case !typ.Exists():
		return TurnOutcome{}, errors.New("missing 'type' field")
	case typ.String() == "action":
		call, err := decodeAction(doc.Get("action"))
		if err != nil {
			return TurnOutcome{}, err
		}
		out.Decision = resolve(call, actions)
	case typ.String() == "response":
		resp := doc.Get("response")
		if !resp.Exists() {
			return TurnOutcome{}, errors.New("missing 'response' field for response type")
		}
		text := resp.Str
		if resp.Type != gjson.String {
			text = compact(resp.Raw)
		}
		out.Decision = FinalResponse{Text: text}
	default:
		return TurnOutcome{}, errors.New("invalid type: %s. Must be 'action' or 'response'", typ.String())
	}
	return out, nil
}

func decodeAction(action gjson.Result) (ActionCall, error) {
	if !action.IsObject() {
		return ActionCall{}, errors.New("missing 'action' field for action type")
	}
	name := action.Get("name")
	if name.Type != gjson.String || strings.TrimSpace(name.Str) == "" {
		return ActionCall{}, errors.New("missing action name")
	}
	call := ActionCall{Name: strings.TrimSpace(name.Str), Params: map[string]any{}, Input: "{}"}
	params := action.Get("parameters")
	switch {
	case !params.Exists() || params.Type == gjson.Null:
	case params.IsObject():
		if m, ok := params.Value().(map[string]any); ok && len(m) > 0 {
			call.Params = m
			call.Input = compact(params.Raw)
		}
	default:
		return ActionCall{}, errors.New("action parameters must be an object")
	}
	return call, nil
}

// resolve maps the call onto a registered action, or a diagnostic when the
// name is unknown.
func resolve(call ActionCall, actions Actions) Decision {
	a, err := actions.Resolve(call.Name)
	if err != nil {
		return Diagnostic{Text: err.Error()}
	}
	call.Name = a.Name
	return call
}

func compact(raw string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		return raw
	}
	return buf.String()
}
