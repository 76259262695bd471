package tools

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Input gives handlers uniform access to their parameters whether the call
// was structured (a JSON object) or legacy (a raw text body).
type Input struct {
	raw    string
	object gjson.Result
	isJSON bool
}

// ParseInput wraps a handler input.
func ParseInput(raw string) Input {
	in := Input{raw: raw}
	trimmed := strings.TrimSpace(raw)
	if gjson.Valid(trimmed) {
		if r := gjson.Parse(trimmed); r.IsObject() {
			in.object = r
			in.isJSON = true
		}
	}
	return in
}

// Structured reports whether the input is a JSON object.
func (in Input) Structured() bool { return in.isJSON }

// String returns the named string parameter.
func (in Input) String(name string) (string, bool) {
	if !in.isJSON {
		return "", false
	}
	v := in.object.Get(gjson.Escape(name))
	if !v.Exists() || v.Type == gjson.Null {
		return "", false
	}
	return v.String(), true
}

// Primary returns the named parameter, falling back to the "input" key and
// then to the whole raw body of a legacy call.
func (in Input) Primary(name string) (string, bool) {
	if v, ok := in.String(name); ok {
		return v, true
	}
	if v, ok := in.String("input"); ok {
		return v, true
	}
	if in.isJSON {
		return "", false
	}
	s := strings.TrimSpace(in.raw)
	return s, s != ""
}

// Map returns the JSON object as a map, or {"input": raw} for legacy input.
func (in Input) Map() map[string]any {
	if !in.isJSON {
		return map[string]any{"input": in.raw}
	}
	m, ok := in.object.Value().(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return m
}
