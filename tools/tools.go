package tools

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/thinkact/errors"
)

// Handler runs an action. input is the serialized parameters: a JSON
// object for structured calls, or the raw body of a legacy "action:" line.
type Handler func(ctx context.Context, input string) (string, error)

// Param describes one action parameter for the system prompt.
type Param struct {
	Type        string
	Description string
}

// Action is a named capability the model can invoke.
type Action struct {
	Name        string
	Description string
	Parameters  map[string]Param
	Returns     string
	Example     string
	Handler     Handler
}

// NotFoundError is the result of resolving a name no action answers to.
type NotFoundError struct {
	Name      string
	Available []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Unknown action: %s. Available: %s", e.Name, strings.Join(e.Available, ", "))
}

// Registry is an immutable set of actions built once per agent.
type Registry struct {
	actions []Action
	exact   map[string]int
	folded  map[string]int
	mention *regexp.Regexp
}

// NewRegistry validates and copies actions. Names must be non-empty and
// unique ignoring case, and every action needs a handler.
func NewRegistry(actions ...Action) (*Registry, error) {
	r := &Registry{
		actions: make([]Action, 0, len(actions)),
		exact:   make(map[string]int, len(actions)),
		folded:  make(map[string]int, len(actions)),
	}
	quoted := make([]string, 0, len(actions))
	for _, a := range actions {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			return nil, errors.New("action name must not be empty")
		}
		if a.Handler == nil {
			return nil, errors.New("action %q has no handler", name)
		}
		key := strings.ToLower(name)
		if _, dup := r.folded[key]; dup {
			return nil, errors.New("action %q registered twice", name)
		}
		a.Name = name
		a.Parameters = maps.Clone(a.Parameters)

		r.exact[name] = len(r.actions)
		r.folded[key] = len(r.actions)
		r.actions = append(r.actions, a)
		quoted = append(quoted, regexp.QuoteMeta(name))
	}
	if len(quoted) > 0 {
		r.mention = regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
	}
	return r, nil
}

// Resolve finds an action by exact name, then ignoring case. Unknown names
// yield a *NotFoundError listing what is available.
func (r *Registry) Resolve(name string) (Action, error) {
	name = strings.TrimSpace(name)
	if i, ok := r.exact[name]; ok {
		return r.actions[i], nil
	}
	if i, ok := r.folded[strings.ToLower(name)]; ok {
		return r.actions[i], nil
	}
	return Action{}, &NotFoundError{Name: name, Available: r.Names()}
}

// Names returns action names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.actions))
	for i, a := range r.actions {
		names[i] = a.Name
	}
	return names
}

// Actions returns a copy of the registered actions in registration order.
func (r *Registry) Actions() []Action {
	out := make([]Action, len(r.actions))
	for i, a := range r.actions {
		a.Parameters = maps.Clone(a.Parameters)
		out[i] = a
	}
	return out
}

// Len is the number of registered actions.
func (r *Registry) Len() int { return len(r.actions) }

// MentionedIn reports whether text contains any action name as a whole
// word, ignoring case.
func (r *Registry) MentionedIn(text string) bool {
	return r.mention != nil && r.mention.MatchString(text)
}

// isPathRestricted checks if a path matches any of the glob patterns.
func isPathRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.PathMatch(pattern, path)
		if err != nil {
			return false, errors.Wrapf(err, "invalid glob pattern '%s'", pattern)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// isCommandAllowed checks if a command is in the allowlist (with regex support).
// An invalid pattern only matches the command verbatim.
func isCommandAllowed(command string, allowed []string) bool {
	if len(strings.Fields(command)) == 0 {
		return false
	}
	for _, pattern := range allowed {
		re, err := regexp.Compile(pattern)
		if err != nil {
			if command == pattern {
				return true
			}
			continue
		}
		if re.MatchString(command) {
			return true
		}
	}
	return false
}
