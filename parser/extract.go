package parser

import "strings"

// extractCandidate finds the JSON object a reply most likely meant as its
// decision. A reply that is (or is fenced as) an object is taken whole; else
// the first ```json block; else the first balanced object mentioning a
// "thought" or "type" key.
func extractCandidate(text string) (string, bool) {
	s := stripFence(strings.TrimSpace(text))
	if strings.HasPrefix(s, "{") {
		if objs := balancedObjects(s); len(objs) > 0 && strings.HasPrefix(s, objs[0]) {
			return objs[0], true
		}
		return s, true
	}
	if block, ok := jsonFence(text); ok {
		return block, true
	}
	for _, obj := range balancedObjects(text) {
		if strings.Contains(obj, `"thought"`) || strings.Contains(obj, `"type"`) {
			return obj, true
		}
	}
	return "", false
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

func jsonFence(text string) (string, bool) {
	i := strings.Index(strings.ToLower(text), "```json")
	if i < 0 {
		return "", false
	}
	body := text[i+len("```json"):]
	if j := strings.Index(body, "```"); j >= 0 {
		body = body[:j]
	}
	body = strings.TrimSpace(body)
	if !strings.HasPrefix(body, "{") {
		return "", false
	}
	return body, true
}

// balancedObjects returns the top-level {...} spans of s, skipping braces
// inside double-quoted strings. An object left open at the end is dropped.
func balancedObjects(s string) []string {
	var out []string
	depth, start := 0, -1
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				out = append(out, s[start:i+1])
			}
		}
	}
	return out
}
