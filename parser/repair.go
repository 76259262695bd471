package parser

import "strings"

// Repair rewrites almost-JSON into JSON. It handles comments, single-quoted
// strings, unquoted keys and barewords, trailing commas, Python literals,
// raw control characters inside strings, an unterminated final string and
// unclosed brackets. Valid JSON passes through unchanged.
func Repair(s string) string {
	out := make([]byte, 0, len(s)+8)
	var stack []byte
	inString := false
	var quote byte

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case c == '\\':
				if i+1 >= len(s) {
					out = append(out, '\\', '\\')
					continue
				}
				i++
				next := s[i]
				switch {
				case next == '\'':
					out = append(out, '\'')
				case strings.IndexByte(`"\/bfnrtu`, next) < 0:
					out = append(out, '\\', '\\', next)
				default:
					out = append(out, '\\', next)
				}
			case c == quote:
				inString = false
				out = append(out, '"')
			case c == '"':
				out = append(out, '\\', '"')
			case c == '\n':
				out = append(out, '\\', 'n')
			case c == '\r':
				out = append(out, '\\', 'r')
			case c == '\t':
				out = append(out, '\\', 't')
			default:
				out = append(out, c)
			}
			continue
		}

		switch {
		case c == '"' || c == '\'':
			inString, quote = true, c
			out = append(out, '"')
		case c == '#' || (c == '/' && i+1 < len(s) && s[i+1] == '/'):
			if j := strings.IndexByte(s[i:], '\n'); j >= 0 {
				i += j - 1
			} else {
				i = len(s)
			}
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			if j := strings.Index(s[i+2:], "*/"); j >= 0 {
				i += j + 3
			} else {
				i = len(s)
			}
		case c == '{' || c == '[':
			stack = append(stack, c)
			out = append(out, c)
		case c == '}' || c == ']':
			if len(stack) == 0 {
				continue
			}
			out = dropTrailingComma(out)
			out = append(out, closer(stack[len(stack)-1]))
			stack = stack[:len(stack)-1]
		case isIdentStart(c) && !inNumber(out):
			j := i
			for j < len(s) && isIdentChar(s[j]) {
				j++
			}
			out = appendWord(out, s[i:j], isKey(s[j:]))
			i = j - 1
		default:
			out = append(out, c)
		}
	}

	if inString {
		out = append(out, '"')
	}
	if trimmed := strings.TrimRight(string(out), " \t\r\n"); strings.HasSuffix(trimmed, ":") {
		out = append([]byte(trimmed), " null"...)
	}
	out = dropTrailingComma(out)
	for i := len(stack) - 1; i >= 0; i-- {
		out = append(out, closer(stack[i]))
	}
	return string(out)
}

func appendWord(out []byte, word string, key bool) []byte {
	if !key {
		switch word {
		case "true", "True":
			return append(out, "true"...)
		case "false", "False":
			return append(out, "false"...)
		case "null", "None", "undefined":
			return append(out, "null"...)
		}
	}
	out = append(out, '"')
	out = append(out, word...)
	return append(out, '"')
}

// isKey reports whether the bareword is followed by a colon.
func isKey(rest string) bool {
	rest = strings.TrimLeft(rest, " \t")
	return strings.HasPrefix(rest, ":")
}

// dropTrailingComma removes a comma that is the last non-space byte.
func dropTrailingComma(out []byte) []byte {
	i := len(out) - 1
	for i >= 0 && (out[i] == ' ' || out[i] == '\t' || out[i] == '\n' || out[i] == '\r') {
		i--
	}
	if i >= 0 && out[i] == ',' {
		return append(out[:i], out[i+1:]...)
	}
	return out
}

func closer(open byte) byte {
	if open == '{' {
		return '}'
	}
	return ']'
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9') || c == '-' || c == '.'
}

// inNumber reports whether the output ends in a digit or decimal point, so
// an exponent marker is not mistaken for a bareword.
func inNumber(out []byte) bool {
	if len(out) == 0 {
		return false
	}
	c := out[len(out)-1]
	return (c >= '0' && c <= '9') || c == '.'
}
