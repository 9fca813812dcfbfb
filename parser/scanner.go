package parser

import "strings"

// candidates returns every top-level brace-balanced span of s. Braces inside
// string literals are ignored. An object left open at the end of the input is
// rescanned from the byte after its opening brace, so a stray brace in prose
// does not hide a later object.
func candidates(s string) []string {
	var out []string
	for offset := 0; offset < len(s); {
		found, open := scan(s[offset:])
		out = append(out, found...)
		if open < 0 {
			break
		}
		offset += open + 1
	}
	return out
}

// scan is a byte-level state machine over s. It is safe to iterate bytes
// because ASCII delimiters never appear inside multi-byte UTF-8 sequences.
// It returns the closed spans and the start of an unterminated one, or -1.
func scan(s string) ([]string, int) {
	var (
		out      []string
		depth    int
		start    = -1
		inString bool
		escape   bool
	)

	for i := 0; i < len(s); i++ {
		b := s[i]

		if escape {
			escape = false
			continue
		}

		if inString {
			switch b {
			case '\\':
				escape = true
			case '"':
				inString = false
			}
			continue
		}

		switch b {
		case '"':
			// quotes only matter inside an object
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					out = append(out, s[start:i+1])
					start = -1
				}
			}
		}
	}

	if depth > 0 {
		return out, start
	}
	return out, -1
}

// widest returns the span from the first '{' to the last '}', or "".
func widest(s string) string {
	first := strings.IndexByte(s, '{')
	last := strings.LastIndexByte(s, '}')
	if first < 0 || last <= first {
		return ""
	}
	return s[first : last+1]
}

// stripControl removes control characters other than newline, carriage
// return and tab.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)
}

// normalize escapes raw line breaks and tabs inside string literals and
// drops the remaining C0 and C1 control characters.
func normalize(s string) string {
	var (
		sb       strings.Builder
		inString bool
		escape   bool
	)
	sb.Grow(len(s) + 16)

	for _, r := range s {
		if escape {
			escape = false
			sb.WriteRune(r)
			continue
		}

		if inString {
			switch {
			case r == '\\':
				escape = true
				sb.WriteRune(r)
			case r == '"':
				inString = false
				sb.WriteRune(r)
			case r == '\n':
				sb.WriteString(`\n`)
			case r == '\r':
				sb.WriteString(`\r`)
			case r == '\t':
				sb.WriteString(`\t`)
			case isControl(r):
			default:
				sb.WriteRune(r)
			}
			continue
		}

		switch {
		case r == '"':
			inString = true
			sb.WriteRune(r)
		case r == '\n' || r == '\r' || r == '\t':
			sb.WriteByte(' ')
		case isControl(r):
		default:
			sb.WriteRune(r)
		}
	}

	return sb.String()
}

func isControl(r rune) bool {
	return (r >= 0x00 && r <= 0x1F) || (r >= 0x7F && r <= 0x9F)
}
