package manifest

import "bytes"

// stripJSONC removes // and /* */ comments and trailing commas from JSON
// text. String literals are left untouched. Newlines inside comments are
// kept so decoder line numbers still match the source.
func stripJSONC(src []byte) []byte {
	var out bytes.Buffer
	out.Grow(len(src))

	inString := false
	escaped := false

	for i := 0; i < len(src); i++ {
		c := src[i]

		if inString {
			out.WriteByte(c)
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

		switch {
		case c == '"':
			inString = true
			out.WriteByte(c)

		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			if i < len(src) {
				out.WriteByte('\n')
			}

		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			i += 2
			for i < len(src) && !(src[i] == '*' && i+1 < len(src) && src[i+1] == '/') {
				if src[i] == '\n' {
					out.WriteByte('\n')
				}
				i++
			}
			i++ // skip the closing '/'

		case c == ',':
			if next := nextSignificant(src, i+1); next == '}' || next == ']' {
				continue
			}
			out.WriteByte(c)

		default:
			out.WriteByte(c)
		}
	}

	return out.Bytes()
}

// nextSignificant returns the next byte after whitespace and comments, or 0.
func nextSignificant(src []byte, i int) byte {
	for i < len(src) {
		switch c := src[i]; {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			i++
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			i += 2
			for i < len(src) && !(src[i] == '*' && i+1 < len(src) && src[i+1] == '/') {
				i++
			}
			i += 2
		default:
			return c
		}
	}
	return 0
}
