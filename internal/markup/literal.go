package markup

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ErrNotStringLiteral is returned when a value is not a plain string literal.
var ErrNotStringLiteral = errors.New("value is not a string literal")

// ParseStringLiteral decodes a single Python-style string literal: single,
// double or triple quoted, with an optional r/u prefix. Nothing is evaluated;
// anything other than one literal (optionally followed by a # comment) is
// rejected with ErrNotStringLiteral.
func ParseStringLiteral(text string) (string, error) {
	s := strings.TrimSpace(text)
	raw := false
	if len(s) > 0 {
		switch s[0] {
		case 'r', 'R':
			raw = true
			s = s[1:]
		case 'u', 'U':
			s = s[1:]
		}
	}

	var quote string
	switch {
	case strings.HasPrefix(s, `"""`), strings.HasPrefix(s, `'''`):
		quote = s[:3]
	case strings.HasPrefix(s, `"`), strings.HasPrefix(s, `'`):
		quote = s[:1]
	default:
		return "", ErrNotStringLiteral
	}

	body, rest, err := scanLiteralBody(s[len(quote):], quote, raw)
	if err != nil {
		return "", err
	}

	rest = strings.TrimSpace(rest)
	if rest != "" && !strings.HasPrefix(rest, "#") {
		return "", fmt.Errorf("%w: trailing %q", ErrNotStringLiteral, rest)
	}
	return body, nil
}

func scanLiteralBody(s, quote string, raw bool) (string, string, error) {
	var out strings.Builder
	multiline := len(quote) == 3

	for i := 0; i < len(s); {
		if strings.HasPrefix(s[i:], quote) {
			return out.String(), s[i+len(quote):], nil
		}

		c := s[i]
		switch {
		case c == '\n' && !multiline:
			return "", "", fmt.Errorf("%w: unterminated string", ErrNotStringLiteral)
		case c == '\\' && i+1 < len(s):
			if raw {
				out.WriteString(s[i : i+2])
				i += 2
				continue
			}
			n, err := writeEscape(&out, s[i+1:])
			if err != nil {
				return "", "", err
			}
			i += 1 + n
		default:
			r, size := utf8.DecodeRuneInString(s[i:])
			out.WriteRune(r)
			i += size
		}
	}

	return "", "", fmt.Errorf("%w: unterminated string", ErrNotStringLiteral)
}

// writeEscape decodes the escape sequence at the start of s (the text after
// the backslash) and returns how many bytes of s it consumed.
func writeEscape(out *strings.Builder, s string) (int, error) {
	switch s[0] {
	case '\n':
		return 1, nil
	case '\\', '\'', '"':
		out.WriteByte(s[0])
	case 'n':
		out.WriteByte('\n')
	case 't':
		out.WriteByte('\t')
	case 'r':
		out.WriteByte('\r')
	case '0', '1', '2', '3', '4', '5', '6', '7':
		return writeOctal(out, s), nil
	case 'a':
		out.WriteByte('\a')
	case 'b':
		out.WriteByte('\b')
	case 'f':
		out.WriteByte('\f')
	case 'v':
		out.WriteByte('\v')
	case 'x':
		return writeCodePoint(out, s, 2)
	case 'u':
		return writeCodePoint(out, s, 4)
	case 'U':
		return writeCodePoint(out, s, 8)
	default:
		out.WriteByte('\\')
		out.WriteByte(s[0])
	}
	return 1, nil
}

// writeOctal decodes one to three octal digits.
func writeOctal(out *strings.Builder, s string) int {
	n := 0
	var v rune
	for n < 3 && n < len(s) && s[n] >= '0' && s[n] <= '7' {
		v = v*8 + rune(s[n]-'0')
		n++
	}
	out.WriteRune(v)
	return n
}

func writeCodePoint(out *strings.Builder, s string, digits int) (int, error) {
	if len(s) < 1+digits {
		return 0, fmt.Errorf("%w: truncated \\%c escape", ErrNotStringLiteral, s[0])
	}
	v, err := strconv.ParseUint(s[1:1+digits], 16, 32)
	if err != nil || !utf8.ValidRune(rune(v)) {
		return 0, fmt.Errorf("%w: bad \\%c escape", ErrNotStringLiteral, s[0])
	}
	out.WriteRune(rune(v))
	return 1 + digits, nil
}
