package action

import "strings"

var escaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`, `"`, `\"`, "\n", `\n`)

// Escape backslash-escapes backslashes, quotes and newlines so the text can
// sit inside a quoted argument. Unescape reverses it exactly.
func Escape(s string) string {
	return escaper.Replace(s)
}

// Unescape reverses Escape. Backslashes not followed by an escapable
// character are kept as they are.
func Unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		switch s[i+1] {
		case '\\', '\'', '"':
			b.WriteByte(s[i+1])
			i++
		case 'n':
			b.WriteByte('\n')
			i++
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
