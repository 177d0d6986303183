package action

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/yifei-he/WebSTAR/internal/coords"
)

// arg is one argument of a call expression. Key is empty for positional
// arguments.
type arg struct {
	Key    string
	Value  string
	Quoted bool
}

// call is one `name(args...)` expression as emitted by the textual dialects.
type call struct {
	Name string
	Args []arg
	Raw  string
}

func (c call) kw(keys ...string) (string, bool) {
	for _, k := range keys {
		for _, a := range c.Args {
			if a.Key == k {
				return a.Value, true
			}
		}
	}
	return "", false
}

func (c call) positional(i int) (string, bool) {
	n := 0
	for _, a := range c.Args {
		if a.Key != "" {
			continue
		}
		if n == i {
			return a.Value, true
		}
		n++
	}
	return "", false
}

// value looks up a keyword argument, falling back to the positional slot.
func (c call) value(pos int, keys ...string) (string, bool) {
	if v, ok := c.kw(keys...); ok {
		return v, true
	}
	if pos < 0 {
		return "", false
	}
	return c.positional(pos)
}

func isIdent(b byte) bool {
	return b == '_' || b == '.' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	return i
}

// parseCalls scans one or more consecutive call expressions. Quoted values
// are unescaped. A closing quote only ends a value when the next
// non-space character closes the argument, so stray apostrophes in free
// text survive.
func parseCalls(s string) ([]call, error) {
	var calls []call
	i := 0
	for {
		i = skipSpace(s, i)
		if i >= len(s) {
			break
		}
		start := i
		for i < len(s) && isIdent(s[i]) {
			i++
		}
		if i == start {
			return nil, fmt.Errorf("expected action name at offset %d", start)
		}
		c := call{Name: s[start:i]}
		i = skipSpace(s, i)
		if i >= len(s) || s[i] != '(' {
			return nil, fmt.Errorf("expected '(' after %q", c.Name)
		}
		i++

		closed := false
		for !closed {
			i = skipSpace(s, i)
			if i >= len(s) {
				return nil, fmt.Errorf("unterminated call %q", c.Name)
			}
			switch s[i] {
			case ')':
				i++
				closed = true
				continue
			case ',':
				i++
				continue
			}

			var a arg
			j := i
			for j < len(s) && isIdent(s[j]) {
				j++
			}
			if k := skipSpace(s, j); j > i && k < len(s) && s[k] == '=' {
				a.Key = s[i:j]
				i = skipSpace(s, k+1)
			}

			if i < len(s) && (s[i] == '\'' || s[i] == '"') {
				q := s[i]
				i++
				vs := i
				for {
					if i >= len(s) {
						return nil, fmt.Errorf("unterminated string in %q", c.Name)
					}
					if s[i] == '\\' {
						i += 2
						continue
					}
					if s[i] == q {
						if k := skipSpace(s, i+1); k >= len(s) || s[k] == ',' || s[k] == ')' {
							break
						}
					}
					i++
				}
				a.Value = Unescape(s[vs:i])
				a.Quoted = true
				i++
			} else {
				vs := i
				depth := 0
			scan:
				for i < len(s) {
					switch s[i] {
					case '(', '[':
						depth++
					case ']':
						depth--
					case ')':
						if depth == 0 {
							break scan
						}
						depth--
					case ',':
						if depth == 0 {
							break scan
						}
					}
					i++
				}
				a.Value = strings.TrimSpace(s[vs:i])
			}
			c.Args = append(c.Args, a)
		}
		c.Raw = strings.TrimSpace(s[start:i])
		calls = append(calls, c)
	}
	if len(calls) == 0 {
		return nil, fmt.Errorf("no action call found")
	}
	return calls, nil
}

var pointMarkers = strings.NewReplacer(
	"<point>", " ", "</point>", " ",
	"<|box_start|>", " ", "<|box_end|>", " ",
	"<bbox>", " ", "</bbox>", " ",
	"(", " ", ")", " ", "[", " ", "]", " ", ",", " ",
)

// parsePoint reads `<point>X Y</point>`, `(X,Y)` or a `[x1,y1,x2,y2]` box,
// the latter resolving to its centre.
func parsePoint(v string, scale coords.Scale) (coords.Point, error) {
	fields := strings.Fields(pointMarkers.Replace(v))
	nums := make([]float64, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return coords.Point{}, fmt.Errorf("invalid coordinate %q", f)
		}
		nums = append(nums, n)
	}
	switch len(nums) {
	case 2:
		return coords.Point{X: nums[0], Y: nums[1], Scale: scale}, nil
	case 4:
		return coords.Point{X: (nums[0] + nums[2]) / 2, Y: (nums[1] + nums[3]) / 2, Scale: scale}, nil
	default:
		return coords.Point{}, fmt.Errorf("expected 2 or 4 coordinates, got %d in %q", len(nums), v)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatPoint(p coords.Point) string {
	return "<point>" + formatFloat(p.X) + " " + formatFloat(p.Y) + "</point>"
}

func parseNumber(v string) (float64, error) {
	n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", v)
	}
	return n, nil
}
