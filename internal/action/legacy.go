package action

import (
	"fmt"
	"strings"

	"github.com/yifei-he/WebSTAR/internal/coords"
)

// Legacy is the proportional-call dialect, e.g.
// `pyautogui.click(x=0.41, y=0.27)`. Coordinates are fractions of the
// viewport.
type Legacy struct {
	SubmitTyped bool
}

// NewLegacy returns a Legacy dialect that submits typed text.
func NewLegacy() *Legacy {
	return &Legacy{SubmitTyped: true}
}

func (l *Legacy) Name() string { return "legacy" }

func (l *Legacy) Detect(text string) bool {
	return strings.Contains(text, "pyautogui.") || strings.Contains(text, "browser.select_option")
}

func (l *Legacy) Parse(text string) ([]Action, error) {
	var actions []Action
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "import ") {
			continue
		}
		calls, err := parseCalls(line)
		if err != nil {
			return nil, parseErr(l.Name(), line, "%v", err)
		}
		for _, c := range calls {
			a, err := l.decode(c)
			if err != nil {
				return nil, parseErr(l.Name(), c.Raw, "%v", err)
			}
			actions = append(actions, Canonical(a))
		}
	}
	if len(actions) == 0 {
		return nil, parseErr(l.Name(), text, "no action call found")
	}
	return actions, nil
}

func (l *Legacy) xy(c call) (coords.Point, error) {
	xs, ok := c.value(0, "x")
	if !ok {
		return coords.Point{}, fmt.Errorf("%s: missing x", c.Name)
	}
	ys, ok := c.value(1, "y")
	if !ok {
		return coords.Point{}, fmt.Errorf("%s: missing y", c.Name)
	}
	x, err := parseNumber(xs)
	if err != nil {
		return coords.Point{}, err
	}
	y, err := parseNumber(ys)
	if err != nil {
		return coords.Point{}, err
	}
	return coords.Point{X: x, Y: y, Scale: coords.Fraction}, nil
}

func (l *Legacy) decode(c call) (Action, error) {
	name := c.Name
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	switch name {
	case "click", "select_option":
		p, err := l.xy(c)
		if err != nil {
			return Action{}, err
		}
		return Action{Kind: KindClick, Button: ButtonLeft, Points: []coords.Point{p}}, nil

	case "doubleClick":
		p, err := l.xy(c)
		if err != nil {
			return Action{}, err
		}
		return Action{Kind: KindDoubleClick, Points: []coords.Point{p}}, nil

	case "rightClick":
		p, err := l.xy(c)
		if err != nil {
			return Action{}, err
		}
		return Action{Kind: KindRightClick, Points: []coords.Point{p}}, nil

	case "write", "typewrite":
		v, ok := c.value(0, "message", "text")
		if !ok {
			return Action{}, fmt.Errorf("%s: missing message", c.Name)
		}
		return Action{Kind: KindType, Text: v, Submit: l.SubmitTyped}, nil

	case "press", "hotkey":
		var keys []string
		for _, a := range c.Args {
			if a.Key == "" || a.Key == "keys" {
				keys = append(keys, strings.Fields(strings.Trim(pointMarkers.Replace(a.Value), `'" `))...)
			}
		}
		for i, k := range keys {
			keys[i] = strings.Trim(k, `'"`)
		}
		if len(keys) == 0 {
			return Action{}, fmt.Errorf("%s: missing keys", c.Name)
		}
		return Action{Kind: KindKeyPress, Keys: keys}, nil

	case "scroll":
		v, ok := c.value(0, "clicks", "amount")
		if !ok {
			return Action{}, fmt.Errorf("scroll: missing amount")
		}
		n, err := parseNumber(v)
		if err != nil {
			return Action{}, err
		}
		a := Action{Kind: KindScroll, Direction: DirectionUp}
		if n > 0 {
			a.Direction = DirectionDown
		}
		if _, hasX := c.kw("x"); hasX {
			p, err := l.xy(c)
			if err != nil {
				return Action{}, err
			}
			a.Points = []coords.Point{p}
		}
		return a, nil

	default:
		return Unknown(c.Raw), nil
	}
}

func (l *Legacy) Encode(a Action) (string, error) {
	a = Canonical(a)
	switch a.Kind {
	case KindClick, KindDoubleClick, KindRightClick:
		p, ok := a.Point()
		if !ok || p.Scale != coords.Fraction {
			return "", fmt.Errorf("%w: legacy clicks need a fractional point", ErrNotEncodable)
		}
		name := map[Kind]string{KindClick: "click", KindDoubleClick: "doubleClick", KindRightClick: "rightClick"}[a.Kind]
		return fmt.Sprintf("pyautogui.%s(x=%s, y=%s)", name, formatFloat(p.X), formatFloat(p.Y)), nil
	case KindType:
		return "pyautogui.write(message='" + Escape(a.Text) + "')", nil
	case KindKeyPress:
		quoted := make([]string, len(a.Keys))
		for i, k := range a.Keys {
			quoted[i] = "'" + Escape(k) + "'"
		}
		return "pyautogui.hotkey(" + strings.Join(quoted, ", ") + ")", nil
	}
	return "", notEncodable(l.Name(), a.Kind)
}
