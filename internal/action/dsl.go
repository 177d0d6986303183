package action

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/yifei-he/WebSTAR/internal/coords"
)

// DSL is the textual `name(key='value')` dialect with `<point>X Y</point>`
// coordinates. It is also the canonical encoding of the step log.
type DSL struct {
	// Scale is the coordinate space of decoded points.
	Scale coords.Scale
	// SubmitTyped presses Enter after a type() action unless the call says
	// otherwise.
	SubmitTyped bool
}

// NewDSL returns a DSL dialect that submits typed text.
func NewDSL(scale coords.Scale) *DSL {
	return &DSL{Scale: scale, SubmitTyped: true}
}

var dslCallPattern = regexp.MustCompile(`^\s*[A-Za-z_][A-Za-z0-9_]*\s*\(`)

func (d *DSL) Name() string { return "dsl" }

func (d *DSL) Detect(text string) bool {
	return dslCallPattern.MatchString(text)
}

func (d *DSL) Parse(text string) ([]Action, error) {
	calls, err := parseCalls(text)
	if err != nil {
		return nil, parseErr(d.Name(), text, "%v", err)
	}
	actions := make([]Action, 0, len(calls))
	for _, c := range calls {
		a, err := d.decode(c)
		if err != nil {
			return nil, parseErr(d.Name(), c.Raw, "%v", err)
		}
		actions = append(actions, Canonical(a))
	}
	return actions, nil
}

func (d *DSL) point(c call, keys ...string) (coords.Point, error) {
	v, ok := c.kw(keys...)
	if !ok {
		v, ok = c.positional(0)
	}
	if !ok {
		return coords.Point{}, fmt.Errorf("%s: missing %s", c.Name, keys[0])
	}
	return parsePoint(v, d.Scale)
}

func (d *DSL) decode(c call) (Action, error) {
	switch strings.ToLower(c.Name) {
	case "click", "left_single", "left_click":
		p, err := d.point(c, "point", "start_box")
		if err != nil {
			return Action{}, err
		}
		btn := ButtonLeft
		if v, ok := c.kw("button"); ok {
			btn = Button(strings.ToLower(v))
		}
		return Action{Kind: KindClick, Button: btn, Points: []coords.Point{p}}, nil

	case "left_double", "double_click":
		p, err := d.point(c, "point", "start_box")
		if err != nil {
			return Action{}, err
		}
		return Action{Kind: KindDoubleClick, Points: []coords.Point{p}}, nil

	case "right_single", "right_click":
		p, err := d.point(c, "point", "start_box")
		if err != nil {
			return Action{}, err
		}
		return Action{Kind: KindRightClick, Points: []coords.Point{p}}, nil

	case "drag", "select":
		from, err := d.point(c, "start_point", "start_box")
		if err != nil {
			return Action{}, err
		}
		v, ok := c.kw("end_point", "end_box")
		if !ok {
			return Action{}, fmt.Errorf("%s: missing end_point", c.Name)
		}
		to, err := parsePoint(v, d.Scale)
		if err != nil {
			return Action{}, err
		}
		return Action{Kind: KindDrag, Points: []coords.Point{from, to}}, nil

	case "hotkey", "press", "key", "keypress":
		v, ok := c.value(0, "key", "keys")
		if !ok || strings.TrimSpace(v) == "" {
			return Action{}, fmt.Errorf("%s: missing key", c.Name)
		}
		return Action{Kind: KindKeyPress, Keys: strings.Fields(v)}, nil

	case "type", "write", "type_text":
		v, ok := c.value(0, "content", "text")
		if !ok {
			return Action{}, fmt.Errorf("%s: missing content", c.Name)
		}
		submit := d.SubmitTyped
		if s, ok := c.kw("submit"); ok {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return Action{}, fmt.Errorf("%s: invalid submit %q", c.Name, s)
			}
			submit = b
		}
		return Action{Kind: KindType, Text: v, Submit: submit}, nil

	case "scroll":
		a := Action{Kind: KindScroll}
		if v, ok := c.kw("point", "start_box"); ok {
			p, err := parsePoint(v, d.Scale)
			if err != nil {
				return Action{}, err
			}
			a.Points = []coords.Point{p}
		}
		if v, ok := c.kw("dx"); ok {
			n, err := parseNumber(v)
			if err != nil {
				return Action{}, err
			}
			a.DX = n
		}
		if v, ok := c.kw("dy"); ok {
			n, err := parseNumber(v)
			if err != nil {
				return Action{}, err
			}
			a.DY = n
		}
		if v, ok := c.kw("direction"); ok {
			dir, ok := ParseDirection(v)
			if !ok {
				return Action{}, fmt.Errorf("scroll: invalid direction %q", v)
			}
			a.Direction = dir
		}
		return a, nil

	case "wait", "sleep":
		a := Action{Kind: KindWait}
		if v, ok := c.kw("ms"); ok {
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil || n < 0 {
				return Action{}, fmt.Errorf("wait: invalid ms %q", v)
			}
			a.Duration = time.Duration(n) * time.Millisecond
		}
		return a, nil

	case "screenshot":
		return Screenshot(), nil

	case "navigate", "goto", "open_url":
		v, ok := c.value(0, "url")
		if !ok || v == "" {
			return Action{}, fmt.Errorf("%s: missing url", c.Name)
		}
		return Navigate(v), nil

	case "go_back", "back":
		return GoBack(), nil

	case "go_forward", "forward":
		return GoForward(), nil

	case "finished":
		v, _ := c.value(0, "content")
		return Finished(v), nil

	default:
		return Unknown(c.Raw), nil
	}
}

func (d *DSL) Encode(a Action) (string, error) {
	a = Canonical(a)
	switch a.Kind {
	case KindClick, KindDoubleClick, KindRightClick:
		p, ok := a.Point()
		if !ok {
			return "", fmt.Errorf("%s without a point", a.Kind)
		}
		name := map[Kind]string{KindClick: "click", KindDoubleClick: "left_double", KindRightClick: "right_single"}[a.Kind]
		s := name + "(point='" + formatPoint(p) + "'"
		if a.Kind == KindClick && a.Button != ButtonLeft {
			s += ", button='" + string(a.Button) + "'"
		}
		return s + ")", nil

	case KindDrag:
		if len(a.Points) != 2 {
			return "", fmt.Errorf("drag needs 2 points, has %d", len(a.Points))
		}
		return "drag(start_point='" + formatPoint(a.Points[0]) + "', end_point='" + formatPoint(a.Points[1]) + "')", nil

	case KindKeyPress:
		if len(a.Keys) == 0 {
			return "", fmt.Errorf("keypress without keys")
		}
		return "hotkey(key='" + Escape(strings.Join(a.Keys, " ")) + "')", nil

	case KindType:
		s := "type(content='" + Escape(a.Text) + "'"
		if a.Submit != d.SubmitTyped {
			s += ", submit='" + strconv.FormatBool(a.Submit) + "'"
		}
		return s + ")", nil

	case KindScroll:
		var args []string
		if p, ok := a.Point(); ok {
			args = append(args, "point='"+formatPoint(p)+"'")
		}
		args = append(args, "direction='"+string(a.Direction)+"'")
		if a.DX != 0 {
			args = append(args, "dx='"+formatFloat(a.DX)+"'")
		}
		if a.DY != 0 {
			args = append(args, "dy='"+formatFloat(a.DY)+"'")
		}
		return "scroll(" + strings.Join(args, ", ") + ")", nil

	case KindWait:
		if a.Duration == 0 {
			return "wait()", nil
		}
		return "wait(ms='" + strconv.FormatInt(a.Duration.Milliseconds(), 10) + "')", nil

	case KindScreenshot:
		return "screenshot()", nil

	case KindNavigate:
		return "navigate(url='" + Escape(a.URL) + "')", nil

	case KindBack:
		return "go_back()", nil

	case KindForward:
		return "go_forward()", nil

	case KindFinished:
		return "finished(content='" + Escape(a.Text) + "')", nil
	}
	return "", notEncodable(d.Name(), a.Kind)
}
