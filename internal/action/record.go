package action

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/yifei-he/WebSTAR/internal/coords"
)

// Record is the structured dialect: a JSON object with an explicit type, or
// an array of them.
type Record struct {
	Scale coords.Scale
}

// NewRecord returns a Record dialect reading points in scale.
func NewRecord(scale coords.Scale) *Record {
	return &Record{Scale: scale}
}

type recordPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type record struct {
	Type      string        `json:"type"`
	X         *float64      `json:"x,omitempty"`
	Y         *float64      `json:"y,omitempty"`
	Button    string        `json:"button,omitempty"`
	Keys      []string      `json:"keys,omitempty"`
	Text      string        `json:"text,omitempty"`
	Submit    bool          `json:"submit,omitempty"`
	ScrollX   float64       `json:"scroll_x,omitempty"`
	ScrollY   float64       `json:"scroll_y,omitempty"`
	Direction string        `json:"direction,omitempty"`
	Path      []recordPoint `json:"path,omitempty"`
	Ms        int64         `json:"ms,omitempty"`
	URL       string        `json:"url,omitempty"`
	Content   string        `json:"content,omitempty"`
}

// envelope covers replies that wrap records as {"action": {...}} or
// {"actions": [...]}.
type envelope struct {
	Action  *record  `json:"action"`
	Actions []record `json:"actions"`
}

func (r *Record) Name() string { return "record" }

func (r *Record) Detect(text string) bool {
	if strings.Contains(text, "```json") {
		return true
	}
	s := stripFence(text)
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}

func (r *Record) Parse(text string) ([]Action, error) {
	body, err := extractJSON(stripFence(text))
	if err != nil {
		return nil, parseErr(r.Name(), text, "%v", err)
	}
	recs, err := decodeRecords(body)
	if err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(body)
		if repairErr != nil {
			return nil, parseErr(r.Name(), text, "invalid JSON: %v", err)
		}
		if recs, err = decodeRecords(repaired); err != nil {
			return nil, parseErr(r.Name(), text, "invalid JSON after repair: %v", err)
		}
	}
	if len(recs) == 0 {
		return nil, parseErr(r.Name(), text, "no action record found")
	}

	actions := make([]Action, 0, len(recs))
	for _, rec := range recs {
		a, err := r.decode(rec)
		if err != nil {
			return nil, parseErr(r.Name(), text, "%v", err)
		}
		actions = append(actions, Canonical(a))
	}
	return actions, nil
}

func decodeRecords(body string) ([]record, error) {
	if strings.HasPrefix(body, "[") {
		var recs []record
		if err := json.Unmarshal([]byte(body), &recs); err != nil {
			return nil, err
		}
		return recs, nil
	}
	var rec record
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return nil, err
	}
	if rec.Type != "" {
		return []record{rec}, nil
	}
	var env envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return nil, err
	}
	if env.Action != nil {
		return []record{*env.Action}, nil
	}
	return env.Actions, nil
}

func (r *Record) point(rec record) (coords.Point, error) {
	if rec.X == nil || rec.Y == nil {
		return coords.Point{}, fmt.Errorf("%s: missing x/y", rec.Type)
	}
	return coords.Point{X: *rec.X, Y: *rec.Y, Scale: r.Scale}, nil
}

func (r *Record) decode(rec record) (Action, error) {
	switch strings.ToLower(rec.Type) {
	case "click", "move":
		p, err := r.point(rec)
		if err != nil {
			return Action{}, err
		}
		switch strings.ToLower(rec.Button) {
		case "", "left":
			return Action{Kind: KindClick, Button: ButtonLeft, Points: []coords.Point{p}}, nil
		case "right":
			return Action{Kind: KindRightClick, Points: []coords.Point{p}}, nil
		case "double":
			return Action{Kind: KindDoubleClick, Points: []coords.Point{p}}, nil
		case "middle":
			return Action{Kind: KindClick, Button: ButtonMiddle, Points: []coords.Point{p}}, nil
		case "wheel":
			// A wheel "click" scrolls at the point.
			return Action{Kind: KindScroll, Points: []coords.Point{p}, DX: rec.ScrollX, DY: rec.ScrollY}, nil
		case "back":
			return GoBack(), nil
		case "forward":
			return GoForward(), nil
		default:
			return Unknown(mustJSON(rec)), nil
		}

	case "double_click":
		p, err := r.point(rec)
		if err != nil {
			return Action{}, err
		}
		return Action{Kind: KindDoubleClick, Points: []coords.Point{p}}, nil

	case "scroll":
		a := Action{Kind: KindScroll, DX: rec.ScrollX, DY: rec.ScrollY}
		if rec.X != nil && rec.Y != nil {
			p, _ := r.point(rec)
			a.Points = []coords.Point{p}
		}
		if rec.Direction != "" {
			dir, ok := ParseDirection(rec.Direction)
			if !ok {
				return Action{}, fmt.Errorf("scroll: invalid direction %q", rec.Direction)
			}
			a.Direction = dir
		}
		return a, nil

	case "keypress":
		if len(rec.Keys) == 0 {
			return Action{}, fmt.Errorf("keypress: missing keys")
		}
		return Action{Kind: KindKeyPress, Keys: rec.Keys}, nil

	case "type":
		return Action{Kind: KindType, Text: rec.Text, Submit: rec.Submit}, nil

	case "wait":
		return Wait(time.Duration(rec.Ms) * time.Millisecond), nil

	case "screenshot":
		return Screenshot(), nil

	case "drag":
		if len(rec.Path) < 2 {
			return Action{}, fmt.Errorf("drag: path needs at least 2 points, has %d", len(rec.Path))
		}
		pts := make([]coords.Point, len(rec.Path))
		for i, p := range rec.Path {
			pts[i] = coords.Point{X: p.X, Y: p.Y, Scale: r.Scale}
		}
		return Action{Kind: KindDrag, Points: pts}, nil

	case "navigate", "goto":
		if rec.URL == "" {
			return Action{}, fmt.Errorf("%s: missing url", rec.Type)
		}
		return Navigate(rec.URL), nil

	case "back", "go_back":
		return GoBack(), nil

	case "forward", "go_forward":
		return GoForward(), nil

	case "finished", "message":
		content := rec.Content
		if content == "" {
			content = rec.Text
		}
		return Finished(content), nil

	default:
		return Unknown(mustJSON(rec)), nil
	}
}

func (r *Record) Encode(a Action) (string, error) {
	a = Canonical(a)
	var rec record
	setPoint := func() error {
		p, ok := a.Point()
		if !ok {
			return fmt.Errorf("%s without a point", a.Kind)
		}
		x, y := p.X, p.Y
		rec.X, rec.Y = &x, &y
		return nil
	}

	switch a.Kind {
	case KindClick:
		rec.Type, rec.Button = "click", string(a.Button)
		if err := setPoint(); err != nil {
			return "", err
		}
	case KindDoubleClick:
		rec.Type = "double_click"
		if err := setPoint(); err != nil {
			return "", err
		}
	case KindRightClick:
		rec.Type, rec.Button = "click", string(ButtonRight)
		if err := setPoint(); err != nil {
			return "", err
		}
	case KindScroll:
		rec.Type, rec.ScrollX, rec.ScrollY, rec.Direction = "scroll", a.DX, a.DY, string(a.Direction)
		if _, ok := a.Point(); ok {
			_ = setPoint()
		}
	case KindKeyPress:
		rec.Type, rec.Keys = "keypress", a.Keys
	case KindType:
		rec.Type, rec.Text, rec.Submit = "type", a.Text, a.Submit
	case KindWait:
		rec.Type, rec.Ms = "wait", a.Duration.Milliseconds()
	case KindScreenshot:
		rec.Type = "screenshot"
	case KindDrag:
		rec.Type = "drag"
		for _, p := range a.Points {
			rec.Path = append(rec.Path, recordPoint{X: p.X, Y: p.Y})
		}
	case KindNavigate:
		rec.Type, rec.URL = "navigate", a.URL
	case KindBack:
		rec.Type = "back"
	case KindForward:
		rec.Type = "forward"
	case KindFinished:
		rec.Type, rec.Content = "finished", a.Text
	default:
		return "", notEncodable(r.Name(), a.Kind)
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to encode record: %w", err)
	}
	return string(b), nil
}

func mustJSON(rec record) string {
	b, err := json.Marshal(rec)
	if err != nil {
		return rec.Type
	}
	return string(b)
}

func stripFence(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	return strings.TrimSpace(s)
}

// extractJSON returns the first balanced JSON object or array in text. An
// unbalanced tail is returned as is so the repair step can close it.
func extractJSON(text string) (string, error) {
	start := strings.IndexAny(text, "{[")
	if start == -1 {
		return "", fmt.Errorf("no JSON found")
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
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
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return text[start:], nil
}
