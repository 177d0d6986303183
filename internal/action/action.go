// Package action defines the canonical browser action and the dialects a
// model may use to express one.
package action

import (
	"math"
	"strings"
	"time"

	"github.com/yifei-he/WebSTAR/internal/coords"
)

// Kind discriminates the Action variants.
type Kind string

const (
	KindClick       Kind = "click"
	KindDoubleClick Kind = "double_click"
	KindRightClick  Kind = "right_click"
	KindDrag        Kind = "drag"
	KindScroll      Kind = "scroll"
	KindType        Kind = "type"
	KindKeyPress    Kind = "keypress"
	KindWait        Kind = "wait"
	KindScreenshot  Kind = "screenshot"
	KindNavigate    Kind = "navigate"
	KindBack        Kind = "go_back"
	KindForward     Kind = "go_forward"
	KindFinished    Kind = "finished"
	KindUnknown     Kind = "unknown"
)

// Button names a mouse button for Click.
type Button string

const (
	ButtonLeft   Button = "left"
	ButtonRight  Button = "right"
	ButtonMiddle Button = "middle"
)

// Direction of a scroll.
type Direction string

const (
	DirectionUp    Direction = "up"
	DirectionDown  Direction = "down"
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
)

// ParseDirection returns the direction named by s, or false.
func ParseDirection(s string) (Direction, bool) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case DirectionUp:
		return DirectionUp, true
	case DirectionDown:
		return DirectionDown, true
	case DirectionLeft:
		return DirectionLeft, true
	case DirectionRight:
		return DirectionRight, true
	}
	return "", false
}

// MaxKeysLength bounds the joined hotkey string handed to the executor.
const MaxKeysLength = 30

// Action is one browser instruction. Which fields are meaningful depends on
// Kind:
//
//	Click, DoubleClick, RightClick: Points[0] (and Button for Click)
//	Drag:                           Points (first and last)
//	Scroll:                         Points[0] as anchor (optional), DX, DY, Direction
//	Type:                           Text, Submit
//	KeyPress:                       Keys
//	Wait:                           Duration (zero means the executor default)
//	Navigate:                       URL
//	Back, Forward:                  no fields
//	Finished:                       Text
//	Unknown:                        Raw
type Action struct {
	Kind      Kind
	Points    []coords.Point
	Button    Button
	DX        float64
	DY        float64
	Direction Direction
	Text      string
	Submit    bool
	Keys      []string
	Duration  time.Duration
	URL       string
	Raw       string
}

func Click(x, y float64) Action {
	return Action{Kind: KindClick, Button: ButtonLeft, Points: []coords.Point{coords.Px(x, y)}}
}

func DoubleClick(x, y float64) Action {
	return Action{Kind: KindDoubleClick, Points: []coords.Point{coords.Px(x, y)}}
}

func RightClick(x, y float64) Action {
	return Action{Kind: KindRightClick, Points: []coords.Point{coords.Px(x, y)}}
}

func Drag(path ...coords.Point) Action {
	return Canonical(Action{Kind: KindDrag, Points: path})
}

func Scroll(x, y, dx, dy float64) Action {
	return Canonical(Action{Kind: KindScroll, Points: []coords.Point{coords.Px(x, y)}, DX: dx, DY: dy})
}

func TypeText(content string, submit bool) Action {
	return Action{Kind: KindType, Text: content, Submit: submit}
}

func KeyPress(keys ...string) Action {
	return Canonical(Action{Kind: KindKeyPress, Keys: keys})
}

func Wait(d time.Duration) Action {
	return Action{Kind: KindWait, Duration: d}
}

func Screenshot() Action {
	return Action{Kind: KindScreenshot}
}

func Navigate(url string) Action {
	return Action{Kind: KindNavigate, URL: url}
}

// GoBack moves one entry back in the tab's history.
func GoBack() Action {
	return Action{Kind: KindBack}
}

func GoForward() Action {
	return Action{Kind: KindForward}
}

func Finished(content string) Action {
	return Action{Kind: KindFinished, Text: content}
}

func Unknown(raw string) Action {
	return Action{Kind: KindUnknown, Raw: raw}
}

// Terminal reports whether the action ends the task.
func (a Action) Terminal() bool {
	return a.Kind == KindFinished
}

// Point returns the first point of the action, if any.
func (a Action) Point() (coords.Point, bool) {
	if len(a.Points) == 0 {
		return coords.Point{}, false
	}
	return a.Points[0], true
}

// String renders the action in the canonical textual encoding, falling back
// to a descriptive form for actions the encoding cannot express.
func (a Action) String() string {
	s, err := EncodeCanonical(a)
	if err != nil {
		if a.Kind == KindUnknown {
			return "unknown(" + Escape(a.Raw) + ")"
		}
		return string(a.Kind) + "(?)"
	}
	return s
}

// Canonical applies the dialect-independent normalisation rules: drag paths
// keep only their endpoints, hotkeys are lower-cased and length-bounded,
// scroll direction is inferred when missing and click buttons default to
// left (a right-button click becomes RightClick). Canonical is idempotent.
func Canonical(a Action) Action {
	switch a.Kind {
	case KindDrag:
		if len(a.Points) > 2 {
			a.Points = []coords.Point{a.Points[0], a.Points[len(a.Points)-1]}
		}
	case KindKeyPress:
		a.Keys = NormalizeKeys(a.Keys)
	case KindScroll:
		if a.Direction == "" {
			a.Direction = InferDirection(a.DX, a.DY)
		}
	case KindClick:
		switch a.Button {
		case "":
			a.Button = ButtonLeft
		case ButtonRight:
			a.Kind, a.Button = KindRightClick, ""
		}
	}
	return a
}

// InferDirection picks the scroll direction from the dominant delta. When
// |dx| equals |dy| the vertical axis wins.
func InferDirection(dx, dy float64) Direction {
	if math.Abs(dx) > math.Abs(dy) {
		if dx < 0 {
			return DirectionLeft
		}
		return DirectionRight
	}
	if dy < 0 {
		return DirectionUp
	}
	return DirectionDown
}

// NormalizeKeys lower-cases key names, joins them with single spaces,
// truncates the result to MaxKeysLength and splits it again.
func NormalizeKeys(keys []string) []string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, strings.Fields(strings.ToLower(k))...)
	}
	joined := strings.Join(parts, " ")
	if len(joined) > MaxKeysLength {
		cut := MaxKeysLength
		for cut > 0 && !isRuneStart(joined[cut]) {
			cut--
		}
		joined = joined[:cut]
	}
	out := strings.Fields(joined)
	if len(out) == 0 {
		return nil
	}
	return out
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
