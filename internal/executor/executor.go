package executor

import (
	"context"
	"time"

	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/yifei-he/WebSTAR/internal/action"
	"github.com/yifei-he/WebSTAR/internal/coords"
)

// Page is the browser surface actions are applied to.
type Page interface {
	Viewport() coords.Viewport
	MoveTo(ctx context.Context, x, y float64) error
	Click(ctx context.Context, button proto.InputMouseButton, count int) error
	MouseDown(ctx context.Context, button proto.InputMouseButton) error
	MouseUp(ctx context.Context, button proto.InputMouseButton) error
	Scroll(ctx context.Context, dx, dy float64) error
	KeyDown(ctx context.Context, key input.Key) error
	KeyUp(ctx context.Context, key input.Key) error
	TypeKeys(ctx context.Context, keys ...input.Key) error
	InsertText(ctx context.Context, text string) error
	Navigate(ctx context.Context, url string) error
	NavigateBack(ctx context.Context) error
	NavigateForward(ctx context.Context) error
	// RetargetLinkAt makes a link under the point open in the current tab.
	RetargetLinkAt(ctx context.Context, x, y float64) error
	Screenshot(ctx context.Context) ([]byte, error)
	URL(ctx context.Context) string
}

// Options configures execution behavior
type Options struct {
	ActionSettle time.Duration // Pause after pointer and typing actions
	KeyInterval  time.Duration // Pause between key presses of a chord
	DefaultWait  time.Duration // Duration of wait() without an explicit value
	Sleep        func(ctx context.Context, d time.Duration) error
}

// DefaultOptions returns the settle timings used against live sites.
func DefaultOptions() Options {
	return Options{
		ActionSettle: 3 * time.Second,
		KeyInterval:  time.Second,
		DefaultWait:  5 * time.Second,
	}
}

// Executor applies canonical actions to one page.
type Executor struct {
	page   Page
	opts   Options
	logger *zap.Logger
	cursor CursorPosition
}

// New returns an executor for page. The cursor starts at the viewport
// centre.
func New(page Page, opts Options, logger *zap.Logger) *Executor {
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	vp := page.Viewport()
	return &Executor{
		page:   page,
		opts:   opts,
		logger: logger.With(zap.String("component", "executor")),
		cursor: CursorPosition{X: vp.Width / 2, Y: vp.Height / 2, State: CursorDefault},
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Cursor returns the pointer state after the last action.
func (e *Executor) Cursor() CursorPosition {
	return e.cursor
}

// Observe captures the page without acting on it.
func (e *Executor) Observe(ctx context.Context) (*Observation, error) {
	shot, err := e.page.Screenshot(ctx)
	if err != nil {
		return nil, &ExecutionError{Kind: ErrCapture, Action: action.KindScreenshot, Err: err}
	}
	return &Observation{Screenshot: shot, URL: e.page.URL(ctx), Cursor: e.cursor}, nil
}

// Execute applies a to the page and returns the resulting observation.
// Failures are returned as *ExecutionError.
func (e *Executor) Execute(ctx context.Context, a action.Action) (*Observation, error) {
	for _, p := range a.Points {
		if p.Scale != coords.Pixel {
			return nil, execErr(ErrUnresolvedCoordinates, a, "point (%v,%v) still in %s scale", p.X, p.Y, p.Scale)
		}
	}

	e.logger.Debug("Executing action", zap.String("action", a.String()))

	var err error
	switch a.Kind {
	case action.KindClick, action.KindDoubleClick, action.KindRightClick:
		err = e.click(ctx, a)
	case action.KindDrag:
		err = e.drag(ctx, a)
	case action.KindScroll:
		err = e.scroll(ctx, a)
	case action.KindType:
		err = e.typeText(ctx, a)
	case action.KindKeyPress:
		err = e.keyPress(ctx, a)
	case action.KindWait:
		d := a.Duration
		if d <= 0 {
			d = e.opts.DefaultWait
		}
		err = e.pause(ctx, a, d)
	case action.KindNavigate:
		if navErr := e.page.Navigate(ctx, a.URL); navErr != nil {
			e.logger.Warn("Navigation failed, continuing", zap.String("url", a.URL), zap.Error(navErr))
		}
	case action.KindBack, action.KindForward:
		err = e.history(ctx, a)
	case action.KindScreenshot, action.KindFinished:
	case action.KindUnknown:
		err = execErr(ErrUnknownAction, a, "unsupported action %q", a.Raw)
	default:
		err = execErr(ErrUnknownAction, a, "unsupported action kind %q", a.Kind)
	}
	if err != nil {
		return nil, err
	}

	obs, err := e.Observe(ctx)
	if err != nil {
		if ee, ok := err.(*ExecutionError); ok {
			ee.Action = a.Kind
		}
		return nil, err
	}
	return obs, nil
}

func (e *Executor) pause(ctx context.Context, a action.Action, d time.Duration) error {
	if err := e.opts.Sleep(ctx, d); err != nil {
		return browserErr(a, "settle", err)
	}
	return nil
}

// history steps the tab back or forward. A step with nothing to return to
// leaves the page as it was.
func (e *Executor) history(ctx context.Context, a action.Action) error {
	step, name := e.page.NavigateBack, "back"
	if a.Kind == action.KindForward {
		step, name = e.page.NavigateForward, "forward"
	}
	if err := step(ctx); err != nil {
		return browserErr(a, "navigate "+name, err)
	}
	return e.pause(ctx, a, e.opts.ActionSettle)
}

func (e *Executor) moveTo(ctx context.Context, a action.Action, p coords.Point, state CursorState) error {
	if err := e.page.MoveTo(ctx, p.X, p.Y); err != nil {
		return browserErr(a, "move pointer", err)
	}
	e.cursor = CursorPosition{X: int(p.X), Y: int(p.Y), State: state}
	return nil
}

func (e *Executor) click(ctx context.Context, a action.Action) error {
	p, ok := a.Point()
	if !ok {
		return execErr(ErrInvalidAction, a, "no target point")
	}

	button, count := proto.InputMouseButtonLeft, 1
	switch a.Kind {
	case action.KindDoubleClick:
		count = 2
	case action.KindRightClick:
		button = proto.InputMouseButtonRight
	case action.KindClick:
		if a.Button == action.ButtonMiddle {
			button = proto.InputMouseButtonMiddle
		}
	}

	// New tabs are invisible to the agent, so links open in place.
	if err := e.page.RetargetLinkAt(ctx, p.X, p.Y); err != nil {
		e.logger.Debug("Could not retarget link", zap.Error(err))
	}
	if err := e.moveTo(ctx, a, p, CursorPointer); err != nil {
		return err
	}
	if err := e.page.Click(ctx, button, count); err != nil {
		return browserErr(a, "click", err)
	}
	e.cursor.Click = true
	return e.pause(ctx, a, e.opts.ActionSettle)
}

func (e *Executor) drag(ctx context.Context, a action.Action) error {
	if len(a.Points) < 2 {
		return execErr(ErrInvalidAction, a, "drag needs 2 points, has %d", len(a.Points))
	}
	if err := e.moveTo(ctx, a, a.Points[0], CursorPointer); err != nil {
		return err
	}
	if err := e.page.MouseDown(ctx, proto.InputMouseButtonLeft); err != nil {
		return browserErr(a, "mouse down", err)
	}
	for _, p := range a.Points[1:] {
		if err := e.moveTo(ctx, a, p, CursorPointer); err != nil {
			_ = e.page.MouseUp(ctx, proto.InputMouseButtonLeft)
			return err
		}
	}
	if err := e.page.MouseUp(ctx, proto.InputMouseButtonLeft); err != nil {
		return browserErr(a, "mouse up", err)
	}
	return e.pause(ctx, a, e.opts.ActionSettle)
}

func (e *Executor) scroll(ctx context.Context, a action.Action) error {
	vp := e.page.Viewport()
	anchor, ok := a.Point()
	if !ok {
		anchor = coords.Px(float64(vp.Width/2), float64(vp.Height/2))
	}

	dx, dy := a.DX, a.DY
	if dx == 0 && dy == 0 {
		dx, dy = ScrollDelta(a.Direction, vp)
	}

	if err := e.moveTo(ctx, a, anchor, CursorDefault); err != nil {
		return err
	}
	if err := e.page.Scroll(ctx, dx, dy); err != nil {
		return browserErr(a, "scroll", err)
	}
	return e.pause(ctx, a, e.opts.ActionSettle)
}

// ScrollDelta is the wheel delta for a direction-only scroll: one third of
// the viewport along the axis.
func ScrollDelta(dir action.Direction, vp coords.Viewport) (dx, dy float64) {
	switch dir {
	case action.DirectionUp:
		return 0, -float64(vp.Height) / 3
	case action.DirectionLeft:
		return -float64(vp.Width) / 3, 0
	case action.DirectionRight:
		return float64(vp.Width) / 3, 0
	default:
		return 0, float64(vp.Height) / 3
	}
}

func (e *Executor) typeText(ctx context.Context, a action.Action) error {
	e.cursor.State = CursorText
	e.cursor.Click = false

	var pending []input.Key
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		err := e.page.TypeKeys(ctx, pending...)
		pending = pending[:0]
		return err
	}

	var text []rune
	flushText := func() error {
		if len(text) == 0 {
			return nil
		}
		err := e.page.InsertText(ctx, string(text))
		text = text[:0]
		return err
	}

	for _, r := range a.Text {
		var err error
		switch {
		case r == '\n':
			if err = flushText(); err == nil {
				pending = append(pending, input.Enter)
			}
		case r == '\t':
			if err = flushText(); err == nil {
				pending = append(pending, input.Tab)
			}
		case r == '\r':
		case isTypeable(r):
			if err = flushText(); err == nil {
				pending = append(pending, input.Key(r))
			}
		default:
			if err = flush(); err == nil {
				text = append(text, r)
			}
		}
		if err != nil {
			return browserErr(a, "type", err)
		}
	}
	if err := flush(); err != nil {
		return browserErr(a, "type", err)
	}
	if err := flushText(); err != nil {
		return browserErr(a, "type", err)
	}

	if a.Submit {
		if err := e.page.TypeKeys(ctx, input.Enter); err != nil {
			return browserErr(a, "submit", err)
		}
	}
	return e.pause(ctx, a, e.opts.ActionSettle)
}

func (e *Executor) keyPress(ctx context.Context, a action.Action) error {
	if len(a.Keys) == 0 {
		return execErr(ErrInvalidAction, a, "no keys")
	}
	keys := make([]input.Key, 0, len(a.Keys))
	for _, name := range a.Keys {
		k, ok := LookupKey(name)
		if !ok {
			return execErr(ErrUnknownKey, a, "unknown key %q", name)
		}
		keys = append(keys, k)
	}

	pressed := 0
	release := func() error {
		var firstErr error
		for i := pressed - 1; i >= 0; i-- {
			if i < pressed-1 && ctx.Err() == nil {
				if err := e.opts.Sleep(ctx, e.opts.KeyInterval); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			if err := e.page.KeyUp(ctx, keys[i]); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	for i, k := range keys {
		if i > 0 {
			if err := e.opts.Sleep(ctx, e.opts.KeyInterval); err != nil {
				_ = release()
				return browserErr(a, "key interval", err)
			}
		}
		if err := e.page.KeyDown(ctx, k); err != nil {
			_ = release()
			return browserErr(a, "key down", err)
		}
		pressed++
	}
	if err := release(); err != nil {
		return browserErr(a, "key up", err)
	}
	return nil
}
