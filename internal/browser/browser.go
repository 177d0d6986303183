// Package browser drives a Chromium page through go-rod and exposes it to
// the executor.
package browser

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/yifei-he/WebSTAR/internal/coords"
)

// Options configures the browser behavior
type Options struct {
	Width             int
	Height            int
	Headless          bool
	Bin               string        // Explicit Chrome/Chromium binary; looked up when empty
	ProfileDir        string        // Chrome/Chromium profile directory for authenticated sessions
	DownloadDir       string        // Downloads land here; created if missing
	NavigationTimeout time.Duration // Bound on the initial page load
	InitialSettle     time.Duration // Pause after the initial load before the first screenshot
}

// Browser wraps the Rod browser and page for one task
type Browser struct {
	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher
	viewport coords.Viewport
	logger   *zap.Logger
}

// Launch starts a browser, opens startURL in a page of the configured size
// and waits for it to settle. A failed initial navigation is logged, not
// returned, so the agent can still observe whatever rendered.
func Launch(ctx context.Context, startURL string, opts Options, logger *zap.Logger) (*Browser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "browser"))
	if opts.NavigationTimeout == 0 {
		opts.NavigationTimeout = 180 * time.Second
	}

	l := launcher.New().Context(ctx).Headless(opts.Headless)
	if opts.Bin != "" {
		l = l.Bin(opts.Bin)
	} else if path, has := launcher.LookPath(); has {
		l = l.Bin(path)
	}
	if opts.ProfileDir != "" {
		l = l.UserDataDir(opts.ProfileDir)
	}
	if os.Geteuid() == 0 {
		l = l.NoSandbox(true)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := &Browser{
		launcher: l,
		viewport: coords.Viewport{Width: opts.Width, Height: opts.Height},
		logger:   logger,
	}

	b.browser = rod.New().ControlURL(u)
	if err := b.browser.Connect(); err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	if opts.DownloadDir != "" {
		if err := os.MkdirAll(opts.DownloadDir, 0o755); err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to create download dir: %w", err)
		}
		err := proto.BrowserSetDownloadBehavior{
			Behavior:     proto.BrowserSetDownloadBehaviorBehaviorAllow,
			DownloadPath: opts.DownloadDir,
		}.Call(b.browser)
		if err != nil {
			logger.Warn("Could not set download directory", zap.Error(err))
		}
	}

	b.page, err = b.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	err = b.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             opts.Width,
		Height:            opts.Height,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to set viewport: %w", err)
	}

	if startURL != "" {
		nav := b.page.Context(ctx).Timeout(opts.NavigationTimeout)
		if err := nav.Navigate(startURL); err != nil {
			logger.Warn("Initial navigation failed", zap.String("url", startURL), zap.Error(err))
		} else if err := nav.WaitLoad(); err != nil {
			logger.Warn("Initial page load did not finish", zap.String("url", startURL), zap.Error(err))
		}
		b.settle(ctx, opts.InitialSettle)
	}

	return b, nil
}

// settle waits for network idle and, on single page apps, for interactive
// elements to render, then holds for d.
func (b *Browser) settle(ctx context.Context, d time.Duration) {
	// Don't hang on persistent connections.
	b.page.Context(ctx).Timeout(5*time.Second).WaitRequestIdle(500*time.Millisecond, nil, nil, nil)()

	if detectSPA(ctx, b.page) {
		waitForInteractiveElements(ctx, b.page, 5*time.Second)
	}

	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
		}
	}
}

// Close cleans up browser resources
func (b *Browser) Close() {
	if b.page != nil {
		_ = b.page.Close()
	}
	if b.browser != nil {
		_ = b.browser.Close()
	}
	if b.launcher != nil {
		b.launcher.Kill()
		b.launcher.Cleanup()
	}
}

// Page returns the underlying Rod page
func (b *Browser) Page() *rod.Page {
	return b.page
}

func (b *Browser) Viewport() coords.Viewport {
	return b.viewport
}

func (b *Browser) MoveTo(_ context.Context, x, y float64) error {
	return b.page.Mouse.MoveTo(proto.Point{X: x, Y: y})
}

func (b *Browser) Click(_ context.Context, button proto.InputMouseButton, count int) error {
	return b.page.Mouse.Click(button, count)
}

func (b *Browser) MouseDown(_ context.Context, button proto.InputMouseButton) error {
	return b.page.Mouse.Down(button, 1)
}

func (b *Browser) MouseUp(_ context.Context, button proto.InputMouseButton) error {
	return b.page.Mouse.Up(button, 1)
}

func (b *Browser) Scroll(_ context.Context, dx, dy float64) error {
	return b.page.Mouse.Scroll(dx, dy, 1)
}

func (b *Browser) KeyDown(_ context.Context, key input.Key) error {
	return b.page.Keyboard.Press(key)
}

func (b *Browser) KeyUp(_ context.Context, key input.Key) error {
	return b.page.Keyboard.Release(key)
}

func (b *Browser) TypeKeys(_ context.Context, keys ...input.Key) error {
	return b.page.Keyboard.Type(keys...)
}

func (b *Browser) InsertText(ctx context.Context, text string) error {
	return b.page.Context(ctx).InsertText(text)
}

func (b *Browser) Navigate(ctx context.Context, url string) error {
	p := b.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return err
	}
	return p.WaitLoad()
}

// NavigateBack goes one history entry back and waits for the page to load.
func (b *Browser) NavigateBack(ctx context.Context) error {
	p := b.page.Context(ctx)
	if err := p.NavigateBack(); err != nil {
		return err
	}
	return p.WaitLoad()
}

func (b *Browser) NavigateForward(ctx context.Context) error {
	p := b.page.Context(ctx)
	if err := p.NavigateForward(); err != nil {
		return err
	}
	return p.WaitLoad()
}

const retargetJS = `(x, y) => {
	const el = document.elementFromPoint(x, y);
	if (!el) return false;
	const target = el.closest('a, form') || el;
	target.setAttribute('target', '_self');
	return true;
}`

func (b *Browser) RetargetLinkAt(ctx context.Context, x, y float64) error {
	res, err := b.page.Context(ctx).Eval(retargetJS, x, y)
	if err != nil {
		return err
	}
	if !res.Value.Bool() {
		return fmt.Errorf("no element at (%v,%v)", x, y)
	}
	return nil
}

func (b *Browser) Screenshot(ctx context.Context) ([]byte, error) {
	data, err := b.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return data, nil
}

func (b *Browser) URL(ctx context.Context) string {
	info, err := b.page.Context(ctx).Info()
	if err != nil {
		b.logger.Debug("Could not read page URL", zap.Error(err))
		return ""
	}
	return info.URL
}
