package overlay

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/yifei-he/WebSTAR/internal/gifgen"
	"github.com/yifei-he/WebSTAR/internal/trajectory"
)

// ReplayOptions configures Replay.
type ReplayOptions struct {
	FrameDelay time.Duration // how long each screenshot is shown
	TweenDelay time.Duration
	HoldLast   time.Duration
	Tween      int // pointer frames between consecutive positions
}

// DefaultReplayOptions returns the replay timing used by the CLI.
func DefaultReplayOptions() ReplayOptions {
	return ReplayOptions{
		FrameDelay: time.Second,
		TweenDelay: 60 * time.Millisecond,
		HoldLast:   3 * time.Second,
		Tween:      6,
	}
}

// Replay loads a task directory and returns its frames: every screenshot in
// order, each marked with the pointer positions of the steps that produced
// it. With Tween set, the pointer glides over the previous screenshot
// before the next one appears.
func Replay(dir string, opts ReplayOptions) ([]gifgen.Frame, error) {
	shots, err := loadScreenshots(dir)
	if err != nil {
		return nil, err
	}
	steps, err := trajectory.LoadSteps(dir)
	if err != nil {
		return nil, err
	}

	marks := make(map[int][]Marker)
	failed := make(map[int]bool)
	for _, s := range steps {
		if s.Error != "" {
			failed[s.Screenshot] = true
		}
		if s.Cursor != nil {
			marks[s.Screenshot] = append(marks[s.Screenshot], MarkerAt(*s.Cursor))
		}
	}

	var (
		frames  []gifgen.Frame
		last    Marker
		hasLast bool
	)
	for i, shot := range shots {
		ms := marks[i]
		if i > 0 && hasLast && len(ms) > 0 {
			for _, m := range Tween(last, Marker{X: ms[0].X, Y: ms[0].Y, State: ms[0].State}, opts.Tween) {
				frames = append(frames, gifgen.Frame{Image: Draw(shots[i-1], []Marker{m}, false), Delay: opts.TweenDelay})
			}
		}

		delay := opts.FrameDelay
		if i == len(shots)-1 && opts.HoldLast > 0 {
			delay = opts.HoldLast
		}
		frames = append(frames, gifgen.Frame{Image: Draw(shot, ms, failed[i]), Delay: delay})

		if len(ms) > 0 {
			last = ms[len(ms)-1]
			last.Click = false
			hasLast = true
		}
	}
	return frames, nil
}

// loadScreenshots reads screenshot0.png, screenshot1.png, ... up to the
// first missing index.
func loadScreenshots(dir string) ([]image.Image, error) {
	var shots []image.Image
	for n := 0; ; n++ {
		path := filepath.Join(dir, trajectory.ScreenshotFile(n))
		img, err := decodePNG(path)
		if errors.Is(err, os.ErrNotExist) {
			break
		}
		if err != nil {
			return nil, err
		}
		shots = append(shots, img)
	}
	if len(shots) == 0 {
		return nil, fmt.Errorf("no screenshots in %s", dir)
	}
	return shots, nil
}

func decodePNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}
