package overlay

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yifei-he/WebSTAR/internal/agent"
	"github.com/yifei-he/WebSTAR/internal/executor"
	"github.com/yifei-he/WebSTAR/internal/trajectory"
)

var blue = color.RGBA{0, 0, 200, 255}

func solid(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: blue}, image.Point{}, draw.Src)
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func rgba(img image.Image, x, y int) color.RGBA {
	return color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
}

func TestDraw(t *testing.T) {
	frame := solid(100, 80)
	out := Draw(frame, []Marker{{X: 20, Y: 20, Click: true}}, false)

	assert.Equal(t, fillColor, rgba(out, 21, 23))
	assert.Equal(t, outlineColor, rgba(out, 20, 30))
	assert.Equal(t, rippleColor, rgba(out, 35, 20))
	assert.Equal(t, blue, rgba(out, 0, 0))
	assert.Equal(t, blue, rgba(frame, 21, 23), "source frame must be untouched")
}

func TestDraw_FailedBorder(t *testing.T) {
	out := Draw(solid(50, 50), nil, true)
	assert.Equal(t, failColor, rgba(out, 0, 0))
	assert.Equal(t, failColor, rgba(out, 49, 49))
	assert.Equal(t, blue, rgba(out, 25, 25))
}

func TestDraw_ClipsAtEdges(t *testing.T) {
	assert.NotPanics(t, func() {
		Draw(solid(10, 10), []Marker{{X: 8, Y: 8, Click: true}, {X: -5, Y: 200}}, false)
	})
}

func TestTween(t *testing.T) {
	got := Tween(Marker{X: 20, Y: 20}, Marker{X: 60, Y: 50}, 2)
	assert.Equal(t, []Marker{{X: 29, Y: 27}, {X: 51, Y: 43}}, got)
	assert.Empty(t, Tween(Marker{}, Marker{X: 5}, 0))
}

func TestReplay(t *testing.T) {
	dir := t.TempDir()
	w, err := trajectory.New(dir)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		require.NoError(t, w.Screenshot(i, encodePNG(t, solid(100, 80))))
	}
	w.Step(agent.Step{Iteration: 0, Action: "click", Cursor: &executor.CursorPosition{X: 20, Y: 20, Click: true}, Screenshot: 1})
	w.Step(agent.Step{Iteration: 1, Index: 1, Action: "hotkey", Error: "unknown key", Screenshot: 2})
	w.Step(agent.Step{Iteration: 2, Index: 2, Action: "click", Cursor: &executor.CursorPosition{X: 60, Y: 50}, Screenshot: 3})
	require.NoError(t, w.Finish(&agent.Result{TaskID: "r", Status: agent.StatusDone}))

	opts := ReplayOptions{FrameDelay: time.Second, TweenDelay: 50 * time.Millisecond, HoldLast: 3 * time.Second, Tween: 2}
	frames, err := Replay(dir, opts)
	require.NoError(t, err)
	require.Len(t, frames, 6)

	assert.Equal(t, blue, rgba(frames[0].Image, 21, 23))
	assert.Equal(t, fillColor, rgba(frames[1].Image, 21, 23))
	assert.Equal(t, failColor, rgba(frames[2].Image, 0, 0))

	// pointer gliding over screenshot 2
	assert.Equal(t, opts.TweenDelay, frames[3].Delay)
	assert.Equal(t, fillColor, rgba(frames[3].Image, 30, 30))
	assert.Equal(t, blue, rgba(frames[3].Image, 0, 0))

	assert.Equal(t, fillColor, rgba(frames[5].Image, 61, 53))
	assert.Equal(t, opts.HoldLast, frames[5].Delay)
	assert.Equal(t, opts.FrameDelay, frames[0].Delay)
}

func TestReplay_Errors(t *testing.T) {
	_, err := Replay(t.TempDir(), DefaultReplayOptions())
	assert.ErrorContains(t, err, "no screenshots")

	dir := t.TempDir()
	w, err := trajectory.New(dir)
	require.NoError(t, err)
	require.NoError(t, w.Screenshot(0, []byte("not a png")))
	_, err = Replay(dir, DefaultReplayOptions())
	assert.ErrorContains(t, err, "failed to decode")
}
