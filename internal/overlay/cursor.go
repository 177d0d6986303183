// Package overlay draws pointer markers onto recorded screenshots and
// assembles the frames of a trajectory replay.
package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/yifei-he/WebSTAR/internal/executor"
)

// BorderWidth is the width of the frame border marking a failed step.
const BorderWidth = 4

var (
	outlineColor = color.RGBA{0, 0, 0, 255}
	fillColor    = color.RGBA{255, 255, 255, 255}
	rippleColor  = color.RGBA{66, 133, 244, 255}
	failColor    = color.RGBA{220, 38, 38, 255}
)

// Marker is one pointer position to draw on a frame.
type Marker struct {
	X, Y  int
	State executor.CursorState
	Click bool
}

// MarkerAt converts a recorded cursor position.
func MarkerAt(pos executor.CursorPosition) Marker {
	return Marker{X: pos.X, Y: pos.Y, State: pos.State, Click: pos.Click}
}

// Draw returns a copy of frame with marks drawn on it, and a red border when
// failed is set. frame is not modified.
func Draw(frame image.Image, marks []Marker, failed bool) *image.RGBA {
	bounds := frame.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, frame, bounds.Min, draw.Src)

	if failed {
		drawBorder(out)
	}
	for _, m := range marks {
		if m.Click {
			drawRipple(out, m.X, m.Y)
		}
		drawArrow(out, m.X, m.Y)
	}
	return out
}

// Tween returns n positions moving from a to b with ease-in-out timing,
// excluding both endpoints.
func Tween(a, b Marker, n int) []Marker {
	out := make([]Marker, 0, n)
	for i := 1; i <= n; i++ {
		p := easeInOut(float64(i) / float64(n+1))
		out = append(out, Marker{
			X:     a.X + int(math.Round(p*float64(b.X-a.X))),
			Y:     a.Y + int(math.Round(p*float64(b.Y-a.Y))),
			State: a.State,
		})
	}
	return out
}

func easeInOut(t float64) float64 {
	if t < 0.5 {
		return 2 * t * t
	}
	return 1 - math.Pow(-2*t+2, 2)/2
}

// arrow outline, relative to the hotspot
var arrow = []image.Point{
	{0, 0},
	{0, 16},
	{4, 12},
	{7, 18},
	{10, 17},
	{7, 11},
	{12, 11},
}

func drawArrow(img *image.RGBA, x, y int) {
	for dy := 0; dy <= 16; dy++ {
		for dx := 0; dx < 13; dx++ {
			if insideArrow(dx, dy) {
				setPixel(img, x+dx, y+dy, fillColor)
			}
		}
	}
	for i, p := range arrow {
		q := arrow[(i+1)%len(arrow)]
		drawLine(img, x+p.X, y+p.Y, x+q.X, y+q.Y, outlineColor)
	}
}

func insideArrow(dx, dy int) bool {
	switch {
	case dx < 0 || dy < 0 || dy > 16:
		return false
	case dy <= 11:
		return dx <= dy*12/16
	default:
		return dx <= 4
	}
}

// Bresenham
func drawLine(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	dx, dy := abs(x2-x1), abs(y2-y1)
	sx, sy := 1, 1
	if x1 > x2 {
		sx = -1
	}
	if y1 > y2 {
		sy = -1
	}
	err := dx - dy
	for {
		setPixel(img, x1, y1, c)
		if x1 == x2 && y1 == y2 {
			return
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x1 += sx
		}
		if e2 < dx {
			err += dx
			y1 += sy
		}
	}
}

func drawRipple(img *image.RGBA, x, y int) {
	for _, radius := range []float64{10, 15} {
		for deg := 0.0; deg < 360; deg++ {
			rad := deg * math.Pi / 180
			px := x + int(radius*math.Cos(rad))
			py := y + int(radius*math.Sin(rad))
			setPixel(img, px, py, rippleColor)
			setPixel(img, px+1, py, rippleColor)
			setPixel(img, px, py+1, rippleColor)
		}
	}
}

func drawBorder(img *image.RGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if x-b.Min.X < BorderWidth || b.Max.X-1-x < BorderWidth ||
				y-b.Min.Y < BorderWidth || b.Max.Y-1-y < BorderWidth {
				img.SetRGBA(x, y, failColor)
			}
		}
	}
}

func setPixel(img *image.RGBA, x, y int, c color.RGBA) {
	if (image.Point{x, y}).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
