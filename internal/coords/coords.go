// Package coords maps model-space points onto viewport pixels.
package coords

import (
	"fmt"
	"math"
	"strings"
)

// Scale declares the coordinate space a point was expressed in.
type Scale int

const (
	// Pixel points are already absolute device pixels.
	Pixel Scale = iota
	// Fraction points use 0..1 per axis.
	Fraction
	// Permille points use 0..1000 per axis.
	Permille
)

func (s Scale) String() string {
	switch s {
	case Pixel:
		return "pixel"
	case Fraction:
		return "fraction"
	case Permille:
		return "permille"
	default:
		return fmt.Sprintf("scale(%d)", int(s))
	}
}

// ParseScale accepts the config spelling of a scale.
func ParseScale(name string) (Scale, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "pixel", "px", "absolute":
		return Pixel, nil
	case "fraction", "fractional", "ratio":
		return Fraction, nil
	case "permille", "thousandths", "1000":
		return Permille, nil
	default:
		return Pixel, fmt.Errorf("unknown coordinate scale: %s (supported: pixel, fraction, permille)", name)
	}
}

// Viewport is the page size in CSS pixels.
type Viewport struct {
	Width  int
	Height int
}

// Valid reports whether both dimensions are positive.
func (v Viewport) Valid() bool {
	return v.Width > 0 && v.Height > 0
}

// Point is a coordinate pair tagged with the scale it is expressed in.
type Point struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Scale Scale   `json:"-"`
}

// Px builds a pixel point.
func Px(x, y float64) Point {
	return Point{X: x, Y: y, Scale: Pixel}
}

// Mapper converts scaled points into clamped pixel points for one viewport.
type Mapper struct {
	Viewport Viewport
}

// NewMapper returns a mapper for the viewport.
func NewMapper(vp Viewport) Mapper {
	return Mapper{Viewport: vp}
}

// Map converts p to an absolute pixel point inside [0,W-1]x[0,H-1].
// Out-of-range input is clamped, never rejected.
func (m Mapper) Map(p Point) Point {
	x := m.axis(p.X, p.Scale, m.Viewport.Width)
	y := m.axis(p.Y, p.Scale, m.Viewport.Height)
	return Point{X: x, Y: y, Scale: Pixel}
}

func (m Mapper) axis(v float64, s Scale, size int) float64 {
	if math.IsNaN(v) {
		v = 0
	}
	switch s {
	case Fraction:
		v = v * float64(size)
	case Permille:
		v = v / 1000 * float64(size)
	}
	v = math.Round(v)
	return clamp(v, 0, float64(size-1))
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
