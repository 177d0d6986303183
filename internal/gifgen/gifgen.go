// Package gifgen encodes replay frames as an animated GIF.
package gifgen

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"io"
	"os"
	"sort"
	"time"

	"github.com/nfnt/resize"
)

// Frame is one image of the animation and how long it stays on screen.
type Frame struct {
	Image image.Image
	Delay time.Duration
}

// Options configures encoding.
type Options struct {
	// MaxWidth caps the output width; frames are never upscaled. Zero keeps
	// the source width.
	MaxWidth uint
	// Loop is the GIF loop count; zero loops forever.
	Loop int
}

// ErrNoFrames is returned when there is nothing to encode.
var ErrNoFrames = errors.New("no frames to encode")

// Encode writes frames to w as a GIF sharing one palette.
func Encode(w io.Writer, frames []Frame, opts Options) error {
	if len(frames) == 0 {
		return ErrNoFrames
	}

	bounds := frames[0].Image.Bounds()
	width := uint(bounds.Dx())
	if opts.MaxWidth > 0 && opts.MaxWidth < width {
		width = opts.MaxWidth
	}
	height := uint(float64(width) * float64(bounds.Dy()) / float64(bounds.Dx()))

	scaled := make([]image.Image, len(frames))
	for i, f := range frames {
		img := f.Image
		if uint(img.Bounds().Dx()) != width || uint(img.Bounds().Dy()) != height {
			img = resize.Resize(width, height, img, resize.Lanczos3)
		}
		scaled[i] = img
	}

	palette := Palette(scaled, 256)
	g := &gif.GIF{
		Image:     make([]*image.Paletted, len(frames)),
		Delay:     make([]int, len(frames)),
		LoopCount: opts.Loop,
	}
	for i, img := range scaled {
		p := image.NewPaletted(img.Bounds(), palette)
		draw.FloydSteinberg.Draw(p, img.Bounds(), img, img.Bounds().Min)
		g.Image[i] = p
		g.Delay[i] = centiseconds(frames[i].Delay)
	}

	if err := gif.EncodeAll(w, g); err != nil {
		return fmt.Errorf("failed to encode gif: %w", err)
	}
	return nil
}

// WriteFile encodes frames to path and returns the file size.
func WriteFile(path string, frames []Frame, opts Options) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if err := Encode(f, frames, opts); err != nil {
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// GIF delays are in hundredths of a second; browsers treat anything under
// two as ten.
func centiseconds(d time.Duration) int {
	cs := int(d / (10 * time.Millisecond))
	if cs < 2 {
		cs = 2
	}
	return cs
}

// Palette picks the size most frequent colours sampled across images,
// padding with greys.
func Palette(images []image.Image, size int) color.Palette {
	counts := make(map[color.RGBA]int)
	for _, img := range images {
		b := img.Bounds()
		for y := b.Min.Y; y < b.Max.Y; y += 4 {
			for x := b.Min.X; x < b.Max.X; x += 4 {
				r, g, bl, _ := img.At(x, y).RGBA()
				counts[color.RGBA{uint8(r >> 8), uint8(g >> 8), uint8(bl >> 8), 255}]++
			}
		}
	}

	colors := make([]color.RGBA, 0, len(counts))
	for c := range counts {
		colors = append(colors, c)
	}
	sort.Slice(colors, func(i, j int) bool {
		if counts[colors[i]] != counts[colors[j]] {
			return counts[colors[i]] > counts[colors[j]]
		}
		return rgbKey(colors[i]) < rgbKey(colors[j])
	})

	palette := make(color.Palette, 0, size)
	for _, c := range colors {
		if len(palette) == size {
			break
		}
		palette = append(palette, c)
	}
	for i := 0; len(palette) < size; i++ {
		v := uint8(i * 255 / size)
		palette = append(palette, color.RGBA{v, v, v, 255})
	}
	return palette
}

func rgbKey(c color.RGBA) uint32 {
	return uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
}
