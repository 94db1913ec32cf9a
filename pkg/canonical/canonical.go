// Package canonical converts decoded source images into the fixed-size raw
// pixel buffers the engine consumes.
package canonical

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

const (
	// Width and Height are the fixed canonical dimensions.
	Width  = 1000
	Height = 1000
	// BytesPerPixel is the R,G,B,A stride of a canonical buffer.
	BytesPerPixel = 4
)

// ErrImageProcessingFailed is returned when no canonical buffer can be produced.
var ErrImageProcessingFailed = errors.New("image processing failed")

// Buffer is a row-major RGBA pixel buffer. The alpha byte of every pixel is
// zero and must be ignored by consumers.
type Buffer struct {
	Pix    []byte
	Width  int
	Height int
}

// Len returns the number of bytes in the buffer.
func (b *Buffer) Len() int {
	return len(b.Pix)
}

// Config holds canonicalization parameters. A zero Filter is imaging's
// nearest-neighbor filter.
type Config struct {
	Width  int
	Height int
	Filter imaging.ResampleFilter
}

// Canonicalizer resizes images to a fixed size and rasterizes them as RGBA.
type Canonicalizer struct {
	config Config
}

// New creates a Canonicalizer producing 1000x1000 buffers with Lanczos resampling.
func New() *Canonicalizer {
	return &Canonicalizer{
		config: Config{
			Width:  Width,
			Height: Height,
			Filter: imaging.Lanczos,
		},
	}
}

// NewWithConfig creates a Canonicalizer with custom configuration.
func NewWithConfig(config Config) *Canonicalizer {
	if config.Width <= 0 {
		config.Width = Width
	}
	if config.Height <= 0 {
		config.Height = Height
	}
	return &Canonicalizer{config: config}
}

// Canonicalize resizes img to the configured dimensions, ignoring its aspect
// ratio, and rasterizes it as premultiplied RGBA over black. Orientation is
// passed through as decoded.
func (c *Canonicalizer) Canonicalize(img image.Image) (*Buffer, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: no source image", ErrImageProcessingFailed)
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("%w: empty source image %dx%d", ErrImageProcessingFailed, bounds.Dx(), bounds.Dy())
	}

	resized := imaging.Resize(img, c.config.Width, c.config.Height, c.config.Filter)
	if resized.Bounds().Dx() != c.config.Width || resized.Bounds().Dy() != c.config.Height {
		return nil, fmt.Errorf("%w: resize produced %dx%d", ErrImageProcessingFailed,
			resized.Bounds().Dx(), resized.Bounds().Dy())
	}

	canvas := image.NewRGBA(image.Rect(0, 0, c.config.Width, c.config.Height))
	draw.Draw(canvas, canvas.Bounds(), resized, resized.Bounds().Min, draw.Src)

	for i := 3; i < len(canvas.Pix); i += BytesPerPixel {
		canvas.Pix[i] = 0
	}

	return &Buffer{
		Pix:    canvas.Pix,
		Width:  c.config.Width,
		Height: c.config.Height,
	}, nil
}

// FilterByName maps a resampling filter name to an imaging filter.
func FilterByName(name string) (imaging.ResampleFilter, error) {
	switch strings.ToLower(name) {
	case "", "lanczos":
		return imaging.Lanczos, nil
	case "catmullrom":
		return imaging.CatmullRom, nil
	case "linear":
		return imaging.Linear, nil
	case "box":
		return imaging.Box, nil
	case "nearest":
		return imaging.NearestNeighbor, nil
	default:
		return imaging.ResampleFilter{}, fmt.Errorf("unknown resample filter: %s", name)
	}
}
