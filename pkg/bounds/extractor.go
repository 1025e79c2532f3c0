// Package bounds locates the subject in a composited pixel buffer.
package bounds

import (
	"fmt"

	"github.com/menta2k/autocrop/pkg/types"
)

const (
	// DefaultAlphaThreshold is the alpha a pixel must exceed to count as content.
	DefaultAlphaThreshold = 50
	// DefaultPadding is added to every side of the content rectangle.
	DefaultPadding = 20
)

// Config holds configuration for bounds extraction
type Config struct {
	AlphaThreshold uint8
	Padding        int
}

// Extractor computes the padded bounding box of content pixels
type Extractor struct {
	config Config
}

// New creates a new Extractor with default configuration
func New() *Extractor {
	return &Extractor{
		config: Config{
			AlphaThreshold: DefaultAlphaThreshold,
			Padding:        DefaultPadding,
		},
	}
}

// NewWithConfig creates a new Extractor with custom configuration
func NewWithConfig(config Config) *Extractor {
	if config.Padding < 0 {
		config.Padding = 0
	}
	return &Extractor{config: config}
}

// Extent is the raw inclusive extent of content pixels, before padding.
type Extent struct {
	MinX, MinY, MaxX, MaxY int
}

// Scan walks every pixel in row-major order and returns the inclusive
// extent of pixels whose alpha exceeds the threshold. ok is false when no
// pixel qualifies.
func (e *Extractor) Scan(buf *types.PixelBuffer) (ext Extent, ok bool) {
	width, height := buf.Width, buf.Height
	ext = Extent{MinX: width, MinY: height, MaxX: 0, MaxY: 0}
	threshold := e.config.AlphaThreshold

	i := 3
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if buf.Pix[i] > threshold {
				ok = true
				if x < ext.MinX {
					ext.MinX = x
				}
				if x > ext.MaxX {
					ext.MaxX = x
				}
				if y < ext.MinY {
					ext.MinY = y
				}
				if y > ext.MaxY {
					ext.MaxY = y
				}
			}
			i += 4
		}
	}
	return ext, ok
}

// Extract returns the padded, clamped bounding box of the content in buf,
// or nil when buf has no content. A nil box is not an error.
func (e *Extractor) Extract(buf *types.PixelBuffer) (*types.BoundingBox, error) {
	if err := buf.Validate(); err != nil {
		return nil, fmt.Errorf("bounds: %w", err)
	}

	ext, ok := e.Scan(buf)
	if !ok {
		return nil, nil
	}

	box := e.Pad(ext, buf.Width, buf.Height)
	return &box, nil
}

// Pad grows ext by the configured padding and clamps it to
// [0,width-1] x [0,height-1]. Extents are inclusive.
func (e *Extractor) Pad(ext Extent, width, height int) types.BoundingBox {
	p := e.config.Padding
	minX := max(0, ext.MinX-p)
	minY := max(0, ext.MinY-p)
	maxX := min(width-1, ext.MaxX+p)
	maxY := min(height-1, ext.MaxY+p)

	return types.BoundingBox{
		X:      minX,
		Y:      minY,
		Width:  maxX - minX + 1,
		Height: maxY - minY + 1,
	}
}
