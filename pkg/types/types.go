package types

import (
	"fmt"
	"image"
)

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Primary represents the primary subject located by a vision model
type Primary struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
	Cx         float64 `json:"cx"`
	Cy         float64 `json:"cy"`
}

// AnalysisResult contains the complete analysis result from the vision model
type AnalysisResult struct {
	Primary     Primary  `json:"primary"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// PixelBuffer is a width x height canvas of interleaved, non-premultiplied
// 8-bit RGBA samples. len(Pix) is always Width*Height*4.
type PixelBuffer struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewPixelBuffer allocates a zeroed buffer.
func NewPixelBuffer(width, height int) (*PixelBuffer, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("invalid buffer dimensions %dx%d", width, height)
	}
	return &PixelBuffer{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*4),
	}, nil
}

// FromNRGBA adopts the pixels of img. The image must start at the origin
// and be tightly packed, which is what the imaging package produces.
func FromNRGBA(img *image.NRGBA) (*PixelBuffer, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 1 || h < 1 {
		return nil, fmt.Errorf("invalid image dimensions %dx%d", w, h)
	}
	if b.Min != (image.Point{}) || img.Stride != w*4 || len(img.Pix) != w*h*4 {
		return nil, fmt.Errorf("image is not a packed origin-based NRGBA buffer")
	}
	return &PixelBuffer{Width: w, Height: h, Pix: img.Pix}, nil
}

// Image returns an *image.NRGBA view over the buffer's pixels. The view
// shares memory with the buffer.
func (b *PixelBuffer) Image() *image.NRGBA {
	return &image.NRGBA{
		Pix:    b.Pix,
		Stride: b.Width * 4,
		Rect:   image.Rect(0, 0, b.Width, b.Height),
	}
}

// Clone returns a deep copy of the buffer.
func (b *PixelBuffer) Clone() *PixelBuffer {
	pix := make([]uint8, len(b.Pix))
	copy(pix, b.Pix)
	return &PixelBuffer{Width: b.Width, Height: b.Height, Pix: pix}
}

// AlphaAt returns the alpha sample at (x, y).
func (b *PixelBuffer) AlphaAt(x, y int) uint8 {
	return b.Pix[(y*b.Width+x)*4+3]
}

// Validate checks the length invariant.
func (b *PixelBuffer) Validate() error {
	if b == nil {
		return fmt.Errorf("nil pixel buffer")
	}
	if b.Width < 1 || b.Height < 1 {
		return fmt.Errorf("invalid buffer dimensions %dx%d", b.Width, b.Height)
	}
	if len(b.Pix) != b.Width*b.Height*4 {
		return fmt.Errorf("buffer length %d does not match %dx%dx4", len(b.Pix), b.Width, b.Height)
	}
	return nil
}

// ForegroundMask holds one segmentation probability per pixel in row-major
// order. Values are the probability of the model's leading segment; the
// compositor inverts them, so low values mark the subject.
type ForegroundMask []float64

// BoundingBox is a pixel rectangle inside a canvas. X+Width and Y+Height
// never exceed the canvas dimensions.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect converts the box to a half-open image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("%dx%d@%d,%d", b.Width, b.Height, b.X, b.Y)
}
