// Package segment defines the segmentation collaborator consumed by the
// auto-crop pipeline and ships local and model-backed implementations.
//
// A Segmenter returns one value per pixel: the probability that the pixel
// belongs to the model's leading segment, which for scene-parsing models is
// the background. The pipeline inverts these values, so implementations
// report the subject with low values.
package segment

import (
	"context"
	"fmt"
	"math"

	"github.com/menta2k/autocrop/pkg/types"
)

// Segmenter computes a mask for a pixel buffer. Implementations must not
// retain buf after returning.
type Segmenter interface {
	Segment(ctx context.Context, buf *types.PixelBuffer) (types.ForegroundMask, error)
}

// Func adapts a plain function to the Segmenter interface.
type Func func(ctx context.Context, buf *types.PixelBuffer) (types.ForegroundMask, error)

// Segment calls f.
func (f Func) Segment(ctx context.Context, buf *types.PixelBuffer) (types.ForegroundMask, error) {
	return f(ctx, buf)
}

// Validate checks that m fits buf and holds only values in [0,1].
func Validate(m types.ForegroundMask, buf *types.PixelBuffer) error {
	if want := buf.Width * buf.Height; len(m) != want {
		return fmt.Errorf("%w: mask has %d values, image %dx%d needs %d",
			types.ErrDimensionMismatch, len(m), buf.Width, buf.Height, want)
	}
	return CheckValues(m)
}

// CheckValues reports a segmentation error when m is empty or holds a value
// outside [0,1].
func CheckValues(m types.ForegroundMask) error {
	if len(m) == 0 {
		return fmt.Errorf("%w: empty mask", types.ErrSegmentation)
	}
	for i, v := range m {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: mask value %v at pixel %d outside [0,1]", types.ErrSegmentation, v, i)
		}
	}
	return nil
}

// Uniform returns a mask of width*height copies of v.
func Uniform(width, height int, v float64) types.ForegroundMask {
	m := make(types.ForegroundMask, width*height)
	for i := range m {
		m[i] = v
	}
	return m
}

// FillRect sets every value of m inside r to v. Parts of r outside the
// width x height canvas are ignored.
func FillRect(m types.ForegroundMask, width, height int, x0, y0, x1, y1 int, v float64) {
	x0, y0 = max(x0, 0), max(y0, 0)
	x1, y1 = min(x1, width), min(y1, height)
	for y := y0; y < y1; y++ {
		row := m[y*width : (y+1)*width]
		for x := x0; x < x1; x++ {
			row[x] = v
		}
	}
}
