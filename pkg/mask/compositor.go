// Package mask folds a segmentation mask into a pixel buffer's alpha channel.
package mask

import (
	"fmt"
	"math"

	"github.com/menta2k/autocrop/pkg/types"
)

// Composite returns a copy of buf whose alpha channel is replaced by the
// inverted mask. Colour samples are copied unchanged and buf itself is not
// modified.
func Composite(buf *types.PixelBuffer, m types.ForegroundMask) (*types.PixelBuffer, error) {
	if err := buf.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrDimensionMismatch, err)
	}
	if len(m) != buf.Width*buf.Height {
		return nil, fmt.Errorf("%w: mask has %d values, image %dx%d needs %d",
			types.ErrDimensionMismatch, len(m), buf.Width, buf.Height, buf.Width*buf.Height)
	}

	out := buf.Clone()
	for i, v := range m {
		out.Pix[i*4+3] = Alpha(v)
	}
	return out, nil
}

// Alpha maps a mask value to round((1-v)*255) clamped to [0,255].
// NaN maps to 0.
func Alpha(v float64) uint8 {
	a := math.Round((1 - v) * 255)
	switch {
	case math.IsNaN(a), a <= 0:
		return 0
	case a >= 255:
		return 255
	}
	return uint8(a)
}
