package segment

import (
	"context"
	"fmt"
	"math"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/menta2k/autocrop/pkg/types"
)

// SaliencySegmenter is a local segmenter that needs no model. A pixel's
// saliency is its CIE-Lab distance from the image's mean colour after a
// light blur; the mask is 1 minus the saliency normalized to the maximum.
type SaliencySegmenter struct {
	config SaliencyConfig
}

// SaliencyConfig holds configuration for saliency segmentation
type SaliencyConfig struct {
	// BlurSigma smooths texture before measuring colour distance. Zero disables it.
	BlurSigma float64
	// Floor zeroes saliency below this fraction of the maximum.
	Floor float64
}

// NewSaliency creates a SaliencySegmenter with default configuration
func NewSaliency() *SaliencySegmenter {
	return &SaliencySegmenter{
		config: SaliencyConfig{
			BlurSigma: 2.0,
			Floor:     0.1,
		},
	}
}

// NewSaliencyWithConfig creates a SaliencySegmenter with custom configuration
func NewSaliencyWithConfig(config SaliencyConfig) *SaliencySegmenter {
	return &SaliencySegmenter{config: config}
}

// Segment computes the saliency mask of buf
func (s *SaliencySegmenter) Segment(ctx context.Context, buf *types.PixelBuffer) (types.ForegroundMask, error) {
	if err := buf.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrSegmentation, err)
	}

	src := buf.Image()
	if s.config.BlurSigma > 0 {
		src = imaging.Blur(src, s.config.BlurSigma)
	}

	n := buf.Width * buf.Height
	lab := make([]float64, n*3)
	var meanL, meanA, meanB float64

	for y := 0; y < buf.Height; y++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrSegmentation, err)
		}
		for x := 0; x < buf.Width; x++ {
			i := y*buf.Width + x
			p := src.Pix[y*src.Stride+x*4:]
			c := colorful.Color{R: float64(p[0]) / 255, G: float64(p[1]) / 255, B: float64(p[2]) / 255}
			l, a, b := c.Lab()
			lab[i*3], lab[i*3+1], lab[i*3+2] = l, a, b
			meanL += l
			meanA += a
			meanB += b
		}
	}
	meanL /= float64(n)
	meanA /= float64(n)
	meanB /= float64(n)

	saliency := make([]float64, n)
	var peak float64
	for i := range saliency {
		dl := lab[i*3] - meanL
		da := lab[i*3+1] - meanA
		db := lab[i*3+2] - meanB
		d := math.Sqrt(dl*dl + da*da + db*db)
		saliency[i] = d
		if d > peak {
			peak = d
		}
	}

	m := make(types.ForegroundMask, n)
	for i, d := range saliency {
		v := 0.0
		if peak > 1e-9 {
			v = d / peak
			if v < s.config.Floor {
				v = 0
			}
		}
		m[i] = 1 - v
	}
	return m, nil
}
