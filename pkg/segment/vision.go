package segment

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	"github.com/disintegration/imaging"

	"github.com/menta2k/autocrop/pkg/detection"
	"github.com/menta2k/autocrop/pkg/types"
)

// VisionSegmenter asks a vision model for the primary subject's box and
// rasterizes it into a mask. Pixels outside the box get 1; pixels inside get
// 1 minus the model's confidence. A model that finds no subject yields an
// all-ones mask.
//
// Confidence therefore doubles as a cut-off: the compositor turns the box
// into alpha round(confidence*255), so with the default bounds threshold of
// 50 a detection below about 0.2 confidence is treated as no subject and the
// image is left uncropped.
type VisionSegmenter struct {
	detector *detection.Detector
	config   VisionConfig
}

// VisionConfig holds configuration for model-backed segmentation
type VisionConfig struct {
	Model string
	// SendSize caps the long side of the image sent to the model, 0 sends it as is.
	SendSize int
	// SendQuality is the JPEG quality of the image sent to the model.
	SendQuality int
}

// NewVision creates a VisionSegmenter backed by detector
func NewVision(detector *detection.Detector, config VisionConfig) *VisionSegmenter {
	if config.SendQuality < 1 || config.SendQuality > 100 {
		config.SendQuality = 85
	}
	return &VisionSegmenter{detector: detector, config: config}
}

// Segment sends buf to the model and rasterizes the reply
func (v *VisionSegmenter) Segment(ctx context.Context, buf *types.PixelBuffer) (types.ForegroundMask, error) {
	if err := buf.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrSegmentation, err)
	}

	imgB64, err := PrepareImageForModel(buf.Image(), v.config.SendSize, v.config.SendQuality)
	if err != nil {
		return nil, fmt.Errorf("%w: prepare image: %v", types.ErrSegmentation, err)
	}

	result, err := v.detector.DetectSubject(ctx, v.config.Model, imgB64)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrSegmentation, err)
	}

	return Rasterize(result, buf.Width, buf.Height), nil
}

// Rasterize converts a model's normalized subject box into a mask for a
// width x height canvas.
func Rasterize(result *types.AnalysisResult, width, height int) types.ForegroundMask {
	m := Uniform(width, height, 1)
	if !detection.HasSubject(result) {
		return m
	}

	box := result.Primary.Box
	fw, fh := float64(width), float64(height)
	x0 := int(math.Floor(box.X * fw))
	y0 := int(math.Floor(box.Y * fh))
	x1 := int(math.Ceil((box.X + box.W) * fw))
	y1 := int(math.Ceil((box.Y + box.H) * fh))

	FillRect(m, width, height, x0, y0, x1, y1, 1-result.Primary.Confidence)
	return m
}

// PrepareImageForModel downsizes img to maxDim on its long side and returns
// it as base64 JPEG.
func PrepareImageForModel(img image.Image, maxDim int, quality int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
