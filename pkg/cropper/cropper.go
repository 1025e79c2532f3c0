package cropper

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/menta2k/autocrop/pkg/types"
)

// DefaultQuality is the lossy encoder quality used for crops.
const DefaultQuality = 90

// Cropper extracts sub-regions from pixel buffers and re-encodes them
type Cropper struct {
	config CropConfig
}

// CropConfig holds configuration for cropping and encoding
type CropConfig struct {
	Quality      int
	LosslessWebP bool
}

// New creates a new Cropper with default configuration
func New() *Cropper {
	return &Cropper{
		config: CropConfig{
			Quality:      DefaultQuality,
			LosslessWebP: false,
		},
	}
}

// NewWithConfig creates a new Cropper with custom configuration
func NewWithConfig(config CropConfig) *Cropper {
	if config.Quality < 1 || config.Quality > 100 {
		config.Quality = DefaultQuality
	}
	return &Cropper{config: config}
}

// Crop copies the pixels of buf inside box into a new buffer of exactly
// box.Width x box.Height
func (c *Cropper) Crop(buf *types.PixelBuffer, box types.BoundingBox) (*types.PixelBuffer, error) {
	if err := buf.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCrop, err)
	}

	canvas := image.Rect(0, 0, buf.Width, buf.Height)
	rect := box.Rect()
	if box.Width < 1 || box.Height < 1 || !rect.In(canvas) {
		return nil, fmt.Errorf("%w: box %v outside %dx%d canvas", types.ErrCrop, box, buf.Width, buf.Height)
	}

	cropped, err := types.FromNRGBA(imaging.Crop(buf.Image(), rect))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCrop, err)
	}
	return cropped, nil
}

// Encode writes buf in the named container format. JPEG and lossy WebP use
// the configured quality.
func (c *Cropper) Encode(buf *types.PixelBuffer, format string) ([]byte, error) {
	if err := buf.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrEncode, err)
	}

	img := buf.Image()
	var out bytes.Buffer

	switch strings.ToLower(format) {
	case "webp":
		opts := &webp.Options{Lossless: c.config.LosslessWebP, Quality: float32(c.config.Quality)}
		if err := webp.Encode(&out, img, opts); err != nil {
			return nil, fmt.Errorf("%w: webp: %v", types.ErrEncode, err)
		}
	default:
		f, err := imaging.FormatFromExtension(format)
		if err != nil {
			return nil, fmt.Errorf("%w: unsupported output format %q", types.ErrEncode, format)
		}
		if err := imaging.Encode(&out, img, f, imaging.JPEGQuality(c.config.Quality)); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", types.ErrEncode, format, err)
		}
	}

	if out.Len() == 0 {
		return nil, fmt.Errorf("%w: encoder produced no output", types.ErrEncode)
	}
	return out.Bytes(), nil
}

// CropAndEncode crops buf to box and encodes the result
func (c *Cropper) CropAndEncode(buf *types.PixelBuffer, box types.BoundingBox, format string) ([]byte, *types.PixelBuffer, error) {
	cropped, err := c.Crop(buf, box)
	if err != nil {
		return nil, nil, err
	}
	data, err := c.Encode(cropped, format)
	if err != nil {
		return nil, nil, err
	}
	return data, cropped, nil
}

// Extension returns the file extension conventionally used for format.
func Extension(format string) string {
	switch strings.ToLower(format) {
	case "jpeg", "jpg":
		return "jpg"
	case "tiff", "tif":
		return "tif"
	case "":
		return "jpg"
	default:
		return strings.ToLower(format)
	}
}
