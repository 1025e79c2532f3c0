package loader

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"math"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/autocrop/pkg/types"
)

// DefaultMaxDimension is the ceiling applied to the longer side of a decoded image.
const DefaultMaxDimension = 1024

// DefaultMaxPixels caps width*height of the source image. Larger images are
// rejected from their header, before any pixel memory is allocated.
const DefaultMaxPixels = 100_000_000

// Loader decodes encoded images into normalized pixel buffers
type Loader struct {
	config Config
}

// Config holds configuration for the loader
type Config struct {
	MaxDimension int
	AutoOrient   bool
	// MaxPixels is the source pixel budget, 0 means DefaultMaxPixels.
	MaxPixels int64
}

// Result is a decoded, size-capped image
type Result struct {
	Buffer *types.PixelBuffer
	// Format is the container name reported by the decoder ("jpeg", "png", "webp", ...).
	Format string
	// SourceWidth and SourceHeight are the dimensions before any downscale.
	SourceWidth  int
	SourceHeight int
	Resized      bool
}

// New creates a new Loader with default configuration
func New() *Loader {
	return &Loader{
		config: Config{
			MaxDimension: DefaultMaxDimension,
			AutoOrient:   true,
			MaxPixels:    DefaultMaxPixels,
		},
	}
}

// NewWithConfig creates a new Loader with custom configuration
func NewWithConfig(config Config) *Loader {
	if config.MaxDimension <= 0 {
		config.MaxDimension = DefaultMaxDimension
	}
	if config.MaxPixels <= 0 {
		config.MaxPixels = DefaultMaxPixels
	}
	return &Loader{config: config}
}

// MaxDimension returns the configured ceiling.
func (l *Loader) MaxDimension() int {
	return l.config.MaxDimension
}

// LoadFromReader reads all of reader and decodes it
func (l *Loader) LoadFromReader(reader io.Reader) (*Result, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	return l.Load(data)
}

// Load decodes data and caps its longer side at the configured ceiling.
// Images that already fit are kept at native resolution without resampling.
func (l *Loader) Load(data []byte) (*Result, error) {
	img, format, err := l.decode(data)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW < 1 || srcH < 1 {
		return nil, fmt.Errorf("%w: empty image %dx%d", types.ErrDecode, srcW, srcH)
	}

	w, h := ScaledDimensions(srcW, srcH, l.config.MaxDimension)
	resized := w != srcW || h != srcH

	var nrgba *image.NRGBA
	if resized {
		nrgba = imaging.Resize(img, w, h, imaging.Lanczos)
	} else {
		nrgba = imaging.Clone(img)
	}

	buf, err := types.FromNRGBA(nrgba)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrDecode, err)
	}

	return &Result{
		Buffer:       buf,
		Format:       format,
		SourceWidth:  srcW,
		SourceHeight: srcH,
		Resized:      resized,
	}, nil
}

// ScaledDimensions returns the size an image of width x height is normalized to.
// When either side exceeds ceiling the longer side becomes ceiling and the
// shorter side is rounded from the same ratio.
func ScaledDimensions(width, height, ceiling int) (int, int) {
	if width <= ceiling && height <= ceiling {
		return width, height
	}

	if width > height {
		height = roundScaled(height, ceiling, width)
		width = ceiling
	} else {
		width = roundScaled(width, ceiling, height)
		height = ceiling
	}
	return width, height
}

func roundScaled(side, ceiling, longer int) int {
	v := int(math.Round(float64(side) * float64(ceiling) / float64(longer)))
	if v < 1 {
		return 1
	}
	return v
}

// decode identifies the container and decodes the image with WebP support
func (l *Loader) decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty input", types.ErrDecode)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		// Fallback: explicit WebP probe
		wcfg, werr := webp.DecodeConfig(bytes.NewReader(data))
		if werr != nil {
			return nil, "", fmt.Errorf("%w: unknown or unsupported format: %v", types.ErrDecode, err)
		}
		cfg, format = wcfg, "webp"
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > l.config.MaxPixels {
		return nil, "", fmt.Errorf("%w: %dx%d image exceeds %d pixel budget",
			types.ErrDecode, cfg.Width, cfg.Height, l.config.MaxPixels)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(l.config.AutoOrient))
	if err == nil {
		return img, format, nil
	}

	if format == "webp" {
		if img, werr := webp.Decode(bytes.NewReader(data)); werr == nil {
			return img, format, nil
		}
	}
	return nil, "", fmt.Errorf("%w: failed to decode %s image: %v", types.ErrDecode, format, err)
}
