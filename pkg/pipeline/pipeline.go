// Package pipeline sequences loading, segmentation, compositing, bounds
// extraction and cropping for one image, falling back to the untouched input
// whenever a stage fails.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/menta2k/autocrop/pkg/bounds"
	"github.com/menta2k/autocrop/pkg/cropper"
	"github.com/menta2k/autocrop/pkg/loader"
	"github.com/menta2k/autocrop/pkg/mask"
	"github.com/menta2k/autocrop/pkg/segment"
	"github.com/menta2k/autocrop/pkg/types"
)

// Config holds the per-stage configuration of a pipeline
type Config struct {
	Loader  loader.Config
	Bounds  bounds.Config
	Cropper cropper.CropConfig
}

// DefaultConfig returns the stage defaults: a 1024px ceiling, alpha above 50,
// 20px padding and quality 90.
func DefaultConfig() Config {
	return Config{
		Loader: loader.Config{
			MaxDimension: loader.DefaultMaxDimension,
			AutoOrient:   true,
			MaxPixels:    loader.DefaultMaxPixels,
		},
		Bounds: bounds.Config{
			AlphaThreshold: bounds.DefaultAlphaThreshold,
			Padding:        bounds.DefaultPadding,
		},
		Cropper: cropper.CropConfig{
			Quality: cropper.DefaultQuality,
		},
	}
}

// Pipeline is immutable after construction and safe for concurrent use;
// every Run owns its own buffers.
type Pipeline struct {
	loader    *loader.Loader
	extractor *bounds.Extractor
	cropper   *cropper.Cropper
	segmenter segment.Segmenter
	logger    *zap.Logger
}

// Option customizes a Pipeline
type Option func(*Pipeline)

// WithLogger sets the logger used for stage and fallback events
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a pipeline with default configuration around segmenter
func New(segmenter segment.Segmenter, opts ...Option) *Pipeline {
	return NewWithConfig(segmenter, DefaultConfig(), opts...)
}

// NewWithConfig creates a pipeline with custom stage configuration
func NewWithConfig(segmenter segment.Segmenter, config Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		loader:    loader.NewWithConfig(config.Loader),
		extractor: bounds.NewWithConfig(config.Bounds),
		cropper:   cropper.NewWithConfig(config.Cropper),
		segmenter: segmenter,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Result describes the outcome of one invocation
type Result struct {
	// Output is the encoded crop, the re-encoded uncropped image when no
	// subject was found, or the original input on fallback.
	Output []byte
	// State is Done or Fallback.
	State State
	// Trace lists every state entered, starting with Loading.
	Trace []State
	// Format is the input container, empty if decoding failed.
	Format string
	// Box is the crop rectangle, nil when nothing was cropped.
	Box *types.BoundingBox
	// Width and Height describe Output; both are zero on fallback.
	Width  int
	Height int
	// Masked is the composited canvas once Compositing succeeded. It is
	// kept for diagnostics such as debug overlays.
	Masked *types.PixelBuffer
	// Err is the cause of a fallback. It is informational only.
	Err error
}

// Cropped reports whether Output is a crop of the input.
func (r *Result) Cropped() bool {
	return r.State == Done && r.Box != nil
}

// AutoCrop runs the pipeline and returns only the output bytes
func (p *Pipeline) AutoCrop(ctx context.Context, input []byte) []byte {
	return p.Run(ctx, input).Output
}

// Run processes input once. It never fails: any stage error moves the
// invocation to Fallback, which returns input unchanged.
func (p *Pipeline) Run(ctx context.Context, input []byte) (res *Result) {
	res = &Result{State: Idle}

	defer func() {
		if r := recover(); r != nil {
			p.fallback(res, input, fmt.Errorf("panic during %s: %v", res.State, r))
		}
	}()

	p.enter(res, Loading)
	loaded, err := p.loader.Load(input)
	if err != nil {
		return p.fallback(res, input, err)
	}
	res.Format = loaded.Format
	buf := loaded.Buffer

	p.enter(res, Segmenting)
	m, err := p.segment(ctx, buf)
	if err != nil {
		return p.fallback(res, input, err)
	}

	p.enter(res, Compositing)
	masked, err := mask.Composite(buf, m)
	if err != nil {
		return p.fallback(res, input, err)
	}
	res.Masked = masked

	p.enter(res, BoundsScan)
	box, err := p.extractor.Extract(masked)
	if err != nil {
		return p.fallback(res, input, err)
	}
	if box == nil {
		p.logger.Info("no subject found, keeping full frame",
			zap.Int("width", buf.Width), zap.Int("height", buf.Height))
		out, err := p.cropper.Encode(buf, loaded.Format)
		if err != nil {
			return p.fallback(res, input, err)
		}
		return p.done(res, out, buf)
	}
	p.logger.Info("subject bounds found", zap.Stringer("box", box),
		zap.Int("width", buf.Width), zap.Int("height", buf.Height))

	p.enter(res, Cropping)
	out, cropped, err := p.cropper.CropAndEncode(buf, *box, loaded.Format)
	if err != nil {
		return p.fallback(res, input, err)
	}
	res.Box = box
	return p.done(res, out, cropped)
}

// segment calls the collaborator exactly once and checks its output
func (p *Pipeline) segment(ctx context.Context, buf *types.PixelBuffer) (types.ForegroundMask, error) {
	if p.segmenter == nil {
		return nil, fmt.Errorf("%w: no segmenter configured", types.ErrSegmentation)
	}

	m, err := p.segmenter.Segment(ctx, buf)
	if err != nil {
		if errors.Is(err, types.ErrSegmentation) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", types.ErrSegmentation, err)
	}
	if err := segment.CheckValues(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (p *Pipeline) enter(res *Result, state State) {
	res.State = state
	res.Trace = append(res.Trace, state)
	p.logger.Debug("auto-crop stage", zap.Stringer("state", state))
}

func (p *Pipeline) done(res *Result, out []byte, buf *types.PixelBuffer) *Result {
	p.enter(res, Done)
	res.Output = out
	res.Width, res.Height = buf.Width, buf.Height
	return res
}

func (p *Pipeline) fallback(res *Result, input []byte, err error) *Result {
	p.logger.Warn("auto-crop failed, returning original image",
		zap.Stringer("stage", res.State), zap.Error(err))
	p.enter(res, Fallback)
	res.Output = input
	res.Box = nil
	res.Width, res.Height = 0, 0
	res.Err = err
	return res
}
