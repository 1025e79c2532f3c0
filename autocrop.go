// Package autocrop trims an image down to its subject.
//
// A segmenter produces a per-pixel mask for the image, the mask is turned
// into transparency, and the padded bounds of the opaque region become the
// crop. Processing never fails from the caller's point of view: if any stage
// goes wrong the original bytes come back untouched.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"log"
//		"os"
//
//		"github.com/menta2k/autocrop"
//	)
//
//	func main() {
//		input, err := os.ReadFile("photo.jpg")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		output := autocrop.New().AutoCrop(context.Background(), input)
//
//		if err := os.WriteFile("photo_autocrop.jpg", output, 0644); err != nil {
//			log.Fatal(err)
//		}
//	}
//
// The package consists of these components:
//
//  1. Loader (pkg/loader): decodes and caps the long side at 1024 pixels
//  2. Segment (pkg/segment): local saliency or a remote vision model
//  3. Mask (pkg/mask): writes the inverted mask into the alpha channel
//  4. Bounds (pkg/bounds): finds and pads the opaque region
//  5. Cropper (pkg/cropper): crops and re-encodes in the input's format
//  6. Pipeline (pkg/pipeline): sequences the stages and handles fallback
package autocrop

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/menta2k/autocrop/internal/utils"
	"github.com/menta2k/autocrop/pkg/cropper"
	"github.com/menta2k/autocrop/pkg/pipeline"
	"github.com/menta2k/autocrop/pkg/segment"
)

// Version of the autocrop library
const Version = "1.0.0"

// AutoCropper provides a high-level interface over the crop pipeline
type AutoCropper struct {
	pipeline *pipeline.Pipeline
}

// New creates an AutoCropper with default configuration and the local
// saliency segmenter
func New() *AutoCropper {
	return NewWithConfig(pipeline.DefaultConfig(), segment.NewSaliency(), nil)
}

// NewWithConfig creates an AutoCropper with custom stage configuration.
// A nil logger discards all log output.
func NewWithConfig(config pipeline.Config, segmenter segment.Segmenter, logger *zap.Logger) *AutoCropper {
	return &AutoCropper{
		pipeline: pipeline.NewWithConfig(segmenter, config, pipeline.WithLogger(logger)),
	}
}

var defaultCropper = sync.OnceValue(New)

// AutoCrop processes input with a shared default AutoCropper
func AutoCrop(ctx context.Context, input []byte) []byte {
	return defaultCropper().AutoCrop(ctx, input)
}

// AutoCrop returns the cropped image, or input itself if processing failed
func (a *AutoCropper) AutoCrop(ctx context.Context, input []byte) []byte {
	return a.pipeline.AutoCrop(ctx, input)
}

// Run processes input and reports the full outcome
func (a *AutoCropper) Run(ctx context.Context, input []byte) *pipeline.Result {
	return a.pipeline.Run(ctx, input)
}

// AutoCropReader reads all of reader and crops it. Only a read failure is
// returned as an error.
func (a *AutoCropper) AutoCropReader(ctx context.Context, reader io.Reader) ([]byte, error) {
	input, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return a.AutoCrop(ctx, input), nil
}

// AutoCropFile crops inputPath and writes the result to outputPath
func (a *AutoCropper) AutoCropFile(ctx context.Context, inputPath, outputPath string) error {
	input, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to load image: %w", err)
	}
	return writeOutput(outputPath, a.AutoCrop(ctx, input))
}

// ProcessImageFile crops inputPath into outputDir as <name><suffix>.<ext>,
// where ext matches the written container. It returns the pipeline result
// and the path written.
func (a *AutoCropper) ProcessImageFile(ctx context.Context, inputPath, outputDir, suffix string) (*pipeline.Result, string, error) {
	input, err := os.ReadFile(inputPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load image: %w", err)
	}

	res := a.Run(ctx, input)
	outputPath := utils.GenerateOutputFilename(inputPath, outputDir, suffix, OutputExtension(res))
	if err := writeOutput(outputPath, res.Output); err != nil {
		return res, "", err
	}
	return res, outputPath, nil
}

// OutputExtension returns the file extension for res.Output. Fallback
// output is the original file, so it keeps the input's extension.
func OutputExtension(res *pipeline.Result) string {
	if res.State != pipeline.Done {
		return ""
	}
	return cropper.Extension(res.Format)
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}

func writeOutput(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := utils.EnsureDir(dir); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to save image: %w", err)
	}
	return nil
}
