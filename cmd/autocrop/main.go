package main

import (
	"context"
	"flag"
	"fmt"
	"image/color"
	"net/url"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/disintegration/imaging"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/menta2k/autocrop"
	"github.com/menta2k/autocrop/internal/config"
	"github.com/menta2k/autocrop/internal/utils"
	"github.com/menta2k/autocrop/pkg/detection"
	"github.com/menta2k/autocrop/pkg/llamacpp"
	"github.com/menta2k/autocrop/pkg/ollama"
	"github.com/menta2k/autocrop/pkg/processing"
	"github.com/menta2k/autocrop/pkg/segment"
)

type options struct {
	in         string
	configPath string
	workers    int
	debug      bool
	probe      bool
	logMode    string
}

func main() {
	var opts options
	var outDir, backend, serverURL, model string
	var quality int
	var lossless bool

	flag.StringVar(&opts.in, "in", "", "input image path, directory or URL (jpg/png/gif/bmp/tiff/webp)")
	flag.StringVar(&outDir, "out", "", "output directory (default from config: ./output)")
	flag.StringVar(&opts.configPath, "config", "", "JSON config file (default "+config.GetConfigPath()+" if present)")
	flag.StringVar(&backend, "backend", "", "segmenter backend: saliency|ollama|llamacpp")
	flag.StringVar(&serverURL, "url", "", fmt.Sprintf("model server URL (defaults: ollama=%s, llamacpp=%s)", ollama.DefaultURL, llamacpp.DefaultURL))
	flag.StringVar(&model, "model", "", "vision model name")
	flag.IntVar(&quality, "quality", 0, "JPEG/WebP output quality (1-100)")
	flag.BoolVar(&lossless, "lossless", false, "WebP output lossless mode")
	flag.IntVar(&opts.workers, "workers", runtime.NumCPU(), "images processed concurrently for directory input")
	flag.BoolVar(&opts.debug, "debug", false, "write a PNG overlay of the mask and crop box next to each output")
	flag.BoolVar(&opts.probe, "probe", false, "check the vision model responds before processing")
	flag.StringVar(&opts.logMode, "log-mode", "debug", "logger mode: release|debug")
	flag.Parse()

	if opts.in == "" {
		fmt.Fprintf(os.Stderr, "usage: %s -in input.jpg|dir|URL [-backend saliency|ollama|llamacpp] [-url server_url] [-model name] [-out outdir] [-debug]\n", filepath.Base(os.Args[0]))
		os.Exit(2)
	}

	// Missing .env is fine
	_ = godotenv.Load()

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "out":
			cfg.Output.OutputDir = outDir
		case "backend":
			cfg.Segmenter.Backend = backend
		case "url":
			cfg.Segmenter.URL = serverURL
		case "model":
			cfg.Segmenter.Model = model
		case "quality":
			cfg.Output.Quality = quality
		case "lossless":
			cfg.Output.LosslessWebP = lossless
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(opts.logMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.Sync(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, opts, logger); err != nil {
		logger.Error("autocrop failed", zap.Error(err))
		utils.Sync(logger)
		os.Exit(1)
	}
}

// loadConfig reads path, or the default config file when it exists, then
// applies AUTOCROP_* environment overrides
func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if path == "" && utils.FileExists(config.GetConfigPath()) {
		path = config.GetConfigPath()
	}
	if path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, opts options, logger *zap.Logger) error {
	seg, detector, err := newSegmenter(cfg.Segmenter, logger)
	if err != nil {
		return err
	}
	if opts.probe && detector != nil {
		if err := probe(ctx, detector, cfg.Segmenter.Model, logger); err != nil {
			return err
		}
	}

	if cfg.Output.OutputDir == "" {
		cfg.Output.OutputDir = "."
	}
	root, sources, err := collectSources(opts.in, cfg.Output.OutputDir)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return fmt.Errorf("no images found in %s", opts.in)
	}
	if err := utils.EnsureDir(cfg.Output.OutputDir); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	b := &batch{
		cropper:   autocrop.NewWithConfig(cfg.Pipeline(), seg, logger),
		processor: processing.NewProcessor(),
		root:      root,
		outDir:    cfg.Output.OutputDir,
		suffix:    cfg.Output.Suffix,
		debug:     opts.debug,
		logger:    logger,
	}
	b.process(ctx, sources, opts.workers)

	logger.Info("batch finished",
		zap.Int("images", len(sources)),
		zap.Int64("cropped", b.cropped.Load()),
		zap.Int64("failed", b.failed.Load()))
	if n := b.failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d images could not be processed", n, len(sources))
	}
	return nil
}

// probe sends a small image to the model to confirm it is reachable
func probe(ctx context.Context, detector *detection.Detector, model string, logger *zap.Logger) error {
	img := imaging.New(64, 64, color.NRGBA{R: 200, G: 60, B: 60, A: 255})
	imgB64, err := segment.PrepareImageForModel(img, 0, 85)
	if err != nil {
		return err
	}
	reply, err := detector.TestVision(ctx, model, imgB64)
	if err != nil {
		return fmt.Errorf("vision probe failed: %w", err)
	}
	logger.Info("vision probe ok", zap.String("reply", strings.TrimSpace(reply)))
	return nil
}

// collectSources expands in into the list of images to process. For a
// directory it also returns the directory as the root that output paths are
// mirrored from; outDir is left out of the walk.
func collectSources(in, outDir string) (string, []string, error) {
	if processing.IsURL(in) {
		return "", []string{in}, nil
	}
	if utils.DirExists(in) {
		sources, err := utils.ListImageFiles(in, outDir)
		return in, sources, err
	}
	if !utils.FileExists(in) {
		return "", nil, fmt.Errorf("input not found: %s", in)
	}
	return "", []string{in}, nil
}

// sourceName returns a file name to derive the output name from
func sourceName(source string) string {
	if processing.IsURL(source) {
		if u, err := url.Parse(source); err == nil {
			if base := path.Base(u.Path); base != "/" && base != "." {
				return base
			}
		}
		return "image"
	}
	return filepath.Base(source)
}

type batch struct {
	cropper   *autocrop.AutoCropper
	processor *processing.Processor
	root      string
	outDir    string
	suffix    string
	debug     bool
	logger    *zap.Logger

	mu      sync.Mutex
	claimed map[string]bool

	cropped atomic.Int64
	failed  atomic.Int64
}

// outputDir mirrors the directory of source relative to root under outDir
func (b *batch) outputDir(source string) string {
	if b.root == "" || processing.IsURL(source) {
		return b.outDir
	}
	rel, err := filepath.Rel(b.root, filepath.Dir(source))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return b.outDir
	}
	return filepath.Join(b.outDir, rel)
}

// claim reserves path for one source. A path already taken in this batch,
// such as a.jpg and a.jpeg both becoming a_autocrop.jpg, gets a numeric
// suffix instead.
func (b *batch) claim(path string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.claimed == nil {
		b.claimed = make(map[string]bool)
	}

	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	candidate := path
	for n := 2; b.claimed[candidate]; n++ {
		candidate = fmt.Sprintf("%s-%d%s", stem, n, ext)
	}
	b.claimed[candidate] = true
	return candidate
}

// process runs independent invocations over sources with at most workers
// in flight
func (b *batch) process(ctx context.Context, sources []string, workers int) {
	if workers < 1 {
		workers = 1
	}
	if workers > len(sources) {
		workers = len(sources)
	}

	jobs := make(chan string)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for source := range jobs {
				if err := b.processOne(ctx, source); err != nil {
					b.failed.Add(1)
					b.logger.Error("image failed", zap.String("source", source), zap.Error(err))
				}
			}
		}()
	}

	for _, source := range sources {
		select {
		case jobs <- source:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()
}

func (b *batch) processOne(ctx context.Context, source string) error {
	input, err := b.processor.LoadSource(ctx, source)
	if err != nil {
		return err
	}

	res := b.cropper.Run(ctx, input)
	name := sourceName(source)
	dir := b.outputDir(source)
	if err := utils.EnsureDir(dir); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	wanted := utils.GenerateOutputFilename(name, dir, b.suffix, autocrop.OutputExtension(res))
	outputPath := b.claim(wanted)
	if outputPath != wanted {
		b.logger.Warn("output name already used in this batch", zap.String("source", source),
			zap.String("wanted", wanted), zap.String("output", outputPath))
	}
	if err := os.WriteFile(outputPath, res.Output, 0o644); err != nil {
		return fmt.Errorf("failed to save %s: %w", outputPath, err)
	}

	fields := []zap.Field{
		zap.String("source", source),
		zap.String("output", outputPath),
		zap.Stringer("state", res.State),
		zap.String("size", utils.FormatFileSize(int64(len(res.Output)))),
	}
	if res.Box != nil {
		fields = append(fields, zap.Stringer("box", res.Box))
	}
	if res.Err != nil {
		fields = append(fields, zap.NamedError("cause", res.Err))
	}
	b.logger.Info("wrote image", fields...)
	if res.Cropped() {
		b.cropped.Add(1)
	}

	if b.debug && res.Masked != nil {
		overlay := b.processor.CreateDebugOverlay(res.Masked, res.Box)
		dbgPath := b.claim(utils.GenerateOutputFilename(name, dir, b.suffix+"_debug", "png"))
		if err := b.processor.SaveImage(overlay, dbgPath); err != nil {
			b.logger.Warn("debug overlay save failed", zap.String("path", dbgPath), zap.Error(err))
		} else {
			b.logger.Debug("wrote debug overlay", zap.String("path", dbgPath))
		}
	}
	return nil
}
