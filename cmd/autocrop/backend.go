package main

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/menta2k/autocrop/internal/config"
	"github.com/menta2k/autocrop/pkg/detection"
	"github.com/menta2k/autocrop/pkg/llamacpp"
	"github.com/menta2k/autocrop/pkg/ollama"
	"github.com/menta2k/autocrop/pkg/segment"
)

// newSegmenter builds the segmenter selected by cfg.Segmenter.Backend.
// For model backends it also returns the detector so the caller can probe it.
func newSegmenter(cfg config.SegmenterConfig, logger *zap.Logger) (segment.Segmenter, *detection.Detector, error) {
	var visionClient detection.Client
	timeout := time.Duration(cfg.Timeout)

	switch cfg.Backend {
	case config.BackendSaliency:
		logger.Info("using local saliency segmenter")
		return segment.NewSaliency(), nil, nil
	case config.BackendOllama:
		url := cfg.URL
		if url == "" {
			url = ollama.DefaultURL
		}
		c, err := ollama.NewClient(url)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		c.SetTimeout(timeout)
		visionClient = c
		logger.Info("using Ollama segmenter", zap.String("url", url), zap.String("model", cfg.Model))
	case config.BackendLlamaCpp:
		url := cfg.URL
		if url == "" {
			url = llamacpp.DefaultURL
		}
		c, err := llamacpp.NewClient(url)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		c.SetTimeout(timeout)
		visionClient = c
		logger.Info("using llama.cpp segmenter", zap.String("url", url), zap.String("model", cfg.Model))
	default:
		return nil, nil, fmt.Errorf("unknown backend: %s (use %s, %s or %s)",
			cfg.Backend, config.BackendSaliency, config.BackendOllama, config.BackendLlamaCpp)
	}

	detector := detection.NewDetector(visionClient)
	seg := segment.NewVision(detector, segment.VisionConfig{
		Model:       cfg.Model,
		SendSize:    cfg.SendSize,
		SendQuality: cfg.SendQuality,
	})
	return seg, detector, nil
}
