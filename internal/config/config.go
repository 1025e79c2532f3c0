package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/menta2k/autocrop/pkg/bounds"
	"github.com/menta2k/autocrop/pkg/cropper"
	"github.com/menta2k/autocrop/pkg/loader"
	"github.com/menta2k/autocrop/pkg/pipeline"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "AUTOCROP_"

// Config holds the application configuration
type Config struct {
	Loader    LoaderConfig    `json:"loader"`
	Bounds    BoundsConfig    `json:"bounds"`
	Output    OutputConfig    `json:"output"`
	Segmenter SegmenterConfig `json:"segmenter"`
}

// LoaderConfig holds configuration for decoding and normalization
type LoaderConfig struct {
	MaxDimension int   `json:"max_dimension"`
	AutoOrient   bool  `json:"auto_orient"`
	MaxPixels    int64 `json:"max_pixels"`
}

// BoundsConfig holds configuration for subject bounds extraction
type BoundsConfig struct {
	AlphaThreshold int `json:"alpha_threshold"`
	Padding        int `json:"padding"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	Quality      int    `json:"quality"`
	LosslessWebP bool   `json:"lossless_webp"`
	OutputDir    string `json:"output_dir"`
	Suffix       string `json:"suffix"`
}

// SegmenterConfig selects and configures the segmentation backend
type SegmenterConfig struct {
	Backend     string   `json:"backend"`
	URL         string   `json:"url"`
	Model       string   `json:"model"`
	SendSize    int      `json:"send_size"`
	SendQuality int      `json:"send_quality"`
	Timeout     Duration `json:"timeout"`
}

// Duration is a time.Duration that reads and writes as a string such as "90s"
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int64
		if err2 := json.Unmarshal(data, &n); err2 != nil {
			return fmt.Errorf("invalid duration %s", data)
		}
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Backends understood by the segmenter factory
const (
	BackendSaliency = "saliency"
	BackendOllama   = "ollama"
	BackendLlamaCpp = "llamacpp"
)

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Loader: LoaderConfig{
			MaxDimension: loader.DefaultMaxDimension,
			AutoOrient:   true,
			MaxPixels:    loader.DefaultMaxPixels,
		},
		Bounds: BoundsConfig{
			AlphaThreshold: bounds.DefaultAlphaThreshold,
			Padding:        bounds.DefaultPadding,
		},
		Output: OutputConfig{
			Quality:      cropper.DefaultQuality,
			LosslessWebP: false,
			OutputDir:    "./output",
			Suffix:       "_autocrop",
		},
		Segmenter: SegmenterConfig{
			Backend:     BackendSaliency,
			URL:         "",
			Model:       "openbmb/minicpm-v4.5",
			SendSize:    1024,
			SendQuality: 85,
			Timeout:     Duration(300 * time.Second),
		},
	}
}

// LoadFromFile loads configuration from a JSON file on top of the defaults
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides fields from AUTOCROP_* variables looked up with getenv
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v := getenv(EnvPrefix + key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
		return nil
	}

	str("BACKEND", &c.Segmenter.Backend)
	str("SEGMENTER_URL", &c.Segmenter.URL)
	str("MODEL", &c.Segmenter.Model)
	str("OUTPUT_DIR", &c.Output.OutputDir)

	if err := num("QUALITY", &c.Output.Quality); err != nil {
		return err
	}
	if err := num("MAX_DIMENSION", &c.Loader.MaxDimension); err != nil {
		return err
	}
	if v := getenv(EnvPrefix + "TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sTIMEOUT: %w", EnvPrefix, err)
		}
		c.Segmenter.Timeout = Duration(d)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Loader.MaxDimension < 1 {
		return fmt.Errorf("loader.max_dimension must be positive")
	}

	if c.Loader.MaxPixels < 0 {
		return fmt.Errorf("loader.max_pixels cannot be negative")
	}

	if c.Bounds.AlphaThreshold < 0 || c.Bounds.AlphaThreshold > 254 {
		return fmt.Errorf("bounds.alpha_threshold must be between 0 and 254")
	}

	if c.Bounds.Padding < 0 {
		return fmt.Errorf("bounds.padding cannot be negative")
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}

	switch c.Segmenter.Backend {
	case BackendSaliency, BackendOllama, BackendLlamaCpp:
	default:
		return fmt.Errorf("segmenter.backend must be one of %s, %s, %s", BackendSaliency, BackendOllama, BackendLlamaCpp)
	}

	if c.Segmenter.Backend != BackendSaliency && c.Segmenter.Model == "" {
		return fmt.Errorf("segmenter.model is required for the %s backend", c.Segmenter.Backend)
	}

	if c.Segmenter.SendQuality < 1 || c.Segmenter.SendQuality > 100 {
		return fmt.Errorf("segmenter.send_quality must be between 1 and 100")
	}

	if c.Segmenter.Timeout < 0 {
		return fmt.Errorf("segmenter.timeout cannot be negative")
	}

	return nil
}

// Pipeline converts the stage sections to a pipeline configuration
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		Loader: loader.Config{
			MaxDimension: c.Loader.MaxDimension,
			AutoOrient:   c.Loader.AutoOrient,
			MaxPixels:    c.Loader.MaxPixels,
		},
		Bounds: bounds.Config{
			AlphaThreshold: uint8(c.Bounds.AlphaThreshold),
			Padding:        c.Bounds.Padding,
		},
		Cropper: cropper.CropConfig{
			Quality:      c.Output.Quality,
			LosslessWebP: c.Output.LosslessWebP,
		},
	}
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "autocrop", "config.json")
}
