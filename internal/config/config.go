// Package config defines the style transfer job configuration, its
// defaults and its YAML file form.
package config

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when a configuration fails validation.
var ErrInvalidConfig = errors.New("invalid config")

// Initialisation modes of the combination image.
const (
	InitNoise   = "noise"
	InitContent = "content"
)

// Style normalisation modes.
const (
	NormImage   = "image"
	NormFeature = "feature"
)

// DefaultStyleWeight applies to every style image without an explicit weight.
const DefaultStyleWeight = 4.0

// Config is one style transfer job.
type Config struct {
	ContentPath string   `yaml:"content_path"`
	StylePaths  []string `yaml:"style_paths,omitempty"`
	OutputPath  string   `yaml:"output_path"`
	WeightsPath string   `yaml:"weights_path"`

	Height int `yaml:"height"`
	Width  int `yaml:"width"`

	ContentWeight float64   `yaml:"content_weight"`
	StyleWeights  []float64 `yaml:"style_weights,omitempty"` // empty: DefaultStyleWeight each
	TVWeight      float64   `yaml:"tv_weight"`
	TVPower       float64   `yaml:"tv_power"`

	ContentLayer string   `yaml:"content_layer"`
	StyleLayers  []string `yaml:"style_layers"`
	StyleNorm    string   `yaml:"style_norm"`

	Iterations           int `yaml:"iterations"`
	MaxEvalsPerIteration int `yaml:"max_evals_per_iteration"`

	Init          string    `yaml:"init"`
	Seed          int64     `yaml:"seed"`
	PreserveColor bool      `yaml:"preserve_color"`
	SaveEvery     int       `yaml:"save_every"` // 0 disables snapshots
	Means         []float64 `yaml:"means"`      // BGR order
}

// Default returns the configuration used when nothing is overridden.
// Paths are left empty except the output.
func Default() Config {
	return Config{
		OutputPath:           "output.png",
		Height:               512,
		Width:                512,
		ContentWeight:        0.015,
		TVWeight:             0.5,
		TVPower:              1.25,
		ContentLayer:         "block2_conv2",
		StyleLayers:          []string{"block1_conv2", "block2_conv2", "block3_conv3"},
		StyleNorm:            NormImage,
		Iterations:           20,
		MaxEvalsPerIteration: 20,
		Init:                 InitNoise,
		Means:                []float64{103.939, 116.779, 123.68},
	}
}

// Load reads a YAML file over Default. Unknown keys are rejected.
// The result is not validated.
func Load(path string) (Config, error) {
	cfg := Default()

	//nolint:gosec // G304: config path comes from the caller
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, errors.Wrapf(ErrInvalidConfig, "parse %s: %v", path, err)
	}
	return cfg, nil
}

// Save writes cfg as YAML.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o600), "write config %s", path)
}

// ResolvedStyleWeights returns one weight per style path.
func (c Config) ResolvedStyleWeights() []float64 {
	if len(c.StyleWeights) > 0 {
		return append([]float64(nil), c.StyleWeights...)
	}
	w := make([]float64, len(c.StylePaths))
	for i := range w {
		w[i] = DefaultStyleWeight
	}
	return w
}

// Validate checks the configuration for values no job can run with.
// Layer names are checked against the extractor when the job starts.
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.Wrapf(ErrInvalidConfig, format, args...)
	}

	switch {
	case c.ContentPath == "":
		return invalid("content_path is required")
	case len(c.StylePaths) == 0:
		return invalid("at least one style path is required")
	case c.OutputPath == "":
		return invalid("output_path is required")
	case c.Height <= 0 || c.Width <= 0:
		return invalid("size must be positive, got %dx%d", c.Height, c.Width)
	case c.ContentWeight < 0 || c.TVWeight < 0:
		return invalid("weights must be non-negative (content %g, tv %g)", c.ContentWeight, c.TVWeight)
	case c.TVPower <= 0:
		return invalid("tv_power must be positive, got %g", c.TVPower)
	case len(c.StyleWeights) > 0 && len(c.StyleWeights) != len(c.StylePaths):
		return invalid("%d style weights for %d style images", len(c.StyleWeights), len(c.StylePaths))
	case c.ContentLayer == "":
		return invalid("content_layer is required")
	case len(c.StyleLayers) == 0:
		return invalid("at least one style layer is required")
	case c.Iterations <= 0 || c.MaxEvalsPerIteration <= 0:
		return invalid("iterations %d / max_evals_per_iteration %d", c.Iterations, c.MaxEvalsPerIteration)
	case c.SaveEvery < 0:
		return invalid("save_every must be non-negative, got %d", c.SaveEvery)
	case len(c.Means) != 3:
		return invalid("means must have 3 values, got %d", len(c.Means))
	}

	for i, w := range c.StyleWeights {
		if w < 0 {
			return invalid("style weight %d is negative: %g", i, w)
		}
	}
	if c.Init != InitNoise && c.Init != InitContent {
		return invalid("init must be %q or %q, got %q", InitNoise, InitContent, c.Init)
	}
	if c.StyleNorm != NormImage && c.StyleNorm != NormFeature {
		return invalid("style_norm must be %q or %q, got %q", NormImage, NormFeature, c.StyleNorm)
	}
	return nil
}
