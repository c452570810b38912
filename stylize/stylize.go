// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package stylize

import (
	"context"

	"github.com/born-ml/styletransfer/internal/config"
	"github.com/born-ml/styletransfer/internal/loss"
	"github.com/born-ml/styletransfer/internal/stylize"
	"github.com/born-ml/styletransfer/internal/vgg"
)

// Config describes one style transfer job.
type Config = config.Config

// DefaultConfig returns the default job configuration.
func DefaultConfig() Config {
	return config.Default()
}

// LoadConfig reads a YAML job file over the defaults.
func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}

// Result is the outcome of Run.
type Result = stylize.Result

// Progress is reported after every optimizer iteration.
type Progress = stylize.Progress

// Breakdown is the weighted value of each loss term.
type Breakdown = loss.Breakdown

// Option customises Run.
type Option = stylize.Option

// Extractor is a frozen VGG feature extractor.
type Extractor = vgg.Extractor

// Errors.
var (
	ErrInvalidImage     = stylize.ErrInvalidImage
	ErrShapeMismatch    = stylize.ErrShapeMismatch
	ErrBridgeProtocol   = stylize.ErrBridgeProtocol
	ErrOptimizerFailure = stylize.ErrOptimizerFailure
	ErrInvalidConfig    = stylize.ErrInvalidConfig
	ErrWeights          = stylize.ErrWeights
)

// Run executes the job described by cfg.
//
// Example:
//
//	res, err := stylize.Run(ctx, cfg,
//	    stylize.WithLogger(slog.Default()),
//	    stylize.WithProgress(func(p stylize.Progress) {
//	        fmt.Printf("iteration %d: %.4g\n", p.Iteration, p.Loss)
//	    }),
//	)
func Run(ctx context.Context, cfg Config, opts ...Option) (*Result, error) {
	return stylize.Run(ctx, cfg, opts...)
}

// Options.
var (
	WithLogger    = stylize.WithLogger
	WithExtractor = stylize.WithExtractor
	WithProgress  = stylize.WithProgress
	WithoutSave   = stylize.WithoutSave
)

// LoadExtractor reads pretrained VGG16 weights from a SafeTensors file.
func LoadExtractor(path string) (*Extractor, error) {
	return vgg.Load(path, vgg.VGG16())
}

// RandomExtractor builds a VGG16 extractor with random weights, with every
// channel count divided by scale. Useful for smoke tests without weights.
func RandomExtractor(scale int, seed int64) (*Extractor, error) {
	return vgg.NewRandom(vgg.VGG16().Scaled(scale), seed)
}

// Layers returns the names of the VGG16 layers usable as content or style
// layers.
func Layers() []string {
	return vgg.VGG16().LayerNames()
}
