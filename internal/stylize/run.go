// Package stylize runs a complete style transfer job: load images and
// weights, build the objective, drive L-BFGS and write the result.
package stylize

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math/rand"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/born-ml/styletransfer/internal/config"
	"github.com/born-ml/styletransfer/internal/imageio"
	"github.com/born-ml/styletransfer/internal/loss"
	"github.com/born-ml/styletransfer/internal/optim"
	"github.com/born-ml/styletransfer/internal/tensor"
	"github.com/born-ml/styletransfer/internal/vgg"
)

// Progress is reported after every outer iteration.
type Progress struct {
	RunID       string
	Iteration   int // 0-based
	Loss        float64
	Breakdown   loss.Breakdown // of the best point so far
	Evaluations int
	Duration    time.Duration
	Snapshot    string // path written this iteration, if any
}

// Result is the outcome of a job.
type Result struct {
	RunID       string
	Image       *image.RGBA
	OutputPath  string
	Loss        float64
	Breakdown   loss.Breakdown
	Iterations  int
	Evaluations int
	Warnings    []error
}

type options struct {
	logger     *slog.Logger
	extractor  *vgg.Extractor
	onProgress func(Progress)
	noSave     bool
}

// Option customises Run.
type Option func(*options)

// WithLogger sets the logger. Records carry the job's run_id.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithExtractor uses e instead of loading cfg.WeightsPath.
// Run truncates e to the configured layers.
func WithExtractor(e *vgg.Extractor) Option {
	return func(o *options) { o.extractor = e }
}

// WithProgress registers a callback invoked after every iteration.
func WithProgress(fn func(Progress)) Option {
	return func(o *options) { o.onProgress = fn }
}

// WithoutSave skips writing the output image and snapshots.
func WithoutSave() Option {
	return func(o *options) { o.noSave = true }
}

// Run executes the job described by cfg.
func Run(ctx context.Context, cfg config.Config, opts ...Option) (*Result, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	log := o.logger.With("run_id", runID)
	means := imageio.Means{cfg.Means[0], cfg.Means[1], cfg.Means[2]}

	composer := &loss.Composer{
		Weights: loss.Weights{
			Content:        cfg.ContentWeight,
			Styles:         cfg.ResolvedStyleWeights(),
			TotalVariation: cfg.TVWeight,
		},
		ContentLayer: cfg.ContentLayer,
		StyleLayers:  cfg.StyleLayers,
		TVPower:      cfg.TVPower,
		Norm:         loss.StyleNorm(cfg.StyleNorm),
	}

	extractor, err := openExtractor(cfg, o.extractor, log)
	if err != nil {
		return nil, err
	}
	if err := extractor.Truncate(composer.Layers()...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	start := time.Now()
	content, err := imageio.LoadAndPrepare(cfg.ContentPath, cfg.Height, cfg.Width, means)
	if err != nil {
		return nil, errors.Wrap(err, "content image")
	}
	styles := make([]*tensor.RawTensor, len(cfg.StylePaths))
	for i, path := range cfg.StylePaths {
		styles[i], err = imageio.LoadAndPrepare(path, cfg.Height, cfg.Width, means)
		if err != nil {
			return nil, errors.Wrapf(err, "style image %d", i)
		}
	}
	log.Info("images loaded", "content", cfg.ContentPath, "styles", len(styles),
		"height", cfg.Height, "width", cfg.Width, "duration", time.Since(start))

	start = time.Now()
	graph, err := NewGraph(extractor, composer, content, styles)
	if err != nil {
		return nil, err
	}
	log.Info("targets extracted", "depth", extractor.Depth(), "duration", time.Since(start))

	x0 := initialImage(cfg, content)
	var colorRef image.Image
	if cfg.PreserveColor {
		if colorRef, err = imageio.Unprepare(content, means); err != nil {
			return nil, err
		}
	}

	driver := optim.NewDriver(optim.Settings{
		Iterations:     cfg.Iterations,
		MaxEvaluations: cfg.MaxEvalsPerIteration,
		Logger:         log,
		OnIteration: func(it optim.Iteration) error {
			p := Progress{
				RunID:       runID,
				Iteration:   it.Index,
				Loss:        it.Loss,
				Breakdown:   graph.Best(),
				Evaluations: it.Evaluations,
				Duration:    it.Duration,
			}
			if !o.noSave && cfg.SaveEvery > 0 && (it.Index+1)%cfg.SaveEvery == 0 {
				p.Snapshot = SnapshotPath(cfg.OutputPath, it.Index+1)
				if err := writeImage(p.Snapshot, it.X, graph.Shape(), means, colorRef); err != nil {
					return err
				}
				log.Info("snapshot saved", "path", p.Snapshot)
			}
			log.Debug("loss breakdown", "iteration", it.Index, "breakdown", p.Breakdown.String())
			if o.onProgress != nil {
				o.onProgress(p)
			}
			return nil
		},
	})

	opt, err := driver.Minimize(ctx, graph, x0)
	if err != nil {
		return nil, err
	}

	out, err := finalImage(opt.X, graph.Shape(), means, colorRef)
	if err != nil {
		return nil, err
	}

	res := &Result{
		RunID:       runID,
		Image:       out,
		Loss:        opt.Loss,
		Breakdown:   graph.Best(),
		Iterations:  opt.Iterations,
		Evaluations: opt.Evaluations,
		Warnings:    opt.Warnings,
	}
	if !o.noSave {
		if err := imageio.Save(cfg.OutputPath, out); err != nil {
			return nil, err
		}
		res.OutputPath = cfg.OutputPath
	}
	log.Info("done", "loss", res.Loss, "iterations", res.Iterations,
		"evaluations", res.Evaluations, "warnings", len(res.Warnings), "output", res.OutputPath)
	return res, nil
}

func openExtractor(cfg config.Config, injected *vgg.Extractor, log *slog.Logger) (*vgg.Extractor, error) {
	if injected != nil {
		return injected, nil
	}
	if cfg.WeightsPath == "" {
		return nil, errors.Wrap(ErrInvalidConfig, "weights_path is required")
	}

	start := time.Now()
	e, err := vgg.Load(cfg.WeightsPath, vgg.VGG16())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWeights, err)
	}
	log.Info("weights loaded", "path", cfg.WeightsPath, "duration", time.Since(start))
	return e, nil
}

// initialImage returns the optimizer's start vector in prepared space.
func initialImage(cfg config.Config, content *tensor.RawTensor) []float64 {
	if cfg.Init == config.InitContent {
		return content.Float64()
	}
	rng := rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec // noise init is not security-critical
	x := make([]float64, content.NumElements())
	for i := range x {
		x[i] = rng.Float64()*255 - 128
	}
	return x
}

func finalImage(x []float64, shape tensor.Shape, means imageio.Means, colorRef image.Image) (*image.RGBA, error) {
	t, err := tensor.FromFloat64(x, shape)
	if err != nil {
		return nil, err
	}
	out, err := imageio.Unprepare(t, means)
	if err != nil {
		return nil, err
	}
	if colorRef != nil {
		return imageio.PreserveColor(out, colorRef)
	}
	return out, nil
}

func writeImage(path string, x []float64, shape tensor.Shape, means imageio.Means, colorRef image.Image) error {
	img, err := finalImage(x, shape, means, colorRef)
	if err != nil {
		return err
	}
	return imageio.Save(path, img)
}

// SnapshotPath returns the progress image path for iteration n:
// "out/result.png" becomes "out/result_iter_005.png".
func SnapshotPath(output string, n int) string {
	ext := filepath.Ext(output)
	return fmt.Sprintf("%s_iter_%03d%s", strings.TrimSuffix(output, ext), n, ext)
}
