package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/styletransfer/internal/config"
	"github.com/born-ml/styletransfer/internal/loader"
	"github.com/born-ml/styletransfer/stylize"
)

// listFlag collects a repeatable or comma-separated string flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			*l = append(*l, s)
		}
	}
	return nil
}

// floatListFlag is a comma-separated list of floats.
type floatListFlag []float64

func (l *floatListFlag) String() string {
	parts := make([]string, len(*l))
	for i, v := range *l {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func (l *floatListFlag) Set(v string) error {
	*l = (*l)[:0]
	for _, s := range strings.Split(v, ",") {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return err
		}
		*l = append(*l, f)
	}
	return nil
}

// runFlags holds the run command's flags. Only flags given on the command
// line override the configuration file.
type runFlags struct {
	fs *flag.FlagSet

	configPath    string
	logFormat     string
	verbose       bool
	randomWeights int

	content, output, weights string
	styles                   listFlag
	styleWeights             floatListFlag
	styleLayers              listFlag
	height, width            int
	contentWeight, tvWeight  float64
	tvPower                  float64
	contentLayer, styleNorm  string
	iterations, maxEvals     int
	init                     string
	seed                     int64
	preserveColor            bool
	saveEvery                int
}

func newRunFlags(stderr io.Writer) *runFlags {
	d := config.Default()
	f := &runFlags{fs: flag.NewFlagSet("run", flag.ContinueOnError)}
	fs := f.fs
	fs.SetOutput(stderr)

	fs.StringVar(&f.configPath, "config", "", "YAML job file (flags override it)")
	fs.StringVar(&f.logFormat, "log-format", "text", "Log format: text or json")
	fs.BoolVar(&f.verbose, "v", false, "Debug logging")
	fs.IntVar(&f.randomWeights, "random-weights", 0, "Use random weights with channels divided by N instead of -weights (smoke runs)")

	fs.StringVar(&f.content, "content", "", "Content image")
	fs.Var(&f.styles, "style", "Style image (repeatable or comma-separated)")
	fs.StringVar(&f.output, "output", d.OutputPath, "Output image (.png, .jpg, .bmp, .tif)")
	fs.StringVar(&f.weights, "weights", "", "VGG16 SafeTensors weights")
	fs.IntVar(&f.height, "height", d.Height, "Output height")
	fs.IntVar(&f.width, "width", d.Width, "Output width")
	fs.Float64Var(&f.contentWeight, "content-weight", d.ContentWeight, "Content loss weight")
	fs.Var(&f.styleWeights, "style-weights", "Comma-separated weight per style image (default 4 each)")
	fs.Float64Var(&f.tvWeight, "tv-weight", d.TVWeight, "Total variation weight")
	fs.Float64Var(&f.tvPower, "tv-power", d.TVPower, "Total variation exponent")
	fs.StringVar(&f.contentLayer, "content-layer", d.ContentLayer, "Content layer")
	fs.Var(&f.styleLayers, "style-layers", "Comma-separated style layers (default "+strings.Join(d.StyleLayers, ",")+")")
	fs.StringVar(&f.styleNorm, "style-norm", d.StyleNorm, "Style normalisation: image or feature")
	fs.IntVar(&f.iterations, "iterations", d.Iterations, "Optimizer iterations")
	fs.IntVar(&f.maxEvals, "max-evals", d.MaxEvalsPerIteration, "Function evaluations per iteration")
	fs.StringVar(&f.init, "init", d.Init, "Initial image: noise or content")
	fs.Int64Var(&f.seed, "seed", d.Seed, "Noise seed")
	fs.BoolVar(&f.preserveColor, "preserve-color", d.PreserveColor, "Keep the content image's colours")
	fs.IntVar(&f.saveEvery, "save-every", d.SaveEvery, "Save a snapshot every N iterations (0 = never)")
	return f
}

// config parses args and returns the job configuration.
func (f *runFlags) config(args []string) (config.Config, error) {
	if err := f.fs.Parse(args); err != nil {
		return config.Config{}, err
	}
	if f.fs.NArg() > 0 {
		return config.Config{}, errors.Errorf("unexpected arguments: %v", f.fs.Args())
	}

	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return cfg, err
		}
	}

	overrides := map[string]func(){
		"content":        func() { cfg.ContentPath = f.content },
		"style":          func() { cfg.StylePaths = f.styles },
		"output":         func() { cfg.OutputPath = f.output },
		"weights":        func() { cfg.WeightsPath = f.weights },
		"height":         func() { cfg.Height = f.height },
		"width":          func() { cfg.Width = f.width },
		"content-weight": func() { cfg.ContentWeight = f.contentWeight },
		"style-weights":  func() { cfg.StyleWeights = f.styleWeights },
		"tv-weight":      func() { cfg.TVWeight = f.tvWeight },
		"tv-power":       func() { cfg.TVPower = f.tvPower },
		"content-layer":  func() { cfg.ContentLayer = f.contentLayer },
		"style-layers":   func() { cfg.StyleLayers = f.styleLayers },
		"style-norm":     func() { cfg.StyleNorm = f.styleNorm },
		"iterations":     func() { cfg.Iterations = f.iterations },
		"max-evals":      func() { cfg.MaxEvalsPerIteration = f.maxEvals },
		"init":           func() { cfg.Init = f.init },
		"seed":           func() { cfg.Seed = f.seed },
		"preserve-color": func() { cfg.PreserveColor = f.preserveColor },
		"save-every":     func() { cfg.SaveEvery = f.saveEvery },
	}
	f.fs.Visit(func(fl *flag.Flag) {
		if apply, ok := overrides[fl.Name]; ok {
			apply()
		}
	})
	return cfg, nil
}

func (f *runFlags) logger(w io.Writer) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if f.verbose {
		opts.Level = slog.LevelDebug
	}
	switch f.logFormat {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, errors.Errorf("unknown log format %q", f.logFormat)
}

func runCommand(args []string, stdout, stderr io.Writer) error {
	f := newRunFlags(stderr)
	cfg, err := f.config(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	logger, err := f.logger(stderr)
	if err != nil {
		return err
	}

	opts := []stylize.Option{stylize.WithLogger(logger)}
	if f.randomWeights > 0 {
		e, err := stylize.RandomExtractor(f.randomWeights, cfg.Seed)
		if err != nil {
			return err
		}
		opts = append(opts, stylize.WithExtractor(e))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := stylize.Run(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(stderr, "warning: %v\n", w)
	}
	fmt.Fprintf(stdout, "%s\n%s\n", res.OutputPath, res.Breakdown)
	return nil
}

func layersCommand(stdout io.Writer) error {
	for _, name := range stylize.Layers() {
		fmt.Fprintln(stdout, name)
	}
	return nil
}

func inspectCommand(args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: stylize inspect WEIGHTS.safetensors")
	}
	r, err := loader.NewSafeTensorsReader(args[0])
	if err != nil {
		return err
	}
	defer r.Close()

	names := r.TensorNames()
	layout := "unknown"
	if m, err := loader.DetectMapper(names); err == nil {
		layout = m.Layout()
	}
	fmt.Fprintf(stdout, "%s: %d tensors, %s layout\n", args[0], len(names), layout)
	meta := r.Metadata()
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(stdout, "  # %s = %s\n", k, meta[k])
	}
	for _, name := range names {
		info, err := r.TensorInfo(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "  %-28s %-4s %v\n", name, info.DType, info.Shape)
	}
	return nil
}

func initConfigCommand(args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: stylize init-config PATH.yaml")
	}
	if err := config.Save(args[0], config.Default()); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s\n", args[0])
	return nil
}
