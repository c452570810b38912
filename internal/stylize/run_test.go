package stylize

import (
	"context"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/styletransfer/internal/config"
	"github.com/born-ml/styletransfer/internal/imageio"
	"github.com/born-ml/styletransfer/internal/loader"
	"github.com/born-ml/styletransfer/internal/vgg"
)

func writeTestImage(t *testing.T, path string, size int, fill func(x, y int) color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetRGBA(x, y, fill(x, y))
		}
	}
	require.NoError(t, imageio.Save(path, img))
}

// testJob writes a content image and two style images into a temp dir.
func testJob(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.ContentPath = filepath.Join(dir, "content.png")
	cfg.StylePaths = []string{filepath.Join(dir, "stripes.png"), filepath.Join(dir, "checks.png")}
	cfg.OutputPath = filepath.Join(dir, "out", "result.png")
	cfg.Height, cfg.Width = 16, 16
	cfg.Iterations = 2
	cfg.MaxEvalsPerIteration = 3

	writeTestImage(t, cfg.ContentPath, 20, func(x, y int) color.RGBA {
		return color.RGBA{uint8(10 * x), uint8(10 * y), 90, 255}
	})
	writeTestImage(t, cfg.StylePaths[0], 16, func(x, _ int) color.RGBA {
		if x%4 < 2 {
			return color.RGBA{220, 40, 40, 255}
		}
		return color.RGBA{30, 30, 200, 255}
	})
	writeTestImage(t, cfg.StylePaths[1], 16, func(x, y int) color.RGBA {
		if (x/2+y/2)%2 == 0 {
			return color.RGBA{240, 240, 30, 255}
		}
		return color.RGBA{10, 90, 10, 255}
	})
	return cfg
}

func testExtractor(t *testing.T) *vgg.Extractor {
	t.Helper()
	e, err := vgg.NewRandom(vgg.VGG16().Scaled(16), 11)
	require.NoError(t, err)
	return e
}

func TestRun_WritesOutputAndSnapshots(t *testing.T) {
	cfg := testJob(t)
	cfg.SaveEvery = 1
	cfg.PreserveColor = true

	var progress []Progress
	res, err := Run(context.Background(), cfg,
		WithExtractor(testExtractor(t)),
		WithProgress(func(p Progress) { progress = append(progress, p) }))
	require.NoError(t, err)

	_, err = uuid.Parse(res.RunID)
	assert.NoError(t, err)
	assert.Equal(t, 2, res.Iterations)
	assert.LessOrEqual(t, res.Evaluations, 2*(3+1))
	assert.False(t, math.IsNaN(res.Loss))
	assert.InDelta(t, res.Loss, res.Breakdown.Total, 1e-9*math.Max(1, res.Loss))
	assert.Len(t, res.Breakdown.Style, 2)
	assert.Equal(t, image.Rect(0, 0, 16, 16), res.Image.Bounds())

	assert.FileExists(t, cfg.OutputPath)
	require.Len(t, progress, 2)
	for i, p := range progress {
		assert.Equal(t, res.RunID, p.RunID)
		assert.Equal(t, i, p.Iteration)
		assert.Equal(t, SnapshotPath(cfg.OutputPath, i+1), p.Snapshot)
		assert.FileExists(t, p.Snapshot)
	}
	assert.LessOrEqual(t, progress[1].Loss, progress[0].Loss)
}

func TestRun_DefaultIterationBudget(t *testing.T) {
	cfg := testJob(t)
	def := config.Default()
	cfg.Iterations = def.Iterations
	cfg.MaxEvalsPerIteration = def.MaxEvalsPerIteration

	var losses []float64
	res, err := Run(context.Background(), cfg,
		WithExtractor(testExtractor(t)),
		WithProgress(func(p Progress) { losses = append(losses, p.Loss) }),
		WithoutSave())
	require.NoError(t, err)

	assert.Equal(t, def.Iterations, res.Iterations)
	assert.LessOrEqual(t, res.Evaluations, def.Iterations*(def.MaxEvalsPerIteration+1))
	assert.False(t, math.IsInf(res.Loss, 0) || math.IsNaN(res.Loss))
	require.Len(t, losses, def.Iterations)
	for i := 1; i < len(losses); i++ {
		assert.LessOrEqual(t, losses[i], losses[i-1])
	}
}

func TestRun_ContentInitWithoutSave(t *testing.T) {
	cfg := testJob(t)
	cfg.Init = config.InitContent
	cfg.Iterations = 1

	res, err := Run(context.Background(), cfg, WithExtractor(testExtractor(t)), WithoutSave())
	require.NoError(t, err)
	assert.Empty(t, res.OutputPath)
	assert.NoFileExists(t, cfg.OutputPath)
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		opts   func(t *testing.T) []Option
		want   error
	}{
		{
			name:   "invalid config",
			mutate: func(c *config.Config) { c.TVPower = -1 },
			want:   ErrInvalidConfig,
		},
		{
			name:   "no weights",
			mutate: func(c *config.Config) {},
			opts:   func(*testing.T) []Option { return nil },
			want:   ErrInvalidConfig,
		},
		{
			name:   "unreadable weights",
			mutate: func(c *config.Config) { c.WeightsPath = filepath.Join(t.TempDir(), "missing.safetensors") },
			opts:   func(*testing.T) []Option { return nil },
			want:   ErrWeights,
		},
		{
			name:   "unknown layer",
			mutate: func(c *config.Config) { c.StyleLayers = []string{"block9_conv1"} },
			want:   ErrInvalidConfig,
		},
		{
			name:   "missing content",
			mutate: func(c *config.Config) { c.ContentPath = filepath.Join(filepath.Dir(c.ContentPath), "nope.png") },
			want:   ErrInvalidImage,
		},
		{
			name:   "image below minimum size",
			mutate: func(c *config.Config) { c.Height, c.Width = 2, 2 },
			want:   ErrShapeMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testJob(t)
			tt.mutate(&cfg)
			opts := []Option{WithExtractor(testExtractor(t))}
			if tt.opts != nil {
				opts = tt.opts(t)
			}
			_, err := Run(context.Background(), cfg, append(opts, WithoutSave())...)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, testJob(t), WithExtractor(testExtractor(t)), WithoutSave())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_RejectsMismatchedWeights(t *testing.T) {
	// Scaled-down weights do not fit the VGG16 the pipeline loads.
	path := filepath.Join(t.TempDir(), "partial.safetensors")
	require.NoError(t, testExtractor(t).Save(path))

	cfg := testJob(t)
	cfg.WeightsPath = path
	_, err := Run(context.Background(), cfg, WithoutSave())
	assert.ErrorIs(t, err, ErrWeights)
}

func TestRun_ErrorsKeepCause(t *testing.T) {
	t.Run("unknown layer", func(t *testing.T) {
		cfg := testJob(t)
		cfg.ContentLayer = "block9_conv9"
		_, err := Run(context.Background(), cfg, WithExtractor(testExtractor(t)), WithoutSave())
		assert.ErrorIs(t, err, ErrInvalidConfig)
		assert.ErrorIs(t, err, vgg.ErrUnknownLayer)
	})

	t.Run("corrupted weights", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "w.safetensors")
		require.NoError(t, testExtractor(t).Save(path))
		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		raw[len(raw)-1] ^= 0x01
		require.NoError(t, os.WriteFile(path, raw, 0o600))

		cfg := testJob(t)
		cfg.WeightsPath = path
		_, err = Run(context.Background(), cfg, WithoutSave())
		assert.ErrorIs(t, err, ErrWeights)
		assert.ErrorIs(t, err, loader.ErrChecksumMismatch)
	})
}

func TestSnapshotPath(t *testing.T) {
	assert.Equal(t, "out/result_iter_005.png", SnapshotPath("out/result.png", 5))
	assert.Equal(t, "result_iter_120", SnapshotPath("result", 120))
	assert.Equal(t, filepath.Join("a.b", "c_iter_001.jpg"), SnapshotPath(filepath.Join("a.b", "c.jpg"), 1))
}
