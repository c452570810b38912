package stylize

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/styletransfer/internal/imageio"
	"github.com/born-ml/styletransfer/internal/loss"
	"github.com/born-ml/styletransfer/internal/optim"
	"github.com/born-ml/styletransfer/internal/tensor"
	"github.com/born-ml/styletransfer/internal/vgg"
)

func smallExtractor(t *testing.T, layers ...string) *vgg.Extractor {
	t.Helper()
	e, err := vgg.NewRandom(vgg.VGG16().Scaled(16), 7)
	require.NoError(t, err)
	require.NoError(t, e.Truncate(layers...))
	return e
}

func constantImage(h, w int, v float32) *tensor.RawTensor {
	img, _ := tensor.Full(tensor.Shape{h, w, 3}, v)
	return img
}

func randomImage(rng *rand.Rand, h, w int, scale float64) *tensor.RawTensor {
	img := tensor.MustNewRaw(tensor.Shape{h, w, 3})
	for i := range img.Data() {
		img.Data()[i] = float32((rng.Float64()*2 - 1) * scale)
	}
	return img
}

func TestNewGraph_Errors(t *testing.T) {
	e := smallExtractor(t, vgg.InputLayer)
	c := &loss.Composer{
		Weights:      loss.Weights{Content: 1, Styles: []float64{1, 1}},
		ContentLayer: vgg.InputLayer,
		StyleLayers:  []string{vgg.InputLayer},
		TVPower:      1.25,
		Norm:         loss.NormImage,
	}

	_, err := NewGraph(e, c, constantImage(4, 4, 0), []*tensor.RawTensor{constantImage(4, 4, 0)})
	assert.Error(t, err, "one style image for two weights")

	_, err = NewGraph(e, c, constantImage(4, 4, 0), []*tensor.RawTensor{constantImage(4, 4, 0), constantImage(4, 5, 0)})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

// TestGraph_GradientMatchesFiniteDifferences uses only the input layer,
// where the objective is smooth everywhere.
func TestGraph_GradientMatchesFiniteDifferences(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	e := smallExtractor(t, vgg.InputLayer)
	c := &loss.Composer{
		Weights:      loss.Weights{Content: 0.5, Styles: []float64{2}, TotalVariation: 0.3},
		ContentLayer: vgg.InputLayer,
		StyleLayers:  []string{vgg.InputLayer},
		TVPower:      1.25,
		Norm:         loss.NormFeature,
	}
	g, err := NewGraph(e, c, randomImage(rng, 3, 4, 1), []*tensor.RawTensor{randomImage(rng, 3, 4, 1)})
	require.NoError(t, err)

	x := randomImage(rng, 3, 4, 1).Float64()
	_, grad, err := g.Evaluate(x)
	require.NoError(t, err)

	f := func(v []float64) float64 {
		l, _, err := g.Evaluate(v)
		require.NoError(t, err)
		return l
	}
	want := fd.Gradient(nil, f, x, &fd.Settings{Formula: fd.Central, Step: 1e-3})
	for i := range want {
		assert.InDelta(t, want[i], grad[i], 1e-2*math.Max(1, math.Abs(want[i])), "pixel %d", i)
	}
}

func preparedConstant(t *testing.T, h, w int, v float32) *tensor.RawTensor {
	t.Helper()
	img, err := imageio.Prepare(constantImage(h, w, v), imageio.DefaultMeans)
	require.NoError(t, err)
	return img
}

// TestScenario_ContentPullsTowardContent: constant 4x4 content (128) and
// style (200), content weight only, one iteration of one evaluation.
func TestScenario_ContentPullsTowardContent(t *testing.T) {
	e := smallExtractor(t, vgg.InputLayer)
	c := &loss.Composer{
		Weights:      loss.Weights{Content: 1, Styles: []float64{0}},
		ContentLayer: vgg.InputLayer,
		StyleLayers:  []string{vgg.InputLayer},
		TVPower:      1.25,
		Norm:         loss.NormImage,
	}
	content := preparedConstant(t, 4, 4, 128)
	g, err := NewGraph(e, c, content, []*tensor.RawTensor{preparedConstant(t, 4, 4, 200)})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(3))
	x0 := make([]float64, 4*4*3)
	for i := range x0 {
		x0[i] = rng.Float64()*255 - 128
	}
	initial, _, err := g.Evaluate(x0)
	require.NoError(t, err)

	res, err := optim.NewDriver(optim.Settings{Iterations: 1, MaxEvaluations: 1}).
		Minimize(context.Background(), g, x0)
	require.NoError(t, err)

	assert.Less(t, res.Loss, initial)
	assert.Equal(t, 2, res.Evaluations, "start point plus one L-BFGS evaluation")
	target := content.Float64()
	for i := range x0 {
		assert.Less(t, math.Abs(res.X[i]-target[i]), math.Abs(x0[i]-target[i]), "element %d", i)
	}
}

// TestScenario_TwoStylesMoveTowardAverageGram: style weight only, two
// noise textures from the same distribution.
func TestScenario_TwoStylesMoveTowardAverageGram(t *testing.T) {
	layers := []string{vgg.ConvName(1, 1), vgg.ConvName(1, 2)}
	e := smallExtractor(t, layers...)
	c := &loss.Composer{
		Weights:      loss.Weights{Styles: []float64{1, 1}},
		ContentLayer: layers[0],
		StyleLayers:  layers,
		TVPower:      1.25,
		Norm:         loss.NormImage,
	}

	rng := rand.New(rand.NewSource(4))
	styles := []*tensor.RawTensor{randomImage(rng, 8, 8, 100), randomImage(rng, 8, 8, 100)}
	g, err := NewGraph(e, c, randomImage(rng, 8, 8, 100), styles)
	require.NoError(t, err)

	// Average target Gram per layer.
	batch, err := tensor.Stack(styles...)
	require.NoError(t, err)
	acts, err := e.Extract(batch)
	require.NoError(t, err)
	avg := make(map[string]*mat.SymDense)
	for _, layer := range layers {
		f0, _ := acts.Sample(layer, 0)
		f1, _ := acts.Sample(layer, 1)
		g0, err := loss.GramMatrix(f0)
		require.NoError(t, err)
		g1, err := loss.GramMatrix(f1)
		require.NoError(t, err)
		var sum mat.SymDense
		sum.AddSym(g0, g1)
		sum.ScaleSym(0.5, &sum)
		avg[layer] = &sum
	}

	gramDistance := func(x []float64) float64 {
		img, err := tensor.FromFloat64(x, tensor.Shape{8, 8, 3})
		require.NoError(t, err)
		one, err := tensor.Stack(img)
		require.NoError(t, err)
		acts, err := e.Extract(one)
		require.NoError(t, err)
		var d float64
		for _, layer := range layers {
			f, _ := acts.Sample(layer, 0)
			gram, err := loss.GramMatrix(f)
			require.NoError(t, err)
			var diff mat.Dense
			diff.Sub(gram, avg[layer])
			d += mat.Norm(&diff, 2) * mat.Norm(&diff, 2)
		}
		return d
	}

	x0 := make([]float64, 8*8*3)
	for i := range x0 {
		x0[i] = rng.Float64()*255 - 128
	}
	res, err := optim.NewDriver(optim.Settings{Iterations: 3, MaxEvaluations: 10}).
		Minimize(context.Background(), g, x0)
	require.NoError(t, err)

	assert.Less(t, gramDistance(res.X), gramDistance(x0))
	assert.Equal(t, res.Loss, g.Best().Total)
}
