package loss

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"

	"github.com/born-ml/styletransfer/internal/tensor"
)

// mapFeatures serves samples from per-layer [N, C, h, w] tensors.
type mapFeatures map[string]*tensor.RawTensor

func (m mapFeatures) Sample(layer string, i int) (*tensor.RawTensor, bool) {
	t, ok := m[layer]
	if !ok || i >= t.Shape()[0] {
		return nil, false
	}
	return t.Index(i), true
}

func testComposer() *Composer {
	return &Composer{
		Weights:      Weights{Content: 0.5, Styles: []float64{2, 3}, TotalVariation: 0.1},
		ContentLayer: "a",
		StyleLayers:  []string{"a", "b"},
		TVPower:      1.25,
		Norm:         NormFeature,
	}
}

func TestWeights_Validate(t *testing.T) {
	assert.NoError(t, Weights{Content: 1, Styles: []float64{0}}.Validate())
	assert.Error(t, Weights{Content: -1, Styles: []float64{1}}.Validate())
	assert.Error(t, Weights{Content: 1, Styles: []float64{1, -1}}.Validate())
	assert.Error(t, Weights{Content: 1}.Validate())
	assert.Error(t, Weights{Content: 1, Styles: []float64{1}, TotalVariation: -0.1}.Validate())
}

func TestComposer_Validate(t *testing.T) {
	c := testComposer()
	require.NoError(t, c.Validate())
	assert.Equal(t, []string{"a", "a", "b"}, c.Layers())

	c.Norm = "pixel"
	assert.Error(t, c.Validate())

	c = testComposer()
	c.TVPower = 0
	assert.Error(t, c.Validate())

	c = testComposer()
	c.StyleLayers = nil
	assert.Error(t, c.Validate())
}

func TestComposer_EvaluateMatchesTerms(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	feats := mapFeatures{
		"a": randomTensor(rng, tensor.Shape{4, 3, 4, 4}),
		"b": randomTensor(rng, tensor.Shape{4, 5, 2, 2}),
	}
	pixels := randomTensor(rng, tensor.Shape{4, 4, 3})
	c := testComposer()

	targets, err := c.Targets(feats)
	require.NoError(t, err)
	require.Len(t, targets.Styles, 2)

	res, err := c.Evaluate(targets, feats, 3, pixels)
	require.NoError(t, err)

	// Recompute every term by hand.
	comboA, _ := feats.Sample("a", 3)
	cl, _ := ContentLoss(targets.Content, comboA)
	assert.InDelta(t, 0.5*cl, res.Breakdown.Content, 1e-9)

	for i, w := range []float64{2, 3} {
		var want float64
		for _, layer := range []string{"a", "b"} {
			f, _ := feats.Sample(layer, 3)
			g, _ := GramMatrix(f)
			s := f.Shape()
			sl, _ := StyleLoss(targets.Styles[i][layer], g, StyleNormalizer(s[0], s[1]*s[2]))
			want += w / 2 * sl
		}
		assert.InDelta(t, want, res.Breakdown.Style[i], 1e-9)
	}

	tv, _ := TotalVariationLoss(pixels, 1.25)
	assert.InDelta(t, 0.1*tv, res.Breakdown.TotalVariation, 1e-9)
	assert.InDelta(t, res.Breakdown.Content+res.Breakdown.Style[0]+res.Breakdown.Style[1]+res.Breakdown.TotalVariation,
		res.Breakdown.Total, 1e-9)

	assert.Equal(t, tensor.Shape{3, 4, 4}, res.LayerGrads["a"].Shape())
	assert.Equal(t, tensor.Shape{5, 2, 2}, res.LayerGrads["b"].Shape())
	assert.Equal(t, pixels.Shape(), res.PixelGrad.Shape())
}

// TestComposer_LayerGradMatchesFiniteDifferences perturbs the combination
// features of one layer and compares with the returned layer gradient.
func TestComposer_LayerGradMatchesFiniteDifferences(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	feats := mapFeatures{
		"a": randomTensor(rng, tensor.Shape{4, 3, 2, 2}),
		"b": randomTensor(rng, tensor.Shape{4, 2, 2, 2}),
	}
	pixels := randomTensor(rng, tensor.Shape{2, 2, 3})
	c := testComposer()
	c.Norm = NormImage

	targets, err := c.Targets(feats)
	require.NoError(t, err)
	res, err := c.Evaluate(targets, feats, 3, pixels)
	require.NoError(t, err)

	combo := feats["a"].Index(3)
	f := func(v []float64) float64 {
		saved := combo.Float64()
		for i, x := range v {
			combo.Data()[i] = float32(x)
		}
		r, err := c.Evaluate(targets, feats, 3, pixels)
		require.NoError(t, err)
		for i, x := range saved {
			combo.Data()[i] = float32(x)
		}
		return r.Breakdown.Total
	}
	want := fd.Gradient(nil, f, combo.Float64(), &fd.Settings{Formula: fd.Central, Step: 1e-3})
	assert.InDeltaSlice(t, want, res.LayerGrads["a"].Float64(), 1e-3)
}

func TestComposer_Errors(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	c := testComposer()

	_, err := c.Targets(mapFeatures{"b": randomTensor(rng, tensor.Shape{3, 2, 2, 2})})
	assert.Error(t, err, "content layer missing")

	_, err = c.Targets(mapFeatures{
		"a": randomTensor(rng, tensor.Shape{2, 2, 2, 2}),
		"b": randomTensor(rng, tensor.Shape{2, 2, 2, 2}),
	})
	assert.Error(t, err, "second style image missing")
}

func TestComposer_ZeroWeightsSkipGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	feats := mapFeatures{"a": randomTensor(rng, tensor.Shape{2, 2, 3, 3})}
	c := &Composer{
		Weights:      Weights{Styles: []float64{0}},
		ContentLayer: "a",
		StyleLayers:  []string{"a"},
		TVPower:      1.25,
		Norm:         NormImage,
	}
	targets, err := c.Targets(feats)
	require.NoError(t, err)

	res, err := c.Evaluate(targets, feats, 1, randomTensor(rng, tensor.Shape{3, 3, 3}))
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Breakdown.Total)
	assert.Empty(t, res.LayerGrads)
	for _, v := range res.PixelGrad.Data() {
		assert.Equal(t, float32(0), v)
	}
}
