package stylize

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/born-ml/styletransfer/internal/loss"
	"github.com/born-ml/styletransfer/internal/tensor"
	"github.com/born-ml/styletransfer/internal/vgg"
)

// Graph is the style transfer objective: it owns the extractor, the loss
// composer and the fixed targets, and maps a flattened combination image
// to its loss and pixel gradient.
type Graph struct {
	extractor *vgg.Extractor
	composer  *loss.Composer
	targets   *loss.Targets
	shape     tensor.Shape // [H, W, 3]

	best      loss.Breakdown
	bestTotal float64
}

// NewGraph extracts the content and style targets once. The extractor
// must already be truncated to the composer's layers.
//
// The target batch is [content, style_1, ..., style_k]; all images are
// prepared [H, W, 3] tensors of the same size.
func NewGraph(extractor *vgg.Extractor, composer *loss.Composer, content *tensor.RawTensor, styles []*tensor.RawTensor) (*Graph, error) {
	if err := composer.Validate(); err != nil {
		return nil, err
	}
	if len(styles) != len(composer.Weights.Styles) {
		return nil, errors.Errorf("%d style images for %d style weights", len(styles), len(composer.Weights.Styles))
	}

	batch, err := tensor.Stack(append([]*tensor.RawTensor{content}, styles...)...)
	if err != nil {
		return nil, errors.Wrap(err, "target batch")
	}
	feats, err := extractor.Extract(batch)
	if err != nil {
		return nil, errors.Wrap(err, "extract targets")
	}
	targets, err := composer.Targets(feats)
	if err != nil {
		return nil, err
	}

	return &Graph{
		extractor: extractor,
		composer:  composer,
		targets:   targets,
		shape:     content.Shape().Clone(),
		bestTotal: math.Inf(1),
	}, nil
}

// Shape returns the combination image shape [H, W, 3].
func (g *Graph) Shape() tensor.Shape {
	return g.shape
}

// Evaluate implements bridge.Objective.
func (g *Graph) Evaluate(x []float64) (float64, []float64, error) {
	img, err := tensor.FromFloat64(x, g.shape)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrShapeMismatch, err)
	}

	trace, err := g.extractor.Trace(img)
	if err != nil {
		return 0, nil, errors.Wrap(err, "trace combination image")
	}
	acts := trace.Activations()

	res, err := g.composer.Evaluate(g.targets, acts, 0, img)
	if err != nil {
		return 0, nil, err
	}

	// Layer gradients are [C, h, w]; the traced activations are [1, C, h, w].
	seeds := make(map[string]*tensor.RawTensor, len(res.LayerGrads))
	for layer, grad := range res.LayerGrads {
		act, _ := acts.Get(layer)
		seed, err := grad.Reshape(act.Shape())
		if err != nil {
			return 0, nil, errors.Wrapf(err, "seed %s", layer)
		}
		seeds[layer] = seed
	}
	pixels, err := trace.Backward(seeds)
	if err != nil {
		return 0, nil, errors.Wrap(err, "backward")
	}

	grad := pixels.Float64()
	for i, v := range res.PixelGrad.Data() {
		grad[i] += float64(v)
	}

	if res.Breakdown.Total < g.bestTotal {
		g.bestTotal = res.Breakdown.Total
		g.best = res.Breakdown
	}
	return res.Breakdown.Total, grad, nil
}

// Best returns the breakdown of the lowest loss evaluated so far.
func (g *Graph) Best() loss.Breakdown {
	return g.best
}
