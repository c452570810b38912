package loss

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/styletransfer/internal/tensor"
)

// StyleNorm selects the C and M used in the style normaliser 4·C²·M².
type StyleNorm string

const (
	// NormImage uses C = 3 and M = H·W of the input image for every layer.
	NormImage StyleNorm = "image"
	// NormFeature uses each layer's own channel count and spatial size.
	NormFeature StyleNorm = "feature"
)

// Features gives access to per-sample feature maps [C, h, w] by layer.
type Features interface {
	Sample(layer string, i int) (*tensor.RawTensor, bool)
}

// Weights are the non-negative coefficients of the loss terms.
type Weights struct {
	Content        float64
	Styles         []float64 // one per style image
	TotalVariation float64
}

// Validate checks every weight is non-negative and at least one style is given.
func (w Weights) Validate() error {
	if w.Content < 0 || w.TotalVariation < 0 {
		return errors.Errorf("weights must be non-negative (content %g, total variation %g)", w.Content, w.TotalVariation)
	}
	if len(w.Styles) == 0 {
		return errors.New("at least one style weight is required")
	}
	for i, s := range w.Styles {
		if s < 0 {
			return errors.Errorf("style weight %d is negative: %g", i, s)
		}
	}
	return nil
}

// Breakdown is the weighted value of each term and their sum.
type Breakdown struct {
	Content        float64
	Style          []float64 // per style image, summed over layers
	TotalVariation float64
	Total          float64
}

// String formats the breakdown for logs.
func (b Breakdown) String() string {
	return fmt.Sprintf("total=%.6g content=%.6g style=%v tv=%.6g", b.Total, b.Content, b.Style, b.TotalVariation)
}

// Composer combines the loss terms:
//
//	loss = cw·content + Σ_i Σ_l (sw_i / L)·style(i, l) + tvw·tv
//
// where L is the number of style layers.
type Composer struct {
	Weights      Weights
	ContentLayer string
	StyleLayers  []string
	TVPower      float64
	Norm         StyleNorm
}

// Layers returns every feature layer the composer reads.
func (c *Composer) Layers() []string {
	return append([]string{c.ContentLayer}, c.StyleLayers...)
}

// Validate checks the composer configuration.
func (c *Composer) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	if c.ContentLayer == "" {
		return errors.New("content layer is required")
	}
	if len(c.StyleLayers) == 0 {
		return errors.New("at least one style layer is required")
	}
	if c.TVPower <= 0 {
		return errors.Errorf("total variation power must be positive, got %g", c.TVPower)
	}
	switch c.Norm {
	case NormImage, NormFeature:
	default:
		return errors.Errorf("unknown style normalisation %q", c.Norm)
	}
	return nil
}

// Targets are the fixed content features and style Gram matrices.
type Targets struct {
	Content *tensor.RawTensor
	Styles  []map[string]*mat.SymDense // per style image, by layer
}

// Targets reads sample 0 as the content image and samples 1..n as the
// style images. It runs once per job.
func (c *Composer) Targets(feats Features) (*Targets, error) {
	content, ok := feats.Sample(c.ContentLayer, 0)
	if !ok {
		return nil, errors.Errorf("content layer %s not extracted", c.ContentLayer)
	}

	t := &Targets{Content: content.Clone()}
	for i := range c.Weights.Styles {
		grams := make(map[string]*mat.SymDense, len(c.StyleLayers))
		for _, layer := range c.StyleLayers {
			f, ok := feats.Sample(layer, i+1)
			if !ok {
				return nil, errors.Errorf("style image %d: layer %s not extracted", i, layer)
			}
			g, err := GramMatrix(f)
			if err != nil {
				return nil, errors.Wrapf(err, "style image %d, layer %s", i, layer)
			}
			grams[layer] = g
		}
		t.Styles = append(t.Styles, grams)
	}
	return t, nil
}

// Result is one evaluation of the objective.
type Result struct {
	Breakdown Breakdown
	// LayerGrads holds dLoss/d(feature) per layer, [C, h, w].
	LayerGrads map[string]*tensor.RawTensor
	// PixelGrad holds the total variation gradient w.r.t. the image.
	PixelGrad *tensor.RawTensor
}

// Evaluate computes the weighted loss and gradients for the combination
// image. feats holds its features as sample index; pixels is the
// combination image [H, W, 3] itself.
func (c *Composer) Evaluate(t *Targets, feats Features, index int, pixels *tensor.RawTensor) (*Result, error) {
	res := &Result{LayerGrads: make(map[string]*tensor.RawTensor)}
	addGrad := func(layer string, g *tensor.RawTensor, scale float64) {
		s := float32(scale)
		if acc, ok := res.LayerGrads[layer]; ok {
			ad := acc.Data()
			for i, v := range g.Data() {
				ad[i] += s * v
			}
			return
		}
		gd := g.Data()
		for i := range gd {
			gd[i] *= s
		}
		res.LayerGrads[layer] = g
	}

	// Content.
	combo, ok := feats.Sample(c.ContentLayer, index)
	if !ok {
		return nil, errors.Errorf("content layer %s not extracted", c.ContentLayer)
	}
	cl, err := ContentLoss(t.Content, combo)
	if err != nil {
		return nil, err
	}
	res.Breakdown.Content = c.Weights.Content * cl
	if c.Weights.Content != 0 {
		g, err := ContentGrad(t.Content, combo)
		if err != nil {
			return nil, err
		}
		addGrad(c.ContentLayer, g, c.Weights.Content)
	}

	// Style.
	ps := pixels.Shape()
	if len(ps) != 3 {
		return nil, errors.Wrapf(tensor.ErrShapeMismatch, "combination image must be [H, W, C], got %v", ps)
	}
	res.Breakdown.Style = make([]float64, len(t.Styles))
	perLayer := 1 / float64(len(c.StyleLayers))
	for _, layer := range c.StyleLayers {
		f, ok := feats.Sample(layer, index)
		if !ok {
			return nil, errors.Errorf("style layer %s not extracted", layer)
		}
		gram, err := GramMatrix(f)
		if err != nil {
			return nil, err
		}
		norm := c.normalizer(f.Shape(), ps)

		for i, targets := range t.Styles {
			w := c.Weights.Styles[i] * perLayer
			sl, err := StyleLoss(targets[layer], gram, norm)
			if err != nil {
				return nil, errors.Wrapf(err, "style image %d, layer %s", i, layer)
			}
			res.Breakdown.Style[i] += w * sl
			if w == 0 {
				continue
			}
			g, err := StyleGrad(targets[layer], gram, f, norm)
			if err != nil {
				return nil, err
			}
			addGrad(layer, g, w)
		}
	}

	// Total variation.
	tv, err := TotalVariationLoss(pixels, c.TVPower)
	if err != nil {
		return nil, err
	}
	res.Breakdown.TotalVariation = c.Weights.TotalVariation * tv
	if c.Weights.TotalVariation != 0 {
		g, err := TotalVariationGrad(pixels, c.TVPower)
		if err != nil {
			return nil, err
		}
		gd := g.Data()
		for i := range gd {
			gd[i] *= float32(c.Weights.TotalVariation)
		}
		res.PixelGrad = g
	} else {
		res.PixelGrad = tensor.MustNewRaw(ps)
	}

	res.Breakdown.Total = res.Breakdown.Content + res.Breakdown.TotalVariation
	for _, s := range res.Breakdown.Style {
		res.Breakdown.Total += s
	}
	return res, nil
}

func (c *Composer) normalizer(feat, image tensor.Shape) float64 {
	if c.Norm == NormFeature {
		return StyleNormalizer(feat[0], feat[1]*feat[2])
	}
	return StyleNormalizer(3, image[0]*image[1])
}
