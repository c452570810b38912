// Package loss computes the style transfer objective: content loss, Gram
// style loss and total variation, each with its analytic gradient.
//
// Feature maps are [C, h, w] float32 tensors; scalar losses are float64.
package loss

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/styletransfer/internal/tensor"
)

// ContentLoss returns Σ (combo - content)².
func ContentLoss(content, combo *tensor.RawTensor) (float64, error) {
	if err := sameShape(content, combo); err != nil {
		return 0, errors.Wrap(err, "content loss")
	}
	var sum float64
	cd := content.Data()
	for i, v := range combo.Data() {
		d := float64(v) - float64(cd[i])
		sum += d * d
	}
	return sum, nil
}

// ContentGrad returns d ContentLoss / d combo = 2 (combo - content).
func ContentGrad(content, combo *tensor.RawTensor) (*tensor.RawTensor, error) {
	if err := sameShape(content, combo); err != nil {
		return nil, errors.Wrap(err, "content grad")
	}
	out := tensor.MustNewRaw(combo.Shape())
	cd, od := content.Data(), out.Data()
	for i, v := range combo.Data() {
		od[i] = 2 * (v - cd[i])
	}
	return out, nil
}

// featureMatrix views a [C, h, w] map as a C x (h*w) float64 matrix.
func featureMatrix(feat *tensor.RawTensor) (*mat.Dense, error) {
	s := feat.Shape()
	if len(s) != 3 {
		return nil, errors.Wrapf(tensor.ErrShapeMismatch, "feature map must be [C, h, w], got %v", s)
	}
	return mat.NewDense(s[0], s[1]*s[2], feat.Float64()), nil
}

// GramMatrix returns F Fᵀ where F is the [C, h*w] view of feat.
// The result is symmetric by construction.
func GramMatrix(feat *tensor.RawTensor) (*mat.SymDense, error) {
	f, err := featureMatrix(feat)
	if err != nil {
		return nil, err
	}
	c, _ := f.Dims()
	g := mat.NewSymDense(c, nil)
	g.SymOuterK(1, f)
	return g, nil
}

// StyleNormalizer returns 4·C²·M², the divisor of the style loss for
// C channels over M spatial positions.
func StyleNormalizer(channels, size int) float64 {
	c, m := float64(channels), float64(size)
	return 4 * c * c * m * m
}

// StyleLoss returns Σ (style - combo)² / norm over two Gram matrices.
func StyleLoss(style, combo *mat.SymDense, norm float64) (float64, error) {
	if style.SymmetricDim() != combo.SymmetricDim() {
		return 0, errors.Wrapf(tensor.ErrShapeMismatch, "style loss: gram %d vs %d", style.SymmetricDim(), combo.SymmetricDim())
	}
	if norm <= 0 {
		return 0, errors.Errorf("style loss: normaliser must be positive, got %g", norm)
	}

	n := style.SymmetricDim()
	var sum float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			d := style.At(i, j) - combo.At(i, j)
			sum += d * d
		}
	}
	return sum / norm, nil
}

// StyleGrad returns d StyleLoss / d feat = 4 (G - S) F / norm, where G is
// the Gram matrix of feat and S the style target. The result is [C, h, w].
func StyleGrad(style, combo *mat.SymDense, feat *tensor.RawTensor, norm float64) (*tensor.RawTensor, error) {
	f, err := featureMatrix(feat)
	if err != nil {
		return nil, err
	}
	c, _ := f.Dims()
	if style.SymmetricDim() != c || combo.SymmetricDim() != c {
		return nil, errors.Wrapf(tensor.ErrShapeMismatch, "style grad: %d channels, grams %d and %d", c, style.SymmetricDim(), combo.SymmetricDim())
	}

	var diff mat.Dense
	diff.Sub(combo, style)

	var g mat.Dense
	g.Mul(&diff, f)
	g.Scale(4/norm, &g)

	return tensor.FromFloat64(g.RawMatrix().Data, feat.Shape())
}

// TotalVariationLoss returns Σ (dh² + dw²)^power over the top-left
// (H-1) x (W-1) region of x [H, W, C], where dh and dw are differences to
// the pixel below and to the right.
func TotalVariationLoss(x *tensor.RawTensor, power float64) (float64, error) {
	var sum float64
	err := forEachTV(x, func(_, _, _ int, a, b float64) {
		sum += math.Pow(a*a+b*b, power)
	})
	return sum, err
}

// TotalVariationGrad returns d TotalVariationLoss / d x, shaped like x.
func TotalVariationGrad(x *tensor.RawTensor, power float64) (*tensor.RawTensor, error) {
	out := tensor.MustNewRaw(x.Shape())
	gd := out.Data()
	err := forEachTV(x, func(o, down, right int, a, b float64) {
		s := a*a + b*b
		if s == 0 {
			return
		}
		g := power * math.Pow(s, power-1)
		gd[o] += float32(2 * g * (a + b))
		gd[down] -= float32(2 * g * a)
		gd[right] -= float32(2 * g * b)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// forEachTV calls fn for every (i, j, c) of the TV region with the flat
// offsets of the pixel, its lower and right neighbours, and the two
// differences.
func forEachTV(x *tensor.RawTensor, fn func(o, down, right int, a, b float64)) error {
	s := x.Shape()
	if len(s) != 3 {
		return errors.Wrapf(tensor.ErrShapeMismatch, "total variation: image must be [H, W, C], got %v", s)
	}
	h, w, c := s[0], s[1], s[2]
	data := x.Data()
	for i := 0; i < h-1; i++ {
		for j := 0; j < w-1; j++ {
			for k := 0; k < c; k++ {
				o := (i*w+j)*c + k
				down := o + w*c
				right := o + c
				a := float64(data[o]) - float64(data[down])
				b := float64(data[o]) - float64(data[right])
				fn(o, down, right, a, b)
			}
		}
	}
	return nil
}

func sameShape(a, b *tensor.RawTensor) error {
	if !a.Shape().Equal(b.Shape()) {
		return errors.Wrapf(tensor.ErrShapeMismatch, "%v vs %v", a.Shape(), b.Shape())
	}
	return nil
}
