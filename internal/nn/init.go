package nn

import (
	"math"
	"math/rand"

	"github.com/born-ml/styletransfer/internal/tensor"
)

// Initializer creates the initial weight tensor of a layer.
type Initializer func(fanIn, fanOut int, shape tensor.Shape) *tensor.RawTensor

// XavierInit returns an Initializer that draws Xavier weights from rng.
// A nil rng uses the global source.
func XavierInit(rng *rand.Rand) Initializer {
	return func(fanIn, fanOut int, shape tensor.Shape) *tensor.RawTensor {
		return Xavier(fanIn, fanOut, shape, rng)
	}
}

// ZeroInit leaves weights at zero, for layers filled from a checkpoint
// right after construction.
func ZeroInit(_, _ int, shape tensor.Shape) *tensor.RawTensor {
	return Zeros(shape)
}

// Xavier (Glorot) initialization for weights.
//
// Initializes weights with values drawn from a uniform distribution:
// U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
//
// rng makes the draw reproducible; a nil rng uses the global source.
func Xavier(fanIn, fanOut int, shape tensor.Shape, rng *rand.Rand) *tensor.RawTensor {
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))

	t := tensor.MustNewRaw(shape)
	data := t.Data()
	for i := range data {
		//nolint:gosec // Using math/rand for weight initialization (not security-critical)
		u := rand.Float64()
		if rng != nil {
			u = rng.Float64()
		}
		data[i] = float32((u*2.0 - 1.0) * bound)
	}
	return t
}

// Zeros creates a tensor filled with zeros.
//
// This is commonly used for bias initialization.
func Zeros(shape tensor.Shape) *tensor.RawTensor {
	return tensor.MustNewRaw(shape)
}
