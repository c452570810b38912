// Package cpu implements the CPU backend: im2col convolution on gonum's
// float32 BLAS plus plane-parallel pooling and activation kernels.
package cpu

import (
	"fmt"

	"github.com/born-ml/styletransfer/internal/parallel"
	"github.com/born-ml/styletransfer/internal/tensor"
)

// CPUBackend implements tensor operations on CPU.
type CPUBackend struct {
	par parallel.Config
}

// Compile-time check that CPUBackend implements tensor.Backend.
var _ tensor.Backend = (*CPUBackend)(nil)

// New creates a new CPU backend using all available cores.
func New() *CPUBackend {
	return &CPUBackend{
		par: parallel.DefaultConfig(),
	}
}

// NewWithConfig creates a CPU backend with an explicit parallelism config.
func NewWithConfig(cfg parallel.Config) *CPUBackend {
	return &CPUBackend{par: cfg}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Add performs element-wise addition. Shapes must match.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	result := sameShapeResult("add", a, b)
	ad, bd, rd := a.Data(), b.Data(), result.Data()
	for i := range rd {
		rd[i] = ad[i] + bd[i]
	}
	return result
}

// Transpose permutes the tensor's dimensions into a new tensor.
// With no axes, all dimensions are reversed.
func (cpu *CPUBackend) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	ndim := len(t.Shape())
	if len(axes) == 0 {
		axes = make([]int, ndim)
		for i := range axes {
			axes[i] = ndim - 1 - i
		}
	}

	result := tensor.MustNewRaw(t.Shape().Permute(axes...))
	tensor.PermuteData(result, t, axes)
	return result
}

func sameShapeResult(op string, a, b *tensor.RawTensor) *tensor.RawTensor {
	if !a.Shape().Equal(b.Shape()) {
		panic(fmt.Sprintf("%s: shape mismatch %v vs %v", op, a.Shape(), b.Shape()))
	}
	return tensor.MustNewRaw(a.Shape())
}
