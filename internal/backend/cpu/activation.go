package cpu

import (
	"fmt"

	"github.com/born-ml/styletransfer/internal/parallel"
	"github.com/born-ml/styletransfer/internal/tensor"
)

// ReLU computes max(0, x) element-wise.
func (cpu *CPUBackend) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	result := tensor.MustNewRaw(x.Shape())
	xd, rd := x.Data(), result.Data()
	for i, v := range xd {
		if v > 0 {
			rd[i] = v
		}
	}
	return result
}

// ReLUBackward passes grad through where the forward input was positive.
func (cpu *CPUBackend) ReLUBackward(input, grad *tensor.RawTensor) *tensor.RawTensor {
	if !input.Shape().Equal(grad.Shape()) {
		panic(fmt.Sprintf("relu_backward: shape mismatch %v vs %v", input.Shape(), grad.Shape()))
	}
	result := tensor.MustNewRaw(input.Shape())
	in, g, rd := input.Data(), grad.Data(), result.Data()
	for i, v := range in {
		if v > 0 {
			rd[i] = g[i]
		}
	}
	return result
}

func (cpu *CPUBackend) forPlanes(batch, channels int, f func(n, c int)) {
	parallel.ForBatch(batch, channels, f, cpu.par)
}

func (cpu *CPUBackend) forChannels(channels int, f func(c int)) {
	parallel.For(channels, f, cpu.par)
}
