package ops

import (
	"github.com/born-ml/styletransfer/internal/tensor"
)

// Conv2DOp records a 2D convolution operation for autodiff.
//
// Forward: output = Conv2D(input, kernel, stride, padding)
//
// Backward: d_input is the transposed convolution of d_output with the
// kernel. The kernel is treated as a constant, so it never receives a
// gradient.
//
// References:
//   - "A guide to convolution arithmetic for deep learning" (Dumoulin & Visin, 2016)
//   - CS231n: Convolutional Neural Networks for Visual Recognition
type Conv2DOp struct {
	input   *tensor.RawTensor
	kernel  *tensor.RawTensor
	output  *tensor.RawTensor
	stride  int
	padding int
}

// NewConv2DOp creates a new Conv2D operation.
func NewConv2DOp(input, kernel, output *tensor.RawTensor, stride, padding int) *Conv2DOp {
	return &Conv2DOp{
		input:   input,
		kernel:  kernel,
		output:  output,
		stride:  stride,
		padding: padding,
	}
}

// Inputs returns the input tensors.
func (op *Conv2DOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input, op.kernel}
}

// Output returns the output tensor.
func (op *Conv2DOp) Output() *tensor.RawTensor {
	return op.output
}

// Backward computes ∂L/∂input [N, C_in, H, W] from ∂L/∂output.
// The kernel slot is nil.
func (op *Conv2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	inputGrad := backend.Conv2DInputBackward(op.input, op.kernel, outputGrad, op.stride, op.padding)
	return []*tensor.RawTensor{inputGrad, nil}
}

// BiasAddOp records a per-channel bias addition on an NCHW tensor.
// Gradient passes through unchanged to the input; the bias is constant.
type BiasAddOp struct {
	input  *tensor.RawTensor
	bias   *tensor.RawTensor
	output *tensor.RawTensor
}

// NewBiasAddOp creates a new BiasAddOp.
func NewBiasAddOp(input, bias, output *tensor.RawTensor) *BiasAddOp {
	return &BiasAddOp{input: input, bias: bias, output: output}
}

// Backward passes outputGrad through to the input.
func (op *BiasAddOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{outputGrad, nil}
}

// Inputs returns [input, bias].
func (op *BiasAddOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input, op.bias}
}

// Output returns the output tensor.
func (op *BiasAddOp) Output() *tensor.RawTensor {
	return op.output
}
