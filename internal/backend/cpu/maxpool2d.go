package cpu

import (
	"fmt"

	"github.com/born-ml/styletransfer/internal/tensor"
)

// MaxPool2D performs 2D max pooling and records where each maximum came from.
//
// Input shape:  [batch, channels, height, width]
// Output shape: [batch, channels, out_height, out_width]
//
// Where:
//
//	out_height = (height - kernelSize) / stride + 1
//	out_width = (width - kernelSize) / stride + 1
//
// The second result holds, for every output element, the flat index into the
// input of the value that won. Ties keep the first (top-left) position.
//
// Example (2x2 pool, stride=2):
//
//	Input: [[1,2,3,4],    Output: [[6,8],
//	        [5,6,7,8],             [14,16]]
//	        [9,10,11,12],
//	        [13,14,15,16]]
func (cpu *CPUBackend) MaxPool2D(input *tensor.RawTensor, kernelSize, stride int) (*tensor.RawTensor, []int) {
	inputShape := input.Shape()
	if len(inputShape) != 4 {
		panic(fmt.Sprintf("maxpool2d: expected 4D input [N,C,H,W], got %dD", len(inputShape)))
	}

	N, C, H, W := inputShape[0], inputShape[1], inputShape[2], inputShape[3]

	if kernelSize <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid kernel size %d", kernelSize))
	}
	if stride <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid stride %d", stride))
	}
	if kernelSize > H || kernelSize > W {
		panic(fmt.Sprintf("maxpool2d: kernel size %d too large for input %dx%d", kernelSize, H, W))
	}

	HOut := (H-kernelSize)/stride + 1
	WOut := (W-kernelSize)/stride + 1

	output := tensor.MustNewRaw(tensor.Shape{N, C, HOut, WOut})
	maxIndices := make([]int, output.NumElements())

	inputData := input.Data()
	outputData := output.Data()

	cpu.forPlanes(N, C, func(n, c int) {
		inOff := (n*C + c) * H * W
		outOff := (n*C + c) * HOut * WOut
		channelData := inputData[inOff : inOff+H*W]

		for outH := 0; outH < HOut; outH++ {
			hStart := outH * stride
			for outW := 0; outW < WOut; outW++ {
				wStart := outW * stride

				best := hStart*W + wStart
				maxVal := channelData[best]
				for kh := 0; kh < kernelSize; kh++ {
					row := (hStart + kh) * W
					for kw := 0; kw < kernelSize; kw++ {
						if v := channelData[row+wStart+kw]; v > maxVal {
							maxVal = v
							best = row + wStart + kw
						}
					}
				}

				o := outOff + outH*WOut + outW
				outputData[o] = maxVal
				maxIndices[o] = inOff + best
			}
		}
	})

	return output, maxIndices
}

// MaxPool2DBackward routes each output gradient to the input position that
// produced the maximum in the forward pass. All other positions get zero.
//
// Example (2x2 pool, stride=2):
//
//	Input:  [[1, 2],  Output: [4]  Input Grad: [[0, 0],
//	         [3, 4]]                             [0, grad]]
func (cpu *CPUBackend) MaxPool2DBackward(input, grad *tensor.RawTensor, maxIndices []int) *tensor.RawTensor {
	if len(maxIndices) != grad.NumElements() {
		panic(fmt.Sprintf("maxpool2d_backward: maxIndices length %d != grad elements %d", len(maxIndices), grad.NumElements()))
	}

	inputGrad := tensor.MustNewRaw(input.Shape())
	inGradData := inputGrad.Data()

	// Windows never overlap for stride >= kernel, but accumulate anyway so
	// overlapping configurations stay correct.
	for o, g := range grad.Data() {
		inGradData[maxIndices[o]] += g
	}
	return inputGrad
}
