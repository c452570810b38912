package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/born-ml/styletransfer/internal/tensor"
)

// Conv2DInputBackward computes the gradient w.r.t. the convolution input.
//
// Algorithm: transposed convolution expressed as GEMM + col2im.
//   - For each tile of output positions: dcol = kernelᵀ @ grad_tile
//     ([C_in*K_h*K_w, C_out] @ [C_out, tile])
//   - col2im scatters every dcol entry back onto the input pixel it was
//     read from, accumulating overlapping taps.
//
// Kernel gradients are never needed: extractor weights are frozen.
//
// References:
//   - "A guide to convolution arithmetic for deep learning" (Dumoulin & Visin, 2016)
func (cpu *CPUBackend) Conv2DInputBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	g := newConvGeometry("conv2d_backward", input.Shape(), kernel.Shape(), stride, padding)

	wantGrad := tensor.Shape{g.N, g.COut, g.HOut, g.WOut}
	if !grad.Shape().Equal(wantGrad) {
		panic(fmt.Sprintf("conv2d_backward: grad shape %v, expected %v", grad.Shape(), wantGrad))
	}

	inputGrad := tensor.MustNewRaw(input.Shape())

	rows := g.colRows()
	tile := g.tile()
	plane := g.HOut * g.WOut
	dcol := make([]float32, rows*tile)

	kernelMat := blas32.General{Rows: g.COut, Cols: rows, Stride: rows, Data: kernel.Data()}
	gradData := grad.Data()
	inGradData := inputGrad.Data()

	for n := 0; n < g.N; n++ {
		gradBase := n * g.COut * plane
		img := inGradData[n*g.CIn*g.H*g.W : (n+1)*g.CIn*g.H*g.W]

		for p0 := 0; p0 < plane; p0 += tile {
			cols := min(tile, plane-p0)
			gradMat := blas32.General{
				Rows:   g.COut,
				Cols:   cols,
				Stride: plane,
				Data:   gradData[gradBase+p0 : gradBase+g.COut*plane],
			}
			colMat := blas32.General{Rows: rows, Cols: cols, Stride: cols, Data: dcol[:rows*cols]}
			blas32.Gemm(blas.Trans, blas.NoTrans, 1, kernelMat, gradMat, 0, colMat)

			cpu.col2im(img, dcol, g, p0, cols)
		}
	}

	return inputGrad
}

// col2im is the adjoint of im2col: it accumulates the [C_in*K_h*K_w, cols]
// column matrix back into one image. Each goroutine owns one input channel.
func (cpu *CPUBackend) col2im(img, col []float32, g convGeometry, p0, cols int) {
	taps := g.KH * g.KW
	cpu.forChannels(g.CIn, func(c int) {
		dst := img[c*g.H*g.W : (c+1)*g.H*g.W]
		for t := 0; t < taps; t++ {
			kh, kw := t/g.KW, t%g.KW
			row := col[(c*taps+t)*cols : (c*taps+t+1)*cols]
			for j, v := range row {
				p := p0 + j
				h := (p/g.WOut)*g.stride - g.padding + kh
				w := (p%g.WOut)*g.stride - g.padding + kw
				if h >= 0 && h < g.H && w >= 0 && w < g.W {
					dst[h*g.W+w] += v
				}
			}
		}
	})
}
