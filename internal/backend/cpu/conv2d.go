package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/born-ml/styletransfer/internal/tensor"
)

// maxColElements bounds the im2col scratch buffer (floats) per tile.
const maxColElements = 1 << 22

// convGeometry holds the dimensions shared by the forward and backward passes.
type convGeometry struct {
	N, CIn, H, W    int
	COut, KH, KW    int
	HOut, WOut      int
	stride, padding int
}

// colRows is the number of rows in the column matrix (C_in * K_h * K_w).
func (g convGeometry) colRows() int { return g.CIn * g.KH * g.KW }

// tile returns how many output positions fit in one column buffer.
func (g convGeometry) tile() int {
	t := maxColElements / g.colRows()
	return max(1, min(t, g.HOut*g.WOut))
}

func newConvGeometry(op string, inputShape, kernelShape tensor.Shape, stride, padding int) convGeometry {
	if len(inputShape) != 4 {
		panic(fmt.Sprintf("%s: input must be 4D [N,C,H,W], got %dD", op, len(inputShape)))
	}
	if len(kernelShape) != 4 {
		panic(fmt.Sprintf("%s: kernel must be 4D [C_out,C_in,K_h,K_w], got %dD", op, len(kernelShape)))
	}
	if stride <= 0 || padding < 0 {
		panic(fmt.Sprintf("%s: invalid stride %d / padding %d", op, stride, padding))
	}

	g := convGeometry{
		N: inputShape[0], CIn: inputShape[1], H: inputShape[2], W: inputShape[3],
		COut: kernelShape[0], KH: kernelShape[2], KW: kernelShape[3],
		stride: stride, padding: padding,
	}
	if kernelShape[1] != g.CIn {
		panic(fmt.Sprintf("%s: input channels %d != kernel channels %d", op, g.CIn, kernelShape[1]))
	}

	// out = (in + 2*padding - k) / stride + 1
	g.HOut = (g.H+2*padding-g.KH)/stride + 1
	g.WOut = (g.W+2*padding-g.KW)/stride + 1
	if g.HOut <= 0 || g.WOut <= 0 {
		panic(fmt.Sprintf("%s: invalid output dimensions: out_h=%d, out_w=%d (check stride/padding)", op, g.HOut, g.WOut))
	}
	return g
}

// Conv2D performs 2D convolution using the im2col algorithm.
//
// Input shape:  [N, C_in, H, W]
// Kernel shape: [C_out, C_in, K_h, K_w]
// Output shape: [N, C_out, H_out, W_out]
//
// For every image the output positions are processed in tiles: the input
// patches of a tile are unrolled into a [C_in*K_h*K_w, tile] column matrix
// and multiplied by the kernel matrix with a single SGEMM whose result is
// written straight into the NCHW output (row stride H_out*W_out).
//
// Reference: "High Performance Convolutional Neural Networks for Document Processing"
// (Chellapilla et al., 2006).
func (cpu *CPUBackend) Conv2D(input, kernel *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	g := newConvGeometry("conv2d", input.Shape(), kernel.Shape(), stride, padding)

	output := tensor.MustNewRaw(tensor.Shape{g.N, g.COut, g.HOut, g.WOut})

	rows := g.colRows()
	tile := g.tile()
	plane := g.HOut * g.WOut
	col := make([]float32, rows*tile)

	kernelMat := blas32.General{Rows: g.COut, Cols: rows, Stride: rows, Data: kernel.Data()}
	inData := input.Data()
	outData := output.Data()

	for n := 0; n < g.N; n++ {
		img := inData[n*g.CIn*g.H*g.W : (n+1)*g.CIn*g.H*g.W]
		outBase := n * g.COut * plane

		for p0 := 0; p0 < plane; p0 += tile {
			cols := min(tile, plane-p0)
			cpu.im2col(col, img, g, p0, cols)

			colMat := blas32.General{Rows: rows, Cols: cols, Stride: cols, Data: col[:rows*cols]}
			outMat := blas32.General{
				Rows:   g.COut,
				Cols:   cols,
				Stride: plane,
				Data:   outData[outBase+p0 : outBase+g.COut*plane],
			}
			blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, kernelMat, colMat, 0, outMat)
		}
	}

	return output
}

// im2col unrolls the patches of output positions [p0, p0+cols) of one image
// into col, laid out as [C_in*K_h*K_w, cols]. Out-of-bounds taps read zero.
func (cpu *CPUBackend) im2col(col, img []float32, g convGeometry, p0, cols int) {
	taps := g.KH * g.KW
	cpu.forChannels(g.CIn, func(c int) {
		src := img[c*g.H*g.W : (c+1)*g.H*g.W]
		for t := 0; t < taps; t++ {
			kh, kw := t/g.KW, t%g.KW
			row := col[(c*taps+t)*cols : (c*taps+t+1)*cols]
			for j := range row {
				p := p0 + j
				h := (p/g.WOut)*g.stride - g.padding + kh
				w := (p%g.WOut)*g.stride - g.padding + kw
				if h >= 0 && h < g.H && w >= 0 && w < g.W {
					row[j] = src[h*g.W+w]
				} else {
					row[j] = 0
				}
			}
		}
	})
}

// AddBias adds bias[c] to every element of channel c of an NCHW tensor.
func (cpu *CPUBackend) AddBias(x, bias *tensor.RawTensor) *tensor.RawTensor {
	shape := x.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("add_bias: expected 4D input [N,C,H,W], got %dD", len(shape)))
	}
	if bias.NumElements() != shape[1] {
		panic(fmt.Sprintf("add_bias: bias has %d elements for %d channels", bias.NumElements(), shape[1]))
	}

	result := tensor.MustNewRaw(shape)
	plane := shape[2] * shape[3]
	xd, rd, bd := x.Data(), result.Data(), bias.Data()

	cpu.forPlanes(shape[0], shape[1], func(n, c int) {
		off := (n*shape[1] + c) * plane
		b := bd[c]
		src := xd[off : off+plane]
		dst := rd[off : off+plane]
		for i, v := range src {
			dst[i] = v + b
		}
	})
	return result
}
