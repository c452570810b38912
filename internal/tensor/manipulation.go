package tensor

import "fmt"

// Stack joins tensors of identical shape along a new leading axis.
//
// Example:
//
//	a, b := ... // each [H, W, 3]
//	batch, err := tensor.Stack(a, b) // [2, H, W, 3]
func Stack(tensors ...*RawTensor) (*RawTensor, error) {
	if len(tensors) == 0 {
		return nil, fmt.Errorf("stack: at least one tensor required")
	}

	inner := tensors[0].Shape()
	for i, t := range tensors[1:] {
		if !t.Shape().Equal(inner) {
			return nil, fmt.Errorf("stack: %w: tensor %d has shape %v, expected %v", ErrShapeMismatch, i+1, t.Shape(), inner)
		}
	}

	shape := append(Shape{len(tensors)}, inner...)
	out, err := NewRaw(shape)
	if err != nil {
		return nil, fmt.Errorf("stack: %w", err)
	}

	size := inner.NumElements()
	for i, t := range tensors {
		copy(out.data[i*size:(i+1)*size], t.data)
	}
	return out, nil
}

// PermuteData writes the axes permutation of src into dst.
// dst must already have shape src.Shape().Permute(axes...).
func PermuteData(dst, src *RawTensor, axes []int) {
	shape := src.Shape()
	ndim := len(shape)
	srcStrides := src.Strides()

	// Strides of src expressed in dst axis order.
	permStrides := make([]int, ndim)
	for i, ax := range axes {
		permStrides[i] = srcStrides[ax]
	}

	dstShape := dst.Shape()
	idx := make([]int, ndim)
	srcData := src.Data()
	dstData := dst.Data()
	for flat := range dstData {
		off := 0
		for d := 0; d < ndim; d++ {
			off += idx[d] * permStrides[d]
		}
		dstData[flat] = srcData[off]

		for d := ndim - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < dstShape[d] {
				break
			}
			idx[d] = 0
		}
	}
}
