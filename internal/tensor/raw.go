package tensor

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch is returned when tensors that must agree in shape do not.
var ErrShapeMismatch = errors.New("shape mismatch")

// RawTensor is a dense, row-major float32 tensor.
//
// Views created by Index and Reshape share the underlying slice with the
// tensor they were created from.
type RawTensor struct {
	data   []float32
	shape  Shape
	stride []int
}

// NewRaw creates a zero-filled RawTensor with the given shape.
func NewRaw(shape Shape) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	return &RawTensor{
		data:   make([]float32, shape.NumElements()),
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
	}, nil
}

// MustNewRaw is NewRaw for shapes computed by the backend itself.
// Panics on an invalid shape.
func MustNewRaw(shape Shape) *RawTensor {
	r, err := NewRaw(shape)
	if err != nil {
		panic(err)
	}
	return r
}

// FromSlice creates a tensor from a Go slice.
// The slice is copied into the tensor's memory.
func FromSlice(data []float32, shape Shape) (*RawTensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}

	r, err := NewRaw(shape)
	if err != nil {
		return nil, err
	}
	copy(r.data, data)
	return r, nil
}

// FromFloat64 creates a float32 tensor from a float64 slice.
func FromFloat64(data []float64, shape Shape) (*RawTensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}

	r, err := NewRaw(shape)
	if err != nil {
		return nil, err
	}
	for i, v := range data {
		r.data[i] = float32(v)
	}
	return r, nil
}

// Full creates a tensor with every element set to value.
func Full(shape Shape, value float32) (*RawTensor, error) {
	r, err := NewRaw(shape)
	if err != nil {
		return nil, err
	}
	for i := range r.data {
		r.data[i] = value
	}
	return r, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Strides returns the tensor's memory strides.
func (r *RawTensor) Strides() []int {
	return r.stride
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// Data returns the underlying slice.
//
// WARNING: Modifications to the returned slice will modify the tensor.
func (r *RawTensor) Data() []float32 {
	return r.data
}

// Float64 returns a float64 copy of the tensor's data.
func (r *RawTensor) Float64() []float64 {
	out := make([]float64, len(r.data))
	for i, v := range r.data {
		out[i] = float64(v)
	}
	return out
}

// At returns the element at the given indices.
// Panics if indices are out of bounds.
func (r *RawTensor) At(indices ...int) float32 {
	return r.data[r.offset(indices)]
}

// Set sets the element at the given indices.
// Panics if indices are out of bounds.
func (r *RawTensor) Set(value float32, indices ...int) {
	r.data[r.offset(indices)] = value
}

func (r *RawTensor) offset(indices []int) int {
	if len(indices) != len(r.shape) {
		panic(fmt.Sprintf("expected %d indices, got %d", len(r.shape), len(indices)))
	}
	off := 0
	for i, idx := range indices {
		if idx < 0 || idx >= r.shape[i] {
			panic(fmt.Sprintf("index %d out of bounds for dimension %d (size %d)", idx, i, r.shape[i]))
		}
		off += idx * r.stride[i]
	}
	return off
}

// Clone creates a deep copy of the tensor.
func (r *RawTensor) Clone() *RawTensor {
	data := make([]float32, len(r.data))
	copy(data, r.data)
	return &RawTensor{
		data:   data,
		shape:  r.shape.Clone(),
		stride: append([]int(nil), r.stride...),
	}
}

// Reshape returns a view with the same data and a new shape.
func (r *RawTensor) Reshape(shape Shape) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("reshape: %w", err)
	}
	if shape.NumElements() != r.NumElements() {
		return nil, fmt.Errorf("reshape: %w: %v -> %v (different number of elements)", ErrShapeMismatch, r.shape, shape)
	}
	return &RawTensor{
		data:   r.data,
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
	}, nil
}

// Index returns a view of the i-th slice along the leading axis.
//
// Example:
//
//	batch := ... // [N, H, W, 3]
//	img := batch.Index(0) // [H, W, 3], shares memory with batch
func (r *RawTensor) Index(i int) *RawTensor {
	if len(r.shape) == 0 {
		panic("index: scalar tensor has no leading axis")
	}
	if i < 0 || i >= r.shape[0] {
		panic(fmt.Sprintf("index %d out of bounds for leading dimension %d", i, r.shape[0]))
	}
	inner := r.shape[1:].Clone()
	size := inner.NumElements()
	return &RawTensor{
		data:   r.data[i*size : (i+1)*size],
		shape:  inner,
		stride: inner.ComputeStrides(),
	}
}

// String returns a human-readable representation of the tensor.
func (r *RawTensor) String() string {
	return fmt.Sprintf("Tensor[float32]%v", r.shape)
}
