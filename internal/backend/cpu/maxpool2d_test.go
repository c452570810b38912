package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/styletransfer/internal/tensor"
)

func TestMaxPool2D_Forward(t *testing.T) {
	data := make([]float32, 16)
	for i := range data {
		data[i] = float32(i + 1)
	}
	input, _ := tensor.FromSlice(data, tensor.Shape{1, 1, 4, 4})

	out, idx := New().MaxPool2D(input, 2, 2)

	require.Equal(t, tensor.Shape{1, 1, 2, 2}, out.Shape())
	assert.Equal(t, []float32{6, 8, 14, 16}, out.Data())
	assert.Equal(t, []int{5, 7, 13, 15}, idx)
}

func TestMaxPool2D_OddSizeFloors(t *testing.T) {
	input := tensor.MustNewRaw(tensor.Shape{2, 3, 5, 7})
	out, idx := New().MaxPool2D(input, 2, 2)

	assert.Equal(t, tensor.Shape{2, 3, 2, 3}, out.Shape())
	assert.Len(t, idx, out.NumElements())
}

func TestMaxPool2D_IndicesAreGlobal(t *testing.T) {
	// Second channel holds the max in its bottom-right corner.
	input, _ := tensor.FromSlice([]float32{
		9, 0, 0, 0,
		0, 0, 0, 7,
	}, tensor.Shape{1, 2, 2, 2})

	_, idx := New().MaxPool2D(input, 2, 2)
	assert.Equal(t, []int{0, 7}, idx)
}

func TestMaxPool2D_PanicsOnSmallInput(t *testing.T) {
	input := tensor.MustNewRaw(tensor.Shape{1, 1, 1, 1})
	assert.Panics(t, func() { New().MaxPool2D(input, 2, 2) })
}

func TestMaxPool2DBackward_RoutesToMax(t *testing.T) {
	input, _ := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{1, 1, 2, 2})
	backend := New()

	_, idx := backend.MaxPool2D(input, 2, 2)
	grad, _ := tensor.FromSlice([]float32{5}, tensor.Shape{1, 1, 1, 1})

	dx := backend.MaxPool2DBackward(input, grad, idx)
	assert.Equal(t, []float32{0, 0, 0, 5}, dx.Data())
}
