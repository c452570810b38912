package tensor

// Backend defines the interface that compute backends implement.
//
// Only the operations needed to run a frozen convolutional feature stack
// forward, and to push gradients back to its input, are part of it.
// Layout for image tensors is NCHW; kernels are [C_out, C_in, K_h, K_w].
type Backend interface {
	// Add sums two tensors of identical shape. Gradient accumulation uses it.
	Add(a, b *RawTensor) *RawTensor

	// Convolutional operations
	Conv2D(input, kernel *RawTensor, stride, padding int) *RawTensor
	Conv2DInputBackward(input, kernel, grad *RawTensor, stride, padding int) *RawTensor
	AddBias(x, bias *RawTensor) *RawTensor // per-channel bias on [N, C, H, W]

	// Pooling. MaxPool2D also returns the flat input index of each maximum.
	MaxPool2D(input *RawTensor, kernelSize, stride int) (*RawTensor, []int)
	MaxPool2DBackward(input, grad *RawTensor, maxIndices []int) *RawTensor

	// Activation functions
	ReLU(x *RawTensor) *RawTensor
	ReLUBackward(input, grad *RawTensor) *RawTensor

	// Shape operations
	Transpose(t *RawTensor, axes ...int) *RawTensor

	// Metadata
	Name() string
}
