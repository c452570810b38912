// Package nn implements the neural network modules the feature extractor is
// assembled from.
//
// This package provides:
//   - Module interface: Base interface for all NN components
//   - Parameter: named, frozen weight tensors
//   - Conv2D, MaxPool2D, ReLU: the VGG building blocks
//   - Sequential: named container for stacking layers
//
// Design inspired by PyTorch's nn.Module but adapted for Go generics.
// Weights are never trained here, so parameters carry no gradient slot.
package nn

import (
	"github.com/born-ml/styletransfer/internal/tensor"
)

// Module is the base interface for all neural network components.
//
// Every NN module must implement:
//   - Forward: Compute output from input
//   - Parameters: Return all parameters
//   - StateDict / LoadStateDict: weight import and export by name
//
// Modules can be composed to build complex architectures:
//
//	model := nn.NewSequential[Backend]()
//	model.Add("conv1", nn.NewConv2D(3, 64, 3, 3, 1, 1, true, backend, nil))
//	model.Add("relu1", nn.NewReLU(backend))
//
// Type parameter B must satisfy the tensor.Backend interface.
type Module[B tensor.Backend] interface {
	// Forward computes the output of the module given an input tensor.
	Forward(input *tensor.RawTensor) *tensor.RawTensor

	// Parameters returns all parameters of this module.
	// Returns an empty slice for modules without parameters.
	Parameters() []*Parameter

	// StateDict returns the module's parameters keyed by local name.
	StateDict() map[string]*tensor.RawTensor

	// LoadStateDict replaces parameter values. Unknown keys are ignored;
	// missing or mis-shaped keys are errors.
	LoadStateDict(stateDict map[string]*tensor.RawTensor) error
}
