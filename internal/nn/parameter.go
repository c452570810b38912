package nn

import (
	"fmt"

	"github.com/born-ml/styletransfer/internal/tensor"
)

// Parameter is a named weight tensor of a module.
//
// Example:
//
//	weight := nn.NewParameter("weight", weightTensor)
//	w := weight.Tensor()
type Parameter struct {
	name   string            // Parameter name (e.g., "weight", "bias")
	tensor *tensor.RawTensor // The parameter tensor
}

// NewParameter creates a new parameter.
func NewParameter(name string, t *tensor.RawTensor) *Parameter {
	return &Parameter{
		name:   name,
		tensor: t,
	}
}

// Name returns the parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter) Tensor() *tensor.RawTensor {
	return p.tensor
}

// Set copies the values of t into the parameter. Shapes must match exactly.
func (p *Parameter) Set(t *tensor.RawTensor) error {
	if !t.Shape().Equal(p.tensor.Shape()) {
		return fmt.Errorf("parameter %q: %w: got %v, expected %v", p.name, tensor.ErrShapeMismatch, t.Shape(), p.tensor.Shape())
	}
	copy(p.tensor.Data(), t.Data())
	return nil
}
