package nn

import (
	"fmt"

	"github.com/born-ml/styletransfer/internal/tensor"
)

// Sequential is a container module that chains named modules together.
//
// Each module's output becomes the next module's input. Module names are
// unique and double as state dict prefixes.
//
// Example:
//
//	model := nn.NewSequential[Backend]()
//	model.Add("block1_conv1", nn.NewConv2D(3, 64, 3, 3, 1, 1, true, backend, nn.XavierInit(rng)))
//	model.Add("block1_relu1", nn.NewReLU(backend))
//
//	output := model.Forward(input)
type Sequential[B tensor.Backend] struct {
	names   []string
	modules []Module[B]
	index   map[string]int
}

// NewSequential creates an empty Sequential container.
func NewSequential[B tensor.Backend]() *Sequential[B] {
	return &Sequential[B]{index: make(map[string]int)}
}

// Add appends a named module to the sequence.
// Panics if the name is already in use.
func (s *Sequential[B]) Add(name string, module Module[B]) {
	if _, dup := s.index[name]; dup {
		panic(fmt.Sprintf("sequential: duplicate module name %q", name))
	}
	s.index[name] = len(s.modules)
	s.names = append(s.names, name)
	s.modules = append(s.modules, module)
}

// Forward applies all modules in sequence.
func (s *Sequential[B]) Forward(input *tensor.RawTensor) *tensor.RawTensor {
	output := input
	for _, module := range s.modules {
		output = module.Forward(output)
	}
	return output
}

// ForwardEach applies modules in sequence and calls visit after each one
// with the module name and its output. Returning false from visit stops
// the pass early.
func (s *Sequential[B]) ForwardEach(input *tensor.RawTensor, visit func(name string, out *tensor.RawTensor) bool) *tensor.RawTensor {
	output := input
	for i, module := range s.modules {
		output = module.Forward(output)
		if !visit(s.names[i], output) {
			break
		}
	}
	return output
}

// Parameters returns all parameters from all modules.
func (s *Sequential[B]) Parameters() []*Parameter {
	var params []*Parameter
	for _, module := range s.modules {
		params = append(params, module.Parameters()...)
	}
	return params
}

// Len returns the number of modules in the sequence.
func (s *Sequential[B]) Len() int {
	return len(s.modules)
}

// Names returns module names in execution order.
func (s *Sequential[B]) Names() []string {
	return append([]string(nil), s.names...)
}

// Module returns the module registered under name, or nil.
func (s *Sequential[B]) Module(name string) Module[B] {
	i, ok := s.index[name]
	if !ok {
		return nil
	}
	return s.modules[i]
}

// StateDict returns a map of parameter names to raw tensors, each prefixed
// with its module name (e.g., "block1_conv1.weight").
func (s *Sequential[B]) StateDict() map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor)
	for i, module := range s.modules {
		for name, raw := range module.StateDict() {
			stateDict[s.names[i]+"."+name] = raw
		}
	}
	return stateDict
}

// LoadStateDict loads parameters from a state dictionary keyed like StateDict.
func (s *Sequential[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	for i, module := range s.modules {
		if len(module.Parameters()) == 0 {
			continue
		}

		prefix := s.names[i] + "."
		moduleStateDict := make(map[string]*tensor.RawTensor)
		for key, raw := range stateDict {
			if len(key) > len(prefix) && key[:len(prefix)] == prefix {
				moduleStateDict[key[len(prefix):]] = raw
			}
		}

		if err := module.LoadStateDict(moduleStateDict); err != nil {
			return fmt.Errorf("failed to load module %s: %w", s.names[i], err)
		}
	}
	return nil
}
