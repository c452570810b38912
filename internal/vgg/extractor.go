package vgg

import (
	"math/rand"
	"slices"
	"sync"

	"github.com/pkg/errors"

	"github.com/born-ml/styletransfer/internal/autodiff"
	"github.com/born-ml/styletransfer/internal/backend/cpu"
	"github.com/born-ml/styletransfer/internal/nn"
	"github.com/born-ml/styletransfer/internal/tensor"
)

// ErrUnknownLayer is returned for layer names outside the whitelist.
var ErrUnknownLayer = errors.New("unknown layer")

// Backend is the recording CPU backend every extractor runs on.
type Backend = *autodiff.AutodiffBackend[*cpu.CPUBackend]

// Extractor runs a frozen VGG feature stack.
//
// Extract is plain inference. Trace records a single-image forward pass so
// gradients can be pushed back to the pixels. Weights are never modified.
// An Extractor is safe for concurrent use; calls are serialised because
// they share one gradient tape.
type Extractor struct {
	arch    Architecture
	backend Backend
	stack   *nn.Sequential[Backend]
	layers  []string

	mu    sync.Mutex
	depth string // deepest layer computed, InputLayer for none
	gen   uint64 // bumped by every Trace
}

// convReLU is a convolution followed by ReLU; its output is what the
// whitelist exposes under the convolution's name.
type convReLU struct {
	conv *nn.Conv2D[Backend]
	relu *nn.ReLU[Backend]
}

func (m *convReLU) Forward(x *tensor.RawTensor) *tensor.RawTensor {
	return m.relu.Forward(m.conv.Forward(x))
}

func (m *convReLU) Parameters() []*nn.Parameter { return m.conv.Parameters() }

func (m *convReLU) StateDict() map[string]*tensor.RawTensor { return m.conv.StateDict() }

func (m *convReLU) LoadStateDict(sd map[string]*tensor.RawTensor) error {
	return m.conv.LoadStateDict(sd)
}

// NewRandom builds an extractor with Xavier-initialised weights and zero
// biases drawn from seed.
func NewRandom(arch Architecture, seed int64) (*Extractor, error) {
	return build(arch, nn.XavierInit(rand.New(rand.NewSource(seed)))) //nolint:gosec // weight init is not security-critical
}

func build(arch Architecture, weightInit nn.Initializer) (*Extractor, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}

	backend := autodiff.New(cpu.New())
	stack := nn.NewSequential[Backend]()
	in := arch.InChannels
	for b, block := range arch.Blocks {
		for i, out := range block {
			stack.Add(ConvName(b+1, i+1), &convReLU{
				conv: nn.NewConv2D(in, out, 3, 3, 1, 1, true, backend, weightInit),
				relu: nn.NewReLU(backend),
			})
			in = out
		}
		stack.Add(poolName(b+1), nn.NewMaxPool2D(2, 2, backend))
	}

	layers := arch.LayerNames()
	return &Extractor{
		arch:    arch,
		backend: backend,
		stack:   stack,
		layers:  layers,
		depth:   layers[len(layers)-1],
	}, nil
}

// Architecture returns the extractor's architecture.
func (e *Extractor) Architecture() Architecture {
	return e.arch
}

// Layers returns the layer whitelist in forward order.
func (e *Extractor) Layers() []string {
	return slices.Clone(e.layers)
}

// HasLayer reports whether name is in the whitelist.
func (e *Extractor) HasLayer(name string) bool {
	return slices.Contains(e.layers, name)
}

// Truncate limits every forward pass to the deepest of the given layers.
// Layers past it are never computed.
func (e *Extractor) Truncate(layers ...string) error {
	deepest := -1
	for _, name := range layers {
		idx := slices.Index(e.layers, name)
		if idx < 0 {
			return errors.Wrapf(ErrUnknownLayer, "%q (known: %v)", name, e.layers)
		}
		deepest = max(deepest, idx)
	}
	if deepest < 0 {
		return errors.New("truncate: no layers given")
	}

	e.mu.Lock()
	e.depth = e.layers[deepest]
	e.mu.Unlock()
	return nil
}

// Depth returns the deepest layer a forward pass computes.
func (e *Extractor) Depth() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.depth
}

// MinSize returns the smallest height and width the truncated stack accepts.
func (e *Extractor) MinSize() int {
	return 1 << e.arch.poolsBefore(e.Depth())
}

// StateDict returns the weights keyed "<layer>.weight" / "<layer>.bias".
// The tensors are the live parameters and must not be modified.
func (e *Extractor) StateDict() map[string]*tensor.RawTensor {
	return e.stack.StateDict()
}

// Extract runs the batch [N, H, W, 3] through the stack and returns every
// whitelisted activation up to the truncation depth. Nothing is recorded.
func (e *Extractor) Extract(batch *tensor.RawTensor) (*Activations, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkInput(batch.Shape()); err != nil {
		return nil, err
	}
	return e.forward(batch), nil
}

// forward must be called with mu held.
func (e *Extractor) forward(batch *tensor.RawTensor) *Activations {
	acts := newActivations()
	x := e.backend.Transpose(batch, 0, 3, 1, 2)
	acts.maps[InputLayer] = x
	if e.depth == InputLayer {
		return acts
	}

	e.stack.ForwardEach(x, func(name string, out *tensor.RawTensor) bool {
		if e.arch.poolsBefore(name) >= 0 {
			acts.maps[name] = out
		}
		return name != e.depth
	})
	return acts
}

func (e *Extractor) checkInput(shape tensor.Shape) error {
	if len(shape) != 4 || shape[3] != e.arch.InChannels {
		return errors.Wrapf(tensor.ErrShapeMismatch, "extractor input must be [N, H, W, %d], got %v", e.arch.InChannels, shape)
	}
	minSize := 1 << e.arch.poolsBefore(e.depth)
	if shape[1] < minSize || shape[2] < minSize {
		return errors.Wrapf(tensor.ErrShapeMismatch, "image %dx%d smaller than %dx%d required up to %s",
			shape[1], shape[2], minSize, minSize, e.depth)
	}
	return nil
}
