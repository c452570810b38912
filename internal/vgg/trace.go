package vgg

import (
	"github.com/pkg/errors"

	"github.com/born-ml/styletransfer/internal/tensor"
)

// ErrStaleTrace is returned by Backward after a newer Trace replaced the tape.
var ErrStaleTrace = errors.New("trace superseded by a newer trace")

// Trace is a recorded single-image forward pass.
type Trace struct {
	e     *Extractor
	gen   uint64
	input *tensor.RawTensor // [1, H, W, C] view of the traced image
	acts  *Activations
}

// Trace runs img [H, W, C] forward with recording on. Only the most recent
// Trace of an extractor can be back-propagated.
func (e *Extractor) Trace(img *tensor.RawTensor) (*Trace, error) {
	s := img.Shape()
	if len(s) != 3 {
		return nil, errors.Wrapf(tensor.ErrShapeMismatch, "trace expects [H, W, C], got %v", s)
	}
	batch, err := img.Reshape(tensor.Shape{1, s[0], s[1], s[2]})
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkInput(batch.Shape()); err != nil {
		return nil, err
	}

	tape := e.backend.Tape()
	tape.Clear()
	tape.StartRecording()
	acts := e.forward(batch)
	tape.StopRecording()

	e.gen++
	return &Trace{e: e, gen: e.gen, input: batch, acts: acts}, nil
}

// Activations returns the traced activations (batch size 1).
func (t *Trace) Activations() *Activations {
	return t.acts
}

// Backward takes dL/d(layer) for any number of traced layers, each shaped
// like that layer's activation, and returns dL/d(image) as [H, W, C].
func (t *Trace) Backward(seeds map[string]*tensor.RawTensor) (*tensor.RawTensor, error) {
	e := t.e
	e.mu.Lock()
	defer e.mu.Unlock()

	if t.gen != e.gen {
		return nil, ErrStaleTrace
	}

	rawSeeds := make(map[*tensor.RawTensor]*tensor.RawTensor, len(seeds))
	for layer, grad := range seeds {
		act, ok := t.acts.Get(layer)
		if !ok {
			return nil, errors.Wrapf(ErrUnknownLayer, "%q was not traced (depth %s)", layer, e.depth)
		}
		if !grad.Shape().Equal(act.Shape()) {
			return nil, errors.Wrapf(tensor.ErrShapeMismatch, "gradient for %s is %v, activation is %v", layer, grad.Shape(), act.Shape())
		}
		rawSeeds[act] = grad
	}

	s := t.input.Shape()
	imgShape := tensor.Shape{s[1], s[2], s[3]}

	grads := e.backend.Tape().BackwardFrom(rawSeeds, e.backend.Inner())
	g, ok := grads[t.input]
	if !ok {
		return tensor.NewRaw(imgShape)
	}
	return g.Clone().Reshape(imgShape)
}
