package vgg

import (
	"sort"

	"github.com/born-ml/styletransfer/internal/tensor"
)

// Activations maps layer names to feature maps of shape [N, C, h, w].
type Activations struct {
	maps map[string]*tensor.RawTensor
}

func newActivations() *Activations {
	return &Activations{maps: make(map[string]*tensor.RawTensor)}
}

// Get returns the batch feature map for a layer.
func (a *Activations) Get(layer string) (*tensor.RawTensor, bool) {
	t, ok := a.maps[layer]
	return t, ok
}

// Sample returns the [C, h, w] feature map of batch element i. The result
// shares memory with the batch map.
func (a *Activations) Sample(layer string, i int) (*tensor.RawTensor, bool) {
	t, ok := a.maps[layer]
	if !ok || i < 0 || i >= t.Shape()[0] {
		return nil, false
	}
	return t.Index(i), true
}

// Names returns the captured layer names, sorted.
func (a *Activations) Names() []string {
	names := make([]string, 0, len(a.maps))
	for n := range a.maps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
