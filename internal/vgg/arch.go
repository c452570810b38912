// Package vgg adapts a VGG-style convolutional feature stack into a named
// feature extractor: images in, per-layer activations out, and gradients
// from any set of layers back to the input pixels.
package vgg

import "fmt"

// InputLayer names the (NCHW-transposed) input batch itself.
const InputLayer = "input"

// Architecture describes a VGG feature stack: each block is a list of 3x3
// same-padded convolutions (output channels), each followed by ReLU, and
// the block ends with a 2x2 stride-2 max-pool.
type Architecture struct {
	Name       string
	InChannels int
	Blocks     [][]int
}

// VGG16 returns the 13-convolution VGG16 feature stack.
func VGG16() Architecture {
	return Architecture{
		Name:       "vgg16",
		InChannels: 3,
		Blocks: [][]int{
			{64, 64},
			{128, 128},
			{256, 256, 256},
			{512, 512, 512},
			{512, 512, 512},
		},
	}
}

// Scaled divides every channel count by div (minimum 1). Layer names and
// geometry are unchanged, which makes small random networks for tests.
func (a Architecture) Scaled(div int) Architecture {
	if div <= 1 {
		return a
	}
	out := Architecture{Name: fmt.Sprintf("%s/%d", a.Name, div), InChannels: a.InChannels}
	for _, block := range a.Blocks {
		scaled := make([]int, len(block))
		for i, c := range block {
			scaled[i] = max(1, c/div)
		}
		out.Blocks = append(out.Blocks, scaled)
	}
	return out
}

// ConvName returns the layer name of convolution i (1-based) in block b (1-based).
func ConvName(b, i int) string {
	return fmt.Sprintf("block%d_conv%d", b, i)
}

func poolName(b int) string {
	return fmt.Sprintf("block%d_pool", b)
}

// LayerNames returns the layer whitelist in forward order: InputLayer
// followed by every convolution (post-ReLU, pre-pool).
func (a Architecture) LayerNames() []string {
	names := []string{InputLayer}
	for b, block := range a.Blocks {
		for i := range block {
			names = append(names, ConvName(b+1, i+1))
		}
	}
	return names
}

// poolsBefore returns how many max-pools run before layer name, or -1 if
// the name is not whitelisted.
func (a Architecture) poolsBefore(name string) int {
	if name == InputLayer {
		return 0
	}
	for b, block := range a.Blocks {
		for i := range block {
			if ConvName(b+1, i+1) == name {
				return b
			}
		}
	}
	return -1
}

// Validate checks the architecture is buildable.
func (a Architecture) Validate() error {
	if a.InChannels <= 0 {
		return fmt.Errorf("architecture %s: invalid input channels %d", a.Name, a.InChannels)
	}
	if len(a.Blocks) == 0 {
		return fmt.Errorf("architecture %s: no blocks", a.Name)
	}
	for b, block := range a.Blocks {
		if len(block) == 0 {
			return fmt.Errorf("architecture %s: block %d is empty", a.Name, b+1)
		}
		for i, c := range block {
			if c <= 0 {
				return fmt.Errorf("architecture %s: %s has %d channels", a.Name, ConvName(b+1, i+1), c)
			}
		}
	}
	return nil
}
