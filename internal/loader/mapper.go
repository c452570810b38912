package loader

import (
	"fmt"
	"strings"

	"github.com/born-ml/styletransfer/internal/tensor"
)

// Weight layouts.
const (
	LayoutCanonical = "canonical"
	LayoutKeras     = "keras"
)

// WeightMapper maps file-specific weight names and layouts to the canonical
// "<layer>.weight" [out, in, kh, kw] / "<layer>.bias" [out] form.
type WeightMapper interface {
	// MapName converts a stored name to its canonical name. ok is false
	// for tensors the mapper does not recognise.
	MapName(name string) (canonical string, ok bool)

	// Convert rewrites a stored tensor into the canonical layout.
	Convert(name string, t *tensor.RawTensor) (*tensor.RawTensor, error)

	// Layout returns the layout name.
	Layout() string
}

// CanonicalMapper accepts names already in canonical form.
type CanonicalMapper struct{}

// MapName keeps names ending in ".weight" or ".bias".
func (CanonicalMapper) MapName(name string) (string, bool) {
	if strings.HasSuffix(name, ".weight") || strings.HasSuffix(name, ".bias") {
		return name, true
	}
	return "", false
}

// Convert returns t unchanged.
func (CanonicalMapper) Convert(_ string, t *tensor.RawTensor) (*tensor.RawTensor, error) {
	return t, nil
}

// Layout returns LayoutCanonical.
func (CanonicalMapper) Layout() string { return LayoutCanonical }

// KerasMapper maps Keras export names:
//   - block1_conv1/kernel:0 [kh, kw, in, out] -> block1_conv1.weight [out, in, kh, kw]
//   - block1_conv1/bias:0 -> block1_conv1.bias
//
// Leading scopes such as "vgg16/" are dropped.
type KerasMapper struct{}

// MapName converts a Keras variable name.
func (KerasMapper) MapName(name string) (string, bool) {
	parts := strings.Split(strings.TrimSuffix(name, ":0"), "/")
	if len(parts) < 2 {
		return "", false
	}
	layer, kind := parts[len(parts)-2], parts[len(parts)-1]
	switch kind {
	case "kernel":
		return layer + ".weight", true
	case "bias":
		return layer + ".bias", true
	default:
		return "", false
	}
}

// Convert transposes HWIO kernels to OIHW. Biases pass through.
func (m KerasMapper) Convert(name string, t *tensor.RawTensor) (*tensor.RawTensor, error) {
	canonical, ok := m.MapName(name)
	if !ok || !strings.HasSuffix(canonical, ".weight") {
		return t, nil
	}
	if len(t.Shape()) != 4 {
		return nil, fmt.Errorf("keras kernel %s: expected 4D [kh,kw,in,out], got %v", name, t.Shape())
	}

	axes := []int{3, 2, 0, 1}
	out, err := tensor.NewRaw(t.Shape().Permute(axes...))
	if err != nil {
		return nil, err
	}
	tensor.PermuteData(out, t, axes)
	return out, nil
}

// Layout returns LayoutKeras.
func (KerasMapper) Layout() string { return LayoutKeras }

// DetectMapper picks a mapper from the tensor names in a file.
func DetectMapper(names []string) (WeightMapper, error) {
	for _, name := range names {
		if strings.Contains(name, "/kernel") {
			return KerasMapper{}, nil
		}
	}
	for _, name := range names {
		if _, ok := (CanonicalMapper{}).MapName(name); ok {
			return CanonicalMapper{}, nil
		}
	}
	return nil, fmt.Errorf("unrecognised weight naming (expected %q or %q style names)", "block1_conv1.weight", "block1_conv1/kernel:0")
}

// LoadStateDict reads every tensor the mapper recognises and returns them
// keyed by canonical name in canonical layout.
func LoadStateDict(r *SafeTensorsReader, mapper WeightMapper) (map[string]*tensor.RawTensor, error) {
	stateDict := make(map[string]*tensor.RawTensor)
	for _, name := range r.TensorNames() {
		canonical, ok := mapper.MapName(name)
		if !ok {
			continue
		}
		if _, dup := stateDict[canonical]; dup {
			return nil, fmt.Errorf("tensors map to the same name %s", canonical)
		}

		raw, err := r.LoadTensor(name)
		if err != nil {
			return nil, err
		}
		if raw, err = mapper.Convert(name, raw); err != nil {
			return nil, err
		}
		stateDict[canonical] = raw
	}
	return stateDict, nil
}
