package vgg

import (
	"github.com/pkg/errors"

	"github.com/born-ml/styletransfer/internal/loader"
	"github.com/born-ml/styletransfer/internal/nn"
)

// Load builds an extractor for arch with pretrained weights from a
// SafeTensors file. Canonical and Keras-export naming are both accepted.
// Every convolution of arch must be present; extra tensors are ignored.
// A recorded data checksum is verified before anything is decoded.
func Load(path string, arch Architecture) (*Extractor, error) {
	r, err := loader.NewSafeTensorsReader(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open weights %s", path)
	}
	defer r.Close()

	if _, err := r.VerifyChecksum(); err != nil {
		return nil, errors.Wrapf(err, "weights %s", path)
	}

	mapper, err := loader.DetectMapper(r.TensorNames())
	if err != nil {
		return nil, errors.Wrapf(err, "weights %s", path)
	}
	e, err := build(arch, nn.ZeroInit)
	if err != nil {
		return nil, err
	}
	stateDict, err := loader.LoadStateDict(r, mapper)
	if err != nil {
		return nil, errors.Wrapf(err, "read weights %s", path)
	}
	if err := e.stack.LoadStateDict(stateDict); err != nil {
		return nil, errors.Wrapf(err, "weights %s (%s layout)", path, mapper.Layout())
	}
	return e, nil
}

// Save writes the weights in canonical layout.
func (e *Extractor) Save(path string) error {
	meta := map[string]string{"architecture": e.arch.Name}
	if err := loader.WriteSafeTensors(path, e.StateDict(), meta); err != nil {
		return errors.Wrapf(err, "save weights %s", path)
	}
	return nil
}
