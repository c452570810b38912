package stylize

import (
	"github.com/pkg/errors"

	"github.com/born-ml/styletransfer/internal/bridge"
	"github.com/born-ml/styletransfer/internal/config"
	"github.com/born-ml/styletransfer/internal/imageio"
	"github.com/born-ml/styletransfer/internal/optim"
	"github.com/born-ml/styletransfer/internal/tensor"
)

// Error kinds reported by Run. Match them with errors.Is.
var (
	ErrInvalidImage     = imageio.ErrInvalidImage
	ErrShapeMismatch    = tensor.ErrShapeMismatch
	ErrBridgeProtocol   = bridge.ErrProtocolViolation
	ErrOptimizerFailure = optim.ErrOptimizerFailure
	ErrInvalidConfig    = config.ErrInvalidConfig
	ErrWeights          = errors.New("cannot load extractor weights")
)
