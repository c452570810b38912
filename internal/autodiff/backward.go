package autodiff

import (
	"fmt"

	"github.com/born-ml/styletransfer/internal/tensor"
)

// Backward computes gradients of sum(y) using the AutodiffBackend's tape.
//
// The output gradient is a tensor of ones shaped like y, so the result for
// each recorded tensor x is d(sum(y))/dx.
//
// Example:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//	y := backend.ReLU(x)
//	gradients := autodiff.Backward(y, backend)
//	grad := gradients[x] // 1 where x > 0, else 0
func Backward[B tensor.Backend](y *tensor.RawTensor, backend *AutodiffBackend[B]) map[*tensor.RawTensor]*tensor.RawTensor {
	tape := backend.Tape()

	if tape.NumOps() == 0 {
		panic("backward: no operations recorded (did you forget to call Tape().StartRecording()?)")
	}

	outputGrad, err := tensor.Full(y.Shape(), 1)
	if err != nil {
		panic(fmt.Sprintf("backward: failed to create output gradient: %v", err))
	}

	return tape.BackwardFrom(map[*tensor.RawTensor]*tensor.RawTensor{y: outputGrad}, backend.Inner())
}
