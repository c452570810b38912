package autodiff_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"

	"github.com/born-ml/styletransfer/internal/autodiff"
	"github.com/born-ml/styletransfer/internal/backend/cpu"
	"github.com/born-ml/styletransfer/internal/tensor"
)

func TestAutodiffBackend_Name(t *testing.T) {
	backend := autodiff.New(cpu.New())
	assert.Equal(t, "Autodiff(CPU)", backend.Name())
}

func TestTape_Recording(t *testing.T) {
	backend := autodiff.New(cpu.New())
	tape := backend.Tape()

	assert.False(t, tape.IsRecording(), "tape should not record initially")

	a, _ := tensor.FromSlice([]float32{1, -2}, tensor.Shape{2})
	backend.ReLU(a)
	assert.Equal(t, 0, tape.NumOps(), "nothing recorded while stopped")

	tape.StartRecording()
	backend.ReLU(a)
	backend.Add(a, a)
	backend.Transpose(a)
	assert.Equal(t, 2, tape.NumOps(), "gradient accumulation is not recorded")

	tape.StopRecording()
	assert.False(t, tape.IsRecording())

	tape.Clear()
	assert.Equal(t, 0, tape.NumOps())
}

func TestBackward_ReLU(t *testing.T) {
	backend := autodiff.New(cpu.New())
	backend.Tape().StartRecording()

	x, _ := tensor.FromSlice([]float32{3, -2, 0.5}, tensor.Shape{3})
	y := backend.ReLU(x)

	grads := autodiff.Backward(y, backend)
	require.Contains(t, grads, x)
	assert.Equal(t, []float32{1, 0, 1}, grads[x].Data())
}

func TestBackward_Transpose(t *testing.T) {
	backend := autodiff.New(cpu.New())
	backend.Tape().StartRecording()

	x, _ := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{1, 2, 3})
	y := backend.Transpose(x, 2, 0, 1) // [3, 1, 2]
	w, _ := tensor.FromSlice([]float32{10, 20, 30, 40, 50, 60}, tensor.Shape{3, 1, 2})

	grads := backend.Tape().BackwardFrom(map[*tensor.RawTensor]*tensor.RawTensor{y: w}, backend.Inner())

	// d<y, w>/dx[0,i,j] = w[j,0,i]
	assert.Equal(t, []float32{10, 30, 50, 20, 40, 60}, grads[x].Data())
}

// convStack runs conv -> bias -> relu -> maxpool on an NHWC image.
type convStack struct {
	kernel, bias *tensor.RawTensor
}

func (s convStack) forward(backend tensor.Backend, x *tensor.RawTensor) (mid, out *tensor.RawTensor) {
	nchw := backend.Transpose(x, 0, 3, 1, 2)
	conv := backend.Conv2D(nchw, s.kernel, 1, 1)
	mid = backend.ReLU(backend.AddBias(conv, s.bias))
	out, _ = backend.MaxPool2D(mid, 2, 2)
	return mid, out
}

func randomTensor(rng *rand.Rand, shape tensor.Shape, scale float64) *tensor.RawTensor {
	r := tensor.MustNewRaw(shape)
	for i := range r.Data() {
		r.Data()[i] = float32(rng.NormFloat64() * scale)
	}
	return r
}

// TestBackwardFrom_MatchesFiniteDifferences checks seeds at an intermediate
// and a final tensor against a central-difference gradient of
// f(x) = <mid(x), gMid> + <out(x), gOut>.
func TestBackwardFrom_MatchesFiniteDifferences(t *testing.T) {
	stack, x := wellConditionedStack(t)

	backend := autodiff.New(cpu.New())
	backend.Tape().StartRecording()
	mid, out := stack.forward(backend, x)
	backend.Tape().StopRecording()

	rng := rand.New(rand.NewSource(11))
	gMid := randomTensor(rng, mid.Shape(), 1)
	gOut := randomTensor(rng, out.Shape(), 1)

	grads := backend.Tape().BackwardFrom(map[*tensor.RawTensor]*tensor.RawTensor{
		mid: gMid,
		out: gOut,
	}, backend.Inner())
	require.Contains(t, grads, x)
	require.Equal(t, x.Shape(), grads[x].Shape())

	plain := cpu.New()
	f := func(v []float64) float64 {
		xi, _ := tensor.FromFloat64(v, x.Shape())
		m, o := stack.forward(plain, xi)
		return dot(m.Data(), gMid.Data()) + dot(o.Data(), gOut.Data())
	}
	want := fd.Gradient(nil, f, x.Float64(), &fd.Settings{Formula: fd.Central, Step: 1e-3})

	assert.InDeltaSlice(t, want, grads[x].Float64(), 1e-2)
}

// wellConditionedStack picks a random stack and input whose ReLU inputs and
// pooling winners are far enough from a tie that a 1e-3 step cannot flip them.
func wellConditionedStack(t *testing.T) (convStack, *tensor.RawTensor) {
	t.Helper()
	const margin = 2e-2

	plain := cpu.New()
	for seed := int64(1); seed < 200; seed++ {
		rng := rand.New(rand.NewSource(seed))
		stack := convStack{
			kernel: randomTensor(rng, tensor.Shape{4, 3, 3, 3}, 0.3),
			bias:   randomTensor(rng, tensor.Shape{4}, 0.1),
		}
		x := randomTensor(rng, tensor.Shape{1, 4, 4, 3}, 1)

		pre := plain.AddBias(plain.Conv2D(plain.Transpose(x, 0, 3, 1, 2), stack.kernel, 1, 1), stack.bias)
		if minAbs(pre.Data()) < margin {
			continue
		}
		mid := plain.ReLU(pre)
		if minPoolGap(mid) < margin {
			continue
		}
		return stack, x
	}
	t.Fatal("no well-conditioned configuration found")
	return convStack{}, nil
}

func minAbs(xs []float32) float32 {
	m := float32(1e30)
	for _, v := range xs {
		if v < 0 {
			v = -v
		}
		m = min(m, v)
	}
	return m
}

// minPoolGap returns the smallest gap between the largest and second
// largest value over all 2x2 windows that contain a positive maximum.
func minPoolGap(x *tensor.RawTensor) float32 {
	s := x.Shape()
	gap := float32(1e30)
	for n := 0; n < s[0]; n++ {
		for c := 0; c < s[1]; c++ {
			for h := 0; h+1 < s[2]; h += 2 {
				for w := 0; w+1 < s[3]; w += 2 {
					vals := []float32{x.At(n, c, h, w), x.At(n, c, h, w+1), x.At(n, c, h+1, w), x.At(n, c, h+1, w+1)}
					first, second := float32(-1e30), float32(-1e30)
					for _, v := range vals {
						if v > first {
							first, second = v, first
						} else if v > second {
							second = v
						}
					}
					if first > 0 {
						gap = min(gap, first-second)
					}
				}
			}
		}
	}
	return gap
}

func TestBackwardFrom_SeedsAreNotModified(t *testing.T) {
	backend := autodiff.New(cpu.New())
	backend.Tape().StartRecording()

	x, _ := tensor.FromSlice([]float32{1, -2}, tensor.Shape{1, 2})
	y := backend.ReLU(x)
	z := backend.Transpose(y) // [2, 1]

	seedY, _ := tensor.FromSlice([]float32{1, 1}, tensor.Shape{1, 2})
	seedZ, _ := tensor.FromSlice([]float32{2, 3}, tensor.Shape{2, 1})
	grads := backend.Tape().BackwardFrom(map[*tensor.RawTensor]*tensor.RawTensor{y: seedY, z: seedZ}, backend.Inner())

	// dy = seedY + transpose(seedZ); dx = dy where x > 0
	assert.Equal(t, []float32{3, 4}, grads[y].Data())
	assert.Equal(t, []float32{3, 0}, grads[x].Data())
	assert.Equal(t, []float32{1, 1}, seedY.Data())
	assert.Equal(t, []float32{2, 3}, seedZ.Data())
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
