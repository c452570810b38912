package bridge

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// quadratic is Σ (x_i - 1)² with gradient 2 (x - 1).
func quadratic() (Objective, *int) {
	calls := 0
	return ObjectiveFunc(func(x []float64) (float64, []float64, error) {
		calls++
		var loss float64
		grad := make([]float64, len(x))
		for i, v := range x {
			loss += (v - 1) * (v - 1)
			grad[i] = 2 * (v - 1)
		}
		return loss, grad, nil
	}), &calls
}

func TestEvaluator_LossThenGradient(t *testing.T) {
	obj, calls := quadratic()
	e := New(obj)

	loss, err := e.Loss([]float64{0, 3})
	require.NoError(t, err)
	assert.Equal(t, 5.0, loss)
	assert.True(t, e.Pending())

	grad, err := e.Gradient([]float64{0, 3})
	require.NoError(t, err)
	assert.Equal(t, []float64{-2, 4}, grad)
	assert.False(t, e.Pending())

	// The objective ran once for the pair.
	assert.Equal(t, 1, *calls)
	assert.Equal(t, 1, e.Evaluations())
}

func TestEvaluator_GradientIsCopy(t *testing.T) {
	obj, _ := quadratic()
	e := New(obj)

	_, err := e.Loss([]float64{2})
	require.NoError(t, err)
	grad, err := e.Gradient([]float64{2})
	require.NoError(t, err)
	grad[0] = 100

	_, err = e.Loss([]float64{2})
	require.NoError(t, err)
	again, err := e.Gradient([]float64{2})
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, again)
}

func TestEvaluator_ProtocolViolations(t *testing.T) {
	obj, _ := quadratic()

	t.Run("gradient before loss", func(t *testing.T) {
		e := New(obj)
		_, err := e.Gradient([]float64{0})
		assert.ErrorIs(t, err, ErrProtocolViolation)
	})

	t.Run("loss twice", func(t *testing.T) {
		e := New(obj)
		_, err := e.Loss([]float64{0})
		require.NoError(t, err)
		_, err = e.Loss([]float64{1})
		assert.ErrorIs(t, err, ErrProtocolViolation)
		assert.Equal(t, 1, e.Evaluations())
	})

	t.Run("gradient for another point", func(t *testing.T) {
		e := New(obj)
		_, err := e.Loss([]float64{0, 0})
		require.NoError(t, err)
		_, err = e.Gradient([]float64{0, 1})
		assert.ErrorIs(t, err, ErrProtocolViolation)
		_, err = e.Gradient([]float64{0})
		assert.ErrorIs(t, err, ErrProtocolViolation)

		// The pending gradient survives a rejected request.
		grad, err := e.Gradient([]float64{0, 0})
		require.NoError(t, err)
		assert.Equal(t, []float64{-2, -2}, grad)
	})

	t.Run("reset", func(t *testing.T) {
		e := New(obj)
		_, err := e.Loss([]float64{0})
		require.NoError(t, err)
		e.Reset()
		_, err = e.Gradient([]float64{0})
		assert.ErrorIs(t, err, ErrProtocolViolation)
	})
}

func TestEvaluator_TracksBest(t *testing.T) {
	obj, _ := quadratic()
	e := New(obj)

	_, _, ok := e.Best()
	assert.False(t, ok)

	for _, x := range [][]float64{{5}, {1.5}, {-3}} {
		_, err := e.Loss(x)
		require.NoError(t, err)
		_, err = e.Gradient(x)
		require.NoError(t, err)
	}

	best, loss, ok := e.Best()
	require.True(t, ok)
	assert.Equal(t, []float64{1.5}, best)
	assert.Equal(t, 0.25, loss)
	assert.Equal(t, 3, e.Evaluations())
}

func TestEvaluator_ObjectiveError(t *testing.T) {
	boom := errors.New("boom")
	e := New(ObjectiveFunc(func([]float64) (float64, []float64, error) {
		return 0, nil, boom
	}))

	_, err := e.Loss([]float64{1})
	assert.ErrorIs(t, err, boom)
	assert.False(t, e.Pending())
	assert.Equal(t, 0, e.Evaluations())

	short := New(ObjectiveFunc(func([]float64) (float64, []float64, error) {
		return 1, []float64{1}, nil
	}))
	_, err = short.Loss([]float64{1, 2})
	assert.Error(t, err)
}
