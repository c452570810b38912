// Package bridge adapts an objective that yields loss and gradient together
// to optimizers that ask for them in two separate calls.
package bridge

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// ErrProtocolViolation is returned when Loss and Gradient are called out of order.
var ErrProtocolViolation = errors.New("bridge protocol violation")

// Objective evaluates the loss and its gradient at x in one pass.
type Objective interface {
	Evaluate(x []float64) (float64, []float64, error)
}

// ObjectiveFunc adapts a function to Objective.
type ObjectiveFunc func(x []float64) (float64, []float64, error)

// Evaluate calls f(x).
func (f ObjectiveFunc) Evaluate(x []float64) (float64, []float64, error) { return f(x) }

type state int

const (
	empty state = iota
	hasLoss
)

// Evaluator caches the gradient computed by Loss until the matching
// Gradient call. The legal sequence is Loss(x), Gradient(x), Loss(y), ...
//
// Evaluator is not safe for concurrent use.
type Evaluator struct {
	obj   Objective
	state state

	x    []float64
	grad []float64

	best     []float64
	bestLoss float64
	evals    int
}

// New creates an Evaluator over obj.
func New(obj Objective) *Evaluator {
	return &Evaluator{obj: obj, bestLoss: math.Inf(1)}
}

// Loss evaluates the objective at x and caches its gradient.
func (e *Evaluator) Loss(x []float64) (float64, error) {
	if e.state != empty {
		return 0, errors.Wrap(ErrProtocolViolation, "loss requested while a gradient is pending")
	}

	loss, grad, err := e.obj.Evaluate(x)
	if err != nil {
		return 0, errors.Wrapf(err, "evaluation %d", e.evals+1)
	}
	if len(grad) != len(x) {
		return 0, errors.Errorf("evaluation %d: gradient has %d elements for %d variables", e.evals+1, len(grad), len(x))
	}
	e.evals++

	e.x = append(e.x[:0], x...)
	e.grad = append(e.grad[:0], grad...)
	e.state = hasLoss

	if loss < e.bestLoss {
		e.bestLoss = loss
		e.best = append(e.best[:0], x...)
	}
	return loss, nil
}

// Gradient returns a copy of the gradient cached by the preceding Loss(x).
func (e *Evaluator) Gradient(x []float64) ([]float64, error) {
	if e.state != hasLoss {
		return nil, errors.Wrap(ErrProtocolViolation, "gradient requested before loss")
	}
	if len(x) != len(e.x) || !floats.Equal(x, e.x) {
		return nil, errors.Wrap(ErrProtocolViolation, "gradient requested for a different point than the pending loss")
	}
	e.state = empty
	return append([]float64(nil), e.grad...), nil
}

// Pending reports whether a gradient is waiting to be collected.
func (e *Evaluator) Pending() bool { return e.state == hasLoss }

// Reset drops any pending gradient. Best point and counters are kept.
func (e *Evaluator) Reset() { e.state = empty }

// Best returns a copy of the lowest-loss point seen so far.
// ok is false before the first successful evaluation.
func (e *Evaluator) Best() (x []float64, loss float64, ok bool) {
	if e.best == nil {
		return nil, 0, false
	}
	return append([]float64(nil), e.best...), e.bestLoss, true
}

// Evaluations returns the number of successful objective evaluations.
func (e *Evaluator) Evaluations() int { return e.evals }
