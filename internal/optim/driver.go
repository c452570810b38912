// Package optim drives L-BFGS over a loss/gradient objective.
//
// The run is split into outer iterations. Each one evaluates its start
// point, hands that evaluation to gonum's L-BFGS as the initial location and
// lets it spend a fixed budget of function evaluations. The best point seen
// becomes the start of the next iteration, so L-BFGS memory is rebuilt every
// iteration.
//
// Example:
//
//	d := optim.NewDriver(optim.Settings{Iterations: 20, MaxEvaluations: 20})
//	res, err := d.Minimize(ctx, objective, x0)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(res.Loss, res.Evaluations)
package optim

import (
	"context"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/optimize"

	"github.com/born-ml/styletransfer/internal/bridge"
)

// ErrOptimizerFailure marks an iteration the optimizer ended abnormally.
// It is reported as a warning; the run continues from the best point.
var ErrOptimizerFailure = errors.New("optimizer failure")

// Defaults.
const (
	DefaultIterations     = 20
	DefaultMaxEvaluations = 20
)

// Iteration describes a completed outer iteration.
type Iteration struct {
	Index       int // 0-based
	Loss        float64
	Evaluations int // total so far
	Duration    time.Duration
	X           []float64 // best point so far; owned by the callee
}

// Settings configures a Driver. Zero values select defaults.
type Settings struct {
	Iterations     int
	MaxEvaluations int // per iteration, excluding the start evaluation
	Logger         *slog.Logger

	// OnIteration runs after every iteration. A non-nil error aborts the run.
	OnIteration func(Iteration) error
}

func (s Settings) withDefaults() Settings {
	if s.Iterations == 0 {
		s.Iterations = DefaultIterations
	}
	if s.MaxEvaluations == 0 {
		s.MaxEvaluations = DefaultMaxEvaluations
	}
	if s.Logger == nil {
		s.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s
}

// Result is the outcome of Minimize.
type Result struct {
	X           []float64
	Loss        float64
	Iterations  int
	Evaluations int
	Warnings    []error
}

// Driver runs the outer iteration loop.
type Driver struct {
	settings Settings
}

// NewDriver creates a Driver.
func NewDriver(s Settings) *Driver {
	return &Driver{settings: s.withDefaults()}
}

// Minimize minimizes obj starting at x0. x0 is not modified.
//
// Objective errors and bridge protocol violations abort the run. Optimizer
// failures are collected in Result.Warnings. ctx is checked between
// iterations.
func (d *Driver) Minimize(ctx context.Context, obj bridge.Objective, x0 []float64) (*Result, error) {
	s := d.settings
	if s.Iterations < 0 || s.MaxEvaluations < 0 {
		return nil, errors.Errorf("invalid settings: %d iterations, %d evaluations", s.Iterations, s.MaxEvaluations)
	}
	if len(x0) == 0 {
		return nil, errors.New("empty start point")
	}

	ev := bridge.New(obj)
	x := append([]float64(nil), x0...)
	res := &Result{}
	loss := math.NaN() // until an evaluation beats +Inf

	for it := 0; it < s.Iterations; it++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "iteration %d", it)
		}
		start := time.Now()

		warn, err := d.iterate(ev, x)
		if err != nil {
			return nil, errors.Wrapf(err, "iteration %d", it)
		}
		if warn != nil {
			warn = errors.Wrapf(warn, "iteration %d", it)
			res.Warnings = append(res.Warnings, warn)
			s.Logger.Warn("optimizer failure", "iteration", it, "error", warn)
		}

		if best, l, ok := ev.Best(); ok {
			x, loss = best, l
		}
		res.Iterations = it + 1

		elapsed := time.Since(start)
		s.Logger.Info("iteration done",
			"iteration", it,
			"loss", loss,
			"evaluations", ev.Evaluations(),
			"duration", elapsed)

		if s.OnIteration != nil {
			info := Iteration{Index: it, Loss: loss, Evaluations: ev.Evaluations(), Duration: elapsed, X: append([]float64(nil), x...)}
			if err := s.OnIteration(info); err != nil {
				return nil, errors.Wrapf(err, "iteration %d", it)
			}
		}
	}

	res.Loss = loss
	res.X = x
	res.Evaluations = ev.Evaluations()
	return res, nil
}

// iterate runs one L-BFGS pass from x. A non-nil warn is an optimizer
// failure; a non-nil err aborts the run.
func (d *Driver) iterate(ev *bridge.Evaluator, x []float64) (warn, err error) {
	loss, err := ev.Loss(x)
	if err != nil {
		return nil, err
	}
	grad, err := ev.Gradient(x)
	if err != nil {
		return nil, err
	}

	if !finite(loss, grad) {
		return errors.Wrap(ErrOptimizerFailure, "non-finite start point"), nil
	}

	p := &pass{ev: ev}
	problem := optimize.Problem{Func: p.fn, Grad: p.grad}
	settings := &optimize.Settings{
		// gonum takes the point from initX; X must stay nil here.
		InitValues:      &optimize.Location{F: loss, Gradient: grad},
		FuncEvaluations: d.settings.MaxEvaluations,
		Converger:       optimize.NeverTerminate{},
		Recorder:        p,
	}

	// MoreThuente always asks for the value and the gradient of a trial
	// point together, which keeps the bridge's Loss/Gradient order.
	method := &optimize.LBFGS{Linesearcher: &optimize.MoreThuente{}}
	result, merr := optimize.Minimize(problem, x, settings, method)
	ev.Reset()
	if p.err != nil {
		return nil, p.err
	}
	if p.warn != nil {
		return p.warn, nil
	}
	if merr != nil {
		return errors.Wrap(ErrOptimizerFailure, merr.Error()), nil
	}
	if !normalStatus(result.Status) {
		return errors.Wrapf(ErrOptimizerFailure, "status %v", result.Status), nil
	}
	return nil, nil
}

// normalStatus reports whether an L-BFGS pass ended by budget or convergence.
func normalStatus(s optimize.Status) bool {
	switch s {
	case optimize.Success,
		optimize.FunctionEvaluationLimit,
		optimize.GradientEvaluationLimit,
		optimize.IterationLimit,
		optimize.RuntimeLimit,
		optimize.GradientThreshold,
		optimize.FunctionConvergence,
		optimize.StepConvergence,
		optimize.MethodConverge:
		return true
	}
	return false
}

func finite(loss float64, grad []float64) bool {
	if math.IsInf(loss, 0) || math.IsNaN(loss) {
		return false
	}
	for _, v := range grad {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return false
		}
	}
	return true
}

// errStopPass is handed to gonum to end a pass early.
var errStopPass = errors.New("pass stopped")

// pass routes gonum's separate Func and Grad calls through the bridge.
// gonum's callbacks cannot return errors, so the first error is kept and
// reported to gonum through the Recorder, which stops the pass. A
// non-finite value or gradient stops the pass the same way but only as a
// warning, before the line search sees it.
type pass struct {
	ev   *bridge.Evaluator
	err  error
	warn error
}

func (p *pass) stopped() bool { return p.err != nil || p.warn != nil }

func (p *pass) fn(x []float64) float64 {
	if p.stopped() {
		return math.Inf(1)
	}
	loss, err := p.ev.Loss(x)
	if err != nil {
		p.err = err
		return math.Inf(1)
	}
	if !finite(loss, nil) {
		p.warn = errors.Wrapf(ErrOptimizerFailure, "non-finite loss %v", loss)
	}
	return loss
}

func (p *pass) grad(grad, x []float64) {
	if p.err != nil || (p.warn != nil && !p.ev.Pending()) {
		clear(grad)
		return
	}
	g, err := p.ev.Gradient(x)
	if err != nil {
		p.err = err
		clear(grad)
		return
	}
	if p.warn == nil && !finite(0, g) {
		p.warn = errors.Wrap(ErrOptimizerFailure, "non-finite gradient")
	}
	copy(grad, g)
}

// Init implements optimize.Recorder.
func (p *pass) Init() error { return nil }

// Record implements optimize.Recorder.
func (p *pass) Record(*optimize.Location, optimize.Operation, *optimize.Stats) error {
	if p.err != nil {
		return p.err
	}
	if p.warn != nil {
		return errStopPass
	}
	return nil
}
