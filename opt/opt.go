// Package opt implements the first-order optimizers used to update the
// feature matrix.
package opt

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrUnsupportedOptimizer is returned by New for unknown optimizer names.
var ErrUnsupportedOptimizer = errors.New("opt: unsupported optimizer")

// Optimizer applies gradient updates to a dense parameter matrix in place.
// Implementations are not safe for concurrent use.
type Optimizer interface {
	// Step applies one update. The gradient must match the parameter shape.
	Step(params, grad *mat.Dense) error
	// Snapshot copies the internal state for checkpointing.
	Snapshot() State
	// Restore replaces the internal state with a snapshot.
	Restore(State) error
}

// State is a serializable optimizer state image. SGD keeps its momentum
// buffer in M; Adam uses Step, M and V.
type State struct {
	Name string
	Step int64
	M    []float64
	V    []float64
}

// New builds an optimizer from its configuration name.
func New(name string, learningRate float64) (Optimizer, error) {
	switch name {
	case "sgd":
		return NewSGD(learningRate)
	case "adam":
		return NewAdam(learningRate)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedOptimizer, name)
}

// SGD is stochastic gradient descent with optional momentum.
type SGD struct {
	lr       float64
	momentum float64
	buf      []float64
}

// SGDOption configures NewSGD.
type SGDOption func(*SGD)

// WithMomentum adds a momentum accumulator with the given decay.
func WithMomentum(momentum float64) SGDOption {
	return func(s *SGD) { s.momentum = momentum }
}

// NewSGD returns a plain SGD optimizer.
func NewSGD(learningRate float64, opts ...SGDOption) (*SGD, error) {
	if learningRate <= 0 {
		return nil, fmt.Errorf("opt: learning rate must be positive, got %v", learningRate)
	}
	s := &SGD{lr: learningRate}
	for _, opt := range opts {
		opt(s)
	}
	if s.momentum < 0 || s.momentum >= 1 {
		return nil, fmt.Errorf("opt: momentum must be in [0, 1), got %v", s.momentum)
	}
	return s, nil
}

// Step implements Optimizer.
func (s *SGD) Step(params, grad *mat.Dense) error {
	p, g, err := rawPair(params, grad)
	if err != nil {
		return err
	}
	if s.momentum == 0 {
		for i := range p {
			p[i] -= s.lr * g[i]
		}
		return nil
	}
	if s.buf == nil {
		s.buf = make([]float64, len(p))
	} else if len(s.buf) != len(p) {
		return fmt.Errorf("opt: parameter count changed from %d to %d", len(s.buf), len(p))
	}
	for i := range p {
		s.buf[i] = s.momentum*s.buf[i] + g[i]
		p[i] -= s.lr * s.buf[i]
	}
	return nil
}

// Snapshot implements Optimizer.
func (s *SGD) Snapshot() State {
	return State{Name: "sgd", M: append([]float64(nil), s.buf...)}
}

// Restore implements Optimizer.
func (s *SGD) Restore(st State) error {
	if st.Name != "sgd" {
		return fmt.Errorf("opt: cannot restore %q state into sgd", st.Name)
	}
	s.buf = append([]float64(nil), st.M...)
	return nil
}

// Adam implements bias-corrected adaptive moment estimation.
type Adam struct {
	lr    float64
	beta1 float64
	beta2 float64
	eps   float64

	step int64
	m    []float64
	v    []float64
}

// AdamOption configures NewAdam.
type AdamOption func(*Adam)

// WithBetas overrides the moment decay rates.
func WithBetas(beta1, beta2 float64) AdamOption {
	return func(a *Adam) {
		a.beta1 = beta1
		a.beta2 = beta2
	}
}

// WithEpsilon overrides the denominator stabilizer.
func WithEpsilon(eps float64) AdamOption {
	return func(a *Adam) { a.eps = eps }
}

// NewAdam returns an Adam optimizer with the usual defaults
// (beta1=0.9, beta2=0.999, eps=1e-8).
func NewAdam(learningRate float64, opts ...AdamOption) (*Adam, error) {
	if learningRate <= 0 {
		return nil, fmt.Errorf("opt: learning rate must be positive, got %v", learningRate)
	}
	a := &Adam{lr: learningRate, beta1: 0.9, beta2: 0.999, eps: 1e-8}
	for _, opt := range opts {
		opt(a)
	}
	if a.beta1 < 0 || a.beta1 >= 1 {
		return nil, fmt.Errorf("opt: beta1 must be in [0, 1), got %v", a.beta1)
	}
	if a.beta2 < 0 || a.beta2 >= 1 {
		return nil, fmt.Errorf("opt: beta2 must be in [0, 1), got %v", a.beta2)
	}
	if a.eps <= 0 {
		return nil, fmt.Errorf("opt: epsilon must be positive, got %v", a.eps)
	}
	return a, nil
}

// Step implements Optimizer.
func (a *Adam) Step(params, grad *mat.Dense) error {
	p, g, err := rawPair(params, grad)
	if err != nil {
		return err
	}
	if a.m == nil {
		a.m = make([]float64, len(p))
		a.v = make([]float64, len(p))
	} else if len(a.m) != len(p) {
		return fmt.Errorf("opt: parameter count changed from %d to %d", len(a.m), len(p))
	}
	a.step++
	c1 := 1 - math.Pow(a.beta1, float64(a.step))
	c2 := 1 - math.Pow(a.beta2, float64(a.step))
	for i := range p {
		a.m[i] = a.beta1*a.m[i] + (1-a.beta1)*g[i]
		a.v[i] = a.beta2*a.v[i] + (1-a.beta2)*g[i]*g[i]
		mHat := a.m[i] / c1
		vHat := a.v[i] / c2
		p[i] -= a.lr * mHat / (math.Sqrt(vHat) + a.eps)
	}
	return nil
}

// Snapshot implements Optimizer.
func (a *Adam) Snapshot() State {
	return State{
		Name: "adam",
		Step: a.step,
		M:    append([]float64(nil), a.m...),
		V:    append([]float64(nil), a.v...),
	}
}

// Restore implements Optimizer.
func (a *Adam) Restore(st State) error {
	if st.Name != "adam" {
		return fmt.Errorf("opt: cannot restore %q state into adam", st.Name)
	}
	if len(st.M) != len(st.V) {
		return fmt.Errorf("opt: moment lengths differ: %d vs %d", len(st.M), len(st.V))
	}
	a.step = st.Step
	a.m = append([]float64(nil), st.M...)
	a.v = append([]float64(nil), st.V...)
	return nil
}

// rawPair returns the backing slices of params and grad after checking that
// the shapes match and both matrices are contiguous.
func rawPair(params, grad *mat.Dense) ([]float64, []float64, error) {
	pr, pc := params.Dims()
	gr, gc := grad.Dims()
	if pr != gr || pc != gc {
		return nil, nil, fmt.Errorf("opt: gradient is %dx%d, parameters are %dx%d", gr, gc, pr, pc)
	}
	p := params.RawMatrix()
	g := grad.RawMatrix()
	if p.Stride != p.Cols || g.Stride != g.Cols {
		return nil, nil, errors.New("opt: matrices must be contiguous")
	}
	return p.Data, g.Data, nil
}
