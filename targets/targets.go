// Package targets provides the fixed target matrix that training
// approximates, plus the spectrum-shaping transforms applied to synthetic
// targets.
package targets

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Matrix is a read-only view over a states by tasks target matrix.
type Matrix struct {
	psi *mat.Dense
}

// New wraps a target matrix. The matrix is not copied, so callers must not
// mutate it afterwards.
func New(psi *mat.Dense) *Matrix {
	return &Matrix{psi: psi}
}

// Dims returns the number of states and tasks.
func (m *Matrix) Dims() (states, tasks int) {
	return m.psi.Dims()
}

// Lookup returns one task's target values at the given states.
func (m *Matrix) Lookup(states []int, task int) *mat.VecDense {
	out := mat.NewVecDense(len(states), nil)
	for i, s := range states {
		out.SetVec(i, m.psi.At(s, task))
	}
	return out
}

// ErrUnknownRescale is returned when parsing an unrecognized rescale mode.
var ErrUnknownRescale = errors.New("targets: unknown rescale mode")

// Rescale selects how the singular-value spectrum of a synthetic target is
// reshaped before training.
type Rescale int

const (
	// RescaleNone leaves the target untouched.
	RescaleNone Rescale = iota
	// RescaleLinear spaces the singular values evenly from 1000 down to 1.
	RescaleLinear
	// RescaleExp spaces the singular values log-evenly from 1e3 down to 1.
	RescaleExp
)

// ParseRescale maps a configuration name to a Rescale. The empty string
// selects RescaleNone.
func ParseRescale(s string) (Rescale, error) {
	switch s {
	case "", "none":
		return RescaleNone, nil
	case "linear":
		return RescaleLinear, nil
	case "exp":
		return RescaleExp, nil
	}
	return RescaleNone, fmt.Errorf("%w: %q", ErrUnknownRescale, s)
}

func (r Rescale) String() string {
	switch r {
	case RescaleNone:
		return "none"
	case RescaleLinear:
		return "linear"
	case RescaleExp:
		return "exp"
	}
	return fmt.Sprintf("rescale(%d)", int(r))
}

// MarshalText implements encoding.TextMarshaler.
func (r Rescale) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Rescale) UnmarshalText(text []byte) error {
	parsed, err := ParseRescale(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Apply reshapes the spectrum of psi in place according to r.
func (r Rescale) Apply(psi *mat.Dense) error {
	switch r {
	case RescaleNone:
		return nil
	case RescaleLinear:
		return rescaleSpectrum(psi, linearRamp)
	case RescaleExp:
		return rescaleSpectrum(psi, expRamp)
	}
	return fmt.Errorf("%w: %d", ErrUnknownRescale, int(r))
}

// rescaleSpectrum replaces the singular values of psi with ramp(i, n) while
// keeping its singular vectors.
func rescaleSpectrum(psi *mat.Dense, ramp func(i, n int) float64) error {
	var svd mat.SVD
	if !svd.Factorize(psi, mat.SVDThin) {
		return errors.New("targets: svd did not converge")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	rows, n := u.Dims()
	for j := 0; j < n; j++ {
		sv := ramp(j, n)
		for i := 0; i < rows; i++ {
			u.Set(i, j, u.At(i, j)*sv)
		}
	}
	psi.Mul(&u, v.T())
	return nil
}

// Ramps run from largest to smallest so the reshaped spectrum keeps the
// descending singular-value order.

func linearRamp(i, n int) float64 {
	if n == 1 {
		return 1000
	}
	t := float64(i) / float64(n-1)
	return 1000*(1-t) + t
}

func expRamp(i, n int) float64 {
	if n == 1 {
		return 1000
	}
	t := float64(i) / float64(n-1)
	return math.Pow(10, 3*(1-t))
}
