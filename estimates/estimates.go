// Package estimates implements estimators of the inverse feature covariance
// matrix numStates * pinv(Phi^T Phi). The stochastic ones consume a key and
// return its successor along with the estimate.
package estimates

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/sayeed100095/subspace-sgd/sample"
)

// StateSampler draws batches of state indices for the stochastic estimators.
// *sample.Sampler satisfies it; tests substitute deterministic stubs.
type StateSampler interface {
	Sample(key sample.Key, n int) ([]int, sample.Key, error)
}

// MaxSquaredNorm returns the largest squared row norm of the feature matrix.
// It bounds the lissa contraction: kappa must stay below 2 relative to it.
func MaxSquaredNorm(phi *mat.Dense) float64 {
	rows, _ := phi.Dims()
	maxNorm := 0.0
	for i := 0; i < rows; i++ {
		row := phi.RawRowView(i)
		if n := floats.Dot(row, row); n > maxNorm {
			maxNorm = n
		}
	}
	return maxNorm
}

// Oracle returns the exact inverse covariance. It consumes no randomness.
func Oracle(phi *mat.Dense) (*mat.Dense, error) {
	rows, _ := phi.Dims()
	var gram mat.Dense
	gram.Mul(phi.T(), phi)
	inv, err := pinv(&gram)
	if err != nil {
		return nil, err
	}
	inv.Scale(float64(rows), inv)
	return inv, nil
}

// Naive draws one batch of states and pseudo-inverts its empirical second
// moment matrix.
func Naive(phi *mat.Dense, src StateSampler, key sample.Key, batchSize int) (*mat.Dense, sample.Key, error) {
	states, next, err := src.Sample(key, batchSize)
	if err != nil {
		return nil, key, err
	}
	batch := gather(phi, states)
	var moment mat.Dense
	moment.Mul(batch.T(), batch)
	moment.Scale(1/float64(len(states)), &moment)
	inv, err := pinv(&moment)
	if err != nil {
		return nil, next, err
	}
	return inv, next, nil
}

// Lissa estimates the inverse covariance with a truncated Neumann series,
// drawing one state per iteration. kappa controls the contraction and must
// be positive; featureNorm is the max squared row norm to scale it by, and
// any value <= 0 selects the exact norm of phi.
func Lissa(phi *mat.Dense, src StateSampler, key sample.Key, iterations int, kappa, featureNorm float64) (*mat.Dense, sample.Key, error) {
	if iterations <= 0 {
		return nil, key, fmt.Errorf("estimates: lissa iterations must be positive, got %d", iterations)
	}
	if kappa <= 0 {
		return nil, key, fmt.Errorf("estimates: lissa kappa must be positive, got %v", kappa)
	}
	if featureNorm <= 0 {
		featureNorm = MaxSquaredNorm(phi)
	}
	if featureNorm == 0 {
		return nil, key, errors.New("estimates: zero feature matrix")
	}

	_, d := phi.Dims()
	scale := kappa / featureNorm
	est := mat.NewDense(d, d, nil)
	for i := 0; i < d; i++ {
		est.Set(i, i, scale)
	}

	w := mat.NewVecDense(d, nil)
	for j := 0; j < iterations; j++ {
		var states []int
		var err error
		states, key, err = src.Sample(key, 1)
		if err != nil {
			return nil, key, err
		}
		// est <- scale*I + est*(I - scale*row*row^T)
		row := phi.RowView(states[0])
		w.MulVec(est, row)
		est.RankOne(est, -scale, w, row)
		for i := 0; i < d; i++ {
			est.Set(i, i, est.At(i, i)+scale)
		}
	}
	return est, key, nil
}

// machEps is the double-precision machine epsilon, matching the numpy
// pseudo-inverse cutoff convention.
const machEps = 2.220446049250313e-16

// pinv computes the Moore-Penrose pseudo-inverse via SVD, zeroing singular
// values below the relative cutoff.
func pinv(a *mat.Dense) (*mat.Dense, error) {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, errors.New("estimates: svd did not converge")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	vals := svd.Values(nil)

	r, c := a.Dims()
	tol := float64(max(r, c)) * vals[0] * machEps
	vr, _ := v.Dims()
	for j, sv := range vals {
		inv := 0.0
		if sv > tol {
			inv = 1 / sv
		}
		for i := 0; i < vr; i++ {
			v.Set(i, j, v.At(i, j)*inv)
		}
	}

	var out mat.Dense
	out.Mul(&v, u.T())
	return &out, nil
}

// gather stacks the chosen rows of phi into a new batch matrix.
func gather(phi *mat.Dense, states []int) *mat.Dense {
	_, d := phi.Dims()
	out := mat.NewDense(len(states), d, nil)
	for i, s := range states {
		out.SetRow(i, phi.RawRowView(s))
	}
	return out
}
