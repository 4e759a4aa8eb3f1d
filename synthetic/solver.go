package synthetic

import (
	"gonum.org/v1/gonum/mat"

	"github.com/sayeed100095/subspace-sgd/targets"
)

// SolveWeight estimates one task's regression weights by combining an
// inverse covariance estimate with a sampled batch:
// invCov * Phi[states]^T * psi(states, task) / len(states).
func SolveWeight(invCov *mat.Dense, phi *mat.Dense, states []int, psi *targets.Matrix, task int) *mat.VecDense {
	batch := gatherRows(phi, states)
	y := psi.Lookup(states, task)

	d, _ := invCov.Dims()
	xty := mat.NewVecDense(d, nil)
	xty.MulVec(batch.T(), y)

	w := mat.NewVecDense(d, nil)
	w.MulVec(invCov, xty)
	w.ScaleVec(1/float64(len(states)), w)
	return w
}

// gatherRows stacks the chosen rows of phi into a batch matrix.
func gatherRows(phi *mat.Dense, states []int) *mat.Dense {
	_, d := phi.Dims()
	out := mat.NewDense(len(states), d, nil)
	for i, s := range states {
		out.SetRow(i, phi.RawRowView(s))
	}
	return out
}
