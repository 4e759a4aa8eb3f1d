package synthetic

import "gonum.org/v1/gonum/mat"

// GradientBuilder turns per-state errors and the broadcast weight vector
// into a full feature-matrix gradient.
type GradientBuilder interface {
	Build(phi *mat.Dense, states []int, estErr, weight *mat.VecDense) *mat.Dense
}

// TabularGradient writes each state's error-scaled weight row directly into
// the gradient. When a batch repeats a state the last occurrence wins; with
// batches much smaller than the state space duplicates are rare and the
// approximation adds no bias.
type TabularGradient struct{}

// Build implements GradientBuilder.
func (TabularGradient) Build(phi *mat.Dense, states []int, estErr, weight *mat.VecDense) *mat.Dense {
	rows, d := phi.Dims()
	grad := mat.NewDense(rows, d, nil)
	for i, s := range states {
		e := estErr.AtVec(i)
		for j := 0; j < d; j++ {
			grad.Set(s, j, e*weight.AtVec(j))
		}
	}
	return grad
}

// FeatureMap exposes a differentiable mapping from parameters to feature
// rows. Pullback applies the reverse-mode derivative at the sampled states
// to a cotangent of the produced rows.
type FeatureMap interface {
	Rows(params *mat.Dense, states []int) *mat.Dense
	Pullback(params *mat.Dense, states []int, cotangent *mat.Dense) *mat.Dense
}

// TableLookup is the identity feature map over a raw feature table. Its
// pullback is the gather adjoint: cotangent rows scatter-add into the
// parameter gradient, so repeated states accumulate.
type TableLookup struct{}

// Rows implements FeatureMap.
func (TableLookup) Rows(params *mat.Dense, states []int) *mat.Dense {
	return gatherRows(params, states)
}

// Pullback implements FeatureMap.
func (TableLookup) Pullback(params *mat.Dense, states []int, cotangent *mat.Dense) *mat.Dense {
	rows, d := params.Dims()
	grad := mat.NewDense(rows, d, nil)
	for i, s := range states {
		for j := 0; j < d; j++ {
			grad.Set(s, j, grad.At(s, j)+cotangent.At(i, j))
		}
	}
	return grad
}

// PullbackGradient differentiates the batch loss through a feature map
// instead of assuming direct table access. A nil Map defaults to
// TableLookup.
type PullbackGradient struct {
	Map FeatureMap
}

// Build implements GradientBuilder.
func (p PullbackGradient) Build(phi *mat.Dense, states []int, estErr, weight *mat.VecDense) *mat.Dense {
	fm := p.Map
	if fm == nil {
		fm = TableLookup{}
	}
	var cot mat.Dense
	cot.Outer(1, estErr, weight)
	return fm.Pullback(phi, states, &cot)
}
