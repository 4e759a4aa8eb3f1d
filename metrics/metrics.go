// Package metrics implements the subspace-quality diagnostics logged during
// training. Diagnostics never fail: numerical breakdowns surface as NaN so a
// bad step cannot abort a run.
package metrics

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Compute returns the diagnostic scalars comparing the feature matrix
// against the optimal subspace. One-dimensional features report dot_product,
// larger ones grassmann_distance.
func Compute(phi, optimal *mat.Dense) map[string]float64 {
	rows, d := phi.Dims()
	out := map[string]float64{
		"cosine_similarity":           CosineSimilarity(phi, optimal),
		"feature_norm":                mat.Norm(phi, 2) / float64(rows),
		"eigengame_subspace_distance": SubspaceDistance(phi, optimal),
	}
	if d == 1 {
		out["dot_product"] = NormalizedDotProduct(phi, optimal)
	} else {
		out["grassmann_distance"] = GrassmannDistance(phi, optimal)
	}
	return out
}

// CosineSimilarity measures how much of the optimal subspace survives
// least-squares projection onto the feature span. A singular feature gram
// matrix yields NaN.
func CosineSimilarity(phi, optimal *mat.Dense) float64 {
	var gram, rhs, w mat.Dense
	gram.Mul(phi.T(), phi)
	rhs.Mul(phi.T(), optimal)
	if err := w.Solve(&gram, &rhs); err != nil {
		// Ill-conditioned solves still produce a usable result; exact
		// singularity becomes NaN.
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return math.NaN()
		}
	}
	var proj mat.Dense
	proj.Mul(phi, &w)
	return mat.Norm(&proj, 2)
}

// NormalizedDotProduct is the absolute cosine between two single-column
// matrices.
func NormalizedDotProduct(phi, optimal *mat.Dense) float64 {
	a := phi.ColView(0)
	b := optimal.ColView(0)
	na := mat.Norm(a, 2)
	nb := mat.Norm(b, 2)
	if na == 0 || nb == 0 {
		return math.NaN()
	}
	return math.Abs(mat.Dot(a, b)) / (na * nb)
}

// GrassmannDistance is the geodesic distance between the spans of two
// matrices with the same column count. Principal-angle cosines are rounded
// to six decimals so orthonormal bases do not produce NaN from roundoff.
func GrassmannDistance(phi, optimal *mat.Dense) float64 {
	q1, err := thinQ(phi)
	if err != nil {
		return math.NaN()
	}
	q2, err := thinQ(optimal)
	if err != nil {
		return math.NaN()
	}

	var cross mat.Dense
	cross.Mul(q1.T(), q2)
	var svd mat.SVD
	if !svd.Factorize(&cross, mat.SVDNone) {
		return math.NaN()
	}

	vals := svd.Values(nil)
	angles := make([]float64, len(vals))
	for i, sv := range vals {
		sv = math.Round(sv*1e6) / 1e6
		if sv > 1 {
			sv = 1
		} else if sv < -1 {
			sv = -1
		}
		a := math.Acos(sv)
		angles[i] = a * a
	}
	return math.Sqrt(floats.Sum(angles))
}

// SubspaceDistance is the eigengame subspace measure: one minus the average
// squared principal cosine between the feature span and the optimal
// subspace. tr(U* U*^T U U^T) reduces to the squared Frobenius norm of
// U*^T U.
func SubspaceDistance(phi, optimal *mat.Dense) float64 {
	_, d := phi.Dims()
	var svd mat.SVD
	if !svd.Factorize(phi, mat.SVDThinU) {
		return math.NaN()
	}
	var u mat.Dense
	svd.UTo(&u)

	var cross mat.Dense
	cross.Mul(optimal.T(), &u)
	n := mat.Norm(&cross, 2)
	return 1 - n*n/float64(d)
}

// ReconstructionError is the Frobenius norm of the target residual after the
// least-squares fit through the feature span, the global objective training
// should drive down.
func ReconstructionError(phi, psi *mat.Dense) float64 {
	p, err := pinv(phi)
	if err != nil {
		return math.NaN()
	}
	var w, rec mat.Dense
	w.Mul(p, psi)
	rec.Mul(phi, &w)
	rec.Sub(psi, &rec)
	return mat.Norm(&rec, 2)
}

// thinQ returns the reduced orthonormal factor of a.
func thinQ(a *mat.Dense) (*mat.Dense, error) {
	r, c := a.Dims()
	if r < c {
		return nil, errors.New("metrics: more columns than rows")
	}
	var qr mat.QR
	qr.Factorize(a)
	var q mat.Dense
	qr.QTo(&q)
	return mat.DenseCopyOf(q.Slice(0, r, 0, c)), nil
}

// machEps is the double-precision machine epsilon, matching the numpy
// pseudo-inverse cutoff convention.
const machEps = 2.220446049250313e-16

// pinv computes the Moore-Penrose pseudo-inverse via SVD, zeroing singular
// values below the relative cutoff.
func pinv(a *mat.Dense) (*mat.Dense, error) {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, errors.New("metrics: svd did not converge")
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
