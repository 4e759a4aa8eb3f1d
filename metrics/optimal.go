package metrics

import (
	"errors"
	"fmt"
	"os"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

// OptimalSubspace returns the top-d left singular vectors of the target
// matrix, the subspace training is measured against.
func OptimalSubspace(psi *mat.Dense, d int) (*mat.Dense, error) {
	rows, cols := psi.Dims()
	if d <= 0 || d > min(rows, cols) {
		return nil, fmt.Errorf("metrics: subspace dimension %d out of range for %dx%d target", d, rows, cols)
	}
	var svd mat.SVD
	if !svd.Factorize(psi, mat.SVDThinU) {
		return nil, errors.New("metrics: svd did not converge")
	}
	var u mat.Dense
	svd.UTo(&u)
	return mat.DenseCopyOf(u.Slice(0, rows, 0, d)), nil
}

// LoadOptimalSubspace reads a precomputed left-singular-vector matrix from a
// .npy file and returns its first d columns.
func LoadOptimalSubspace(path string, d int) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var u mat.Dense
	if err := npyio.Read(f, &u); err != nil {
		return nil, fmt.Errorf("metrics: reading %s: %w", path, err)
	}
	rows, cols := u.Dims()
	if d <= 0 || d > cols {
		return nil, fmt.Errorf("metrics: subspace dimension %d out of range for %dx%d array", d, rows, cols)
	}
	if cols == d {
		return &u, nil
	}
	return mat.DenseCopyOf(u.Slice(0, rows, 0, d)), nil
}
