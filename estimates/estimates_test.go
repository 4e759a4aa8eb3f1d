package estimates

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/sayeed100095/subspace-sgd/sample"
)

// cycleSampler deterministically walks the state space in order, so
// estimator tests are exact replays.
type cycleSampler struct {
	numStates int
	next      int
}

func (c *cycleSampler) Sample(key sample.Key, n int) ([]int, sample.Key, error) {
	states := make([]int, n)
	for i := range states {
		states[i] = c.next
		c.next = (c.next + 1) % c.numStates
	}
	return states, key, nil
}

func TestMaxSquaredNorm(t *testing.T) {
	phi := mat.NewDense(3, 2, []float64{
		1, 2, // squared norm 5
		0, 0, // squared norm 0
		3, 4, // squared norm 25
	})
	if got := MaxSquaredNorm(phi); got != 25 {
		t.Errorf("MaxSquaredNorm = %v, want 25", got)
	}

	zero := mat.NewDense(2, 2, nil)
	if got := MaxSquaredNorm(zero); got != 0 {
		t.Errorf("MaxSquaredNorm of zero matrix = %v, want 0", got)
	}
}

func TestOracleInvertsCovariance(t *testing.T) {
	phi := randomDense(10, 3, 11)
	oracle, err := Oracle(phi)
	if err != nil {
		t.Fatalf("Oracle failed: %v", err)
	}

	// oracle * (Phi^T Phi / numStates) must be the identity for a
	// full-rank feature matrix.
	var cov, prod mat.Dense
	cov.Mul(phi.T(), phi)
	cov.Scale(1.0/10, &cov)
	prod.Mul(oracle, &cov)

	if !mat.EqualApprox(&prod, eye(3), 1e-10) {
		t.Errorf("oracle * covariance != identity:\n%v", mat.Formatted(&prod))
	}
}

func TestOracleRankDeficient(t *testing.T) {
	// Second column is a multiple of the first, so the gram matrix is
	// singular and only the pseudo-inverse is defined.
	phi := mat.NewDense(4, 2, []float64{
		1, 2,
		2, 4,
		3, 6,
		4, 8,
	})
	oracle, err := Oracle(phi)
	if err != nil {
		t.Fatalf("Oracle failed: %v", err)
	}

	// Moore-Penrose condition: G * pinv(G) * G == G.
	var gram, tmp, back mat.Dense
	gram.Mul(phi.T(), phi)
	tmp.Scale(1.0/4, oracle) // undo the numStates scaling
	back.Mul(&gram, &tmp)
	back.Mul(&back, &gram)

	if !mat.EqualApprox(&back, &gram, 1e-8) {
		t.Errorf("pseudo-inverse condition violated:\n%v", mat.Formatted(&back))
	}
}

func TestNaiveFullBatchMatchesOracle(t *testing.T) {
	phi := randomDense(8, 3, 5)
	src, err := sample.NewSampler(8, sample.WithReplacement(false))
	if err != nil {
		t.Fatal(err)
	}

	naive, _, err := Naive(phi, src, sample.NewKey(1), 8)
	if err != nil {
		t.Fatalf("Naive failed: %v", err)
	}
	oracle, err := Oracle(phi)
	if err != nil {
		t.Fatalf("Oracle failed: %v", err)
	}

	if !mat.EqualApprox(naive, oracle, 1e-9) {
		t.Error("full without-replacement batch did not reproduce the oracle")
	}
}

func TestNaiveReproducible(t *testing.T) {
	phi := randomDense(20, 2, 9)
	src, err := sample.NewSampler(20)
	if err != nil {
		t.Fatal(err)
	}

	key := sample.NewKey(77)
	first, next1, err := Naive(phi, src, key, 6)
	if err != nil {
		t.Fatal(err)
	}
	second, next2, err := Naive(phi, src, key, 6)
	if err != nil {
		t.Fatal(err)
	}

	if !mat.Equal(first, second) {
		t.Error("same key produced different estimates")
	}
	if next1 != next2 {
		t.Error("same key produced different successors")
	}
	if next1 == key {
		t.Error("Naive did not advance the key")
	}
}

func TestLissaConvergesSingleState(t *testing.T) {
	// With one state the series has a closed form: the estimate contracts
	// toward 1/a^2 by a factor |1-kappa| per iteration.
	const a = 2.5
	phi := mat.NewDense(1, 1, []float64{a})

	truth := 1 / (a * a)
	prev := math.Inf(1)
	for _, iters := range []int{1, 5, 20, 80} {
		est, _, err := Lissa(phi, &cycleSampler{numStates: 1}, sample.NewKey(1), iters, 1.9, 0)
		if err != nil {
			t.Fatalf("Lissa(%d) failed: %v", iters, err)
		}
		gap := math.Abs(est.At(0, 0) - truth)
		if gap >= prev {
			t.Errorf("error did not shrink at %d iterations: %v >= %v", iters, gap, prev)
		}
		prev = gap
	}

	if prev > 1e-3 {
		t.Errorf("estimate still %v away from %v after 80 iterations", prev, truth)
	}
}

func TestLissaImprovesWithIterations(t *testing.T) {
	phi := randomDense(6, 2, 21)
	oracle, err := Oracle(phi)
	if err != nil {
		t.Fatal(err)
	}

	distance := func(iters int) float64 {
		est, _, err := Lissa(phi, &cycleSampler{numStates: 6}, sample.NewKey(2), iters, 0.5, 0)
		if err != nil {
			t.Fatalf("Lissa(%d) failed: %v", iters, err)
		}
		var diff mat.Dense
		diff.Sub(est, oracle)
		return mat.Norm(&diff, 2)
	}

	short := distance(1)
	long := distance(900)
	if long >= short {
		t.Errorf("longer run did not improve: %v (900 iters) >= %v (1 iter)", long, short)
	}
}

func TestLissaUsesProvidedFeatureNorm(t *testing.T) {
	phi := randomDense(5, 2, 31)
	exact := MaxSquaredNorm(phi)

	withExact, _, err := Lissa(phi, &cycleSampler{numStates: 5}, sample.NewKey(3), 10, 1.5, exact)
	if err != nil {
		t.Fatal(err)
	}
	withDefault, _, err := Lissa(phi, &cycleSampler{numStates: 5}, sample.NewKey(3), 10, 1.5, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(withExact, withDefault) {
		t.Error("explicit exact norm and default norm disagree")
	}

	// A different norm scales the contraction and must change the result.
	withOther, _, err := Lissa(phi, &cycleSampler{numStates: 5}, sample.NewKey(3), 10, 1.5, 2*exact)
	if err != nil {
		t.Fatal(err)
	}
	if mat.Equal(withExact, withOther) {
		t.Error("doubled feature norm produced an identical estimate")
	}
}

func TestLissaValidation(t *testing.T) {
	phi := randomDense(4, 2, 41)
	src := &cycleSampler{numStates: 4}

	tests := []struct {
		name        string
		iterations  int
		kappa       float64
		featureNorm float64
		phi         *mat.Dense
	}{
		{name: "zero iterations", iterations: 0, kappa: 1, phi: phi},
		{name: "negative iterations", iterations: -3, kappa: 1, phi: phi},
		{name: "zero kappa", iterations: 5, kappa: 0, phi: phi},
		{name: "zero features", iterations: 5, kappa: 1, phi: mat.NewDense(4, 2, nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Lissa(tt.phi, src, sample.NewKey(1), tt.iterations, tt.kappa, tt.featureNorm)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestEstimatorsPropagateSamplerErrors(t *testing.T) {
	phi := randomDense(4, 2, 51)
	src, err := sample.NewSampler(4, sample.WithReplacement(false))
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := Naive(phi, src, sample.NewKey(1), 5); !errors.Is(err, sample.ErrBatchTooLarge) {
		t.Errorf("Naive: got error %v, want ErrBatchTooLarge", err)
	}
}

func BenchmarkEstimators(b *testing.B) {
	for _, d := range []int{4, 16} {
		phi := randomDense(128, d, 61)
		src, err := sample.NewSampler(128)
		if err != nil {
			b.Fatal(err)
		}

		b.Run(fmt.Sprintf("oracle_d%d", d), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				if _, err := Oracle(phi); err != nil {
					b.Fatal(err)
				}
			}
		})
		b.Run(fmt.Sprintf("naive_d%d", d), func(b *testing.B) {
			key := sample.NewKey(1)
			for i := 0; i < b.N; i++ {
				var err error
				_, key, err = Naive(phi, src, key, 32)
				if err != nil {
					b.Fatal(err)
				}
			}
		})
		b.Run(fmt.Sprintf("lissa_d%d", d), func(b *testing.B) {
			key := sample.NewKey(1)
			for i := 0; i < b.N; i++ {
				var err error
				_, key, err = Lissa(phi, src, key, 32, 1.9, 0)
				if err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// eye returns the n by n identity.
func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// randomDense builds a deterministic pseudo-random matrix for tests.
func randomDense(r, c int, seed int64) *mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	data := make([]float64, r*c)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return mat.NewDense(r, c, data)
}
