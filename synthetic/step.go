package synthetic

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/sayeed100095/subspace-sgd/checkpoint"
	"github.com/sayeed100095/subspace-sgd/estimates"
	"github.com/sayeed100095/subspace-sgd/opt"
	"github.com/sayeed100095/subspace-sgd/sample"
	"github.com/sayeed100095/subspace-sgd/targets"
)

// featureNormDecay is the running-average step for the estimated max squared
// feature norm.
const featureNormDecay = 0.01

// Trainer owns the mutable state of one run and advances it one full
// estimate-solve-update cycle at a time. It is not safe for concurrent use.
type Trainer struct {
	cfg     Config
	phi     *mat.Dense
	psi     *targets.Matrix
	sampler *sample.Sampler
	opt     opt.Optimizer
	grad    GradientBuilder

	// weights is the explicit method's weight matrix. It is always
	// materialized so the key stream layout is identical across methods.
	weights     *mat.Dense
	featureNorm float64
	key         sample.Key
	step        int64

	allStates []int
}

// StepResult reports what one step did, for logging and diagnostics.
type StepResult struct {
	Step     int64
	Task     int
	Source   []int
	Gradient *mat.Dense
}

// NewTrainer assembles a run from its configuration, target and starting
// state. The feature matrix is copied; the caller's stays untouched.
func NewTrainer(cfg Config, psi *targets.Matrix, st checkpoint.State) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if st.Phi == nil {
		return nil, errors.New("synthetic: starting state has no feature matrix")
	}
	pr, pc := st.Phi.Dims()
	if pr != cfg.NumStates || pc != cfg.FeatureDim {
		return nil, fmt.Errorf("synthetic: feature matrix is %dx%d, config wants %dx%d", pr, pc, cfg.NumStates, cfg.FeatureDim)
	}
	tr, tc := psi.Dims()
	if tr != cfg.NumStates || tc != cfg.NumTasks {
		return nil, fmt.Errorf("synthetic: target matrix is %dx%d, config wants %dx%d", tr, tc, cfg.NumStates, cfg.NumTasks)
	}

	sampler, err := sample.NewSampler(cfg.NumStates, sample.WithReplacement(cfg.SampleWithReplacement))
	if err != nil {
		return nil, err
	}
	optimizer, err := opt.New(cfg.Optimizer, cfg.LearningRate)
	if err != nil {
		return nil, err
	}
	if st.Optimizer.Name != "" {
		if err := optimizer.Restore(st.Optimizer); err != nil {
			return nil, err
		}
	}

	t := &Trainer{
		cfg:         cfg,
		phi:         mat.DenseCopyOf(st.Phi),
		psi:         psi,
		sampler:     sampler,
		opt:         optimizer,
		featureNorm: st.FeatureNorm,
		key:         st.Key,
		step:        st.Step,
	}
	if cfg.UseTabularGradient {
		t.grad = TabularGradient{}
	} else {
		t.grad = PullbackGradient{Map: TableLookup{}}
	}

	if st.ExplicitWeights != nil {
		wr, wc := st.ExplicitWeights.Dims()
		if wr != cfg.FeatureDim || wc != cfg.NumTasks {
			return nil, fmt.Errorf("synthetic: weight matrix is %dx%d, config wants %dx%d", wr, wc, cfg.FeatureDim, cfg.NumTasks)
		}
		t.weights = mat.DenseCopyOf(st.ExplicitWeights)
	} else {
		// Fresh runs split once for the weight draw, every method alike,
		// so the step key sequence does not depend on the method. Restored
		// runs carry their weights and must not burn the split again.
		var weightKey sample.Key
		t.key, weightKey = t.key.Split()
		t.weights, _ = sample.NormalMatrix(weightKey, cfg.FeatureDim, cfg.NumTasks)
	}

	if cfg.EstimateFeatureNorm && t.featureNorm == 0 {
		t.featureNorm = estimates.MaxSquaredNorm(t.phi)
	}

	t.allStates = make([]int, cfg.NumStates)
	for i := range t.allStates {
		t.allStates[i] = i
	}
	return t, nil
}

// Phi returns the live feature matrix. Callers must treat it as read-only.
func (t *Trainer) Phi() *mat.Dense { return t.phi }

// StepCount returns the number of completed steps.
func (t *Trainer) StepCount() int64 { return t.step }

// FeatureNorm returns the current running max-squared-norm estimate.
func (t *Trainer) FeatureNorm() float64 { return t.featureNorm }

// Weights returns the explicit method's weight matrix. Callers must treat
// it as read-only.
func (t *Trainer) Weights() *mat.Dense { return t.weights }

// State snapshots the run for checkpointing.
func (t *Trainer) State() checkpoint.State {
	return checkpoint.State{
		Step:            t.step,
		Phi:             mat.DenseCopyOf(t.phi),
		Optimizer:       t.opt.Snapshot(),
		ExplicitWeights: mat.DenseCopyOf(t.weights),
		FeatureNorm:     t.featureNorm,
		Key:             t.key,
	}
}

// Step runs one estimate-solve-update cycle. Sampling and optimizer
// failures abort the step with the feature matrix untouched.
func (t *Trainer) Step() (*StepResult, error) {
	cfg := t.cfg

	// Draw the source states to update and the step's task.
	source, key, err := t.sampler.Sample(t.key, cfg.MainBatchSize)
	if err != nil {
		return nil, err
	}
	var task int
	task, key = key.Intn(cfg.NumTasks)

	// Update the feature norm estimate from the sampled rows before the
	// estimators run, avoiding a bad first gradient.
	if cfg.Method == MethodLissa && cfg.EstimateFeatureNorm {
		observed := estimates.MaxSquaredNorm(gatherRows(t.phi, source))
		t.featureNorm += featureNormDecay * (observed - t.featureNorm)
	}

	weight1, weight2, key, err := t.solveWeights(task, key)
	if err != nil {
		return nil, err
	}

	// Estimated error of the first weight vector at the source states.
	batch := gatherRows(t.phi, source)
	estErr := mat.NewVecDense(len(source), nil)
	estErr.MulVec(batch, weight1)
	estErr.SubVec(estErr, t.psi.Lookup(source, task))

	grad := t.grad.Build(t.phi, source, estErr, weight2)
	if err := t.opt.Step(t.phi, grad); err != nil {
		return nil, err
	}

	if cfg.Method == MethodExplicit {
		// The weight gradient reads the already-updated features.
		updated := gatherRows(t.phi, source)
		wg := mat.NewVecDense(cfg.FeatureDim, nil)
		wg.MulVec(updated.T(), estErr)
		for i := 0; i < cfg.FeatureDim; i++ {
			t.weights.Set(i, task, t.weights.At(i, task)-cfg.LearningRate*wg.AtVec(i))
		}
	}

	t.key = key
	t.step++
	return &StepResult{Step: t.step, Task: task, Source: source, Gradient: grad}, nil
}

// solveWeights produces the step's two weight vectors according to the
// configured method.
func (t *Trainer) solveWeights(task int, key sample.Key) (*mat.VecDense, *mat.VecDense, sample.Key, error) {
	cfg := t.cfg
	switch cfg.Method {
	case MethodExplicit:
		// Read the maintained weight column; both vectors share it.
		col := mat.NewVecDense(cfg.FeatureDim, nil)
		for i := 0; i < cfg.FeatureDim; i++ {
			col.SetVec(i, t.weights.At(i, task))
		}
		return col, col, key, nil

	case MethodOracle:
		// The exact covariance with all states for the weight vector.
		cov, err := estimates.Oracle(t.phi)
		if err != nil {
			return nil, nil, key, err
		}
		w := SolveWeight(cov, t.phi, t.allStates, t.psi, task)
		return w, w, key, nil

	case MethodNaive:
		// One covariance estimate and one batch shared by both vectors.
		cov, key, err := estimates.Naive(t.phi, t.sampler, key, cfg.CovarianceBatchSize)
		if err != nil {
			return nil, nil, key, err
		}
		states, key, err := t.sampler.Sample(key, cfg.WeightBatchSize)
		if err != nil {
			return nil, nil, key, err
		}
		w := SolveWeight(cov, t.phi, states, t.psi, task)
		return w, w, key, nil

	case MethodNaivePP:
		cov1, key, err := estimates.Naive(t.phi, t.sampler, key, cfg.CovarianceBatchSize)
		if err != nil {
			return nil, nil, key, err
		}
		cov2, key, err := estimates.Naive(t.phi, t.sampler, key, cfg.CovarianceBatchSize)
		if err != nil {
			return nil, nil, key, err
		}
		states1, key, err := t.sampler.Sample(key, cfg.WeightBatchSize)
		if err != nil {
			return nil, nil, key, err
		}
		states2, key, err := t.sampler.Sample(key, cfg.WeightBatchSize)
		if err != nil {
			return nil, nil, key, err
		}
		w1 := SolveWeight(cov1, t.phi, states1, t.psi, task)
		w2 := SolveWeight(cov2, t.phi, states2, t.psi, task)
		return w1, w2, key, nil

	case MethodLissa:
		// Exact norm unless the running estimate is switched on.
		norm := 0.0
		if cfg.EstimateFeatureNorm {
			norm = t.featureNorm
		}
		cov1, key, err := estimates.Lissa(t.phi, t.sampler, key, cfg.CovarianceBatchSize, cfg.LissaKappa, norm)
		if err != nil {
			return nil, nil, key, err
		}
		cov2, key, err := estimates.Lissa(t.phi, t.sampler, key, cfg.CovarianceBatchSize, cfg.LissaKappa, norm)
		if err != nil {
			return nil, nil, key, err
		}
		// Two separate weight batches keep the estimates independent.
		states1, key, err := t.sampler.Sample(key, cfg.WeightBatchSize)
		if err != nil {
			return nil, nil, key, err
		}
		states2, key, err := t.sampler.Sample(key, cfg.WeightBatchSize)
		if err != nil {
			return nil, nil, key, err
		}
		w1 := SolveWeight(cov1, t.phi, states1, t.psi, task)
		w2 := SolveWeight(cov2, t.phi, states2, t.psi, task)
		return w1, w2, key, nil
	}
	return nil, nil, key, fmt.Errorf("%w: %q", ErrUnknownMethod, t.cfg.Method.String())
}
