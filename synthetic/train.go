package synthetic

import (
	"errors"
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/mat"

	"github.com/sayeed100095/subspace-sgd/checkpoint"
	"github.com/sayeed100095/subspace-sgd/metrics"
	"github.com/sayeed100095/subspace-sgd/targets"
	"github.com/sayeed100095/subspace-sgd/writers"
)

// TrainOptions bundles everything Train needs. Psi and State are required;
// the rest fall back to quiet defaults.
type TrainOptions struct {
	Config Config

	// Psi is the dense target matrix, already rescaled if requested.
	Psi *mat.Dense

	// OptimalSubspace holds the top left singular vectors of Psi. When nil
	// it is computed from Psi directly.
	OptimalSubspace *mat.Dense

	// State is the starting point, typically from
	// checkpoint.Manager.RestoreOrInitialize.
	State checkpoint.State

	// Checkpoints, when set, receives periodic and final snapshots.
	Checkpoints *checkpoint.Manager

	// Writer receives the metric rows at every log period.
	Writer writers.Writer

	Logger *slog.Logger
}

// TrainResult carries the run's artifacts back to the caller.
type TrainResult struct {
	// Phis is the feature matrix trajectory: the starting matrix followed
	// by one snapshot per log period.
	Phis []*mat.Dense

	FinalStep int64

	// Metrics holds the last computed metric row, nil if the run was too
	// short to reach a log period.
	Metrics map[string]float64
}

// Train runs the optimization from opts.State to Config.NumEpochs steps,
// recording metrics every log period and snapshots every checkpoint
// period. Step failures abort the run; persistence failures only warn.
func Train(opts TrainOptions) (*TrainResult, error) {
	cfg := opts.Config
	if opts.Psi == nil {
		return nil, errors.New("synthetic: train needs a target matrix")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	writer := opts.Writer
	if writer == nil {
		writer = writers.Discard{}
	}
	// One terminal flush, even when a step aborts the run.
	defer func() {
		if err := writer.Flush(); err != nil {
			logger.Warn("metric flush failed", "err", err)
		}
	}()

	trainer, err := NewTrainer(cfg, targets.New(opts.Psi), opts.State)
	if err != nil {
		return nil, err
	}

	optimal := opts.OptimalSubspace
	if optimal == nil {
		optimal, err = metrics.OptimalSubspace(opts.Psi, cfg.FeatureDim)
		if err != nil {
			return nil, err
		}
	}

	logPeriod := cfg.NumEpochs / 1000
	if logPeriod < 1000 {
		logPeriod = 1000
	}
	checkpointPeriod := cfg.NumEpochs / 10
	if checkpointPeriod < 100_000 {
		checkpointPeriod = 100_000
	}

	phis := []*mat.Dense{mat.DenseCopyOf(trainer.Phi())}
	var last map[string]float64

	for step := opts.State.Step + 1; step <= cfg.NumEpochs; step++ {
		res, err := trainer.Step()
		if err != nil {
			return nil, fmt.Errorf("synthetic: step %d: %w", step, err)
		}

		if step%logPeriod == 0 {
			snap := mat.DenseCopyOf(trainer.Phi())
			phis = append(phis, snap)

			vals := metrics.Compute(snap, optimal)
			vals["grad_norm"] = mat.Norm(res.Gradient, 2)
			vals["frob_norm"] = metrics.ReconstructionError(snap, opts.Psi)
			last = vals

			if err := writer.WriteScalars(step, vals); err != nil {
				logger.Warn("metric write failed", "step", step, "err", err)
			}
			logger.Info("progress",
				"step", step,
				"cosine_similarity", vals["cosine_similarity"],
				"frob_norm", vals["frob_norm"])
		}

		if opts.Checkpoints != nil && step%checkpointPeriod == 0 {
			if err := opts.Checkpoints.Save(trainer.State()); err != nil {
				logger.Warn("checkpoint save failed", "step", step, "err", err)
			}
		}
	}

	if opts.Checkpoints != nil && trainer.StepCount() > opts.State.Step {
		if err := opts.Checkpoints.Save(trainer.State()); err != nil {
			logger.Warn("checkpoint save failed", "step", trainer.StepCount(), "err", err)
		}
	}

	return &TrainResult{
		Phis:      phis,
		FinalStep: trainer.StepCount(),
		Metrics:   last,
	}, nil
}
