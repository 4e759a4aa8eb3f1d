// Command synthetic trains a low-rank feature matrix against a randomly
// drawn target and records how well the learned span tracks the target's
// principal subspace.
//
// A run leaves its artifacts in -workdir: run.json with the resolved
// configuration, metrics.csv with the logged diagnostics, a checkpoints/
// directory the next invocation resumes from, and phis.gob with the
// feature-matrix trajectory.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/sayeed100095/subspace-sgd/checkpoint"
	"github.com/sayeed100095/subspace-sgd/metrics"
	"github.com/sayeed100095/subspace-sgd/sample"
	"github.com/sayeed100095/subspace-sgd/synthetic"
	"github.com/sayeed100095/subspace-sgd/targets"
	"github.com/sayeed100095/subspace-sgd/writers"
)

func main() {
	if err := run(); err != nil {
		slog.Error("run failed", "err", err)
		os.Exit(1)
	}
}

// runMetadata is the run.json document describing one invocation.
type runMetadata struct {
	RunID     string           `json:"run_id"`
	StartedAt time.Time        `json:"started_at"`
	Config    synthetic.Config `json:"config"`
}

func run() error {
	def := synthetic.DefaultConfig()
	var (
		workdir         = flag.String("workdir", "", "directory for checkpoints, metrics and artifacts (required)")
		method          = flag.String("method", def.Method.String(), "inverse covariance estimator: explicit, naive, naive++, lissa or oracle")
		optimizer       = flag.String("optimizer", def.Optimizer, "update rule: sgd or adam")
		epochs          = flag.Int64("epochs", def.NumEpochs, "number of training steps")
		states          = flag.Int("states", def.NumStates, "rows of the target matrix")
		tasks           = flag.Int("tasks", def.NumTasks, "columns of the target matrix")
		dim             = flag.Int("dim", def.FeatureDim, "feature dimension")
		lr              = flag.Float64("lr", def.LearningRate, "learning rate")
		seed            = flag.Int64("seed", def.Seed, "seed for all randomness")
		covBatch        = flag.Int("covariance-batch", def.CovarianceBatchSize, "covariance batch size, or lissa iteration count")
		mainBatch       = flag.Int("main-batch", def.MainBatchSize, "batch size for the feature update")
		weightBatch     = flag.Int("weight-batch", def.WeightBatchSize, "batch size for the weight estimate")
		kappa           = flag.Float64("kappa", def.LissaKappa, "lissa step size scale in (0, 2]")
		estimateNorm    = flag.Bool("estimate-feature-norm", def.EstimateFeatureNorm, "track the max squared feature norm with a running estimate")
		withReplacement = flag.Bool("with-replacement", def.SampleWithReplacement, "sample state batches with replacement")
		tabular         = flag.Bool("tabular-gradient", def.UseTabularGradient, "scatter the gradient directly instead of using the feature-map pullback")
		rescale         = flag.String("rescale-psi", def.RescalePsi.String(), "target spectrum reshaping: none, linear or exp")
		svdPath         = flag.String("svd-path", "", "optional .npy file holding precomputed left singular vectors of the target")
		plotCurves      = flag.Bool("plot", false, "render metric curves to curves.png")
		quiet           = flag.Bool("quiet", false, "only log warnings and errors")
	)
	flag.Parse()

	if *workdir == "" {
		flag.Usage()
		return errors.New("missing required -workdir")
	}

	parsedMethod, err := synthetic.ParseMethod(*method)
	if err != nil {
		return err
	}
	parsedRescale, err := targets.ParseRescale(*rescale)
	if err != nil {
		return err
	}
	cfg := synthetic.Config{
		Method:                parsedMethod,
		Optimizer:             *optimizer,
		NumStates:             *states,
		NumTasks:              *tasks,
		FeatureDim:            *dim,
		NumEpochs:             *epochs,
		LearningRate:          *lr,
		Seed:                  *seed,
		CovarianceBatchSize:   *covBatch,
		MainBatchSize:         *mainBatch,
		WeightBatchSize:       *weightBatch,
		LissaKappa:            *kappa,
		EstimateFeatureNorm:   *estimateNorm,
		SampleWithReplacement: *withReplacement,
		UseTabularGradient:    *tabular,
		RescalePsi:            parsedRescale,
		SVDPath:               *svdPath,
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := slog.LevelInfo
	if *quiet {
		level = slog.LevelWarn
	}
	runID := uuid.NewString()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})).With("run_id", runID)
	logger.Info("starting", "method", cfg.Method, "optimizer", cfg.Optimizer, "epochs", cfg.NumEpochs)

	// The root key splits into independent streams for the target, the
	// features and the training loop.
	key := sample.NewKey(cfg.Seed)
	key, psiKey := key.Split()
	key, phiKey := key.Split()

	psi, _ := sample.NormalMatrix(psiKey, cfg.NumStates, cfg.NumTasks)
	if err := cfg.RescalePsi.Apply(psi); err != nil {
		return err
	}
	phi, _ := sample.NormalMatrix(phiKey, cfg.NumStates, cfg.FeatureDim)

	var optimal *mat.Dense
	if cfg.SVDPath != "" {
		optimal, err = metrics.LoadOptimalSubspace(cfg.SVDPath, cfg.FeatureDim)
		if err != nil {
			return fmt.Errorf("load optimal subspace: %w", err)
		}
	}

	if err := os.MkdirAll(*workdir, 0o755); err != nil {
		return err
	}
	meta := runMetadata{RunID: runID, StartedAt: time.Now().UTC(), Config: cfg}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(*workdir, "run.json"), data, 0o644); err != nil {
		return err
	}

	manager, err := checkpoint.NewManager(filepath.Join(*workdir, "checkpoints"))
	if err != nil {
		return err
	}
	state, err := manager.RestoreOrInitialize(checkpoint.State{Phi: phi, Key: key})
	if err != nil {
		return err
	}
	if state.Step > 0 {
		logger.Info("resuming", "step", state.Step)
	}

	csv, err := writers.NewCSV(filepath.Join(*workdir, "metrics.csv"))
	if err != nil {
		return err
	}
	defer csv.Close()

	// CSV for artifacts, the slog mirror for the console (-quiet mutes it),
	// and an in-memory history when the curves are wanted.
	sinks := writers.Multi{csv, writers.Log{Logger: logger}}
	var history *writers.History
	if *plotCurves {
		history = writers.NewHistory()
		sinks = append(sinks, history)
	}

	res, err := synthetic.Train(synthetic.TrainOptions{
		Config:          cfg,
		Psi:             psi,
		OptimalSubspace: optimal,
		State:           state,
		Checkpoints:     manager,
		Writer:          sinks,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	if err := checkpoint.SaveTrajectory(filepath.Join(*workdir, "phis.gob"), res.Phis); err != nil {
		return fmt.Errorf("save trajectory: %w", err)
	}
	if *plotCurves {
		if err := renderCurves(history, filepath.Join(*workdir, "curves.png")); err != nil {
			logger.Warn("plot failed", "err", err)
		}
	}

	if res.Metrics != nil {
		logger.Info("training complete",
			"final_step", res.FinalStep,
			"cosine_similarity", res.Metrics["cosine_similarity"],
			"frob_norm", res.Metrics["frob_norm"])
	} else {
		logger.Info("training complete", "final_step", res.FinalStep)
	}
	return nil
}
