package synthetic

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/sayeed100095/subspace-sgd/checkpoint"
	"github.com/sayeed100095/subspace-sgd/writers"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTrainRecordsTrajectoryAndMetrics(t *testing.T) {
	cfg := smallConfig()
	cfg.Method = MethodOracle
	cfg.NumEpochs = 2000

	psi, _, st := newRun(cfg, 53)
	history := writers.NewHistory()

	res, err := Train(TrainOptions{
		Config: cfg,
		Psi:    psi,
		State:  st,
		Writer: history,
		Logger: quietLogger(),
	})
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if res.FinalStep != 2000 {
		t.Errorf("FinalStep = %d, want 2000", res.FinalStep)
	}
	// The trajectory holds the start plus one snapshot per log period.
	if len(res.Phis) != 3 {
		t.Fatalf("len(Phis) = %d, want 3", len(res.Phis))
	}
	if !mat.Equal(res.Phis[0], st.Phi) {
		t.Error("trajectory does not start at the initial features")
	}

	for _, name := range []string{
		"cosine_similarity",
		"feature_norm",
		"eigengame_subspace_distance",
		"grassmann_distance",
		"grad_norm",
		"frob_norm",
	} {
		if _, ok := res.Metrics[name]; !ok {
			t.Errorf("final metrics missing %q", name)
		}
	}

	series := history.Series("frob_norm")
	if len(series) != 2 {
		t.Fatalf("frob_norm series has %d points, want 2", len(series))
	}
	if series[0].Step != 1000 || series[1].Step != 2000 {
		t.Errorf("log steps = %d, %d, want 1000, 2000", series[0].Step, series[1].Step)
	}
}

func TestTrainShortRunSkipsMetrics(t *testing.T) {
	cfg := smallConfig()
	cfg.NumEpochs = 50

	psi, _, st := newRun(cfg, 59)
	res, err := Train(TrainOptions{Config: cfg, Psi: psi, State: st, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if res.FinalStep != 50 {
		t.Errorf("FinalStep = %d, want 50", res.FinalStep)
	}
	if len(res.Phis) != 1 {
		t.Errorf("len(Phis) = %d, want 1", len(res.Phis))
	}
	if res.Metrics != nil {
		t.Errorf("Metrics = %v, want nil before the first log period", res.Metrics)
	}
}

func TestTrainMissingTarget(t *testing.T) {
	if _, err := Train(TrainOptions{Config: DefaultConfig()}); err == nil {
		t.Fatal("Train without a target succeeded")
	}
}

func TestTrainResumeMatchesUninterrupted(t *testing.T) {
	cfg := smallConfig()
	cfg.Method = MethodLissa
	cfg.LissaKappa = 1
	cfg.NumEpochs = 1500

	psi, _, st := newRun(cfg, 61)
	manager, err := checkpoint.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if _, err := Train(TrainOptions{
		Config:      cfg,
		Psi:         psi,
		State:       st,
		Checkpoints: manager,
		Logger:      quietLogger(),
	}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	restored, err := manager.Restore()
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.Step != 1500 {
		t.Fatalf("restored step = %d, want 1500", restored.Step)
	}

	cfg.NumEpochs = 3000
	resumed, err := Train(TrainOptions{
		Config: cfg,
		Psi:    psi,
		State:  restored,
		Logger: quietLogger(),
	})
	if err != nil {
		t.Fatalf("resumed run: %v", err)
	}

	straight, err := Train(TrainOptions{
		Config: cfg,
		Psi:    psi,
		State:  st,
		Logger: quietLogger(),
	})
	if err != nil {
		t.Fatalf("uninterrupted run: %v", err)
	}

	if resumed.FinalStep != straight.FinalStep {
		t.Fatalf("final steps differ: %d vs %d", resumed.FinalStep, straight.FinalStep)
	}
	if !mat.Equal(resumed.Phis[len(resumed.Phis)-1], straight.Phis[len(straight.Phis)-1]) {
		t.Error("resumed run diverged from the uninterrupted run")
	}
}

type failingWriter struct{ calls int }

func (w *failingWriter) WriteScalars(int64, map[string]float64) error {
	w.calls++
	return errors.New("sink unavailable")
}

func (w *failingWriter) Flush() error { return errors.New("sink unavailable") }

func TestTrainSurvivesWriterFailure(t *testing.T) {
	cfg := smallConfig()
	cfg.NumEpochs = 1000

	psi, _, st := newRun(cfg, 67)
	sink := &failingWriter{}
	res, err := Train(TrainOptions{
		Config: cfg,
		Psi:    psi,
		State:  st,
		Writer: sink,
		Logger: quietLogger(),
	})
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if res.FinalStep != 1000 {
		t.Errorf("FinalStep = %d, want 1000", res.FinalStep)
	}
	if sink.calls != 1 {
		t.Errorf("writer calls = %d, want 1", sink.calls)
	}
}
