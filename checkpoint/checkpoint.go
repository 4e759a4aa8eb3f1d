// Package checkpoint persists training state between runs as versioned gob
// images with raw float payloads.
package checkpoint

import (
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/sayeed100095/subspace-sgd/opt"
	"github.com/sayeed100095/subspace-sgd/sample"
)

// State is the training state captured at loop-boundary checkpoints.
type State struct {
	// Step is the number of completed training steps.
	Step int64
	// Phi is the feature matrix at Step.
	Phi *mat.Dense
	// Optimizer is the optimizer state image; its zero value means a fresh
	// optimizer.
	Optimizer opt.State
	// ExplicitWeights is the explicit method's weight matrix, nil before
	// the first step of a fresh run.
	ExplicitWeights *mat.Dense
	// FeatureNorm is the running max-squared-norm estimate.
	FeatureNorm float64
	// Key is the random key as of Step.
	Key sample.Key
}

const stateVersion = 1

// fileState is the gob image of a State.
type fileState struct {
	Version     int
	Step        int64
	PhiRows     int
	PhiCols     int
	Phi         []float64
	Optimizer   opt.State
	WeightRows  int
	WeightCols  int
	Weights     []float64
	FeatureNorm float64
	Key         uint64
}

func encodeState(s State) (fileState, error) {
	if s.Phi == nil {
		return fileState{}, errors.New("checkpoint: nil feature matrix")
	}
	r, c := s.Phi.Dims()
	fs := fileState{
		Version:     stateVersion,
		Step:        s.Step,
		PhiRows:     r,
		PhiCols:     c,
		Phi:         append([]float64(nil), s.Phi.RawMatrix().Data...),
		Optimizer:   s.Optimizer,
		FeatureNorm: s.FeatureNorm,
		Key:         s.Key.Uint64(),
	}
	if s.ExplicitWeights != nil {
		wr, wc := s.ExplicitWeights.Dims()
		fs.WeightRows = wr
		fs.WeightCols = wc
		fs.Weights = append([]float64(nil), s.ExplicitWeights.RawMatrix().Data...)
	}
	return fs, nil
}

func decodeState(fs fileState) (State, error) {
	if fs.Version != stateVersion {
		return State{}, fmt.Errorf("checkpoint: unsupported version %d", fs.Version)
	}
	if len(fs.Phi) != fs.PhiRows*fs.PhiCols {
		return State{}, fmt.Errorf("checkpoint: feature payload holds %d values, want %d", len(fs.Phi), fs.PhiRows*fs.PhiCols)
	}
	s := State{
		Step:        fs.Step,
		Phi:         mat.NewDense(fs.PhiRows, fs.PhiCols, fs.Phi),
		Optimizer:   fs.Optimizer,
		FeatureNorm: fs.FeatureNorm,
		Key:         sample.KeyFromUint64(fs.Key),
	}
	if fs.WeightRows > 0 {
		if len(fs.Weights) != fs.WeightRows*fs.WeightCols {
			return State{}, fmt.Errorf("checkpoint: weight payload holds %d values, want %d", len(fs.Weights), fs.WeightRows*fs.WeightCols)
		}
		s.ExplicitWeights = mat.NewDense(fs.WeightRows, fs.WeightCols, fs.Weights)
	}
	return s, nil
}

const checkpointFile = "checkpoint.gob"

// Manager owns the checkpoint file inside a working directory.
type Manager struct {
	dir string
}

// NewManager creates the working directory if needed and returns a manager
// over it.
func NewManager(dir string) (*Manager, error) {
	if dir == "" {
		return nil, errors.New("checkpoint: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	return &Manager{dir: dir}, nil
}

// Dir returns the managed directory.
func (m *Manager) Dir() string { return m.dir }

func (m *Manager) path() string { return filepath.Join(m.dir, checkpointFile) }

// Save writes the state, replacing any previous checkpoint. The write goes
// through a temp file and rename so an interrupted save never leaves a
// corrupt checkpoint behind.
func (m *Manager) Save(s State) error {
	fs, err := encodeState(s)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(m.dir, checkpointFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := gob.NewEncoder(tmp).Encode(fs); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("checkpoint: encode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.path()); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

// Restore loads the saved state. The error wraps os.ErrNotExist when no
// checkpoint has been written yet.
func (m *Manager) Restore() (State, error) {
	f, err := os.Open(m.path())
	if err != nil {
		return State{}, err
	}
	defer f.Close()
	var fs fileState
	if err := gob.NewDecoder(f).Decode(&fs); err != nil {
		return State{}, fmt.Errorf("checkpoint: decode: %w", err)
	}
	return decodeState(fs)
}

// RestoreOrInitialize returns the stored state when a checkpoint exists;
// otherwise it persists the initial state and returns it.
func (m *Manager) RestoreOrInitialize(initial State) (State, error) {
	s, err := m.Restore()
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return State{}, err
	}
	if err := m.Save(initial); err != nil {
		return State{}, err
	}
	return initial, nil
}
