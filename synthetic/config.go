// Package synthetic trains a low-rank feature matrix to approximate the
// principal subspace of a fixed target matrix with stochastic gradient
// methods.
package synthetic

import (
	"errors"
	"fmt"

	"github.com/sayeed100095/subspace-sgd/opt"
	"github.com/sayeed100095/subspace-sgd/targets"
)

// ErrUnknownMethod is returned when parsing an unrecognized method name.
var ErrUnknownMethod = errors.New("synthetic: unknown method")

// Method selects how the per-step weight vectors are produced.
type Method int

const (
	// MethodExplicit maintains a weight matrix updated by gradient steps.
	MethodExplicit Method = iota
	// MethodNaive inverts one sampled covariance shared by both weights.
	MethodNaive
	// MethodNaivePP inverts two independently sampled covariances.
	MethodNaivePP
	// MethodLissa runs two independent truncated Neumann estimates.
	MethodLissa
	// MethodOracle uses the exact inverse covariance.
	MethodOracle
)

// ParseMethod maps a configuration name to a Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "explicit":
		return MethodExplicit, nil
	case "naive":
		return MethodNaive, nil
	case "naive++":
		return MethodNaivePP, nil
	case "lissa":
		return MethodLissa, nil
	case "oracle":
		return MethodOracle, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMethod, s)
}

func (m Method) String() string {
	switch m {
	case MethodExplicit:
		return "explicit"
	case MethodNaive:
		return "naive"
	case MethodNaivePP:
		return "naive++"
	case MethodLissa:
		return "lissa"
	case MethodOracle:
		return "oracle"
	}
	return fmt.Sprintf("method(%d)", int(m))
}

// MarshalText implements encoding.TextMarshaler.
func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Method) UnmarshalText(text []byte) error {
	parsed, err := ParseMethod(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Config is the immutable description of one training run.
type Config struct {
	// Method picks the weight estimation scheme.
	Method Method `json:"method"`
	// Optimizer names the feature optimizer, sgd or adam.
	Optimizer string `json:"optimizer"`

	// NumStates and NumTasks are the target matrix dimensions; FeatureDim
	// is the rank of the learned features.
	NumStates  int `json:"num_states"`
	NumTasks   int `json:"num_tasks"`
	FeatureDim int `json:"feature_dim"`

	// NumEpochs is the number of gradient steps (not true epochs).
	NumEpochs    int64   `json:"num_epochs"`
	LearningRate float64 `json:"learning_rate"`
	Seed         int64   `json:"seed"`

	// CovarianceBatchSize doubles as the lissa iteration count.
	CovarianceBatchSize int `json:"covariance_batch_size"`
	// MainBatchSize is how many source states each step updates.
	MainBatchSize int `json:"main_batch_size"`
	// WeightBatchSize is how many states estimate each weight vector.
	WeightBatchSize int `json:"weight_batch_size"`

	// LissaKappa is the Neumann contraction constant; 2 is the theoretical
	// maximum.
	LissaKappa float64 `json:"lissa_kappa"`
	// EstimateFeatureNorm switches lissa to a running estimate of the max
	// squared feature norm instead of the exact value.
	EstimateFeatureNorm bool `json:"estimate_feature_norm"`

	SampleWithReplacement bool `json:"sample_with_replacement"`
	// UseTabularGradient selects the direct scatter gradient; when false
	// the gradient is pulled back through the feature map.
	UseTabularGradient bool `json:"use_tabular_gradient"`

	// RescalePsi reshapes the synthetic target's spectrum.
	RescalePsi targets.Rescale `json:"rescale_psi"`
	// SVDPath optionally points at a .npy file with precomputed left
	// singular vectors of the target.
	SVDPath string `json:"svd_path,omitempty"`
}

// DefaultConfig mirrors the reference experiment settings.
func DefaultConfig() Config {
	return Config{
		Method:                MethodExplicit,
		Optimizer:             "sgd",
		NumStates:             10,
		NumTasks:              10,
		FeatureDim:            1,
		NumEpochs:             200_000,
		LearningRate:          0.01,
		Seed:                  4753849,
		CovarianceBatchSize:   32,
		MainBatchSize:         32,
		WeightBatchSize:       32,
		LissaKappa:            1.9,
		EstimateFeatureNorm:   true,
		SampleWithReplacement: true,
		UseTabularGradient:    true,
	}
}

// Validate reports the first configuration error. Training refuses to start
// on an invalid config.
func (c Config) Validate() error {
	switch {
	case c.NumStates <= 0:
		return fmt.Errorf("synthetic: number of states must be positive, got %d", c.NumStates)
	case c.NumTasks <= 0:
		return fmt.Errorf("synthetic: number of tasks must be positive, got %d", c.NumTasks)
	case c.FeatureDim <= 0:
		return fmt.Errorf("synthetic: feature dimension must be positive, got %d", c.FeatureDim)
	case c.FeatureDim > c.NumStates:
		return fmt.Errorf("synthetic: feature dimension %d exceeds %d states", c.FeatureDim, c.NumStates)
	case c.FeatureDim > c.NumTasks:
		return fmt.Errorf("synthetic: feature dimension %d exceeds %d tasks", c.FeatureDim, c.NumTasks)
	case c.NumEpochs <= 0:
		return fmt.Errorf("synthetic: number of epochs must be positive, got %d", c.NumEpochs)
	case c.LearningRate <= 0:
		return fmt.Errorf("synthetic: learning rate must be positive, got %v", c.LearningRate)
	case c.CovarianceBatchSize <= 0:
		return fmt.Errorf("synthetic: covariance batch size must be positive, got %d", c.CovarianceBatchSize)
	case c.MainBatchSize <= 0:
		return fmt.Errorf("synthetic: main batch size must be positive, got %d", c.MainBatchSize)
	case c.WeightBatchSize <= 0:
		return fmt.Errorf("synthetic: weight batch size must be positive, got %d", c.WeightBatchSize)
	case c.LissaKappa <= 0 || c.LissaKappa > 2:
		return fmt.Errorf("synthetic: lissa kappa must be in (0, 2], got %v", c.LissaKappa)
	}
	switch c.Method {
	case MethodExplicit, MethodNaive, MethodNaivePP, MethodLissa, MethodOracle:
	default:
		return fmt.Errorf("%w: %d", ErrUnknownMethod, int(c.Method))
	}
	if _, err := opt.New(c.Optimizer, c.LearningRate); err != nil {
		return err
	}
	return nil
}
