package sample

import (
	"errors"
	"fmt"
)

// ErrBatchTooLarge is returned when a without-replacement draw asks for more
// states than the state space holds.
var ErrBatchTooLarge = errors.New("sample: batch larger than state space")

// Sampler draws batches of state indices uniformly from a fixed finite state
// space [0, numStates).
type Sampler struct {
	numStates   int
	replacement bool
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithReplacement toggles whether draws within one batch may repeat. The
// default is true.
func WithReplacement(enabled bool) Option {
	return func(s *Sampler) { s.replacement = enabled }
}

// NewSampler returns a uniform sampler over numStates states.
func NewSampler(numStates int, opts ...Option) (*Sampler, error) {
	if numStates <= 0 {
		return nil, fmt.Errorf("sample: number of states must be positive, got %d", numStates)
	}
	s := &Sampler{numStates: numStates, replacement: true}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NumStates returns the size of the state space.
func (s *Sampler) NumStates() int { return s.numStates }

// Sample consumes the key and draws n state indices. Without replacement the
// indices are distinct and n must not exceed the state-space size.
func (s *Sampler) Sample(key Key, n int) ([]int, Key, error) {
	if n <= 0 {
		return nil, key, fmt.Errorf("sample: batch size must be positive, got %d", n)
	}
	if !s.replacement && n > s.numStates {
		return nil, key, fmt.Errorf("sample: cannot draw %d of %d states: %w", n, s.numStates, ErrBatchTooLarge)
	}
	use, next := key.Split()
	rng := use.rng()
	states := make([]int, n)
	if s.replacement {
		for i := range states {
			states[i] = rng.Intn(s.numStates)
		}
		return states, next, nil
	}
	copy(states, rng.Perm(s.numStates))
	return states, next, nil
}
