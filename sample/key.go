// Package sample provides the splittable random key protocol and the uniform
// state sampler used throughout training.
//
// A Key is an immutable value. Every randomized operation consumes the key it
// is given and returns a successor, so a run's entire randomness is a pure
// function of the root seed and replaying a key replays its draws exactly.
package sample

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Key is an immutable random state. Keys are split and consumed, never
// mutated in place.
type Key struct {
	word uint64
}

// keyGamma is the splitmix64 golden-ratio increment.
const keyGamma = 0x9e3779b97f4a7c15

// mix64 is the splitmix64 finalizer.
func mix64(z uint64) uint64 {
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e209
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// NewKey derives a root key from a seed. Equal seeds yield equal key streams.
func NewKey(seed int64) Key {
	return Key{word: mix64(uint64(seed) + keyGamma)}
}

// Split consumes the key and returns two independent successors. Splitting
// the same key twice yields the same pair.
func (k Key) Split() (Key, Key) {
	return Key{word: mix64(k.word + keyGamma)}, Key{word: mix64(k.word + keyGamma + keyGamma)}
}

// Intn consumes the key and draws a uniform integer in [0, n). It panics if
// n is not positive, like rand.Intn.
func (k Key) Intn(n int) (int, Key) {
	use, next := k.Split()
	return use.rng().Intn(n), next
}

// Uint64 exposes the key's state word for checkpointing.
func (k Key) Uint64() uint64 { return k.word }

// KeyFromUint64 reconstructs a checkpointed key.
func KeyFromUint64(word uint64) Key { return Key{word: word} }

// rng materializes a deterministic generator over the key's word.
func (k Key) rng() *rand.Rand {
	return rand.New(rand.NewSource(int64(k.word)))
}

// NormalMatrix consumes the key and returns an r by c matrix of standard
// normal draws.
func NormalMatrix(k Key, r, c int) (*mat.Dense, Key) {
	use, next := k.Split()
	rng := use.rng()
	data := make([]float64, r*c)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return mat.NewDense(r, c, data), next
}
