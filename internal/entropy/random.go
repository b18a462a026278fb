// Package entropy provides the single seedable random stream every stochastic
// rule in a simulation draws from. One stream per simulation keeps runs
// reproducible: same seed, same population, same event log.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"
)

// Source is a seeded pseudo-random stream with the draw helpers the
// dynamics use. It is not safe for concurrent use; a simulation owns it.
type Source struct {
	seed int64
	rng  *mrand.Rand
}

// New returns a stream seeded with seed. A zero seed is replaced with one
// drawn from crypto/rand; Seed() reports the value actually used.
func New(seed int64) *Source {
	if seed == 0 {
		seed = CryptoSeed()
	}
	return &Source{seed: seed, rng: mrand.New(mrand.NewSource(seed))}
}

// Seed returns the seed the stream was created with.
func (s *Source) Seed() int64 { return s.seed }

// Float64 returns a value in [0, 1).
func (s *Source) Float64() float64 { return s.rng.Float64() }

// Intn returns a value in [0, n). n must be positive.
func (s *Source) Intn(n int) int { return s.rng.Intn(n) }

// Chance reports true with probability p. p <= 0 never fires and p >= 1
// always fires, and neither consumes a draw.
func (s *Source) Chance(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return s.rng.Float64() < p
}

// Pick returns a uniformly chosen element of ids, or false if ids is empty.
func Pick[T any](s *Source, ids []T) (T, bool) {
	var zero T
	if len(ids) == 0 {
		return zero, false
	}
	return ids[s.rng.Intn(len(ids))], true
}

// Shuffle permutes ids in place.
func Shuffle[T any](s *Source, ids []T) {
	s.rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
}

// CryptoSeed draws a non-zero seed from crypto/rand.
func CryptoSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// Should never happen; any fixed non-zero seed is still valid.
		return 1
	}
	seed := int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
	if seed == 0 {
		seed = 1
	}
	return seed
}
