package service

import (
	"hash/fnv"
	"math/rand"
	"neuroscreen-go/internal/models"
)

// RandomSource is the only source of randomness the synthesizers use.
// *rand.Rand satisfies it.
type RandomSource interface {
	Float64() float64
	Intn(n int) int
}

// NewRandomSource returns a seeded source. A source is not safe for
// concurrent use; give each goroutine its own.
func NewRandomSource(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// DeriveSeed mixes a case seed with a modality so parallel modalities draw
// from independent, reproducible streams.
func DeriveSeed(seed int64, modality models.Modality) int64 {
	h := fnv.New64a()
	h.Write([]byte(modality))
	return seed ^ int64(h.Sum64())
}

func uniform(rng RandomSource, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}
