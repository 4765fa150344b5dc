package trials

import (
	"math/rand/v2"
	"time"
)

// Rand is the source of randomness used by every generator in this package.
// *rand.Rand from math/rand/v2 satisfies it.
type Rand interface {
	Float64() float64
	NormFloat64() float64
	IntN(n int) int
}

// KnownSeeds are the fixed seeds used for the published trial sets.
var KnownSeeds = []uint64{3691, 85447, 30471, 12847}

// DefaultSeed is the seed used when a reproducible run is requested
// without naming one.
const DefaultSeed uint64 = 12847

// NewRand returns a deterministic PCG-backed source for seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// RandomSeed picks a seed from the clock for unseeded runs.
func RandomSeed() uint64 {
	return uint64(time.Now().UnixNano())%100000 + 1
}

// DeriveSeed mixes a batch seed with a group index so every group in a batch
// gets an independent, reproducible stream.
func DeriveSeed(seed uint64, index int) uint64 {
	// splitmix64 finalizer
	z := seed + uint64(index+1)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
