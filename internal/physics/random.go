package physics

import (
	"hash/fnv"
	"math"
	"math/rand"
)

// DefaultSeed seeds worlds that were not given an explicit seed.
const DefaultSeed = "stream-drop"

// Source is the random stream consumed by the world. *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

func DeterministicSeedValue(rootSeed, label string) int64 {
	hasher := fnv.New64a()
	hasher.Write([]byte(rootSeed))
	hasher.Write([]byte{0})
	hasher.Write([]byte(label))
	sum := hasher.Sum64()
	if sum == 0 {
		sum = 1
	}
	return int64(sum)
}

func NewDeterministicRNG(rootSeed, label string) *rand.Rand {
	return rand.New(rand.NewSource(DeterministicSeedValue(rootSeed, label)))
}

func randomFloat(src Source) float64 {
	if src == nil {
		return 0.5
	}
	return src.Float64()
}

func randomAngle(src Source) float64 {
	return randomFloat(src) * 2 * math.Pi
}

func randomBetween(src Source, min, max float64) float64 {
	if max <= min {
		return min
	}
	return min + randomFloat(src)*(max-min)
}

// spawnRange returns the x interval of the centered spawn band, kept at least
// padding away from both edges.
func spawnRange(total, ratio, padding float64) (float64, float64) {
	if total <= 0 {
		return padding, padding
	}
	center := total / 2
	regionHalf := total * ratio / 2
	min := center - regionHalf
	max := center + regionHalf
	if min < padding {
		min = padding
	}
	if limit := total - padding; max > limit {
		max = limit
	}
	if max < min {
		max = min
	}
	return min, max
}
