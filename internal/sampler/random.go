package sampler

import (
	"math/rand/v2"
	"sync"
)

// RandomSource yields uniformly distributed integers.
type RandomSource interface {
	// Range returns an integer in [lo, hi). It panics if hi <= lo.
	Range(lo, hi int) int
}

// lockedSource is a RandomSource safe for concurrent use.
type lockedSource struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewSource returns a RandomSource seeded with seed. A zero seed draws a random one.
func NewSource(seed uint64) RandomSource {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &lockedSource{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *lockedSource) Range(lo, hi int) int {
	if hi <= lo {
		panic("sampler: empty range")
	}
	s.mu.Lock()
	n := s.r.IntN(hi - lo)
	s.mu.Unlock()
	return lo + n
}
