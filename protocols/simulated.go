package protocols

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// SimulatedSource draws APYs uniformly from BaseAPY ± Variance.
type SimulatedSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedSource creates a source seeded from the clock. Pass a non-zero seed for repeatable draws.
func NewSimulatedSource(seed int64) *SimulatedSource {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SimulatedSource{rng: rand.New(rand.NewSource(seed))}
}

func (s *SimulatedSource) FetchAPY(ctx context.Context, def Definition) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	variance := (s.rng.Float64()*2 - 1) * def.Variance
	s.mu.Unlock()
	return round2(def.BaseAPY + variance), nil
}
