package scoring

import (
	"math/rand/v2"
	"strings"
	"sync"

	"parking-allocator/internal/parking"
)

var typeWeights = map[string]float64{
	"compact":             1.0,
	"sedan":               1.2,
	"suv":                 1.4,
	"electric_compact":    1.5,
	"electric_sedan":      1.7,
	"electric_suv":        1.9,
	"motorcycle":          0.6,
	"electric_motorcycle": 0.8,
	"truck":               2.0,
	"electric_truck":      2.2,
}

// TypeWeight returns the ranking weight for a vehicle type. Unknown types
// weigh 1. A trailing "_car" is ignored.
func TypeWeight(vehicleType string) float64 {
	t := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(vehicleType)), "_car")
	if w, ok := typeWeights[t]; ok {
		return w
	}
	return 1.0
}

// Weighted draws a random score per candidate scaled by the vehicle type
// weight. The generator is seeded, so the same seed and call sequence
// produce the same rankings.
type Weighted struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewWeighted(seed uint64) *Weighted {
	return &Weighted{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (w *Weighted) Rank(candidates []parking.Slot, v parking.Vehicle, _ string) []string {
	weight := TypeWeight(v.Type)
	items := make([]scored, len(candidates))

	w.mu.Lock()
	for i, s := range candidates {
		items[i] = scored{id: s.ID, score: w.rng.Float64() * weight}
	}
	w.mu.Unlock()

	return rank(items, false)
}
