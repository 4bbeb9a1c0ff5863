package scoring

import (
	"math"

	"parking-allocator/internal/parking"
)

// BestFit prefers the slot whose capacity is closest to the vehicle, so
// large slots stay free for large vehicles.
type BestFit struct{}

func (BestFit) Rank(candidates []parking.Slot, v parking.Vehicle, _ string) []string {
	items := make([]scored, len(candidates))
	for i, s := range candidates {
		items[i] = scored{id: s.ID, score: Distance(s, v)}
	}
	return rank(items, true)
}

// Distance is the Euclidean distance between slot capacity and vehicle
// dimensions.
func Distance(s parking.Slot, v parking.Vehicle) float64 {
	dl := s.MaxLength - v.Length
	dw := s.MaxWidth - v.Width
	dh := s.MaxHeight - v.Height
	return math.Sqrt(dl*dl + dw*dw + dh*dh)
}
