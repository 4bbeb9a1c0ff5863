package scoring

import (
	"math"

	"parking-allocator/internal/parking"
)

// Rotation scores each slot by how closely every dimension matches, with
// length counted at half the angular sensitivity of width and height.
// A perfect fit scores 1.
type Rotation struct{}

func (Rotation) Rank(candidates []parking.Slot, v parking.Vehicle, _ string) []string {
	items := make([]scored, len(candidates))
	for i, s := range candidates {
		items[i] = scored{id: s.ID, score: RotationScore(s, v)}
	}
	return rank(items, false)
}

func RotationScore(s parking.Slot, v parking.Vehicle) float64 {
	return cos2(math.Pi*math.Abs(s.MaxLength-v.Length)/12) *
		cos2(math.Pi*math.Abs(s.MaxWidth-v.Width)/6) *
		cos2(math.Pi*math.Abs(s.MaxHeight-v.Height)/6)
}

func cos2(x float64) float64 {
	c := math.Cos(x)
	return c * c
}
