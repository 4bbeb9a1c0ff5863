package scoring

import (
	"slices"

	"parking-allocator/internal/parking"
)

// FirstFit ranks candidates by slot id.
type FirstFit struct{}

func (FirstFit) Rank(candidates []parking.Slot, _ parking.Vehicle, _ string) []string {
	ids := make([]string, len(candidates))
	for i, s := range candidates {
		ids[i] = s.ID
	}
	slices.Sort(ids)
	return ids
}
