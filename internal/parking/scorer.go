package parking

import "fmt"

// Scorer ranks candidate slots for a vehicle, best first.
//
// A Scorer must return a permutation of the candidate ids: it may not
// fabricate, drop or repeat an id, and empty input yields empty output.
// Any randomness must come from an explicit seed so rankings are
// reproducible.
type Scorer interface {
	Rank(candidates []Slot, v Vehicle, role string) []string
}

type ScorerFunc func(candidates []Slot, v Vehicle, role string) []string

func (f ScorerFunc) Rank(candidates []Slot, v Vehicle, role string) []string {
	return f(candidates, v, role)
}

// checkRanking verifies that ranked is a permutation of candidates.
func checkRanking(candidates []Slot, ranked []string) error {
	if len(ranked) != len(candidates) {
		return fmt.Errorf("%w: ranked %d of %d candidates", ErrScorerInvariant, len(ranked), len(candidates))
	}

	pending := make(map[string]bool, len(candidates))
	for _, s := range candidates {
		pending[s.ID] = true
	}
	for _, id := range ranked {
		if !pending[id] {
			return fmt.Errorf("%w: unknown or repeated slot id %q", ErrScorerInvariant, id)
		}
		delete(pending, id)
	}
	return nil
}
