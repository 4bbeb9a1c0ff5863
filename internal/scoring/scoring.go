// Package scoring provides the slot ranking strategies shipped with the
// allocator. Every scorer returns a permutation of the candidate ids.
package scoring

import (
	"cmp"
	"fmt"
	"slices"

	"parking-allocator/internal/parking"
)

const (
	NameFirstFit = "first-fit"
	NameBestFit  = "best-fit"
	NameWeighted = "weighted"
	NameRotation = "rotation"
)

// Names lists the scorers New understands.
func Names() []string {
	return []string{NameFirstFit, NameBestFit, NameWeighted, NameRotation}
}

// New builds the named scorer. seed only affects the weighted scorer.
func New(name string, seed uint64) (parking.Scorer, error) {
	switch name {
	case NameFirstFit:
		return FirstFit{}, nil
	case NameBestFit:
		return BestFit{}, nil
	case NameWeighted:
		return NewWeighted(seed), nil
	case NameRotation:
		return Rotation{}, nil
	default:
		return nil, fmt.Errorf("unknown scorer %q, expected one of %v", name, Names())
	}
}

type scored struct {
	id    string
	score float64
}

// rank orders by score, ties broken by slot id. ascending puts the lowest
// score first.
func rank(items []scored, ascending bool) []string {
	slices.SortFunc(items, func(a, b scored) int {
		c := cmp.Compare(a.score, b.score)
		if !ascending {
			c = -c
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.id
	}
	return ids
}
