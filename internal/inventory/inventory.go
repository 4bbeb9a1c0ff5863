// Package inventory loads and generates the set of slots a lot starts with.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"os"

	"gopkg.in/yaml.v3"

	"parking-allocator/internal/parking"
)

// Version is the inventory file format understood by Parse.
const Version = 1

const defaultCategory = "standard"

// File is the on-disk inventory layout.
type File struct {
	Version int         `yaml:"version"`
	Slots   []SlotEntry `yaml:"slots"`
}

type SlotEntry struct {
	ID        string  `yaml:"id"`
	Level     string  `yaml:"level"`
	Category  string  `yaml:"category"`
	MaxLength float64 `yaml:"max_length"`
	MaxWidth  float64 `yaml:"max_width"`
	MaxHeight float64 `yaml:"max_height"`
}

// Load reads the YAML inventory at path.
func Load(path string) ([]parking.Slot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading inventory: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) ([]parking.Slot, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshalling yaml: %w", err)
	}
	if f.Version != 0 && f.Version != Version {
		return nil, fmt.Errorf("inventory version %d, expecting %d", f.Version, Version)
	}

	seen := make(map[string]bool, len(f.Slots))
	slots := make([]parking.Slot, 0, len(f.Slots))
	for i, e := range f.Slots {
		category := e.Category
		if category == "" {
			category = defaultCategory
		}
		s := parking.NewSlot(e.ID, e.Level, category, e.MaxLength, e.MaxWidth, e.MaxHeight)
		if err := parking.ValidateSlot(s); err != nil {
			return nil, fmt.Errorf("slot #%d: %w", i+1, err)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("slot %s: %w", s.ID, parking.ErrDuplicateSlot)
		}
		seen[s.ID] = true
		slots = append(slots, s)
	}
	return slots, nil
}

// Dimension ranges for generated slots, in meters.
var (
	lengthRange = [2]float64{3.5, 4.8}
	widthRange  = [2]float64{1.6, 1.8}
	heightRange = [2]float64{1.5, 1.7}
)

// Generate creates perLevel slots on each level with reproducible random
// capacities. Ids look like L1-S01.
func Generate(levels []string, perLevel int, seed uint64) []parking.Slot {
	rng := rand.New(rand.NewPCG(seed, seed))
	slots := make([]parking.Slot, 0, len(levels)*perLevel)
	for _, level := range levels {
		for i := 1; i <= perLevel; i++ {
			slots = append(slots, parking.NewSlot(
				fmt.Sprintf("%s-S%02d", level, i),
				level,
				defaultCategory,
				uniform(rng, lengthRange),
				uniform(rng, widthRange),
				uniform(rng, heightRange),
			))
		}
	}
	return slots
}

func uniform(rng *rand.Rand, r [2]float64) float64 {
	v := r[0] + rng.Float64()*(r[1]-r[0])
	return math.Round(v*100) / 100
}

// Seed registers slots with the ledger, skipping ids it already holds, and
// returns how many were added.
func Seed(ctx context.Context, ledger parking.Ledger, slots []parking.Slot) (int, error) {
	added := 0
	for _, s := range slots {
		err := ledger.Register(ctx, s)
		switch {
		case err == nil:
			added++
		case errors.Is(err, parking.ErrDuplicateSlot):
		default:
			return added, fmt.Errorf("registering slot %s: %w", s.ID, err)
		}
	}
	return added, nil
}
