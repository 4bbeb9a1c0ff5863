package inventory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-allocator/internal/parking"
)

const sampleInventory = `
version: 1
slots:
  - id: L1-S01
    level: L1
    max_length: 4.5
    max_width: 1.8
    max_height: 1.5
  - id: L2-S01
    level: L2
    category: large
    max_length: 5.5
    max_width: 2.2
    max_height: 2.2
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slots.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleInventory), 0o600))

	slots, err := Load(path)
	require.NoError(t, err)
	require.Len(t, slots, 2)

	assert.Equal(t, parking.NewSlot("L1-S01", "L1", "standard", 4.5, 1.8, 1.5), slots[0])
	assert.Equal(t, "large", slots[1].Category)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParseRejectsBadInventories(t *testing.T) {
	tests := map[string]string{
		"wrong version": "version: 2\nslots: []\n",
		"bad dimension": "slots:\n  - id: A\n    level: L1\n    max_length: 0\n    max_width: 1\n    max_height: 1\n",
		"missing id":    "slots:\n  - level: L1\n    max_length: 4\n    max_width: 1\n    max_height: 1\n",
		"duplicate id": "slots:\n  - {id: A, level: L1, max_length: 4, max_width: 2, max_height: 2}\n" +
			"  - {id: A, level: L2, max_length: 4, max_width: 2, max_height: 2}\n",
		"not yaml": "slots: [",
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestGenerate(t *testing.T) {
	slots := Generate([]string{"L1", "L2"}, 3, 42)
	require.Len(t, slots, 6)
	assert.Equal(t, "L1-S01", slots[0].ID)
	assert.Equal(t, "L2-S03", slots[5].ID)

	for _, s := range slots {
		assert.NoError(t, parking.ValidateSlot(s))
		assert.GreaterOrEqual(t, s.MaxLength, 3.5)
		assert.LessOrEqual(t, s.MaxLength, 4.8)
		assert.GreaterOrEqual(t, s.MaxWidth, 1.6)
		assert.LessOrEqual(t, s.MaxWidth, 1.8)
		assert.GreaterOrEqual(t, s.MaxHeight, 1.5)
		assert.LessOrEqual(t, s.MaxHeight, 1.7)
	}

	assert.Equal(t, slots, Generate([]string{"L1", "L2"}, 3, 42), "same seed, same inventory")
}

func TestSeedSkipsExisting(t *testing.T) {
	ctx := context.Background()
	ledger, err := parking.NewMemoryLedger(parking.NewSlot("L1-S01", "L1", "standard", 4, 2, 2))
	require.NoError(t, err)

	added, err := Seed(ctx, ledger, Generate([]string{"L1"}, 3, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, 3, ledger.Capacity())

	added, err = Seed(ctx, ledger, Generate([]string{"L1"}, 3, 1))
	require.NoError(t, err)
	assert.Zero(t, added)
}
