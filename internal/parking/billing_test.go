package parking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeBill(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		end  time.Time
		rate float64
		want float64
	}{
		{"ninety minutes", base.Add(90 * time.Minute), 60, 90.0},
		{"zero length", base, 60, 0},
		{"official rate", base.Add(2 * time.Hour), 30, 60.0},
		{"rounds to cents", base.Add(10 * time.Minute), 40, 6.67},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeBill(base, tt.end, tt.rate)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestComputeBillInvalidInterval(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	_, err := ComputeBill(base, base.Add(-time.Minute), 60)
	assert.ErrorIs(t, err, ErrInvalidInterval)
}

func TestRateSchedule(t *testing.T) {
	rates := DefaultRateSchedule()

	assert.Equal(t, 30.0, rates.Rate("official"))
	assert.Equal(t, 40.0, rates.Rate("intern"))
	assert.Equal(t, 60.0, rates.Rate("anyone"))
}

func TestParseBillTime(t *testing.T) {
	want := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	for _, raw := range []string{"2024-01-01 10:00:00", "2024-01-01T10:00:00Z", "2024-01-01T10:00"} {
		got, err := ParseBillTime(raw)
		require.NoError(t, err, raw)
		assert.True(t, want.Equal(got), raw)
	}

	_, err := ParseBillTime("tomorrow")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestComputeBillDateTimeLayout(t *testing.T) {
	start, err := ParseBillTime("2024-01-01 10:00:00")
	require.NoError(t, err)
	end, err := ParseBillTime("2024-01-01 11:30:00")
	require.NoError(t, err)

	got, err := ComputeBill(start, end, 60)
	require.NoError(t, err)
	assert.InDelta(t, 90.0, got, 1e-9)
}
