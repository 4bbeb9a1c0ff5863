package parking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type steppingClock struct {
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	return c.now
}

func newTestLot(t *testing.T, clock *steppingClock) *Lot {
	t.Helper()
	return NewLot(newTestLedger(t), passThrough(), DefaultRateSchedule(),
		WithLogger(discardLogger), WithClock(clock.Now))
}

func TestLotParkAndLeave(t *testing.T) {
	ctx := context.Background()
	clock := &steppingClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	lot := newTestLot(t, clock)

	alloc, err := lot.Park(ctx, sedanRequest("KA01"))
	require.NoError(t, err)
	assert.Equal(t, "A", alloc.SlotID)

	found, err := lot.Find(ctx, "KA01")
	require.NoError(t, err)
	assert.Equal(t, "A", found.ID)

	clock.now = clock.now.Add(90 * time.Minute)
	receipt, err := lot.Leave(ctx, "KA01", "guest")
	require.NoError(t, err)
	assert.Equal(t, "A", receipt.SlotID)
	assert.Equal(t, "u-KA01", receipt.UserID)
	assert.Equal(t, 60.0, receipt.Rate)
	assert.InDelta(t, 90.0, receipt.Amount, 1e-9)

	_, err = lot.Find(ctx, "KA01")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = lot.Leave(ctx, "KA01", "guest")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLotLeaveUsesRoleRate(t *testing.T) {
	ctx := context.Background()
	clock := &steppingClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	lot := newTestLot(t, clock)

	_, err := lot.Park(ctx, sedanRequest("KA01"))
	require.NoError(t, err)

	clock.now = clock.now.Add(2 * time.Hour)
	receipt, err := lot.Leave(ctx, "KA01", "official")
	require.NoError(t, err)
	assert.InDelta(t, 60.0, receipt.Amount, 1e-9)
}

func TestLotRoundTripRestoresSlot(t *testing.T) {
	ctx := context.Background()
	clock := &steppingClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	lot := newTestLot(t, clock)

	before, err := lot.Status(ctx)
	require.NoError(t, err)

	_, err = lot.Park(ctx, sedanRequest("KA01"))
	require.NoError(t, err)
	_, err = lot.Leave(ctx, "KA01", "guest")
	require.NoError(t, err)

	after, err := lot.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestLotStatusAndAvailable(t *testing.T) {
	ctx := context.Background()
	lot := newTestLot(t, &steppingClock{now: time.Now()})

	_, err := lot.Park(ctx, sedanRequest("KA01"))
	require.NoError(t, err)

	all, err := lot.Status(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	available, err := lot.Available(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, idsOf(available))
}

func TestLotReset(t *testing.T) {
	ctx := context.Background()
	lot := newTestLot(t, &steppingClock{now: time.Now()})

	for _, reg := range []string{"KA01", "KA02"} {
		_, err := lot.Park(ctx, sedanRequest(reg))
		require.NoError(t, err)
	}

	n, err := lot.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	available, err := lot.Available(ctx)
	require.NoError(t, err)
	assert.Len(t, available, 3)
}

func TestLotRegister(t *testing.T) {
	ctx := context.Background()
	lot := newTestLot(t, &steppingClock{now: time.Now()})

	require.NoError(t, lot.Register(ctx, NewSlot("D", "L3", "standard", 4, 2, 2)))
	assert.ErrorIs(t, lot.Register(ctx, NewSlot("D", "L3", "standard", 4, 2, 2)), ErrDuplicateSlot)
}

// unlistableLedger fails every scan so lookups must use the vehicle index.
type unlistableLedger struct {
	*MemoryLedger
}

func (unlistableLedger) List(context.Context, Filter) ([]Slot, error) {
	return nil, errors.New("scan not allowed")
}

func TestLotFindUsesVehicleIndex(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	_, err := l.CompareAndAssign(ctx, "B", StatusAvailable, assignment("KA01"))
	require.NoError(t, err)

	lot := NewLot(unlistableLedger{l}, passThrough(), DefaultRateSchedule(), WithLogger(discardLogger))
	found, err := lot.Find(ctx, "KA01")
	require.NoError(t, err)
	assert.Equal(t, "B", found.ID)

	_, err = lot.Find(ctx, "KA02")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLotRates(t *testing.T) {
	rates := RateSchedule{Default: 10, ByRole: map[string]float64{"vip": 0}}
	lot := NewLot(newTestLedger(t), passThrough(), rates, WithLogger(discardLogger))
	assert.Equal(t, 10.0, lot.Rates().Rate("guest"))
	assert.Equal(t, 0.0, lot.Rates().Rate("vip"))
}
