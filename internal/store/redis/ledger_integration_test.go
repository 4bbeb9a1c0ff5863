//go:build integration

package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-allocator/internal/parking"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("Skipping integration test: REDIS_ADDR not set")
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping integration test: cannot ping redis: %v", err)
	}

	prefix := "parking-it-" + uuid.NewString()[:8]
	t.Cleanup(func() {
		keys, _ := client.Keys(context.Background(), prefix+":*").Result()
		if len(keys) > 0 {
			client.Del(context.Background(), keys...)
		}
		_ = client.Close()
	})

	l := NewLedger(client, prefix)
	for _, s := range []parking.Slot{
		parking.NewSlot("A", "L1", "standard", 4.5, 1.8, 1.5),
		parking.NewSlot("B", "L1", "standard", 4.8, 2.0, 1.8),
		parking.NewSlot("C", "L2", "large", 5.5, 2.2, 2.2),
	} {
		require.NoError(t, l.Register(ctx, s))
	}
	return l
}

func TestLedgerRegisterAndList(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	assert.ErrorIs(t, l.Register(ctx, parking.NewSlot("A", "L1", "standard", 4, 2, 2)), parking.ErrDuplicateSlot)

	slots, err := l.List(ctx, parking.Filter{})
	require.NoError(t, err)
	require.Len(t, slots, 3)
	assert.Equal(t, parking.NewSlot("A", "L1", "standard", 4.5, 1.8, 1.5), slots[0])

	level2, err := l.List(ctx, parking.Filter{Level: "L2"})
	require.NoError(t, err)
	require.Len(t, level2, 1)
	assert.Equal(t, "C", level2[0].ID)
}

func TestLedgerAssignAndRelease(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	a := parking.Assignment{
		Vehicle: "KA01",
		UserID:  "u1",
		At:      at,
		Window:  &parking.Window{Start: at, End: at.Add(time.Hour)},
	}

	_, err := l.CompareAndAssign(ctx, "A", parking.StatusAvailable, a)
	require.NoError(t, err)

	_, err = l.CompareAndAssign(ctx, "A", parking.StatusAvailable, parking.Assignment{Vehicle: "KA02", At: at})
	assert.ErrorIs(t, err, parking.ErrConflict)

	_, err = l.CompareAndAssign(ctx, "B", parking.StatusAvailable, a)
	assert.ErrorIs(t, err, parking.ErrVehicleParked)

	_, err = l.CompareAndAssign(ctx, "Z", parking.StatusAvailable, parking.Assignment{Vehicle: "KA03", At: at})
	assert.ErrorIs(t, err, parking.ErrNotFound)

	got, err := l.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "KA01", got.Vehicle)
	assert.True(t, got.OccupiedAt.Equal(at))
	require.NotNil(t, got.Booking)
	assert.Equal(t, time.Hour, got.Booking.Duration)

	_, err = l.ReleaseIf(ctx, "KA01", func(parking.Slot) bool { return false })
	assert.ErrorIs(t, err, parking.ErrConflict)

	prev, err := l.Release(ctx, "KA01")
	require.NoError(t, err)
	assert.Equal(t, "A", prev.ID)
	assert.Equal(t, "u1", prev.UserID)

	_, err = l.Release(ctx, "KA01")
	assert.ErrorIs(t, err, parking.ErrNotFound)

	cur, err := l.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, parking.NewSlot("A", "L1", "standard", 4.5, 1.8, 1.5), cur)
}

func TestLedgerConcurrentAssign(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.CompareAndAssign(ctx, "A", parking.StatusAvailable, parking.Assignment{
				Vehicle: fmt.Sprintf("KA%02d", i),
				At:      time.Now(),
			})
			if err == nil {
				wins.Add(1)
			} else if !errors.Is(err, parking.ErrConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
