package parking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func idsOf(slots []Slot) []string {
	ids := make([]string, len(slots))
	for i, s := range slots {
		ids[i] = s.ID
	}
	return ids
}

// fixedOrder ranks candidates in the given order, skipping ids that are not
// candidates.
func fixedOrder(order ...string) Scorer {
	return ScorerFunc(func(candidates []Slot, _ Vehicle, _ string) []string {
		present := make(map[string]bool, len(candidates))
		for _, c := range candidates {
			present[c.ID] = true
		}
		ranked := make([]string, 0, len(candidates))
		for _, id := range order {
			if present[id] {
				ranked = append(ranked, id)
			}
		}
		return ranked
	})
}

func passThrough() Scorer {
	return ScorerFunc(func(candidates []Slot, _ Vehicle, _ string) []string {
		return idsOf(candidates)
	})
}

func shuffled(seed uint64) Scorer {
	var mu sync.Mutex
	rng := rand.New(rand.NewPCG(seed, seed))
	return ScorerFunc(func(candidates []Slot, _ Vehicle, _ string) []string {
		ids := idsOf(candidates)
		mu.Lock()
		rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
		mu.Unlock()
		return ids
	})
}

// racingLedger lets another vehicle take a slot just before the allocator's
// compare-and-assign reaches it.
type racingLedger struct {
	*MemoryLedger
	steal   map[string]string
	onWrite func()
}

func (r *racingLedger) CompareAndAssign(ctx context.Context, slotID string, expected Status, a Assignment) (Slot, error) {
	if r.onWrite != nil {
		r.onWrite()
	}
	if thief, ok := r.steal[slotID]; ok {
		delete(r.steal, slotID)
		if _, err := r.MemoryLedger.CompareAndAssign(context.Background(), slotID, StatusAvailable, assignment(thief)); err != nil {
			return Slot{}, err
		}
	}
	return r.MemoryLedger.CompareAndAssign(ctx, slotID, expected, a)
}

func sedanRequest(reg string) Request {
	return Request{Registration: reg, UserID: "u-" + reg, Role: "guest", Vehicle: NewVehicle("sedan", 4.5, 1.8, 1.5)}
}

func TestAllocateFollowsScorerOrder(t *testing.T) {
	l := newTestLedger(t)
	a := NewAllocator(l, fixedOrder("B", "A", "C"), WithLogger(discardLogger))

	alloc, err := a.Allocate(context.Background(), sedanRequest("KA01"))
	require.NoError(t, err)
	assert.Equal(t, "B", alloc.SlotID)
	assert.Equal(t, "L1", alloc.Level)
	assert.Equal(t, 1, alloc.Attempts)
}

func TestAllocateRecordsOccupancy(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	l := newTestLedger(t)
	a := NewAllocator(l, passThrough(), WithLogger(discardLogger), WithClock(fixedClock(at)))

	req := sedanRequest("KA01")
	req.Window = &Window{Start: at, End: at.Add(45 * time.Minute)}

	alloc, err := a.Allocate(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, alloc.Booking)
	assert.Equal(t, 45*time.Minute, alloc.Booking.Duration)

	slot, err := l.Get(context.Background(), alloc.SlotID)
	require.NoError(t, err)
	assert.Equal(t, at, slot.OccupiedAt)
	assert.Equal(t, "u-KA01", slot.UserID)
}

func TestAllocateRetriesOnConflict(t *testing.T) {
	l := &racingLedger{MemoryLedger: newTestLedger(t), steal: map[string]string{"A": "THIEF"}}
	a := NewAllocator(l, fixedOrder("A", "B", "C"), WithLogger(discardLogger))

	alloc, err := a.Allocate(context.Background(), sedanRequest("KA01"))
	require.NoError(t, err)
	assert.Equal(t, "B", alloc.SlotID)
	assert.Equal(t, 2, alloc.Attempts)

	slotA, err := l.Get(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "THIEF", slotA.Vehicle)
}

func TestAllocateAllCandidatesTaken(t *testing.T) {
	l := &racingLedger{
		MemoryLedger: newTestLedger(t),
		steal:        map[string]string{"A": "T1", "B": "T2", "C": "T3"},
	}
	a := NewAllocator(l, passThrough(), WithLogger(discardLogger))

	_, err := a.Allocate(context.Background(), sedanRequest("KA01"))
	assert.ErrorIs(t, err, ErrNoSlotAvailable)
	assert.True(t, IsTransient(err))
}

func TestAllocateNoFit(t *testing.T) {
	l := newTestLedger(t)
	a := NewAllocator(l, passThrough(), WithLogger(discardLogger))

	req := sedanRequest("BUS1")
	req.Vehicle = NewVehicle("bus", 12, 2.5, 3.2)

	_, err := a.Allocate(context.Background(), req)
	assert.ErrorIs(t, err, ErrNoFit)
	assert.False(t, IsTransient(err))
}

func TestAllocateEmptySnapshot(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	for i, id := range []string{"A", "B", "C"} {
		_, err := l.CompareAndAssign(ctx, id, StatusAvailable, assignment(vehicleName(i)))
		require.NoError(t, err)
	}

	a := NewAllocator(l, passThrough(), WithLogger(discardLogger))
	_, err := a.Allocate(ctx, sedanRequest("KA99"))
	assert.ErrorIs(t, err, ErrNoSlotAvailable)

	empty, err := NewMemoryLedger()
	require.NoError(t, err)
	_, err = NewAllocator(empty, passThrough(), WithLogger(discardLogger)).Allocate(ctx, sedanRequest("KA99"))
	assert.ErrorIs(t, err, ErrNoSlotAvailable)
}

func TestAllocateScorerViolation(t *testing.T) {
	tests := []struct {
		name   string
		scorer Scorer
	}{
		{"fabricated", ScorerFunc(func([]Slot, Vehicle, string) []string { return []string{"A", "B", "Z"} })},
		{"dropped", ScorerFunc(func([]Slot, Vehicle, string) []string { return []string{"A"} })},
		{"duplicated", ScorerFunc(func([]Slot, Vehicle, string) []string { return []string{"A", "A", "B"} })},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			l := newTestLedger(t)
			a := NewAllocator(l, tt.scorer, WithLogger(discardLogger))

			req := sedanRequest("KA01")
			req.Vehicle = NewVehicle("compact", 3.6, 1.6, 1.4)
			_, err := a.Allocate(ctx, req)
			assert.ErrorIs(t, err, ErrScorerInvariant)

			occupied, err := l.List(ctx, Filter{Status: StatusOccupied})
			require.NoError(t, err)
			assert.Empty(t, occupied, "no write may happen after a scorer violation")
		})
	}
}

func TestAllocateVehicleAlreadyParked(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	a := NewAllocator(l, passThrough(), WithLogger(discardLogger))

	_, err := a.Allocate(ctx, sedanRequest("KA01"))
	require.NoError(t, err)

	_, err = a.Allocate(ctx, sedanRequest("KA01"))
	assert.ErrorIs(t, err, ErrVehicleParked)
}

func TestAllocateInvalidRequest(t *testing.T) {
	a := NewAllocator(newTestLedger(t), passThrough(), WithLogger(discardLogger))
	now := time.Now()

	_, err := a.Allocate(context.Background(), Request{Vehicle: NewVehicle("sedan", 4.5, 1.8, 1.5)})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	req := sedanRequest("KA01")
	req.Window = &Window{Start: now, End: now.Add(-time.Hour)}
	_, err = a.Allocate(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestAllocateCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := &racingLedger{
		MemoryLedger: newTestLedger(t),
		steal:        map[string]string{"A": "THIEF"},
		onWrite:      cancel,
	}
	a := NewAllocator(l, fixedOrder("A", "B", "C"), WithLogger(discardLogger))

	_, err := a.Allocate(ctx, sedanRequest("KA01"))
	assert.ErrorIs(t, err, context.Canceled)

	occupied, err := l.List(context.Background(), Filter{Status: StatusOccupied})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, idsOf(occupied), "only the thief's write may land")
}

func TestAllocateConcurrentExclusivity(t *testing.T) {
	ctx := context.Background()

	const slots = 20
	const vehicles = 50
	l, err := NewMemoryLedger()
	require.NoError(t, err)
	for i := range slots {
		require.NoError(t, l.Register(ctx, NewSlot(fmt.Sprintf("S%02d", i), "L1", "standard", 5, 2, 2)))
	}

	a := NewAllocator(l, shuffled(7), WithLogger(discardLogger))

	var mu sync.Mutex
	holders := make(map[string]string)
	var wg sync.WaitGroup
	for i := range vehicles {
		wg.Add(1)
		go func(reg string) {
			defer wg.Done()
			alloc, err := a.Allocate(ctx, sedanRequest(reg))
			if err != nil {
				if !errors.Is(err, ErrNoSlotAvailable) {
					t.Errorf("unexpected error for %s: %v", reg, err)
				}
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if prev, ok := holders[alloc.SlotID]; ok {
				t.Errorf("slot %s granted to both %s and %s", alloc.SlotID, prev, reg)
			}
			holders[alloc.SlotID] = reg
		}(vehicleName(i))
	}
	wg.Wait()

	assert.Len(t, holders, slots)

	occupied, err := l.List(ctx, Filter{Status: StatusOccupied})
	require.NoError(t, err)
	require.Len(t, occupied, slots)
	for _, s := range occupied {
		assert.Equal(t, holders[s.ID], s.Vehicle)
	}
}

func TestAllocateCapacitySoundness(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(1, 2))

	l, err := NewMemoryLedger()
	require.NoError(t, err)
	for i := range 40 {
		require.NoError(t, l.Register(ctx, NewSlot(fmt.Sprintf("S%02d", i), "L1", "standard",
			3.5+rng.Float64()*2, 1.5+rng.Float64()*0.8, 1.4+rng.Float64()*0.9)))
	}

	a := NewAllocator(l, shuffled(3), WithLogger(discardLogger))
	for i := range 60 {
		req := sedanRequest(vehicleName(i))
		req.Vehicle = NewVehicle("random", 3+rng.Float64()*2.5, 1.4+rng.Float64()*0.9, 1.3+rng.Float64()*1.0)

		alloc, err := a.Allocate(ctx, req)
		if err != nil {
			assert.True(t, errors.Is(err, ErrNoFit) || errors.Is(err, ErrNoSlotAvailable), "unexpected error %v", err)
			continue
		}
		assert.True(t, alloc.Slot.Fits(req.Vehicle), "slot %s cannot hold %+v", alloc.SlotID, req.Vehicle)
	}
}

func TestAllocateReleaseSweepExclusivity(t *testing.T) {
	ctx := context.Background()

	const slots = 8
	const workers = 16
	const rounds = 200
	l, err := NewMemoryLedger()
	require.NoError(t, err)
	for i := range slots {
		require.NoError(t, l.Register(ctx, NewSlot(fmt.Sprintf("S%02d", i), "L1", "standard", 5, 2, 2)))
	}

	a := NewAllocator(l, shuffled(11), WithLogger(discardLogger))
	sweeper := NewSweeper(l, WithGracePeriod(0), WithSweeperLogger(discardLogger))
	expired := &Window{Start: time.Now().Add(-2 * time.Hour), End: time.Now().Add(-time.Hour)}

	stop := make(chan struct{})
	var background sync.WaitGroup
	background.Add(2)
	go func() {
		defer background.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := sweeper.Sweep(ctx); err != nil {
				t.Errorf("sweep: %v", err)
				return
			}
		}
	}()
	go func() {
		defer background.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, p := range inconsistencies(l) {
				t.Error(p)
			}
		}
	}()

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			req := sedanRequest(vehicleName(w))
			for i := range rounds {
				req.Window = nil
				if i%3 == 0 {
					req.Window = expired
				}
				_, err := a.Allocate(ctx, req)
				switch {
				case err == nil:
				case errors.Is(err, ErrNoSlotAvailable):
					continue
				default:
					t.Errorf("allocate %s: %v", req.Registration, err)
					return
				}
				if _, err := l.Release(ctx, req.Registration); err != nil && !errors.Is(err, ErrNotFound) {
					t.Errorf("release %s: %v", req.Registration, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(stop)
	background.Wait()

	assert.Empty(t, inconsistencies(l))
	occupied, err := l.List(ctx, Filter{Status: StatusOccupied})
	require.NoError(t, err)
	assert.Empty(t, occupied)
}
