package parking

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryLedger keeps slots in process memory. Each slot has its own lock,
// and a separate short-lived lock guards the vehicle index. The index is
// only ever locked while holding a slot lock, never the reverse, so
// assignments and releases on different slots proceed in parallel.
type MemoryLedger struct {
	mu      sync.RWMutex
	records map[string]*slotRecord
	order   []string

	vmu      sync.Mutex
	vehicles map[string]string
}

type slotRecord struct {
	mu   sync.Mutex
	slot Slot
}

func NewMemoryLedger(slots ...Slot) (*MemoryLedger, error) {
	l := &MemoryLedger{
		records:  make(map[string]*slotRecord, len(slots)),
		vehicles: make(map[string]string),
	}
	for _, s := range slots {
		if err := l.Register(context.Background(), s); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *MemoryLedger) Register(ctx context.Context, slot Slot) error {
	if err := ValidateSlot(slot); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.records[slot.ID]; ok {
		return fmt.Errorf("slot %s: %w", slot.ID, ErrDuplicateSlot)
	}

	l.records[slot.ID] = &slotRecord{slot: slot.Vacate()}
	i := sort.SearchStrings(l.order, slot.ID)
	l.order = append(l.order, "")
	copy(l.order[i+1:], l.order[i:])
	l.order[i] = slot.ID
	return nil
}

func (l *MemoryLedger) List(ctx context.Context, f Filter) ([]Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	records := make([]*slotRecord, len(l.order))
	for i, id := range l.order {
		records[i] = l.records[id]
	}
	l.mu.RUnlock()

	slots := make([]Slot, 0, len(records))
	for _, r := range records {
		r.mu.Lock()
		s := r.slot.Clone()
		r.mu.Unlock()

		if f.Matches(s) {
			slots = append(slots, s)
		}
	}
	return slots, nil
}

func (l *MemoryLedger) Get(ctx context.Context, slotID string) (Slot, error) {
	r, err := l.record(slotID)
	if err != nil {
		return Slot{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slot.Clone(), nil
}

func (l *MemoryLedger) CompareAndAssign(ctx context.Context, slotID string, expected Status, a Assignment) (Slot, error) {
	if expected != StatusAvailable {
		return Slot{}, invalidf("slots are only assigned from %s, not %s", StatusAvailable, expected)
	}
	if err := a.Validate(); err != nil {
		return Slot{}, err
	}
	if err := ctx.Err(); err != nil {
		return Slot{}, err
	}

	r, err := l.record(slotID)
	if err != nil {
		return Slot{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.slot.Status != expected {
		return Slot{}, fmt.Errorf("slot %s is %s: %w", slotID, r.slot.Status, ErrConflict)
	}

	l.vmu.Lock()
	if held, ok := l.vehicles[a.Vehicle]; ok {
		l.vmu.Unlock()
		return Slot{}, fmt.Errorf("%s in slot %s: %w", a.Vehicle, held, ErrVehicleParked)
	}
	l.vehicles[a.Vehicle] = slotID
	l.vmu.Unlock()

	r.slot = r.slot.Assign(a)
	return r.slot.Clone(), nil
}

func (l *MemoryLedger) Release(ctx context.Context, vehicle string) (Slot, error) {
	return l.ReleaseIf(ctx, vehicle, nil)
}

func (l *MemoryLedger) ReleaseIf(ctx context.Context, vehicle string, cond func(Slot) bool) (Slot, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Slot{}, err
		}

		l.vmu.Lock()
		slotID, ok := l.vehicles[vehicle]
		l.vmu.Unlock()
		if !ok {
			return Slot{}, fmt.Errorf("vehicle %s: %w", vehicle, ErrNotFound)
		}

		r, err := l.record(slotID)
		if err != nil {
			return Slot{}, err
		}

		r.mu.Lock()
		if r.slot.Vehicle != vehicle {
			// Released and re-parked between the index lookup and the lock.
			r.mu.Unlock()
			continue
		}

		if cond != nil && !cond(r.slot.Clone()) {
			r.mu.Unlock()
			return Slot{}, fmt.Errorf("slot %s: release precondition failed: %w", slotID, ErrConflict)
		}

		prev := r.slot.Clone()
		r.slot = r.slot.Vacate()

		l.vmu.Lock()
		delete(l.vehicles, vehicle)
		l.vmu.Unlock()

		r.mu.Unlock()
		return prev, nil
	}
}

// FindVehicle returns the slot vehicle occupies, read under that slot's
// lock. ErrNotFound if the vehicle holds no slot.
func (l *MemoryLedger) FindVehicle(ctx context.Context, vehicle string) (Slot, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Slot{}, err
		}

		l.vmu.Lock()
		slotID, ok := l.vehicles[vehicle]
		l.vmu.Unlock()
		if !ok {
			return Slot{}, fmt.Errorf("vehicle %s: %w", vehicle, ErrNotFound)
		}

		r, err := l.record(slotID)
		if err != nil {
			return Slot{}, err
		}

		r.mu.Lock()
		s := r.slot.Clone()
		r.mu.Unlock()
		if s.Vehicle == vehicle {
			return s, nil
		}
	}
}

func (l *MemoryLedger) Capacity() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

func (l *MemoryLedger) record(slotID string) (*slotRecord, error) {
	l.mu.RLock()
	r, ok := l.records[slotID]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("slot %s: %w", slotID, ErrNotFound)
	}
	return r, nil
}

// ValidateSlot reports whether s can be registered with a Ledger.
func ValidateSlot(s Slot) error {
	if strings.TrimSpace(s.ID) == "" {
		return invalidf("slot id is required")
	}
	if s.MaxLength <= 0 || s.MaxWidth <= 0 || s.MaxHeight <= 0 {
		return invalidf("slot %s: capacity dimensions must be positive", s.ID)
	}
	return nil
}
