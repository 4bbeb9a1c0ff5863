package parking

import (
	"context"
	"errors"
)

// Ledger is the single source of truth for slot occupancy. Writes are
// linearizable per slot_id; operations on different slots never block
// each other. Implementations persist a mutation before reporting success.
type Ledger interface {
	// Register adds a new available slot. ErrDuplicateSlot if the id exists.
	Register(ctx context.Context, slot Slot) error
	// List returns the slots matching f ordered by slot_id. Each slot is
	// read atomically but the result need not be one point-in-time view:
	// a vehicle moved during the call may appear in two slots.
	List(ctx context.Context, f Filter) ([]Slot, error)
	Get(ctx context.Context, slotID string) (Slot, error)
	// CompareAndAssign occupies slotID with a only if its status still
	// equals expected. ErrConflict otherwise, ErrVehicleParked if the
	// vehicle already holds another slot.
	CompareAndAssign(ctx context.Context, slotID string, expected Status, a Assignment) (Slot, error)
	// Release frees the slot occupied by vehicle and returns it as it was
	// just before release. ErrNotFound if the vehicle holds no slot.
	Release(ctx context.Context, vehicle string) (Slot, error)
	// ReleaseIf behaves like Release but only when cond holds for the
	// current slot state, evaluated atomically. ErrConflict otherwise.
	ReleaseIf(ctx context.Context, vehicle string, cond func(Slot) bool) (Slot, error)
}

// VehicleFinder is implemented by ledgers that can look up the slot a
// vehicle occupies atomically.
type VehicleFinder interface {
	FindVehicle(ctx context.Context, vehicle string) (Slot, error)
}

// Filter selects slots by equality on the non-zero fields.
type Filter struct {
	Status   Status
	Level    string
	Category string
	// Bookable restricts the result to occupied slots carrying a booking
	// with a defined end.
	Bookable bool
}

func (f Filter) Matches(s Slot) bool {
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.Level != "" && s.Level != f.Level {
		return false
	}
	if f.Category != "" && s.Category != f.Category {
		return false
	}
	if f.Bookable && (!s.IsOccupied() || s.Booking == nil || s.Booking.End == nil) {
		return false
	}
	return true
}

// ReleaseAll frees every occupied slot one release at a time and returns
// how many were freed. Slots released concurrently are skipped.
func ReleaseAll(ctx context.Context, ledger Ledger) (int, error) {
	occupied, err := ledger.List(ctx, Filter{Status: StatusOccupied})
	if err != nil {
		return 0, err
	}

	var errs []error
	released := 0
	for _, slot := range occupied {
		if err := ctx.Err(); err != nil {
			return released, err
		}
		_, err := ledger.ReleaseIf(ctx, slot.Vehicle, func(cur Slot) bool {
			return cur.ID == slot.ID
		})
		switch {
		case err == nil:
			released++
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict):
		default:
			errs = append(errs, err)
		}
	}
	return released, errors.Join(errs...)
}
