package parking

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoFit is returned when no available slot meets the vehicle's
	// physical constraints.
	ErrNoFit = errors.New("no slot fits the vehicle")
	// ErrScorerInvariant is returned when the injected scorer's ranking is
	// not a permutation of the candidates it was given.
	ErrScorerInvariant = errors.New("scorer invariant violation")
	// ErrConflict is returned when a slot's expected prior state did not
	// hold at write time.
	ErrConflict = errors.New("slot state conflict")
	// ErrNoSlotAvailable is returned when every ranked candidate was taken
	// concurrently. It is transient.
	ErrNoSlotAvailable = errors.New("no slot available")
	ErrNotFound        = errors.New("not found")
	ErrInvalidInterval = errors.New("invalid interval")

	ErrVehicleParked  = errors.New("vehicle already occupies a slot")
	ErrDuplicateSlot  = errors.New("slot already registered")
	ErrInvalidRequest = errors.New("invalid request")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// IsTransient reports whether err is worth retrying with a fresh snapshot.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNoSlotAvailable) || errors.Is(err, ErrConflict)
}

// Kind names the error kind of err for metrics and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoFit):
		return "no_fit"
	case errors.Is(err, ErrScorerInvariant):
		return "scorer_invariant"
	case errors.Is(err, ErrNoSlotAvailable):
		return "no_slot_available"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInterval):
		return "invalid_interval"
	case errors.Is(err, ErrVehicleParked):
		return "vehicle_parked"
	case errors.Is(err, ErrDuplicateSlot):
		return "duplicate_slot"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
