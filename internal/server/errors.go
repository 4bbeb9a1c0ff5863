package server

import (
	"context"
	"errors"
	"net/http"

	"parking-allocator/internal/parking"
)

// StatusFor returns the HTTP status for a domain error.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, parking.ErrInvalidRequest), errors.Is(err, parking.ErrInvalidInterval):
		return http.StatusBadRequest
	case errors.Is(err, parking.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, parking.ErrConflict),
		errors.Is(err, parking.ErrVehicleParked),
		errors.Is(err, parking.ErrDuplicateSlot):
		return http.StatusConflict
	case errors.Is(err, parking.ErrNoFit):
		return http.StatusUnprocessableEntity
	case errors.Is(err, parking.ErrNoSlotAvailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
