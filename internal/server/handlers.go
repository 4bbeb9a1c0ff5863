package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-chi/chi/v5"

	"parking-allocator/internal/parking"
)

const (
	parkMaxTries       = 3
	parkInitialBackoff = 25 * time.Millisecond
	parkMaxBackoff     = 200 * time.Millisecond

	defaultRole = "guest"
)

type Handler struct {
	lot         *parking.InstrumentedLot
	sweeper     *parking.Sweeper
	serviceName string
	logger      *slog.Logger
	now         func() time.Time
}

func NewHandler(lot *parking.InstrumentedLot, sweeper *parking.Sweeper, serviceName string, logger *slog.Logger) *Handler {
	return &Handler{
		lot:         lot,
		sweeper:     sweeper,
		serviceName: serviceName,
		logger:      logger,
		now:         time.Now,
	}
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Service: h.serviceName,
		Meta:    extractMeta(r.Context()),
	})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %s", parking.ErrInvalidRequest, err.Error())
	}
	return nil
}

func (h *Handler) RegisterSlot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req RegisterSlotRequest
	if err := decode(r, &req); err != nil {
		WriteDomainError(ctx, w, err)
		return
	}

	category := req.Category
	if category == "" {
		category = "standard"
	}
	slot := parking.NewSlot(req.ID, req.Level, category, req.MaxLength, req.MaxWidth, req.MaxHeight)
	if err := h.lot.Register(ctx, slot); err != nil {
		WriteDomainError(ctx, w, err)
		return
	}

	WriteCreated(ctx, w, "Slot registered successfully", toSlotResponse(slot))
}

func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	f := parking.Filter{
		Status:   parking.Status(q.Get("status")),
		Level:    q.Get("level"),
		Category: q.Get("category"),
	}
	if f.Status != "" && !f.Status.Valid() {
		WriteError(ctx, w, http.StatusBadRequest, fmt.Sprintf("Unknown status %q", f.Status))
		return
	}

	var (
		slots []parking.Slot
		err   error
	)
	if f == (parking.Filter{}) {
		slots, err = h.lot.Status(ctx)
	} else {
		slots, err = h.lot.Ledger().List(ctx, f)
	}
	if err != nil {
		WriteDomainError(ctx, w, err)
		return
	}

	WriteSuccess(ctx, w, "Status retrieved successfully", toStatusResponse(slots))
}

func (h *Handler) GetSlot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slot, err := h.lot.Ledger().Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		WriteDomainError(ctx, w, err)
		return
	}
	WriteSuccess(ctx, w, "Slot retrieved successfully", toSlotResponse(slot))
}

func (h *Handler) toRequest(req ParkVehicleRequest) (parking.Request, error) {
	out := parking.Request{
		Registration: req.Registration,
		UserID:       req.UserID,
		Role:         req.Role,
	}
	if out.UserID == "" {
		out.UserID = req.Registration
	}
	if out.Role == "" {
		out.Role = defaultRole
	}

	switch {
	case req.Length > 0 || req.Width > 0 || req.Height > 0:
		out.Vehicle = parking.NewVehicle(req.VehicleType, req.Length, req.Width, req.Height)
	case req.VehicleType != "":
		v, err := parking.VehicleForClass(req.VehicleType)
		if err != nil {
			return parking.Request{}, err
		}
		out.Vehicle = v
	default:
		return parking.Request{}, fmt.Errorf("%w: vehicle_type or dimensions are required", parking.ErrInvalidRequest)
	}

	switch {
	case req.BookingStart != nil || req.BookingEnd != nil:
		if req.BookingStart == nil || req.BookingEnd == nil {
			return parking.Request{}, fmt.Errorf("%w: booking_start and booking_end go together", parking.ErrInvalidRequest)
		}
		out.Window = &parking.Window{Start: *req.BookingStart, End: *req.BookingEnd}
	case req.BookingMinutes < 0:
		return parking.Request{}, fmt.Errorf("%w: booking_minutes must not be negative", parking.ErrInvalidRequest)
	case req.BookingMinutes > 0:
		start := h.now()
		out.Window = &parking.Window{Start: start, End: start.Add(time.Duration(req.BookingMinutes) * time.Minute)}
	}
	return out, nil
}

// park retries allocations that lost every candidate to concurrent
// requests. Other failures are returned at once.
func (h *Handler) park(ctx context.Context, req parking.Request) (*parking.Allocation, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = parkInitialBackoff
	bo.MaxInterval = parkMaxBackoff

	return backoff.Retry(ctx, func() (*parking.Allocation, error) {
		alloc, err := h.lot.Park(ctx, req)
		if err != nil && !parking.IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return alloc, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(parkMaxTries),
	)
}

func (h *Handler) ParkVehicle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body ParkVehicleRequest
	if err := decode(r, &body); err != nil {
		WriteDomainError(ctx, w, err)
		return
	}

	req, err := h.toRequest(body)
	if err != nil {
		WriteDomainError(ctx, w, err)
		return
	}

	alloc, err := h.park(ctx, req)
	if err != nil {
		WriteDomainError(ctx, w, err)
		return
	}

	WriteSuccess(ctx, w, "Vehicle parked successfully", ParkResponse{
		SlotID:       alloc.SlotID,
		Level:        alloc.Level,
		Registration: req.Registration,
		Attempts:     alloc.Attempts,
		Booking:      toBookingResponse(alloc.Booking),
	})
}

func (h *Handler) LeaveSlot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req LeaveRequest
	if err := decode(r, &req); err != nil {
		WriteDomainError(ctx, w, err)
		return
	}
	if req.Registration == "" {
		WriteError(ctx, w, http.StatusBadRequest, "Registration number is required")
		return
	}
	if req.Role == "" {
		req.Role = defaultRole
	}

	receipt, err := h.lot.Leave(ctx, req.Registration, req.Role)
	if err != nil {
		WriteDomainError(ctx, w, err)
		return
	}

	WriteSuccess(ctx, w, "Slot vacated successfully", ReceiptResponse{
		SlotID:       receipt.SlotID,
		Level:        receipt.Level,
		Registration: receipt.Registration,
		UserID:       receipt.UserID,
		Role:         receipt.Role,
		Start:        receipt.Start,
		End:          receipt.End,
		Rate:         receipt.Rate,
		Amount:       receipt.Amount,
	})
}

func (h *Handler) FindByRegistration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	registration := chi.URLParam(r, "registration")
	if registration == "" {
		WriteError(ctx, w, http.StatusBadRequest, "Registration number is required")
		return
	}

	slot, err := h.lot.Find(ctx, registration)
	if err != nil {
		WriteDomainError(ctx, w, err)
		return
	}

	WriteSuccess(ctx, w, "Vehicle found", toSlotResponse(slot))
}

func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	n, err := h.lot.Sweep(ctx, h.sweeper)
	if err != nil {
		WriteDomainError(ctx, w, err)
		return
	}
	WriteSuccess(ctx, w, "Sweep completed", map[string]any{
		"released":     n,
		"grace_period": h.sweeper.GracePeriod().String(),
	})
}

func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	n, err := h.lot.Reset(ctx)
	if err != nil {
		WriteDomainError(ctx, w, err)
		return
	}
	WriteSuccess(ctx, w, "Lot reset", map[string]any{"released": n})
}

func (h *Handler) Bill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req BillRequest
	if err := decode(r, &req); err != nil {
		WriteDomainError(ctx, w, err)
		return
	}

	var rate float64
	switch {
	case req.Rate != nil:
		rate = *req.Rate
	case req.Role != "":
		rate = h.lot.Rates().Rate(req.Role)
	default:
		rate = h.lot.Rates().Rate(defaultRole)
	}

	amount, err := parking.ComputeBill(req.Start.Time, req.End.Time, rate)
	if err != nil {
		WriteDomainError(ctx, w, err)
		return
	}
	WriteSuccess(ctx, w, "Bill computed", map[string]any{"amount": amount, "rate": rate})
}
