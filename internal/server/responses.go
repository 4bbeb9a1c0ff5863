package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"parking-allocator/internal/parking"
)

type Meta struct {
	TraceID   string `json:"trace_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Meta    *Meta  `json:"meta,omitempty"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Meta    *Meta  `json:"meta,omitempty"`
}

type RegisterSlotRequest struct {
	ID        string  `json:"id"`
	Level     string  `json:"level"`
	Category  string  `json:"category"`
	MaxLength float64 `json:"max_length"`
	MaxWidth  float64 `json:"max_width"`
	MaxHeight float64 `json:"max_height"`
}

type ParkVehicleRequest struct {
	Registration   string     `json:"registration"`
	UserID         string     `json:"user_id"`
	Role           string     `json:"role"`
	VehicleType    string     `json:"vehicle_type"`
	Length         float64    `json:"length"`
	Width          float64    `json:"width"`
	Height         float64    `json:"height"`
	BookingMinutes int        `json:"booking_minutes"`
	BookingStart   *time.Time `json:"booking_start"`
	BookingEnd     *time.Time `json:"booking_end"`
}

type LeaveRequest struct {
	Registration string `json:"registration"`
	Role         string `json:"role"`
}

// BillRequest bills an interval at rate, or at the lot's rate for role
// when rate is omitted.
type BillRequest struct {
	Start BillTime `json:"start"`
	End   BillTime `json:"end"`
	Rate  *float64 `json:"rate,omitempty"`
	Role  string   `json:"role,omitempty"`
}

// BillTime decodes any of parking.BillTimeLayouts, for example
// "2024-01-01 10:00:00".
type BillTime struct {
	time.Time
}

func (bt *BillTime) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t, err := parking.ParseBillTime(raw)
	if err != nil {
		return err
	}
	bt.Time = t
	return nil
}

type BookingResponse struct {
	UserID          string     `json:"user_id"`
	Start           time.Time  `json:"start"`
	End             *time.Time `json:"end,omitempty"`
	DurationMinutes float64    `json:"duration_minutes"`
}

type SlotResponse struct {
	SlotID     string           `json:"slot_id"`
	Level      string           `json:"level"`
	Category   string           `json:"category"`
	MaxLength  float64          `json:"max_length"`
	MaxWidth   float64          `json:"max_width"`
	MaxHeight  float64          `json:"max_height"`
	Status     string           `json:"status"`
	Vehicle    string           `json:"vehicle,omitempty"`
	UserID     string           `json:"user_id,omitempty"`
	OccupiedAt *time.Time       `json:"occupied_at,omitempty"`
	Booking    *BookingResponse `json:"booking,omitempty"`
}

type ParkResponse struct {
	SlotID       string           `json:"slot_id"`
	Level        string           `json:"level"`
	Registration string           `json:"registration"`
	Attempts     int              `json:"attempts"`
	Booking      *BookingResponse `json:"booking,omitempty"`
}

type ReceiptResponse struct {
	SlotID       string    `json:"slot_id"`
	Level        string    `json:"level"`
	Registration string    `json:"registration"`
	UserID       string    `json:"user_id,omitempty"`
	Role         string    `json:"role"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Rate         float64   `json:"rate"`
	Amount       float64   `json:"amount"`
}

type StatusResponse struct {
	Capacity  int            `json:"capacity"`
	Occupied  int            `json:"occupied"`
	Available int            `json:"available"`
	Slots     []SlotResponse `json:"slots"`
}

func toBookingResponse(b *parking.Booking) *BookingResponse {
	if b == nil {
		return nil
	}
	return &BookingResponse{
		UserID:          b.UserID,
		Start:           b.Start,
		End:             b.End,
		DurationMinutes: b.Duration.Minutes(),
	}
}

func toSlotResponse(s parking.Slot) SlotResponse {
	resp := SlotResponse{
		SlotID:    s.ID,
		Level:     s.Level,
		Category:  s.Category,
		MaxLength: s.MaxLength,
		MaxWidth:  s.MaxWidth,
		MaxHeight: s.MaxHeight,
		Status:    string(s.Status),
		Vehicle:   s.Vehicle,
		UserID:    s.UserID,
		Booking:   toBookingResponse(s.Booking),
	}
	if !s.OccupiedAt.IsZero() {
		at := s.OccupiedAt
		resp.OccupiedAt = &at
	}
	return resp
}

func toStatusResponse(slots []parking.Slot) StatusResponse {
	resp := StatusResponse{
		Capacity: len(slots),
		Slots:    make([]SlotResponse, 0, len(slots)),
	}
	for _, s := range slots {
		if s.IsOccupied() {
			resp.Occupied++
		}
		resp.Slots = append(resp.Slots, toSlotResponse(s))
	}
	resp.Available = resp.Capacity - resp.Occupied
	return resp
}

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func extractMeta(ctx context.Context) *Meta {
	meta := &Meta{}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasTraceID() {
		meta.TraceID = span.SpanContext().TraceID().String()
	}

	if reqID, ok := ctx.Value(RequestIDKey).(string); ok {
		meta.RequestID = reqID
	}

	return meta
}

func WriteSuccess(ctx context.Context, w http.ResponseWriter, message string, data any) {
	writeSuccess(ctx, w, http.StatusOK, message, data)
}

func WriteCreated(ctx context.Context, w http.ResponseWriter, message string, data any) {
	writeSuccess(ctx, w, http.StatusCreated, message, data)
}

func writeSuccess(ctx context.Context, w http.ResponseWriter, status int, message string, data any) {
	WriteJSON(w, status, Response{
		Success: true,
		Message: message,
		Data:    data,
		Meta:    extractMeta(ctx),
	})
}

func WriteError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, Response{
		Success: false,
		Error:   message,
		Meta:    extractMeta(ctx),
	})
}

// WriteDomainError maps err to its HTTP status and reports its kind.
func WriteDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	status := StatusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Internal server error"
	}
	WriteJSON(w, status, Response{
		Success: false,
		Error:   message,
		Kind:    parking.Kind(err),
		Meta:    extractMeta(ctx),
	})
}
