package parking

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Receipt is produced when a vehicle leaves.
type Receipt struct {
	SlotID       string
	Level        string
	Registration string
	UserID       string
	Role         string
	Start        time.Time
	End          time.Time
	Rate         float64
	Amount       float64
}

// Lot ties the allocator, the ledger and the rate schedule together for
// callers that park and release vehicles.
type Lot struct {
	ledger    Ledger
	allocator *Allocator
	rates     RateSchedule
	logger    *slog.Logger
	now       func() time.Time
}

func NewLot(ledger Ledger, scorer Scorer, rates RateSchedule, opts ...Option) *Lot {
	o := buildOptions(opts)
	return &Lot{
		ledger:    ledger,
		allocator: NewAllocator(ledger, scorer, opts...),
		rates:     rates,
		logger:    o.logger,
		now:       o.now,
	}
}

func (l *Lot) Ledger() Ledger {
	return l.ledger
}

func (l *Lot) Rates() RateSchedule {
	return l.rates
}

func (l *Lot) Register(ctx context.Context, slot Slot) error {
	return l.ledger.Register(ctx, slot)
}

func (l *Lot) Park(ctx context.Context, req Request) (*Allocation, error) {
	return l.allocator.Allocate(ctx, req)
}

// Leave releases the vehicle's slot and bills the occupancy at the rate
// for role.
func (l *Lot) Leave(ctx context.Context, registration, role string) (*Receipt, error) {
	prev, err := l.ledger.Release(ctx, registration)
	if err != nil {
		return nil, err
	}

	end := l.now()
	start := prev.OccupiedAt
	if end.Before(start) {
		end = start
	}

	rate := l.rates.Rate(role)
	amount, err := ComputeBill(start, end, rate)
	if err != nil {
		return nil, fmt.Errorf("bill slot %s: %w", prev.ID, err)
	}

	return &Receipt{
		SlotID:       prev.ID,
		Level:        prev.Level,
		Registration: registration,
		UserID:       prev.UserID,
		Role:         role,
		Start:        start,
		End:          end,
		Rate:         rate,
		Amount:       amount,
	}, nil
}

// Status returns every slot ordered by slot_id.
func (l *Lot) Status(ctx context.Context) ([]Slot, error) {
	return l.ledger.List(ctx, Filter{})
}

func (l *Lot) Available(ctx context.Context) ([]Slot, error) {
	return l.ledger.List(ctx, Filter{Status: StatusAvailable})
}

// Find returns the slot occupied by registration. Ledgers implementing
// VehicleFinder answer from their vehicle index; others are scanned.
func (l *Lot) Find(ctx context.Context, registration string) (Slot, error) {
	if f, ok := l.ledger.(VehicleFinder); ok {
		return f.FindVehicle(ctx, registration)
	}

	occupied, err := l.ledger.List(ctx, Filter{Status: StatusOccupied})
	if err != nil {
		return Slot{}, err
	}
	for _, s := range occupied {
		if s.Vehicle == registration {
			return s, nil
		}
	}
	return Slot{}, fmt.Errorf("vehicle %s: %w", registration, ErrNotFound)
}

// Reset frees every occupied slot.
func (l *Lot) Reset(ctx context.Context) (int, error) {
	n, err := ReleaseAll(ctx, l.ledger)
	l.logger.InfoContext(ctx, "lot reset", slog.Int("released", n))
	return n, err
}
