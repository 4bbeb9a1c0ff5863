package parking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"parking-allocator/internal/logging"
)

// Request asks for one slot for the vehicle with the given registration.
type Request struct {
	Registration string
	UserID       string
	Role         string
	Vehicle      Vehicle
	Window       *Window
}

func (r Request) Validate() error {
	if r.Registration == "" {
		return invalidf("vehicle registration is required")
	}
	if err := r.Vehicle.Validate(); err != nil {
		return err
	}
	if r.Window != nil && r.Window.End.Before(r.Window.Start) {
		return invalidf("booking window ends before it starts")
	}
	return nil
}

type Allocation struct {
	SlotID   string
	Level    string
	Slot     Slot
	Booking  *Booking
	Attempts int
}

type Option func(*options)

type options struct {
	logger *slog.Logger
	now    func() time.Time
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Allocator matches requests to slots. It holds no state beyond its
// collaborators; the only atomic point is the ledger's per-slot
// compare-and-assign.
type Allocator struct {
	ledger Ledger
	scorer Scorer
	logger *slog.Logger
	now    func() time.Time
}

func NewAllocator(ledger Ledger, scorer Scorer, opts ...Option) *Allocator {
	o := buildOptions(opts)
	return &Allocator{
		ledger: ledger,
		scorer: scorer,
		logger: o.logger,
		now:    o.now,
	}
}

// Allocate assigns the first ranked candidate that is still available.
// Conflicts move on to the next candidate; when the ranking is exhausted
// ErrNoSlotAvailable is returned and the caller decides whether to retry.
// Cancelling ctx aborts the call before the next write is attempted.
func (a *Allocator) Allocate(ctx context.Context, req Request) (*Allocation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	available, err := a.ledger.List(ctx, Filter{Status: StatusAvailable})
	if err != nil {
		return nil, fmt.Errorf("snapshot available slots: %w", err)
	}
	if len(available) == 0 {
		return nil, ErrNoSlotAvailable
	}

	candidates := Match(req.Vehicle, available)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %.2fx%.2fx%.2f", ErrNoFit, req.Vehicle.Length, req.Vehicle.Width, req.Vehicle.Height)
	}

	ranked := a.scorer.Rank(candidates, req.Vehicle, req.Role)
	if err := checkRanking(candidates, ranked); err != nil {
		logging.From(ctx, a.logger).ErrorContext(ctx, "scorer contract violated",
			slog.Int("candidates", len(candidates)),
			slog.Int("ranked", len(ranked)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	assignment := Assignment{
		Vehicle: req.Registration,
		UserID:  req.UserID,
		Window:  req.Window,
	}

	for i, slotID := range ranked {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		assignment.At = a.now()
		slot, err := a.ledger.CompareAndAssign(ctx, slotID, StatusAvailable, assignment)
		switch {
		case err == nil:
			return &Allocation{
				SlotID:   slot.ID,
				Level:    slot.Level,
				Slot:     slot,
				Booking:  slot.Booking,
				Attempts: i + 1,
			}, nil
		case errors.Is(err, ErrConflict), errors.Is(err, ErrNotFound):
			a.logger.DebugContext(ctx, "candidate taken, trying next",
				slog.String("slot_id", slotID),
				slog.Int("attempt", i+1),
			)
		default:
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: all %d candidates taken", ErrNoSlotAvailable, len(ranked))
}
