package parking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"parking-allocator/internal/logging"
)

const (
	DefaultSweepInterval = time.Minute
	DefaultGracePeriod   = 30 * time.Minute
)

// Sweeper releases occupied slots whose booking ended more than the grace
// period ago. Each release is an independent per-slot ledger operation,
// so a pass never holds up allocations.
type Sweeper struct {
	ledger    Ledger
	interval  time.Duration
	grace     time.Duration
	onRelease func(context.Context, Slot)
	logger    *slog.Logger
	now       func() time.Time
}

type SweeperOption func(*Sweeper)

// WithInterval sets the time between sweeps. Non-positive values keep
// DefaultSweepInterval.
func WithInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.interval = d }
}

func WithGracePeriod(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.grace = d }
}

// WithReleaseHook registers fn to be called with every expired slot the
// sweeper frees, as it was just before release.
func WithReleaseHook(fn func(context.Context, Slot)) SweeperOption {
	return func(s *Sweeper) { s.onRelease = fn }
}

func WithSweeperLogger(l *slog.Logger) SweeperOption {
	return func(s *Sweeper) { s.logger = l }
}

func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

func NewSweeper(ledger Ledger, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		ledger:   ledger,
		interval: DefaultSweepInterval,
		grace:    DefaultGracePeriod,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.interval <= 0 {
		s.interval = DefaultSweepInterval
	}
	if s.grace < 0 {
		s.grace = 0
	}
	return s
}

func (s *Sweeper) GracePeriod() time.Duration {
	return s.grace
}

// Sweep runs a single pass and returns the number of bookings released.
// Slots released concurrently by someone else are skipped silently.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	booked, err := s.ledger.List(ctx, Filter{Status: StatusOccupied, Bookable: true})
	if err != nil {
		return 0, err
	}

	now := s.now()
	var errs []error
	released := 0

	for _, slot := range booked {
		if !slot.ExpiresAfter(now, s.grace) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return released, err
		}

		end := *slot.Booking.End
		prev, err := s.ledger.ReleaseIf(ctx, slot.Vehicle, func(cur Slot) bool {
			return cur.ID == slot.ID && cur.Booking != nil && cur.Booking.End != nil &&
				cur.Booking.End.Equal(end) && cur.ExpiresAfter(now, s.grace)
		})
		switch {
		case err == nil:
			released++
			logging.From(ctx, s.logger).InfoContext(ctx, "booking expired, slot released",
				slog.String("slot_id", prev.ID),
				slog.String("vehicle", prev.Vehicle),
				slog.String("user_id", prev.UserID),
				slog.Time("booking_end", end),
			)
			if s.onRelease != nil {
				s.onRelease(ctx, prev)
			}
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict):
		default:
			logging.From(ctx, s.logger).ErrorContext(ctx, "expiry release failed",
				slog.String("slot_id", slot.ID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}

	return released, errors.Join(errs...)
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.WarnContext(ctx, "sweep pass finished with errors", slog.String("error", err.Error()))
			}
		}
	}
}
