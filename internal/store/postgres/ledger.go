// Package postgres implements a durable slot ledger on PostgreSQL. Row
// locks give per-slot linearizability: a compare-and-assign is a single
// conditional UPDATE and a release locks the occupant's row.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"parking-allocator/internal/parking"
)

const (
	uniqueViolation        = "23505"
	occupantVehicleKeyName = "parking_slots_occupant_vehicle_key"
)

type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Ledger struct {
	pool *pgxpool.Pool
}

var _ parking.Ledger = (*Ledger)(nil)

func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

const selectSlot = `
	SELECT s.slot_id, s.level, s.category, s.max_length, s.max_width, s.max_height,
		s.status, COALESCE(s.occupant_vehicle, ''), COALESCE(s.occupant_user, ''), s.occupied_at,
		b.user_id, b.booking_start, b.booking_end
	FROM parking_slots s
	LEFT JOIN parking_bookings b ON b.slot_id = s.slot_id`

func scanSlot(row pgx.Row) (parking.Slot, error) {
	var (
		s          parking.Slot
		status     string
		occupiedAt *time.Time
		bUser      *string
		bStart     *time.Time
		bEnd       *time.Time
	)
	err := row.Scan(&s.ID, &s.Level, &s.Category, &s.MaxLength, &s.MaxWidth, &s.MaxHeight,
		&status, &s.Vehicle, &s.UserID, &occupiedAt,
		&bUser, &bStart, &bEnd)
	if err != nil {
		return parking.Slot{}, err
	}

	s.Status = parking.Status(status)
	if occupiedAt != nil {
		s.OccupiedAt = *occupiedAt
	}
	if bUser != nil && bStart != nil {
		s.Booking = &parking.Booking{
			UserID: *bUser,
			SlotID: s.ID,
			Start:  *bStart,
			End:    bEnd,
		}
		if bEnd != nil {
			s.Booking.Duration = bEnd.Sub(*bStart)
		}
	}
	return s, nil
}

func (l *Ledger) Register(ctx context.Context, slot parking.Slot) error {
	if err := parking.ValidateSlot(slot); err != nil {
		return err
	}

	tag, err := l.pool.Exec(ctx, `
		INSERT INTO parking_slots (slot_id, level, category, max_length, max_width, max_height)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (slot_id) DO NOTHING`,
		slot.ID, slot.Level, slot.Category, slot.MaxLength, slot.MaxWidth, slot.MaxHeight,
	)
	if err != nil {
		return fmt.Errorf("insert slot %s: %w", slot.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("slot %s: %w", slot.ID, parking.ErrDuplicateSlot)
	}
	return nil
}

func (l *Ledger) List(ctx context.Context, f parking.Filter) ([]parking.Slot, error) {
	rows, err := l.pool.Query(ctx, selectSlot+`
		WHERE ($1 = '' OR s.status = $1)
			AND ($2 = '' OR s.level = $2)
			AND ($3 = '' OR s.category = $3)
		ORDER BY s.slot_id`,
		string(f.Status), f.Level, f.Category,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []parking.Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		if f.Matches(s) {
			slots = append(slots, s)
		}
	}
	return slots, rows.Err()
}

func (l *Ledger) Get(ctx context.Context, slotID string) (parking.Slot, error) {
	s, err := scanSlot(l.pool.QueryRow(ctx, selectSlot+` WHERE s.slot_id = $1`, slotID))
	if errors.Is(err, pgx.ErrNoRows) {
		return parking.Slot{}, fmt.Errorf("slot %s: %w", slotID, parking.ErrNotFound)
	}
	return s, err
}

// truncate matches the microsecond precision of timestamptz so the slot
// returned to the caller equals what a later read yields.
func truncate(a parking.Assignment) parking.Assignment {
	a.At = a.At.Truncate(time.Microsecond)
	if a.Window != nil {
		w := parking.Window{
			Start: a.Window.Start.Truncate(time.Microsecond),
			End:   a.Window.End.Truncate(time.Microsecond),
		}
		a.Window = &w
	}
	return a
}

func (l *Ledger) CompareAndAssign(ctx context.Context, slotID string, expected parking.Status, a parking.Assignment) (parking.Slot, error) {
	if expected != parking.StatusAvailable {
		return parking.Slot{}, fmt.Errorf("%w: slots are only assigned from %s", parking.ErrInvalidRequest, parking.StatusAvailable)
	}
	if err := a.Validate(); err != nil {
		return parking.Slot{}, err
	}
	a = truncate(a)

	var slot parking.Slot
	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		var s parking.Slot
		err := tx.QueryRow(ctx, `
			UPDATE parking_slots
			SET status = 'occupied', occupant_vehicle = $2, occupant_user = $3, occupied_at = $4
			WHERE slot_id = $1 AND status = $5
			RETURNING slot_id, level, category, max_length, max_width, max_height`,
			slotID, a.Vehicle, a.UserID, a.At, string(expected),
		).Scan(&s.ID, &s.Level, &s.Category, &s.MaxLength, &s.MaxWidth, &s.MaxHeight)

		var pgErr *pgconn.PgError
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return l.missOrConflict(ctx, tx, slotID)
		case errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == occupantVehicleKeyName:
			return fmt.Errorf("%s: %w", a.Vehicle, parking.ErrVehicleParked)
		case err != nil:
			return err
		}

		slot = s.Assign(a)
		if b := slot.Booking; b != nil {
			_, err := tx.Exec(ctx, `
				INSERT INTO parking_bookings (user_id, slot_id, booking_start, booking_end, duration_seconds)
				VALUES ($1, $2, $3, $4, $5)`,
				b.UserID, b.SlotID, b.Start, *b.End, int64(b.Duration/time.Second),
			)
			if err != nil {
				return fmt.Errorf("insert booking for slot %s: %w", slotID, err)
			}
		}
		return nil
	})
	if err != nil {
		return parking.Slot{}, err
	}
	return slot, nil
}

func (l *Ledger) missOrConflict(ctx context.Context, tx pgx.Tx, slotID string) error {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM parking_slots WHERE slot_id = $1`, slotID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("slot %s: %w", slotID, parking.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("slot %s is %s: %w", slotID, status, parking.ErrConflict)
}

func (l *Ledger) Release(ctx context.Context, vehicle string) (parking.Slot, error) {
	return l.ReleaseIf(ctx, vehicle, nil)
}

func (l *Ledger) ReleaseIf(ctx context.Context, vehicle string, cond func(parking.Slot) bool) (parking.Slot, error) {
	var prev parking.Slot
	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		s, err := scanSlot(tx.QueryRow(ctx, selectSlot+`
			WHERE s.occupant_vehicle = $1
			FOR UPDATE OF s`, vehicle))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("vehicle %s: %w", vehicle, parking.ErrNotFound)
		}
		if err != nil {
			return err
		}

		if cond != nil && !cond(s) {
			return fmt.Errorf("slot %s: release precondition failed: %w", s.ID, parking.ErrConflict)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM parking_bookings WHERE slot_id = $1`, s.ID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE parking_slots
			SET status = 'available', occupant_vehicle = NULL, occupant_user = NULL, occupied_at = NULL
			WHERE slot_id = $1`, s.ID); err != nil {
			return err
		}
		prev = s
		return nil
	})
	if err != nil {
		return parking.Slot{}, err
	}
	return prev, nil
}
