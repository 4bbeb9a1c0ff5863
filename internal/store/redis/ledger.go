// Package redis implements a slot ledger on Redis. Each slot is a hash and
// each parked vehicle has an index key pointing at its slot. Writes use
// WATCH/MULTI so a slot changes only if nobody touched it since it was read.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"parking-allocator/internal/parking"
)

const (
	DefaultPrefix = "parking"

	maxReleaseAttempts = 8
)

const (
	fieldLevel        = "level"
	fieldCategory     = "category"
	fieldMaxLength    = "max_length"
	fieldMaxWidth     = "max_width"
	fieldMaxHeight    = "max_height"
	fieldStatus       = "status"
	fieldVehicle      = "vehicle"
	fieldUser         = "user"
	fieldOccupiedAt   = "occupied_at"
	fieldBookingUser  = "booking_user"
	fieldBookingStart = "booking_start"
	fieldBookingEnd   = "booking_end"
)

var occupantFields = []string{
	fieldVehicle, fieldUser, fieldOccupiedAt,
	fieldBookingUser, fieldBookingStart, fieldBookingEnd,
}

var errRetry = errors.New("vehicle moved, retry")

type Ledger struct {
	client *redis.Client
	prefix string
}

var _ parking.Ledger = (*Ledger)(nil)

func NewLedger(client *redis.Client, prefix string) *Ledger {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Ledger{client: client, prefix: prefix}
}

func (l *Ledger) slotKey(id string) string {
	return l.prefix + ":slot:" + id
}

func (l *Ledger) idsKey() string {
	return l.prefix + ":slots"
}

func (l *Ledger) vehicleKey(vehicle string) string {
	return l.prefix + ":vehicle:" + vehicle
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func (l *Ledger) Register(ctx context.Context, slot parking.Slot) error {
	if err := parking.ValidateSlot(slot); err != nil {
		return err
	}

	key := l.slotKey(slot.ID)
	err := l.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("slot %s: %w", slot.ID, parking.ErrDuplicateSlot)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				fieldLevel, slot.Level,
				fieldCategory, slot.Category,
				fieldMaxLength, formatFloat(slot.MaxLength),
				fieldMaxWidth, formatFloat(slot.MaxWidth),
				fieldMaxHeight, formatFloat(slot.MaxHeight),
				fieldStatus, string(parking.StatusAvailable),
			)
			pipe.SAdd(ctx, l.idsKey(), slot.ID)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("slot %s: %w", slot.ID, parking.ErrDuplicateSlot)
	}
	return err
}

func (l *Ledger) List(ctx context.Context, f parking.Filter) ([]parking.Slot, error) {
	ids, err := l.client.SMembers(ctx, l.idsKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)

	cmds := make([]*redis.StringStringMapCmd, len(ids))
	_, err = l.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, l.slotKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slots := make([]parking.Slot, 0, len(ids))
	for i, id := range ids {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			continue
		}
		s, err := decodeSlot(id, fields)
		if err != nil {
			return nil, err
		}
		if f.Matches(s) {
			slots = append(slots, s)
		}
	}
	return slots, nil
}

func (l *Ledger) Get(ctx context.Context, slotID string) (parking.Slot, error) {
	return l.get(ctx, l.client, slotID)
}

type hashGetter interface {
	HGetAll(ctx context.Context, key string) *redis.StringStringMapCmd
}

func (l *Ledger) get(ctx context.Context, c hashGetter, slotID string) (parking.Slot, error) {
	fields, err := c.HGetAll(ctx, l.slotKey(slotID)).Result()
	if err != nil {
		return parking.Slot{}, err
	}
	if len(fields) == 0 {
		return parking.Slot{}, fmt.Errorf("slot %s: %w", slotID, parking.ErrNotFound)
	}
	return decodeSlot(slotID, fields)
}

func (l *Ledger) CompareAndAssign(ctx context.Context, slotID string, expected parking.Status, a parking.Assignment) (parking.Slot, error) {
	if expected != parking.StatusAvailable {
		return parking.Slot{}, fmt.Errorf("%w: slots are only assigned from %s", parking.ErrInvalidRequest, parking.StatusAvailable)
	}
	if err := a.Validate(); err != nil {
		return parking.Slot{}, err
	}

	key := l.slotKey(slotID)
	vkey := l.vehicleKey(a.Vehicle)

	var assigned parking.Slot
	err := l.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := l.get(ctx, tx, slotID)
		if err != nil {
			return err
		}
		if cur.Status != expected {
			return fmt.Errorf("slot %s is %s: %w", slotID, cur.Status, parking.ErrConflict)
		}

		held, err := tx.Get(ctx, vkey).Result()
		switch {
		case err == nil:
			return fmt.Errorf("%s in slot %s: %w", a.Vehicle, held, parking.ErrVehicleParked)
		case !errors.Is(err, redis.Nil):
			return err
		}

		next := cur.Assign(a)
		values := []any{
			fieldStatus, string(parking.StatusOccupied),
			fieldVehicle, next.Vehicle,
			fieldUser, next.UserID,
			fieldOccupiedAt, formatTime(next.OccupiedAt),
		}
		if b := next.Booking; b != nil {
			values = append(values,
				fieldBookingUser, b.UserID,
				fieldBookingStart, formatTime(b.Start),
				fieldBookingEnd, formatTime(*b.End),
			)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, values...)
			pipe.Set(ctx, vkey, slotID, 0)
			return nil
		})
		if err != nil {
			return err
		}
		assigned = next
		return nil
	}, key, vkey)

	if errors.Is(err, redis.TxFailedErr) {
		return parking.Slot{}, fmt.Errorf("slot %s changed concurrently: %w", slotID, parking.ErrConflict)
	}
	if err != nil {
		return parking.Slot{}, err
	}
	return assigned, nil
}

func (l *Ledger) Release(ctx context.Context, vehicle string) (parking.Slot, error) {
	return l.ReleaseIf(ctx, vehicle, nil)
}

func (l *Ledger) ReleaseIf(ctx context.Context, vehicle string, cond func(parking.Slot) bool) (parking.Slot, error) {
	vkey := l.vehicleKey(vehicle)

	for attempt := 0; attempt < maxReleaseAttempts; attempt++ {
		slotID, err := l.client.Get(ctx, vkey).Result()
		if errors.Is(err, redis.Nil) {
			return parking.Slot{}, fmt.Errorf("vehicle %s: %w", vehicle, parking.ErrNotFound)
		}
		if err != nil {
			return parking.Slot{}, err
		}

		prev, err := l.releaseFrom(ctx, vehicle, slotID, cond)
		if errors.Is(err, redis.TxFailedErr) || errors.Is(err, errRetry) {
			continue
		}
		return prev, err
	}
	return parking.Slot{}, fmt.Errorf("vehicle %s: release contended: %w", vehicle, parking.ErrConflict)
}

func (l *Ledger) releaseFrom(ctx context.Context, vehicle, slotID string, cond func(parking.Slot) bool) (parking.Slot, error) {
	key := l.slotKey(slotID)
	vkey := l.vehicleKey(vehicle)

	var prev parking.Slot
	err := l.client.Watch(ctx, func(tx *redis.Tx) error {
		held, err := tx.Get(ctx, vkey).Result()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("vehicle %s: %w", vehicle, parking.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if held != slotID {
			return errRetry
		}

		cur, err := l.get(ctx, tx, slotID)
		if err != nil {
			return err
		}
		if cur.Vehicle != vehicle {
			return errRetry
		}
		if cond != nil && !cond(cur) {
			return fmt.Errorf("slot %s: release precondition failed: %w", slotID, parking.ErrConflict)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fieldStatus, string(parking.StatusAvailable))
			pipe.HDel(ctx, key, occupantFields...)
			pipe.Del(ctx, vkey)
			return nil
		})
		if err != nil {
			return err
		}
		prev = cur
		return nil
	}, key, vkey)
	return prev, err
}

func decodeSlot(id string, fields map[string]string) (parking.Slot, error) {
	s := parking.Slot{
		ID:       id,
		Level:    fields[fieldLevel],
		Category: fields[fieldCategory],
		Status:   parking.Status(fields[fieldStatus]),
		Vehicle:  fields[fieldVehicle],
		UserID:   fields[fieldUser],
	}

	var err error
	if s.MaxLength, err = parseFloat(fields, fieldMaxLength); err != nil {
		return parking.Slot{}, fmt.Errorf("slot %s: %w", id, err)
	}
	if s.MaxWidth, err = parseFloat(fields, fieldMaxWidth); err != nil {
		return parking.Slot{}, fmt.Errorf("slot %s: %w", id, err)
	}
	if s.MaxHeight, err = parseFloat(fields, fieldMaxHeight); err != nil {
		return parking.Slot{}, fmt.Errorf("slot %s: %w", id, err)
	}
	if s.OccupiedAt, err = parseTime(fields, fieldOccupiedAt); err != nil {
		return parking.Slot{}, fmt.Errorf("slot %s: %w", id, err)
	}

	if _, ok := fields[fieldBookingStart]; ok {
		start, err := parseTime(fields, fieldBookingStart)
		if err != nil {
			return parking.Slot{}, fmt.Errorf("slot %s: %w", id, err)
		}
		end, err := parseTime(fields, fieldBookingEnd)
		if err != nil {
			return parking.Slot{}, fmt.Errorf("slot %s: %w", id, err)
		}
		s.Booking = &parking.Booking{
			UserID:   fields[fieldBookingUser],
			SlotID:   id,
			Start:    start,
			End:      &end,
			Duration: end.Sub(start),
		}
	}
	return s, nil
}

func parseFloat(fields map[string]string, name string) (float64, error) {
	f, err := strconv.ParseFloat(fields[name], 64)
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", name, err)
	}
	return f, nil
}

func parseTime(fields map[string]string, name string) (time.Time, error) {
	raw, ok := fields[name]
	if !ok || raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("field %s: %w", name, err)
	}
	return t, nil
}
