package postgres

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS parking_slots (
	slot_id          text PRIMARY KEY,
	level            text NOT NULL,
	category         text NOT NULL DEFAULT 'standard',
	max_length       double precision NOT NULL CHECK (max_length > 0),
	max_width        double precision NOT NULL CHECK (max_width > 0),
	max_height       double precision NOT NULL CHECK (max_height > 0),
	status           text NOT NULL DEFAULT 'available' CHECK (status IN ('available', 'occupied')),
	occupant_vehicle text,
	occupant_user    text,
	occupied_at      timestamptz,
	CHECK ((status = 'occupied') = (occupant_vehicle IS NOT NULL))
);

CREATE UNIQUE INDEX IF NOT EXISTS parking_slots_occupant_vehicle_key
	ON parking_slots (occupant_vehicle) WHERE occupant_vehicle IS NOT NULL;

CREATE INDEX IF NOT EXISTS parking_slots_status_idx ON parking_slots (status, slot_id);

CREATE TABLE IF NOT EXISTS parking_bookings (
	user_id          text NOT NULL,
	slot_id          text NOT NULL REFERENCES parking_slots (slot_id) ON DELETE CASCADE,
	booking_start    timestamptz NOT NULL,
	booking_end      timestamptz NOT NULL,
	duration_seconds bigint NOT NULL,
	PRIMARY KEY (user_id, slot_id),
	UNIQUE (slot_id)
);
`

// Migrate creates the ledger tables when they do not exist yet.
func Migrate(ctx context.Context, q Querier) error {
	if _, err := q.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrating ledger schema: %w", err)
	}
	return nil
}
