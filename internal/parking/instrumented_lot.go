package parking

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type InstrumentedLot struct {
	*Lot
	telemetry *TelemetryProvider

	// Metrics
	allocations       metric.Int64Counter
	allocAttempts     metric.Int64Histogram
	releases          metric.Int64Counter
	occupancyGauge    metric.Int64UpDownCounter
	totalSlotsGauge   metric.Int64UpDownCounter
	billedAmount      metric.Float64Counter
	operationDuration metric.Float64Histogram
}

func NewInstrumentedLot(lot *Lot, telemetry *TelemetryProvider) (*InstrumentedLot, error) {
	meter := telemetry.Meter()

	allocations, err := meter.Int64Counter("parking_allocations_total",
		metric.WithDescription("Total number of allocation requests by outcome"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	allocAttempts, err := meter.Int64Histogram("parking_allocation_attempts",
		metric.WithDescription("Compare-and-assign attempts needed per successful allocation"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	releases, err := meter.Int64Counter("parking_releases_total",
		metric.WithDescription("Total number of slot releases by reason"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	occupancyGauge, err := meter.Int64UpDownCounter("parking_lot_occupancy",
		metric.WithDescription("Current number of occupied parking slots"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	totalSlotsGauge, err := meter.Int64UpDownCounter("parking_lot_total_slots",
		metric.WithDescription("Total number of registered parking slots"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	billedAmount, err := meter.Float64Counter("parking_billed_amount_total",
		metric.WithDescription("Sum of amounts billed on leave"))
	if err != nil {
		return nil, err
	}

	operationDuration, err := meter.Float64Histogram("operation_duration_seconds",
		metric.WithDescription("Duration of parking lot operations"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	il := &InstrumentedLot{
		Lot:               lot,
		telemetry:         telemetry,
		allocations:       allocations,
		allocAttempts:     allocAttempts,
		releases:          releases,
		occupancyGauge:    occupancyGauge,
		totalSlotsGauge:   totalSlotsGauge,
		billedAmount:      billedAmount,
		operationDuration: operationDuration,
	}

	// Seed the gauges from whatever the ledger already holds.
	ctx := context.Background()
	if slots, err := lot.Status(ctx); err == nil {
		occupied := 0
		for _, s := range slots {
			if s.IsOccupied() {
				occupied++
			}
		}
		totalSlotsGauge.Add(ctx, int64(len(slots)))
		occupancyGauge.Add(ctx, int64(occupied))
	}

	return il, nil
}

func (il *InstrumentedLot) finish(ctx context.Context, span trace.Span, op string, start time.Time, err error) {
	labels := []attribute.KeyValue{
		attribute.String("operation", op),
		attribute.String("status", Kind(err)),
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	il.operationDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(labels...))
}

func (il *InstrumentedLot) Register(ctx context.Context, slot Slot) error {
	ctx, span := il.telemetry.Tracer().Start(ctx, "parking_lot.register",
		trace.WithAttributes(
			attribute.String("slot.id", slot.ID),
			attribute.String("slot.level", slot.Level),
		))
	defer span.End()

	start := time.Now()
	err := il.Lot.Register(ctx, slot)
	if err == nil {
		il.totalSlotsGauge.Add(ctx, 1)
	}
	il.finish(ctx, span, "register", start, err)
	return err
}

func (il *InstrumentedLot) Park(ctx context.Context, req Request) (*Allocation, error) {
	ctx, span := il.telemetry.Tracer().Start(ctx, "parking_lot.park",
		trace.WithAttributes(
			attribute.String("vehicle.registration_number", req.Registration),
			attribute.String("vehicle.type", req.Vehicle.Type),
			attribute.String("requester.role", req.Role),
			attribute.Bool("booking.windowed", req.Window != nil),
		))
	defer span.End()

	start := time.Now()
	span.AddEvent("finding_available_slot")

	alloc, err := il.Lot.Park(ctx, req)

	labels := []attribute.KeyValue{
		attribute.String("role", req.Role),
		attribute.String("status", Kind(err)),
	}
	il.allocations.Add(ctx, 1, metric.WithAttributes(labels...))

	if err == nil {
		span.SetAttributes(
			attribute.String("allocated_slot_id", alloc.SlotID),
			attribute.String("allocated_level", alloc.Level),
			attribute.Int("allocation.attempts", alloc.Attempts),
		)
		span.AddEvent("slot_allocated", trace.WithAttributes(
			attribute.String("slot_id", alloc.SlotID),
		))
		il.allocAttempts.Record(ctx, int64(alloc.Attempts))
		il.occupancyGauge.Add(ctx, 1)
	}

	il.finish(ctx, span, "park", start, err)
	return alloc, err
}

func (il *InstrumentedLot) Leave(ctx context.Context, registration, role string) (*Receipt, error) {
	ctx, span := il.telemetry.Tracer().Start(ctx, "parking_lot.leave",
		trace.WithAttributes(
			attribute.String("vehicle.registration_number", registration),
			attribute.String("requester.role", role),
		))
	defer span.End()

	start := time.Now()
	span.AddEvent("releasing_slot")

	receipt, err := il.Lot.Leave(ctx, registration, role)
	if err == nil {
		span.SetAttributes(
			attribute.String("slot_id", receipt.SlotID),
			attribute.Float64("bill.amount", receipt.Amount),
		)
		span.AddEvent("slot_released")
		il.recordRelease(ctx, "leave", 1)
		il.billedAmount.Add(ctx, receipt.Amount, metric.WithAttributes(attribute.String("role", role)))
	}

	il.finish(ctx, span, "leave", start, err)
	return receipt, err
}

func (il *InstrumentedLot) Status(ctx context.Context) ([]Slot, error) {
	ctx, span := il.telemetry.Tracer().Start(ctx, "parking_lot.get_status")
	defer span.End()

	start := time.Now()
	slots, err := il.Lot.Status(ctx)
	span.SetAttributes(attribute.Int("slots_count", len(slots)))
	il.finish(ctx, span, "get_status", start, err)
	return slots, err
}

func (il *InstrumentedLot) Available(ctx context.Context) ([]Slot, error) {
	ctx, span := il.telemetry.Tracer().Start(ctx, "parking_lot.get_available")
	defer span.End()

	start := time.Now()
	slots, err := il.Lot.Available(ctx)
	span.SetAttributes(attribute.Int("available_slots_count", len(slots)))
	il.finish(ctx, span, "get_available", start, err)
	return slots, err
}

func (il *InstrumentedLot) Find(ctx context.Context, registration string) (Slot, error) {
	ctx, span := il.telemetry.Tracer().Start(ctx, "parking_lot.get_slot_by_registration",
		trace.WithAttributes(
			attribute.String("registration_number", registration),
		))
	defer span.End()

	start := time.Now()
	slot, err := il.Lot.Find(ctx, registration)
	if err != nil {
		span.AddEvent("vehicle_not_found")
	} else {
		span.AddEvent("vehicle_found", trace.WithAttributes(
			attribute.String("slot_id", slot.ID),
		))
	}
	il.finish(ctx, span, "get_slot_by_registration", start, err)
	return slot, err
}

func (il *InstrumentedLot) Reset(ctx context.Context) (int, error) {
	ctx, span := il.telemetry.Tracer().Start(ctx, "parking_lot.reset")
	defer span.End()

	start := time.Now()
	n, err := il.Lot.Reset(ctx)
	span.SetAttributes(attribute.Int("released_count", n))
	il.recordRelease(ctx, "reset", n)
	il.finish(ctx, span, "reset", start, err)
	return n, err
}

// RecordExpiry is a sweeper release hook.
func (il *InstrumentedLot) RecordExpiry(ctx context.Context, slot Slot) {
	trace.SpanFromContext(ctx).AddEvent("booking_expired", trace.WithAttributes(
		attribute.String("slot_id", slot.ID),
		attribute.String("vehicle.registration_number", slot.Vehicle),
	))
	il.recordRelease(ctx, "expiry", 1)
}

// Sweep runs one traced expiry pass with s.
func (il *InstrumentedLot) Sweep(ctx context.Context, s *Sweeper) (int, error) {
	ctx, span := il.telemetry.Tracer().Start(ctx, "parking_lot.sweep",
		trace.WithAttributes(
			attribute.String("sweep.grace_period", s.GracePeriod().String()),
		))
	defer span.End()

	start := time.Now()
	n, err := s.Sweep(ctx)
	span.SetAttributes(attribute.Int("released_count", n))
	il.finish(ctx, span, "sweep", start, err)
	return n, err
}

func (il *InstrumentedLot) recordRelease(ctx context.Context, reason string, n int) {
	if n <= 0 {
		return
	}
	il.releases.Add(ctx, int64(n), metric.WithAttributes(attribute.String("reason", reason)))
	il.occupancyGauge.Add(ctx, -int64(n))
}
