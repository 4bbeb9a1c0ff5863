package parking

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type InstrumentedShell struct {
	lot       *InstrumentedLot
	sweeper   *Sweeper
	scanner   *bufio.Scanner
	out       io.Writer
	telemetry *TelemetryProvider
}

func NewInstrumentedShell(lot *InstrumentedLot, sweeper *Sweeper, in io.Reader, out io.Writer, telemetry *TelemetryProvider) *InstrumentedShell {
	return &InstrumentedShell{
		lot:       lot,
		sweeper:   sweeper,
		scanner:   bufio.NewScanner(in),
		out:       out,
		telemetry: telemetry,
	}
}

func (s *InstrumentedShell) Run(ctx context.Context) {
	tracer := s.telemetry.Tracer()
	ctx, span := tracer.Start(ctx, "shell.run")
	defer span.End()

	span.AddEvent("shell_started")

	for ctx.Err() == nil {
		if !s.scanner.Scan() {
			break
		}

		input := strings.TrimSpace(s.scanner.Text())
		if input == "" {
			continue
		}

		// Create a new span for each command
		cmdCtx, cmdSpan := tracer.Start(ctx, "shell.process_command",
			trace.WithAttributes(attribute.String("command.input", input)))

		s.processCommand(cmdCtx, input)
		cmdSpan.End()
	}

	span.AddEvent("shell_ended")
}

func (s *InstrumentedShell) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}

func (s *InstrumentedShell) processCommand(ctx context.Context, input string) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return
	}

	command := parts[0]
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("command.name", command))

	switch command {
	case "add_slot":
		s.handleAddSlot(ctx, parts)
	case "park":
		s.handlePark(ctx, parts)
	case "leave":
		s.handleLeave(ctx, parts)
	case "status":
		s.handleStatus(ctx)
	case "available":
		s.handleAvailable(ctx)
	case "slot_number_for_registration_number":
		s.handleFind(ctx, parts)
	case "sweep":
		s.handleSweep(ctx)
	case "reset":
		s.handleReset(ctx)
	case "bill":
		s.handleBill(ctx, parts)
	default:
		span.AddEvent("unknown_command", trace.WithAttributes(
			attribute.String("unknown_command", command),
		))
		s.printf("Unknown command: %s\n", command)
	}
}

func (s *InstrumentedShell) handleAddSlot(ctx context.Context, parts []string) {
	span := trace.SpanFromContext(ctx)

	if len(parts) != 6 && len(parts) != 7 {
		span.AddEvent("invalid_arguments")
		s.printf("Usage: add_slot <id> <level> <max_length> <max_width> <max_height> [category]\n")
		return
	}

	dims := make([]float64, 3)
	for i, raw := range parts[3:6] {
		d, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			span.AddEvent("invalid_dimension")
			s.printf("Invalid dimension: %s\n", raw)
			return
		}
		dims[i] = d
	}
	category := "standard"
	if len(parts) == 7 {
		category = parts[6]
	}

	slot := NewSlot(parts[1], parts[2], category, dims[0], dims[1], dims[2])
	if err := s.lot.Register(ctx, slot); err != nil {
		s.printf("Error: %s\n", err.Error())
		return
	}
	s.printf("Added slot %s on level %s\n", slot.ID, slot.Level)
}

func (s *InstrumentedShell) handlePark(ctx context.Context, parts []string) {
	span := trace.SpanFromContext(ctx)

	if len(parts) < 3 || len(parts) > 6 {
		span.AddEvent("invalid_arguments")
		s.printf("Usage: park <registration_number> <class> [user] [role] [minutes]\n")
		return
	}

	vehicle, err := VehicleForClass(parts[2])
	if err != nil {
		s.printf("Unknown vehicle class %s, expected one of %s\n", parts[2], strings.Join(VehicleClasses(), ", "))
		return
	}

	req := Request{
		Registration: parts[1],
		UserID:       parts[1],
		Role:         "guest",
		Vehicle:      vehicle,
	}
	if len(parts) > 3 {
		req.UserID = parts[3]
	}
	if len(parts) > 4 {
		req.Role = parts[4]
	}
	if len(parts) > 5 {
		minutes, err := strconv.Atoi(parts[5])
		if err != nil || minutes <= 0 {
			span.AddEvent("invalid_booking_minutes")
			s.printf("Invalid booking minutes: %s\n", parts[5])
			return
		}
		start := s.lot.now()
		req.Window = &Window{Start: start, End: start.Add(time.Duration(minutes) * time.Minute)}
	}

	alloc, err := s.lot.Park(ctx, req)
	switch {
	case errors.Is(err, ErrNoFit):
		s.printf("Sorry, no slot fits a %s\n", vehicle.Type)
		return
	case errors.Is(err, ErrNoSlotAvailable):
		s.printf("Sorry, parking lot is full\n")
		return
	case err != nil:
		s.printf("Error: %s\n", err.Error())
		return
	}

	s.printf("Allocated slot number: %s\n", alloc.SlotID)
}

func (s *InstrumentedShell) handleLeave(ctx context.Context, parts []string) {
	span := trace.SpanFromContext(ctx)

	if len(parts) != 2 && len(parts) != 3 {
		span.AddEvent("invalid_arguments")
		s.printf("Usage: leave <registration_number> [role]\n")
		return
	}

	role := "guest"
	if len(parts) == 3 {
		role = parts[2]
	}

	receipt, err := s.lot.Leave(ctx, parts[1], role)
	if errors.Is(err, ErrNotFound) {
		s.printf("Not found\n")
		return
	}
	if err != nil {
		s.printf("Error: %s\n", err.Error())
		return
	}

	s.printf("Slot number %s is free, amount due %.2f\n", receipt.SlotID, receipt.Amount)
}

func (s *InstrumentedShell) handleStatus(ctx context.Context) {
	slots, err := s.lot.Status(ctx)
	if err != nil {
		s.printf("Error: %s\n", err.Error())
		return
	}
	if len(slots) == 0 {
		s.printf("Parking lot has no slots\n")
		return
	}

	s.printf("Slot No.\tLevel\tStatus\tRegistration No\n")
	for _, slot := range slots {
		s.printf("%s\t%s\t%s\t%s\n", slot.ID, slot.Level, slot.Status, slot.Vehicle)
	}
}

func (s *InstrumentedShell) handleAvailable(ctx context.Context) {
	slots, err := s.lot.Available(ctx)
	if err != nil {
		s.printf("Error: %s\n", err.Error())
		return
	}
	if len(slots) == 0 {
		s.printf("Parking lot is full\n")
		return
	}

	s.printf("Slot No.\tLevel\tLength\tWidth\tHeight\n")
	for _, slot := range slots {
		s.printf("%s\t%s\t%.2f\t%.2f\t%.2f\n", slot.ID, slot.Level, slot.MaxLength, slot.MaxWidth, slot.MaxHeight)
	}
}

func (s *InstrumentedShell) handleFind(ctx context.Context, parts []string) {
	span := trace.SpanFromContext(ctx)

	if len(parts) != 2 {
		span.AddEvent("invalid_arguments")
		s.printf("Usage: slot_number_for_registration_number <registration_number>\n")
		return
	}

	slot, err := s.lot.Find(ctx, parts[1])
	if err != nil {
		s.printf("Not found\n")
		return
	}
	s.printf("%s\n", slot.ID)
}

func (s *InstrumentedShell) handleSweep(ctx context.Context) {
	n, err := s.lot.Sweep(ctx, s.sweeper)
	if err != nil {
		s.printf("Error: %s\n", err.Error())
	}
	s.printf("Released %d expired bookings\n", n)
}

func (s *InstrumentedShell) handleReset(ctx context.Context) {
	n, err := s.lot.Reset(ctx)
	if err != nil {
		s.printf("Error: %s\n", err.Error())
	}
	s.printf("Released %d slots\n", n)
}

func (s *InstrumentedShell) handleBill(ctx context.Context, parts []string) {
	span := trace.SpanFromContext(ctx)

	// "2024-01-01 10:00:00" arrives as two fields.
	var rawStart, rawEnd, rawRate string
	switch len(parts) {
	case 4:
		rawStart, rawEnd, rawRate = parts[1], parts[2], parts[3]
	case 6:
		rawStart, rawEnd, rawRate = parts[1]+" "+parts[2], parts[3]+" "+parts[4], parts[5]
	default:
		span.AddEvent("invalid_arguments")
		s.printf("Usage: bill <start> <end> <rate_per_hour>\n")
		return
	}

	start, err := ParseBillTime(rawStart)
	if err != nil {
		s.printf("Invalid start time: %s\n", rawStart)
		return
	}
	end, err := ParseBillTime(rawEnd)
	if err != nil {
		s.printf("Invalid end time: %s\n", rawEnd)
		return
	}
	rate, err := strconv.ParseFloat(rawRate, 64)
	if err != nil {
		s.printf("Invalid rate: %s\n", rawRate)
		return
	}

	amount, err := ComputeBill(start, end, rate)
	if err != nil {
		span.RecordError(err)
		s.printf("Error: %s\n", err.Error())
		return
	}
	s.printf("%.2f\n", amount)
}
