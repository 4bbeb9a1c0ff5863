package parking

import "time"

type Status string

const (
	StatusAvailable Status = "available"
	StatusOccupied  Status = "occupied"
)

func (s Status) Valid() bool {
	return s == StatusAvailable || s == StatusOccupied
}

// Window is a declared or predicted occupancy interval.
type Window struct {
	Start time.Time
	End   time.Time
}

// Booking is keyed by the booking user and the slot holding it.
// End is nil for open-ended occupancies.
type Booking struct {
	UserID   string
	SlotID   string
	Start    time.Time
	End      *time.Time
	Duration time.Duration
}

// Slot is a single parking space. The identity and capacity fields are
// fixed when the slot is registered; the occupancy fields are owned by
// the Ledger and change only through it.
type Slot struct {
	ID        string
	Level     string
	Category  string
	MaxLength float64
	MaxWidth  float64
	MaxHeight float64

	Status     Status
	Vehicle    string
	UserID     string
	OccupiedAt time.Time
	Booking    *Booking
}

func NewSlot(id, level, category string, maxLength, maxWidth, maxHeight float64) Slot {
	return Slot{
		ID:        id,
		Level:     level,
		Category:  category,
		MaxLength: maxLength,
		MaxWidth:  maxWidth,
		MaxHeight: maxHeight,
		Status:    StatusAvailable,
	}
}

func (s Slot) IsOccupied() bool {
	return s.Status == StatusOccupied
}

// Fits reports whether every capacity dimension accommodates v.
func (s Slot) Fits(v Vehicle) bool {
	return s.MaxLength >= v.Length && s.MaxWidth >= v.Width && s.MaxHeight >= v.Height
}

// ExpiresAfter reports whether the slot holds a booking whose end plus
// grace lies strictly before now.
func (s Slot) ExpiresAfter(now time.Time, grace time.Duration) bool {
	if !s.IsOccupied() || s.Booking == nil || s.Booking.End == nil {
		return false
	}
	return now.After(s.Booking.End.Add(grace))
}

// Assign returns a copy of s occupied by the given assignment.
func (s Slot) Assign(a Assignment) Slot {
	s.Status = StatusOccupied
	s.Vehicle = a.Vehicle
	s.UserID = a.UserID
	s.OccupiedAt = a.At
	s.Booking = nil
	if a.Window != nil {
		end := a.Window.End
		s.Booking = &Booking{
			UserID:   a.UserID,
			SlotID:   s.ID,
			Start:    a.Window.Start,
			End:      &end,
			Duration: a.Window.End.Sub(a.Window.Start),
		}
	}
	return s
}

// Vacate returns a copy of s with every occupancy field cleared.
func (s Slot) Vacate() Slot {
	s.Status = StatusAvailable
	s.Vehicle = ""
	s.UserID = ""
	s.OccupiedAt = time.Time{}
	s.Booking = nil
	return s
}

// Clone returns a deep copy safe to hand to callers.
func (s Slot) Clone() Slot {
	if s.Booking != nil {
		b := *s.Booking
		if b.End != nil {
			end := *b.End
			b.End = &end
		}
		s.Booking = &b
	}
	return s
}

// Assignment carries the occupant fields written by CompareAndAssign.
type Assignment struct {
	Vehicle string
	UserID  string
	At      time.Time
	Window  *Window
}

func (a Assignment) Validate() error {
	if a.Vehicle == "" {
		return invalidf("vehicle registration is required")
	}
	if a.Window != nil && a.Window.End.Before(a.Window.Start) {
		return invalidf("booking window ends before it starts")
	}
	return nil
}
