package parking

import (
	"fmt"
	"math"
	"time"
)

// ComputeBill charges ratePerHour over the interval, rounded to cents.
func ComputeBill(start, end time.Time, ratePerHour float64) (float64, error) {
	if end.Before(start) {
		return 0, fmt.Errorf("%w: end %s before start %s", ErrInvalidInterval,
			end.Format(time.DateTime), start.Format(time.DateTime))
	}
	hours := math.Max(0, end.Sub(start).Hours())
	return math.Round(hours*ratePerHour*100) / 100, nil
}

// BillTimeLayouts are the layouts ParseBillTime accepts, tried in order.
var BillTimeLayouts = []string{time.RFC3339, time.DateTime, "2006-01-02T15:04", "15:04"}

func ParseBillTime(raw string) (time.Time, error) {
	var lastErr error
	for _, layout := range BillTimeLayouts {
		t, err := time.Parse(layout, raw)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("%w: time %q: %s", ErrInvalidRequest, raw, lastErr.Error())
}

// RateSchedule maps requester roles to hourly rates.
type RateSchedule struct {
	Default float64
	ByRole  map[string]float64
}

func DefaultRateSchedule() RateSchedule {
	return RateSchedule{
		Default: 60,
		ByRole: map[string]float64{
			"guest":    60,
			"user":     60,
			"official": 30,
			"worker":   30,
			"intern":   40,
		},
	}
}

func (r RateSchedule) Rate(role string) float64 {
	if rate, ok := r.ByRole[role]; ok {
		return rate
	}
	return r.Default
}
