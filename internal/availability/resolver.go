/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package availability derives bookable free windows from busy calendar intervals.
package availability

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrInvalidConfiguration indicates the working-hour bounds, horizon or minimum slot length are unusable.
	ErrInvalidConfiguration = errors.New("invalid availability configuration")

	// ErrMalformedInput indicates a busy interval with missing or inverted timestamps.
	ErrMalformedInput = errors.New("malformed busy interval")
)

const (
	DefaultHorizonDays        = 7
	DefaultWorkStartHour      = 9
	DefaultWorkEndHour        = 21
	DefaultMinimumSlotMinutes = 60

	// Slots offered for today never start sooner than this.
	minimumNotice = time.Hour
)

// BusyInterval is one occupied period on a calendar.
type BusyInterval struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
	Label string    `json:"label,omitempty" yaml:"label,omitempty"`
}

// FreeSlot is a bookable window inside working hours.
type FreeSlot struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes"`
}

// Label renders the slot start for display, e.g. "Mon, Jan 5 at 9:00 AM".
func (s FreeSlot) Label(loc *time.Location) string {
	if loc == nil {
		loc = s.Start.Location()
	}
	return s.Start.In(loc).Format("Mon, Jan 2 at 3:04 PM")
}

// Overlaps reports whether the half-open slot intersects the half-open busy interval.
// Empty intervals never overlap anything.
func (s FreeSlot) Overlaps(b BusyInterval) bool {
	return b.End.After(b.Start) && s.Start.Before(b.End) && b.Start.Before(s.End)
}

// Options configures the resolver.
type Options struct {
	HorizonDays        int `json:"horizon_days" yaml:"horizon_days"`
	WorkStartHour      int `json:"work_start_hour" yaml:"work_start_hour"`
	WorkEndHour        int `json:"work_end_hour" yaml:"work_end_hour"`
	MinimumSlotMinutes int `json:"minimum_slot_minutes" yaml:"minimum_slot_minutes"`
	MaxSlots           int `json:"max_slots" yaml:"max_slots"` // 0 = unlimited
}

// DefaultOptions returns a 7 day horizon over 09:00-21:00 with one hour minimum slots.
func DefaultOptions() Options {
	return Options{
		HorizonDays:        DefaultHorizonDays,
		WorkStartHour:      DefaultWorkStartHour,
		WorkEndHour:        DefaultWorkEndHour,
		MinimumSlotMinutes: DefaultMinimumSlotMinutes,
	}
}

// Validate checks the options and returns an ErrInvalidConfiguration wrapped error.
func (o Options) Validate() error {
	if o.WorkStartHour < 0 || o.WorkEndHour > 24 {
		return fmt.Errorf("%w: working hours must lie within 0..24 (got %d-%d)", ErrInvalidConfiguration, o.WorkStartHour, o.WorkEndHour)
	}
	if o.WorkStartHour >= o.WorkEndHour {
		return fmt.Errorf("%w: work start hour %d must be before end hour %d", ErrInvalidConfiguration, o.WorkStartHour, o.WorkEndHour)
	}
	if o.HorizonDays <= 0 {
		return fmt.Errorf("%w: horizon days must be positive (got %d)", ErrInvalidConfiguration, o.HorizonDays)
	}
	if o.MinimumSlotMinutes <= 0 {
		return fmt.Errorf("%w: minimum slot minutes must be positive (got %d)", ErrInvalidConfiguration, o.MinimumSlotMinutes)
	}
	if o.MaxSlots < 0 {
		return fmt.Errorf("%w: max slots cannot be negative (got %d)", ErrInvalidConfiguration, o.MaxSlots)
	}
	return nil
}

// HorizonWindow returns the calendar range a caller must fetch busy intervals for:
// midnight today through midnight after the last horizon day, in now's location.
func HorizonWindow(now time.Time, opts Options) (time.Time, time.Time) {
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return from, from.AddDate(0, 0, opts.HorizonDays)
}

// ValidateIntervals rejects intervals with zero or inverted timestamps.
func ValidateIntervals(busy []BusyInterval) error {
	for i, b := range busy {
		if b.Start.IsZero() || b.End.IsZero() {
			return fmt.Errorf("%w: interval %d (%q) is missing a timestamp", ErrMalformedInput, i, b.Label)
		}
		if b.End.Before(b.Start) {
			return fmt.Errorf("%w: interval %d (%q) ends before it starts", ErrMalformedInput, i, b.Label)
		}
	}
	return nil
}

// ComputeFreeSlots returns the free windows of every working day from today through
// today+HorizonDays-1, ordered by start. Day boundaries follow now's location.
//
// A busy interval blocks every working window it intersects, so an interval that
// starts before a window opens (including one spilling over midnight) still pushes
// that window's first slot back.
func ComputeFreeSlots(busy []BusyInterval, opts Options, now time.Time) ([]FreeSlot, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateIntervals(busy); err != nil {
		return nil, err
	}

	sorted := make([]BusyInterval, 0, len(busy))
	for _, b := range busy {
		if b.End.After(b.Start) {
			sorted = append(sorted, b)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].End.Before(sorted[j].End)
		}
		return sorted[i].Start.Before(sorted[j].Start)
	})

	minDuration := time.Duration(opts.MinimumSlotMinutes) * time.Minute
	loc := now.Location()
	slots := make([]FreeSlot, 0, opts.HorizonDays*2)

	for day := 0; day < opts.HorizonDays; day++ {
		dayStart := time.Date(now.Year(), now.Month(), now.Day()+day, opts.WorkStartHour, 0, 0, 0, loc)
		dayEnd := time.Date(now.Year(), now.Month(), now.Day()+day, opts.WorkEndHour, 0, 0, 0, loc)

		if day == 0 {
			if earliest := now.Add(minimumNotice); earliest.After(dayStart) {
				dayStart = earliest
			}
			if !dayStart.Before(dayEnd) {
				continue
			}
		}

		cursor := dayStart
		for _, b := range sorted {
			if !b.End.After(dayStart) || !b.Start.Before(dayEnd) {
				continue
			}
			if cursor.Before(b.Start) {
				slots = appendSlot(slots, cursor, b.Start, minDuration)
			}
			if b.End.After(cursor) {
				cursor = b.End
			}
		}
		if cursor.Before(dayEnd) {
			slots = appendSlot(slots, cursor, dayEnd, minDuration)
		}
	}

	if opts.MaxSlots > 0 && len(slots) > opts.MaxSlots {
		slots = slots[:opts.MaxSlots]
	}
	return slots, nil
}

func appendSlot(slots []FreeSlot, start, end time.Time, minDuration time.Duration) []FreeSlot {
	d := end.Sub(start)
	if d < minDuration {
		return slots
	}
	return append(slots, FreeSlot{
		Start:           start,
		End:             end,
		DurationMinutes: int(d / time.Minute),
	})
}
