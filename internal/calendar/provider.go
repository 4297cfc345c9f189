/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package calendar reads busy time from and writes catch-ups to a user's external calendar.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/friendsincode/kith/internal/availability"
)

const (
	MinEventMinutes     = 15
	MaxEventMinutes     = 480
	DefaultEventMinutes = 60
)

var (
	// ErrNotConnected is returned when the user has no stored calendar token.
	ErrNotConnected = errors.New("calendar not connected")

	// ErrInvalidEvent is returned for event requests outside the accepted bounds.
	ErrInvalidEvent = errors.New("invalid calendar event")

	// ErrProvider wraps upstream failures.
	ErrProvider = errors.New("calendar provider error")
)

// Provider is an external calendar.
type Provider interface {
	BusyIntervals(ctx context.Context, userID string, from, to time.Time) ([]availability.BusyInterval, error)
	CreateEvent(ctx context.Context, userID string, req EventRequest) (*CreatedEvent, error)
}

// EventRequest describes a catch-up to put on the calendar.
type EventRequest struct {
	ContactName     string
	Start           time.Time
	DurationMinutes int
	PlaceName       string
	Message         string
	Recurrence      string // RRULE, without the "RRULE:" prefix
}

// Validate applies defaults and checks bounds.
func (r *EventRequest) Validate() error {
	if r.DurationMinutes == 0 {
		r.DurationMinutes = DefaultEventMinutes
	}
	if r.DurationMinutes < MinEventMinutes || r.DurationMinutes > MaxEventMinutes {
		return fmt.Errorf("%w: duration %d outside %d..%d minutes", ErrInvalidEvent, r.DurationMinutes, MinEventMinutes, MaxEventMinutes)
	}
	if r.Start.IsZero() {
		return fmt.Errorf("%w: start is required", ErrInvalidEvent)
	}
	r.ContactName = strings.TrimSpace(r.ContactName)
	if r.ContactName == "" || len(r.ContactName) > 200 {
		return fmt.Errorf("%w: contact name must be 1..200 characters", ErrInvalidEvent)
	}
	if len(r.PlaceName) > 200 || len(r.Message) > 1000 {
		return fmt.Errorf("%w: place or message too long", ErrInvalidEvent)
	}
	return nil
}

// End returns the event end time.
func (r EventRequest) End() time.Time {
	return r.Start.Add(time.Duration(r.DurationMinutes) * time.Minute)
}

// CreatedEvent identifies an event written to the provider.
type CreatedEvent struct {
	ID   string `json:"id"`
	Link string `json:"link,omitempty"`
}

// RawEvent is the subset of a provider event needed to derive busy time.
type RawEvent struct {
	ID      string    `json:"id"`
	Summary string    `json:"summary"`
	Status  string    `json:"status"`
	Start   EventTime `json:"start"`
	End     EventTime `json:"end"`
}

// EventTime holds either a timed (dateTime) or all-day (date) boundary.
type EventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

func (t EventTime) parse(loc *time.Location) (time.Time, error) {
	switch {
	case t.DateTime != "":
		return time.Parse(time.RFC3339, t.DateTime)
	case t.Date != "":
		return time.ParseInLocation("2006-01-02", t.Date, loc)
	default:
		return time.Time{}, errors.New("missing dateTime and date")
	}
}

// MapEvents converts provider events into busy intervals. Cancelled events are dropped.
// All-day dates are read in loc. Any unparsable boundary or end before start rejects the
// whole batch with availability.ErrMalformedInput.
func MapEvents(items []RawEvent, loc *time.Location) ([]availability.BusyInterval, error) {
	if loc == nil {
		loc = time.UTC
	}
	busy := make([]availability.BusyInterval, 0, len(items))
	for _, item := range items {
		if item.Status == "cancelled" {
			continue
		}
		start, err := item.Start.parse(loc)
		if err != nil {
			return nil, fmt.Errorf("%w: event %q start: %v", availability.ErrMalformedInput, item.ID, err)
		}
		end, err := item.End.parse(loc)
		if err != nil {
			return nil, fmt.Errorf("%w: event %q end: %v", availability.ErrMalformedInput, item.ID, err)
		}
		if end.Before(start) {
			return nil, fmt.Errorf("%w: event %q ends before it starts", availability.ErrMalformedInput, item.ID)
		}
		busy = append(busy, availability.BusyInterval{Start: start, End: end, Label: item.Summary})
	}
	return busy, nil
}
