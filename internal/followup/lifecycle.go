/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package followup

import (
	"errors"
	"time"
)

// State is a contact's position in the follow-up lifecycle.
type State string

const (
	StateActive             State = "active"
	StateSnoozed            State = "snoozed"
	StateRecentlyFollowedUp State = "recently_followed_up"
	StateDone               State = "done"
)

const (
	// DefaultSnooze is used when a snooze request carries no duration.
	DefaultSnooze = 7 * 24 * time.Hour

	// LaterSnooze backs the feed's "Later" action.
	LaterSnooze = 3 * 24 * time.Hour
)

var (
	// ErrContactDone indicates a transition was requested on a contact already marked done.
	ErrContactDone = errors.New("contact is done")

	// ErrInvalidSnooze indicates a snooze that would not end in the future.
	ErrInvalidSnooze = errors.New("snooze must end in the future")
)

// StateOf derives the lifecycle state at now. Expired snoozes and reminder windows fall
// back to active without any write.
func StateOf(c Contact, now time.Time) State {
	if c.IsDone {
		return StateDone
	}
	if c.IsSnoozed && (c.SnoozedUntil == nil || c.SnoozedUntil.After(now)) {
		return StateSnoozed
	}
	if c.LastFollowUpAt != nil && now.Sub(*c.LastFollowUpAt) < c.ReminderInterval() {
		return StateRecentlyFollowedUp
	}
	return StateActive
}

// Snooze returns a copy of c hidden from the feed until now+d. A non-positive d uses DefaultSnooze.
func Snooze(c Contact, d time.Duration, now time.Time) (Contact, error) {
	if c.IsDone {
		return c, ErrContactDone
	}
	if d <= 0 {
		d = DefaultSnooze
	}
	until := now.Add(d)
	if !until.After(now) {
		return c, ErrInvalidSnooze
	}
	c.IsSnoozed = true
	c.SnoozedUntil = &until
	return c, nil
}

// Later snoozes for the short "remind me later" window.
func Later(c Contact, now time.Time) (Contact, error) {
	return Snooze(c, LaterSnooze, now)
}

// MarkFollowedUp records outreach at now and clears any snooze.
func MarkFollowedUp(c Contact, now time.Time) (Contact, error) {
	if c.IsDone {
		return c, ErrContactDone
	}
	at := now
	c.LastFollowUpAt = &at
	c.IsSnoozed = false
	c.SnoozedUntil = nil
	return c, nil
}

// MarkDone permanently removes the contact from ranking.
func MarkDone(c Contact) Contact {
	c.IsDone = true
	c.IsSnoozed = false
	c.SnoozedUntil = nil
	return c
}

// Reactivate reverses MarkDone.
func Reactivate(c Contact) Contact {
	c.IsDone = false
	return c
}
