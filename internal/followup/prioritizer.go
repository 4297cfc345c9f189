/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package followup decides which contacts are due for outreach and how urgently.
package followup

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// DefaultReminderIntervalDays applies when a contact carries no interval of its own.
const DefaultReminderIntervalDays = 14

// UrgencyLevel is a coarse classification of how time-sensitive a follow-up is.
// Lower values are more urgent.
type UrgencyLevel int

const (
	UrgencyCritical UrgencyLevel = iota
	UrgencyHigh
	UrgencyMedium
	UrgencyLow
)

// String returns the wire name of the urgency level.
func (u UrgencyLevel) String() string {
	switch u {
	case UrgencyCritical:
		return "critical"
	case UrgencyHigh:
		return "high"
	case UrgencyMedium:
		return "medium"
	case UrgencyLow:
		return "low"
	default:
		return "unknown"
	}
}

// MarshalText lets urgency levels serialize by name.
func (u UrgencyLevel) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText parses a level written by MarshalText.
func (u *UrgencyLevel) UnmarshalText(text []byte) error {
	for _, level := range []UrgencyLevel{UrgencyCritical, UrgencyHigh, UrgencyMedium, UrgencyLow} {
		if string(text) == level.String() {
			*u = level
			return nil
		}
	}
	return fmt.Errorf("unknown urgency level %q", text)
}

// Message is the feed copy shown next to a contact at this level.
func (u UrgencyLevel) Message() string {
	switch u {
	case UrgencyCritical:
		return "Follow up now, connection is fresh"
	case UrgencyHigh:
		return "Best moment to reach out"
	case UrgencyMedium:
		return "Still a great time to connect"
	default:
		return "Time to reconnect"
	}
}

// UrgencyFor maps hours since meeting onto an urgency level.
func UrgencyFor(hoursSinceMet float64) UrgencyLevel {
	switch {
	case hoursSinceMet <= 24:
		return UrgencyCritical
	case hoursSinceMet <= 48:
		return UrgencyHigh
	case hoursSinceMet <= 72:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

// Contact is the snapshot of a person the ranking needs. Descriptive fields ride along untouched.
type Contact struct {
	ID                   string     `json:"id"`
	MetAt                time.Time  `json:"met_at"`
	LastFollowUpAt       *time.Time `json:"last_follow_up_at,omitempty"`
	IsSnoozed            bool       `json:"is_snoozed"`
	SnoozedUntil         *time.Time `json:"snoozed_until,omitempty"`
	IsDone               bool       `json:"is_done"`
	ReminderIntervalDays int        `json:"reminder_interval_days"`

	Name    string `json:"name,omitempty"`
	Context string `json:"context,omitempty"`
}

// ReminderInterval returns the contact's reminder window. Zero means due again right after a
// follow-up; the store fills in DefaultReminderIntervalDays for contacts created without one.
func (c Contact) ReminderInterval() time.Duration {
	if c.ReminderIntervalDays <= 0 {
		return 0
	}
	return time.Duration(c.ReminderIntervalDays) * 24 * time.Hour
}

// RankedContact is a derived, never persisted view of an eligible contact.
type RankedContact struct {
	Contact       Contact      `json:"contact"`
	HoursSinceMet float64      `json:"hours_since_met"`
	UrgencyLevel  UrgencyLevel `json:"urgency_level"`
	RankScore     float64      `json:"rank_score"`
}

// HoursSince returns the whole hours elapsed from t to now, truncated toward zero.
func HoursSince(t, now time.Time) float64 {
	return math.Trunc(now.Sub(t).Hours())
}

// IsEligible reports whether the contact should be surfaced for outreach at now.
func IsEligible(c Contact, now time.Time) bool {
	return StateOf(c, now) == StateActive
}

// Rank returns the eligible contacts ordered most urgent first. It never mutates its input.
func Rank(contacts []Contact, now time.Time) []RankedContact {
	ranked := make([]RankedContact, 0, len(contacts))
	for _, c := range contacts {
		if !IsEligible(c, now) {
			continue
		}
		hours := HoursSince(c.MetAt, now)
		ranked = append(ranked, RankedContact{
			Contact:       c,
			HoursSinceMet: hours,
			UrgencyLevel:  UrgencyFor(hours),
			RankScore:     hours,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.RankScore != b.RankScore {
			return a.RankScore < b.RankScore
		}
		if !a.Contact.MetAt.Equal(b.Contact.MetAt) {
			return a.Contact.MetAt.Before(b.Contact.MetAt)
		}
		return a.Contact.ID < b.Contact.ID
	})
	return ranked
}

// DefaultSuggestion is the templated outreach line used when no generated suggestion exists.
func DefaultSuggestion(context string) string {
	context = strings.TrimSpace(context)
	if context == "" {
		return "Time to reconnect!"
	}
	return "Catch up about " + strings.ToLower(context)
}
