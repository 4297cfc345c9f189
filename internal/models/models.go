/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"strings"
	"time"

	"github.com/friendsincode/kith/internal/followup"
)

// RoleName enumerates the RBAC roles.
type RoleName string

const (
	RoleAdmin RoleName = "admin"
	RoleUser  RoleName = "user"
)

// User represents an authenticated account.
type User struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	Email     string    `gorm:"uniqueIndex" json:"email"`
	Password  string    `json:"-"`
	Role      RoleName  `gorm:"type:varchar(16)" json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizeEmail lowercases and trims an address for lookups and uniqueness.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Profile is the personal card a user shares with people they meet.
type Profile struct {
	UserID      string    `gorm:"type:uuid;primaryKey" json:"user_id"`
	Name        string    `json:"name"`
	City        string    `json:"city,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	LinkedIn    string    `json:"linkedin,omitempty"`
	Bio         string    `gorm:"type:text" json:"bio,omitempty"`
	Preferences []string  `gorm:"type:jsonb;serializer:json" json:"preferences,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ContactSource records how a contact entered the system.
type ContactSource string

const (
	ContactSourceManual ContactSource = "manual"
	ContactSourceShare  ContactSource = "share"
	ContactSourceImport ContactSource = "import"
)

// Contact is a person the user met and may want to follow up with.
type Contact struct {
	ID           string        `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       string        `gorm:"type:uuid;index:idx_contacts_user;not null" json:"user_id"`
	EventID      *string       `gorm:"type:uuid;index" json:"event_id,omitempty"`
	Name         string        `gorm:"not null" json:"name"`
	Context      string        `gorm:"type:text" json:"context,omitempty"`
	Phone        string        `json:"phone,omitempty"`
	LinkedIn     string        `json:"linkedin,omitempty"`
	Source       ContactSource `gorm:"type:varchar(16);default:'manual'" json:"source"`
	MetAt        time.Time     `gorm:"index;not null" json:"met_at"`
	FollowedUpAt *time.Time    `json:"followed_up_at,omitempty"`
	LastCatchup  *time.Time    `json:"last_catchup,omitempty"`
	IsSnoozed    bool          `gorm:"not null;default:false" json:"is_snoozed"`
	SnoozedUntil *time.Time    `json:"snoozed_until,omitempty"`
	IsDone       bool          `gorm:"not null;default:false;index" json:"is_done"`
	ReminderDays int           `gorm:"not null;default:14" json:"reminder_days"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Snapshot returns the immutable view the follow-up ranking operates on.
func (c *Contact) Snapshot() followup.Contact {
	return followup.Contact{
		ID:                   c.ID,
		MetAt:                c.MetAt,
		LastFollowUpAt:       c.FollowedUpAt,
		IsSnoozed:            c.IsSnoozed,
		SnoozedUntil:         c.SnoozedUntil,
		IsDone:               c.IsDone,
		ReminderIntervalDays: c.ReminderDays,
		Name:                 c.Name,
		Context:              c.Context,
	}
}

// ApplySnapshot copies lifecycle fields back from a transitioned snapshot.
func (c *Contact) ApplySnapshot(s followup.Contact) {
	c.FollowedUpAt = s.LastFollowUpAt
	c.IsSnoozed = s.IsSnoozed
	c.SnoozedUntil = s.SnoozedUntil
	c.IsDone = s.IsDone
}

// Event is a meetup or occasion where contacts were met.
type Event struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    string    `gorm:"type:uuid;index;not null" json:"user_id"`
	Name      string    `gorm:"not null" json:"name"`
	EventDate time.Time `gorm:"index" json:"event_date"`
	EventType string    `gorm:"type:varchar(32)" json:"event_type,omitempty"`
	Location  string    `json:"location,omitempty"`
	Notes     string    `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CatchupStatus tracks a planned meeting.
type CatchupStatus string

const (
	CatchupPlanned   CatchupStatus = "planned"
	CatchupCompleted CatchupStatus = "completed"
	CatchupCancelled CatchupStatus = "cancelled"
)

// Catchup is a scheduled meeting with one or more contacts.
type Catchup struct {
	ID              string        `gorm:"type:uuid;primaryKey" json:"id"`
	UserID          string        `gorm:"type:uuid;index;not null" json:"user_id"`
	ContactIDs      []string      `gorm:"type:jsonb;serializer:json" json:"contact_ids"`
	Message         string        `gorm:"type:text" json:"message,omitempty"`
	PlaceName       string        `json:"place_name,omitempty"`
	PlaceType       string        `gorm:"type:varchar(32)" json:"place_type,omitempty"`
	ScheduledAt     time.Time     `gorm:"index" json:"scheduled_at"`
	DurationMinutes int           `json:"duration_minutes"`
	Status          CatchupStatus `gorm:"type:varchar(16);default:'planned'" json:"status"`
	Recurrence      string        `gorm:"type:text" json:"recurrence,omitempty"` // RFC 5545 RRULE
	GoogleEventID   string        `json:"google_event_id,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// CalendarConnection stores the OAuth token for a user's external calendar.
type CalendarConnection struct {
	UserID       string    `gorm:"type:uuid;primaryKey" json:"user_id"`
	Provider     string    `gorm:"type:varchar(16);default:'google'" json:"provider"`
	AccessToken  string    `gorm:"type:text" json:"-"`
	RefreshToken string    `gorm:"type:text" json:"-"`
	TokenType    string    `json:"-"`
	Expiry       time.Time `json:"-"`
	Connected    bool      `gorm:"not null;default:false" json:"connected"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SharedProfile is a short-lived snapshot of a profile reachable by share code.
type SharedProfile struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    string    `gorm:"type:uuid;index;not null" json:"user_id"`
	ShareCode string    `gorm:"size:16;uniqueIndex;not null" json:"share_code"`
	Name      string    `json:"name"`
	City      string    `json:"city,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	LinkedIn  string    `json:"linkedin,omitempty"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`
	Accepted  int       `gorm:"not null;default:0" json:"accepted"`
	CreatedAt time.Time `json:"created_at"`
}

// IsExpired reports whether the share code can no longer be used at now.
func (s *SharedProfile) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
