/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// NotificationType defines the type of notification.
type NotificationType string

const (
	NotificationTypeFollowUpReminder NotificationType = "follow_up_reminder" // Contact is due for outreach
	NotificationTypeCatchupScheduled NotificationType = "catchup_scheduled"  // Catch-up added to the calendar
	NotificationTypeShareAccepted    NotificationType = "share_accepted"     // Someone saved the user's shared profile
)

// NotificationChannel defines the delivery channel.
type NotificationChannel string

const (
	NotificationChannelInApp NotificationChannel = "in_app"
	NotificationChannelPush  NotificationChannel = "push"
)

// NotificationStatus defines the delivery status.
type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusRead    NotificationStatus = "read"
)

// Notification stores a notification log entry.
type Notification struct {
	ID               string              `gorm:"type:uuid;primaryKey" json:"id"`
	UserID           string              `gorm:"type:uuid;index:idx_notifications_user;not null" json:"user_id"`
	NotificationType NotificationType    `gorm:"type:varchar(64);index:idx_notifications_type;not null" json:"notification_type"`
	Channel          NotificationChannel `gorm:"type:varchar(32);not null" json:"channel"`
	Subject          string              `gorm:"type:varchar(255)" json:"subject,omitempty"`
	Body             string              `gorm:"type:text;not null" json:"body"`
	Status           NotificationStatus  `gorm:"type:varchar(32);not null;default:'pending';index:idx_notifications_status" json:"status"`
	SentAt           *time.Time          `json:"sent_at,omitempty"`
	ReadAt           *time.Time          `json:"read_at,omitempty"`

	// Reference to related entity (contact, catchup, share)
	ReferenceType string `gorm:"type:varchar(64)" json:"reference_type,omitempty"`
	ReferenceID   string `gorm:"type:varchar(64)" json:"reference_id,omitempty"`

	// One reminder per reference per day
	DedupKey *string `gorm:"type:varchar(128);uniqueIndex" json:"-"`

	Metadata map[string]any `gorm:"type:jsonb;serializer:json" json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the table name for GORM.
func (Notification) TableName() string {
	return "notifications"
}

// ReminderDedupKey identifies the reminder for a contact on the calendar day of at.
func ReminderDedupKey(contactID string, at time.Time) string {
	return "contact:" + contactID + ":" + at.UTC().Format("2006-01-02")
}
