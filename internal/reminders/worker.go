/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package reminders periodically turns urgent follow-ups into in-app notifications.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/kith/internal/contacts"
	"github.com/friendsincode/kith/internal/events"
	"github.com/friendsincode/kith/internal/followup"
	"github.com/friendsincode/kith/internal/models"
	"github.com/friendsincode/kith/internal/notifications"
	"github.com/friendsincode/kith/internal/telemetry"
)

// DefaultInterval is the sweep period when none is configured.
const DefaultInterval = 15 * time.Minute

const referenceContact = "contact"

// Worker sweeps every user's ranking and records reminders for CRITICAL and HIGH contacts.
type Worker struct {
	db            *gorm.DB
	contacts      *contacts.Service
	notifications *notifications.Service
	bus           events.Publisher
	interval      time.Duration
	now           func() time.Time
	logger        zerolog.Logger
}

// NewWorker creates a reminder worker. A non-positive interval uses DefaultInterval.
func NewWorker(db *gorm.DB, contactSvc *contacts.Service, notificationSvc *notifications.Service, bus events.Publisher, interval time.Duration, logger zerolog.Logger) *Worker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Worker{
		db:            db,
		contacts:      contactSvc,
		notifications: notificationSvc,
		bus:           bus,
		interval:      interval,
		now:           contactSvc.Now,
		logger:        logger.With().Str("component", "reminders").Logger(),
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info().Dur("interval", w.interval).Msg("reminder worker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.RunOnce(ctx, w.now()); err != nil && ctx.Err() == nil {
				w.logger.Error().Err(err).Msg("reminder sweep failed")
			}
		}
	}
}

// RunOnce performs a single sweep at now and returns how many reminders were created.
func (w *Worker) RunOnce(ctx context.Context, now time.Time) (int, error) {
	var userIDs []string
	if err := w.db.WithContext(ctx).Model(&models.Contact{}).
		Where("is_done = ?", false).
		Distinct().
		Pluck("user_id", &userIDs).Error; err != nil {
		telemetry.ReminderRunsTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("list users: %w", err)
	}

	created := 0
	var failed int
	for _, userID := range userIDs {
		if ctx.Err() != nil {
			return created, ctx.Err()
		}
		n, err := w.remindUser(ctx, userID, now)
		created += n
		if err != nil {
			failed++
			w.logger.Warn().Err(err).Str("user_id", userID).Msg("reminders for user failed")
		}
	}

	outcome := "ok"
	if failed > 0 {
		outcome = "partial"
	}
	telemetry.ReminderRunsTotal.WithLabelValues(outcome).Inc()

	if created > 0 {
		w.logger.Info().Int("users", len(userIDs)).Int("created", created).Msg("reminder sweep complete")
	}
	return created, nil
}

func (w *Worker) remindUser(ctx context.Context, userID string, now time.Time) (int, error) {
	ranked, err := w.contacts.Ranked(ctx, userID, now)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, rc := range ranked {
		if rc.UrgencyLevel > followup.UrgencyHigh {
			continue
		}

		// Skip contacts already reminded since their last lifecycle change
		latest, err := w.notifications.LatestFor(ctx, userID, referenceContact, rc.Contact.ID)
		if err != nil {
			return created, err
		}
		if latest != nil && !latest.CreatedAt.Before(lifecycleAnchor(rc.Contact)) {
			continue
		}

		notification := reminderFor(userID, rc, now)
		if err := w.notifications.Send(ctx, notification); err != nil {
			if errors.Is(err, notifications.ErrDuplicate) {
				continue
			}
			return created, err
		}
		created++

		telemetry.RemindersSentTotal.WithLabelValues(rc.UrgencyLevel.String()).Inc()
		w.bus.Publish(events.EventReminderCreated, events.Payload{
			"user_id":         userID,
			"contact_id":      rc.Contact.ID,
			"notification_id": notification.ID,
			"urgency":         rc.UrgencyLevel.String(),
		})
	}
	return created, nil
}

// lifecycleAnchor is the latest moment the contact's follow-up state changed.
func lifecycleAnchor(c followup.Contact) time.Time {
	anchor := c.MetAt
	if c.LastFollowUpAt != nil && c.LastFollowUpAt.After(anchor) {
		anchor = *c.LastFollowUpAt
	}
	if c.SnoozedUntil != nil && c.SnoozedUntil.After(anchor) {
		anchor = *c.SnoozedUntil
	}
	return anchor
}

func reminderFor(userID string, rc followup.RankedContact, now time.Time) *models.Notification {
	key := models.ReminderDedupKey(rc.Contact.ID, now)
	return &models.Notification{
		UserID:           userID,
		NotificationType: models.NotificationTypeFollowUpReminder,
		Subject:          "Follow up with " + rc.Contact.Name,
		Body:             rc.UrgencyLevel.Message(),
		ReferenceType:    referenceContact,
		ReferenceID:      rc.Contact.ID,
		DedupKey:         &key,
		Metadata: map[string]any{
			"urgency":         rc.UrgencyLevel.String(),
			"hours_since_met": rc.HoursSinceMet,
			"suggestion":      followup.DefaultSuggestion(rc.Contact.Context),
		},
		CreatedAt: now,
	}
}
