/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package notifications stores the in-app notification log and turns bus events into entries.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/kith/internal/events"
	"github.com/friendsincode/kith/internal/models"
)

var (
	// ErrNotFound indicates the notification does not exist for the user.
	ErrNotFound = errors.New("notification not found")

	// ErrDuplicate indicates a notification with the same dedup key was already stored.
	ErrDuplicate = errors.New("notification already sent")
)

const defaultListLimit = 50

// Service handles notification storage and event driven notifications.
type Service struct {
	db     *gorm.DB
	logger zerolog.Logger

	mu      sync.RWMutex
	running bool
}

// NewService creates a new notification service.
func NewService(db *gorm.DB, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger.With().Str("component", "notifications").Logger(),
	}
}

// Start subscribes to planning and sharing events until ctx is cancelled.
func (s *Service) Start(ctx context.Context, bus events.Broker) {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	scheduled := bus.Subscribe(events.EventCatchupScheduled)
	accepted := bus.Subscribe(events.EventShareAccepted)

	defer func() {
		bus.Unsubscribe(events.EventCatchupScheduled, scheduled)
		bus.Unsubscribe(events.EventShareAccepted, accepted)
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Info().Msg("notification service started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("notification service stopping")
			return

		case payload, ok := <-scheduled:
			if !ok {
				return
			}
			s.handleCatchupScheduled(ctx, payload)

		case payload, ok := <-accepted:
			if !ok {
				return
			}
			s.handleShareAccepted(ctx, payload)
		}
	}
}

// Running reports whether Start is consuming events.
func (s *Service) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Service) handleCatchupScheduled(ctx context.Context, payload events.Payload) {
	userID := payload.UserID()
	catchupID, _ := payload["catchup_id"].(string)
	if userID == "" || catchupID == "" {
		return
	}

	body := "Your catch-up was added to your plans."
	if raw, _ := payload["scheduled_at"].(string); raw != "" {
		if at, err := time.Parse(time.RFC3339, raw); err == nil {
			body = fmt.Sprintf("Your catch-up is set for %s.", at.Format("Mon Jan 2 at 3:04 PM"))
		}
	}

	notification := &models.Notification{
		UserID:           userID,
		NotificationType: models.NotificationTypeCatchupScheduled,
		Subject:          "Catch-up scheduled",
		Body:             body,
		ReferenceType:    "catchup",
		ReferenceID:      catchupID,
	}
	if err := s.Send(ctx, notification); err != nil && !errors.Is(err, ErrDuplicate) {
		s.logger.Warn().Err(err).Str("catchup_id", catchupID).Msg("catchup notification failed")
	}
}

func (s *Service) handleShareAccepted(ctx context.Context, payload events.Payload) {
	userID := payload.UserID()
	shareID, _ := payload["share_id"].(string)
	if userID == "" || shareID == "" {
		return
	}

	who, _ := payload["accepted_by_name"].(string)
	if who == "" {
		who = "Someone"
	}

	notification := &models.Notification{
		UserID:           userID,
		NotificationType: models.NotificationTypeShareAccepted,
		Subject:          "Profile saved",
		Body:             fmt.Sprintf("%s saved your profile.", who),
		ReferenceType:    "share",
		ReferenceID:      shareID,
	}
	if err := s.Send(ctx, notification); err != nil {
		s.logger.Warn().Err(err).Str("share_id", shareID).Msg("share notification failed")
	}
}

// Send stores a notification and marks it delivered. Only the in-app channel is delivered;
// push entries stay pending for an external sender.
func (s *Service) Send(ctx context.Context, notification *models.Notification) error {
	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now()
	}
	if notification.Channel == "" {
		notification.Channel = models.NotificationChannelInApp
	}
	notification.Status = models.NotificationStatusPending
	if notification.Channel == models.NotificationChannelInApp {
		sentAt := notification.CreatedAt
		notification.Status = models.NotificationStatusSent
		notification.SentAt = &sentAt
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if notification.DedupKey != nil {
			var existing int64
			if err := tx.Model(&models.Notification{}).Where("dedup_key = ?", *notification.DedupKey).Count(&existing).Error; err != nil {
				return fmt.Errorf("check dedup key: %w", err)
			}
			if existing > 0 {
				return ErrDuplicate
			}
		}
		if err := tx.Create(notification).Error; err != nil {
			s.logger.Error().Err(err).Str("id", notification.ID).Msg("failed to save notification")
			return fmt.Errorf("save notification: %w", err)
		}
		return nil
	})
}

// LatestFor returns the newest notification for a reference, or nil when none exists.
func (s *Service) LatestFor(ctx context.Context, userID, referenceType, referenceID string) (*models.Notification, error) {
	var n models.Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND reference_type = ? AND reference_id = ?", userID, referenceType, referenceID).
		Order("created_at DESC").
		First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest notification: %w", err)
	}
	return &n, nil
}

// List retrieves notifications for a user, newest first.
func (s *Service) List(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]models.Notification, int64, error) {
	var notifications []models.Notification
	var total int64

	query := s.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ?", userID)
	if unreadOnly {
		query = query.Where("status != ?", models.NotificationStatusRead)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	if limit <= 0 {
		limit = defaultListLimit
	}
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&notifications).Error; err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	return notifications, total, nil
}

// MarkAsRead marks a notification as read.
func (s *Service) MarkAsRead(ctx context.Context, notificationID, userID string) error {
	result := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", notificationID, userID).
		Updates(map[string]any{
			"status":  models.NotificationStatusRead,
			"read_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("mark read: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllAsRead marks all notifications as read for a user.
func (s *Service) MarkAllAsRead(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND status != ?", userID, models.NotificationStatusRead).
		Updates(map[string]any{
			"status":  models.NotificationStatusRead,
			"read_at": time.Now(),
		}).Error
}

// UnreadCount returns the count of unread in-app notifications for a user.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND status != ?", userID, models.NotificationStatusRead).
		Where("channel = ?", models.NotificationChannelInApp).
		Count(&count).Error
	return count, err
}
