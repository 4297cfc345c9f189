/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package contacts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/kith/internal/events"
	"github.com/friendsincode/kith/internal/models"
)

// DefaultEventType is applied to events created without a type.
const DefaultEventType = "networking"

// CurrentEventWindow is how long after an event it stays the default for new contacts.
const CurrentEventWindow = 72 * time.Hour

// EventRequest describes a new meetup.
type EventRequest struct {
	Name      string    `json:"name"`
	EventDate time.Time `json:"event_date"`
	EventType string    `json:"event_type"`
	Location  string    `json:"location"`
	Notes     string    `json:"notes"`
}

// CreateEvent stores a meetup for userID.
func (s *Service) CreateEvent(ctx context.Context, userID string, req EventRequest) (*models.Event, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrMalformedEvent)
	}
	if req.EventDate.IsZero() {
		return nil, fmt.Errorf("%w: event_date is required", ErrMalformedEvent)
	}
	eventType := strings.TrimSpace(req.EventType)
	if eventType == "" {
		eventType = DefaultEventType
	}

	event := &models.Event{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		EventDate: req.EventDate.UTC(),
		EventType: eventType,
		Location:  strings.TrimSpace(req.Location),
		Notes:     strings.TrimSpace(req.Notes),
	}
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}

	s.bus.Publish(events.EventEventCreated, events.Payload{
		"user_id":  userID,
		"event_id": event.ID,
		"name":     event.Name,
	})
	return event, nil
}

// GetEvent returns an event owned by userID.
func (s *Service) GetEvent(ctx context.Context, userID, id string) (*models.Event, error) {
	var event models.Event
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &event, nil
}

// ListEvents returns a user's events, newest first.
func (s *Service) ListEvents(ctx context.Context, userID string) ([]models.Event, error) {
	var list []models.Event
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("event_date DESC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return list, nil
}

// CurrentEvent returns the most recent event if it happened within the last 72 hours.
func (s *Service) CurrentEvent(ctx context.Context, userID string, now time.Time) (*models.Event, error) {
	var event models.Event
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND event_date <= ?", userID, now.UTC()).
		Order("event_date DESC").
		First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("current event: %w", err)
	}
	if now.Sub(event.EventDate) > CurrentEventWindow {
		return nil, ErrNotFound
	}
	return &event, nil
}

// EventContacts returns the contacts met at an event.
func (s *Service) EventContacts(ctx context.Context, userID, eventID string) ([]models.Contact, error) {
	if _, err := s.GetEvent(ctx, userID, eventID); err != nil {
		return nil, err
	}
	return s.List(ctx, userID, ListFilter{EventID: eventID, IncludeDone: true})
}
