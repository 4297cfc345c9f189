/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package contacts manages the people a user has met and their follow-up lifecycle.
package contacts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/kith/internal/cache"
	"github.com/friendsincode/kith/internal/events"
	"github.com/friendsincode/kith/internal/followup"
	"github.com/friendsincode/kith/internal/models"
)

var (
	// ErrNotFound is returned when a contact or event does not exist for the requesting user.
	ErrNotFound = errors.New("not found")

	// ErrMalformedContact is returned for a contact without a name or meeting time.
	ErrMalformedContact = errors.New("malformed contact")

	// ErrMalformedEvent is returned for an event without a name or date.
	ErrMalformedEvent = errors.New("malformed event")
)

// Clock returns the current time.
type Clock func() time.Time

// feedCache is the part of the cache the feed uses.
type feedCache interface {
	GetFeed(ctx context.Context, userID string) (*cache.CachedFeed, bool)
	SetFeed(ctx context.Context, userID string, feed *cache.CachedFeed) error
}

// Service provides contact management with event integration.
type Service struct {
	db     *gorm.DB
	bus    events.Publisher
	cache  feedCache
	now    Clock
	logger zerolog.Logger
}

// NewService creates a contacts service. A nil cache disables feed caching.
func NewService(db *gorm.DB, bus events.Publisher, c *cache.Cache, logger zerolog.Logger) *Service {
	s := &Service{
		db:     db,
		bus:    bus,
		now:    time.Now,
		logger: logger.With().Str("component", "contacts").Logger(),
	}
	if c != nil {
		s.cache = c
	}
	return s
}

// WithClock replaces the service clock.
func (s *Service) WithClock(clock Clock) *Service {
	s.now = clock
	return s
}

// Now returns the service's current time.
func (s *Service) Now() time.Time {
	return s.now()
}

// CreateRequest describes a new contact.
type CreateRequest struct {
	Name         string               `json:"name"`
	Context      string               `json:"context"`
	Phone        string               `json:"phone"`
	LinkedIn     string               `json:"linkedin"`
	EventID      *string              `json:"event_id"`
	MetAt        *time.Time           `json:"met_at"`
	ReminderDays int                  `json:"reminder_days"`
	Source       models.ContactSource `json:"-"`
}

// Create stores a contact for userID. met_at defaults to now and reminder_days to 14.
func (s *Service) Create(ctx context.Context, userID string, req CreateRequest) (*models.Contact, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrMalformedContact)
	}

	metAt := s.now()
	if req.MetAt != nil {
		if req.MetAt.IsZero() {
			return nil, fmt.Errorf("%w: met_at is zero", ErrMalformedContact)
		}
		metAt = *req.MetAt
	}

	reminderDays := req.ReminderDays
	if reminderDays <= 0 {
		reminderDays = followup.DefaultReminderIntervalDays
	}

	source := req.Source
	if source == "" {
		source = models.ContactSourceManual
	}

	if req.EventID != nil {
		if _, err := s.GetEvent(ctx, userID, *req.EventID); err != nil {
			return nil, err
		}
	}

	contact := &models.Contact{
		ID:           uuid.NewString(),
		UserID:       userID,
		EventID:      req.EventID,
		Name:         name,
		Context:      strings.TrimSpace(req.Context),
		Phone:        strings.TrimSpace(req.Phone),
		LinkedIn:     strings.TrimSpace(req.LinkedIn),
		Source:       source,
		MetAt:        metAt.UTC(),
		ReminderDays: reminderDays,
	}
	if err := s.db.WithContext(ctx).Create(contact).Error; err != nil {
		return nil, fmt.Errorf("create contact: %w", err)
	}

	s.logger.Debug().Str("user_id", userID).Str("contact_id", contact.ID).Msg("contact created")
	s.publish(events.EventContactCreated, contact)
	return contact, nil
}

// Get returns a contact owned by userID.
func (s *Service) Get(ctx context.Context, userID, id string) (*models.Contact, error) {
	var contact models.Contact
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&contact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return &contact, nil
}

// ListFilter narrows List results.
type ListFilter struct {
	EventID     string
	IncludeDone bool
	Limit       int
	Offset      int
}

// List returns a user's contacts, most recently met first.
func (s *Service) List(ctx context.Context, userID string, filter ListFilter) ([]models.Contact, error) {
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if filter.EventID != "" {
		query = query.Where("event_id = ?", filter.EventID)
	}
	if !filter.IncludeDone {
		query = query.Where("is_done = ?", false)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var contacts []models.Contact
	if err := query.Order("met_at DESC").Order("id").Find(&contacts).Error; err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	return contacts, nil
}

// UpdateRequest carries the fields to change. Nil fields are left alone.
type UpdateRequest struct {
	Name         *string    `json:"name"`
	Context      *string    `json:"context"`
	Phone        *string    `json:"phone"`
	LinkedIn     *string    `json:"linkedin"`
	MetAt        *time.Time `json:"met_at"`
	ReminderDays *int       `json:"reminder_days"`
}

// Update applies a partial update to a contact.
func (s *Service) Update(ctx context.Context, userID, id string, req UpdateRequest) (*models.Contact, error) {
	contact, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name is required", ErrMalformedContact)
		}
		contact.Name = name
	}
	if req.Context != nil {
		contact.Context = strings.TrimSpace(*req.Context)
	}
	if req.Phone != nil {
		contact.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.LinkedIn != nil {
		contact.LinkedIn = strings.TrimSpace(*req.LinkedIn)
	}
	if req.MetAt != nil {
		if req.MetAt.IsZero() {
			return nil, fmt.Errorf("%w: met_at is zero", ErrMalformedContact)
		}
		contact.MetAt = req.MetAt.UTC()
	}
	if req.ReminderDays != nil {
		if *req.ReminderDays <= 0 {
			return nil, fmt.Errorf("%w: reminder_days must be positive", ErrMalformedContact)
		}
		contact.ReminderDays = *req.ReminderDays
	}

	if err := s.db.WithContext(ctx).Save(contact).Error; err != nil {
		return nil, fmt.Errorf("update contact: %w", err)
	}
	s.publish(events.EventContactUpdated, contact)
	return contact, nil
}

// Delete removes a contact.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	result := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&models.Contact{})
	if result.Error != nil {
		return fmt.Errorf("delete contact: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	s.bus.Publish(events.EventContactDeleted, events.Payload{
		"user_id":    userID,
		"contact_id": id,
	})
	return nil
}

// Snooze hides a contact from the feed for days days. Zero or negative days use the default week.
func (s *Service) Snooze(ctx context.Context, userID, id string, days int) (*models.Contact, error) {
	now := s.now()
	return s.transition(ctx, userID, id, events.EventContactSnoozed, func(c followup.Contact) (followup.Contact, error) {
		return followup.Snooze(c, time.Duration(days)*24*time.Hour, now)
	})
}

// Later snoozes a contact for the short "remind me later" window.
func (s *Service) Later(ctx context.Context, userID, id string) (*models.Contact, error) {
	now := s.now()
	return s.transition(ctx, userID, id, events.EventContactSnoozed, func(c followup.Contact) (followup.Contact, error) {
		return followup.Later(c, now)
	})
}

// MarkFollowedUp records outreach now. It also stamps last_catchup.
func (s *Service) MarkFollowedUp(ctx context.Context, userID, id string) (*models.Contact, error) {
	now := s.now()
	contact, err := s.applyTransition(s.db.WithContext(ctx), userID, id, func(c followup.Contact) (followup.Contact, error) {
		return followup.MarkFollowedUp(c, now)
	}, &now)
	if err != nil {
		return nil, err
	}
	s.publish(events.EventContactFollowedUp, contact)
	return contact, nil
}

// MarkFollowedUpBatch records outreach for several contacts in one transaction.
func (s *Service) MarkFollowedUpBatch(ctx context.Context, userID string, ids []string, at time.Time) error {
	var updated []*models.Contact
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, id := range ids {
			c, err := s.applyTransition(tx, userID, id, func(c followup.Contact) (followup.Contact, error) {
				return followup.MarkFollowedUp(c, at)
			}, &at)
			if err != nil {
				return fmt.Errorf("contact %s: %w", id, err)
			}
			updated = append(updated, c)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, c := range updated {
		s.publish(events.EventContactFollowedUp, c)
	}
	return nil
}

// MarkDone permanently removes a contact from the feed.
func (s *Service) MarkDone(ctx context.Context, userID, id string) (*models.Contact, error) {
	return s.transition(ctx, userID, id, events.EventContactDone, func(c followup.Contact) (followup.Contact, error) {
		return followup.MarkDone(c), nil
	})
}

// Reactivate reverses MarkDone.
func (s *Service) Reactivate(ctx context.Context, userID, id string) (*models.Contact, error) {
	return s.transition(ctx, userID, id, events.EventContactReactivated, func(c followup.Contact) (followup.Contact, error) {
		return followup.Reactivate(c), nil
	})
}

func (s *Service) transition(ctx context.Context, userID, id string, eventType events.EventType, fn func(followup.Contact) (followup.Contact, error)) (*models.Contact, error) {
	contact, err := s.applyTransition(s.db.WithContext(ctx), userID, id, fn, nil)
	if err != nil {
		return nil, err
	}
	s.publish(eventType, contact)
	return contact, nil
}

// applyTransition loads a contact, runs fn on its snapshot and persists the lifecycle fields.
func (s *Service) applyTransition(tx *gorm.DB, userID, id string, fn func(followup.Contact) (followup.Contact, error), lastCatchup *time.Time) (*models.Contact, error) {
	var contact models.Contact
	err := tx.Where("id = ? AND user_id = ?", id, userID).First(&contact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load contact: %w", err)
	}

	next, err := fn(contact.Snapshot())
	if err != nil {
		return nil, err
	}
	contact.ApplySnapshot(next)
	if lastCatchup != nil {
		at := lastCatchup.UTC()
		contact.LastCatchup = &at
	}

	err = tx.Model(&contact).Select("followed_up_at", "last_catchup", "is_snoozed", "snoozed_until", "is_done").Updates(map[string]any{
		"followed_up_at": contact.FollowedUpAt,
		"last_catchup":   contact.LastCatchup,
		"is_snoozed":     contact.IsSnoozed,
		"snoozed_until":  contact.SnoozedUntil,
		"is_done":        contact.IsDone,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("save contact: %w", err)
	}
	return &contact, nil
}

func (s *Service) publish(eventType events.EventType, c *models.Contact) {
	payload := events.Payload{
		"user_id":    c.UserID,
		"contact_id": c.ID,
		"name":       c.Name,
		"state":      string(followup.StateOf(c.Snapshot(), s.now())),
	}
	if c.EventID != nil {
		payload["event_id"] = *c.EventID
	}
	s.bus.Publish(eventType, payload)
}
