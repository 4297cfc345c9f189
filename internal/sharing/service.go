/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package sharing hands out short-lived codes that let someone save the user's profile as a contact.
package sharing

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/kith/internal/contacts"
	"github.com/friendsincode/kith/internal/events"
	"github.com/friendsincode/kith/internal/models"
)

const (
	// ShareTTL is how long a share code stays valid.
	ShareTTL = 24 * time.Hour

	// CodeLength is the number of characters in a share code.
	CodeLength = 8

	// SharedContext is stored on contacts created from a share.
	SharedContext = "Met via Kith"
)

var (
	ErrShareNotFound     = errors.New("share not found")
	ErrShareExpired      = errors.New("share expired")
	ErrProfileIncomplete = errors.New("profile has no name")
	ErrOwnShare          = errors.New("cannot accept your own share")
)

// Service creates and redeems shared profiles.
type Service struct {
	db       *gorm.DB
	contacts *contacts.Service
	bus      events.Publisher
	baseURL  string
	logger   zerolog.Logger
}

// NewService creates a sharing service. baseURL prefixes the links returned by Link.
func NewService(db *gorm.DB, contactSvc *contacts.Service, bus events.Publisher, baseURL string, logger zerolog.Logger) *Service {
	return &Service{
		db:       db,
		contacts: contactSvc,
		bus:      bus,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   logger.With().Str("component", "sharing").Logger(),
	}
}

// Link returns the public URL for a share code.
func (s *Service) Link(code string) string {
	return s.baseURL + "/receive/" + code
}

// Create snapshots the user's profile behind a new code that expires after ShareTTL.
func (s *Service) Create(ctx context.Context, userID string, now time.Time) (*models.SharedProfile, error) {
	var profile models.Profile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProfileIncomplete
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if strings.TrimSpace(profile.Name) == "" {
		return nil, ErrProfileIncomplete
	}

	code, err := newCode()
	if err != nil {
		return nil, err
	}

	share := &models.SharedProfile{
		ID:        uuid.NewString(),
		UserID:    userID,
		ShareCode: code,
		Name:      profile.Name,
		City:      profile.City,
		Phone:     profile.Phone,
		LinkedIn:  profile.LinkedIn,
		ExpiresAt: now.Add(ShareTTL).UTC(),
		CreatedAt: now.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(share).Error; err != nil {
		return nil, fmt.Errorf("create share: %w", err)
	}

	s.bus.Publish(events.EventShareCreated, events.Payload{
		"user_id":    userID,
		"share_id":   share.ID,
		"expires_at": share.ExpiresAt.Format(time.RFC3339),
	})
	s.logger.Debug().Str("user_id", userID).Str("share_id", share.ID).Msg("share created")
	return share, nil
}

// Resolve returns the shared profile for code if it has not expired at now.
func (s *Service) Resolve(ctx context.Context, code string, now time.Time) (*models.SharedProfile, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, ErrShareNotFound
	}

	var share models.SharedProfile
	err := s.db.WithContext(ctx).Where("share_code = ?", code).First(&share).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrShareNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve share: %w", err)
	}
	if share.IsExpired(now) {
		return nil, ErrShareExpired
	}
	return &share, nil
}

// Accept saves the shared profile as a contact of userID, met at now.
func (s *Service) Accept(ctx context.Context, code, userID string, now time.Time) (*models.Contact, error) {
	share, err := s.Resolve(ctx, code, now)
	if err != nil {
		return nil, err
	}
	if share.UserID == userID {
		return nil, ErrOwnShare
	}

	metAt := now.UTC()
	contact, err := s.contacts.Create(ctx, userID, contacts.CreateRequest{
		Name:     share.Name,
		Context:  SharedContext,
		Phone:    share.Phone,
		LinkedIn: share.LinkedIn,
		MetAt:    &metAt,
		Source:   models.ContactSourceShare,
	})
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(&models.SharedProfile{}).
		Where("id = ?", share.ID).
		UpdateColumn("accepted", gorm.Expr("accepted + 1")).Error; err != nil {
		s.logger.Warn().Err(err).Str("share_id", share.ID).Msg("failed to count share acceptance")
	}

	var receiver models.Profile
	acceptedBy := ""
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&receiver).Error; err == nil {
		acceptedBy = receiver.Name
	}

	s.bus.Publish(events.EventShareAccepted, events.Payload{
		"user_id":          share.UserID,
		"share_id":         share.ID,
		"accepted_by":      userID,
		"accepted_by_name": acceptedBy,
	})
	s.logger.Info().Str("share_id", share.ID).Str("contact_id", contact.ID).Msg("share accepted")
	return contact, nil
}

// newCode returns CodeLength uppercase base32 characters from crypto/rand.
func newCode() (string, error) {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate share code: %w", err)
	}
	return base32.StdEncoding.EncodeToString(buf)[:CodeLength], nil
}
