/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package calendar

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/kith/internal/models"
)

// TokenStore persists OAuth tokens per user.
type TokenStore interface {
	Token(ctx context.Context, userID string) (*oauth2.Token, error)
	Save(ctx context.Context, userID string, token *oauth2.Token) error
	Delete(ctx context.Context, userID string) error
}

// DBTokenStore keeps tokens in calendar_connections rows.
type DBTokenStore struct {
	db       *gorm.DB
	provider string
}

// NewTokenStore returns a token store for provider backed by db.
func NewTokenStore(db *gorm.DB, provider string) *DBTokenStore {
	return &DBTokenStore{db: db, provider: provider}
}

// Token returns the stored token or ErrNotConnected.
func (s *DBTokenStore) Token(ctx context.Context, userID string) (*oauth2.Token, error) {
	var conn models.CalendarConnection
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ? AND connected = ?", userID, s.provider, true).
		First(&conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotConnected
	}
	if err != nil {
		return nil, fmt.Errorf("load calendar token: %w", err)
	}
	if conn.AccessToken == "" && conn.RefreshToken == "" {
		return nil, ErrNotConnected
	}
	return &oauth2.Token{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		TokenType:    conn.TokenType,
		Expiry:       conn.Expiry,
	}, nil
}

// Save upserts a token. A missing refresh token keeps the previously stored one.
func (s *DBTokenStore) Save(ctx context.Context, userID string, token *oauth2.Token) error {
	conn := models.CalendarConnection{
		UserID:       userID,
		Provider:     s.provider,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
		Connected:    true,
	}

	columns := []string{"provider", "access_token", "token_type", "expiry", "connected", "updated_at"}
	if token.RefreshToken != "" {
		columns = append(columns, "refresh_token")
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(&conn).Error
	if err != nil {
		return fmt.Errorf("save calendar token: %w", err)
	}
	return nil
}

// Delete forgets the user's token.
func (s *DBTokenStore) Delete(ctx context.Context, userID string) error {
	result := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.CalendarConnection{})
	if result.Error != nil {
		return fmt.Errorf("delete calendar token: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotConnected
	}
	return nil
}
