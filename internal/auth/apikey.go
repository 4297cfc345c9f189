/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/kith/internal/models"
)

const (
	// APIKeyPrefix marks Kith keys so they can be told apart from session tokens.
	APIKeyPrefix = "kith_"

	apiKeyRandomBytes = 24

	// last_used_at is only rewritten when it is older than this.
	lastUsedResolution = 5 * time.Minute
)

var (
	ErrAPIKeyNotFound = errors.New("api key not found")
	ErrAPIKeyExpired  = errors.New("api key expired")
	ErrAPIKeyRevoked  = errors.New("api key revoked")
	ErrUserNotFound   = errors.New("user not found")
)

// APIKeys issues and checks per-user API keys.
type APIKeys struct {
	db  *gorm.DB
	now func() time.Time
}

// NewAPIKeys creates the key store.
func NewAPIKeys(db *gorm.DB) *APIKeys {
	return &APIKeys{db: db, now: time.Now}
}

// Create stores a new key for userID and returns the plaintext, which is never shown again.
func (k *APIKeys) Create(ctx context.Context, userID, name string, ttl time.Duration) (string, *models.APIKey, error) {
	raw := make([]byte, apiKeyRandomBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("generate api key: %w", err)
	}
	plaintext := APIKeyPrefix + hex.EncodeToString(raw)

	key := &models.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		KeyHash:   hashAPIKey(plaintext),
		KeyPrefix: plaintext[:len(APIKeyPrefix)+8],
		ExpiresAt: k.now().Add(ttl),
	}
	if err := k.db.WithContext(ctx).Create(key).Error; err != nil {
		return "", nil, fmt.Errorf("store api key: %w", err)
	}
	key.Status = key.StatusAt(k.now())
	return plaintext, key, nil
}

// Authenticate resolves a plaintext key to its owner's claims.
func (k *APIKeys) Authenticate(ctx context.Context, plaintext string) (*Claims, error) {
	if !strings.HasPrefix(plaintext, APIKeyPrefix) {
		return nil, ErrAPIKeyNotFound
	}
	db := k.db.WithContext(ctx)

	var key models.APIKey
	if err := db.Where("key_hash = ?", hashAPIKey(plaintext)).First(&key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAPIKeyNotFound
		}
		return nil, err
	}

	now := k.now()
	switch key.StatusAt(now) {
	case models.APIKeyRevoked:
		return nil, ErrAPIKeyRevoked
	case models.APIKeyExpired:
		return nil, ErrAPIKeyExpired
	}

	var user models.User
	if err := db.Select("id", "role").First(&user, "id = ?", key.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if key.LastUsedAt == nil || now.Sub(*key.LastUsedAt) >= lastUsedResolution {
		if err := db.Model(&key).UpdateColumn("last_used_at", now).Error; err != nil {
			return nil, err
		}
	}

	return &Claims{UserID: user.ID, Roles: []string{string(user.Role)}}, nil
}

// List returns the user's keys, newest first.
func (k *APIKeys) List(ctx context.Context, userID string) ([]models.APIKey, error) {
	var keys []models.APIKey
	if err := k.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&keys).Error; err != nil {
		return nil, err
	}
	now := k.now()
	for i := range keys {
		keys[i].Status = keys[i].StatusAt(now)
	}
	return keys, nil
}

// Revoke disables a key but keeps it listed.
func (k *APIKeys) Revoke(ctx context.Context, userID, keyID string) error {
	result := k.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ? AND user_id = ?", keyID, userID).
		Update("revoked_at", k.now())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}

// Delete removes a key permanently.
func (k *APIKeys) Delete(ctx context.Context, userID, keyID string) error {
	result := k.db.WithContext(ctx).Where("id = ? AND user_id = ?", keyID, userID).Delete(&models.APIKey{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}

func hashAPIKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
