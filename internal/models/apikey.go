/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// APIKeyStatus is derived from the expiry and revocation timestamps.
type APIKeyStatus string

const (
	APIKeyActive  APIKeyStatus = "active"
	APIKeyExpired APIKeyStatus = "expired"
	APIKeyRevoked APIKeyStatus = "revoked"
)

// APIKey lets scripts and shortcuts log contacts without a session token. Only the sha256
// of the key is stored.
type APIKey struct {
	ID         string       `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     string       `gorm:"type:uuid;index;not null" json:"user_id"`
	User       User         `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Name       string       `gorm:"not null" json:"name"`
	KeyHash    string       `gorm:"uniqueIndex;not null" json:"-"`
	KeyPrefix  string       `gorm:"size:16" json:"key_prefix"`
	LastUsedAt *time.Time   `json:"last_used_at,omitempty"`
	ExpiresAt  time.Time    `gorm:"not null" json:"expires_at"`
	RevokedAt  *time.Time   `json:"revoked_at,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	Status     APIKeyStatus `gorm:"-" json:"status"`
}

// StatusAt reports whether the key can be used at now. Revocation wins over expiry.
func (k *APIKey) StatusAt(now time.Time) APIKeyStatus {
	switch {
	case k.RevokedAt != nil:
		return APIKeyRevoked
	case !now.Before(k.ExpiresAt):
		return APIKeyExpired
	default:
		return APIKeyActive
	}
}
