/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package contacts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/friendsincode/kith/internal/models"
	"github.com/friendsincode/kith/internal/storage"
)

// ExportVersion identifies the backup document layout.
const ExportVersion = 1

// Export is a point-in-time copy of everything a user has recorded.
type Export struct {
	Version    int              `json:"version"`
	UserID     string           `json:"user_id"`
	ExportedAt time.Time        `json:"exported_at"`
	Contacts   []models.Contact `json:"contacts"`
	Events     []models.Event   `json:"events"`
	Catchups   []models.Catchup `json:"catchups"`
}

// Export collects the user's contacts (done ones included), events and catch-ups.
func (s *Service) Export(ctx context.Context, userID string) (*Export, error) {
	contacts, err := s.List(ctx, userID, ListFilter{IncludeDone: true})
	if err != nil {
		return nil, err
	}
	events, err := s.ListEvents(ctx, userID)
	if err != nil {
		return nil, err
	}
	var catchups []models.Catchup
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("scheduled_at").Find(&catchups).Error; err != nil {
		return nil, fmt.Errorf("list catchups: %w", err)
	}

	return &Export{
		Version:    ExportVersion,
		UserID:     userID,
		ExportedAt: s.now().UTC(),
		Contacts:   contacts,
		Events:     events,
		Catchups:   catchups,
	}, nil
}

// MarshalExport renders an export as indented JSON.
func MarshalExport(e *Export) ([]byte, error) {
	return json.MarshalIndent(e, "", "  ")
}

// Backup writes the user's export to store under storage.BackupKey and returns the key.
func (s *Service) Backup(ctx context.Context, store storage.ObjectStore, userID string) (string, error) {
	export, err := s.Export(ctx, userID)
	if err != nil {
		return "", err
	}
	data, err := MarshalExport(export)
	if err != nil {
		return "", fmt.Errorf("marshal export: %w", err)
	}
	key := storage.BackupKey(userID, export.ExportedAt)
	if err := store.Put(ctx, key, data); err != nil {
		return "", fmt.Errorf("store backup: %w", err)
	}
	s.logger.Info().
		Str("user_id", userID).
		Str("key", key).
		Int("contacts", len(export.Contacts)).
		Msg("backup written")
	return key, nil
}
