/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/friendsincode/kith/internal/followup"
	"github.com/friendsincode/kith/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		// Accounts
		&models.User{},
		&models.Profile{},
		&models.APIKey{},

		// People and meetups
		&models.Event{},
		&models.Contact{},

		// Planning
		&models.Catchup{},
		&models.CalendarConnection{},
		&models.SharedProfile{},

		// Reminders
		&models.Notification{},
	); err != nil {
		return err
	}

	if err := applyPostgresFeedIndex(database); err != nil {
		return err
	}
	if err := backfillReminderDays(database); err != nil {
		return err
	}
	if err := normalizeUserEmails(database); err != nil {
		return err
	}

	return nil
}

// applyPostgresFeedIndex adds a partial index covering the feed query, which only
// ever reads contacts that are not done.
func applyPostgresFeedIndex(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	stmt := `CREATE INDEX IF NOT EXISTS idx_contacts_feed ON contacts (user_id, met_at DESC) WHERE is_done = false`
	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply postgres feed index: %w", err)
	}
	return nil
}

// backfillReminderDays fills rows imported before reminder_days carried a default.
func backfillReminderDays(database *gorm.DB) error {
	if err := database.Model(&models.Contact{}).
		Where("reminder_days IS NULL OR reminder_days <= 0").
		Update("reminder_days", followup.DefaultReminderIntervalDays).Error; err != nil {
		return fmt.Errorf("backfill reminder days: %w", err)
	}
	return nil
}

func normalizeUserEmails(database *gorm.DB) error {
	if err := database.Exec("UPDATE users SET email = LOWER(TRIM(email)) WHERE email <> LOWER(TRIM(email))").Error; err != nil {
		return fmt.Errorf("normalize user emails: %w", err)
	}
	return nil
}
