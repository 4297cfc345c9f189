/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/kith/internal/config"
	"github.com/friendsincode/kith/internal/contacts"
	"github.com/friendsincode/kith/internal/db"
	"github.com/friendsincode/kith/internal/eventbus"
	"github.com/friendsincode/kith/internal/models"
	"github.com/friendsincode/kith/internal/storage"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write JSON snapshots of contacts to object storage",
	Long: `Export each selected user's contacts, events and catch-ups as JSON and store the
snapshot under backups/<user>/<timestamp>.json.

Snapshots go to the configured S3 bucket (KITH_S3_BUCKET and friends), or to a
local directory with --dir.`,
	RunE: runBackup,
}

var (
	backupUserID string
	backupAll    bool
	backupDir    string
)

func init() {
	backupCmd.Flags().StringVar(&backupUserID, "user", "", "User ID to back up")
	backupCmd.Flags().BoolVar(&backupAll, "all", false, "Back up every user")
	backupCmd.Flags().StringVar(&backupDir, "dir", "", "Write to a local directory instead of S3")
	backupCmd.MarkFlagsMutuallyExclusive("user", "all")
	rootCmd.AddCommand(backupCmd)
}

// backupStore picks the object store for snapshots.
func backupStore(ctx context.Context, cfg *config.Config, dir string) (storage.ObjectStore, error) {
	if dir != "" {
		return storage.NewFilesystemStore(dir, logger), nil
	}
	if cfg.S3Bucket == "" {
		return nil, errors.New("no S3 bucket configured; set KITH_S3_BUCKET or pass --dir")
	}
	return storage.NewS3Store(ctx, storage.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		UsePathStyle:    cfg.S3UsePathStyle,
	}, logger)
}

func runBackup(cmd *cobra.Command, args []string) error {
	if backupUserID == "" && !backupAll {
		return errors.New("one of --user or --all is required")
	}
	if err := loadConfig(); err != nil {
		return err
	}

	ctx := context.Background()
	store, err := backupStore(ctx, cfg, backupDir)
	if err != nil {
		return err
	}

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer db.Close(database)

	userIDs := []string{backupUserID}
	if backupAll {
		userIDs = nil
		if err := database.WithContext(ctx).Model(&models.User{}).Order("created_at ASC").Pluck("id", &userIDs).Error; err != nil {
			return fmt.Errorf("list users: %w", err)
		}
	}

	// Exports only read, so nothing is listening for events.
	svc := contacts.NewService(database, eventbus.NewMemory(), nil, logger)

	out := cmd.OutOrStdout()
	failed := 0
	for _, id := range userIDs {
		key, err := svc.Backup(ctx, store, id)
		if err != nil {
			failed++
			logger.Error().Err(err).Str("user_id", id).Msg("backup failed")
			continue
		}
		fmt.Fprintf(out, "%s -> %s\n", id, key)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d backups failed", failed, len(userIDs))
	}
	return nil
}
