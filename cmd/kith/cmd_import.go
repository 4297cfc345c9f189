/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/friendsincode/kith/internal/db"
	"github.com/friendsincode/kith/internal/importer"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import data from other systems",
}

var importSupabaseCmd = &cobra.Command{
	Use:   "supabase",
	Short: "Import contacts, events and catch-ups from the hosted Supabase app",
	Long: `Copy one user's events, contacts and catch-ups from the hosted app into a Kith account.

Read directly from the Supabase Postgres database with --dsn, or from a SQLite
snapshot of the same tables with --sqlite. Rows already present in Kith are
skipped, so the import can be repeated.`,
	RunE: runImportSupabase,
}

var (
	importDSN        string
	importSQLitePath string
	importSourceUser string
	importTargetUser string
	importDryRun     bool
	importJSON       bool
)

func init() {
	importSupabaseCmd.Flags().StringVar(&importDSN, "dsn", "", "Supabase Postgres connection string")
	importSupabaseCmd.Flags().StringVar(&importSQLitePath, "sqlite", "", "Path to a SQLite snapshot instead of Postgres")
	importSupabaseCmd.Flags().StringVar(&importSourceUser, "source-user", "", "User ID in the Supabase tables")
	importSupabaseCmd.Flags().StringVar(&importTargetUser, "target-user", "", "Kith user ID receiving the data")
	importSupabaseCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Count rows without writing")
	importSupabaseCmd.Flags().BoolVar(&importJSON, "json", false, "Print the result as JSON")
	_ = importSupabaseCmd.MarkFlagRequired("source-user")
	_ = importSupabaseCmd.MarkFlagRequired("target-user")
	importSupabaseCmd.MarkFlagsMutuallyExclusive("dsn", "sqlite")

	importCmd.AddCommand(importSupabaseCmd)
	rootCmd.AddCommand(importCmd)
}

// importSource picks the driver and DSN from the flags.
func importSource(dsn, sqlitePath string) (string, string, error) {
	switch {
	case dsn != "" && sqlitePath != "":
		return "", "", errors.New("use either --dsn or --sqlite, not both")
	case dsn != "":
		return importer.DriverPostgres, dsn, nil
	case sqlitePath != "":
		return importer.DriverSQLite, "file:" + sqlitePath + "?mode=ro", nil
	default:
		return "", "", errors.New("one of --dsn or --sqlite is required")
	}
}

func runImportSupabase(cmd *cobra.Command, args []string) error {
	driver, dsn, err := importSource(importDSN, importSQLitePath)
	if err != nil {
		return err
	}
	if err := loadConfig(); err != nil {
		return err
	}

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer db.Close(database)

	src, err := importer.Open(driver, dsn)
	if err != nil {
		return err
	}
	defer src.Close()

	logger.Info().
		Str("driver", driver).
		Str("source_user", importSourceUser).
		Str("target_user", importTargetUser).
		Bool("dry_run", importDryRun).
		Msg("starting supabase import")

	result, err := importer.New(database, logger).Run(context.Background(), src, importer.Options{
		SourceUserID: importSourceUser,
		TargetUserID: importTargetUser,
		DryRun:       importDryRun,
	})
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}

	out := cmd.OutOrStdout()
	if importJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	verb := "Imported"
	if importDryRun {
		verb = "Would import"
	}
	fmt.Fprintf(out, "%s %d events, %d contacts, %d catch-ups (%d skipped)\n",
		verb, result.EventsImported, result.ContactsImported, result.CatchupsImported, result.Skipped)
	for _, w := range result.Warnings {
		fmt.Fprintf(out, "  warning: %s\n", w)
	}
	return nil
}
