/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package importer copies a user's data out of the hosted Supabase app into Kith.
package importer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/kith/internal/followup"
	"github.com/friendsincode/kith/internal/models"
)

// Source drivers understood by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

var (
	// ErrMissingUser is returned when the source or target user is not given.
	ErrMissingUser = errors.New("source and target user are required")

	// ErrTargetUserNotFound is returned when the Kith account does not exist.
	ErrTargetUserNotFound = errors.New("target user not found")
)

// Options selects whose data is imported and where it lands.
type Options struct {
	SourceUserID string // user_id in the Supabase tables
	TargetUserID string // Kith account that receives the rows
	DryRun       bool
}

// Result counts what an import did, or would do on a dry run.
type Result struct {
	EventsImported   int      `json:"events_imported"`
	ContactsImported int      `json:"contacts_imported"`
	CatchupsImported int      `json:"catchups_imported"`
	Skipped          int      `json:"skipped"`
	Warnings         []string `json:"warnings,omitempty"`
}

// Importer reads the Supabase schema from a database/sql handle and writes Kith models.
type Importer struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// New creates an importer writing into db.
func New(db *gorm.DB, logger zerolog.Logger) *Importer {
	return &Importer{
		db:     db,
		logger: logger.With().Str("component", "importer").Logger(),
	}
}

// Open connects to a Supabase Postgres database or a SQLite snapshot of it.
func Open(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported source driver %q", driver)
	}
	src, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := src.PingContext(ctx); err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("ping source: %w", err)
	}
	return src, nil
}

// Run imports events, contacts and catch-ups in that order. Rows whose IDs already exist are
// skipped, so an import can be repeated safely.
func (im *Importer) Run(ctx context.Context, src *sql.DB, opts Options) (*Result, error) {
	if strings.TrimSpace(opts.SourceUserID) == "" || strings.TrimSpace(opts.TargetUserID) == "" {
		return nil, ErrMissingUser
	}
	var user models.User
	if err := im.db.WithContext(ctx).Select("id").First(&user, "id = ?", opts.TargetUserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTargetUserNotFound
		}
		return nil, fmt.Errorf("load target user: %w", err)
	}

	evs, err := readEvents(ctx, src, opts)
	if err != nil {
		return nil, err
	}
	cs, warnings, err := readContacts(ctx, src, opts)
	if err != nil {
		return nil, err
	}
	cus, err := readCatchups(ctx, src, opts)
	if err != nil {
		return nil, err
	}

	result := &Result{Warnings: warnings}
	if opts.DryRun {
		result.EventsImported = len(evs)
		result.ContactsImported = len(cs)
		result.CatchupsImported = len(cus)
		return result, nil
	}

	err = im.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range evs {
			n, err := insertNew(tx, &evs[i])
			if err != nil {
				return fmt.Errorf("insert event %s: %w", evs[i].ID, err)
			}
			result.EventsImported += n
			result.Skipped += 1 - n
		}
		for i := range cs {
			n, err := insertNew(tx, &cs[i])
			if err != nil {
				return fmt.Errorf("insert contact %s: %w", cs[i].ID, err)
			}
			result.ContactsImported += n
			result.Skipped += 1 - n
		}
		for i := range cus {
			n, err := insertNew(tx, &cus[i])
			if err != nil {
				return fmt.Errorf("insert catchup %s: %w", cus[i].ID, err)
			}
			result.CatchupsImported += n
			result.Skipped += 1 - n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	im.logger.Info().
		Str("target_user", opts.TargetUserID).
		Int("events", result.EventsImported).
		Int("contacts", result.ContactsImported).
		Int("catchups", result.CatchupsImported).
		Int("skipped", result.Skipped).
		Msg("supabase import complete")
	return result, nil
}

// insertNew creates value unless its primary key exists and reports how many rows were written.
func insertNew(tx *gorm.DB, value any) (int, error) {
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(value)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

func readEvents(ctx context.Context, src *sql.DB, opts Options) ([]models.Event, error) {
	rows, err := src.QueryContext(ctx,
		`SELECT id, name, event_date, event_type, location, created_at FROM events WHERE user_id = $1 ORDER BY event_date`,
		opts.SourceUserID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var (
			id, name             string
			eventDate, createdAt sql.NullString
			eventType, location  sql.NullString
		)
		if err := rows.Scan(&id, &name, &eventDate, &eventType, &location, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		date, err := parseTime(eventDate)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", id, err)
		}
		created, _ := parseTime(createdAt)
		out = append(out, models.Event{
			ID:        id,
			UserID:    opts.TargetUserID,
			Name:      name,
			EventDate: derefOr(date, time.Time{}),
			EventType: eventType.String,
			Location:  location.String,
			CreatedAt: derefOr(created, time.Now().UTC()),
		})
	}
	return out, rows.Err()
}

func readContacts(ctx context.Context, src *sql.DB, opts Options) ([]models.Contact, []string, error) {
	rows, err := src.QueryContext(ctx,
		`SELECT id, name, context, phone, linkedin_url, event_id, met_at, followed_up_at, is_snoozed,
		        snoozed_until, is_done, last_catchup, reminder_days, created_at
		   FROM contacts WHERE user_id = $1 ORDER BY created_at`,
		opts.SourceUserID)
	if err != nil {
		return nil, nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	var (
		out      []models.Contact
		warnings []string
	)
	for rows.Next() {
		var (
			id, name                                       string
			contextText, phone, linkedIn, eventID          sql.NullString
			metAt, followedUpAt, snoozedUntil, lastCatchup sql.NullString
			createdAt                                      sql.NullString
			isSnoozed, isDone                              sql.NullBool
			reminderDays                                   sql.NullInt64
		)
		if err := rows.Scan(&id, &name, &contextText, &phone, &linkedIn, &eventID, &metAt, &followedUpAt,
			&isSnoozed, &snoozedUntil, &isDone, &lastCatchup, &reminderDays, &createdAt); err != nil {
			return nil, nil, fmt.Errorf("scan contact: %w", err)
		}

		times := make([]*time.Time, 5)
		for i, raw := range []sql.NullString{metAt, followedUpAt, snoozedUntil, lastCatchup, createdAt} {
			t, err := parseTime(raw)
			if err != nil {
				return nil, nil, fmt.Errorf("contact %s: %w", id, err)
			}
			times[i] = t
		}
		created := derefOr(times[4], time.Now().UTC())

		// met_at was optional in the hosted app; created_at is the closest stand-in
		met := times[0]
		if met == nil {
			met = &created
			warnings = append(warnings, fmt.Sprintf("contact %s has no met_at, using created_at", id))
		}

		days := int(reminderDays.Int64)
		if !reminderDays.Valid || days <= 0 {
			days = followup.DefaultReminderIntervalDays
		}

		c := models.Contact{
			ID:           id,
			UserID:       opts.TargetUserID,
			Name:         name,
			Context:      contextText.String,
			Phone:        phone.String,
			LinkedIn:     linkedIn.String,
			Source:       models.ContactSourceImport,
			MetAt:        met.UTC(),
			FollowedUpAt: times[1],
			IsSnoozed:    isSnoozed.Bool,
			SnoozedUntil: times[2],
			IsDone:       isDone.Bool,
			LastCatchup:  times[3],
			ReminderDays: days,
			CreatedAt:    created,
		}
		if eventID.Valid && eventID.String != "" {
			ev := eventID.String
			c.EventID = &ev
		}
		out = append(out, c)
	}
	return out, warnings, rows.Err()
}

func readCatchups(ctx context.Context, src *sql.DB, opts Options) ([]models.Catchup, error) {
	rows, err := src.QueryContext(ctx,
		`SELECT id, contact_ids, message, place_name, place_type, scheduled_at, status, created_at
		   FROM catchups WHERE user_id = $1 ORDER BY created_at`,
		opts.SourceUserID)
	if err != nil {
		return nil, fmt.Errorf("query catchups: %w", err)
	}
	defer rows.Close()

	var out []models.Catchup
	for rows.Next() {
		var (
			id                                   string
			contactIDs                           sql.NullString
			message, placeName, placeType, state sql.NullString
			scheduledAt, createdAt               sql.NullString
		)
		if err := rows.Scan(&id, &contactIDs, &message, &placeName, &placeType, &scheduledAt, &state, &createdAt); err != nil {
			return nil, fmt.Errorf("scan catchup: %w", err)
		}
		ids, err := parseIDList(contactIDs.String)
		if err != nil {
			return nil, fmt.Errorf("catchup %s: %w", id, err)
		}
		scheduled, err := parseTime(scheduledAt)
		if err != nil {
			return nil, fmt.Errorf("catchup %s: %w", id, err)
		}
		created, _ := parseTime(createdAt)

		status := models.CatchupStatus(strings.ToLower(state.String))
		switch status {
		case models.CatchupPlanned, models.CatchupCompleted, models.CatchupCancelled:
		default:
			status = models.CatchupPlanned
		}

		out = append(out, models.Catchup{
			ID:          id,
			UserID:      opts.TargetUserID,
			ContactIDs:  ids,
			Message:     message.String,
			PlaceName:   placeName.String,
			PlaceType:   placeType.String,
			ScheduledAt: derefOr(scheduled, time.Time{}),
			Status:      status,
			CreatedAt:   derefOr(created, time.Now().UTC()),
		})
	}
	return out, rows.Err()
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// parseTime accepts the timestamp renderings Postgres and SQLite snapshots produce.
// NULL and empty values yield nil.
func parseTime(raw sql.NullString) (*time.Time, error) {
	s := strings.TrimSpace(raw.String)
	if !raw.Valid || s == "" {
		return nil, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized timestamp %q", s)
}

// parseIDList reads a Postgres array literal ({a,b}) or a JSON array.
func parseIDList(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "{}" {
		return []string{}, nil
	}
	var ids []string
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			return nil, fmt.Errorf("contact_ids: %w", err)
		}
	} else {
		for _, part := range strings.Split(strings.Trim(raw, "{}"), ",") {
			ids = append(ids, strings.Trim(strings.TrimSpace(part), `"`))
		}
	}
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("contact_ids: invalid id %q", id)
		}
	}
	return ids, nil
}

func derefOr(t *time.Time, def time.Time) time.Time {
	if t == nil {
		return def
	}
	return *t
}
