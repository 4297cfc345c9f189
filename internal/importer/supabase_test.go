package importer

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/kith/internal/models"
)

const (
	sourceUser = "0b5c8f4e-1111-4c1e-9a53-000000000001"
	targetUser = "7d1e2f3a-2222-4c1e-9a53-000000000002"
	eventID    = "e0000000-0000-4000-8000-000000000001"
	contactA   = "c0000000-0000-4000-8000-00000000000a"
	contactB   = "c0000000-0000-4000-8000-00000000000b"
	catchupID  = "d0000000-0000-4000-8000-000000000001"
)

var snapshotSchema = []string{
	`CREATE TABLE events (id TEXT PRIMARY KEY, user_id TEXT, name TEXT, event_date TIMESTAMP,
		event_type TEXT, location TEXT, created_at TIMESTAMP, updated_at TIMESTAMP)`,
	`CREATE TABLE contacts (id TEXT PRIMARY KEY, user_id TEXT, name TEXT, context TEXT, phone TEXT,
		linkedin_url TEXT, event_id TEXT, met_at TIMESTAMP, followed_up_at TIMESTAMP, is_snoozed BOOLEAN,
		snoozed_until TIMESTAMP, is_done BOOLEAN, last_catchup TIMESTAMP, reminder_days INTEGER,
		created_at TIMESTAMP, updated_at TIMESTAMP)`,
	`CREATE TABLE catchups (id TEXT PRIMARY KEY, user_id TEXT, contact_ids TEXT, message TEXT,
		place_name TEXT, place_type TEXT, scheduled_at TIMESTAMP, status TEXT, created_at TIMESTAMP)`,
}

func openSnapshot(t *testing.T) *sql.DB {
	t.Helper()
	src, err := sql.Open(DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	src.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = src.Close() })

	for _, stmt := range snapshotSchema {
		if _, err := src.Exec(stmt); err != nil {
			t.Fatalf("schema: %v", err)
		}
	}

	seed := []struct {
		query string
		args  []any
	}{
		{`INSERT INTO events (id, user_id, name, event_date, event_type, location, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			[]any{eventID, sourceUser, "GopherCon", "2026-03-01 18:00:00", "conference", "Berlin", "2026-03-01 17:00:00"}},
		{`INSERT INTO contacts (id, user_id, name, context, linkedin_url, event_id, met_at, is_snoozed, is_done, reminder_days, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			[]any{contactA, sourceUser, "Grace", "Compilers", "https://linkedin.com/in/grace", eventID, "2026-03-01T19:30:00Z", 0, 0, 7, "2026-03-01 19:31:00"}},
		{`INSERT INTO contacts (id, user_id, name, followed_up_at, is_snoozed, is_done, reminder_days, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			[]any{contactB, sourceUser, "Linus", "2026-03-03 09:00:00", 1, 1, nil, "2026-03-02 10:00:00"}},
		{`INSERT INTO contacts (id, user_id, name, created_at) VALUES (?, ?, ?, ?)`,
			[]any{"c0000000-0000-4000-8000-0000000000ff", "someone-else", "Not mine", "2026-03-02 10:00:00"}},
		{`INSERT INTO catchups (id, user_id, contact_ids, place_name, scheduled_at, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			[]any{catchupID, sourceUser, "{" + contactA + "," + contactB + "}", "Cafe", "2026-03-05 12:00:00", "Completed", "2026-03-02 11:00:00"}},
	}
	for _, s := range seed {
		if _, err := src.Exec(s.query, s.args...); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return src
}

func openTarget(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.User{}, &models.Event{}, &models.Contact{}, &models.Catchup{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.Create(&models.User{ID: targetUser, Email: "ada@example.com", Password: "x"}).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return db
}

func TestRun_ImportsSnapshot(t *testing.T) {
	src := openSnapshot(t)
	db := openTarget(t)
	im := New(db, zerolog.Nop())
	ctx := context.Background()
	opts := Options{SourceUserID: sourceUser, TargetUserID: targetUser}

	result, err := im.Run(ctx, src, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.EventsImported != 1 || result.ContactsImported != 2 || result.CatchupsImported != 1 {
		t.Fatalf("result = %+v", result)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("warnings = %v, want one for the missing met_at", result.Warnings)
	}

	var grace models.Contact
	if err := db.First(&grace, "id = ?", contactA).Error; err != nil {
		t.Fatalf("load contact: %v", err)
	}
	if grace.UserID != targetUser || grace.Source != models.ContactSourceImport || grace.ReminderDays != 7 {
		t.Fatalf("grace = %+v", grace)
	}
	if grace.EventID == nil || *grace.EventID != eventID {
		t.Fatalf("event_id = %v", grace.EventID)
	}
	if want := time.Date(2026, 3, 1, 19, 30, 0, 0, time.UTC); !grace.MetAt.Equal(want) {
		t.Fatalf("met_at = %v, want %v", grace.MetAt, want)
	}

	var linus models.Contact
	if err := db.First(&linus, "id = ?", contactB).Error; err != nil {
		t.Fatalf("load contact: %v", err)
	}
	if !linus.IsDone || !linus.IsSnoozed || linus.FollowedUpAt == nil || linus.ReminderDays != 14 {
		t.Fatalf("linus = %+v", linus)
	}
	if want := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC); !linus.MetAt.Equal(want) {
		t.Fatalf("met_at = %v, want created_at %v", linus.MetAt, want)
	}

	var catchup models.Catchup
	if err := db.First(&catchup, "id = ?", catchupID).Error; err != nil {
		t.Fatalf("load catchup: %v", err)
	}
	if len(catchup.ContactIDs) != 2 || catchup.Status != models.CatchupCompleted {
		t.Fatalf("catchup = %+v", catchup)
	}

	// A second run skips everything already present
	again, err := im.Run(ctx, src, opts)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if again.ContactsImported != 0 || again.Skipped != 4 {
		t.Fatalf("second result = %+v", again)
	}
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	src := openSnapshot(t)
	db := openTarget(t)

	result, err := New(db, zerolog.Nop()).Run(context.Background(), src, Options{SourceUserID: sourceUser, TargetUserID: targetUser, DryRun: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ContactsImported != 2 {
		t.Fatalf("result = %+v", result)
	}
	var count int64
	db.Model(&models.Contact{}).Count(&count)
	if count != 0 {
		t.Fatalf("contacts = %d, want 0", count)
	}
}

func TestRun_RequiresUsers(t *testing.T) {
	src := openSnapshot(t)
	im := New(openTarget(t), zerolog.Nop())

	tests := []struct {
		name string
		opts Options
		want error
	}{
		{"no source", Options{TargetUserID: targetUser}, ErrMissingUser},
		{"no target", Options{SourceUserID: sourceUser}, ErrMissingUser},
		{"unknown target", Options{SourceUserID: sourceUser, TargetUserID: "00000000-0000-4000-8000-000000000000"}, ErrTargetUserNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := im.Run(context.Background(), src, tt.opts); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseIDList(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"", 0, false},
		{"{}", 0, false},
		{"{" + contactA + "}", 1, false},
		{`["` + contactA + `","` + contactB + `"]`, 2, false},
		{"{not-a-uuid}", 0, true},
	}
	for _, tt := range tests {
		ids, err := parseIDList(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Fatalf("parseIDList(%q) err = %v", tt.raw, err)
		}
		if err == nil && len(ids) != tt.want {
			t.Fatalf("parseIDList(%q) = %v, want %d ids", tt.raw, ids, tt.want)
		}
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		raw   sql.NullString
		want  time.Time
		isNil bool
	}{
		{sql.NullString{}, time.Time{}, true},
		{sql.NullString{String: " ", Valid: true}, time.Time{}, true},
		{sql.NullString{String: "2026-03-01T19:30:00+01:00", Valid: true}, time.Date(2026, 3, 1, 18, 30, 0, 0, time.UTC), false},
		{sql.NullString{String: "2026-03-01 19:30:00.123456+00", Valid: true}, time.Date(2026, 3, 1, 19, 30, 0, 123456000, time.UTC), false},
		{sql.NullString{String: "2026-03-01", Valid: true}, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		got, err := parseTime(tt.raw)
		if err != nil {
			t.Fatalf("parseTime(%q): %v", tt.raw.String, err)
		}
		if tt.isNil {
			if got != nil {
				t.Fatalf("parseTime(%q) = %v, want nil", tt.raw.String, got)
			}
			continue
		}
		if got == nil || !got.Equal(tt.want) {
			t.Fatalf("parseTime(%q) = %v, want %v", tt.raw.String, got, tt.want)
		}
	}
	if _, err := parseTime(sql.NullString{String: "yesterday", Valid: true}); err == nil {
		t.Fatal("expected error for unparseable timestamp")
	}
}
