package sharing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/kith/internal/contacts"
	"github.com/friendsincode/kith/internal/events"
	"github.com/friendsincode/kith/internal/models"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func setupService(t *testing.T) (*Service, *gorm.DB, *events.Bus) {
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
	if err := db.AutoMigrate(&models.Profile{}, &models.Contact{}, &models.Event{}, &models.SharedProfile{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	profiles := []models.Profile{
		{UserID: "owner", Name: "Ada Lovelace", City: "London", Phone: "+44 1", LinkedIn: "https://linkedin.com/in/ada"},
		{UserID: "friend", Name: "Grace"},
		{UserID: "blank"},
	}
	if err := db.Create(&profiles).Error; err != nil {
		t.Fatalf("seed profiles: %v", err)
	}

	bus := events.NewBus()
	contactSvc := contacts.NewService(db, bus, nil, zerolog.Nop()).WithClock(func() time.Time { return testNow })
	return NewService(db, contactSvc, bus, "https://kith.example/", zerolog.Nop()), db, bus
}

func TestCreateAndResolve(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	share, err := svc.Create(ctx, "owner", testNow)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(share.ShareCode) != CodeLength || strings.ToUpper(share.ShareCode) != share.ShareCode {
		t.Fatalf("code = %q", share.ShareCode)
	}
	if !share.ExpiresAt.Equal(testNow.Add(ShareTTL)) {
		t.Fatalf("expires_at = %v", share.ExpiresAt)
	}
	if got := svc.Link(share.ShareCode); got != "https://kith.example/receive/"+share.ShareCode {
		t.Fatalf("link = %q", got)
	}

	resolved, err := svc.Resolve(ctx, strings.ToLower(share.ShareCode), testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Name != "Ada Lovelace" || resolved.City != "London" {
		t.Fatalf("resolved = %+v", resolved)
	}

	tests := []struct {
		name string
		code string
		at   time.Time
		want error
	}{
		{"unknown", "ZZZZZZZZ", testNow, ErrShareNotFound},
		{"empty", "  ", testNow, ErrShareNotFound},
		{"at expiry", share.ShareCode, testNow.Add(ShareTTL), ErrShareExpired},
		{"after expiry", share.ShareCode, testNow.Add(48 * time.Hour), ErrShareExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Resolve(ctx, tt.code, tt.at); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCreate_RequiresProfileName(t *testing.T) {
	svc, _, _ := setupService(t)
	for _, user := range []string{"blank", "missing"} {
		if _, err := svc.Create(context.Background(), user, testNow); !errors.Is(err, ErrProfileIncomplete) {
			t.Fatalf("%s: err = %v, want ErrProfileIncomplete", user, err)
		}
	}
}

func TestAccept(t *testing.T) {
	svc, db, bus := setupService(t)
	ctx := context.Background()
	sub := bus.Subscribe(events.EventShareAccepted)
	defer bus.Unsubscribe(events.EventShareAccepted, sub)

	share, err := svc.Create(ctx, "owner", testNow)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := svc.Accept(ctx, share.ShareCode, "owner", testNow); !errors.Is(err, ErrOwnShare) {
		t.Fatalf("own accept err = %v, want ErrOwnShare", err)
	}

	acceptAt := testNow.Add(2 * time.Hour)
	contact, err := svc.Accept(ctx, share.ShareCode, "friend", acceptAt)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if contact.UserID != "friend" || contact.Name != "Ada Lovelace" || contact.Source != models.ContactSourceShare {
		t.Fatalf("contact = %+v", contact)
	}
	if !contact.MetAt.Equal(acceptAt) || contact.Context != SharedContext {
		t.Fatalf("met_at = %v context = %q", contact.MetAt, contact.Context)
	}

	var stored models.SharedProfile
	if err := db.First(&stored, "id = ?", share.ID).Error; err != nil {
		t.Fatalf("load share: %v", err)
	}
	if stored.Accepted != 1 {
		t.Fatalf("accepted = %d, want 1", stored.Accepted)
	}

	select {
	case p := <-sub:
		if p.UserID() != "owner" || p["accepted_by_name"] != "Grace" {
			t.Fatalf("payload = %v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("no share.accepted event")
	}

	if _, err := svc.Accept(ctx, share.ShareCode, "friend", testNow.Add(25*time.Hour)); !errors.Is(err, ErrShareExpired) {
		t.Fatalf("late accept err = %v, want ErrShareExpired", err)
	}
}
