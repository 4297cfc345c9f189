package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/kith/internal/events"
	"github.com/friendsincode/kith/internal/models"
)

func setupService(t *testing.T) *Service {
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
	if err := db.AutoMigrate(&models.Notification{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewService(db, zerolog.Nop())
}

func TestSend_InAppMarkedSentAndDeduplicated(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()
	key := "contact:c1:2026-03-10"

	n := &models.Notification{UserID: "u1", NotificationType: models.NotificationTypeFollowUpReminder, Body: "hi", DedupKey: &key}
	if err := svc.Send(ctx, n); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n.Status != models.NotificationStatusSent || n.SentAt == nil || n.Channel != models.NotificationChannelInApp {
		t.Fatalf("notification = %+v", n)
	}

	dup := &models.Notification{UserID: "u1", NotificationType: models.NotificationTypeFollowUpReminder, Body: "hi", DedupKey: &key}
	if err := svc.Send(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func TestListAndMarkRead(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		n := &models.Notification{UserID: "u1", NotificationType: models.NotificationTypeFollowUpReminder, Body: "x", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := svc.Send(ctx, n); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if err := svc.Send(ctx, &models.Notification{UserID: "u2", NotificationType: models.NotificationTypeFollowUpReminder, Body: "other"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	list, total, err := svc.List(ctx, "u1", false, 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 3 || len(list) != 3 {
		t.Fatalf("total = %d len = %d, want 3", total, len(list))
	}
	if !list[0].CreatedAt.After(list[2].CreatedAt) {
		t.Fatal("expected newest first")
	}

	if err := svc.MarkAsRead(ctx, list[0].ID, "u2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-user read err = %v, want ErrNotFound", err)
	}
	if err := svc.MarkAsRead(ctx, list[0].ID, "u1"); err != nil {
		t.Fatalf("MarkAsRead: %v", err)
	}
	count, err := svc.UnreadCount(ctx, "u1")
	if err != nil || count != 2 {
		t.Fatalf("unread = %d (%v), want 2", count, err)
	}

	if err := svc.MarkAllAsRead(ctx, "u1"); err != nil {
		t.Fatalf("MarkAllAsRead: %v", err)
	}
	unread, _, err := svc.List(ctx, "u1", true, 10, 0)
	if err != nil || len(unread) != 0 {
		t.Fatalf("unread list = %d (%v), want 0", len(unread), err)
	}
}

func TestStart_TurnsEventsIntoNotifications(t *testing.T) {
	svc := setupService(t)
	bus := events.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Start(ctx, bus)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount(events.EventShareAccepted) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("service never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	bus.Publish(events.EventCatchupScheduled, events.Payload{
		"user_id":      "u1",
		"catchup_id":   "cu1",
		"scheduled_at": "2026-03-11T15:00:00Z",
	})
	bus.Publish(events.EventShareAccepted, events.Payload{
		"user_id":          "u1",
		"share_id":         "s1",
		"accepted_by_name": "Grace",
	})

	for {
		_, total, err := svc.List(context.Background(), "u1", false, 10, 0)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if total == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("total = %d, want 2", total)
		}
		time.Sleep(5 * time.Millisecond)
	}

	latest, err := svc.LatestFor(context.Background(), "u1", "share", "s1")
	if err != nil || latest == nil {
		t.Fatalf("LatestFor = %v (%v)", latest, err)
	}
	if latest.Body != "Grace saved your profile." {
		t.Fatalf("body = %q", latest.Body)
	}

	cancel()
	<-done
	if svc.Running() {
		t.Fatal("service still running after cancel")
	}
}
