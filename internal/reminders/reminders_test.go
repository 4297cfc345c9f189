package reminders

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/kith/internal/contacts"
	"github.com/friendsincode/kith/internal/events"
	"github.com/friendsincode/kith/internal/models"
	"github.com/friendsincode/kith/internal/notifications"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	worker        *Worker
	contacts      *contacts.Service
	notifications *notifications.Service
	bus           *events.Bus
}

func setup(t *testing.T) *fixture {
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
	if err := db.AutoMigrate(&models.Contact{}, &models.Event{}, &models.Notification{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	bus := events.NewBus()
	contactSvc := contacts.NewService(db, bus, nil, zerolog.Nop()).WithClock(func() time.Time { return testNow })
	notificationSvc := notifications.NewService(db, zerolog.Nop())
	return &fixture{
		worker:        NewWorker(db, contactSvc, notificationSvc, bus, 0, zerolog.Nop()),
		contacts:      contactSvc,
		notifications: notificationSvc,
		bus:           bus,
	}
}

func (f *fixture) contact(t *testing.T, userID, name string, hoursAgo float64) *models.Contact {
	t.Helper()
	metAt := testNow.Add(-time.Duration(hoursAgo * float64(time.Hour)))
	c, err := f.contacts.Create(context.Background(), userID, contacts.CreateRequest{Name: name, MetAt: &metAt})
	if err != nil {
		t.Fatalf("Create %s: %v", name, err)
	}
	return c
}

func TestRunOnce_RemindsCriticalAndHighOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	sub := f.bus.Subscribe(events.EventReminderCreated)
	defer f.bus.Unsubscribe(events.EventReminderCreated, sub)

	fresh := f.contact(t, "u1", "Fresh", 2)
	f.contact(t, "u1", "Yesterday", 30)
	f.contact(t, "u1", "Older", 60)
	done := f.contact(t, "u1", "Done", 3)
	if _, err := f.contacts.MarkDone(ctx, "u1", done.ID); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	f.contact(t, "u2", "Other", 1)

	created, err := f.worker.RunOnce(ctx, testNow)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if created != 3 {
		t.Fatalf("created = %d, want 3", created)
	}

	list, total, err := f.notifications.List(ctx, "u1", false, 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 2 {
		t.Fatalf("u1 reminders = %d, want 2", total)
	}
	for _, n := range list {
		if n.ReferenceType != "contact" || n.NotificationType != models.NotificationTypeFollowUpReminder {
			t.Fatalf("notification = %+v", n)
		}
	}

	got := 0
	for got < 3 {
		select {
		case p := <-sub:
			if p.UserID() == "" {
				t.Fatalf("payload without user: %v", p)
			}
			got++
		case <-time.After(time.Second):
			t.Fatalf("received %d reminder events, want 3", got)
		}
	}

	// Same sweep again creates nothing
	created, err = f.worker.RunOnce(ctx, testNow.Add(time.Minute))
	if err != nil || created != 0 {
		t.Fatalf("second sweep created = %d (%v), want 0", created, err)
	}

	// Next day the fresh contact is HIGH but was already reminded since meeting
	created, err = f.worker.RunOnce(ctx, testNow.Add(20*time.Hour))
	if err != nil || created != 0 {
		t.Fatalf("next day created = %d (%v), want 0", created, err)
	}

	latest, err := f.notifications.LatestFor(ctx, "u1", "contact", fresh.ID)
	if err != nil || latest == nil {
		t.Fatalf("LatestFor = %v (%v)", latest, err)
	}
	if latest.Subject != "Follow up with Fresh" {
		t.Fatalf("subject = %q", latest.Subject)
	}
}

func TestLifecycleAnchor(t *testing.T) {
	f := setup(t)
	c := f.contact(t, "u1", "Ada", 10)
	snap := c.Snapshot()
	if !lifecycleAnchor(snap).Equal(c.MetAt) {
		t.Fatalf("anchor = %v, want met_at", lifecycleAnchor(snap))
	}
	followed := testNow.Add(-time.Hour)
	snap.LastFollowUpAt = &followed
	if !lifecycleAnchor(snap).Equal(followed) {
		t.Fatalf("anchor = %v, want %v", lifecycleAnchor(snap), followed)
	}
}

type blockingRunner struct {
	started atomic.Int32
}

func (r *blockingRunner) Run(ctx context.Context) error {
	r.started.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

type fakeElector struct {
	mu      sync.Mutex
	leader  bool
	ch      chan bool
	stopped bool
}

func (e *fakeElector) Start(context.Context) error { return nil }
func (e *fakeElector) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	return nil
}
func (e *fakeElector) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leader
}
func (e *fakeElector) LeaderCh() <-chan bool { return e.ch }

func (e *fakeElector) set(leader bool) {
	e.mu.Lock()
	e.leader = leader
	e.mu.Unlock()
	e.ch <- leader
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLeaderAware_RunsOnlyWhileLeader(t *testing.T) {
	runner := &blockingRunner{}
	elector := &fakeElector{ch: make(chan bool, 1)}
	la := NewLeaderAware(runner, elector, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := la.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if la.Running() {
		t.Fatal("runner started without leadership")
	}

	elector.set(true)
	waitFor(t, "runner start", func() bool { return la.Running() && runner.started.Load() == 1 })
	if !la.IsLeader() {
		t.Fatal("IsLeader = false")
	}

	elector.set(false)
	waitFor(t, "runner stop", func() bool { return !la.Running() })

	elector.set(true)
	waitFor(t, "runner restart", func() bool { return runner.started.Load() == 2 })

	if err := la.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if la.Running() {
		t.Fatal("runner still running after Stop")
	}
	elector.mu.Lock()
	defer elector.mu.Unlock()
	if !elector.stopped {
		t.Fatal("election not stopped")
	}
}
