package planner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/kith/internal/availability"
	"github.com/friendsincode/kith/internal/cache"
	"github.com/friendsincode/kith/internal/calendar"
	"github.com/friendsincode/kith/internal/contacts"
	"github.com/friendsincode/kith/internal/events"
	"github.com/friendsincode/kith/internal/models"
	"github.com/friendsincode/kith/internal/reasoning"
)

// Monday 08:00 UTC
var testNow = time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)

type fixture struct {
	db       *gorm.DB
	bus      *events.Bus
	contacts *contacts.Service
	calendar *calendar.StaticProvider
	planner  *Planner
}

func setup(t *testing.T, withCalendar bool) *fixture {
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
	if err := db.AutoMigrate(&models.Contact{}, &models.Event{}, &models.Catchup{}, &models.Profile{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	f := &fixture{db: db, bus: events.NewBus()}
	f.contacts = contacts.NewService(db, f.bus, nil, zerolog.Nop()).WithClock(func() time.Time { return testNow })

	cfg := Config{
		DB:       db,
		Contacts: f.contacts,
		Bus:      f.bus,
		Options:  availability.DefaultOptions(),
	}
	if withCalendar {
		f.calendar = &calendar.StaticProvider{}
		cfg.Calendar = f.calendar
	}
	f.planner = New(cfg, zerolog.Nop())
	return f
}

func (f *fixture) contact(t *testing.T, name string) *models.Contact {
	t.Helper()
	metAt := testNow.Add(-5 * time.Hour)
	c, err := f.contacts.Create(context.Background(), "u1", contacts.CreateRequest{Name: name, MetAt: &metAt})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return c
}

func TestSuggestSlotsWithoutCalendarIsSuppressed(t *testing.T) {
	f := setup(t, false)
	c := f.contact(t, "Ada")

	plan, err := f.planner.SuggestSlots(context.Background(), "u1", c.ID, testNow)
	if err != nil {
		t.Fatalf("SuggestSlots: %v", err)
	}
	if plan.CalendarAvailable || len(plan.Slots) != 0 || plan.Advice != nil {
		t.Fatalf("plan = %+v, want suppressed", plan)
	}
}

func TestSuggestSlotsSuppressedOnProviderError(t *testing.T) {
	for _, provErr := range []error{calendar.ErrNotConnected, calendar.ErrProvider} {
		t.Run(provErr.Error(), func(t *testing.T) {
			f := setup(t, true)
			f.calendar.Err = provErr
			c := f.contact(t, "Ada")

			plan, err := f.planner.SuggestSlots(context.Background(), "u1", c.ID, testNow)
			if err != nil {
				t.Fatalf("SuggestSlots: %v", err)
			}
			if plan.CalendarAvailable || len(plan.Slots) != 0 {
				t.Fatalf("plan = %+v, want suppressed", plan)
			}
		})
	}
}

func TestSuggestSlotsComputesAndExplains(t *testing.T) {
	f := setup(t, true)
	f.calendar.Busy = []availability.BusyInterval{
		{Start: testNow.Add(2 * time.Hour), End: testNow.Add(4 * time.Hour), Label: "Team sync"}, // 10:00-12:00
	}
	c := f.contact(t, "Ada")

	plan, err := f.planner.SuggestSlots(context.Background(), "u1", c.ID, testNow)
	if err != nil {
		t.Fatalf("SuggestSlots: %v", err)
	}
	if !plan.CalendarAvailable {
		t.Fatal("calendar should be available")
	}
	if len(plan.Slots) == 0 {
		t.Fatal("expected slots")
	}
	// Today starts at now+1h (09:00) and the sync blocks 10:00-12:00
	first := plan.Slots[0]
	if !first.Start.Equal(testNow.Add(time.Hour)) || first.DurationMinutes != 60 {
		t.Fatalf("first slot = %+v", first)
	}
	if plan.Advice == nil || plan.Advice.CalendarSummary != reasoning.FallbackCalendarSummary {
		t.Fatalf("advice = %+v", plan.Advice)
	}

	if _, err := f.planner.SuggestSlots(context.Background(), "u2", c.ID, testNow); !errors.Is(err, contacts.ErrNotFound) {
		t.Fatalf("other user err = %v, want ErrNotFound", err)
	}
}

type memoryAvailabilityCache struct {
	entries map[string]*cache.CachedAvailability
}

func (m *memoryAvailabilityCache) GetAvailability(_ context.Context, userID string, opts availability.Options) (*cache.CachedAvailability, bool) {
	cached, ok := m.entries[userID]
	if !ok || cached.Options != opts {
		return nil, false
	}
	return cached, true
}

func (m *memoryAvailabilityCache) SetAvailability(_ context.Context, userID string, cached *cache.CachedAvailability) error {
	m.entries[userID] = cached
	return nil
}

func TestSuggestSlotsRecomputesNoticeOnCacheHit(t *testing.T) {
	f := setup(t, true)
	store := &memoryAvailabilityCache{entries: map[string]*cache.CachedAvailability{}}
	f.planner.cache = store
	c := f.contact(t, "Ada")

	warmAt := testNow.Add(59 * time.Minute) // 08:59
	plan, err := f.planner.SuggestSlots(context.Background(), "u1", c.ID, warmAt)
	if err != nil {
		t.Fatalf("SuggestSlots: %v", err)
	}
	if len(plan.Slots) == 0 || !plan.Slots[0].Start.Equal(warmAt.Add(time.Hour)) {
		t.Fatalf("warm slots = %+v", plan.Slots)
	}
	if _, ok := store.entries["u1"]; !ok {
		t.Fatal("busy intervals were not cached")
	}

	// A later call must be served from the cache, not the calendar
	f.calendar.Err = calendar.ErrProvider
	later := testNow.Add(63 * time.Minute) // 09:03
	plan, err = f.planner.SuggestSlots(context.Background(), "u1", c.ID, later)
	if err != nil {
		t.Fatalf("SuggestSlots: %v", err)
	}
	if !plan.CalendarAvailable || len(plan.Slots) == 0 {
		t.Fatalf("plan = %+v, want slots from cache", plan)
	}
	if first := plan.Slots[0]; first.Start.Before(later.Add(time.Hour)) {
		t.Fatalf("first slot starts %v, want no earlier than %v", first.Start, later.Add(time.Hour))
	}
	for _, slot := range plan.Slots {
		if slot.Start.Before(later) {
			t.Fatalf("slot %+v starts before now", slot)
		}
	}
}

func TestScheduleCatchup(t *testing.T) {
	f := setup(t, true)
	ada := f.contact(t, "Ada")
	bob := f.contact(t, "Bob")
	sub := f.bus.Subscribe(events.EventCatchupScheduled)
	defer f.bus.Unsubscribe(events.EventCatchupScheduled, sub)

	res, err := f.planner.ScheduleCatchup(context.Background(), "u1", ScheduleRequest{
		ContactIDs:  []string{ada.ID, bob.ID},
		ScheduledAt: testNow.Add(30 * time.Hour),
		PlaceName:   "Cafe Central",
		Recurrence:  "RRULE:FREQ=MONTHLY;COUNT=3",
	}, testNow)
	if err != nil {
		t.Fatalf("ScheduleCatchup: %v", err)
	}
	if res.Catchup.DurationMinutes != 60 || res.Catchup.Recurrence != "FREQ=MONTHLY;COUNT=3" {
		t.Fatalf("catchup = %+v", res.Catchup)
	}
	if res.CalendarEvent == nil || res.Catchup.GoogleEventID == "" {
		t.Fatalf("calendar event missing: %+v", res)
	}
	if len(f.calendar.Created) != 1 || f.calendar.Created[0].ContactName != "Ada, Bob" {
		t.Fatalf("created = %+v", f.calendar.Created)
	}

	for _, id := range []string{ada.ID, bob.ID} {
		c, err := f.contacts.Get(context.Background(), "u1", id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if c.FollowedUpAt == nil || !c.FollowedUpAt.Equal(testNow) {
			t.Fatalf("contact %s followed_up_at = %v", c.Name, c.FollowedUpAt)
		}
	}

	select {
	case p := <-sub:
		if p["catchup_id"] != res.Catchup.ID {
			t.Fatalf("payload = %v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("no catchup.scheduled event")
	}

	occ, err := f.planner.Occurrences(context.Background(), "u1", res.Catchup.ID, testNow, 10)
	if err != nil {
		t.Fatalf("Occurrences: %v", err)
	}
	if len(occ) != 3 || !occ[1].Equal(res.Catchup.ScheduledAt.AddDate(0, 1, 0)) {
		t.Fatalf("occurrences = %v", occ)
	}
}

func TestScheduleCatchupCalendarFailureIsBestEffort(t *testing.T) {
	f := setup(t, true)
	f.calendar.Err = calendar.ErrNotConnected
	ada := f.contact(t, "Ada")

	res, err := f.planner.ScheduleCatchup(context.Background(), "u1", ScheduleRequest{
		ContactIDs:  []string{ada.ID},
		ScheduledAt: testNow.Add(30 * time.Hour),
	}, testNow)
	if err != nil {
		t.Fatalf("ScheduleCatchup: %v", err)
	}
	if res.CalendarEvent != nil || res.CalendarError == "" {
		t.Fatalf("result = %+v", res)
	}

	list, err := f.planner.ListCatchups(context.Background(), "u1", models.CatchupPlanned)
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %v err = %v", list, err)
	}
}

func TestScheduleCatchupValidation(t *testing.T) {
	f := setup(t, false)
	ada := f.contact(t, "Ada")
	at := testNow.Add(time.Hour)

	tests := []struct {
		name string
		req  ScheduleRequest
		want error
	}{
		{"no contacts", ScheduleRequest{ScheduledAt: at}, ErrInvalidRequest},
		{"no time", ScheduleRequest{ContactIDs: []string{ada.ID}}, ErrInvalidRequest},
		{"too long", ScheduleRequest{ContactIDs: []string{ada.ID}, ScheduledAt: at, DurationMinutes: 600}, ErrInvalidRequest},
		{"bad rrule", ScheduleRequest{ContactIDs: []string{ada.ID}, ScheduledAt: at, Recurrence: "FREQ=SOMETIMES"}, ErrInvalidRequest},
		{"unknown contact", ScheduleRequest{ContactIDs: []string{"missing"}, ScheduledAt: at}, contacts.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.planner.ScheduleCatchup(context.Background(), "u1", tt.req, testNow); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNextOccurrences(t *testing.T) {
	start := time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		rule  string
		after time.Time
		n     int
		want  int
	}{
		{"weekly from before start", "FREQ=WEEKLY;COUNT=3", start.Add(-time.Hour), 10, 3},
		{"weekly after first", "FREQ=WEEKLY;COUNT=3", start, 10, 2},
		{"limited by n", "FREQ=DAILY", start.Add(-time.Hour), 4, 4},
		{"one-off upcoming", "", start.Add(-time.Hour), 5, 1},
		{"one-off past", "", start.Add(time.Hour), 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextOccurrences(tt.rule, start, tt.after, tt.n)
			if err != nil {
				t.Fatalf("NextOccurrences: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("len = %d, want %d (%v)", len(got), tt.want, got)
			}
			for _, occ := range got {
				if !occ.After(tt.after) {
					t.Fatalf("occurrence %v not after %v", occ, tt.after)
				}
			}
		})
	}
}
