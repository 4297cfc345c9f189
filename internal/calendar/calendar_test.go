package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/kith/internal/availability"
	"github.com/friendsincode/kith/internal/models"
)

func setupStore(t *testing.T) *DBTokenStore {
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
	if err := db.AutoMigrate(&models.CalendarConnection{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewTokenStore(db, ProviderGoogle)
}

func TestMapEvents(t *testing.T) {
	items := []RawEvent{
		{ID: "a", Summary: "Standup", Start: EventTime{DateTime: "2026-03-10T09:00:00Z"}, End: EventTime{DateTime: "2026-03-10T09:30:00Z"}},
		{ID: "b", Status: "cancelled", Start: EventTime{DateTime: "2026-03-10T10:00:00Z"}, End: EventTime{DateTime: "2026-03-10T11:00:00Z"}},
		{ID: "c", Summary: "Offsite", Start: EventTime{Date: "2026-03-11"}, End: EventTime{Date: "2026-03-12"}},
	}

	busy, err := MapEvents(items, time.UTC)
	if err != nil {
		t.Fatalf("MapEvents: %v", err)
	}
	if len(busy) != 2 {
		t.Fatalf("len(busy) = %d, want 2", len(busy))
	}
	if busy[0].Label != "Standup" || !busy[0].End.Equal(time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)) {
		t.Fatalf("busy[0] = %+v", busy[0])
	}
	if !busy[1].Start.Equal(time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)) || busy[1].End.Sub(busy[1].Start) != 24*time.Hour {
		t.Fatalf("all-day busy = %+v", busy[1])
	}
}

func TestMapEventsRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		item RawEvent
	}{
		{"end before start", RawEvent{Start: EventTime{DateTime: "2026-03-10T10:00:00Z"}, End: EventTime{DateTime: "2026-03-10T09:00:00Z"}}},
		{"bad timestamp", RawEvent{Start: EventTime{DateTime: "tomorrow"}, End: EventTime{DateTime: "2026-03-10T09:00:00Z"}}},
		{"missing end", RawEvent{Start: EventTime{DateTime: "2026-03-10T09:00:00Z"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := MapEvents([]RawEvent{tt.item}, nil); !errors.Is(err, availability.ErrMalformedInput) {
				t.Fatalf("err = %v, want ErrMalformedInput", err)
			}
		})
	}
}

func TestEventRequestValidate(t *testing.T) {
	start := time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		req     EventRequest
		wantErr bool
	}{
		{"defaults duration", EventRequest{ContactName: "Ada", Start: start}, false},
		{"too short", EventRequest{ContactName: "Ada", Start: start, DurationMinutes: 10}, true},
		{"too long", EventRequest{ContactName: "Ada", Start: start, DurationMinutes: 481}, true},
		{"no name", EventRequest{Start: start}, true},
		{"no start", EventRequest{ContactName: "Ada"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && tt.req.DurationMinutes != DefaultEventMinutes {
				t.Fatalf("duration = %d", tt.req.DurationMinutes)
			}
		})
	}
}

func TestTokenStore(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	if _, err := store.Token(ctx, "u1"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}

	if err := store.Save(ctx, "u1", &oauth2.Token{AccessToken: "a1", RefreshToken: "r1", Expiry: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Refresh responses often omit the refresh token
	if err := store.Save(ctx, "u1", &oauth2.Token{AccessToken: "a2", Expiry: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	tok, err := store.Token(ctx, "u1")
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok.AccessToken != "a2" || tok.RefreshToken != "r1" {
		t.Fatalf("token = %+v, want a2/r1", tok)
	}

	if err := store.Delete(ctx, "u1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Token(ctx, "u1"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("after delete err = %v", err)
	}
}

func newTestProvider(t *testing.T, store TokenStore, handler http.Handler) *GoogleProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGoogleProvider(GoogleConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost/callback",
		APIBase:      srv.URL,
		Endpoint:     &oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"},
	}, store, zerolog.Nop())
}

func TestGoogleProviderBusyIntervals(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	if err := store.Save(ctx, "u1", &oauth2.Token{AccessToken: "live", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var pages int
	p := newTestProvider(t, store, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/calendar/v3/calendars/primary/events" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer live" {
			t.Errorf("Authorization = %q", got)
		}
		q := r.URL.Query()
		if q.Get("singleEvents") != "true" || q.Get("orderBy") != "startTime" || q.Get("timeMin") == "" {
			t.Errorf("query = %v", q)
		}
		pages++
		w.Header().Set("Content-Type", "application/json")
		if q.Get("pageToken") == "" {
			_, _ = w.Write([]byte(`{"items":[{"id":"1","summary":"Lunch","start":{"dateTime":"2026-03-10T12:00:00Z"},"end":{"dateTime":"2026-03-10T13:00:00Z"}}],"nextPageToken":"p2"}`))
			return
		}
		_, _ = w.Write([]byte(`{"items":[{"id":"2","status":"cancelled","start":{"dateTime":"2026-03-10T15:00:00Z"},"end":{"dateTime":"2026-03-10T16:00:00Z"}}]}`))
	}))

	from := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	busy, err := p.BusyIntervals(ctx, "u1", from, from.Add(7*24*time.Hour))
	if err != nil {
		t.Fatalf("BusyIntervals: %v", err)
	}
	if pages != 2 {
		t.Fatalf("pages = %d, want 2", pages)
	}
	if len(busy) != 1 || busy[0].Label != "Lunch" {
		t.Fatalf("busy = %+v", busy)
	}

	if _, err := p.BusyIntervals(ctx, "nobody", from, from.Add(time.Hour)); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestGoogleProviderUpstreamError(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	if err := store.Save(ctx, "u1", &oauth2.Token{AccessToken: "live", Expiry: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	p := newTestProvider(t, store, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	now := time.Now()
	if _, err := p.BusyIntervals(ctx, "u1", now, now.Add(time.Hour)); !errors.Is(err, ErrProvider) {
		t.Fatalf("err = %v, want ErrProvider", err)
	}
}

func TestGoogleProviderCreateEvent(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	if err := store.Save(ctx, "u1", &oauth2.Token{AccessToken: "live", Expiry: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var got googleEvent
	p := newTestProvider(t, store, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"id":"evt1","htmlLink":"https://calendar/evt1"}`))
	}))

	start := time.Date(2026, 3, 12, 18, 0, 0, 0, time.UTC)
	created, err := p.CreateEvent(ctx, "u1", EventRequest{ContactName: "Ada", Start: start, DurationMinutes: 90, PlaceName: "Cafe", Recurrence: "FREQ=MONTHLY;COUNT=3"})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if created.ID != "evt1" || created.Link == "" {
		t.Fatalf("created = %+v", created)
	}
	if got.Summary != "Catch up with Ada" || got.End.DateTime != "2026-03-12T19:30:00Z" {
		t.Fatalf("event = %+v", got)
	}
	if len(got.Reminders.Overrides) != 2 || got.Reminders.Overrides[0].Minutes != 60 || got.Reminders.Overrides[1].Minutes != 15 {
		t.Fatalf("reminders = %+v", got.Reminders)
	}
	if len(got.Recurrence) != 1 || !strings.HasPrefix(got.Recurrence[0], "RRULE:") {
		t.Fatalf("recurrence = %v", got.Recurrence)
	}
	if !strings.Contains(got.Description, "Ada") {
		t.Fatalf("description = %q", got.Description)
	}

	if _, err := p.CreateEvent(ctx, "u1", EventRequest{ContactName: "Ada", Start: start, DurationMinutes: 5}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("err = %v, want ErrInvalidEvent", err)
	}
}

func TestGoogleProviderConnectAndRefresh(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	var grants []string
	p := newTestProvider(t, store, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			_ = r.ParseForm()
			grants = append(grants, r.Form.Get("grant_type"))
			w.Header().Set("Content-Type", "application/json")
			if r.Form.Get("grant_type") == "authorization_code" {
				_, _ = w.Write([]byte(`{"access_token":"expired","refresh_token":"r1","token_type":"Bearer","expires_in":-10}`))
				return
			}
			_, _ = w.Write([]byte(`{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`))
		default:
			if got := r.Header.Get("Authorization"); got != "Bearer fresh" {
				t.Errorf("Authorization = %q", got)
			}
			_, _ = w.Write([]byte(`{"items":[]}`))
		}
	}))

	if !strings.Contains(p.AuthURL("state-1"), "access_type=offline") {
		t.Fatalf("AuthURL = %s", p.AuthURL("state-1"))
	}
	if err := p.Connect(ctx, "u1", "code-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	now := time.Now()
	if _, err := p.BusyIntervals(ctx, "u1", now, now.Add(time.Hour)); err != nil {
		t.Fatalf("BusyIntervals: %v", err)
	}
	if len(grants) != 2 || grants[1] != "refresh_token" {
		t.Fatalf("grants = %v", grants)
	}

	tok, err := store.Token(ctx, "u1")
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok.AccessToken != "fresh" || tok.RefreshToken != "r1" {
		t.Fatalf("stored token = %+v", tok)
	}
}

func TestStaticProvider(t *testing.T) {
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	p := &StaticProvider{Busy: []availability.BusyInterval{
		{Start: day.Add(10 * time.Hour), End: day.Add(11 * time.Hour)},
		{Start: day.Add(50 * time.Hour), End: day.Add(51 * time.Hour)},
	}}
	busy, err := p.BusyIntervals(context.Background(), "u1", day, day.Add(24*time.Hour))
	if err != nil || len(busy) != 1 {
		t.Fatalf("busy = %v err = %v", busy, err)
	}
}
