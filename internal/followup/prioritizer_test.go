package followup

import (
	"math/rand"
	"testing"
	"time"
)

var testNow = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

func hoursAgo(h float64) time.Time {
	return testNow.Add(-time.Duration(h * float64(time.Hour)))
}

func ptr(t time.Time) *time.Time { return &t }

func TestUrgencyFor(t *testing.T) {
	tests := []struct {
		hours float64
		want  UrgencyLevel
	}{
		{-5, UrgencyCritical},
		{0, UrgencyCritical},
		{24, UrgencyCritical},
		{24.01, UrgencyHigh},
		{48, UrgencyHigh},
		{48.5, UrgencyMedium},
		{72, UrgencyMedium},
		{72.1, UrgencyLow},
		{1000, UrgencyLow},
	}
	for _, tt := range tests {
		if got := UrgencyFor(tt.hours); got != tt.want {
			t.Errorf("UrgencyFor(%v) = %v, want %v", tt.hours, got, tt.want)
		}
	}
}

func TestUrgencyLevelStrings(t *testing.T) {
	if UrgencyCritical.String() != "critical" || UrgencyLow.String() != "low" {
		t.Fatalf("unexpected names: %s %s", UrgencyCritical, UrgencyLow)
	}
	if UrgencyLevel(42).String() != "unknown" {
		t.Fatalf("out of range level should be unknown")
	}
	if UrgencyHigh.Message() != "Best moment to reach out" {
		t.Fatalf("Message() = %q", UrgencyHigh.Message())
	}
	b, err := UrgencyMedium.MarshalText()
	if err != nil || string(b) != "medium" {
		t.Fatalf("MarshalText() = %q, %v", b, err)
	}
}

func TestRank_Scenarios(t *testing.T) {
	tests := []struct {
		name     string
		contact  Contact
		included bool
		urgency  UrgencyLevel
	}{
		{
			name:     "met twenty hours ago",
			contact:  Contact{ID: "a", MetAt: hoursAgo(20)},
			included: true,
			urgency:  UrgencyCritical,
		},
		{
			name: "followed up three days ago",
			contact: Contact{
				ID:                   "b",
				MetAt:                hoursAgo(100),
				LastFollowUpAt:       ptr(hoursAgo(72)),
				ReminderIntervalDays: 14,
			},
			included: false,
		},
		{
			name:     "snooze expired yesterday",
			contact:  Contact{ID: "c", MetAt: hoursAgo(30), IsSnoozed: true, SnoozedUntil: ptr(hoursAgo(24))},
			included: true,
			urgency:  UrgencyHigh,
		},
		{
			name:     "snoozed until tomorrow",
			contact:  Contact{ID: "d", MetAt: hoursAgo(30), IsSnoozed: true, SnoozedUntil: ptr(testNow.Add(24 * time.Hour))},
			included: false,
		},
		{
			name:     "done",
			contact:  Contact{ID: "e", MetAt: hoursAgo(2), IsDone: true},
			included: false,
		},
		{
			name:     "snoozed without end",
			contact:  Contact{ID: "f", MetAt: hoursAgo(2), IsSnoozed: true},
			included: false,
		},
		{
			name: "follow up older than interval",
			contact: Contact{
				ID:                   "g",
				MetAt:                hoursAgo(500),
				LastFollowUpAt:       ptr(hoursAgo(24 * 15)),
				ReminderIntervalDays: 14,
			},
			included: true,
			urgency:  UrgencyLow,
		},
		{
			name: "zero interval is always due",
			contact: Contact{
				ID:             "h",
				MetAt:          hoursAgo(500),
				LastFollowUpAt: ptr(hoursAgo(24 * 10)),
			},
			included: true,
			urgency:  UrgencyLow,
		},
		{
			name:     "partial hours past a day stay critical",
			contact:  Contact{ID: "i", MetAt: testNow.Add(-(24*time.Hour + 59*time.Minute))},
			included: true,
			urgency:  UrgencyCritical,
		},
		{
			name:     "partial hours past two days stay high",
			contact:  Contact{ID: "j", MetAt: testNow.Add(-(48*time.Hour + 30*time.Minute))},
			included: true,
			urgency:  UrgencyHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ranked := Rank([]Contact{tt.contact}, testNow)
			if !tt.included {
				if len(ranked) != 0 {
					t.Fatalf("expected contact to be excluded, got %+v", ranked)
				}
				return
			}
			if len(ranked) != 1 {
				t.Fatalf("expected contact to be included, got %d results", len(ranked))
			}
			if ranked[0].UrgencyLevel != tt.urgency {
				t.Errorf("urgency = %v, want %v", ranked[0].UrgencyLevel, tt.urgency)
			}
			if ranked[0].RankScore != ranked[0].HoursSinceMet {
				t.Errorf("rank score %v should equal hours since met %v", ranked[0].RankScore, ranked[0].HoursSinceMet)
			}
		})
	}
}

func TestRank_OrderAndTieBreak(t *testing.T) {
	contacts := []Contact{
		{ID: "old", MetAt: hoursAgo(200)},
		{ID: "z-fresh", MetAt: hoursAgo(5)},
		{ID: "a-fresh", MetAt: hoursAgo(5)},
		{ID: "mid", MetAt: hoursAgo(40)},
		{ID: "a-day-late", MetAt: testNow.Add(-(24*time.Hour + 10*time.Minute))},
		{ID: "b-day-early", MetAt: testNow.Add(-(24*time.Hour + 30*time.Minute))},
	}

	ranked := Rank(contacts, testNow)
	want := []string{"a-fresh", "z-fresh", "b-day-early", "a-day-late", "mid", "old"}
	if len(ranked) != len(want) {
		t.Fatalf("got %d ranked contacts, want %d", len(ranked), len(want))
	}
	for i, id := range want {
		if ranked[i].Contact.ID != id {
			t.Errorf("position %d = %s, want %s", i, ranked[i].Contact.ID, id)
		}
	}
	for _, r := range ranked[2:4] {
		if r.HoursSinceMet != 24 || r.UrgencyLevel != UrgencyCritical {
			t.Fatalf("%s: hours = %v, urgency = %v, want 24 and critical", r.Contact.ID, r.HoursSinceMet, r.UrgencyLevel)
		}
	}
	if contacts[0].ID != "old" {
		t.Fatalf("input slice was reordered")
	}
}

func TestHoursSince(t *testing.T) {
	tests := []struct {
		ago  time.Duration
		want float64
	}{
		{0, 0},
		{59 * time.Minute, 0},
		{24*time.Hour + 59*time.Minute, 24},
		{72 * time.Hour, 72},
		{-90 * time.Minute, -1},
	}
	for _, tt := range tests {
		if got := HoursSince(testNow.Add(-tt.ago), testNow); got != tt.want {
			t.Fatalf("HoursSince(-%v) = %v, want %v", tt.ago, got, tt.want)
		}
	}
}

func TestRank_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for iter := 0; iter < 200; iter++ {
		n := rng.Intn(20)
		contacts := make([]Contact, n)
		for i := range contacts {
			c := Contact{
				ID:    string(rune('a' + rng.Intn(26))),
				MetAt: hoursAgo(float64(rng.Intn(400))),
			}
			switch rng.Intn(5) {
			case 0:
				c.IsDone = true
			case 1:
				c.IsSnoozed = true
				c.SnoozedUntil = ptr(testNow.Add(time.Duration(rng.Intn(96)-48) * time.Hour))
			case 2:
				c.LastFollowUpAt = ptr(hoursAgo(float64(rng.Intn(24 * 30))))
				c.ReminderIntervalDays = rng.Intn(20)
			}
			contacts[i] = c
		}

		ranked := Rank(contacts, testNow)
		again := Rank(contacts, testNow)
		if len(ranked) != len(again) {
			t.Fatalf("iteration %d: ranking is not deterministic", iter)
		}

		for i, r := range ranked {
			if r.Contact.IsDone {
				t.Fatalf("iteration %d: done contact %s ranked", iter, r.Contact.ID)
			}
			if !IsEligible(r.Contact, testNow) {
				t.Fatalf("iteration %d: ineligible contact %s ranked", iter, r.Contact.ID)
			}
			if r.UrgencyLevel != UrgencyFor(r.HoursSinceMet) {
				t.Fatalf("iteration %d: urgency mismatch for %s", iter, r.Contact.ID)
			}
			if again[i].Contact.ID != r.Contact.ID || !again[i].Contact.MetAt.Equal(r.Contact.MetAt) {
				t.Fatalf("iteration %d: ranking is not deterministic at %d", iter, i)
			}
			if i == 0 {
				continue
			}
			prev := ranked[i-1]
			if prev.RankScore > r.RankScore {
				t.Fatalf("iteration %d: scores out of order at %d", iter, i)
			}
			if prev.UrgencyLevel > r.UrgencyLevel {
				t.Fatalf("iteration %d: urgency not monotonic at %d", iter, i)
			}
		}

		eligible := 0
		for _, c := range contacts {
			if IsEligible(c, testNow) {
				eligible++
			}
		}
		if eligible != len(ranked) {
			t.Fatalf("iteration %d: ranked %d of %d eligible contacts", iter, len(ranked), eligible)
		}
	}
}

func TestDefaultSuggestion(t *testing.T) {
	if got := DefaultSuggestion(""); got != "Time to reconnect!" {
		t.Errorf("empty context: got %q", got)
	}
	if got := DefaultSuggestion("  Climbing Gym "); got != "Catch up about climbing gym" {
		t.Errorf("with context: got %q", got)
	}
}
