package main

import (
	"strings"
	"testing"
	"time"

	"github.com/friendsincode/kith/internal/availability"
)

func TestParseBusyFile_YAML(t *testing.T) {
	doc := `
timezone: Europe/Berlin
now: 2026-03-09T08:00:00+01:00
options:
  horizon_days: 2
busy:
  - start: 2026-03-09T10:00:00+01:00
    end: 2026-03-09 11:30:00
    label: Standup
`
	in, err := parseBusyFile(strings.NewReader(doc), time.Time{})
	if err != nil {
		t.Fatalf("parseBusyFile: %v", err)
	}
	if in.Location.String() != "Europe/Berlin" {
		t.Fatalf("location = %v, want Europe/Berlin", in.Location)
	}
	if want := time.Date(2026, 3, 9, 7, 0, 0, 0, time.UTC); !in.Now.Equal(want) {
		t.Fatalf("now = %v, want %v", in.Now, want)
	}

	defaults := availability.DefaultOptions()
	if in.Options.HorizonDays != 2 || in.Options.WorkStartHour != defaults.WorkStartHour || in.Options.MinimumSlotMinutes != defaults.MinimumSlotMinutes {
		t.Fatalf("options = %+v, want horizon 2 over defaults", in.Options)
	}

	if len(in.Busy) != 1 {
		t.Fatalf("busy = %d intervals, want 1", len(in.Busy))
	}
	b := in.Busy[0]
	if want := time.Date(2026, 3, 9, 10, 30, 0, 0, time.UTC); !b.End.Equal(want) {
		t.Fatalf("end = %v, want %v (local time in the file's timezone)", b.End, want)
	}
	if b.Label != "Standup" {
		t.Fatalf("label = %q, want Standup", b.Label)
	}
}

func TestParseBusyFile_JSON(t *testing.T) {
	doc := `{"busy": [{"start": "2026-03-09T09:00:00Z", "end": "2026-03-09T12:00:00Z"}]}`
	fallback := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)

	in, err := parseBusyFile(strings.NewReader(doc), fallback)
	if err != nil {
		t.Fatalf("parseBusyFile: %v", err)
	}
	if in.Location != time.UTC || !in.Now.Equal(fallback) {
		t.Fatalf("location = %v now = %v, want UTC and the fallback time", in.Location, in.Now)
	}

	in.Options.HorizonDays = 1
	slots, err := availability.ComputeFreeSlots(in.Busy, in.Options, in.Now)
	if err != nil {
		t.Fatalf("ComputeFreeSlots: %v", err)
	}
	if len(slots) != 1 || slots[0].Start.Hour() != 12 {
		t.Fatalf("slots = %+v, want one slot from 12:00", slots)
	}
}

func TestParseBusyFile_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad timezone", "timezone: Mars/Olympus"},
		{"bad start", "busy:\n  - start: soon\n    end: 2026-03-09T12:00:00Z"},
		{"bad now", "now: later"},
		{"not a document", "busy: [unterminated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseBusyFile(strings.NewReader(tt.doc), time.Now()); err == nil {
				t.Fatalf("parseBusyFile(%q) succeeded, want error", tt.doc)
			}
		})
	}
}

func TestParseBusyFile_Empty(t *testing.T) {
	in, err := parseBusyFile(strings.NewReader(""), time.Now())
	if err != nil {
		t.Fatalf("parseBusyFile: %v", err)
	}
	if len(in.Busy) != 0 || in.Options != availability.DefaultOptions() {
		t.Fatalf("input = %+v, want defaults", in)
	}
}
