/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/friendsincode/kith/internal/availability"
)

var slotsCmd = &cobra.Command{
	Use:   "slots <busy-file>",
	Short: "Compute free slots from a busy list",
	Long: `Run the availability resolver offline over a YAML or JSON busy file.

The file lists busy intervals and may carry a timezone, a reference time and
resolver options:

  timezone: Europe/Berlin
  now: 2026-03-09T08:00:00+01:00
  options:
    horizon_days: 3
    work_start_hour: 9
    work_end_hour: 18
  busy:
    - start: 2026-03-09T10:00:00+01:00
      end: 2026-03-09T11:30:00+01:00
      label: Standup

Flags override values from the file.`,
	Args: cobra.ExactArgs(1),
	RunE: runSlots,
}

var (
	slotsTimezone    string
	slotsNow         string
	slotsHorizonDays int
	slotsWorkStart   int
	slotsWorkEnd     int
	slotsMinMinutes  int
	slotsMaxSlots    int
	slotsJSON        bool
)

func init() {
	slotsCmd.Flags().StringVar(&slotsTimezone, "timezone", "", "IANA timezone for working hours (default UTC)")
	slotsCmd.Flags().StringVar(&slotsNow, "now", "", "Reference time in RFC 3339 (default current time)")
	slotsCmd.Flags().IntVar(&slotsHorizonDays, "horizon-days", 0, "Days to look ahead")
	slotsCmd.Flags().IntVar(&slotsWorkStart, "work-start", -1, "First working hour")
	slotsCmd.Flags().IntVar(&slotsWorkEnd, "work-end", -1, "Hour the working day ends")
	slotsCmd.Flags().IntVar(&slotsMinMinutes, "min-minutes", 0, "Shortest slot worth offering")
	slotsCmd.Flags().IntVar(&slotsMaxSlots, "max-slots", -1, "Maximum slots to print (0 = unlimited)")
	slotsCmd.Flags().BoolVar(&slotsJSON, "json", false, "Print slots as JSON")
	rootCmd.AddCommand(slotsCmd)
}

// busyFile is the on-disk layout read by the slots command.
type busyFile struct {
	Timezone string               `yaml:"timezone"`
	Now      string               `yaml:"now"`
	Options  availability.Options `yaml:"options"`
	Busy     []busyEntry          `yaml:"busy"`
}

// busyEntry keeps timestamps as text so quoted JSON and bare YAML times parse the same way.
type busyEntry struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
	Label string `yaml:"label"`
}

// slotsInput is a parsed busy file.
type slotsInput struct {
	Location *time.Location
	Now      time.Time
	Options  availability.Options
	Busy     []availability.BusyInterval
}

// parseBusyFile reads a YAML (or JSON) busy file. Timestamps without an offset are read in
// the file's timezone.
func parseBusyFile(r io.Reader, fallbackNow time.Time) (*slotsInput, error) {
	// Options missing from the file keep their defaults
	raw := busyFile{Options: availability.DefaultOptions()}
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode busy file: %w", err)
	}

	in := &slotsInput{Location: time.UTC, Options: raw.Options}
	if raw.Timezone != "" {
		loc, err := time.LoadLocation(raw.Timezone)
		if err != nil {
			return nil, fmt.Errorf("timezone: %w", err)
		}
		in.Location = loc
	}

	in.Now = fallbackNow
	if raw.Now != "" {
		now, err := parseLocalTime(raw.Now, in.Location)
		if err != nil {
			return nil, fmt.Errorf("now: %w", err)
		}
		in.Now = now
	}

	for i, b := range raw.Busy {
		start, err := parseLocalTime(b.Start, in.Location)
		if err != nil {
			return nil, fmt.Errorf("busy[%d].start: %w", i, err)
		}
		end, err := parseLocalTime(b.End, in.Location)
		if err != nil {
			return nil, fmt.Errorf("busy[%d].end: %w", i, err)
		}
		in.Busy = append(in.Busy, availability.BusyInterval{Start: start, End: end, Label: b.Label})
	}
	return in, nil
}

func parseLocalTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02T15:04", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// applySlotFlags overlays flags that were set on the parsed input.
func applySlotFlags(in *slotsInput) error {
	if slotsTimezone != "" {
		loc, err := time.LoadLocation(slotsTimezone)
		if err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
		in.Location = loc
	}
	if slotsNow != "" {
		now, err := parseLocalTime(slotsNow, in.Location)
		if err != nil {
			return fmt.Errorf("now: %w", err)
		}
		in.Now = now
	}
	if slotsHorizonDays > 0 {
		in.Options.HorizonDays = slotsHorizonDays
	}
	if slotsWorkStart >= 0 {
		in.Options.WorkStartHour = slotsWorkStart
	}
	if slotsWorkEnd >= 0 {
		in.Options.WorkEndHour = slotsWorkEnd
	}
	if slotsMinMinutes > 0 {
		in.Options.MinimumSlotMinutes = slotsMinMinutes
	}
	if slotsMaxSlots >= 0 {
		in.Options.MaxSlots = slotsMaxSlots
	}
	return nil
}

func runSlots(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	in, err := parseBusyFile(f, time.Now())
	if err != nil {
		return err
	}
	if err := applySlotFlags(in); err != nil {
		return err
	}

	slots, err := availability.ComputeFreeSlots(in.Busy, in.Options, in.Now.In(in.Location))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if slotsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(slots)
	}

	if len(slots) == 0 {
		fmt.Fprintln(out, "No free slots in the horizon.")
		return nil
	}
	for _, s := range slots {
		fmt.Fprintf(out, "%-26s %4d min  (until %s)\n", s.Label(in.Location), s.DurationMinutes, s.End.In(in.Location).Format("3:04 PM"))
	}
	return nil
}
