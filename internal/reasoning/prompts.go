/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package reasoning

import (
	"fmt"
	"strings"
	"time"

	"github.com/friendsincode/kith/internal/availability"
	"github.com/friendsincode/kith/internal/followup"
)

const maxCalendarLines = 10

// SlotSuggestionsPrompt asks for a calendar summary and reasoning per offered slot.
func SlotSuggestionsPrompt(contact followup.Contact, busy []availability.BusyInterval, slots []availability.FreeSlot, now time.Time, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("You are a scheduling assistant helping someone find a time to catch up with a person they met.\n\n")

	b.WriteString("CALENDAR CONTEXT:\n")
	lines := 0
	for _, ev := range busy {
		if !ev.Start.After(now) {
			continue
		}
		label := ev.Label
		if label == "" {
			label = "Busy"
		}
		fmt.Fprintf(&b, "- %s: %s\n", ev.Start.In(loc).Format("Mon, Jan 2 at 3:04 PM"), label)
		lines++
		if lines == maxCalendarLines {
			break
		}
	}
	if lines == 0 {
		b.WriteString("No upcoming events\n")
	}

	b.WriteString("\nAVAILABLE FREE SLOTS:\n")
	for _, s := range slots {
		fmt.Fprintf(&b, "- %s (%d minutes)\n", s.Label(loc), s.DurationMinutes)
	}

	context := strings.TrimSpace(contact.Context)
	if context == "" {
		context = "general catchup"
	}
	fmt.Fprintf(&b, "\nThe person is %s (context: %s).\n\n", contact.Name, context)

	b.WriteString(`Write a short, friendly 1-2 sentence summary of what you see in the calendar this week,
then suggest up to 5 of the free slots above with warm, specific reasoning.
Every "slot" value must be copied exactly from the AVAILABLE FREE SLOTS list, without the duration.

Respond with JSON only, in this shape:
{"calendarSummary": "...", "suggestions": [{"slot": "...", "reasoning": "..."}]}
`)
	return b.String()
}

// CatchupIdeaPrompt asks for a short outreach suggestion and a place to meet.
func CatchupIdeaPrompt(ranked followup.RankedContact, city string) string {
	var b strings.Builder
	b.WriteString("You help people keep in touch with those they meet. Suggest how to catch up with this contact.\n\n")
	fmt.Fprintf(&b, "Name: %s\n", ranked.Contact.Name)
	if c := strings.TrimSpace(ranked.Contact.Context); c != "" {
		fmt.Fprintf(&b, "How they met: %s\n", c)
	}
	fmt.Fprintf(&b, "Hours since meeting: %.0f\n", ranked.HoursSinceMet)
	fmt.Fprintf(&b, "Urgency: %s\n", ranked.UrgencyLevel)
	if city = strings.TrimSpace(city); city != "" {
		fmt.Fprintf(&b, "User's city: %s\n", city)
	}

	b.WriteString(`
Keep the suggestion warm, personal and under 60 characters. Match the place to the relationship:
professional contacts might prefer coffee or coworking, friends might prefer a bar.

Respond with JSON only, in this shape:
{"suggestion": "...", "timeframe": "...", "placeType": "coffee|bar|restaurant|coworking", "placeDescription": "..."}
`)
	return b.String()
}
