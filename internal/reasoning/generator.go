/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/kith/internal/availability"
	"github.com/friendsincode/kith/internal/followup"
	"github.com/friendsincode/kith/internal/telemetry"
)

const (
	// FallbackCalendarSummary heads templated slot suggestions.
	FallbackCalendarSummary = "Here are some open times this week:"

	DefaultTimeout = 20 * time.Second
	maxSuggestions = 5
)

// Fallback reasons recorded on the fallback metric.
const (
	reasonDisabled    = "disabled"
	reasonError       = "error"
	reasonTimeout     = "timeout"
	reasonUnparseable = "unparseable"
	reasonInvalid     = "invalid"
)

// SlotSuggestion is a free slot with a reason to pick it.
type SlotSuggestion struct {
	Slot      availability.FreeSlot `json:"slot"`
	Label     string                `json:"label"`
	Reasoning string                `json:"reasoning"`
}

// SlotAdvice is the enriched free-slot answer.
type SlotAdvice struct {
	CalendarSummary string           `json:"calendar_summary"`
	Suggestions     []SlotSuggestion `json:"suggestions"`
	Generated       bool             `json:"generated"`
}

// CatchupIdea is a suggested way to reach out.
type CatchupIdea struct {
	Suggestion       string `json:"suggestion"`
	Timeframe        string `json:"timeframe"`
	PlaceType        string `json:"place_type"`
	PlaceDescription string `json:"place_description"`
	Generated        bool   `json:"generated"`
}

// Generator produces advice from a Client and never fails: every error degrades to a template.
type Generator struct {
	client  Client
	timeout time.Duration
	loc     *time.Location
	logger  zerolog.Logger
}

// NewGenerator creates a generator. A nil client always falls back.
func NewGenerator(client Client, timeout time.Duration, loc *time.Location, logger zerolog.Logger) *Generator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Generator{
		client:  client,
		timeout: timeout,
		loc:     loc,
		logger:  logger.With().Str("component", "reasoning").Logger(),
	}
}

// Enabled reports whether a model is configured.
func (g *Generator) Enabled() bool {
	return g.client != nil
}

// SlotSuggestions explains which of the offered slots suit a catch-up with contact.
func (g *Generator) SlotSuggestions(ctx context.Context, contact followup.Contact, busy []availability.BusyInterval, slots []availability.FreeSlot, now time.Time) SlotAdvice {
	if len(slots) == 0 {
		return SlotAdvice{CalendarSummary: FallbackCalendarSummary, Suggestions: []SlotSuggestion{}}
	}
	if g.client == nil {
		return g.slotFallback(slots, reasonDisabled)
	}

	content, reason := g.complete(ctx, SlotSuggestionsPrompt(contact, busy, slots, now, g.loc))
	if reason != "" {
		return g.slotFallback(slots, reason)
	}

	var parsed struct {
		CalendarSummary string `json:"calendarSummary"`
		Suggestions     []struct {
			Slot      string `json:"slot"`
			Reasoning string `json:"reasoning"`
		} `json:"suggestions"`
	}
	if err := decodeJSON(content, &parsed); err != nil {
		g.logger.Debug().Err(err).Msg("unparseable slot suggestions")
		return g.slotFallback(slots, reasonUnparseable)
	}

	byLabel := make(map[string]availability.FreeSlot, len(slots)*2)
	for _, s := range slots {
		byLabel[s.Label(g.loc)] = s
		byLabel[s.Start.Format(time.RFC3339)] = s
	}

	seen := make(map[time.Time]bool)
	advice := SlotAdvice{CalendarSummary: strings.TrimSpace(parsed.CalendarSummary), Generated: true}
	for _, sug := range parsed.Suggestions {
		slot, ok := byLabel[strings.TrimSpace(sug.Slot)]
		if !ok || seen[slot.Start] {
			continue
		}
		seen[slot.Start] = true
		reasoning := strings.TrimSpace(sug.Reasoning)
		if reasoning == "" {
			reasoning = freeFor(slot)
		}
		advice.Suggestions = append(advice.Suggestions, SlotSuggestion{Slot: slot, Label: slot.Label(g.loc), Reasoning: reasoning})
		if len(advice.Suggestions) == maxSuggestions {
			break
		}
	}

	if len(advice.Suggestions) == 0 {
		return g.slotFallback(slots, reasonInvalid)
	}
	if advice.CalendarSummary == "" {
		advice.CalendarSummary = FallbackCalendarSummary
	}
	return advice
}

// CatchupIdea suggests how and where to catch up with a ranked contact.
func (g *Generator) CatchupIdea(ctx context.Context, ranked followup.RankedContact, city string) CatchupIdea {
	if g.client == nil {
		return ideaFallback(ranked, reasonDisabled)
	}

	content, reason := g.complete(ctx, CatchupIdeaPrompt(ranked, city))
	if reason != "" {
		return ideaFallback(ranked, reason)
	}

	var parsed struct {
		Suggestion       string `json:"suggestion"`
		Timeframe        string `json:"timeframe"`
		PlaceType        string `json:"placeType"`
		PlaceDescription string `json:"placeDescription"`
	}
	if err := decodeJSON(content, &parsed); err != nil || strings.TrimSpace(parsed.Suggestion) == "" {
		return ideaFallback(ranked, reasonUnparseable)
	}

	fallback := fallbackIdea(ranked)
	idea := CatchupIdea{
		Suggestion:       strings.TrimSpace(parsed.Suggestion),
		Timeframe:        orDefault(parsed.Timeframe, fallback.Timeframe),
		PlaceType:        strings.ToLower(orDefault(parsed.PlaceType, fallback.PlaceType)),
		PlaceDescription: orDefault(parsed.PlaceDescription, fallback.PlaceDescription),
		Generated:        true,
	}
	return idea
}

// complete runs the prompt under the generator timeout. A non-empty reason means fall back.
func (g *Generator) complete(ctx context.Context, prompt string) (string, string) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.Complete(ctx, prompt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			g.logger.Warn().Dur("timeout", g.timeout).Msg("reasoning timed out")
			return "", reasonTimeout
		}
		g.logger.Warn().Err(err).Msg("reasoning failed")
		return "", reasonError
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", reasonUnparseable
	}
	return resp.Content, ""
}

func (g *Generator) slotFallback(slots []availability.FreeSlot, reason string) SlotAdvice {
	telemetry.ReasoningFallbacks.WithLabelValues("slots", reason).Inc()
	advice := SlotAdvice{CalendarSummary: FallbackCalendarSummary}
	for _, s := range slots {
		advice.Suggestions = append(advice.Suggestions, SlotSuggestion{Slot: s, Label: s.Label(g.loc), Reasoning: freeFor(s)})
		if len(advice.Suggestions) == maxSuggestions {
			break
		}
	}
	return advice
}

func ideaFallback(ranked followup.RankedContact, reason string) CatchupIdea {
	telemetry.ReasoningFallbacks.WithLabelValues("catchup", reason).Inc()
	return fallbackIdea(ranked)
}

func fallbackIdea(ranked followup.RankedContact) CatchupIdea {
	timeframe := "When you're free"
	switch ranked.UrgencyLevel {
	case followup.UrgencyCritical, followup.UrgencyHigh:
		timeframe = "This week"
	case followup.UrgencyMedium:
		timeframe = "Soon"
	}
	return CatchupIdea{
		Suggestion:       followup.DefaultSuggestion(ranked.Contact.Context),
		Timeframe:        timeframe,
		PlaceType:        "coffee",
		PlaceDescription: "A quiet coffee shop",
	}
}

func freeFor(s availability.FreeSlot) string {
	return fmt.Sprintf("You're free for %d minutes", s.DurationMinutes)
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

// decodeJSON reads the outermost JSON object from model output, tolerating code fences and chatter.
func decodeJSON(content string, dest any) error {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return errors.New("no json object in response")
	}
	return json.Unmarshal([]byte(content[start:end+1]), dest)
}
