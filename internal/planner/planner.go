/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package planner turns calendar availability into catch-up suggestions and bookings.
package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/friendsincode/kith/internal/availability"
	"github.com/friendsincode/kith/internal/cache"
	"github.com/friendsincode/kith/internal/calendar"
	"github.com/friendsincode/kith/internal/contacts"
	"github.com/friendsincode/kith/internal/events"
	"github.com/friendsincode/kith/internal/followup"
	"github.com/friendsincode/kith/internal/models"
	"github.com/friendsincode/kith/internal/reasoning"
	"github.com/friendsincode/kith/internal/telemetry"
)

var (
	// ErrInvalidRequest is returned for malformed catch-up requests.
	ErrInvalidRequest = errors.New("invalid catchup request")

	// ErrNotFound is returned when a catch-up does not exist for the user.
	ErrNotFound = errors.New("catchup not found")
)

// Planner suggests times and schedules catch-ups.
type Planner struct {
	db        *gorm.DB
	contacts  *contacts.Service
	calendar  calendar.Provider
	cache     availabilityCache
	generator *reasoning.Generator
	bus       events.Publisher
	opts      availability.Options
	loc       *time.Location
	logger    zerolog.Logger
}

// availabilityCache is the part of the cache the planner uses.
type availabilityCache interface {
	GetAvailability(ctx context.Context, userID string, opts availability.Options) (*cache.CachedAvailability, bool)
	SetAvailability(ctx context.Context, userID string, cached *cache.CachedAvailability) error
}

// Config bundles the planner's collaborators.
type Config struct {
	DB        *gorm.DB
	Contacts  *contacts.Service
	Calendar  calendar.Provider // nil means no calendar integration
	Cache     *cache.Cache      // nil disables slot caching
	Generator *reasoning.Generator
	Bus       events.Publisher
	Options   availability.Options
	Location  *time.Location
}

// New creates a planner.
func New(cfg Config, logger zerolog.Logger) *Planner {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	gen := cfg.Generator
	if gen == nil {
		gen = reasoning.NewGenerator(nil, 0, loc, logger)
	}
	p := &Planner{
		db:        cfg.DB,
		contacts:  cfg.Contacts,
		calendar:  cfg.Calendar,
		generator: gen,
		bus:       cfg.Bus,
		opts:      cfg.Options,
		loc:       loc,
		logger:    logger.With().Str("component", "planner").Logger(),
	}
	if cfg.Cache != nil {
		p.cache = cfg.Cache
	}
	return p
}

// Plan is the answer to "when could I catch up with this contact?".
type Plan struct {
	ContactID         string                  `json:"contact_id"`
	CalendarAvailable bool                    `json:"calendar_available"`
	Slots             []availability.FreeSlot `json:"slots"`
	Advice            *reasoning.SlotAdvice   `json:"advice,omitempty"`
	ComputedAt        time.Time               `json:"computed_at"`
}

// SuggestSlots computes free slots for the user's horizon and explains them for contactID.
// A missing or failing calendar suppresses suggestions rather than failing the call.
func (p *Planner) SuggestSlots(ctx context.Context, userID, contactID string, now time.Time) (*Plan, error) {
	ctx, span := telemetry.StartSpan(ctx, "planner", "SuggestSlots", attribute.String("user_id", userID))
	defer span.End()

	contact, err := p.contacts.Get(ctx, userID, contactID)
	if err != nil {
		return nil, err
	}

	plan := &Plan{ContactID: contact.ID, Slots: []availability.FreeSlot{}, ComputedAt: now}

	slots, busy, ok := p.availability(ctx, userID, now.In(p.loc))
	if !ok {
		telemetry.FreeSlotComputations.WithLabelValues("suppressed").Inc()
		return plan, nil
	}

	plan.CalendarAvailable = true
	plan.Slots = slots
	advice := p.generator.SlotSuggestions(ctx, contact.Snapshot(), busy, slots, now)
	plan.Advice = &advice

	span.SetAttributes(attribute.Int("slots", len(slots)), attribute.Bool("generated", advice.Generated))
	return plan, nil
}

// availability returns free slots computed at now from cached or freshly fetched busy
// intervals. ok is false when suggestions must be suppressed.
func (p *Planner) availability(ctx context.Context, userID string, now time.Time) ([]availability.FreeSlot, []availability.BusyInterval, bool) {
	if p.calendar == nil {
		return nil, nil, false
	}

	busy, ok := p.busy(ctx, userID, now)
	if !ok {
		return nil, nil, false
	}

	slots, err := availability.ComputeFreeSlots(busy, p.opts, now)
	if err != nil {
		telemetry.FreeSlotComputations.WithLabelValues("error").Inc()
		p.logger.Warn().Err(err).Str("user_id", userID).Msg("free slot computation failed")
		return nil, nil, false
	}
	telemetry.FreeSlotComputations.WithLabelValues("ok").Inc()
	telemetry.FreeSlotsEmitted.Observe(float64(len(slots)))
	return slots, busy, true
}

// busy reads the user's calendar over the horizon, reusing a same-day cached read.
func (p *Planner) busy(ctx context.Context, userID string, now time.Time) ([]availability.BusyInterval, bool) {
	if p.cache != nil {
		if cached, hit := p.cache.GetAvailability(ctx, userID, p.opts); hit && fresh(cached, now) {
			return cached.Busy, true
		}
	}

	from, to := availability.HorizonWindow(now, p.opts)
	busy, err := p.calendar.BusyIntervals(ctx, userID, from, to)
	if err != nil {
		if errors.Is(err, calendar.ErrNotConnected) {
			p.logger.Debug().Str("user_id", userID).Msg("calendar not connected, suppressing slots")
		} else {
			p.logger.Warn().Err(err).Str("user_id", userID).Msg("calendar unavailable, suppressing slots")
		}
		return nil, false
	}

	if p.cache != nil {
		err := p.cache.SetAvailability(ctx, userID, &cache.CachedAvailability{Busy: busy, Options: p.opts, ComputedAt: now})
		if err != nil {
			p.logger.Debug().Err(err).Msg("availability cache write failed")
		}
	}
	return busy, true
}

// fresh reports whether a cached read still covers now's horizon.
func fresh(cached *cache.CachedAvailability, now time.Time) bool {
	if now.Before(cached.ComputedAt) || now.Sub(cached.ComputedAt) >= cache.DefaultSlotsTTL {
		return false
	}
	y1, m1, d1 := cached.ComputedAt.In(now.Location()).Date()
	y2, m2, d2 := now.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// Idea suggests how to reach out to a contact.
func (p *Planner) Idea(ctx context.Context, userID, contactID string, now time.Time) (*reasoning.CatchupIdea, error) {
	contact, err := p.contacts.Get(ctx, userID, contactID)
	if err != nil {
		return nil, err
	}

	var profile models.Profile
	city := ""
	if err := p.db.WithContext(ctx).First(&profile, "user_id = ?", userID).Error; err == nil {
		city = profile.City
	}

	hours := followup.HoursSince(contact.MetAt, now)
	ranked := followup.RankedContact{
		Contact:       contact.Snapshot(),
		HoursSinceMet: hours,
		UrgencyLevel:  followup.UrgencyFor(hours),
		RankScore:     hours,
	}
	idea := p.generator.CatchupIdea(ctx, ranked, city)
	return &idea, nil
}

// ScheduleRequest describes a catch-up to book.
type ScheduleRequest struct {
	ContactIDs      []string  `json:"contact_ids"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Message         string    `json:"message"`
	PlaceName       string    `json:"place_name"`
	PlaceType       string    `json:"place_type"`
	Recurrence      string    `json:"recurrence"`
}

// ScheduleResult reports the stored catch-up and whether it reached the calendar.
type ScheduleResult struct {
	Catchup       *models.Catchup        `json:"catchup"`
	CalendarEvent *calendar.CreatedEvent `json:"calendar_event,omitempty"`
	CalendarError string                 `json:"calendar_error,omitempty"`
}

// ScheduleCatchup stores a catch-up, adds it to the calendar when possible and marks the
// contacts as followed up.
func (p *Planner) ScheduleCatchup(ctx context.Context, userID string, req ScheduleRequest, now time.Time) (*ScheduleResult, error) {
	if len(req.ContactIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one contact is required", ErrInvalidRequest)
	}
	if req.ScheduledAt.IsZero() {
		return nil, fmt.Errorf("%w: scheduled_at is required", ErrInvalidRequest)
	}
	if req.DurationMinutes == 0 {
		req.DurationMinutes = calendar.DefaultEventMinutes
	}
	if req.DurationMinutes < calendar.MinEventMinutes || req.DurationMinutes > calendar.MaxEventMinutes {
		return nil, fmt.Errorf("%w: duration must be %d..%d minutes", ErrInvalidRequest, calendar.MinEventMinutes, calendar.MaxEventMinutes)
	}
	rule, err := ParseRecurrence(req.Recurrence)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(req.ContactIDs))
	for _, id := range req.ContactIDs {
		c, err := p.contacts.Get(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		names = append(names, c.Name)
	}

	catchup := &models.Catchup{
		ID:              uuid.NewString(),
		UserID:          userID,
		ContactIDs:      req.ContactIDs,
		Message:         strings.TrimSpace(req.Message),
		PlaceName:       strings.TrimSpace(req.PlaceName),
		PlaceType:       strings.TrimSpace(req.PlaceType),
		ScheduledAt:     req.ScheduledAt.UTC(),
		DurationMinutes: req.DurationMinutes,
		Status:          models.CatchupPlanned,
		Recurrence:      rule,
	}
	if err := p.db.WithContext(ctx).Create(catchup).Error; err != nil {
		return nil, fmt.Errorf("create catchup: %w", err)
	}

	result := &ScheduleResult{Catchup: catchup}
	if p.calendar != nil {
		created, err := p.calendar.CreateEvent(ctx, userID, calendar.EventRequest{
			ContactName:     strings.Join(names, ", "),
			Start:           catchup.ScheduledAt,
			DurationMinutes: catchup.DurationMinutes,
			PlaceName:       catchup.PlaceName,
			Message:         catchup.Message,
			Recurrence:      rule,
		})
		if err != nil {
			p.logger.Warn().Err(err).Str("catchup_id", catchup.ID).Msg("calendar event not created")
			result.CalendarError = err.Error()
		} else {
			result.CalendarEvent = created
			catchup.GoogleEventID = created.ID
			if err := p.db.WithContext(ctx).Model(catchup).Update("google_event_id", created.ID).Error; err != nil {
				p.logger.Warn().Err(err).Str("catchup_id", catchup.ID).Msg("failed to store calendar event id")
			}
		}
	}

	if err := p.contacts.MarkFollowedUpBatch(ctx, userID, req.ContactIDs, now); err != nil {
		p.logger.Warn().Err(err).Str("catchup_id", catchup.ID).Msg("failed to mark contacts followed up")
	}

	p.bus.Publish(events.EventCatchupScheduled, events.Payload{
		"user_id":      userID,
		"catchup_id":   catchup.ID,
		"contact_ids":  req.ContactIDs,
		"scheduled_at": catchup.ScheduledAt.Format(time.RFC3339),
	})

	p.logger.Info().Str("user_id", userID).Str("catchup_id", catchup.ID).Int("contacts", len(req.ContactIDs)).Msg("catchup scheduled")
	return result, nil
}

// ListCatchups returns the user's catch-ups, soonest first.
func (p *Planner) ListCatchups(ctx context.Context, userID string, status models.CatchupStatus) ([]models.Catchup, error) {
	query := p.db.WithContext(ctx).Where("user_id = ?", userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var list []models.Catchup
	if err := query.Order("scheduled_at ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list catchups: %w", err)
	}
	return list, nil
}

// GetCatchup returns a catch-up owned by userID.
func (p *Planner) GetCatchup(ctx context.Context, userID, id string) (*models.Catchup, error) {
	var c models.Catchup
	err := p.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get catchup: %w", err)
	}
	return &c, nil
}

// Occurrences expands a catch-up's recurrence into its next n dates after now.
func (p *Planner) Occurrences(ctx context.Context, userID, id string, now time.Time, n int) ([]time.Time, error) {
	c, err := p.GetCatchup(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return NextOccurrences(c.Recurrence, c.ScheduledAt, now, n)
}
