/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package contacts

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/friendsincode/kith/internal/cache"
	"github.com/friendsincode/kith/internal/followup"
	"github.com/friendsincode/kith/internal/models"
	"github.com/friendsincode/kith/internal/telemetry"
)

// AnalyticsWindow is how soon after meeting a follow-up counts as timely.
const AnalyticsWindow = 72 * time.Hour

// FeedEntry is a ranked contact with its display copy.
type FeedEntry struct {
	followup.RankedContact
	Message    string `json:"message"`
	Suggestion string `json:"suggestion"`
}

// Feed returns the user's contacts due for outreach, most urgent first. A limit of zero
// returns every eligible contact.
func (s *Service) Feed(ctx context.Context, userID string, now time.Time, limit int) ([]FeedEntry, error) {
	ranked, err := s.ranked(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}

	entries := make([]FeedEntry, 0, len(ranked))
	for _, rc := range ranked {
		entries = append(entries, FeedEntry{
			RankedContact: rc,
			Message:       rc.UrgencyLevel.Message(),
			Suggestion:    followup.DefaultSuggestion(rc.Contact.Context),
		})
	}
	return entries, nil
}

// Ranked returns the full ranked feed for a user without display copy.
func (s *Service) Ranked(ctx context.Context, userID string, now time.Time) ([]followup.RankedContact, error) {
	return s.ranked(ctx, userID, now)
}

// ranked always ranks at now. Only the store read is cached.
func (s *Service) ranked(ctx context.Context, userID string, now time.Time) ([]followup.RankedContact, error) {
	snapshots, err := s.feedSnapshots(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	ranked := followup.Rank(snapshots, now)
	recordFeedSize(ranked)
	return ranked, nil
}

func (s *Service) feedSnapshots(ctx context.Context, userID string, now time.Time) ([]followup.Contact, error) {
	if s.cache != nil {
		if cached, ok := s.cache.GetFeed(ctx, userID); ok && !now.Before(cached.LoadedAt) && now.Sub(cached.LoadedAt) < cache.DefaultFeedTTL {
			return cached.Contacts, nil
		}
	}

	var rows []models.Contact
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_done = ?", userID, false).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load feed: %w", err)
	}

	snapshots := make([]followup.Contact, 0, len(rows))
	for i := range rows {
		snapshots = append(snapshots, rows[i].Snapshot())
	}

	if s.cache != nil {
		if err := s.cache.SetFeed(ctx, userID, &cache.CachedFeed{Contacts: snapshots, LoadedAt: now}); err != nil {
			s.logger.Debug().Err(err).Str("user_id", userID).Msg("feed cache write failed")
		}
	}
	return snapshots, nil
}

func recordFeedSize(ranked []followup.RankedContact) {
	counts := map[followup.UrgencyLevel]int{}
	for _, rc := range ranked {
		counts[rc.UrgencyLevel]++
	}
	for _, level := range []followup.UrgencyLevel{followup.UrgencyCritical, followup.UrgencyHigh, followup.UrgencyMedium, followup.UrgencyLow} {
		telemetry.FeedContacts.WithLabelValues(level.String()).Set(float64(counts[level]))
	}
}

// Analytics summarizes how well a user keeps up with people they meet.
type Analytics struct {
	// Contacts met at an event.
	Total int `json:"total"`
	// Of those, followed up within 72 hours of meeting.
	FollowedUp int `json:"followed_up"`
	// Rounded percentage of FollowedUp over Total.
	Rate int `json:"rate"`

	States map[followup.State]int `json:"states"`
}

// Analytics computes follow-up statistics for a user at now.
func (s *Service) Analytics(ctx context.Context, userID string, now time.Time) (*Analytics, error) {
	var rows []models.Contact
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load analytics: %w", err)
	}
	return computeAnalytics(rows, now), nil
}

func computeAnalytics(rows []models.Contact, now time.Time) *Analytics {
	out := &Analytics{States: map[followup.State]int{
		followup.StateActive:             0,
		followup.StateSnoozed:            0,
		followup.StateRecentlyFollowedUp: 0,
		followup.StateDone:               0,
	}}

	for i := range rows {
		c := &rows[i]
		out.States[followup.StateOf(c.Snapshot(), now)]++

		if c.EventID == nil {
			continue
		}
		out.Total++
		if c.FollowedUpAt == nil {
			continue
		}
		hours := followup.HoursSince(c.MetAt, *c.FollowedUpAt)
		if hours <= AnalyticsWindow.Hours() {
			out.FollowedUp++
		}
	}

	if out.Total > 0 {
		out.Rate = int(math.Round(float64(out.FollowedUp) / float64(out.Total) * 100))
	}
	return out
}
