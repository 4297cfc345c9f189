/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/friendsincode/kith/internal/availability"
	"github.com/friendsincode/kith/internal/telemetry"
)

const (
	// ProviderGoogle is the provider name stored on calendar connections.
	ProviderGoogle = "google"

	defaultGoogleAPIBase = "https://www.googleapis.com"
	defaultTimeout       = 10 * time.Second
	maxPages             = 10
)

// GoogleScopes are requested on the consent screen.
var GoogleScopes = []string{
	"https://www.googleapis.com/auth/calendar.readonly",
	"https://www.googleapis.com/auth/calendar.events",
}

// GoogleConfig configures the Google Calendar provider.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// APIBase overrides https://www.googleapis.com.
	APIBase string
	// Endpoint overrides google.Endpoint.
	Endpoint *oauth2.Endpoint
	// Location is used for all-day events and the timeZone of created events.
	Location *time.Location
	Timeout  time.Duration
}

// GoogleProvider reads and writes the user's primary Google calendar.
type GoogleProvider struct {
	oauth      *oauth2.Config
	tokens     TokenStore
	apiBase    string
	loc        *time.Location
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewGoogleProvider creates a Google Calendar provider.
func NewGoogleProvider(cfg GoogleConfig, tokens TokenStore, logger zerolog.Logger) *GoogleProvider {
	endpoint := google.Endpoint
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultGoogleAPIBase
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &GoogleProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       GoogleScopes,
		},
		tokens:     tokens,
		apiBase:    cfg.APIBase,
		loc:        cfg.Location,
		httpClient: telemetry.HTTPClient(cfg.Timeout),
		logger:     logger.With().Str("component", "calendar").Str("provider", ProviderGoogle).Logger(),
	}
}

// Configured reports whether OAuth client credentials are present.
func (p *GoogleProvider) Configured() bool {
	return p.oauth.ClientID != ""
}

// AuthURL builds the consent URL. Offline access is requested so a refresh token is issued.
func (p *GoogleProvider) AuthURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Connect exchanges an authorization code and stores the resulting token.
func (p *GoogleProvider) Connect(ctx context.Context, userID, code string) error {
	if code == "" {
		return fmt.Errorf("%w: empty authorization code", ErrProvider)
	}
	token, err := p.oauth.Exchange(p.oauthContext(ctx), code)
	if err != nil {
		return fmt.Errorf("%w: exchange code: %v", ErrProvider, err)
	}
	if err := p.tokens.Save(ctx, userID, token); err != nil {
		return err
	}
	p.logger.Info().Str("user_id", userID).Msg("calendar connected")
	return nil
}

// Disconnect forgets the user's token.
func (p *GoogleProvider) Disconnect(ctx context.Context, userID string) error {
	return p.tokens.Delete(ctx, userID)
}

// BusyIntervals lists non-cancelled events between from and to.
func (p *GoogleProvider) BusyIntervals(ctx context.Context, userID string, from, to time.Time) ([]availability.BusyInterval, error) {
	ctx, span := telemetry.StartSpan(ctx, "calendar", "google.BusyIntervals", attribute.String("user_id", userID))
	defer span.End()

	client, err := p.client(ctx, userID)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("singleEvents", "true")
	params.Set("orderBy", "startTime")
	params.Set("timeMin", from.UTC().Format(time.RFC3339))
	params.Set("timeMax", to.UTC().Format(time.RFC3339))
	params.Set("maxResults", "250")

	var items []RawEvent
	for page := 0; page < maxPages; page++ {
		var body struct {
			Items         []RawEvent `json:"items"`
			NextPageToken string     `json:"nextPageToken"`
		}
		endpoint := p.apiBase + "/calendar/v3/calendars/primary/events?" + params.Encode()
		if err := p.do(ctx, client, http.MethodGet, endpoint, nil, &body); err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		items = append(items, body.Items...)
		if body.NextPageToken == "" {
			break
		}
		params.Set("pageToken", body.NextPageToken)
	}

	busy, err := MapEvents(items, p.loc)
	if err != nil {
		telemetry.CalendarFetchFailures.WithLabelValues("malformed").Inc()
		telemetry.RecordError(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("events", len(items)), attribute.Int("busy", len(busy)))
	p.logger.Debug().Str("user_id", userID).Int("busy", len(busy)).Msg("fetched busy intervals")
	return busy, nil
}

type googleEventTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type googleReminder struct {
	Method  string `json:"method"`
	Minutes int    `json:"minutes"`
}

type googleEvent struct {
	Summary     string          `json:"summary"`
	Description string          `json:"description"`
	Location    string          `json:"location,omitempty"`
	Start       googleEventTime `json:"start"`
	End         googleEventTime `json:"end"`
	Recurrence  []string        `json:"recurrence,omitempty"`
	Reminders   struct {
		UseDefault bool             `json:"useDefault"`
		Overrides  []googleReminder `json:"overrides"`
	} `json:"reminders"`
}

// CreateEvent adds a catch-up to the primary calendar with popups 60 and 15 minutes before.
func (p *GoogleProvider) CreateEvent(ctx context.Context, userID string, req EventRequest) (*CreatedEvent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "calendar", "google.CreateEvent", attribute.String("user_id", userID))
	defer span.End()

	client, err := p.client(ctx, userID)
	if err != nil {
		return nil, err
	}

	event := googleEvent{
		Summary:     "Catch up with " + req.ContactName,
		Description: req.Message,
		Location:    req.PlaceName,
		Start:       googleEventTime{DateTime: req.Start.UTC().Format(time.RFC3339), TimeZone: p.loc.String()},
		End:         googleEventTime{DateTime: req.End().UTC().Format(time.RFC3339), TimeZone: p.loc.String()},
	}
	if event.Description == "" {
		event.Description = "Time to reconnect with " + req.ContactName + "!"
	}
	if req.Recurrence != "" {
		event.Recurrence = []string{"RRULE:" + req.Recurrence}
	}
	event.Reminders.Overrides = []googleReminder{
		{Method: "popup", Minutes: 60},
		{Method: "popup", Minutes: 15},
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}

	var created struct {
		ID       string `json:"id"`
		HTMLLink string `json:"htmlLink"`
	}
	endpoint := p.apiBase + "/calendar/v3/calendars/primary/events"
	if err := p.do(ctx, client, http.MethodPost, endpoint, payload, &created); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	p.logger.Info().Str("user_id", userID).Str("event_id", created.ID).Msg("calendar event created")
	return &CreatedEvent{ID: created.ID, Link: created.HTMLLink}, nil
}

func (p *GoogleProvider) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// client returns an authorized HTTP client, refreshing and persisting the token when expired.
func (p *GoogleProvider) client(ctx context.Context, userID string) (*http.Client, error) {
	stored, err := p.tokens.Token(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotConnected) {
			telemetry.CalendarFetchFailures.WithLabelValues("not_connected").Inc()
		}
		return nil, err
	}

	octx := p.oauthContext(ctx)
	fresh, err := p.oauth.TokenSource(octx, stored).Token()
	if err != nil {
		telemetry.CalendarFetchFailures.WithLabelValues("token").Inc()
		return nil, fmt.Errorf("%w: refresh token: %v", ErrProvider, err)
	}
	if fresh.AccessToken != stored.AccessToken {
		if err := p.tokens.Save(ctx, userID, fresh); err != nil {
			p.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to persist refreshed token")
		}
	}

	return oauth2.NewClient(octx, oauth2.StaticTokenSource(fresh)), nil
}

func (p *GoogleProvider) do(ctx context.Context, client *http.Client, method, endpoint string, body []byte, dest any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		telemetry.CalendarFetchFailures.WithLabelValues("request").Inc()
		return fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		telemetry.CalendarFetchFailures.WithLabelValues("status").Inc()
		p.logger.Warn().Int("status", resp.StatusCode).Str("body", string(snippet)).Msg("calendar api error")
		if resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: token rejected", ErrNotConnected)
		}
		return fmt.Errorf("%w: status %d", ErrProvider, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		telemetry.CalendarFetchFailures.WithLabelValues("decode").Inc()
		return fmt.Errorf("%w: decode response: %v", ErrProvider, err)
	}
	return nil
}
