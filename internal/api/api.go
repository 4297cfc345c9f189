/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/kith/internal/auth"
	"github.com/friendsincode/kith/internal/availability"
	"github.com/friendsincode/kith/internal/calendar"
	"github.com/friendsincode/kith/internal/contacts"
	"github.com/friendsincode/kith/internal/events"
	"github.com/friendsincode/kith/internal/followup"
	"github.com/friendsincode/kith/internal/notifications"
	"github.com/friendsincode/kith/internal/planner"
	"github.com/friendsincode/kith/internal/sharing"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// CalendarConnector links and unlinks a user's external calendar.
type CalendarConnector interface {
	Configured() bool
	AuthURL(state string) string
	Connect(ctx context.Context, userID, code string) error
	Disconnect(ctx context.Context, userID string) error
}

// Deps bundles the services the API serves.
type Deps struct {
	DB            *gorm.DB
	JWTSecret     []byte
	Accounts      *auth.Accounts
	Contacts      *contacts.Service
	Planner       *planner.Planner
	Sharing       *sharing.Service
	Notifications *notifications.Service
	Calendar      CalendarConnector // nil when no calendar is configured
	Bus           events.Broker
	Scheduling    availability.Options
	Location      *time.Location
	BaseURL       string // Where the OAuth callback sends the browser afterwards
}

// API exposes HTTP handlers.
type API struct {
	db            *gorm.DB
	jwtSecret     []byte
	accounts      *auth.Accounts
	apiKeys       *auth.APIKeys
	contacts      *contacts.Service
	planner       *planner.Planner
	sharing       *sharing.Service
	notifications *notifications.Service
	calendar      CalendarConnector
	bus           events.Broker
	scheduling    availability.Options
	loc           *time.Location
	baseURL       string
	logger        zerolog.Logger
}

// New creates the API router wrapper.
func New(deps Deps, logger zerolog.Logger) *API {
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	return &API{
		db:            deps.DB,
		jwtSecret:     deps.JWTSecret,
		accounts:      deps.Accounts,
		apiKeys:       auth.NewAPIKeys(deps.DB),
		contacts:      deps.Contacts,
		planner:       deps.Planner,
		sharing:       deps.Sharing,
		notifications: deps.Notifications,
		calendar:      deps.Calendar,
		bus:           deps.Bus,
		scheduling:    deps.Scheduling,
		loc:           loc,
		baseURL:       deps.BaseURL,
		logger:        logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts every endpoint under /api/v1.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		// Public endpoints (no auth required)
		r.Post("/auth/register", a.handleRegister)
		r.Post("/auth/login", a.handleLogin)
		r.Get("/share/{code}", a.handleShareResolve)
		r.Get("/calendar/callback", a.handleCalendarCallback)
		r.Post("/availability/free-slots", a.handleFreeSlots)

		r.Group(func(pr chi.Router) {
			pr.Use(a.authMiddleware())

			pr.Route("/contacts", func(r chi.Router) {
				r.Get("/", a.handleContactsList)
				r.Post("/", a.handleContactsCreate)
				r.Route("/{contactID}", func(r chi.Router) {
					r.Get("/", a.handleContactsGet)
					r.Patch("/", a.handleContactsUpdate)
					r.Delete("/", a.handleContactsDelete)
					r.Post("/snooze", a.handleContactSnooze)
					r.Post("/later", a.handleContactLater)
					r.Post("/followed-up", a.handleContactFollowedUp)
					r.Post("/done", a.handleContactDone)
					r.Post("/reactivate", a.handleContactReactivate)
					r.Get("/slot-suggestions", a.handleSlotSuggestions)
					r.Get("/idea", a.handleCatchupIdea)
				})
			})

			pr.Get("/feed", a.handleFeed)
			pr.Get("/analytics/follow-ups", a.handleFollowUpAnalytics)

			pr.Route("/events", func(r chi.Router) {
				r.Get("/", a.handleEventsList)
				r.Post("/", a.handleEventsCreate)
				r.Get("/current", a.handleEventsCurrent)
				r.Get("/stream", a.handleEventStream)
				r.Get("/{eventID}/contacts", a.handleEventContacts)
			})

			pr.Route("/catchups", func(r chi.Router) {
				r.Get("/", a.handleCatchupsList)
				r.Post("/", a.handleCatchupsCreate)
				r.Get("/{catchupID}", a.handleCatchupsGet)
				r.Get("/{catchupID}/occurrences", a.handleCatchupOccurrences)
			})

			pr.Route("/calendar", func(r chi.Router) {
				r.Get("/connect-url", a.handleCalendarConnectURL)
				r.Post("/connect", a.handleCalendarConnect)
				r.Delete("/", a.handleCalendarDisconnect)
			})

			pr.Post("/share", a.handleShareCreate)
			pr.Post("/share/{code}/accept", a.handleShareAccept)

			pr.Get("/profile", a.handleProfileGet)
			pr.Put("/profile", a.handleProfileUpdate)

			pr.Route("/notifications", func(r chi.Router) {
				r.Get("/", a.handleNotificationsList)
				r.Get("/unread-count", a.handleNotificationsUnreadCount)
				r.Post("/mark-all-read", a.handleNotificationsMarkAllRead)
				r.Post("/{id}/read", a.handleNotificationsMarkRead)
			})

			pr.Route("/api-keys", func(r chi.Router) {
				r.Get("/", a.handleAPIKeysList)
				r.Post("/", a.handleAPIKeysCreate)
				r.Delete("/{keyID}", a.handleAPIKeysDelete)
			})
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) authMiddleware() func(http.Handler) http.Handler {
	return auth.RequireUser(a.db, a.jwtSecret)
}

func (a *API) now() time.Time {
	return a.contacts.Now()
}

// userID returns the authenticated user. Routes behind authMiddleware always have one.
func userID(r *http.Request) string {
	return auth.UserIDFromContext(r.Context())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// writeServiceError maps domain errors onto status codes.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, contacts.ErrNotFound),
		errors.Is(err, planner.ErrNotFound),
		errors.Is(err, notifications.ErrNotFound),
		errors.Is(err, auth.ErrAPIKeyNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, sharing.ErrShareNotFound):
		writeError(w, http.StatusNotFound, "share_not_found")
	case errors.Is(err, sharing.ErrShareExpired):
		writeError(w, http.StatusGone, "share_expired")
	case errors.Is(err, sharing.ErrOwnShare):
		writeError(w, http.StatusBadRequest, "own_share")
	case errors.Is(err, sharing.ErrProfileIncomplete):
		writeError(w, http.StatusUnprocessableEntity, "profile_incomplete")
	case errors.Is(err, contacts.ErrMalformedContact),
		errors.Is(err, contacts.ErrMalformedEvent),
		errors.Is(err, planner.ErrInvalidRequest),
		errors.Is(err, calendar.ErrInvalidEvent),
		errors.Is(err, followup.ErrInvalidSnooze):
		writeError(w, http.StatusBadRequest, "invalid_request")
	case errors.Is(err, availability.ErrInvalidConfiguration):
		writeError(w, http.StatusBadRequest, "invalid_configuration")
	case errors.Is(err, availability.ErrMalformedInput):
		writeError(w, http.StatusBadRequest, "malformed_input")
	case errors.Is(err, followup.ErrContactDone):
		writeError(w, http.StatusConflict, "contact_done")
	case errors.Is(err, calendar.ErrNotConnected):
		writeError(w, http.StatusConflict, "calendar_not_connected")
	case errors.Is(err, calendar.ErrProvider):
		writeError(w, http.StatusBadGateway, "calendar_error")
	case errors.Is(err, auth.ErrEmailTaken):
		writeError(w, http.StatusConflict, "email_taken")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
	case errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, "weak_password")
	case errors.Is(err, auth.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest, "invalid_email")
	default:
		a.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}
