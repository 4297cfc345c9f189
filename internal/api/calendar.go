/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/friendsincode/kith/internal/auth"
	"github.com/friendsincode/kith/internal/calendar"
	"github.com/friendsincode/kith/internal/events"
)

// oauthStateTTL bounds how long a consent round trip may take.
const oauthStateTTL = 10 * time.Minute

type calendarConnectRequest struct {
	Code string `json:"code"`
}

func (a *API) calendarReady(w http.ResponseWriter) bool {
	if a.calendar == nil || !a.calendar.Configured() {
		writeError(w, http.StatusServiceUnavailable, "calendar_not_configured")
		return false
	}
	return true
}

func (a *API) handleCalendarConnectURL(w http.ResponseWriter, r *http.Request) {
	if !a.calendarReady(w) {
		return
	}
	state, err := auth.IssueState(a.jwtSecret, userID(r), oauthStateTTL)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": a.calendar.AuthURL(state)})
}

func (a *API) handleCalendarConnect(w http.ResponseWriter, r *http.Request) {
	if !a.calendarReady(w) {
		return
	}
	var req calendarConnectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeError(w, http.StatusBadRequest, "code_required")
		return
	}
	user := userID(r)
	if err := a.calendar.Connect(r.Context(), user, req.Code); err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.bus.Publish(events.EventCalendarConnected, events.Payload{"user_id": user, "provider": calendar.ProviderGoogle})
	writeJSON(w, http.StatusOK, map[string]bool{"connected": true})
}

// handleCalendarCallback completes the browser consent flow and sends the user back to the app.
func (a *API) handleCalendarCallback(w http.ResponseWriter, r *http.Request) {
	if !a.calendarReady(w) {
		return
	}
	q := r.URL.Query()
	claims, err := auth.ParseState(a.jwtSecret, q.Get("state"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_state")
		return
	}

	result := "connected"
	if q.Get("error") != "" || q.Get("code") == "" {
		result = "denied"
	} else if err := a.calendar.Connect(r.Context(), claims.UserID, q.Get("code")); err != nil {
		a.logger.Warn().Err(err).Str("user_id", claims.UserID).Msg("calendar callback failed")
		result = "error"
	} else {
		a.bus.Publish(events.EventCalendarConnected, events.Payload{"user_id": claims.UserID, "provider": calendar.ProviderGoogle})
	}

	http.Redirect(w, r, strings.TrimRight(a.baseURL, "/")+"/plan?calendar="+result, http.StatusFound)
}

func (a *API) handleCalendarDisconnect(w http.ResponseWriter, r *http.Request) {
	if !a.calendarReady(w) {
		return
	}
	user := userID(r)
	if err := a.calendar.Disconnect(r.Context(), user); err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.bus.Publish(events.EventCalendarDisconnected, events.Payload{"user_id": user, "provider": calendar.ProviderGoogle})
	w.WriteHeader(http.StatusNoContent)
}
