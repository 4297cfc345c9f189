/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/kith/internal/contacts"
	"github.com/friendsincode/kith/internal/models"
)

const maxListLimit = 500

type contactCreateRequest struct {
	contacts.CreateRequest
	// Attach the contact to the event held in the last 72 hours when no event_id is given
	UseCurrentEvent bool `json:"use_current_event"`
}

type snoozeRequest struct {
	Days int `json:"days"`
}

func (a *API) handleContactsList(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 0)
	if limit < 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	list, err := a.contacts.List(r.Context(), userID(r), contacts.ListFilter{
		EventID:     r.URL.Query().Get("event_id"),
		IncludeDone: r.URL.Query().Get("include_done") == "true",
		Limit:       limit,
		Offset:      queryInt(r, "offset", 0),
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleContactsCreate(w http.ResponseWriter, r *http.Request) {
	var req contactCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()
	user := userID(r)

	if req.EventID == nil && req.UseCurrentEvent {
		event, err := a.contacts.CurrentEvent(ctx, user, a.now())
		switch {
		case err == nil:
			req.EventID = &event.ID
		case !errors.Is(err, contacts.ErrNotFound):
			a.writeServiceError(w, err)
			return
		}
	}

	req.Source = models.ContactSourceManual
	contact, err := a.contacts.Create(ctx, user, req.CreateRequest)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, contact)
}

func (a *API) handleContactsGet(w http.ResponseWriter, r *http.Request) {
	contact, err := a.contacts.Get(r.Context(), userID(r), chi.URLParam(r, "contactID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contact)
}

func (a *API) handleContactsUpdate(w http.ResponseWriter, r *http.Request) {
	var req contacts.UpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	contact, err := a.contacts.Update(r.Context(), userID(r), chi.URLParam(r, "contactID"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contact)
}

func (a *API) handleContactsDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.contacts.Delete(r.Context(), userID(r), chi.URLParam(r, "contactID")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleContactSnooze(w http.ResponseWriter, r *http.Request) {
	var req snoozeRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	contact, err := a.contacts.Snooze(r.Context(), userID(r), chi.URLParam(r, "contactID"), req.Days)
	a.writeContact(w, contact, err)
}

func (a *API) handleContactLater(w http.ResponseWriter, r *http.Request) {
	contact, err := a.contacts.Later(r.Context(), userID(r), chi.URLParam(r, "contactID"))
	a.writeContact(w, contact, err)
}

func (a *API) handleContactFollowedUp(w http.ResponseWriter, r *http.Request) {
	contact, err := a.contacts.MarkFollowedUp(r.Context(), userID(r), chi.URLParam(r, "contactID"))
	a.writeContact(w, contact, err)
}

func (a *API) handleContactDone(w http.ResponseWriter, r *http.Request) {
	contact, err := a.contacts.MarkDone(r.Context(), userID(r), chi.URLParam(r, "contactID"))
	a.writeContact(w, contact, err)
}

func (a *API) handleContactReactivate(w http.ResponseWriter, r *http.Request) {
	contact, err := a.contacts.Reactivate(r.Context(), userID(r), chi.URLParam(r, "contactID"))
	a.writeContact(w, contact, err)
}

func (a *API) writeContact(w http.ResponseWriter, contact *models.Contact, err error) {
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contact)
}

func (a *API) handleFeed(w http.ResponseWriter, r *http.Request) {
	feed, err := a.contacts.Feed(r.Context(), userID(r), a.now(), queryInt(r, "limit", 0))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

func (a *API) handleFollowUpAnalytics(w http.ResponseWriter, r *http.Request) {
	stats, err := a.contacts.Analytics(r.Context(), userID(r), a.now())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleEventsList(w http.ResponseWriter, r *http.Request) {
	list, err := a.contacts.ListEvents(r.Context(), userID(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleEventsCreate(w http.ResponseWriter, r *http.Request) {
	var req contacts.EventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	event, err := a.contacts.CreateEvent(r.Context(), userID(r), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

func (a *API) handleEventsCurrent(w http.ResponseWriter, r *http.Request) {
	event, err := a.contacts.CurrentEvent(r.Context(), userID(r), a.now())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (a *API) handleEventContacts(w http.ResponseWriter, r *http.Request) {
	list, err := a.contacts.EventContacts(r.Context(), userID(r), chi.URLParam(r, "eventID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
