/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/kith/internal/availability"
	"github.com/friendsincode/kith/internal/models"
	"github.com/friendsincode/kith/internal/planner"
	"github.com/friendsincode/kith/internal/telemetry"
)

const defaultOccurrences = 5

type freeSlotsRequest struct {
	Busy    []availability.BusyInterval `json:"busy"`
	Options availability.Options        `json:"options"`
	Now     *time.Time                  `json:"now,omitempty"`
}

type labeledSlot struct {
	availability.FreeSlot
	Label string `json:"label"`
}

// handleFreeSlots runs the resolver over a posted busy list. Options omitted from the
// request keep the configured scheduling defaults.
func (a *API) handleFreeSlots(w http.ResponseWriter, r *http.Request) {
	req := freeSlotsRequest{Options: a.scheduling}
	if !decodeJSON(w, r, &req) {
		return
	}
	now := a.now()
	if req.Now != nil {
		now = *req.Now
	}
	now = now.In(a.loc)

	slots, err := availability.ComputeFreeSlots(req.Busy, req.Options, now)
	if err != nil {
		outcome := "malformed_input"
		if errors.Is(err, availability.ErrInvalidConfiguration) {
			outcome = "invalid_configuration"
		}
		telemetry.FreeSlotComputations.WithLabelValues(outcome).Inc()
		a.writeServiceError(w, err)
		return
	}
	telemetry.FreeSlotComputations.WithLabelValues("ok").Inc()
	telemetry.FreeSlotsEmitted.Observe(float64(len(slots)))

	out := make([]labeledSlot, 0, len(slots))
	for _, s := range slots {
		out = append(out, labeledSlot{FreeSlot: s, Label: s.Label(a.loc)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": out})
}

func (a *API) handleSlotSuggestions(w http.ResponseWriter, r *http.Request) {
	plan, err := a.planner.SuggestSlots(r.Context(), userID(r), chi.URLParam(r, "contactID"), a.now())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (a *API) handleCatchupIdea(w http.ResponseWriter, r *http.Request) {
	idea, err := a.planner.Idea(r.Context(), userID(r), chi.URLParam(r, "contactID"), a.now())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, idea)
}

func (a *API) handleCatchupsList(w http.ResponseWriter, r *http.Request) {
	status := models.CatchupStatus(r.URL.Query().Get("status"))
	list, err := a.planner.ListCatchups(r.Context(), userID(r), status)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleCatchupsCreate(w http.ResponseWriter, r *http.Request) {
	var req planner.ScheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := a.planner.ScheduleCatchup(r.Context(), userID(r), req, a.now())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleCatchupsGet(w http.ResponseWriter, r *http.Request) {
	catchup, err := a.planner.GetCatchup(r.Context(), userID(r), chi.URLParam(r, "catchupID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, catchup)
}

func (a *API) handleCatchupOccurrences(w http.ResponseWriter, r *http.Request) {
	count := queryInt(r, "count", defaultOccurrences)
	dates, err := a.planner.Occurrences(r.Context(), userID(r), chi.URLParam(r, "catchupID"), a.now(), count)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	if dates == nil {
		dates = []time.Time{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"occurrences": dates})
}
