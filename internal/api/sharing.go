/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/kith/internal/events"
	"github.com/friendsincode/kith/internal/models"
)

// publicShare is what an unauthenticated visitor sees for a share code.
type publicShare struct {
	Name      string `json:"name"`
	City      string `json:"city,omitempty"`
	Phone     string `json:"phone,omitempty"`
	LinkedIn  string `json:"linkedin,omitempty"`
	ExpiresAt string `json:"expires_at"`
}

type profileUpdateRequest struct {
	Name        *string  `json:"name"`
	City        *string  `json:"city"`
	Phone       *string  `json:"phone"`
	LinkedIn    *string  `json:"linkedin"`
	Bio         *string  `json:"bio"`
	Preferences []string `json:"preferences"`
}

func (a *API) handleShareCreate(w http.ResponseWriter, r *http.Request) {
	share, err := a.sharing.Create(r.Context(), userID(r), a.now())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"share": share,
		"url":   a.sharing.Link(share.ShareCode),
	})
}

func (a *API) handleShareResolve(w http.ResponseWriter, r *http.Request) {
	share, err := a.sharing.Resolve(r.Context(), chi.URLParam(r, "code"), a.now())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, publicShare{
		Name:      share.Name,
		City:      share.City,
		Phone:     share.Phone,
		LinkedIn:  share.LinkedIn,
		ExpiresAt: share.ExpiresAt.Format(time.RFC3339),
	})
}

func (a *API) handleShareAccept(w http.ResponseWriter, r *http.Request) {
	contact, err := a.sharing.Accept(r.Context(), chi.URLParam(r, "code"), userID(r), a.now())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, contact)
}

func (a *API) handleProfileGet(w http.ResponseWriter, r *http.Request) {
	var profile models.Profile
	err := a.db.WithContext(r.Context()).Where("user_id = ?", userID(r)).
		Attrs(models.Profile{UserID: userID(r)}).
		FirstOrInit(&profile).Error
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (a *API) handleProfileUpdate(w http.ResponseWriter, r *http.Request) {
	var req profileUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user := userID(r)

	var profile models.Profile
	if err := a.db.WithContext(r.Context()).Where("user_id = ?", user).
		Attrs(models.Profile{UserID: user}).
		FirstOrInit(&profile).Error; err != nil {
		a.writeServiceError(w, err)
		return
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			writeError(w, http.StatusBadRequest, "name_required")
			return
		}
		profile.Name = name
	}
	if req.City != nil {
		profile.City = strings.TrimSpace(*req.City)
	}
	if req.Phone != nil {
		profile.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.LinkedIn != nil {
		profile.LinkedIn = strings.TrimSpace(*req.LinkedIn)
	}
	if req.Bio != nil {
		profile.Bio = strings.TrimSpace(*req.Bio)
	}
	if req.Preferences != nil {
		profile.Preferences = req.Preferences
	}

	if err := a.db.WithContext(r.Context()).Save(&profile).Error; err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.bus.Publish(events.EventProfileUpdated, events.Payload{"user_id": user})
	writeJSON(w, http.StatusOK, profile)
}
