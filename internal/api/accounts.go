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
)

const (
	defaultAPIKeyDays = 90
	maxAPIKeyDays     = 365
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type apiKeyCreateRequest struct {
	Name          string `json:"name"`
	ExpiresInDays int    `json:"expires_in_days"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session, err := a.accounts.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session, err := a.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *API) handleAPIKeysList(w http.ResponseWriter, r *http.Request) {
	keys, err := a.apiKeys.List(r.Context(), userID(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (a *API) handleAPIKeysCreate(w http.ResponseWriter, r *http.Request) {
	var req apiKeyCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}
	days := req.ExpiresInDays
	if days == 0 {
		days = defaultAPIKeyDays
	}
	if days < 1 || days > maxAPIKeyDays {
		writeError(w, http.StatusBadRequest, "invalid_expiry")
		return
	}

	plaintext, key, err := a.apiKeys.Create(r.Context(), userID(r), name, time.Duration(days)*24*time.Hour)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	// The plaintext key is only ever returned here
	writeJSON(w, http.StatusCreated, map[string]any{
		"key":     plaintext,
		"api_key": key,
	})
}

// handleAPIKeysDelete revokes a key, or removes it entirely with ?permanent=true.
func (a *API) handleAPIKeysDelete(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "keyID")

	var err error
	if r.URL.Query().Get("permanent") == "true" {
		err = a.apiKeys.Delete(r.Context(), userID(r), keyID)
	} else {
		err = a.apiKeys.Revoke(r.Context(), userID(r), keyID)
	}
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
