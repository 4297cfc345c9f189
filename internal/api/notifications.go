/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleNotificationsList returns the user's notifications.
func (a *API) handleNotificationsList(w http.ResponseWriter, r *http.Request) {
	unreadOnly := r.URL.Query().Get("unread_only") == "true"
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	list, total, err := a.notifications.List(r.Context(), userID(r), unreadOnly, limit, offset)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": list,
		"total":         total,
		"limit":         limit,
		"offset":        offset,
	})
}

// handleNotificationsUnreadCount returns the count of unread notifications.
func (a *API) handleNotificationsUnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := a.notifications.UnreadCount(r.Context(), userID(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unread_count": count})
}

// handleNotificationsMarkRead marks a single notification as read.
func (a *API) handleNotificationsMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := a.notifications.MarkAsRead(r.Context(), chi.URLParam(r, "id"), userID(r)); err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleNotificationsMarkAllRead marks all notifications as read.
func (a *API) handleNotificationsMarkAllRead(w http.ResponseWriter, r *http.Request) {
	if err := a.notifications.MarkAllAsRead(r.Context(), userID(r)); err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
