/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"net/http"
	"path"
	"strings"

	"gorm.io/gorm"
)

// EventStreamPath is the only route that accepts a session token in the query string.
const EventStreamPath = "/api/v1/events/stream"

// RequireUser rejects requests without a valid X-API-Key or Bearer session token and stores
// the caller's claims in the request context. A nil db disables API keys.
func RequireUser(db *gorm.DB, jwtSecret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := authenticate(db, jwtSecret, r)
			if claims == nil {
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// authenticate returns nil when no credential checks out. A supplied API key is final:
// a bad key does not fall through to the bearer token.
func authenticate(db *gorm.DB, jwtSecret []byte, r *http.Request) *Claims {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		if db == nil {
			return nil
		}
		claims, err := NewAPIKeys(db).Authenticate(r.Context(), key)
		if err != nil {
			return nil
		}
		return claims
	}

	if len(jwtSecret) == 0 {
		return nil
	}
	token := bearerToken(r)
	if token == "" {
		return nil
	}
	claims, err := Parse(jwtSecret, token)
	if err != nil {
		return nil
	}
	return claims
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="kith"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}

func bearerToken(r *http.Request) string {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}

	// Browsers cannot set headers on a WebSocket handshake.
	if isWebSocketUpgrade(r) && path.Clean(r.URL.Path) == EventStreamPath {
		return strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return ""
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("Upgrade")), "websocket")
}
