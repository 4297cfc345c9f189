/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Purpose separates session tokens from short-lived single-use tokens signed with the same key.
type Purpose string

const (
	PurposeSession       Purpose = ""
	PurposeCalendarState Purpose = "calendar_state"
)

const issuer = "kith"

// ErrWrongPurpose is returned when a valid token was issued for something else.
var ErrWrongPurpose = errors.New("token issued for a different purpose")

// Claims identify a Kith user.
type Claims struct {
	UserID  string   `json:"uid"`
	Roles   []string `json:"roles,omitempty"`
	Purpose Purpose  `json:"pur,omitempty"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claims carry role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Issue signs a session token for claims.
func Issue(secret []byte, claims Claims, ttl time.Duration) (string, error) {
	claims.Purpose = PurposeSession
	return sign(secret, claims, ttl)
}

// IssueState signs the OAuth state parameter for a calendar consent round trip.
func IssueState(secret []byte, userID string, ttl time.Duration) (string, error) {
	return sign(secret, Claims{UserID: userID, Purpose: PurposeCalendarState}, ttl)
}

// Parse validates a session token. Only HS256 is accepted.
func Parse(secret []byte, token string) (*Claims, error) {
	return parseFor(secret, token, PurposeSession)
}

// ParseState validates an OAuth state parameter produced by IssueState.
func ParseState(secret []byte, token string) (*Claims, error) {
	return parseFor(secret, token, PurposeCalendarState)
}

func sign(secret []byte, claims Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		Subject:   claims.UserID,
		Issuer:    issuer,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func parseFor(secret []byte, token string, purpose Purpose) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Purpose != purpose {
		return nil, ErrWrongPurpose
	}
	return claims, nil
}
