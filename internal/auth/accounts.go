/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/friendsincode/kith/internal/models"
)

// MinPasswordLength is the shortest password Register accepts.
const MinPasswordLength = 8

// SessionTTL is the lifetime of tokens issued by Login and Register.
const SessionTTL = 7 * 24 * time.Hour

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrWeakPassword       = errors.New("password too short")
	ErrInvalidEmail       = errors.New("invalid email")
)

// Session is returned after a successful login or registration.
type Session struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// Accounts registers users and signs them in.
type Accounts struct {
	db     *gorm.DB
	secret []byte
}

// NewAccounts creates an account service signing tokens with secret.
func NewAccounts(db *gorm.DB, secret []byte) *Accounts {
	return &Accounts{db: db, secret: secret}
}

// Register creates a user and an empty profile named name.
func (a *Accounts) Register(ctx context.Context, email, password, name string) (*Session, error) {
	email = models.NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, ErrInvalidEmail
	}
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		ID:       uuid.NewString(),
		Email:    email,
		Password: string(hash),
		Role:     models.RoleUser,
	}

	err = a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrEmailTaken
		}
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		return tx.Create(&models.Profile{UserID: user.ID, Name: strings.TrimSpace(name)}).Error
	})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) || errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("register: %w", err)
	}

	return a.session(user)
}

// Login verifies credentials and issues a session token.
func (a *Accounts) Login(ctx context.Context, email, password string) (*Session, error) {
	var user models.User
	err := a.db.WithContext(ctx).First(&user, "email = ?", models.NormalizeEmail(email)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return a.session(&user)
}

func (a *Accounts) session(user *models.User) (*Session, error) {
	token, err := Issue(a.secret, Claims{
		UserID: user.ID,
		Roles:  []string{string(user.Role)},
	}, SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Session{Token: token, ExpiresAt: time.Now().Add(SessionTTL), User: user}, nil
}
