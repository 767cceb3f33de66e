// Package services – AuthService
//
// This file implements registration and login. Passwords are hashed with
// bcrypt; successful logins are answered with an HS256 JWT whose subject is
// the user id. Registration also creates the user's default settings row so
// first reads have something to return.
package services

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/avachat/backend/internal/domain"
	"github.com/avachat/backend/internal/repo"
)

// bcryptCost mirrors the registration flow of the web app this backend
// replaced (cost 12).
const bcryptCost = 12

// AuthService issues identities and session tokens.
type AuthService struct {
	DB        *gorm.DB
	JWTSecret string
	TokenTTL  time.Duration
}

// Token is a successful login result.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Register creates a user plus their default settings row. The email is
// lowercased before storage; duplicates yield ErrEmailTaken.
func (s *AuthService) Register(ctx context.Context, name, email, password string) (*domain.User, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, err
	}

	var user *domain.User
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		u, err := repo.CreateUser(ctx, tx, name, email, string(hash))
		if err != nil {
			return err
		}
		user = u
		return repo.UpsertSettings(ctx, tx, &domain.Settings{
			UserID:         u.ID,
			SelectedAvatar: DefaultAvatar,
			SelectedVoice:  DefaultVoice,
		})
	})
	if err != nil {
		if err == repo.ErrEmailTaken {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return user, nil
}

// Login verifies the credentials and mints a bearer token. Unknown emails and
// wrong passwords are answered identically with ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.User, *Token, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	u, err := repo.GetUserByEmail(ctx, s.DB, email)
	if err != nil {
		if err == repo.ErrNotFound {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, nil, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	exp := now.Add(s.TokenTTL)
	claims := jwt.RegisteredClaims{
		Subject:   u.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.JWTSecret))
	if err != nil {
		return nil, nil, err
	}
	return u, &Token{Value: signed, ExpiresAt: exp}, nil
}
