// Package auth supplies bearer tokens for backend calls.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"

	"github.com/xiaot623/sparring/internal/domain"
)

// TokenSource obtains the bearer token for the current identity.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

// Token returns the token, or domain.ErrNoToken when it is blank.
func (t StaticToken) Token(ctx context.Context) (string, error) {
	tok := strings.TrimSpace(string(t))
	if tok == "" {
		return "", domain.ErrNoToken
	}
	return tok, nil
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

// Token calls f.
func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// Bearer fetches a token from src and rejects it locally when it is missing or
// expired. Opaque tokens pass through untouched; only JWT-shaped tokens carry
// an expiry that can be checked without the identity provider.
func Bearer(ctx context.Context, src TokenSource, now time.Time) (string, error) {
	if src == nil {
		return "", domain.ErrNoToken
	}
	tok, err := src.Token(ctx)
	if err != nil {
		return "", err
	}
	if tok == "" {
		return "", domain.ErrNoToken
	}
	if err := CheckExpiry(tok, now); err != nil {
		return "", err
	}
	return tok, nil
}

// CheckExpiry returns domain.ErrTokenExpired when tok is a JWT whose exp claim
// is in the past. The signature is not verified; that is the backend's job.
func CheckExpiry(tok string, now time.Time) error {
	if strings.Count(tok, ".") != 2 {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(tok, claims); err != nil {
		return nil
	}
	if _, ok := claims["exp"]; !ok {
		return nil
	}
	if !claims.VerifyExpiresAt(now.Unix(), true) {
		return domain.ErrTokenExpired
	}
	return nil
}
