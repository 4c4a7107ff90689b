package drf

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Static errors for err113 compliance.
var (
	ErrEmptyAccessToken = errors.New("empty access token")
	ErrNoExpiryClaim    = errors.New("no expiration claim found")
)

// TokenPair is the access/refresh credential pair issued by the backend.
type TokenPair struct {
	Access  string `json:"access"            yaml:"access"`
	Refresh string `json:"refresh,omitempty" yaml:"refresh,omitempty"`
}

// Claims are the access token claims issued by djangorestframework-simplejwt.
type Claims struct {
	jwt.RegisteredClaims
	TokenType string      `json:"token_type,omitempty"`
	UserID    interface{} `json:"user_id,omitempty"`
}

// User is the identity decoded from an access token.
type User struct {
	ID        string    `json:"id"         yaml:"id"`
	Subject   string    `json:"subject"    yaml:"subject"`
	TokenType string    `json:"token_type" yaml:"token_type"`
	IssuedAt  time.Time `json:"issued_at"  yaml:"issued_at"`
	ExpiresAt time.Time `json:"expires_at" yaml:"expires_at"`
}

// DecodeClaims parses the access token payload without verifying its
// signature. Verification is the backend's job.
func DecodeClaims(access string) (*Claims, error) {
	if access == "" {
		return nil, ErrEmptyAccessToken
	}

	claims := &Claims{}

	_, _, err := jwt.NewParser().ParseUnverified(access, claims)
	if err != nil {
		return nil, fmt.Errorf("failed to decode access token: %w", err)
	}

	return claims, nil
}

// Expiry returns the expiration instant of the access token.
func (t *TokenPair) Expiry() (time.Time, error) {
	claims, err := DecodeClaims(t.Access)
	if err != nil {
		return time.Time{}, err
	}

	if claims.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiryClaim
	}

	return claims.ExpiresAt.Time, nil
}

// Expired reports whether now is at or past the access token expiry minus
// grace. Tokens that cannot be decoded are treated as not expired so the
// backend gets to decide.
func (t *TokenPair) Expired(now time.Time, grace time.Duration) bool {
	expiry, err := t.Expiry()
	if err != nil {
		return false
	}

	return !now.Before(expiry.Add(-grace))
}

// UserFromClaims builds a User from decoded claims.
func UserFromClaims(claims *Claims) *User {
	user := &User{
		Subject:   claims.Subject,
		TokenType: claims.TokenType,
	}

	if claims.UserID != nil {
		user.ID = stringify(claims.UserID)
	} else {
		user.ID = claims.Subject
	}

	if claims.IssuedAt != nil {
		user.IssuedAt = claims.IssuedAt.Time
	}

	if claims.ExpiresAt != nil {
		user.ExpiresAt = claims.ExpiresAt.Time
	}

	return user
}
