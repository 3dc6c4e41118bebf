// Package token signs and verifies the bearer tokens handed out at login.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Type distinguishes access from refresh tokens.
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

var (
	ErrInvalid   = errors.New("token: invalid")
	ErrExpired   = errors.New("token: expired")
	ErrWrongType = errors.New("token: wrong type")
)

// Claims is the signed payload. Email, Role and OrganizationID are only set
// on access tokens.
type Claims struct {
	Type           Type   `json:"type"`
	Email          string `json:"email,omitempty"`
	Role           string `json:"role,omitempty"`
	OrganizationID string `json:"organizationId,omitempty"`
	jwt.RegisteredClaims
}

// Subject is the identity an access token asserts.
type Subject struct {
	ID             string
	Email          string
	Role           string
	OrganizationID string
}

// Signed is a freshly minted token.
type Signed struct {
	Token     string
	ExpiresAt time.Time
	TTL       time.Duration
}

// Signer mints and checks tokens. Implementations must be safe for
// concurrent use.
type Signer interface {
	SignAccess(sub Subject) (Signed, error)
	SignRefresh(subjectID string) (Signed, error)
	// Verify checks signature, expiry and that the token has type want.
	Verify(raw string, want Type) (*Claims, error)
}
