package auth

import (
	"context"
	"errors"

	"beacon.org/internal/token"
)

// RefreshValidator checks a refresh token and returns the subject it names.
// Deployments that add revocation wrap the default with a denylist check.
type RefreshValidator interface {
	ValidateRefresh(ctx context.Context, raw string) (subjectID string, err error)
}

type signerRefreshValidator struct {
	signer token.Signer
}

// NewSignerRefreshValidator accepts any correctly signed, unexpired refresh
// token.
func NewSignerRefreshValidator(signer token.Signer) RefreshValidator {
	return signerRefreshValidator{signer: signer}
}

func (v signerRefreshValidator) ValidateRefresh(_ context.Context, raw string) (string, error) {
	claims, err := v.signer.Verify(raw, token.TypeRefresh)
	if err != nil {
		return "", mapTokenError(err)
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

func mapTokenError(err error) error {
	switch {
	case errors.Is(err, token.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, token.ErrWrongType):
		return ErrInvalidTokenType
	default:
		return ErrInvalidToken
	}
}
