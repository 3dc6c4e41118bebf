package auth

import (
	"errors"
	"fmt"
	"time"

	"beacon.org/internal/ratelimit"
)

var (
	ErrValidation           = errors.New("auth: invalid request")
	ErrInvalidCredentials   = errors.New("auth: invalid credentials")
	ErrNoOrganization       = errors.New("auth: user is not associated with an organization")
	ErrInvalidTokenType     = errors.New("auth: invalid token type")
	ErrTokenExpired         = errors.New("auth: token expired")
	ErrInvalidToken         = errors.New("auth: invalid token")
	ErrUserNotFound         = errors.New("auth: user not found")
	ErrUserInactive         = errors.New("auth: user inactive")
	ErrRateLimited          = errors.New("auth: too many attempts")
	ErrForbidden            = errors.New("auth: forbidden")
	ErrOrganizationNotFound = errors.New("auth: organization not found")

	// ErrPasswordNotSet matches ErrInvalidCredentials under errors.Is so the
	// two can never be told apart outside this package.
	ErrPasswordNotSet = fmt.Errorf("%w: password not set", ErrInvalidCredentials)

	errUnknownEmail     = fmt.Errorf("%w: no account for email", ErrInvalidCredentials)
	errPasswordMismatch = fmt.Errorf("%w: password mismatch", ErrInvalidCredentials)
)

// RateLimitError is returned by Login when the caller's address has used up
// its attempts. It matches ErrRateLimited.
type RateLimitError struct {
	Decision ratelimit.Decision
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited, e.RetryAfter())
}

// Is reports whether target is ErrRateLimited.
func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// RetryAfter rounds the wait up to whole seconds.
func (e *RateLimitError) RetryAfter() time.Duration {
	d := e.Decision.RetryAfter
	if rem := d % time.Second; rem != 0 {
		d += time.Second - rem
	}
	return d
}

func validationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// IsAuthentication reports whether err belongs to the 401 family.
func IsAuthentication(err error) bool {
	for _, target := range []error{
		ErrInvalidCredentials, ErrNoOrganization, ErrInvalidTokenType, ErrTokenExpired,
		ErrInvalidToken, ErrUserNotFound, ErrUserInactive,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// PublicMessage returns the text that may be shown to a caller for err.
// Anything outside the taxonomy collapses to a generic message.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return validationMessage(err)
	case errors.Is(err, ErrRateLimited):
		return "Too many login attempts, please try again after 15 minutes"
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid credentials"
	case errors.Is(err, ErrNoOrganization):
		return "User is not associated with an organization"
	case errors.Is(err, ErrInvalidTokenType):
		return "Invalid token type"
	case errors.Is(err, ErrTokenExpired):
		return "Token expired, please login again"
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrUserInactive):
		return "User not found or inactive"
	case errors.Is(err, ErrInvalidToken):
		return "Invalid token"
	case errors.Is(err, ErrForbidden):
		return "Insufficient permissions"
	default:
		return "Internal error"
	}
}

func validationMessage(err error) string {
	msg := err.Error()
	prefix := ErrValidation.Error() + ": "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return "Invalid request"
}
