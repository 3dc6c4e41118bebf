package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
	defaultIssuer     = "beacon"
	minSecretLen      = 16
)

var _ Signer = (*JWTSigner)(nil)

// JWTSigner signs HS256 JWTs with a shared secret.
type JWTSigner struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	leeway     time.Duration
	now        func() time.Time
}

// Option configures JWTSigner.
type Option func(*JWTSigner) error

// WithIssuer overrides the iss claim.
func WithIssuer(issuer string) Option {
	return func(s *JWTSigner) error {
		issuer = strings.TrimSpace(issuer)
		if issuer == "" {
			return errors.New("token: issuer must not be empty")
		}
		s.issuer = issuer
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *JWTSigner) error {
		if ttl <= 0 {
			return errors.New("token: access ttl must be positive")
		}
		s.accessTTL = ttl
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *JWTSigner) error {
		if ttl <= 0 {
			return errors.New("token: refresh ttl must be positive")
		}
		s.refreshTTL = ttl
		return nil
	}
}

// WithLeeway tolerates clock skew when checking exp, nbf and iat.
func WithLeeway(d time.Duration) Option {
	return func(s *JWTSigner) error {
		if d < 0 || d > 2*time.Minute {
			return errors.New("token: leeway must be between 0 and 2m")
		}
		s.leeway = d
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *JWTSigner) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewJWTSigner validates the secret and applies options.
func NewJWTSigner(secret string, opts ...Option) (*JWTSigner, error) {
	if len(strings.TrimSpace(secret)) < minSecretLen {
		return nil, fmt.Errorf("token: signing secret must be at least %d characters", minSecretLen)
	}
	s := &JWTSigner{
		secret:     []byte(secret),
		issuer:     defaultIssuer,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// AccessTTL reports the configured access token lifetime.
func (s *JWTSigner) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL reports the configured refresh token lifetime.
func (s *JWTSigner) RefreshTTL() time.Duration { return s.refreshTTL }

// SignAccess mints a short-lived token carrying the caller's identity.
func (s *JWTSigner) SignAccess(sub Subject) (Signed, error) {
	if strings.TrimSpace(sub.ID) == "" {
		return Signed{}, errors.New("token: subject id is required")
	}
	return s.sign(Claims{
		Type:           TypeAccess,
		Email:          sub.Email,
		Role:           sub.Role,
		OrganizationID: sub.OrganizationID,
	}, sub.ID, s.accessTTL)
}

// SignRefresh mints a long-lived token that only names the subject.
func (s *JWTSigner) SignRefresh(subjectID string) (Signed, error) {
	if strings.TrimSpace(subjectID) == "" {
		return Signed{}, errors.New("token: subject id is required")
	}
	return s.sign(Claims{Type: TypeRefresh}, subjectID, s.refreshTTL)
}

func (s *JWTSigner) sign(claims Claims, subject string, ttl time.Duration) (Signed, error) {
	now := s.now().UTC()
	exp := now.Add(ttl)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Signed{}, fmt.Errorf("sign token: %w", err)
	}
	// exp is encoded with second precision.
	return Signed{Token: signed, ExpiresAt: claims.ExpiresAt.Time, TTL: ttl}, nil
}

// Verify returns ErrExpired for a well-signed token past its expiry,
// ErrWrongType when the type claim differs from want and ErrInvalid for
// everything else.
func (s *JWTSigner) Verify(raw string, want Type) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalid
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
	)
	parsed, err := parser.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalid
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) && !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalid
	}
	if claims.Type != want {
		return nil, ErrWrongType
	}
	return claims, nil
}
