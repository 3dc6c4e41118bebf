package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"beacon.org/internal/obs"
	"beacon.org/internal/ratelimit"
	"beacon.org/internal/token"
)

// Service authenticates credentials and manages the token lifecycle.
type Service struct {
	store   Store
	signer  token.Signer
	hasher  PasswordHasher
	limiter *ratelimit.Limiter
	refresh RefreshValidator

	dummyOnce sync.Once
	dummyHash string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithLimiter guards Login with limiter, keyed by client address.
func WithLimiter(l *ratelimit.Limiter) ServiceOption {
	return func(s *Service) error {
		s.limiter = l
		return nil
	}
}

// WithHasher overrides the password hasher.
func WithHasher(h PasswordHasher) ServiceOption {
	return func(s *Service) error {
		if h == nil {
			return errors.New("auth: hasher is nil")
		}
		s.hasher = h
		return nil
	}
}

// WithRefreshValidator replaces the signer-backed refresh check.
func WithRefreshValidator(v RefreshValidator) ServiceOption {
	return func(s *Service) error {
		if v == nil {
			return errors.New("auth: refresh validator is nil")
		}
		s.refresh = v
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, signer token.Signer, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if signer == nil {
		return nil, errors.New("auth: signer is required")
	}
	svc := &Service{store: store, signer: signer}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if svc.hasher == nil {
		h, err := NewBcryptHasher(0)
		if err != nil {
			return nil, err
		}
		svc.hasher = h
	}
	if svc.refresh == nil {
		svc.refresh = NewSignerRefreshValidator(signer)
	}
	return svc, nil
}

// Login checks email and password and issues a token pair. Every call counts
// against the limiter for clientAddr, whether or not it succeeds.
func (s *Service) Login(ctx context.Context, email, password, clientAddr string) (LoginResult, error) {
	ctx, span := obs.Tracer().Start(ctx, "auth.Login")
	defer span.End()

	res, outcome, err := s.login(ctx, email, password, clientAddr)
	obs.ObserveLogin(outcome)
	endSpan(span, outcome, err)
	return res, err
}

func (s *Service) login(ctx context.Context, email, password, clientAddr string) (LoginResult, string, error) {
	if s.limiter != nil {
		d, err := s.limiter.Attempt(ctx, clientAddr)
		if err != nil {
			return LoginResult{}, "error", err
		}
		if !d.Allowed {
			obs.ObserveRateLimited("login")
			return LoginResult{}, "rate_limited", &RateLimitError{Decision: d}
		}
	}

	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, "invalid_request", validationError("email and password are required")
	}

	cred, err := s.store.FindCredentialByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrUserNotFound):
		s.burnCompare(password)
		return LoginResult{}, "invalid_credentials", errUnknownEmail
	case err != nil:
		return LoginResult{}, "error", fmt.Errorf("auth: lookup credential: %w", err)
	}
	if !cred.HasPassword() {
		s.burnCompare(password)
		return LoginResult{}, "invalid_credentials", ErrPasswordNotSet
	}
	if err := s.hasher.Verify(cred.PasswordHash, password); err != nil {
		return LoginResult{}, "invalid_credentials", errPasswordMismatch
	}
	if !cred.IsActive {
		return LoginResult{}, "inactive", ErrUserInactive
	}
	if !cred.HasOrganization() {
		return LoginResult{}, "no_organization", ErrNoOrganization
	}

	org, err := s.organization(ctx, cred.OrganizationID)
	if err != nil {
		return LoginResult{}, "error", err
	}
	access, err := s.signer.SignAccess(subjectOf(cred))
	if err != nil {
		return LoginResult{}, "error", fmt.Errorf("auth: sign access token: %w", err)
	}
	refresh, err := s.signer.SignRefresh(cred.ID)
	if err != nil {
		return LoginResult{}, "error", fmt.Errorf("auth: sign refresh token: %w", err)
	}
	return LoginResult{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		ExpiresIn:        int64(access.TTL.Seconds()),
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
		Identity:         cred.Identity(),
		Profile:          cred.Profile(),
		Organization:     org,
	}, "success", nil
}

// Refresh exchanges a refresh token for a new access token. The refresh token
// itself is not rotated. The account is re-read so deactivation takes effect
// immediately.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	ctx, span := obs.Tracer().Start(ctx, "auth.Refresh")
	defer span.End()

	res, outcome, err := s.doRefresh(ctx, refreshToken)
	obs.ObserveRefresh(outcome)
	endSpan(span, outcome, err)
	return res, err
}

func (s *Service) doRefresh(ctx context.Context, raw string) (RefreshResult, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return RefreshResult{}, "invalid_request", validationError("refreshToken is required")
	}
	subjectID, err := s.refresh.ValidateRefresh(ctx, raw)
	if err != nil {
		return RefreshResult{}, outcomeOf(err), err
	}
	cred, err := s.store.FindCredentialByID(ctx, subjectID)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return RefreshResult{}, "user_not_found", ErrUserNotFound
	case err != nil:
		return RefreshResult{}, "error", fmt.Errorf("auth: lookup credential: %w", err)
	}
	if !cred.IsActive {
		return RefreshResult{}, "inactive", ErrUserInactive
	}
	if !cred.HasPassword() {
		return RefreshResult{}, "invalid_credentials", ErrPasswordNotSet
	}
	if !cred.HasOrganization() {
		return RefreshResult{}, "no_organization", ErrNoOrganization
	}
	access, err := s.signer.SignAccess(subjectOf(cred))
	if err != nil {
		return RefreshResult{}, "error", fmt.Errorf("auth: sign access token: %w", err)
	}
	return RefreshResult{
		AccessToken:     access.Token,
		ExpiresIn:       int64(access.TTL.Seconds()),
		AccessExpiresAt: access.ExpiresAt,
	}, "success", nil
}

// ResolveIdentity verifies an access token and returns the identity it
// asserts. It does not consult the store.
func (s *Service) ResolveIdentity(ctx context.Context, accessToken string) (Identity, error) {
	_, span := obs.Tracer().Start(ctx, "auth.ResolveIdentity")
	defer span.End()

	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		endSpan(span, "missing", ErrInvalidToken)
		return Identity{}, ErrInvalidToken
	}
	claims, err := s.signer.Verify(accessToken, token.TypeAccess)
	if err != nil {
		err = mapTokenError(err)
		endSpan(span, outcomeOf(err), err)
		return Identity{}, err
	}
	if claims.Subject == "" || strings.TrimSpace(claims.OrganizationID) == "" {
		endSpan(span, "invalid_token", ErrInvalidToken)
		return Identity{}, ErrInvalidToken
	}
	endSpan(span, "success", nil)
	return Identity{
		ID:             claims.Subject,
		Email:          claims.Email,
		Role:           claims.Role,
		OrganizationID: claims.OrganizationID,
	}, nil
}

// Profile loads the current record for an authenticated identity.
func (s *Service) Profile(ctx context.Context, id Identity) (Profile, *Organization, error) {
	cred, err := s.store.FindCredentialByID(ctx, id.ID)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return Profile{}, nil, ErrUserNotFound
	case err != nil:
		return Profile{}, nil, fmt.Errorf("auth: lookup credential: %w", err)
	}
	if !cred.HasOrganization() {
		return cred.Profile(), nil, nil
	}
	org, err := s.organization(ctx, cred.OrganizationID)
	if err != nil {
		return Profile{}, nil, err
	}
	return cred.Profile(), org, nil
}

func (s *Service) organization(ctx context.Context, id string) (*Organization, error) {
	org, err := s.store.FindOrganization(ctx, id)
	switch {
	case errors.Is(err, ErrOrganizationNotFound):
		return nil, ErrNoOrganization
	case err != nil:
		return nil, fmt.Errorf("auth: lookup organization: %w", err)
	}
	return org, nil
}

// burnCompare spends a hash comparison so unknown accounts take as long as
// known ones.
func (s *Service) burnCompare(password string) {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("beacon-timing-equalizer")
		if err == nil {
			s.dummyHash = hash
		}
	})
	if s.dummyHash != "" {
		_ = s.hasher.Verify(s.dummyHash, password)
	}
}

func subjectOf(c *Credential) token.Subject {
	return token.Subject{
		ID:             c.ID,
		Email:          c.Email,
		Role:           c.Role,
		OrganizationID: c.OrganizationID,
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrInvalidTokenType):
		return "wrong_type"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	default:
		return "error"
	}
}

func endSpan(span trace.Span, outcome string, err error) {
	span.SetAttributes(attribute.String("auth.outcome", outcome))
	if err != nil && !IsAuthentication(err) && !errors.Is(err, ErrRateLimited) && !errors.Is(err, ErrValidation) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "internal error")
	}
}
