package token

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-signing-secret-0123456789"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newSigner(t *testing.T, clock *fakeClock, opts ...Option) *JWTSigner {
	t.Helper()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	s, err := NewJWTSigner(testSecret, opts...)
	if err != nil {
		t.Fatalf("NewJWTSigner: %v", err)
	}
	return s
}

func TestSignAndVerifyAccess(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := newSigner(t, clock)

	signed, err := s.SignAccess(Subject{ID: "user-1", Email: "a@example.com", Role: "ADMIN", OrganizationID: "org-1"})
	if err != nil {
		t.Fatalf("SignAccess: %v", err)
	}
	if signed.TTL != 15*time.Minute || !signed.ExpiresAt.Equal(clock.Now().Add(15*time.Minute)) {
		t.Fatalf("unexpected expiry: %+v", signed)
	}

	claims, err := s.Verify(signed.Token, TypeAccess)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-1" || claims.Email != "a@example.com" || claims.Role != "ADMIN" || claims.OrganizationID != "org-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ID == "" || claims.Issuer != "beacon" {
		t.Fatalf("registered claims missing: %+v", claims.RegisteredClaims)
	}
}

func TestRefreshTokenCarriesNoIdentity(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	s := newSigner(t, clock)
	signed, err := s.SignRefresh("user-1")
	if err != nil {
		t.Fatalf("SignRefresh: %v", err)
	}
	claims, err := s.Verify(signed.Token, TypeRefresh)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Email != "" || claims.Role != "" || claims.OrganizationID != "" {
		t.Fatalf("refresh token leaked identity claims: %+v", claims)
	}
	if signed.TTL != 7*24*time.Hour {
		t.Fatalf("unexpected refresh ttl: %v", signed.TTL)
	}
}

func TestVerifyRejectsWrongType(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	s := newSigner(t, clock)

	refresh, _ := s.SignRefresh("user-1")
	if _, err := s.Verify(refresh.Token, TypeAccess); !errors.Is(err, ErrWrongType) {
		t.Fatalf("refresh as access: expected ErrWrongType, got %v", err)
	}
	access, _ := s.SignAccess(Subject{ID: "user-1"})
	if _, err := s.Verify(access.Token, TypeRefresh); !errors.Is(err, ErrWrongType) {
		t.Fatalf("access as refresh: expected ErrWrongType, got %v", err)
	}
}

func TestVerifyExpired(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	s := newSigner(t, clock)

	access, _ := s.SignAccess(Subject{ID: "user-1"})
	refresh, _ := s.SignRefresh("user-1")

	clock.Advance(15*time.Minute + time.Second)
	if _, err := s.Verify(access.Token, TypeAccess); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired for access, got %v", err)
	}
	if _, err := s.Verify(refresh.Token, TypeRefresh); err != nil {
		t.Fatalf("refresh should still be valid: %v", err)
	}

	clock.Advance(7 * 24 * time.Hour)
	if _, err := s.Verify(refresh.Token, TypeRefresh); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired for refresh, got %v", err)
	}
}

func TestVerifyRejectsForgeries(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	s := newSigner(t, clock)
	access, _ := s.SignAccess(Subject{ID: "user-1", Role: "EMPLOYEE"})

	other, err := NewJWTSigner("another-secret-0123456789", WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewJWTSigner: %v", err)
	}
	forged, _ := other.SignAccess(Subject{ID: "user-1", Role: "ADMIN"})

	parts := strings.Split(access.Token, ".")
	swapped := parts[0] + "." + strings.Split(forged.Token, ".")[1] + "." + parts[2]

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Type: TypeAccess, RegisteredClaims: jwt.RegisteredClaims{
		Subject: "user-1", Issuer: "beacon", ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
	}})
	noneToken, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	for name, raw := range map[string]string{
		"empty":         "",
		"garbage":       "not.a.jwt",
		"other secret":  forged.Token,
		"payload swap":  swapped,
		"alg none":      noneToken,
		"truncated sig": access.Token[:len(access.Token)-4],
	} {
		if _, err := s.Verify(raw, TypeAccess); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: expected ErrInvalid, got %v", name, err)
		}
	}
}

func TestVerifyExpiredForgeryIsInvalid(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	other, _ := NewJWTSigner("another-secret-0123456789", WithClock(clock.Now))
	forged, _ := other.SignRefresh("user-1")
	clock.Advance(8 * 24 * time.Hour)

	s := newSigner(t, clock)
	if _, err := s.Verify(forged.Token, TypeRefresh); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for expired forgery, got %v", err)
	}
}

func TestVerifyRejectsOtherIssuer(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	s := newSigner(t, clock)
	foreign := newSigner(t, clock, WithIssuer("someone-else"))
	tok, _ := foreign.SignAccess(Subject{ID: "user-1"})
	if _, err := s.Verify(tok.Token, TypeAccess); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestNewJWTSignerValidation(t *testing.T) {
	if _, err := NewJWTSigner("short"); err == nil {
		t.Fatal("expected short secret to be rejected")
	}
	if _, err := NewJWTSigner(testSecret, WithAccessTTL(0)); err == nil {
		t.Fatal("expected zero access ttl to be rejected")
	}
	if _, err := NewJWTSigner(testSecret, WithRefreshTTL(-time.Hour)); err == nil {
		t.Fatal("expected negative refresh ttl to be rejected")
	}
	if _, err := NewJWTSigner(testSecret, WithLeeway(time.Hour)); err == nil {
		t.Fatal("expected large leeway to be rejected")
	}
	if _, err := NewJWTSigner(testSecret, WithIssuer(" ")); err == nil {
		t.Fatal("expected blank issuer to be rejected")
	}
	s, err := NewJWTSigner(testSecret, WithAccessTTL(time.Minute), WithRefreshTTL(time.Hour))
	if err != nil {
		t.Fatalf("NewJWTSigner: %v", err)
	}
	if s.AccessTTL() != time.Minute || s.RefreshTTL() != time.Hour {
		t.Fatalf("ttl options not applied")
	}
}

func TestSignRequiresSubject(t *testing.T) {
	s := newSigner(t, &fakeClock{now: time.Now()})
	if _, err := s.SignAccess(Subject{}); err == nil {
		t.Fatal("expected error for empty subject")
	}
	if _, err := s.SignRefresh(" "); err == nil {
		t.Fatal("expected error for blank subject")
	}
}
