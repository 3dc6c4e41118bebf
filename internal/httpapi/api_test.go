package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"beacon.org/internal/auth"
	"beacon.org/internal/crypto"
	"beacon.org/internal/ratelimit"
	"beacon.org/internal/secrets"
	"beacon.org/internal/store/sqlstore"
	"beacon.org/internal/token"
)

const (
	testPassword = "hunter2-but-longer"
	testKey      = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
)

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

type apiClient struct {
	baseURL string
	client  *http.Client
	clock   *fakeClock
	store   *sqlstore.Store
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()
	ctx := context.Background()
	clock := &fakeClock{now: time.Now().UTC().Truncate(time.Second)}

	store, err := sqlstore.Open("sqlite", filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("sqlstore.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	hasher, err := auth.NewBcryptHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	hash, err := hasher.Hash(testPassword)
	if err != nil {
		t.Fatal(err)
	}
	org, err := store.UpsertOrganization(ctx, auth.Organization{ID: "org-1", Name: "Acme"})
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range []auth.Credential{
		{ID: "u-admin", Email: "admin@example.com", Name: "Ada", Role: auth.RoleAdmin, PasswordHash: hash, OrganizationID: org.ID, IsActive: true},
		{ID: "u-staff", Email: "staff@example.com", Name: "Sam", Role: auth.RoleEmployee, PasswordHash: hash, OrganizationID: org.ID, IsActive: true},
	} {
		if _, err := store.CreateCredential(ctx, c); err != nil {
			t.Fatalf("CreateCredential: %v", err)
		}
	}

	signer, err := token.NewJWTSigner("http-test-secret-0123456789", token.WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	limiter, err := ratelimit.New(ratelimit.NewMemoryCounter(clock.Now), 5, 15*time.Minute, ratelimit.WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	svc, err := auth.NewService(store, signer, auth.WithHasher(hasher), auth.WithLimiter(limiter))
	if err != nil {
		t.Fatal(err)
	}
	enc, err := crypto.NewService(crypto.MustLoadKey(testKey))
	if err != nil {
		t.Fatal(err)
	}

	api := New(svc, secrets.NewVault(store, enc), ReadyProbe{DB: store.DB()}, Options{
		Version:    "test",
		RatePerSec: 1000,
		RateBurst:  1000,
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{baseURL: srv.URL, client: srv.Client(), clock: clock, store: store, t: t}
}

func (c *apiClient) do(method, path string, body any, bearerToken string) (*http.Response, map[string]any) {
	c.t.Helper()
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
		c.t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp, out
}

func (c *apiClient) login(email, password string) (*http.Response, map[string]any) {
	c.t.Helper()
	return c.do(http.MethodPost, "/login", map[string]string{"email": email, "password": password}, "")
}

func TestLoginRefreshMeFlow(t *testing.T) {
	c := newTestAPI(t)

	resp, body := c.login("Admin@Example.com", testPassword)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: %d %v", resp.StatusCode, body)
	}
	if body["expiresIn"] != float64(900) {
		t.Fatalf("expiresIn = %v", body["expiresIn"])
	}
	user, _ := body["user"].(map[string]any)
	if user["id"] != "u-admin" || user["organizationId"] != "org-1" {
		t.Fatalf("unexpected user %v", user)
	}
	if _, leaked := user["passwordHash"]; leaked {
		t.Fatal("password hash leaked")
	}
	org, _ := body["organization"].(map[string]any)
	if org["name"] != "Acme" {
		t.Fatalf("unexpected organization %v", org)
	}
	access := body["token"].(string)
	refresh := body["refreshToken"].(string)

	resp, body = c.do(http.MethodGet, "/me", nil, access)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %v", resp.StatusCode, body)
	}

	// The refresh token is not an access token.
	resp, _ = c.do(http.MethodGet, "/api/auth/me", nil, refresh)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("refresh token accepted as access: %d", resp.StatusCode)
	}

	c.clock.Advance(20 * time.Minute)
	resp, body = c.do(http.MethodGet, "/me", nil, access)
	if resp.StatusCode != http.StatusUnauthorized || body["error"] != "Token expired, please login again" {
		t.Fatalf("expired access: %d %v", resp.StatusCode, body)
	}

	resp, body = c.do(http.MethodPost, "/api/auth/refresh", map[string]string{"refreshToken": refresh}, "")
	if resp.StatusCode != http.StatusOK || body["expiresIn"] != float64(900) {
		t.Fatalf("refresh: %d %v", resp.StatusCode, body)
	}
	fresh := body["token"].(string)
	resp, _ = c.do(http.MethodGet, "/me", nil, fresh)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me with refreshed token: %d", resp.StatusCode)
	}

	resp, body = c.do(http.MethodPost, "/refresh", map[string]string{"refreshToken": fresh}, "")
	if resp.StatusCode != http.StatusUnauthorized || body["error"] != "Invalid token type" {
		t.Fatalf("access as refresh: %d %v", resp.StatusCode, body)
	}

	// Expiry is checked before the token type.
	resp, body = c.do(http.MethodPost, "/refresh", map[string]string{"refreshToken": access}, "")
	if resp.StatusCode != http.StatusUnauthorized || body["error"] != "Token expired, please login again" {
		t.Fatalf("expired access as refresh: %d %v", resp.StatusCode, body)
	}

	c.clock.Advance(7 * 24 * time.Hour)
	resp, body = c.do(http.MethodPost, "/refresh", map[string]string{"refreshToken": refresh}, "")
	if resp.StatusCode != http.StatusUnauthorized || body["error"] != "Token expired, please login again" {
		t.Fatalf("expired refresh: %d %v", resp.StatusCode, body)
	}
}

func TestAuthRoutesIgnoreExtraFields(t *testing.T) {
	c := newTestAPI(t)
	resp, body := c.do(http.MethodPost, "/api/auth/login", map[string]any{
		"email":      "admin@example.com",
		"password":   testPassword,
		"rememberMe": true,
	}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login with extra field: %d %v", resp.StatusCode, body)
	}
	resp, body = c.do(http.MethodPost, "/refresh", map[string]any{
		"refreshToken": body["refreshToken"],
		"client":       "web",
	}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh with extra field: %d %v", resp.StatusCode, body)
	}

	resp, body = c.do(http.MethodPost, "/login", map[string]any{"email": "admin@example.com"}, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing password: %d %v", resp.StatusCode, body)
	}
}

func TestLoginRateLimit(t *testing.T) {
	c := newTestAPI(t)
	for i := 0; i < 5; i++ {
		resp, body := c.login("admin@example.com", "wrong")
		if resp.StatusCode != http.StatusUnauthorized || body["error"] != "Invalid credentials" {
			t.Fatalf("attempt %d: %d %v", i+1, resp.StatusCode, body)
		}
	}
	resp, body := c.login("admin@example.com", testPassword)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("6th attempt: %d %v", resp.StatusCode, body)
	}
	if resp.Header.Get("Retry-After") != "900" || resp.Header.Get("RateLimit-Limit") != "5" {
		t.Fatalf("rate limit headers: %v", resp.Header)
	}
	if !strings.Contains(body["error"].(string), "15 minutes") {
		t.Fatalf("unexpected message %v", body["error"])
	}

	c.clock.Advance(15 * time.Minute)
	if resp, body := c.login("admin@example.com", testPassword); resp.StatusCode != http.StatusOK {
		t.Fatalf("after window: %d %v", resp.StatusCode, body)
	}
}

func TestLoginErrorsAreGeneric(t *testing.T) {
	c := newTestAPI(t)
	if err := c.store.SetPasswordHash(context.Background(), "u-staff", ""); err != nil {
		t.Fatal(err)
	}
	_, unknown := c.login("nobody@example.com", testPassword)
	_, noPassword := c.login("staff@example.com", testPassword)
	_, wrong := c.login("admin@example.com", "nope")
	if unknown["error"] != wrong["error"] || noPassword["error"] != wrong["error"] {
		t.Fatalf("messages differ: %v / %v / %v", unknown, noPassword, wrong)
	}

	resp, body := c.do(http.MethodPost, "/login", map[string]string{"email": "admin@example.com"}, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing password: %d %v", resp.StatusCode, body)
	}
	resp, _ = c.do(http.MethodPost, "/login", map[string]any{"email": "a", "password": "b", "extra": 1}, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown field: %d", resp.StatusCode)
	}
	resp, _ = c.do(http.MethodGet, "/login", nil, "")
	if resp.StatusCode != http.StatusMethodNotAllowed || resp.Header.Get("Allow") != http.MethodPost {
		t.Fatalf("GET /login: %d", resp.StatusCode)
	}
}

func TestInactiveUserCannotRefresh(t *testing.T) {
	c := newTestAPI(t)
	_, body := c.login("staff@example.com", testPassword)
	refresh := body["refreshToken"].(string)
	if err := c.store.SetActive(context.Background(), "u-staff", false); err != nil {
		t.Fatal(err)
	}
	resp, body := c.do(http.MethodPost, "/refresh", map[string]string{"refreshToken": refresh}, "")
	if resp.StatusCode != http.StatusUnauthorized || body["error"] != "User not found or inactive" {
		t.Fatalf("inactive refresh: %d %v", resp.StatusCode, body)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	c := newTestAPI(t)
	for _, path := range []string{"/me", "/api/auth/me", "/secrets"} {
		resp, body := c.do(http.MethodGet, path, nil, "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: %d %v", path, resp.StatusCode, body)
		}
		if resp.Header.Get("WWW-Authenticate") == "" || body["request_id"] == nil {
			t.Fatalf("%s: missing challenge or request id", path)
		}
	}
	resp, _ := c.do(http.MethodGet, "/me", nil, "garbage")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token: %d", resp.StatusCode)
	}
}

func TestSecretsEndpoints(t *testing.T) {
	c := newTestAPI(t)
	_, body := c.login("admin@example.com", testPassword)
	admin := body["token"].(string)
	_, body = c.login("staff@example.com", testPassword)
	staff := body["token"].(string)

	resp, body := c.do(http.MethodPut, "/secrets/slack.webhook", map[string]string{"value": "https://hooks.example.com/T000/B000/XXXX"}, admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put: %d %v", resp.StatusCode, body)
	}
	if body["preview"] != "https://"+crypto.MaskSequence+"XXXX" {
		t.Fatalf("preview = %v", body["preview"])
	}

	resp, _ = c.do(http.MethodPut, "/api/secrets/slack.webhook", map[string]string{"value": "x"}, staff)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("staff put: %d", resp.StatusCode)
	}
	resp, _ = c.do(http.MethodPut, "/secrets/-bad", map[string]string{"value": "x"}, admin)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad name: %d", resp.StatusCode)
	}
	resp, _ = c.do(http.MethodPut, "/secrets/other", map[string]string{"value": "x", "valu": "typo"}, admin)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown field on secret write: %d", resp.StatusCode)
	}

	resp, body = c.do(http.MethodGet, "/secrets", nil, staff)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %v", resp.StatusCode, body)
	}
	list, _ := body["secrets"].([]any)
	if len(list) != 1 {
		t.Fatalf("expected one secret, got %v", body)
	}
	raw, _ := json.Marshal(list)
	if strings.Contains(string(raw), "T000/B000") {
		t.Fatalf("plaintext leaked in list: %s", raw)
	}
}

func TestHealthAndReady(t *testing.T) {
	c := newTestAPI(t)
	resp, body := c.do(http.MethodGet, "/healthz", nil, "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz: %d %v", resp.StatusCode, body)
	}
	resp, body = c.do(http.MethodGet, "/readyz", nil, "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ready" {
		t.Fatalf("readyz: %d %v", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID")
	}
}
