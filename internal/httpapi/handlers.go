package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"beacon.org/internal/auth"
	"beacon.org/internal/obs"
	"beacon.org/internal/secrets"
)

const serviceName = "beacon-auth"

type readinessChecker interface {
	Check(ctx context.Context) error
}

type pinger interface {
	PingContext(ctx context.Context) error
}

// ReadyProbe reports ready when the database answers a ping.
type ReadyProbe struct {
	DB pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options tunes the HTTP surface.
type Options struct {
	Version      string
	CORSOrigin   string
	TrustProxy   bool
	RatePerSec   int
	RateBurst    int
	MaxBodyBytes int64
}

// API is the HTTP layer over the authentication service.
type API struct {
	mux   *http.ServeMux
	auth  *auth.Service
	vault *secrets.Vault
	ready readinessChecker
	opts  Options
}

// New builds the API. vault may be nil, which leaves the secret routes
// unmounted.
func New(svc *auth.Service, vault *secrets.Vault, ready readinessChecker, opts Options) *API {
	if ready == nil {
		ready = ReadyProbe{}
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 20
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 2 * opts.RatePerSec
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	a := &API{
		mux:   http.NewServeMux(),
		auth:  svc,
		vault: vault,
		ready: ready,
		opts:  opts,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	for _, prefix := range []string{"", "/api/auth"} {
		a.mux.HandleFunc(prefix+"/login", a.handleLogin)
		a.mux.HandleFunc(prefix+"/refresh", a.handleRefresh)
		a.mux.HandleFunc(prefix+"/me", a.handleMe)
	}
	if vault != nil {
		for _, prefix := range []string{"", "/api"} {
			a.mux.HandleFunc(prefix+"/secrets", a.handleSecretsCollection)
			a.mux.Handle(prefix+"/secrets/", RequireRole(auth.RoleAdmin)(http.HandlerFunc(a.handleSecretResource)))
		}
	}

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.withAuth(a.mux)
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = RateLimit(h, a.opts.RateBurst, a.opts.RatePerSec)
	h = CORS(h, a.opts.CORSOrigin)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RealIP(h, a.opts.TrustProxy)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		obs.SetReady(false)
		obs.Error("readiness check failed", err, map[string]any{"request_id": RequestIDFromContext(r.Context())})
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

// decodeJSON reads a single JSON object into dst. Unknown fields are ignored
// so clients may send extra properties to the auth routes.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return decodeBody(w, r, dst, false)
}

// decodeStrictJSON is decodeJSON that rejects unknown fields.
func decodeStrictJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return decodeBody(w, r, dst, true)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any, strict bool) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errors.New("request body too large")
		}
		return errors.New("malformed JSON body")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}
