package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"beacon.org/internal/audit"
	"beacon.org/internal/auth"
	"beacon.org/internal/obs"
	"beacon.org/internal/ratelimit"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token        string             `json:"token"`
	RefreshToken string             `json:"refreshToken"`
	ExpiresIn    int64              `json:"expiresIn"`
	User         auth.Profile       `json:"user"`
	Organization *auth.Organization `json:"organization"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
}

type meResponse struct {
	User         auth.Profile       `json:"user"`
	Organization *auth.Organization `json:"organization"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.auth.Login(r.Context(), req.Email, req.Password, clientIP(r))
	if err != nil {
		_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{
			"email":  auth.NormalizeEmail(req.Email),
			"remote": clientIP(r),
			"reason": err.Error(),
		})
		writeAuthError(w, r, err)
		return
	}

	ctx := auth.ContextWithIdentity(r.Context(), res.Identity)
	_ = audit.LogEvent(ctx, "auth.login.succeeded", map[string]any{
		"organization_id": res.Identity.OrganizationID,
		"remote":          clientIP(r),
		"expires_at":      res.AccessExpiresAt.Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, loginResponse{
		Token:        res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresIn:    res.ExpiresIn,
		User:         res.Profile,
		Organization: res.Organization,
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		_ = audit.LogEvent(r.Context(), "auth.refresh.failed", map[string]any{
			"remote": clientIP(r),
			"reason": err.Error(),
		})
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.refresh.succeeded", map[string]any{
		"remote":     clientIP(r),
		"expires_at": res.AccessExpiresAt.Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, refreshResponse{Token: res.AccessToken, ExpiresIn: res.ExpiresIn})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id, err := auth.Require(r.Context())
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	profile, org, err := a.auth.Profile(r.Context(), id)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{User: profile, Organization: org})
}

// writeAuthError maps the auth taxonomy onto status codes. Only the public
// message reaches the client.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var rl *auth.RateLimitError
	switch {
	case errors.Is(err, auth.ErrValidation):
		writeError(w, r, http.StatusBadRequest, auth.PublicMessage(err))
	case errors.As(err, &rl):
		setRateLimitHeaders(w, rl.Decision, rl.RetryAfter())
		writeError(w, r, http.StatusTooManyRequests, auth.PublicMessage(err))
	case errors.Is(err, ratelimit.ErrCounterUnavailable):
		obs.Error("rate limit counter unavailable", err, map[string]any{"request_id": RequestIDFromContext(r.Context())})
		writeError(w, r, http.StatusServiceUnavailable, "Service temporarily unavailable")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, auth.PublicMessage(err))
	case auth.IsAuthentication(err):
		w.Header().Set("WWW-Authenticate", `Bearer realm="beacon"`)
		writeError(w, r, http.StatusUnauthorized, auth.PublicMessage(err))
	default:
		obs.Error("request failed", err, map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
		})
		writeError(w, r, http.StatusInternalServerError, auth.PublicMessage(err))
	}
}

func setRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision, retryAfter time.Duration) {
	secs := int64(math.Ceil(retryAfter.Seconds()))
	h := w.Header()
	h.Set("Retry-After", strconv.FormatInt(secs, 10))
	h.Set("RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("RateLimit-Reset", strconv.FormatInt(secs, 10))
}
