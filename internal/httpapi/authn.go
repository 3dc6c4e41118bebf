package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"beacon.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/login",
	"/refresh",
	"/api/auth/login",
	"/api/auth/refresh",
	"/metrics",
	"/healthz",
	"/readyz",
}

// withAuth resolves the bearer token on every non-public request and stores
// the identity on the context.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="beacon"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		id, err := a.auth.ResolveIdentity(r.Context(), token)
		if err != nil {
			writeAuthError(w, r, err)
			return
		}

		ctx := auth.ContextWithIdentity(r.Context(), id)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects requests whose identity holds none of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := auth.Require(r.Context(), roles...); err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="beacon"`)
				writeAuthError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
