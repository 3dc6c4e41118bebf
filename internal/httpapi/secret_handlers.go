package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"beacon.org/internal/audit"
	"beacon.org/internal/auth"
	"beacon.org/internal/secrets"
)

type putSecretRequest struct {
	Value string `json:"value"`
}

func (a *API) handleSecretsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id, err := auth.Require(r.Context())
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	list, err := a.vault.List(r.Context(), id.OrganizationID)
	if err != nil {
		handleSecretError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"secrets": list})
}

func (a *API) handleSecretResource(w http.ResponseWriter, r *http.Request) {
	name := secretName(r.URL.Path)
	if name == "" {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	id, err := auth.Require(r.Context(), auth.RoleAdmin)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	var req putSecretRequest
	if err := decodeStrictJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	masked, err := a.vault.Put(r.Context(), id.OrganizationID, name, req.Value)
	if err != nil {
		handleSecretError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "secrets.stored", map[string]any{
		"organization_id": id.OrganizationID,
		"name":            masked.Name,
	})
	writeJSON(w, http.StatusOK, masked)
}

func secretName(path string) string {
	for _, prefix := range []string{"/api/secrets/", "/secrets/"} {
		if strings.HasPrefix(path, prefix) {
			rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
			if rest == "" || strings.Contains(rest, "/") {
				return ""
			}
			return rest
		}
	}
	return ""
}

func handleSecretError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, secrets.ErrInvalidName), errors.Is(err, secrets.ErrEmptyValue):
		writeError(w, r, http.StatusBadRequest, strings.TrimPrefix(err.Error(), "secrets: "))
	case errors.Is(err, secrets.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "secret not found")
	default:
		writeAuthError(w, r, err)
	}
}
