package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"watchdata/internal/auth"
)

type keyResponse struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Prefix     string  `json:"prefix"`
	Scopes     string  `json:"scopes"`
	CreatedAt  string  `json:"created_at"`
	ExpiresAt  *string `json:"expires_at,omitempty"`
	LastUsedAt *string `json:"last_used_at,omitempty"`
	Revoked    bool    `json:"revoked"`
}

func rfc3339(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func handleListKeys(a *auth.Auth) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := a.ListKeys(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		resp := make([]keyResponse, len(keys))
		for i, k := range keys {
			resp[i] = keyResponse{
				ID:         k.ID,
				Name:       k.Name,
				Prefix:     k.Prefix,
				Scopes:     k.Scopes.String(),
				CreatedAt:  k.CreatedAt.UTC().Format(time.RFC3339),
				ExpiresAt:  rfc3339(k.ExpiresAt),
				LastUsedAt: rfc3339(k.LastUsedAt),
				Revoked:    k.Revoked,
			}
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func handleCreateKey(a *auth.Auth) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name      string     `json:"name"`
			Scopes    string     `json:"scopes"` // comma-separated: "read,import"
			ExpiresAt *time.Time `json:"expires_at"`
		}

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if req.Name == "" {
			writeError(w, http.StatusBadRequest, "name is required")
			return
		}

		scopes, err := auth.ParseScopes(req.Scopes)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if scopes == 0 {
			writeError(w, http.StatusBadRequest, "at least one scope required (read, import, admin)")
			return
		}

		if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
			writeError(w, http.StatusBadRequest, "expires_at must be in the future")
			return
		}

		createdBy := ""
		if info := auth.KeyFromContext(r.Context()); info != nil {
			createdBy = info.ID
		}

		key, info, err := a.CreateKey(r.Context(), req.Name, scopes, req.ExpiresAt, createdBy)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{
			"id":     info.ID,
			"name":   info.Name,
			"key":    key, // only time the full key is returned
			"scopes": info.Scopes.String(),
		})
	}
}

func handleRevokeKey(a *auth.Auth) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := a.RevokeKey(r.Context(), r.PathValue("id"))
		if errors.Is(err, auth.ErrKeyNotFound) {
			writeError(w, http.StatusNotFound, "key not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
	}
}
