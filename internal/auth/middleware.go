package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

type keyInfoKey struct{}

// KeyFromContext returns the KeyInfo from context.
func KeyFromContext(ctx context.Context) *KeyInfo {
	if v, ok := ctx.Value(keyInfoKey{}).(*KeyInfo); ok {
		return v
	}
	return nil
}

// WithKey returns ctx carrying info.
func WithKey(ctx context.Context, info *KeyInfo) context.Context {
	return context.WithValue(ctx, keyInfoKey{}, info)
}

// Middleware returns an auth middleware that validates API keys.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := extractKey(r)
		if key == "" {
			authError(w, "missing authorization", http.StatusUnauthorized)
			return
		}

		if !strings.HasPrefix(key, KeyPrefix) {
			authError(w, "invalid key format", http.StatusUnauthorized)
			return
		}

		info, err := a.ValidateKey(r.Context(), key)
		if err != nil {
			a.log.WithFields(logrus.Fields{
				"path":   r.URL.Path,
				"remote": r.RemoteAddr,
			}).WithError(err).Warn("auth failed")

			switch {
			case errors.Is(err, ErrKeyRevoked):
				authError(w, "key revoked", http.StatusUnauthorized)
			case errors.Is(err, ErrKeyExpired):
				authError(w, "key expired", http.StatusUnauthorized)
			default:
				authError(w, "invalid key", http.StatusUnauthorized)
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(WithKey(r.Context(), info)))
	})
}

// RequireScope returns middleware that checks for required scope.
func RequireScope(scope Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := KeyFromContext(r.Context())
			if info == nil {
				authError(w, "missing authorization", http.StatusUnauthorized)
				return
			}

			if !info.Scopes.Has(scope) {
				authError(w, "insufficient permissions", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func extractKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}

	return r.Header.Get("X-API-Key")
}

func authError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
