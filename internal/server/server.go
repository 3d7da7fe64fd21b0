// Package server exposes the import coordinator, dashboard reads and storage
// diagnostics over HTTP.
package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"watchdata/internal/auth"
	"watchdata/internal/catalog"
	"watchdata/internal/dashboard"
	"watchdata/internal/ingest"
	"watchdata/internal/storage"
)

// Config holds server configuration.
type Config struct {
	Addr               string
	MaxConcurrentQuery int
	Retention          storage.RetentionConfig
}

// Deps are the components the handlers serve. A nil Auth disables key checks.
type Deps struct {
	Store     *storage.Storage
	Importer  *ingest.Coordinator
	Dashboard *dashboard.Service
	Catalog   *catalog.Catalog
	Auth      *auth.Auth
	Log       *logrus.Logger
}

// New creates the HTTP server.
func New(cfg Config, d Deps) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      Handler(cfg, d),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Handler builds the routed and wrapped handler used by New.
func Handler(cfg Config, d Deps) http.Handler {
	mux := http.NewServeMux()

	querySem := NewSemaphore(cfg.MaxConcurrentQuery)
	overview := newOverviewGroup(d.Dashboard)

	// protect wraps h with key validation and a scope check when auth is on.
	protect := func(scope auth.Scope, h http.Handler) http.Handler {
		if d.Auth == nil {
			return h
		}
		return d.Auth.Middleware(auth.RequireScope(scope)(h))
	}

	// Always public
	mux.HandleFunc("GET /api/health", handleHealth(d.Store))
	mux.Handle("GET /metrics", promhttp.Handler())

	// Import
	mux.Handle("POST /api/import/rescan", protect(auth.ScopeImport, handleRescan(d.Importer, d.Store, d.Log)))
	mux.Handle("GET /api/import/status", protect(auth.ScopeRead, handleImportStatus(d.Importer)))
	mux.Handle("GET /api/data-quality", protect(auth.ScopeRead, handleDataQuality(d.Importer)))

	// Goals
	mux.Handle("GET /api/goals", protect(auth.ScopeRead, handleListGoals(d.Store)))
	mux.Handle("PUT /api/goals/{metric}", protect(auth.ScopeImport, handleSetGoal(d.Store, d.Catalog, d.Log)))

	// Dashboard
	mux.Handle("GET /api/dashboard/overview", protect(auth.ScopeRead, handleOverview(overview)))
	mux.Handle("GET /api/metrics/{metric}", protect(auth.ScopeRead, handleSeries(d.Dashboard)))
	mux.Handle("GET /api/events", protect(auth.ScopeRead, handleEvents(d.Store)))

	// Diagnostics
	mux.Handle("GET /stats", protect(auth.ScopeRead, handleStats(d.Store, cfg.Retention)))
	mux.Handle("POST /query", protect(auth.ScopeRead, querySem.Middleware(handleQuery(d.Store, d.Log))))

	// Admin endpoints
	if d.Auth != nil {
		mux.Handle("GET /admin/keys", protect(auth.ScopeAdmin, handleListKeys(d.Auth)))
		mux.Handle("POST /admin/keys", protect(auth.ScopeAdmin, handleCreateKey(d.Auth)))
		mux.Handle("DELETE /admin/keys/{id}", protect(auth.ScopeAdmin, handleRevokeKey(d.Auth)))
	}

	// Middleware execution order (request path):
	// requestID -> recovery -> sizeLimit -> gzip -> observe -> handler
	return chain(mux,
		requestIDMiddleware,
		recoveryMiddleware(d.Log),
		sizeLimitMiddleware,
		gzipMiddleware(d.Log),
		observeMiddleware(d.Log),
	)
}
