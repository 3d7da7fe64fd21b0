package server

import (
	"context"
	"net/http"
	"time"

	"watchdata/internal/storage"
)

// HealthResponse is the JSON response for health checks.
type HealthResponse struct {
	OK       bool   `json:"ok"`
	Status   string `json:"status"`
	Database string `json:"database"`
	Time     string `json:"time"`
	Message  string `json:"message,omitempty"`
}

// handleHealth pings the store and reports 503 when it is unreachable.
func handleHealth(store *storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := HealthResponse{
			OK:       true,
			Status:   "healthy",
			Database: "connected",
			Time:     time.Now().UTC().Format(time.RFC3339),
		}
		status := http.StatusOK

		if err := store.Health(ctx); err != nil {
			resp.OK = false
			resp.Status = "unhealthy"
			resp.Database = "disconnected"
			resp.Message = err.Error()
			status = http.StatusServiceUnavailable
		}

		writeJSON(w, status, resp)
	}
}
