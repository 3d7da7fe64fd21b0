package server

import (
	"net/http"
	"strconv"

	"watchdata/internal/storage"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

func handleEvents(store *storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, err := strconv.Atoi(q.Get("limit"))
		if err != nil || limit < 1 {
			limit = defaultEventLimit
		}
		limit = min(limit, maxEventLimit)

		events, err := store.ListEvents(r.Context(), q.Get("name"), limit)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": events})
	}
}
