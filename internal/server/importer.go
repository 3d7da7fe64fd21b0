package server

import (
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"watchdata/internal/ingest"
	"watchdata/internal/models"
	"watchdata/internal/storage"
)

func handleRescan(imp *ingest.Coordinator, store *storage.Storage, log *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.RecordEvent(r.Context(), models.EventRescanClicked, nil); err != nil {
			requestLog(log, r).WithError(err).Warn("failed to record rescan event")
		}

		res, err := imp.StartRescan(r.Context(), models.ReasonManual)
		if err != nil {
			requestLog(log, r).WithError(err).Error("rescan failed to start")
			writeErr(w, err)
			return
		}

		writeJSON(w, http.StatusOK, res)
	}
}

func handleImportStatus(imp *ingest.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := imp.Status(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// handleDataQuality serves ?runId=&limit=. A malformed limit falls back to
// the default.
func handleDataQuality(imp *ingest.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, err := strconv.Atoi(q.Get("limit"))
		if err != nil || limit < 1 {
			limit = ingest.DefaultSampleLimit
		}

		dq, err := imp.DataQuality(r.Context(), q.Get("runId"), limit)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, dq)
	}
}
