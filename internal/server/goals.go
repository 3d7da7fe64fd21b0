package server

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"watchdata/internal/catalog"
	"watchdata/internal/models"
	"watchdata/internal/storage"
)

func handleListGoals(store *storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		goals, err := store.ListGoals(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"goals": goals})
	}
}

func handleSetGoal(store *storage.Storage, cat *catalog.Catalog, log *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("metric")
		m, err := cat.Lookup(key)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Unknown metric: "+key)
			return
		}

		var req struct {
			TargetValue *float64 `json:"targetValue"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TargetValue == nil {
			writeError(w, http.StatusBadRequest, "targetValue must be a finite number")
			return
		}

		goal, err := store.SetGoal(r.Context(), m.Key, req.TargetValue, m.DisplayUnit)
		if err != nil {
			requestLog(log, r).WithError(err).Error("failed to set goal")
			writeErr(w, err)
			return
		}

		attrs := map[string]any{"metric": m.Key, "targetValue": *req.TargetValue}
		if err := store.RecordEvent(r.Context(), models.EventGoalUpdated, attrs); err != nil {
			requestLog(log, r).WithError(err).Warn("failed to record goal event")
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"metric":      goal.MetricKey,
			"targetValue": goal.TargetValue,
		})
	}
}
