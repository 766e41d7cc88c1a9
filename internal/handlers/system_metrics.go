package handlers

import (
	"net/http"

	"github.com/ollamon/ollamon/internal/database"
)

const defaultWindowHours = 24

// SystemMetricsHandler serves the raw sample history.
type SystemMetricsHandler struct {
	Store database.Store
}

// List returns windowed samples, oldest first.
func (h *SystemMetricsHandler) List(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", defaultWindowHours)

	rows, err := h.Store.RecentSystemMetrics(r.Context(), hours)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query system metrics")
		return
	}
	if rows == nil {
		rows = []database.SystemMetric{}
	}
	writeJSON(w, http.StatusOK, rows)
}
