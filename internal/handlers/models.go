package handlers

import (
	"net/http"

	"github.com/ollamon/ollamon/internal/database"
	"github.com/ollamon/ollamon/internal/monitor"
)

// ModelsHandler serves model snapshots and triggers refreshes.
type ModelsHandler struct {
	Store   database.Store
	Monitor *monitor.Monitor
}

// List returns the rows of the most recent snapshot batch.
func (h *ModelsHandler) List(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Store.LatestModelSnapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query models")
		return
	}
	if rows == nil {
		rows = []database.ModelInfo{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// Refresh lists the upstream models and writes a new snapshot batch.
func (h *ModelsHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Monitor.RefreshModels(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to list upstream models")
		return
	}
	if rows == nil {
		rows = []database.ModelInfo{}
	}
	writeJSON(w, http.StatusOK, rows)
}
