package handlers

import (
	"net/http"

	"github.com/ollamon/ollamon/internal/database"
	"github.com/ollamon/ollamon/internal/monitor"
)

// StatusHandler answers upstream liveness queries with a fresh probe.
type StatusHandler struct {
	Monitor *monitor.Monitor
}

// Get probes the upstream server and reports the result.
func (h *StatusHandler) Get(w http.ResponseWriter, r *http.Request) {
	up := h.Monitor.ServerStatus(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"server_status": up,
		"timestamp":     database.Now(),
	})
}
