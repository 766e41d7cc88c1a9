package handlers

import (
	"net/http"

	"github.com/ollamon/ollamon/internal/database"
)

const defaultLogLimit = 100

// RequestLogsHandler serves the instrumented request history.
type RequestLogsHandler struct {
	Store database.Store
}

// List returns a limit/offset slice of the windowed request log,
// newest first. The slice is taken after the full windowed result is
// materialized, so offset pagination stays stable against the window
// boundary rather than the table.
func (h *RequestLogsHandler) List(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", defaultWindowHours)
	limit := queryInt(r, "limit", defaultLogLimit)
	offset := queryInt(r, "offset", 0)

	rows, err := h.Store.RecentRequestLogs(r.Context(), hours)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query request logs")
		return
	}

	if offset > len(rows) {
		offset = len(rows)
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	page := rows[offset:end]
	if page == nil {
		page = []database.RequestLog{}
	}
	writeJSON(w, http.StatusOK, page)
}
