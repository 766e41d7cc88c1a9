package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ollamon/ollamon/internal/monitor"
)

// GenerateHandler runs the instrumented generation test.
type GenerateHandler struct {
	Monitor *monitor.Monitor
}

type generateRequest struct {
	Model string `json:"model"`
}

// Test issues one generation call against the requested model (or the
// pinned default) and returns the measured result.
func (h *GenerateHandler) Test(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if r.Body != nil {
		// An empty or absent body means "use the default model".
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	result, err := h.Monitor.TestGeneration(r.Context(), req.Model)
	if err != nil {
		if errors.Is(err, monitor.ErrNoModel) {
			writeError(w, http.StatusNotFound, "no model available; refresh models first or name one")
			return
		}
		writeError(w, http.StatusBadGateway, "generation test failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
