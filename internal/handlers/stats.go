package handlers

import (
	"net/http"

	"github.com/ollamon/ollamon/internal/database"
)

// StatsHandler serves the derived aggregates over the request log.
type StatsHandler struct {
	Store database.Store
}

// Models returns per-model usage aggregates, busiest model first.
func (h *StatsHandler) Models(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", defaultWindowHours)

	stats, err := h.Store.ModelUsageStats(r.Context(), hours)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query model stats")
		return
	}
	if stats == nil {
		stats = []database.ModelUsageStat{}
	}
	writeJSON(w, http.StatusOK, stats)
}

// IPs returns per-client aggregates, busiest client first.
func (h *StatsHandler) IPs(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", defaultWindowHours)

	stats, err := h.Store.ClientIPStats(r.Context(), hours)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query client stats")
		return
	}
	if stats == nil {
		stats = []database.ClientIPStat{}
	}
	writeJSON(w, http.StatusOK, stats)
}

// RequestSummary is the windowed roll-up over all logged requests.
type RequestSummary struct {
	TotalRequests      int     `json:"total_requests"`
	TotalInputTokens   int64   `json:"total_input_tokens"`
	TotalOutputTokens  int64   `json:"total_output_tokens"`
	AvgResponseTime    float64 `json:"avg_response_time"`
	MostActiveEndpoint *string `json:"most_active_endpoint"`
}

// Requests computes the summary over the windowed request log. The
// busiest endpoint is picked by raw count; on a tie the endpoint seen
// first in the log wins.
func (h *StatsHandler) Requests(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", defaultWindowHours)

	logs, err := h.Store.RecentRequestLogs(r.Context(), hours)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query request logs")
		return
	}

	summary := RequestSummary{TotalRequests: len(logs)}
	var totalResponseTime float64
	counts := make(map[string]int)
	var order []string
	for _, log := range logs {
		summary.TotalInputTokens += log.InputTokens
		summary.TotalOutputTokens += log.OutputTokens
		totalResponseTime += log.ResponseTime
		if _, seen := counts[log.Endpoint]; !seen {
			order = append(order, log.Endpoint)
		}
		counts[log.Endpoint]++
	}
	if len(logs) > 0 {
		summary.AvgResponseTime = totalResponseTime / float64(len(logs))
	}
	best := -1
	for _, ep := range order {
		if counts[ep] > best {
			best = counts[ep]
			e := ep
			summary.MostActiveEndpoint = &e
		}
	}
	writeJSON(w, http.StatusOK, summary)
}
