package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ollamon/ollamon/internal/metrics"
)

// ProxyHandler forwards calls to the upstream server verbatim. This
// path deliberately writes no request-log row; only the generation
// test is instrumented into the request log.
type ProxyHandler struct {
	upstream string
	client   *http.Client
}

// NewProxyHandler builds a proxy for the given upstream base URL with a
// fixed per-call timeout.
func NewProxyHandler(upstream string, timeout time.Duration) *ProxyHandler {
	return &ProxyHandler{
		upstream: strings.TrimRight(upstream, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

var proxyMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodDelete: true,
}

// Forward relays the inbound call to the upstream server and returns
// the upstream's status, headers, and body unchanged.
func (h *ProxyHandler) Forward(w http.ResponseWriter, r *http.Request) {
	if !proxyMethods[r.Method] {
		metrics.ProxyRequests.WithLabelValues(r.Method, "405").Inc()
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	path := chi.URLParam(r, "*")
	url := h.upstream + "/" + path
	if r.URL.RawQuery != "" {
		url += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, url, r.Body)
	if err != nil {
		metrics.ProxyRequests.WithLabelValues(r.Method, "500").Inc()
		writeError(w, http.StatusInternalServerError, "unexpected error occurred")
		return
	}
	// Copy headers; the Host header is rewritten to the upstream by
	// the transport.
	for name, values := range r.Header {
		if strings.EqualFold(name, "Host") {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		slog.Error("proxy request failed", "method", r.Method, "path", path, "error", err)
		metrics.ProxyRequests.WithLabelValues(r.Method, "502").Inc()
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":   "upstream request failed",
			"details": err.Error(),
		})
		return
	}
	defer resp.Body.Close()

	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		slog.Error("proxy response copy failed", "path", path, "error", err)
	}
	metrics.ProxyRequests.WithLabelValues(r.Method, strconv.Itoa(resp.StatusCode)).Inc()
}
