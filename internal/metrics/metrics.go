// Package metrics exposes the monitor's own operational counters in
// Prometheus exposition format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SamplesCollected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ollamon_samples_collected_total",
		Help: "System metric samples written to the store.",
	})
	SampleFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ollamon_sample_failures_total",
		Help: "Sampler iterations that failed to collect or persist.",
	})
	ProxyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ollamon_proxy_requests_total",
		Help: "Requests forwarded to the upstream server, by method and status.",
	}, []string{"method", "status"})
	GenerationTests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ollamon_generation_tests_total",
		Help: "Instrumented generation test runs, by outcome.",
	}, []string{"outcome"})
	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ollamon_websocket_clients",
		Help: "Currently connected websocket clients.",
	})
	UpstreamUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ollamon_upstream_up",
		Help: "Whether the last upstream probe succeeded.",
	})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
