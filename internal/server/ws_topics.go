package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ollamon/ollamon/internal/database"
)

const (
	republishInterval = 5 * time.Second
	republishWindow   = 1 // hours
)

// RegisterMetricsTopics adds the poll-and-republish generator: every
// few seconds it re-reads the newest persisted sample and rebroadcasts
// it. This runs alongside the sampler's direct push, so subscribers can
// see the same sample twice; each message is a complete last value.
func RegisterMetricsTopics(hub *Hub, store database.Store) {
	hub.AddGenerator(MetricsTopic, republishInterval, func() (json.RawMessage, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		rows, err := store.RecentSystemMetrics(ctx, republishWindow)
		if err != nil {
			slog.Debug("ws update_metrics: query failed", "error", err)
			return nil, err
		}
		if len(rows) == 0 {
			return nil, nil
		}
		return json.Marshal(rows[len(rows)-1])
	})
}
