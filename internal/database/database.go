package database

import (
	"context"
	"time"
)

// TimeFormat is the on-disk timestamp layout. It is ISO-8601 with a
// fixed-width fractional second so that lexicographic order on the
// stored text matches chronological order. Timestamps carry the local
// clock offset; no timezone normalization is applied.
const TimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Now returns the current local time in the storage layout.
func Now() string {
	return time.Now().Format(TimeFormat)
}

// WindowStart returns the lower bound of a trailing window of the given
// number of hours, computed against the wall clock at call time.
func WindowStart(hours int) string {
	return time.Now().Add(-time.Duration(hours) * time.Hour).Format(TimeFormat)
}

// Store is the persistence interface for the three time-series
// relations. All rows are write-once; there are no updates or deletes.
type Store interface {
	// Migrate creates tables and indexes. Safe to call on every start.
	Migrate(ctx context.Context) error
	// Close closes the database connection.
	Close() error

	// Writes. Each call runs in its own transaction and commits before
	// returning; failures surface to the caller and are never retried.
	InsertSystemMetric(ctx context.Context, m SystemMetric) error
	InsertRequestLog(ctx context.Context, e RequestLog) error
	InsertModelSnapshot(ctx context.Context, timestamp string, models []ModelInfo) error

	// Windowed reads. The window is [now - hours, now], evaluated at
	// query time.
	RecentSystemMetrics(ctx context.Context, hours int) ([]SystemMetric, error)
	RecentRequestLogs(ctx context.Context, hours int) ([]RequestLog, error)
	ClientIPStats(ctx context.Context, hours int) ([]ClientIPStat, error)
	ModelUsageStats(ctx context.Context, hours int) ([]ModelUsageStat, error)

	// LatestModelSnapshot returns every row of the most recent snapshot
	// batch (all rows sharing the maximum timestamp).
	LatestModelSnapshot(ctx context.Context) ([]ModelInfo, error)
}

// SystemMetric is one timestamped reading of host, process, and
// upstream-liveness state.
type SystemMetric struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	ServerUp  bool   `json:"server_status"`

	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskPercent   float64 `json:"disk_percent"`

	// Cumulative counters since host boot, not deltas.
	NetworkBytesSent uint64 `json:"network_bytes_sent"`
	NetworkBytesRecv uint64 `json:"network_bytes_recv"`

	// Watched-process metrics. Zero values when the process was not
	// found; ProcessConnections is -1 when connection introspection was
	// denied by the host.
	ProcessCPUPercent    float64 `json:"ollama_cpu_percent"`
	ProcessMemoryPercent float64 `json:"ollama_memory_percent"`
	ProcessConnections   int     `json:"ollama_connections"`
}

// RequestLog records one completed, instrumented inference call.
type RequestLog struct {
	ID           string  `json:"id"`
	Timestamp    string  `json:"timestamp"`
	ClientIP     string  `json:"client_ip"`
	ModelName    string  `json:"model_name"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	ResponseTime float64 `json:"response_time"` // seconds
	StatusCode   int     `json:"status_code"`
	Endpoint     string  `json:"endpoint"` // logical route label, not URL
}

// ModelInfo is one model row of a snapshot batch. All rows written by
// one refresh share a timestamp; sizes are kept as text because the
// upstream's units vary.
type ModelInfo struct {
	ID            string `json:"id"`
	Timestamp     string `json:"timestamp"`
	ModelName     string `json:"model_name"`
	ModelSize     string `json:"model_size"`
	ParameterSize string `json:"parameter_size"`
	ModifiedAt    string `json:"modified_at"`
	ModelFamily   string `json:"model_family"`
}

// ClientIPStat is one row of the per-client aggregation.
type ClientIPStat struct {
	ClientIP     string `json:"client_ip"`
	RequestCount int64  `json:"request_count"`
	LastRequest  string `json:"last_request"`
}

// ModelUsageStat is one row of the per-model aggregation.
type ModelUsageStat struct {
	ModelName         string  `json:"model_name"`
	RequestCount      int64   `json:"request_count"`
	TotalInputTokens  int64   `json:"total_input_tokens"`
	TotalOutputTokens int64   `json:"total_output_tokens"`
	AvgResponseTime   float64 `json:"avg_response_time"`
	LastRequest       string  `json:"last_request"`
}
