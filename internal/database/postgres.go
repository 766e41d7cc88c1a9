package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL. It is an alternative
// to the default embedded SQLite store for deployments that already run
// a database server; the relation and query semantics are identical.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres opens a connection to a PostgreSQL database.
func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &PostgresStore{db: db}, nil
}

// Migrate creates tables and indexes if they don't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, postgresSchema)
	return err
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// InsertSystemMetric writes one system metric sample in its own transaction.
func (s *PostgresStore) InsertSystemMetric(ctx context.Context, m SystemMetric) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp == "" {
		m.Timestamp = Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO system_metrics (
			id, timestamp, server_status, cpu_percent, memory_percent, disk_percent,
			network_bytes_sent, network_bytes_recv,
			ollama_cpu_percent, ollama_memory_percent, ollama_connections
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.ID, m.Timestamp, m.ServerUp, m.CPUPercent, m.MemoryPercent, m.DiskPercent,
		int64(m.NetworkBytesSent), int64(m.NetworkBytesRecv),
		m.ProcessCPUPercent, m.ProcessMemoryPercent, m.ProcessConnections,
	)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// InsertRequestLog writes one request log entry in its own transaction.
func (s *PostgresStore) InsertRequestLog(ctx context.Context, e RequestLog) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp == "" {
		e.Timestamp = Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO request_logs (
			id, timestamp, client_ip, model_name, input_tokens, output_tokens,
			response_time, status_code, endpoint
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.Timestamp, e.ClientIP, e.ModelName, e.InputTokens, e.OutputTokens,
		e.ResponseTime, e.StatusCode, e.Endpoint,
	)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// InsertModelSnapshot writes one snapshot batch in a single transaction.
func (s *PostgresStore) InsertModelSnapshot(ctx context.Context, timestamp string, models []ModelInfo) error {
	if timestamp == "" {
		timestamp = Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO models (id, timestamp, model_name, model_size, parameter_size, modified_at, model_family)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range models {
		id := m.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := stmt.ExecContext(ctx, id, timestamp, m.ModelName, m.ModelSize, m.ParameterSize, m.ModifiedAt, m.ModelFamily); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert model %s: %w", m.ModelName, err)
		}
	}
	return tx.Commit()
}

// RecentSystemMetrics returns samples in the trailing window, oldest first.
func (s *PostgresStore) RecentSystemMetrics(ctx context.Context, hours int) ([]SystemMetric, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, server_status, cpu_percent, memory_percent, disk_percent,
		        network_bytes_sent, network_bytes_recv,
		        ollama_cpu_percent, ollama_memory_percent, ollama_connections
		 FROM system_metrics
		 WHERE timestamp >= $1
		 ORDER BY timestamp ASC`,
		WindowStart(hours),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metrics []SystemMetric
	for rows.Next() {
		var m SystemMetric
		var sent, recv int64
		if err := rows.Scan(&m.ID, &m.Timestamp, &m.ServerUp, &m.CPUPercent, &m.MemoryPercent, &m.DiskPercent,
			&sent, &recv,
			&m.ProcessCPUPercent, &m.ProcessMemoryPercent, &m.ProcessConnections); err != nil {
			return nil, err
		}
		m.NetworkBytesSent = uint64(sent)
		m.NetworkBytesRecv = uint64(recv)
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// RecentRequestLogs returns log entries in the trailing window, newest first.
func (s *PostgresStore) RecentRequestLogs(ctx context.Context, hours int) ([]RequestLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, client_ip, model_name, input_tokens, output_tokens,
		        response_time, status_code, endpoint
		 FROM request_logs
		 WHERE timestamp >= $1
		 ORDER BY timestamp DESC`,
		WindowStart(hours),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []RequestLog
	for rows.Next() {
		var e RequestLog
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.ClientIP, &e.ModelName, &e.InputTokens, &e.OutputTokens,
			&e.ResponseTime, &e.StatusCode, &e.Endpoint); err != nil {
			return nil, err
		}
		logs = append(logs, e)
	}
	return logs, rows.Err()
}

// ClientIPStats groups windowed request logs by client address.
func (s *PostgresStore) ClientIPStats(ctx context.Context, hours int) ([]ClientIPStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT client_ip, COUNT(*) AS request_count, MAX(timestamp) AS last_request
		 FROM request_logs
		 WHERE timestamp >= $1
		 GROUP BY client_ip
		 ORDER BY request_count DESC`,
		WindowStart(hours),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []ClientIPStat
	for rows.Next() {
		var st ClientIPStat
		if err := rows.Scan(&st.ClientIP, &st.RequestCount, &st.LastRequest); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// ModelUsageStats groups windowed request logs by model name.
func (s *PostgresStore) ModelUsageStats(ctx context.Context, hours int) ([]ModelUsageStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model_name, COUNT(*) AS request_count,
		        SUM(input_tokens) AS total_input_tokens,
		        SUM(output_tokens) AS total_output_tokens,
		        AVG(response_time) AS avg_response_time,
		        MAX(timestamp) AS last_request
		 FROM request_logs
		 WHERE timestamp >= $1
		 GROUP BY model_name
		 ORDER BY request_count DESC`,
		WindowStart(hours),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []ModelUsageStat
	for rows.Next() {
		var st ModelUsageStat
		if err := rows.Scan(&st.ModelName, &st.RequestCount, &st.TotalInputTokens, &st.TotalOutputTokens,
			&st.AvgResponseTime, &st.LastRequest); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// LatestModelSnapshot returns all rows sharing the maximum timestamp.
func (s *PostgresStore) LatestModelSnapshot(ctx context.Context) ([]ModelInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, model_name, model_size, parameter_size, modified_at, model_family
		 FROM models
		 WHERE timestamp = (SELECT MAX(timestamp) FROM models)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var models []ModelInfo
	for rows.Next() {
		var m ModelInfo
		if err := rows.Scan(&m.ID, &m.Timestamp, &m.ModelName, &m.ModelSize, &m.ParameterSize, &m.ModifiedAt, &m.ModelFamily); err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS system_metrics (
	id TEXT PRIMARY KEY,
	timestamp TEXT NOT NULL,
	server_status BOOLEAN NOT NULL DEFAULT FALSE,
	cpu_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
	memory_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
	disk_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
	network_bytes_sent BIGINT NOT NULL DEFAULT 0,
	network_bytes_recv BIGINT NOT NULL DEFAULT 0,
	ollama_cpu_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
	ollama_memory_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
	ollama_connections INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_system_metrics_timestamp ON system_metrics(timestamp);

CREATE TABLE IF NOT EXISTS request_logs (
	id TEXT PRIMARY KEY,
	timestamp TEXT NOT NULL,
	client_ip TEXT NOT NULL DEFAULT '',
	model_name TEXT NOT NULL DEFAULT '',
	input_tokens BIGINT NOT NULL DEFAULT 0,
	output_tokens BIGINT NOT NULL DEFAULT 0,
	response_time DOUBLE PRECISION NOT NULL DEFAULT 0,
	status_code INTEGER NOT NULL DEFAULT 0,
	endpoint TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_request_logs_timestamp ON request_logs(timestamp);
CREATE INDEX IF NOT EXISTS idx_request_logs_client_ip ON request_logs(client_ip);
CREATE INDEX IF NOT EXISTS idx_request_logs_model_name ON request_logs(model_name);

CREATE TABLE IF NOT EXISTS models (
	id TEXT PRIMARY KEY,
	timestamp TEXT NOT NULL,
	model_name TEXT NOT NULL,
	model_size TEXT NOT NULL DEFAULT '',
	parameter_size TEXT NOT NULL DEFAULT '',
	modified_at TEXT NOT NULL DEFAULT '',
	model_family TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_models_timestamp ON models(timestamp);
`
