package database

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MockStore is an in-memory implementation of the Store interface for
// testing. It mirrors the windowing, ordering, and grouping semantics
// of the SQL stores.
type MockStore struct {
	mu      sync.Mutex
	metrics []SystemMetric
	logs    []RequestLog
	models  []ModelInfo

	failWrites error
}

// NewMockStore returns an initialized MockStore.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// SetFailWrites makes every subsequent write return err (nil clears it).
func (m *MockStore) SetFailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = err
}

// Migrate is a no-op for the mock store.
func (m *MockStore) Migrate(_ context.Context) error { return nil }

// Close is a no-op for the mock store.
func (m *MockStore) Close() error { return nil }

// InsertSystemMetric appends a sample to the in-memory slice.
func (m *MockStore) InsertSystemMetric(_ context.Context, sample SystemMetric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return m.failWrites
	}
	if sample.ID == "" {
		sample.ID = uuid.NewString()
	}
	if sample.Timestamp == "" {
		sample.Timestamp = Now()
	}
	m.metrics = append(m.metrics, sample)
	return nil
}

// InsertRequestLog appends a log entry to the in-memory slice.
func (m *MockStore) InsertRequestLog(_ context.Context, entry RequestLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return m.failWrites
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp == "" {
		entry.Timestamp = Now()
	}
	m.logs = append(m.logs, entry)
	return nil
}

// InsertModelSnapshot appends a snapshot batch sharing one timestamp.
func (m *MockStore) InsertModelSnapshot(_ context.Context, timestamp string, models []ModelInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return m.failWrites
	}
	if timestamp == "" {
		timestamp = Now()
	}
	for _, mi := range models {
		if mi.ID == "" {
			mi.ID = uuid.NewString()
		}
		mi.Timestamp = timestamp
		m.models = append(m.models, mi)
	}
	return nil
}

// RecentSystemMetrics returns windowed samples, oldest first.
func (m *MockStore) RecentSystemMetrics(_ context.Context, hours int) ([]SystemMetric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := WindowStart(hours)
	var out []SystemMetric
	for _, s := range m.metrics {
		if s.Timestamp >= cutoff {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// RecentRequestLogs returns windowed log entries, newest first.
func (m *MockStore) RecentRequestLogs(_ context.Context, hours int) ([]RequestLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := WindowStart(hours)
	var out []RequestLog
	for _, e := range m.logs {
		if e.Timestamp >= cutoff {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out, nil
}

// ClientIPStats groups windowed log entries by client address.
func (m *MockStore) ClientIPStats(_ context.Context, hours int) ([]ClientIPStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := WindowStart(hours)
	byIP := make(map[string]*ClientIPStat)
	for _, e := range m.logs {
		if e.Timestamp < cutoff {
			continue
		}
		st, ok := byIP[e.ClientIP]
		if !ok {
			st = &ClientIPStat{ClientIP: e.ClientIP}
			byIP[e.ClientIP] = st
		}
		st.RequestCount++
		if e.Timestamp > st.LastRequest {
			st.LastRequest = e.Timestamp
		}
	}
	out := make([]ClientIPStat, 0, len(byIP))
	for _, st := range byIP {
		out = append(out, *st)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RequestCount > out[j].RequestCount })
	return out, nil
}

// ModelUsageStats groups windowed log entries by model name.
func (m *MockStore) ModelUsageStats(_ context.Context, hours int) ([]ModelUsageStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := WindowStart(hours)
	byModel := make(map[string]*ModelUsageStat)
	totals := make(map[string]float64)
	for _, e := range m.logs {
		if e.Timestamp < cutoff {
			continue
		}
		st, ok := byModel[e.ModelName]
		if !ok {
			st = &ModelUsageStat{ModelName: e.ModelName}
			byModel[e.ModelName] = st
		}
		st.RequestCount++
		st.TotalInputTokens += e.InputTokens
		st.TotalOutputTokens += e.OutputTokens
		totals[e.ModelName] += e.ResponseTime
		if e.Timestamp > st.LastRequest {
			st.LastRequest = e.Timestamp
		}
	}
	out := make([]ModelUsageStat, 0, len(byModel))
	for name, st := range byModel {
		st.AvgResponseTime = totals[name] / float64(st.RequestCount)
		out = append(out, *st)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RequestCount > out[j].RequestCount })
	return out, nil
}

// LatestModelSnapshot returns all rows sharing the maximum timestamp.
func (m *MockStore) LatestModelSnapshot(_ context.Context) ([]ModelInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var max string
	for _, mi := range m.models {
		if mi.Timestamp > max {
			max = mi.Timestamp
		}
	}
	if max == "" {
		return nil, nil
	}
	var out []ModelInfo
	for _, mi := range m.models {
		if mi.Timestamp == max {
			out = append(out, mi)
		}
	}
	return out, nil
}
