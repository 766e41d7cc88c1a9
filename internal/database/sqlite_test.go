package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	store, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// ts returns a storage timestamp offset from now.
func ts(offset time.Duration) string {
	return time.Now().Add(offset).Format(TimeFormat)
}

func TestNewSQLite_CreatesDirAndDB(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subdir", "test.db")
	store, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(filepath.Join(dir, "subdir")); os.IsNotExist(err) {
		t.Error("expected subdir to be created")
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	store := newTestDB(t)
	ctx := context.Background()

	if err := store.InsertRequestLog(ctx, RequestLog{ClientIP: "10.0.0.1", ModelName: "llama3"}); err != nil {
		t.Fatalf("InsertRequestLog: %v", err)
	}

	// Re-running migrations must not destroy existing rows.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	logs, err := store.RecentRequestLogs(ctx, 24)
	if err != nil {
		t.Fatalf("RecentRequestLogs: %v", err)
	}
	if len(logs) != 1 {
		t.Errorf("rows after re-migrate = %d, want 1", len(logs))
	}
}

func TestSystemMetrics_RoundTrip(t *testing.T) {
	store := newTestDB(t)
	ctx := context.Background()

	written := []SystemMetric{
		{
			ID: "m1", Timestamp: ts(-3 * time.Minute), ServerUp: true,
			CPUPercent: 12.5, MemoryPercent: 48.2, DiskPercent: 71.0,
			NetworkBytesSent: 1024, NetworkBytesRecv: 4096,
			ProcessCPUPercent: 3.1, ProcessMemoryPercent: 2.4, ProcessConnections: 7,
		},
		{
			ID: "m2", Timestamp: ts(-2 * time.Minute), ServerUp: false,
			CPUPercent: 99.9, MemoryPercent: 50.0, DiskPercent: 71.1,
			NetworkBytesSent: 2048, NetworkBytesRecv: 8192,
			ProcessConnections: -1, // access denied sentinel
		},
		{
			ID: "m3", Timestamp: ts(-1 * time.Minute), ServerUp: true,
			CPUPercent: 5.0,
		},
	}
	for _, m := range written {
		if err := store.InsertSystemMetric(ctx, m); err != nil {
			t.Fatalf("InsertSystemMetric(%s): %v", m.ID, err)
		}
	}

	got, err := store.RecentSystemMetrics(ctx, 24)
	if err != nil {
		t.Fatalf("RecentSystemMetrics: %v", err)
	}
	if len(got) != len(written) {
		t.Fatalf("rows = %d, want %d", len(got), len(written))
	}
	for i := range written {
		if got[i] != written[i] {
			t.Errorf("row %d = %+v, want %+v", i, got[i], written[i])
		}
	}
}

func TestRecentSystemMetrics_WindowAndOrder(t *testing.T) {
	store := newTestDB(t)
	ctx := context.Background()

	inWindow := []string{ts(-90 * time.Minute), ts(-30 * time.Minute), ts(-time.Minute)}
	outOfWindow := ts(-3 * time.Hour)

	for i, stamp := range append([]string{outOfWindow}, inWindow...) {
		m := SystemMetric{ID: fmt.Sprintf("m%d", i), Timestamp: stamp}
		if err := store.InsertSystemMetric(ctx, m); err != nil {
			t.Fatalf("InsertSystemMetric: %v", err)
		}
	}

	got, err := store.RecentSystemMetrics(ctx, 2)
	if err != nil {
		t.Fatalf("RecentSystemMetrics: %v", err)
	}
	if len(got) != len(inWindow) {
		t.Fatalf("rows = %d, want %d", len(got), len(inWindow))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].Timestamp > got[i].Timestamp {
			t.Errorf("not ascending at %d: %s > %s", i, got[i-1].Timestamp, got[i].Timestamp)
		}
	}
}

func TestRecentRequestLogs_WindowAndOrder(t *testing.T) {
	store := newTestDB(t)
	ctx := context.Background()

	stamps := []string{ts(-5 * time.Hour), ts(-50 * time.Minute), ts(-10 * time.Minute), ts(-time.Minute)}
	for i, stamp := range stamps {
		e := RequestLog{ID: fmt.Sprintf("r%d", i), Timestamp: stamp, ClientIP: "10.0.0.1"}
		if err := store.InsertRequestLog(ctx, e); err != nil {
			t.Fatalf("InsertRequestLog: %v", err)
		}
	}

	got, err := store.RecentRequestLogs(ctx, 1)
	if err != nil {
		t.Fatalf("RecentRequestLogs: %v", err)
	}
	// Only the three entries inside the 1h window, newest first.
	if len(got) != 3 {
		t.Fatalf("rows = %d, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].Timestamp < got[i].Timestamp {
			t.Errorf("not descending at %d: %s < %s", i, got[i-1].Timestamp, got[i].Timestamp)
		}
	}
	if got[0].ID != "r3" {
		t.Errorf("newest row ID = %s, want r3", got[0].ID)
	}
}

func TestClientIPStats(t *testing.T) {
	store := newTestDB(t)
	ctx := context.Background()

	entries := []RequestLog{
		{Timestamp: ts(-30 * time.Minute), ClientIP: "10.0.0.1"},
		{Timestamp: ts(-20 * time.Minute), ClientIP: "10.0.0.2"},
		{Timestamp: ts(-10 * time.Minute), ClientIP: "10.0.0.1"},
	}
	for _, e := range entries {
		if err := store.InsertRequestLog(ctx, e); err != nil {
			t.Fatalf("InsertRequestLog: %v", err)
		}
	}

	stats, err := store.ClientIPStats(ctx, 24)
	if err != nil {
		t.Fatalf("ClientIPStats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("groups = %d, want 2", len(stats))
	}
	if stats[0].ClientIP != "10.0.0.1" || stats[0].RequestCount != 2 {
		t.Errorf("top group = %+v, want 10.0.0.1 with count 2", stats[0])
	}
	if stats[0].LastRequest != entries[2].Timestamp {
		t.Errorf("LastRequest = %s, want %s", stats[0].LastRequest, entries[2].Timestamp)
	}
}

func TestModelUsageStats_Grouping(t *testing.T) {
	store := newTestDB(t)
	ctx := context.Background()

	entries := []RequestLog{
		{Timestamp: ts(-30 * time.Minute), ModelName: "m1", InputTokens: 10, OutputTokens: 5, ResponseTime: 1.0},
		{Timestamp: ts(-20 * time.Minute), ModelName: "m1", InputTokens: 20, OutputTokens: 15, ResponseTime: 3.0},
		{Timestamp: ts(-10 * time.Minute), ModelName: "m2", InputTokens: 1, OutputTokens: 1, ResponseTime: 0.5},
	}
	for _, e := range entries {
		if err := store.InsertRequestLog(ctx, e); err != nil {
			t.Fatalf("InsertRequestLog: %v", err)
		}
	}

	stats, err := store.ModelUsageStats(ctx, 24)
	if err != nil {
		t.Fatalf("ModelUsageStats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("groups = %d, want 2", len(stats))
	}
	m1 := stats[0]
	if m1.ModelName != "m1" {
		t.Fatalf("first group = %s, want m1 (higher count sorts first)", m1.ModelName)
	}
	if m1.RequestCount != 2 {
		t.Errorf("m1 count = %d, want 2", m1.RequestCount)
	}
	if m1.TotalInputTokens != 30 || m1.TotalOutputTokens != 20 {
		t.Errorf("m1 tokens = %d/%d, want 30/20", m1.TotalInputTokens, m1.TotalOutputTokens)
	}
	if m1.AvgResponseTime != 2.0 {
		t.Errorf("m1 avg response time = %f, want 2.0", m1.AvgResponseTime)
	}
	if m1.LastRequest != entries[1].Timestamp {
		t.Errorf("m1 last request = %s, want %s", m1.LastRequest, entries[1].Timestamp)
	}
}

func TestLatestModelSnapshot_NeverMixesBatches(t *testing.T) {
	store := newTestDB(t)
	ctx := context.Background()

	t1 := ts(-10 * time.Minute)
	t2 := ts(-time.Minute)

	batch1 := []ModelInfo{
		{ModelName: "llama3:8b", ModelSize: "4661224676", ParameterSize: "8B", ModelFamily: "llama"},
	}
	batch2 := []ModelInfo{
		{ModelName: "llama3:8b", ModelSize: "4661224676", ParameterSize: "8B", ModelFamily: "llama"},
		{ModelName: "mistral:7b", ModelSize: "4109865159", ParameterSize: "7B", ModelFamily: "mistral"},
	}

	if err := store.InsertModelSnapshot(ctx, t1, batch1); err != nil {
		t.Fatalf("InsertModelSnapshot(t1): %v", err)
	}
	if err := store.InsertModelSnapshot(ctx, t2, batch2); err != nil {
		t.Fatalf("InsertModelSnapshot(t2): %v", err)
	}

	got, err := store.LatestModelSnapshot(ctx)
	if err != nil {
		t.Fatalf("LatestModelSnapshot: %v", err)
	}
	if len(got) != len(batch2) {
		t.Fatalf("rows = %d, want %d", len(got), len(batch2))
	}
	for _, m := range got {
		if m.Timestamp != t2 {
			t.Errorf("row %s has timestamp %s, want %s", m.ModelName, m.Timestamp, t2)
		}
	}
}

func TestLatestModelSnapshot_Empty(t *testing.T) {
	store := newTestDB(t)
	got, err := store.LatestModelSnapshot(context.Background())
	if err != nil {
		t.Fatalf("LatestModelSnapshot: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("rows = %d, want 0", len(got))
	}
}

func TestConcurrentWriters_NoRowLoss(t *testing.T) {
	store := newTestDB(t)
	ctx := context.Background()

	const perRelation = 334 // 3 relations, ~1000 rows total
	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < perRelation; i++ {
			if err := store.InsertSystemMetric(ctx, SystemMetric{}); err != nil {
				errCh <- err
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < perRelation; i++ {
			if err := store.InsertRequestLog(ctx, RequestLog{ClientIP: "10.0.0.9"}); err != nil {
				errCh <- err
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < perRelation; i++ {
			if err := store.InsertModelSnapshot(ctx, ts(time.Duration(i)*time.Microsecond), []ModelInfo{{ModelName: "m"}}); err != nil {
				errCh <- err
				return
			}
		}
	}()
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("concurrent write: %v", err)
	}

	metrics, err := store.RecentSystemMetrics(ctx, 24)
	if err != nil {
		t.Fatalf("RecentSystemMetrics: %v", err)
	}
	logs, err := store.RecentRequestLogs(ctx, 24)
	if err != nil {
		t.Fatalf("RecentRequestLogs: %v", err)
	}
	var modelCount int
	if err := store.db.QueryRow("SELECT COUNT(*) FROM models").Scan(&modelCount); err != nil {
		t.Fatalf("count models: %v", err)
	}

	if len(metrics) != perRelation {
		t.Errorf("system_metrics rows = %d, want %d", len(metrics), perRelation)
	}
	if len(logs) != perRelation {
		t.Errorf("request_logs rows = %d, want %d", len(logs), perRelation)
	}
	if modelCount != perRelation {
		t.Errorf("models rows = %d, want %d", modelCount, perRelation)
	}
}
