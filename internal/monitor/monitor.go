// Package monitor runs the periodic sampling loop and the instrumented
// operations against the upstream server.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ollamon/ollamon/internal/database"
	"github.com/ollamon/ollamon/internal/metrics"
	"github.com/ollamon/ollamon/internal/ollama"
	"github.com/ollamon/ollamon/internal/sysinfo"
)

// ErrNoModel is returned by TestGeneration when no model name was given
// and no default model has been pinned yet.
var ErrNoModel = errors.New("no model available for generation test")

// Publisher receives each sample as it is produced.
type Publisher interface {
	PublishMetric(m database.SystemMetric)
}

// Monitor owns the sampling loop. At most one loop runs per Monitor;
// Start while running is a no-op.
type Monitor struct {
	store       database.Store
	client      *ollama.Client
	pub         Publisher
	logger      *slog.Logger
	processName string
	interval    time.Duration
	backoff     time.Duration

	mu           sync.Mutex
	running      bool
	stop         chan struct{}
	done         chan struct{}
	defaultModel string
}

// Config carries the monitor's dependencies and tuning.
type Config struct {
	Store       database.Store
	Client      *ollama.Client
	Publisher   Publisher
	Logger      *slog.Logger
	ProcessName string
	Interval    time.Duration
	Backoff     time.Duration
}

func New(cfg Config) *Monitor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		store:       cfg.Store,
		client:      cfg.Client,
		pub:         cfg.Publisher,
		logger:      logger,
		processName: cfg.ProcessName,
		interval:    cfg.Interval,
		backoff:     cfg.Backoff,
	}
}

// Start launches the sampling loop. Calling Start on a running monitor
// does nothing.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.run(m.stop, m.done)
	m.logger.Info("sampler started", "interval", m.interval, "process", m.processName)
}

// Stop signals the loop to exit and waits for the in-flight tick to
// finish. Stopping a stopped monitor does nothing.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stop, done := m.stop, m.done
	m.mu.Unlock()

	close(stop)
	<-done
	m.logger.Info("sampler stopped")
}

// Running reports whether the sampling loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// run executes ticks until stop is closed. The stop check happens only
// at tick boundaries; an in-flight tick always completes.
func (m *Monitor) run(stop, done chan struct{}) {
	defer close(done)
	for {
		sleep := m.interval
		if err := m.Sample(context.Background()); err != nil {
			metrics.SampleFailures.Inc()
			m.logger.Error("sample failed", "error", err)
			sleep = m.backoff
		}
		select {
		case <-stop:
			return
		case <-time.After(sleep):
		}
	}
}

// Sample runs one collection tick: probe the upstream, read host and
// process figures, persist the composed sample, and publish it.
func (m *Monitor) Sample(ctx context.Context) error {
	serverUp := m.client.Ping(ctx)
	if serverUp {
		metrics.UpstreamUp.Set(1)
	} else {
		metrics.UpstreamUp.Set(0)
	}

	host, err := sysinfo.CollectHost(ctx)
	if err != nil {
		return fmt.Errorf("collecting host metrics: %w", err)
	}

	sample := database.SystemMetric{
		Timestamp:        database.Now(),
		ServerUp:         serverUp,
		CPUPercent:       host.CPUPercent,
		MemoryPercent:    host.MemoryPercent,
		DiskPercent:      host.DiskPercent,
		NetworkBytesSent: host.NetworkBytesSent,
		NetworkBytesRecv: host.NetworkBytesRecv,
	}

	proc, err := sysinfo.FindProcess(ctx, m.processName)
	if err != nil {
		return fmt.Errorf("finding process: %w", err)
	}
	if proc != nil {
		sample.ProcessCPUPercent = proc.CPUPercent
		sample.ProcessMemoryPercent = proc.MemoryPercent
		sample.ProcessConnections = proc.Connections
	}

	if err := m.store.InsertSystemMetric(ctx, sample); err != nil {
		return fmt.Errorf("persisting sample: %w", err)
	}
	metrics.SamplesCollected.Inc()

	if m.pub != nil {
		m.pub.PublishMetric(sample)
	}
	return nil
}

// ServerStatus probes the upstream server.
func (m *Monitor) ServerStatus(ctx context.Context) bool {
	up := m.client.Ping(ctx)
	if up {
		metrics.UpstreamUp.Set(1)
	} else {
		metrics.UpstreamUp.Set(0)
	}
	return up
}

// RefreshModels lists the upstream's installed models and writes them
// as one snapshot batch. The first successful listing pins the default
// model used by TestGeneration, even if the snapshot write then fails;
// the pin is never revisited.
func (m *Monitor) RefreshModels(ctx context.Context) ([]database.ModelInfo, error) {
	models, err := m.client.ListModels(ctx)
	if err != nil {
		return nil, err
	}

	ts := database.Now()
	rows := make([]database.ModelInfo, 0, len(models))
	for _, mdl := range models {
		rows = append(rows, database.ModelInfo{
			Timestamp:     ts,
			ModelName:     mdl.Name,
			ModelSize:     strconv.FormatInt(mdl.Size, 10),
			ParameterSize: mdl.Details.ParameterSize,
			ModifiedAt:    mdl.ModifiedAt,
			ModelFamily:   mdl.Details.Family,
		})
	}
	// Pin before persisting: a storage fault must not leave the
	// generation test without a default model.
	m.mu.Lock()
	if m.defaultModel == "" && len(models) > 0 {
		m.defaultModel = models[0].Name
		m.logger.Info("default model pinned", "model", m.defaultModel)
	}
	m.mu.Unlock()

	if err := m.store.InsertModelSnapshot(ctx, ts, rows); err != nil {
		return nil, fmt.Errorf("persisting model snapshot: %w", err)
	}

	return rows, nil
}

// DefaultModel returns the pinned default model name, or "" when no
// refresh has succeeded yet.
func (m *Monitor) DefaultModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.defaultModel
}

// TestPrompt is the canned prompt used by generation tests.
const TestPrompt = "Hello, world!"

// GenerationResult is what a generation test reports back to the caller.
type GenerationResult struct {
	Model        string  `json:"model"`
	Response     string  `json:"response"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	ResponseTime float64 `json:"response_time"`
	StatusCode   int     `json:"status_code"`
}

// TestGeneration issues a non-streaming generation call against the
// named model, or the pinned default when model is empty. On success it
// records exactly one request-log row; a failed call records nothing.
func (m *Monitor) TestGeneration(ctx context.Context, model string) (*GenerationResult, error) {
	if model == "" {
		model = m.DefaultModel()
	}
	if model == "" {
		return nil, ErrNoModel
	}

	start := time.Now()
	res, err := m.client.Generate(ctx, model, TestPrompt)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		metrics.GenerationTests.WithLabelValues("failure").Inc()
		m.logger.Error("generation test failed", "model", model, "error", err)
		return nil, err
	}

	entry := database.RequestLog{
		Timestamp:    database.Now(),
		ClientIP:     "127.0.0.1",
		ModelName:    model,
		InputTokens:  res.PromptEvalCount,
		OutputTokens: res.EvalCount,
		ResponseTime: elapsed,
		StatusCode:   res.StatusCode,
		Endpoint:     "/api/generate",
	}
	if err := m.store.InsertRequestLog(ctx, entry); err != nil {
		metrics.GenerationTests.WithLabelValues("failure").Inc()
		return nil, fmt.Errorf("persisting request log: %w", err)
	}
	metrics.GenerationTests.WithLabelValues("success").Inc()

	m.logger.Info("generation test completed",
		"model", model,
		"response_time", elapsed,
		"input_tokens", res.PromptEvalCount,
		"output_tokens", res.EvalCount,
	)
	return &GenerationResult{
		Model:        model,
		Response:     res.Response,
		InputTokens:  res.PromptEvalCount,
		OutputTokens: res.EvalCount,
		ResponseTime: elapsed,
		StatusCode:   res.StatusCode,
	}, nil
}
