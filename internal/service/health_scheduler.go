package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/fiberplane/mcp-gateway/internal/domain/health"
	"github.com/fiberplane/mcp-gateway/internal/domain/registry"
)

const defaultProbeTimeout = 5 * time.Second

// HealthStore is the storage-backend port the scheduler persists probe
// results through.
type HealthStore interface {
	UpsertServerHealth(ctx context.Context, rec health.Record) error
	GetServerHealth(ctx context.Context, name string) (health.Record, error)
}

// ServerLister supplies the current registered servers to probe.
type ServerLister interface {
	List(ctx context.Context) ([]registry.Server, error)
}

// UpdateCallback fires on an up<->down state transition.
type UpdateCallback func(serverName string, rec health.Record)

// HealthMetricsRecorder is the subset of the gateway's Prometheus
// metrics the scheduler emits. Satisfied by *httptransport.Metrics.
type HealthMetricsRecorder interface {
	ObserveHealthProbe(serverName, state string)
}

// HealthScheduler is component I: it periodically (and on demand)
// probes every registered server with an OPTIONS request and persists
// the resulting health state. A single server is probed at most once
// concurrently.
type HealthScheduler struct {
	servers  ServerLister
	store    HealthStore
	client   *http.Client
	logger   *slog.Logger
	onUpdate UpdateCallback
	metrics  HealthMetricsRecorder

	mu       sync.Mutex
	inflight map[string]bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHealthScheduler builds a HealthScheduler. metrics may be nil, in
// which case probe outcomes are not recorded.
func NewHealthScheduler(servers ServerLister, store HealthStore, logger *slog.Logger, metrics HealthMetricsRecorder) *HealthScheduler {
	return &HealthScheduler{
		servers:  servers,
		store:    store,
		client:   &http.Client{Timeout: defaultProbeTimeout},
		logger:   logger,
		metrics:  metrics,
		inflight: make(map[string]bool),
	}
}

// Start begins periodic probing at the given interval (default 30s if
// intervalMs <= 0). onUpdate, if non-nil, fires on every up<->down
// transition.
func (h *HealthScheduler) Start(ctx context.Context, intervalMs int64, onUpdate UpdateCallback) {
	h.onUpdate = onUpdate
	interval := 30 * time.Second
	if intervalMs > 0 {
		interval = time.Duration(intervalMs) * time.Millisecond
	}

	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				h.CheckAll(runCtx)
			}
		}
	}()
}

// Stop cancels periodic probing and waits for in-flight probes to drain.
func (h *HealthScheduler) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
}

// CheckAll probes every registered server concurrently, one task per server.
func (h *HealthScheduler) CheckAll(ctx context.Context) {
	servers, err := h.servers.List(ctx)
	if err != nil {
		h.logger.Error("health scheduler: list servers failed", "error", err)
		return
	}
	var wg sync.WaitGroup
	for _, srv := range servers {
		wg.Add(1)
		go func(s registry.Server) {
			defer wg.Done()
			h.CheckOne(ctx, s.Name, s.URL)
		}(srv)
	}
	wg.Wait()
}

// CheckOne probes a single server by name, skipping if a probe for that
// name is already in flight.
func (h *HealthScheduler) CheckOne(ctx context.Context, name, url string) {
	h.mu.Lock()
	if h.inflight[name] {
		h.mu.Unlock()
		return
	}
	h.inflight[name] = true
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.inflight, name)
		h.mu.Unlock()
	}()

	prev, _ := h.store.GetServerHealth(ctx, name)
	rec := h.probe(ctx, name, url)

	if err := h.store.UpsertServerHealth(ctx, rec); err != nil {
		h.logger.Error("health scheduler: persist failed", "error", err, "server", name)
	}
	if h.metrics != nil {
		h.metrics.ObserveHealthProbe(name, string(rec.State))
	}
	if health.Transition(prev.State, rec.State) && h.onUpdate != nil {
		h.onUpdate(name, rec)
	}
}

func (h *HealthScheduler) probe(ctx context.Context, name, url string) health.Record {
	probeCtx, cancel := context.WithTimeout(ctx, defaultProbeTimeout)
	defer cancel()

	rec := health.Record{ServerName: name, LastCheckTime: time.Now().UTC()}

	req, err := http.NewRequestWithContext(probeCtx, http.MethodOptions, url, nil)
	if err != nil {
		rec.State = health.StateDown
		rec.ErrorCode = health.ErrConnRefused
		rec.ErrorMessage = err.Error()
		rec.LastErrorTime = rec.LastCheckTime
		return rec
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		rec.State = health.StateDown
		rec.ErrorCode = health.ClassifyError(err)
		rec.ErrorMessage = err.Error()
		rec.LastErrorTime = rec.LastCheckTime
		return rec
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		rec.State = health.StateDown
		rec.ErrorCode = health.ErrHTTPError
		rec.ErrorMessage = fmt.Sprintf("HTTP %d", resp.StatusCode)
		rec.LastErrorTime = rec.LastCheckTime
		return rec
	}

	rec.State = health.StateUp
	rec.ResponseTimeMs = elapsed.Milliseconds()
	rec.LastHealthyTime = rec.LastCheckTime
	return rec
}
