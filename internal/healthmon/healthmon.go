// Package healthmon implements the Health Monitor (spec §4.G): a
// ticker-driven sweep that ages worker status, evicts dead workers, and
// purges their replicas. Grounded on warren's pkg/worker/health_monitor.go
// monitorLoop/syncHealthChecks shape (ticker → sweep), retargeted from
// per-container health checks to per-worker liveness.
package healthmon

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/helios/internal/registry"
	"github.com/cuemby/helios/pkg/health"
	"github.com/cuemby/helios/pkg/log"
	"github.com/cuemby/helios/pkg/metrics"
)

// Config holds the Health Monitor's tunables, loaded by cmd/helios from
// environment variables (HEALTH_CHECK_INTERVAL, HEALTH_CHECK_TIMEOUT,
// HEALTH_CHECK_FAILURE_THRESHOLD, HEALTH_CHECK_DISABLED).
type Config struct {
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold int
	Disabled         bool
}

// Monitor runs the periodic sweep against a Registry.
type Monitor struct {
	registry *registry.Registry
	cfg      Config

	mu       sync.Mutex
	checkers map[string]health.Checker
	onEvict  func(address string, invalidatedModels []string)

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Monitor. Call Start to begin sweeping.
func New(reg *registry.Registry, cfg Config) *Monitor {
	return &Monitor{
		registry: reg,
		cfg:      cfg,
		checkers: make(map[string]health.Checker),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// RegisterChecker attaches an active liveness probe for address (a
// SPEC_FULL.md supplement: the original system is purely push-based). A
// successful probe against an otherwise-stale worker resets its failure
// budget the same as a fresh status report would; a failed probe never by
// itself evicts a worker — only the passive staleness timer can do that.
func (m *Monitor) RegisterChecker(address string, checker health.Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[address] = checker
}

// UnregisterChecker removes address's active probe, called when a worker is
// removed.
func (m *Monitor) UnregisterChecker(address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkers, address)
}

// SetEvictionHook registers a callback invoked once per worker evicted by a
// sweep, after the registry has already purged its replicas. Used by the
// supervisor to publish a worker.evicted event; nil by default.
func (m *Monitor) SetEvictionHook(fn func(address string, invalidatedModels []string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvict = fn
}

// Start begins the sweep loop on its own goroutine. If the monitor is
// configured as disabled no loop runs, and Stop returns at once.
func (m *Monitor) Start() {
	if m.cfg.Disabled {
		close(m.doneCh)
		return
	}
	go m.loop()
}

// Stop signals the loop to exit and waits for it to do so.
func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.safeSweep()
		case <-m.stopCh:
			close(m.doneCh)
			return
		}
	}
}

// safeSweep runs one sweep inside a recover so a single bad sweep never stops
// the monitor (spec §4.G "the sweep never throws").
func (m *Monitor) safeSweep() {
	defer func() {
		if r := recover(); r != nil {
			log.WithComponent("healthmon").Error().Interface("panic", r).
				Msg("health sweep panicked, continuing on next tick")
		}
	}()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.HealthSweepDuration)

	now := time.Now()
	m.probeActive(now)

	results := m.registry.SweepHealth(now, m.cfg.Timeout, m.cfg.FailureThreshold)
	if len(results) == 0 {
		return
	}

	logger := log.WithComponent("healthmon")
	m.mu.Lock()
	onEvict := m.onEvict
	m.mu.Unlock()

	for _, r := range results {
		metrics.WorkersEvictedTotal.Inc()
		metrics.ModelsInvalidatedTotal.Add(float64(len(r.InvalidatedModels)))
		m.UnregisterChecker(r.Address)
		logger.Warn().Str("address", r.Address).Strs("invalidated_models", r.InvalidatedModels).
			Msg("evicted dead worker")
		if onEvict != nil {
			onEvict(r.Address, r.InvalidatedModels)
		}
	}
}

// probeActive runs every registered active checker against a worker whose
// report is already stale, extending its budget on success. Workers with no
// registered checker, or whose report isn't stale yet, are left to the
// passive timer entirely.
func (m *Monitor) probeActive(now time.Time) {
	m.mu.Lock()
	checkers := make(map[string]health.Checker, len(m.checkers))
	for addr, c := range m.checkers {
		checkers[addr] = c
	}
	m.mu.Unlock()

	for address, checker := range checkers {
		w, ok := m.registry.GetWorker(address)
		if !ok {
			continue
		}
		if now.Sub(w.LastUpdateTime) <= m.cfg.Timeout {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Timeout)
		result := checker.Check(ctx)
		cancel()
		if result.Healthy {
			_ = m.registry.ReportStatus(address, w.LastStatus, now, m.cfg.FailureThreshold)
		}
	}
}
