// Package monitor implements the ops health-check loop: it watches the
// engine, the worker pool, the database, and the queue, auto-heals what it
// can within a restart budget, and raises alerts for what it cannot.
package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Systemsaholic/nexaas/internal/bus"
	"github.com/Systemsaholic/nexaas/internal/logging"
	"github.com/Systemsaholic/nexaas/internal/metrics"
	"github.com/Systemsaholic/nexaas/internal/store"
)

// pendingBacklogDefault is the fixed cutoff the original uses for the
// pending-jobs informational watch, independent of the configurable
// stale-running-job timeout.
const pendingBacklogDefault = 5 * time.Minute

// Subsystem is anything the monitor can health-check and restart: both
// events.Engine and workers.Pool satisfy this structurally.
type Subsystem interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Healthy() bool
}

// Monitor is the periodic ops health-check loop.
type Monitor struct {
	store  *store.Store
	bus    *bus.Bus
	log    *logging.Logger
	met    *metrics.Metrics
	engine Subsystem
	pool   Subsystem

	interval            time.Duration
	staleJobTimeout     time.Duration
	pendingBacklogM     time.Duration
	maxFailedJobsHour   int
	webhookURL          string
	restartWindow       time.Duration
	maxRestartsInWindow int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	budgetMu     sync.Mutex
	engineBudget []time.Time
	poolBudget   []time.Time
}

// Config bundles the monitor's tunables, mirroring config.Config's Ops* fields.
type Config struct {
	Interval            time.Duration
	StaleJobTimeout     time.Duration
	MaxFailedJobsHour   int
	WebhookURL          string
	RestartWindow       time.Duration
	MaxRestartsInWindow int
}

// New constructs a Monitor watching engine and pool.
func New(st *store.Store, b *bus.Bus, log *logging.Logger, met *metrics.Metrics, engine, pool Subsystem, cfg Config) *Monitor {
	if cfg.RestartWindow <= 0 {
		cfg.RestartWindow = 10 * time.Minute
	}
	if cfg.MaxRestartsInWindow <= 0 {
		cfg.MaxRestartsInWindow = 3
	}
	return &Monitor{
		store:               st,
		bus:                 b,
		log:                 log,
		met:                 met,
		engine:              engine,
		pool:                pool,
		interval:            cfg.Interval,
		staleJobTimeout:     cfg.StaleJobTimeout,
		pendingBacklogM:     pendingBacklogDefault,
		maxFailedJobsHour:   cfg.MaxFailedJobsHour,
		webhookURL:          cfg.WebhookURL,
		restartWindow:       cfg.RestartWindow,
		maxRestartsInWindow: cfg.MaxRestartsInWindow,
	}
}

// Name identifies this module for the lifecycle registry.
func (m *Monitor) Name() string { return "monitor" }

// Start launches the monitor's tick loop. Idempotent.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	m.log.Info("ops monitor started")
	go m.loop(loopCtx)
	return nil
}

// Stop cancels the tick loop and waits for the in-flight tick to finish.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.cancel()
	done := m.done
	m.running = false
	m.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	m.log.Info("ops monitor stopped")
	return nil
}

// Healthy reports whether the monitor's tick loop is currently running.
func (m *Monitor) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.safeTick(ctx)
		}
	}
}

func (m *Monitor) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.log.WithFields(map[string]any{"panic": r}).Error("ops monitor tick panicked")
		}
	}()
	m.tick(ctx)
}

// tick runs the fixed sequence of checks, mirroring the original's ordering:
// db, engine, workers, stale jobs, pending backlog, failure rate, expired
// locks, and finally a persisted snapshot. A failed DB check skips the rest
// of the tick entirely, per spec/original: every other check depends on the
// same connection and a snapshot would only record a cascade of failures.
func (m *Monitor) tick(ctx context.Context) {
	if !m.checkDB(ctx) {
		return
	}

	engineHealthy := m.checkEngine(ctx)
	workersHealthy := m.checkWorkers(ctx)
	m.checkStaleJobs(ctx)
	pending := m.checkPendingBacklog(ctx)
	failed := m.checkFailureRate(ctx)
	cleared := m.ClearLocks(ctx)

	snap := store.HealthSnapshot{
		EngineHealthy:      engineHealthy,
		DBHealthy:          true,
		ActiveWorkers:      boolToWorkerCount(workersHealthy),
		PendingJobs:        pending,
		FailedJobsLastHour: failed,
		LocksCleared:       len(cleared),
	}
	if _, err := m.store.Health().RecordSnapshot(ctx, snap); err != nil {
		m.log.WithError(err).Error("monitor: record health snapshot")
	}
}

func boolToWorkerCount(healthy bool) int {
	if healthy {
		return 1
	}
	return 0
}

func (m *Monitor) checkDB(ctx context.Context) bool {
	if err := m.store.Ping(ctx); err != nil {
		m.alert(ctx, store.SeverityCritical, "database", fmt.Sprintf("database ping failed: %v", err), false, nil)
		return false
	}
	return true
}

func (m *Monitor) checkEngine(ctx context.Context) bool {
	if m.engine == nil || m.engine.Healthy() {
		return true
	}
	return m.restartWithBudget(ctx, "engine", m.engine, &m.engineBudget)
}

func (m *Monitor) checkWorkers(ctx context.Context) bool {
	if m.pool == nil || m.pool.Healthy() {
		return true
	}
	return m.restartWithBudget(ctx, "workers", m.pool, &m.poolBudget)
}

// restartWithBudget attempts to restart subsystem, honoring a rolling
// restart budget; exceeding it raises a critical alert instead of retrying
// indefinitely, matching the original's runaway-restart guard.
func (m *Monitor) restartWithBudget(ctx context.Context, subsystem string, s Subsystem, budget *[]time.Time) bool {
	if !m.allowRestart(budget) {
		m.alert(ctx, store.SeverityCritical, subsystem,
			fmt.Sprintf("%s exceeded restart budget (%d in %s), not restarting", subsystem, m.maxRestartsInWindow, m.restartWindow),
			false, nil)
		return false
	}

	if err := s.Start(ctx); err != nil {
		m.alert(ctx, store.SeverityCritical, subsystem, fmt.Sprintf("%s restart failed: %v", subsystem, err), false, nil)
		return false
	}

	m.recordRestart(budget)
	if m.met != nil {
		m.met.MonitorRestartsTotal.WithLabelValues(subsystem).Inc()
	}
	m.alert(ctx, store.SeverityInfo, subsystem, fmt.Sprintf("%s was unhealthy and has been restarted", subsystem), true, nil)
	return true
}

func (m *Monitor) allowRestart(budget *[]time.Time) bool {
	m.budgetMu.Lock()
	defer m.budgetMu.Unlock()
	*budget = pruneTimestamps(*budget, m.restartWindow)
	return len(*budget) < m.maxRestartsInWindow
}

func (m *Monitor) recordRestart(budget *[]time.Time) {
	m.budgetMu.Lock()
	defer m.budgetMu.Unlock()
	*budget = append(*budget, time.Now())
}

func pruneTimestamps(ts []time.Time, window time.Duration) []time.Time {
	cutoff := time.Now().Add(-window)
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

func (m *Monitor) checkStaleJobs(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-m.staleJobTimeout).Format(time.RFC3339Nano)
	jobs, err := m.store.Jobs().StaleRunning(ctx, cutoff)
	if err != nil {
		m.log.WithError(err).Error("monitor: list stale running jobs")
		return
	}
	ids := make([]int64, 0, len(jobs))
	for _, j := range jobs {
		if err := m.store.Jobs().ForceFail(ctx, j.ID, "Force-failed by ops monitor (stale)"); err != nil {
			m.log.WithError(err).Error("monitor: force-fail stale job")
			continue
		}
		ids = append(ids, j.ID)
		if m.met != nil {
			m.met.StaleJobsReapedTotal.Inc()
		}
	}
	if len(ids) > 0 {
		m.alert(ctx, store.SeverityInfo, "stale_jobs", fmt.Sprintf("reaped %d stale running job(s)", len(ids)), true,
			map[string]any{"job_ids": ids})
	}
}

func (m *Monitor) checkPendingBacklog(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-m.pendingBacklogM).Format(time.RFC3339Nano)
	count, err := m.store.Jobs().PendingOlderThan(ctx, cutoff)
	if err != nil {
		m.log.WithError(err).Error("monitor: pending backlog count")
		return 0
	}
	if count > 0 {
		m.alert(ctx, store.SeverityWarning, "pending_backlog", fmt.Sprintf("%d job(s) queued for over %s", count, m.pendingBacklogM), false, nil)
	}
	return count
}

func (m *Monitor) checkFailureRate(ctx context.Context) int {
	since := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339Nano)
	count, err := m.store.Jobs().FailedSince(ctx, since)
	if err != nil {
		m.log.WithError(err).Error("monitor: failed-since count")
		return 0
	}
	if count > m.maxFailedJobsHour {
		m.alert(ctx, store.SeverityWarning, "failure_rate", fmt.Sprintf("%d job(s) failed in the last hour (threshold %d)", count, m.maxFailedJobsHour), false, nil)
	}
	return count
}

// ClearLocks releases every expired event lock, alerting info with the
// affected event ids if any were cleared. Exported so it can also be invoked
// as a manual heal action.
func (m *Monitor) ClearLocks(ctx context.Context) []string {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	ids, err := m.store.Events().ClearExpiredLocks(ctx, now)
	if err != nil {
		m.log.WithError(err).Error("monitor: clear expired locks")
		return nil
	}
	if len(ids) > 0 {
		if m.met != nil {
			m.met.LocksEvictedTotal.Add(float64(len(ids)))
		}
		m.alert(ctx, store.SeverityInfo, "lock_eviction", fmt.Sprintf("cleared %d expired lock(s)", len(ids)), true,
			map[string]any{"event_ids": ids})
	}
	return ids
}

// RestartEngine is a manual heal action.
func (m *Monitor) RestartEngine(ctx context.Context) error {
	if m.engine == nil {
		return nil
	}
	if err := m.engine.Stop(ctx); err != nil {
		m.log.WithError(err).Warn("monitor: stop engine before manual restart")
	}
	return m.engine.Start(ctx)
}

// RestartWorkers is a manual heal action.
func (m *Monitor) RestartWorkers(ctx context.Context) error {
	if m.pool == nil {
		return nil
	}
	if err := m.pool.Stop(ctx); err != nil {
		m.log.WithError(err).Warn("monitor: stop workers before manual restart")
	}
	return m.pool.Start(ctx)
}

// FailStaleJobs is a manual heal action forcing the stale-job sweep now.
func (m *Monitor) FailStaleJobs(ctx context.Context) {
	m.checkStaleJobs(ctx)
}

// alert persists, publishes, and — for critical severity with a webhook
// configured — posts the alert externally.
func (m *Monitor) alert(ctx context.Context, severity, category, message string, autoHealed bool, details any) {
	if _, err := m.store.Health().RaiseAlert(ctx, severity, category, message, autoHealed, details); err != nil {
		m.log.WithError(err).Error("monitor: raise alert")
	}
	if m.met != nil {
		m.met.MonitorAlertsTotal.WithLabelValues(severity, category).Inc()
	}
	m.log.LogAlert(ctx, severity, category, message)
	m.bus.Publish(ctx, "ops.alert", map[string]any{
		"severity":    severity,
		"category":    category,
		"message":     message,
		"auto_healed": autoHealed,
	}, nil)

	if severity == store.SeverityCritical && m.webhookURL != "" {
		m.postWebhook(ctx, severity, category, message)
	}
}

func (m *Monitor) postWebhook(ctx context.Context, severity, category, message string) {
	payload, err := json.Marshal(map[string]string{
		"severity": severity,
		"category": category,
		"message":  message,
	})
	if err != nil {
		return
	}
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, m.webhookURL, bytes.NewReader(payload))
	if err != nil {
		m.log.WithError(err).Error("monitor: build webhook request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		m.log.WithError(err).Error("monitor: post webhook")
		return
	}
	_ = resp.Body.Close()
}
