// Package lifecycle provides ordered startup and reverse-ordered shutdown
// for the orchestrator's background modules (engine, workers, monitor),
// plus a small health registry recording each module's last transition.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Systemsaholic/nexaas/internal/logging"
)

// ServiceModule is anything the lifecycle can start and stop in order.
type ServiceModule interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Registry holds modules in registration order.
type Registry struct {
	mu      sync.Mutex
	modules []ServiceModule
}

// Register appends m to the registry.
func (r *Registry) Register(m ServiceModule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules = append(r.modules, m)
}

// Modules returns the registered modules in registration order.
func (r *Registry) Modules() []ServiceModule {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ServiceModule, len(r.modules))
	copy(out, r.modules)
	return out
}

// ModuleHealth records the last known transition for one module.
type ModuleHealth struct {
	Started time.Time
	Stopped time.Time
	Failed  string
}

// HealthMonitor tracks start/stop/failure timestamps per module name.
type HealthMonitor struct {
	mu     sync.Mutex
	status map[string]ModuleHealth
}

func newHealthMonitor() *HealthMonitor {
	return &HealthMonitor{status: make(map[string]ModuleHealth)}
}

// MarkStarted records a successful start.
func (h *HealthMonitor) MarkStarted(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry := h.status[name]
	entry.Started = time.Now()
	entry.Failed = ""
	h.status[name] = entry
}

// MarkStopped records a successful stop.
func (h *HealthMonitor) MarkStopped(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry := h.status[name]
	entry.Stopped = time.Now()
	h.status[name] = entry
}

// MarkFailed records a start or stop failure.
func (h *HealthMonitor) MarkFailed(name string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry := h.status[name]
	entry.Failed = err.Error()
	h.status[name] = entry
}

// Snapshot returns a copy of the current per-module health status.
func (h *HealthMonitor) Snapshot() map[string]ModuleHealth {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]ModuleHealth, len(h.status))
	for k, v := range h.status {
		out[k] = v
	}
	return out
}

// Lifecycle drives ordered start and reverse-ordered stop across a Registry.
//
// Modules must be registered Workers, Engine, Monitor (in that order) so
// that the forward walk starts the queue's consumers before the producer
// that feeds them, and the reverse walk on Stop naturally yields the
// spec-mandated shutdown order: Monitor, then Engine, then Workers — the
// monitor stops watching before the producer and consumers it watches are
// torn down, and the engine stops enqueuing before the workers draining the
// queue are stopped.
type Lifecycle struct {
	registry *Registry
	health   *HealthMonitor
	log      *logging.Logger
}

// New constructs an empty Lifecycle.
func New(log *logging.Logger) *Lifecycle {
	return &Lifecycle{
		registry: &Registry{},
		health:   newHealthMonitor(),
		log:      log,
	}
}

// Register adds a module to be started/stopped by this lifecycle.
func (l *Lifecycle) Register(m ServiceModule) {
	l.registry.Register(m)
}

// Health returns the lifecycle's health monitor.
func (l *Lifecycle) Health() *HealthMonitor { return l.health }

// Start launches every registered module in registration order, stopping at
// the first error.
func (l *Lifecycle) Start(ctx context.Context) error {
	for _, m := range l.registry.Modules() {
		if err := m.Start(ctx); err != nil {
			l.health.MarkFailed(m.Name(), err)
			l.log.WithError(err).WithField("module", m.Name()).Error("lifecycle: module failed to start")
			return fmt.Errorf("start %s: %w", m.Name(), err)
		}
		l.health.MarkStarted(m.Name())
		l.log.WithFields(map[string]any{"module": m.Name()}).Info("lifecycle: module started")
	}
	return nil
}

// Stop tears down every registered module in reverse registration order,
// continuing past individual failures and returning the first one seen.
func (l *Lifecycle) Stop(ctx context.Context) error {
	modules := l.registry.Modules()
	var firstErr error
	for i := len(modules) - 1; i >= 0; i-- {
		m := modules[i]
		if err := m.Stop(ctx); err != nil {
			l.health.MarkFailed(m.Name(), err)
			l.log.WithError(err).WithField("module", m.Name()).Error("lifecycle: module failed to stop")
			if firstErr == nil {
				firstErr = fmt.Errorf("stop %s: %w", m.Name(), err)
			}
			continue
		}
		l.health.MarkStopped(m.Name())
		l.log.WithFields(map[string]any{"module": m.Name()}).Info("lifecycle: module stopped")
	}
	return firstErr
}
