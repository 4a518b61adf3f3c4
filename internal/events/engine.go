// Package events implements the background tick loop that evaluates due
// events, acquires their soft lease, checks the condition and retry budget,
// enqueues a job, and advances the schedule.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Systemsaholic/nexaas/internal/bus"
	"github.com/Systemsaholic/nexaas/internal/logging"
	"github.com/Systemsaholic/nexaas/internal/metrics"
	"github.com/Systemsaholic/nexaas/internal/schedule"
	"github.com/Systemsaholic/nexaas/internal/store"
)

// LockDuration is the soft lease held by an instance while it evaluates one
// event; it passively expires so a crashed instance never wedges an event.
const LockDuration = 120 * time.Second

// Engine is the single background tick loop. It is safe to run at most one
// per process; multiple processes may run concurrently against the same
// store, coordinated through the lock CAS.
type Engine struct {
	store *store.Store
	bus   *bus.Bus
	log   *logging.Logger
	met   *metrics.Metrics

	tick       time.Duration
	instanceID string

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New constructs an Engine with a fresh random instance id.
func New(st *store.Store, b *bus.Bus, log *logging.Logger, met *metrics.Metrics, tick time.Duration) *Engine {
	return &Engine{
		store:      st,
		bus:        b,
		log:        log,
		met:        met,
		tick:       tick,
		instanceID: uuid.New().String()[:8],
	}
}

// InstanceID returns this engine's lock-holder identity.
func (e *Engine) InstanceID() string { return e.instanceID }

// Name identifies this module for the lifecycle registry.
func (e *Engine) Name() string { return "engine" }

// Start launches the tick loop in a background goroutine. It is idempotent.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true

	e.log.WithFields(map[string]any{
		"tick_seconds": e.tick.Seconds(),
		"instance_id":  e.instanceID,
	}).Info("event engine started")

	go e.loop(loopCtx)
	return nil
}

// Stop cancels the tick loop and waits for the in-flight tick to finish.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.cancel()
	done := e.done
	e.running = false
	e.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	e.log.Info("event engine stopped")
	return nil
}

// Healthy reports whether the engine's tick loop is currently running.
func (e *Engine) Healthy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.safeTick(ctx)
		}
	}
}

func (e *Engine) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithFields(map[string]any{"panic": r}).Error("engine tick panicked")
		}
	}()
	start := time.Now()
	candidates, acted := e.tickOnce(ctx)
	if e.met != nil {
		e.met.EngineTicksTotal.Inc()
		e.met.EngineCandidates.Set(float64(candidates))
	}
	e.log.LogTick(ctx, "engine", candidates, acted, time.Since(start))
}

// tickOnce runs one full tick and returns (candidatesSeen, eventsActedOn).
func (e *Engine) tickOnce(ctx context.Context) (int, int) {
	now := time.Now().UTC()
	nowISO := now.Format(time.RFC3339Nano)
	lockUntil := now.Add(LockDuration).Format(time.RFC3339Nano)

	events, err := e.store.Events().Candidates(ctx, nowISO)
	if err != nil {
		e.log.WithError(err).Error("engine: list candidate events")
		return 0, 0
	}

	acted := 0
	for _, evt := range events {
		if e.processEvent(ctx, evt, now, nowISO, lockUntil) {
			acted++
		}
	}
	return len(events), acted
}

// processEvent handles a single candidate: acquire lock, evaluate, enqueue,
// advance. Returns true if the event resulted in a successful enqueue.
func (e *Engine) processEvent(ctx context.Context, evt store.Event, now time.Time, nowISO, lockUntil string) (acted bool) {
	ok, err := e.store.Events().AcquireLock(ctx, evt.ID, e.instanceID, nowISO, lockUntil)
	if err != nil {
		e.log.WithError(err).Error("engine: acquire lock")
		return false
	}
	if !ok {
		if e.met != nil {
			e.met.EngineLockContested.WithLabelValues(evt.ID).Inc()
		}
		return false
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		if err := e.store.Events().ReleaseLock(ctx, evt.ID); err != nil {
			e.log.WithError(err).Error("engine: release lock")
		}
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.WithFields(map[string]any{"event_id": evt.ID, "panic": r}).Error("engine: event processing panicked")
			release()
		}
	}()

	if !schedule.EvaluateCondition(evt.ConditionType) {
		release()
		return false
	}

	if evt.ConsecutiveFails >= evt.MaxRetries {
		if err := e.store.Events().Pause(ctx, evt.ID); err != nil {
			e.log.WithError(err).Error("engine: pause event")
		}
		released = true
		if e.met != nil {
			e.met.EventsPausedTotal.WithLabelValues(evt.ID).Inc()
		}
		e.bus.Publish(ctx, "event.paused", map[string]any{"event_id": evt.ID, "reason": "max_retries"}, nil)
		return false
	}

	jobID, enqueued, err := e.store.Jobs().Enqueue(ctx, store.Job{
		EventID:        &evt.ID,
		Priority:       evt.Priority,
		ConcurrencyKey: evt.ConcurrencyKey,
		ActionType:     evt.ActionType,
		ActionConfig:   evt.ActionConfig,
		Source:         "engine",
	})
	if err != nil {
		e.log.WithError(err).Error("engine: enqueue job")
		release()
		return false
	}
	if !enqueued {
		release()
		return false
	}

	nextEval := schedule.Next(evt.ConditionType, evt.ConditionExpr, now, e.tick)
	if err := e.store.Events().AdvanceSchedule(ctx, evt.ID, nextEval.Format(time.RFC3339Nano), nowISO); err != nil {
		e.log.WithError(err).Error("engine: advance schedule")
	}
	released = true

	e.bus.Publish(ctx, "event.triggered", map[string]any{"event_id": evt.ID, "job_id": jobID}, nil)
	return true
}

// Trigger manually advances a webhook/manual/flow_chain event, bypassing the
// tick loop's condition evaluation. It performs the same lock/enqueue/advance
// sequence as a successful tick so callers get identical guarantees.
func (e *Engine) Trigger(ctx context.Context, eventID string) (int64, bool, error) {
	evt, err := e.store.Events().Get(ctx, eventID)
	if err != nil {
		return 0, false, err
	}

	now := time.Now().UTC()
	nowISO := now.Format(time.RFC3339Nano)
	lockUntil := now.Add(LockDuration).Format(time.RFC3339Nano)

	ok, err := e.store.Events().AcquireLock(ctx, eventID, e.instanceID, nowISO, lockUntil)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, store.ErrConflict
	}
	defer func() { _ = e.store.Events().ReleaseLock(ctx, eventID) }()

	jobID, enqueued, err := e.store.Jobs().Enqueue(ctx, store.Job{
		EventID:        &evt.ID,
		Priority:       evt.Priority,
		ConcurrencyKey: evt.ConcurrencyKey,
		ActionType:     evt.ActionType,
		ActionConfig:   evt.ActionConfig,
		Source:         "trigger",
	})
	if err != nil {
		return 0, false, err
	}
	if !enqueued {
		return 0, false, nil
	}

	nextEval := schedule.Next(evt.ConditionType, evt.ConditionExpr, now, e.tick)
	if err := e.store.Events().AdvanceSchedule(ctx, evt.ID, nextEval.Format(time.RFC3339Nano), nowISO); err != nil {
		e.log.WithError(err).Error("engine: advance schedule after trigger")
	}

	e.bus.Publish(ctx, "event.triggered", map[string]any{"event_id": evt.ID, "job_id": jobID}, nil)
	return jobID, true, nil
}
