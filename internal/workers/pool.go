// Package workers runs the fixed-size worker pool that dequeues and executes
// queue jobs against the executors registry.
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Systemsaholic/nexaas/internal/bus"
	"github.com/Systemsaholic/nexaas/internal/executors"
	"github.com/Systemsaholic/nexaas/internal/logging"
	"github.com/Systemsaholic/nexaas/internal/metrics"
	"github.com/Systemsaholic/nexaas/internal/store"
)

// idleSleep is how long an idle worker waits before polling the queue again.
const idleSleep = 2 * time.Second

// Pool is a fixed set of worker goroutines competing for jobs through
// Store.Jobs().Dequeue. Each worker runs independently; the pool's Start/Stop
// pair mirrors events.Engine's lifecycle shape.
type Pool struct {
	store    *store.Store
	bus      *bus.Bus
	log      *logging.Logger
	met      *metrics.Metrics
	registry *executors.Registry
	size     int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a worker pool of the given size.
func New(st *store.Store, b *bus.Bus, log *logging.Logger, met *metrics.Metrics, registry *executors.Registry, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{store: st, bus: b, log: log, met: met, registry: registry, size: size}
}

// Name identifies this module for the lifecycle registry.
func (p *Pool) Name() string { return "workers" }

// Start launches size worker goroutines. Idempotent.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	for i := 0; i < p.size; i++ {
		workerID := fmt.Sprintf("worker-%d-%s", i, uuid.New().String()[:4])
		p.wg.Add(1)
		go p.runWorker(loopCtx, workerID)
	}

	p.log.WithFields(map[string]any{"pool_size": p.size}).Info("worker pool started")
	return nil
}

// Stop cancels every worker and waits for them to drain.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.cancel()
	p.running = false
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.log.Info("worker pool stopped")
	return nil
}

// Healthy reports whether the pool's workers are currently running.
func (p *Pool) Healthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Pool) runWorker(ctx context.Context, workerID string) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, ok, err := p.store.Jobs().Dequeue(ctx, workerID)
		if err != nil {
			p.log.WithError(err).Error("worker: dequeue")
			p.sleepOrStop(ctx)
			continue
		}
		if !ok {
			p.sleepOrStop(ctx)
			continue
		}

		p.execute(ctx, workerID, job)
	}
}

func (p *Pool) sleepOrStop(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(idleSleep):
	}
}

// execute runs one job's action, records the run ledger row (when the job is
// event-owned), completes the queue row, and publishes the terminal event.
// Unhandled panics are recovered and treated as a failed job, matching the
// original's catch-all around the dispatch call.
func (p *Pool) execute(ctx context.Context, workerID string, job store.Job) {
	ctx = logging.WithWorkerID(ctx, workerID)
	ctx = logging.WithJobID(ctx, job.ID)

	if p.met != nil {
		p.met.JobsClaimedTotal.WithLabelValues(workerID).Inc()
	}

	var runID int64
	var haveRun bool
	if job.EventID != nil {
		id, err := p.store.Runs().Start(ctx, *job.EventID, workerID)
		if err != nil {
			p.log.WithError(err).Error("worker: start run record")
		} else {
			runID = id
			haveRun = true
		}
	}

	start := time.Now()
	output, execErr := p.dispatch(ctx, job)
	duration := time.Since(start)

	failed := execErr != nil
	resultStr := output
	if failed {
		resultStr = execErr.Error()
	} else if isSoftError(output) {
		failed = true
	}

	var completeErr error
	if failed {
		completeErr = fmt.Errorf("%s", resultStr)
	}
	if err := p.store.Jobs().CompleteJob(ctx, job.ID, output, completeErr); err != nil {
		p.log.WithError(err).Error("worker: complete job")
	}

	if haveRun {
		result := "success"
		var runErr error
		if failed {
			result = store.JobStatusFailed
			runErr = completeErr
		}
		if err := p.store.Runs().Complete(ctx, runID, result, output, duration.Milliseconds(), runErr); err != nil {
			p.log.WithError(err).Error("worker: complete run record")
		}
		if job.EventID != nil {
			if failed {
				if err := p.store.Events().RecordFailure(ctx, *job.EventID); err != nil {
					p.log.WithError(err).Error("worker: record event failure")
				}
			} else if err := p.store.Events().RecordSuccess(ctx, *job.EventID); err != nil {
				p.log.WithError(err).Error("worker: record event success")
			}
		}
	}

	if p.met != nil {
		resultLabel := "completed"
		if failed {
			resultLabel = "failed"
		}
		p.met.JobsCompletedTotal.WithLabelValues(job.ActionType, resultLabel).Inc()
		p.met.JobDuration.WithLabelValues(job.ActionType).Observe(duration.Seconds())
	}

	topic := "job.completed"
	if failed {
		topic = "job.failed"
	}
	p.bus.Publish(ctx, topic, map[string]any{
		"job_id":      job.ID,
		"action_type": job.ActionType,
		"result":      resultStr,
	}, nil)

	p.log.LogJobResult(ctx, job.ID, job.ActionType, resultStr, duration, completeErr)
}

// dispatch looks up the action_type's executor and invokes it, recovering
// from a panic inside the executor the same way the tick loop guards against
// a misbehaving handler.
func (p *Pool) dispatch(ctx context.Context, job store.Job) (output string, err error) {
	exec, ok := p.registry.Get(job.ActionType)
	if !ok {
		return "", fmt.Errorf("Unknown action_type: %s", job.ActionType)
	}

	var config map[string]any
	if job.ActionConfig != "" {
		if unmarshalErr := json.Unmarshal([]byte(job.ActionConfig), &config); unmarshalErr != nil {
			return "", fmt.Errorf("decode action_config: %w", unmarshalErr)
		}
	}
	if config == nil {
		config = map[string]any{}
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()

	return exec(ctx, config)
}

// isSoftError reports whether output is a soft-failure result string per the
// executor contract: a case-sensitive, lowercase "error" prefix.
func isSoftError(output string) bool {
	return strings.HasPrefix(output, "error")
}
