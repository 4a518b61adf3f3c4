package workers

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/Systemsaholic/nexaas/internal/bus"
	"github.com/Systemsaholic/nexaas/internal/executors"
	"github.com/Systemsaholic/nexaas/internal/logging"
	"github.com/Systemsaholic/nexaas/internal/metrics"
	"github.com/Systemsaholic/nexaas/internal/store"
)

func newTestPool(t *testing.T, registry *executors.Registry) (*Pool, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	log := logging.New("nexaas-test", "error", "text")
	met := metrics.NewWithRegistry("nexaas-test", prometheus.NewRegistry())
	b := bus.New(st, log, met)
	p := New(st, b, log, met, registry, 1)
	return p, st
}

func waitForJobTerminal(t *testing.T, st *store.Store, id int64) store.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status, err := st.Jobs().GetQueueStatus(context.Background())
		require.NoError(t, err)
		for _, j := range status.RecentJobs {
			if j.ID == id && (j.Status == store.JobStatusCompleted || j.Status == store.JobStatusFailed) {
				return j
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %d did not reach a terminal state in time", id)
	return store.Job{}
}

func TestWorkerCompletesJobSuccessfully(t *testing.T) {
	registry := executors.NewRegistry()
	registry.Register("ok", func(ctx context.Context, config map[string]any) (string, error) {
		return "great success", nil
	})
	p, st := newTestPool(t, registry)

	ctx := context.Background()
	id, enqueued, err := st.Jobs().Enqueue(ctx, store.Job{ActionType: "ok", ActionConfig: "{}", Priority: 5})
	require.NoError(t, err)
	require.True(t, enqueued)

	require.NoError(t, p.Start(ctx))
	defer func() { _ = p.Stop(ctx) }()

	job := waitForJobTerminal(t, st, id)
	require.Equal(t, store.JobStatusCompleted, job.Status)
}

func TestWorkerFailsJobOnSoftError(t *testing.T) {
	registry := executors.NewRegistry()
	registry.Register("bad", func(ctx context.Context, config map[string]any) (string, error) {
		return "error: something went wrong", nil
	})
	p, st := newTestPool(t, registry)

	ctx := context.Background()
	id, _, err := st.Jobs().Enqueue(ctx, store.Job{ActionType: "bad", ActionConfig: "{}", Priority: 5})
	require.NoError(t, err)

	require.NoError(t, p.Start(ctx))
	defer func() { _ = p.Stop(ctx) }()

	job := waitForJobTerminal(t, st, id)
	require.Equal(t, store.JobStatusFailed, job.Status)
}

func TestWorkerFailsJobOnUnknownActionType(t *testing.T) {
	registry := executors.NewRegistry()
	p, st := newTestPool(t, registry)

	ctx := context.Background()
	id, _, err := st.Jobs().Enqueue(ctx, store.Job{ActionType: "nonexistent", ActionConfig: "{}", Priority: 5})
	require.NoError(t, err)

	require.NoError(t, p.Start(ctx))
	defer func() { _ = p.Stop(ctx) }()

	job := waitForJobTerminal(t, st, id)
	require.Equal(t, store.JobStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	require.Contains(t, *job.Error, "Unknown action_type")
}

func TestPoolStartStopIdempotent(t *testing.T) {
	registry := executors.NewRegistry()
	p, _ := newTestPool(t, registry)
	ctx := context.Background()

	require.False(t, p.Healthy())
	require.NoError(t, p.Start(ctx))
	require.NoError(t, p.Start(ctx))
	require.True(t, p.Healthy())
	require.NoError(t, p.Stop(ctx))
	require.NoError(t, p.Stop(ctx))
	require.False(t, p.Healthy())
}
