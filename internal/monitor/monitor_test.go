package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/Systemsaholic/nexaas/internal/bus"
	"github.com/Systemsaholic/nexaas/internal/logging"
	"github.com/Systemsaholic/nexaas/internal/metrics"
	"github.com/Systemsaholic/nexaas/internal/store"
)

type fakeSubsystem struct {
	healthy   bool
	startErr  error
	startCalls int
}

func (f *fakeSubsystem) Start(ctx context.Context) error {
	f.startCalls++
	if f.startErr != nil {
		return f.startErr
	}
	f.healthy = true
	return nil
}
func (f *fakeSubsystem) Stop(ctx context.Context) error {
	f.healthy = false
	return nil
}
func (f *fakeSubsystem) Healthy() bool { return f.healthy }

func newTestMonitor(t *testing.T, engine, pool Subsystem) (*Monitor, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	log := logging.New("nexaas-test", "error", "text")
	met := metrics.NewWithRegistry("nexaas-test", prometheus.NewRegistry())
	b := bus.New(st, log, met)
	m := New(st, b, log, met, engine, pool, Config{
		Interval:            50 * time.Millisecond,
		StaleJobTimeout:     10 * time.Minute,
		MaxFailedJobsHour:   10,
		RestartWindow:       time.Minute,
		MaxRestartsInWindow: 3,
	})
	return m, st
}

func TestCheckEngineRestartsUnhealthyEngine(t *testing.T) {
	engine := &fakeSubsystem{healthy: false}
	pool := &fakeSubsystem{healthy: true}
	m, _ := newTestMonitor(t, engine, pool)

	healthy := m.checkEngine(context.Background())
	require.True(t, healthy)
	require.Equal(t, 1, engine.startCalls)
}

func TestRestartBudgetExhaustion(t *testing.T) {
	engine := &fakeSubsystem{healthy: false}
	pool := &fakeSubsystem{healthy: true}
	m, _ := newTestMonitor(t, engine, pool)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		engine.healthy = false
		m.checkEngine(ctx)
	}
	engine.healthy = false
	calls := engine.startCalls
	m.checkEngine(ctx)
	require.Equal(t, calls, engine.startCalls, "budget exhausted, should not restart again")
}

func TestClearLocksReleasesExpiredLock(t *testing.T) {
	engine := &fakeSubsystem{healthy: true}
	pool := &fakeSubsystem{healthy: true}
	m, st := newTestMonitor(t, engine, pool)
	ctx := context.Background()

	holder := "stale-instance"
	expired := "2000-01-01T00:00:00Z"
	evt := store.Event{
		ID:            "e1",
		Type:          "scheduled",
		ConditionType: store.ConditionInterval,
		ConditionExpr: "60",
		NextEvalAt:    "2100-01-01T00:00:00Z",
		ActionType:    "script",
		ActionConfig:  "{}",
		Status:        store.EventStatusActive,
		MaxRetries:    3,
		LockHolder:    &holder,
		LockExpiresAt: &expired,
	}
	require.NoError(t, st.Events().Upsert(ctx, evt))

	cleared := m.ClearLocks(ctx)
	require.Equal(t, []string{"e1"}, cleared)

	got, err := st.Events().Get(ctx, "e1")
	require.NoError(t, err)
	require.Nil(t, got.LockHolder)
}

func TestCheckStaleJobsForceFails(t *testing.T) {
	engine := &fakeSubsystem{healthy: true}
	pool := &fakeSubsystem{healthy: true}
	m, st := newTestMonitor(t, engine, pool)
	ctx := context.Background()

	id, _, err := st.Jobs().Enqueue(ctx, store.Job{ActionType: "script", ActionConfig: "{}", Priority: 5})
	require.NoError(t, err)
	_, _, err = st.Jobs().Dequeue(ctx, "worker-0")
	require.NoError(t, err)

	m.staleJobTimeout = -time.Hour // force every running job to be "stale"
	m.checkStaleJobs(ctx)

	status, err := st.Jobs().GetQueueStatus(ctx)
	require.NoError(t, err)
	for _, j := range status.RecentJobs {
		if j.ID == id {
			require.Equal(t, store.JobStatusFailed, j.Status)
		}
	}
}

func TestMonitorStartStopIdempotent(t *testing.T) {
	engine := &fakeSubsystem{healthy: true}
	pool := &fakeSubsystem{healthy: true}
	m, _ := newTestMonitor(t, engine, pool)
	ctx := context.Background()

	require.False(t, m.Healthy())
	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Start(ctx))
	require.True(t, m.Healthy())
	require.NoError(t, m.Stop(ctx))
	require.False(t, m.Healthy())
}
