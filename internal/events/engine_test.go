package events

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

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	log := logging.New("nexaas-test", "error", "text")
	met := metrics.NewWithRegistry("nexaas-test", prometheus.NewRegistry())
	b := bus.New(st, log, met)
	e := New(st, b, log, met, 50*time.Millisecond)
	return e, st
}

func pastDueEvent(id string) store.Event {
	return store.Event{
		ID:            id,
		Type:          "scheduled",
		ConditionType: store.ConditionInterval,
		ConditionExpr: "60",
		NextEvalAt:    "2000-01-01T00:00:00Z",
		ActionType:    "script",
		ActionConfig:  `{"code":"1+1"}`,
		Status:        store.EventStatusActive,
		Priority:      5,
		MaxRetries:    3,
	}
}

func TestTickEnqueuesDueEvent(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, st.Events().Upsert(ctx, pastDueEvent("e1")))

	candidates, acted := e.tickOnce(ctx)
	require.Equal(t, 1, candidates)
	require.Equal(t, 1, acted)

	status, err := st.Jobs().GetQueueStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, status.Counts[store.JobStatusQueued])

	got, err := st.Events().Get(ctx, "e1")
	require.NoError(t, err)
	require.Nil(t, got.LockHolder)
	next, err := time.Parse(time.RFC3339Nano, got.NextEvalAt)
	require.NoError(t, err)
	require.True(t, next.After(time.Now().Add(50*time.Second)))
}

func TestTickSkipsWebhookConditionType(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	evt := pastDueEvent("e1")
	evt.ConditionType = store.ConditionWebhook
	require.NoError(t, st.Events().Upsert(ctx, evt))

	candidates, acted := e.tickOnce(ctx)
	require.Equal(t, 1, candidates)
	require.Equal(t, 0, acted)

	status, err := st.Jobs().GetQueueStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, status.Counts[store.JobStatusQueued])
}

func TestTickPausesEventAtMaxRetries(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	evt := pastDueEvent("e1")
	evt.ConsecutiveFails = 3
	evt.MaxRetries = 3
	require.NoError(t, st.Events().Upsert(ctx, evt))

	_, acted := e.tickOnce(ctx)
	require.Equal(t, 0, acted)

	got, err := st.Events().Get(ctx, "e1")
	require.NoError(t, err)
	require.Equal(t, store.EventStatusPaused, got.Status)
}

func TestTickDoesNotTouchNextEvalOnDedupHit(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	key := "shared"
	evt := pastDueEvent("e1")
	evt.ConcurrencyKey = &key
	require.NoError(t, st.Events().Upsert(ctx, evt))

	_, _, err := st.Jobs().Enqueue(ctx, store.Job{ActionType: "script", ActionConfig: "{}", ConcurrencyKey: &key, Priority: 5})
	require.NoError(t, err)

	_, acted := e.tickOnce(ctx)
	require.Equal(t, 0, acted)

	got, err := st.Events().Get(ctx, "e1")
	require.NoError(t, err)
	require.Equal(t, "2000-01-01T00:00:00Z", got.NextEvalAt)
}

func TestTriggerManuallyAdvancesWebhookEvent(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	evt := pastDueEvent("e1")
	evt.ConditionType = store.ConditionWebhook
	require.NoError(t, st.Events().Upsert(ctx, evt))

	jobID, ok, err := e.Trigger(ctx, "e1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Greater(t, jobID, int64(0))
}

func TestStartAndStopLifecycle(t *testing.T) {
	e, _ := newTestEngine(t)
	require.False(t, e.Healthy())
	require.NoError(t, e.Start(context.Background()))
	require.True(t, e.Healthy())
	require.NoError(t, e.Stop(context.Background()))
	require.False(t, e.Healthy())
}
