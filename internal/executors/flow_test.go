package executors

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/Systemsaholic/nexaas/internal/bus"
	"github.com/Systemsaholic/nexaas/internal/events"
	"github.com/Systemsaholic/nexaas/internal/logging"
	"github.com/Systemsaholic/nexaas/internal/metrics"
	"github.com/Systemsaholic/nexaas/internal/store"
)

func newTestStack(t *testing.T) (*store.Store, *bus.Bus, *logging.Logger) {
	t.Helper()
	st, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	log := logging.New("nexaas-test", "error", "text")
	met := metrics.NewWithRegistry("nexaas-test", prometheus.NewRegistry())
	b := bus.New(st, log, met)
	return st, b, log
}

func TestFlowExecutorRunsStepsThroughRegistry(t *testing.T) {
	st, b, log := newTestStack(t)
	registry := NewRegistry()
	var calls []string
	registry.Register("script", func(ctx context.Context, config map[string]any) (string, error) {
		calls = append(calls, "script")
		return "step-ok", nil
	})
	flowExec := NewFlowExecutor(registry, st, b, log, nil)
	registry.Register("flow", flowExec.Execute)

	config := map[string]any{
		"flow_id": "f1",
		"name":    "demo",
		"steps": []any{
			map[string]any{"id": "s1", "action": "script", "config": map[string]any{}},
		},
	}

	report, err := flowExec.Execute(context.Background(), config)
	require.NoError(t, err)
	require.Contains(t, report, "completed successfully")
	require.Equal(t, []string{"script"}, calls)
}

func TestFlowExecutorTriggersChainedFlowOnSuccess(t *testing.T) {
	st, b, log := newTestStack(t)
	registry := NewRegistry()
	registry.Register("script", func(ctx context.Context, config map[string]any) (string, error) {
		return "ok", nil
	})
	engine := events.New(st, b, log, nil, time.Minute)
	flowExec := NewFlowExecutor(registry, st, b, log, engine)

	ctx := context.Background()
	chained := store.Event{
		ID:            "chained",
		Type:          "flow",
		ConditionType: store.ConditionFlowChain,
		ConditionExpr: "f1",
		NextEvalAt:    "2100-01-01T00:00:00Z",
		ActionType:    "script",
		ActionConfig:  `{"trigger":{"condition":"success"}}`,
		Status:        store.EventStatusActive,
		MaxRetries:    3,
	}
	require.NoError(t, st.Events().Upsert(ctx, chained))

	config := map[string]any{
		"flow_id": "f1",
		"name":    "demo",
		"steps": []any{
			map[string]any{"id": "s1", "action": "script", "config": map[string]any{}},
		},
	}
	_, err := flowExec.Execute(ctx, config)
	require.NoError(t, err)

	// Chaining must go through the engine's direct Trigger path (bypassing
	// tick condition evaluation, which always rejects flow_chain events) so
	// the chained event actually produces a queued job, not just a schedule
	// bump nobody ever acts on.
	status, err := st.Jobs().GetQueueStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, status.Counts[store.JobStatusQueued])
	require.Len(t, status.RecentJobs, 1)
	require.Equal(t, "script", status.RecentJobs[0].ActionType)
}

func TestChainConditionMatches(t *testing.T) {
	require.True(t, chainConditionMatches("success", true))
	require.False(t, chainConditionMatches("success", false))
	require.True(t, chainConditionMatches("failure", false))
	require.False(t, chainConditionMatches("failure", true))
	require.True(t, chainConditionMatches("both", false))
	require.True(t, chainConditionMatches("always", true))
	require.True(t, chainConditionMatches("", true))
	require.False(t, chainConditionMatches("", false))
	require.True(t, chainConditionMatches("unrecognized", true))
}
