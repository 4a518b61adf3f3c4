package flow

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunAllStepsSucceed(t *testing.T) {
	def := Definition{
		FlowID: "f1",
		Name:   "demo",
		Steps: []Step{
			{ID: "a", Action: "noop"},
			{ID: "b", Action: "noop"},
		},
	}
	exec := func(ctx context.Context, action string, config map[string]any) (string, error) {
		return "ok", nil
	}
	result := Run(context.Background(), def, nil, exec)
	require.True(t, result.Success)
	require.Equal(t, "ok", result.Steps["a"].Output)
	require.Equal(t, "ok", result.Steps["b"].Output)
}

func TestRunSkipsStepOnFalsyCondition(t *testing.T) {
	def := Definition{
		FlowID: "f1",
		Steps: []Step{
			{ID: "a", Action: "noop", Condition: "false"},
		},
	}
	exec := func(ctx context.Context, action string, config map[string]any) (string, error) {
		t.Fatal("exec should not be called for a skipped step")
		return "", nil
	}
	result := Run(context.Background(), def, nil, exec)
	require.True(t, result.Success)
	require.True(t, result.Steps["a"].Skipped)
}

func TestRunOnErrorFailStopsFlow(t *testing.T) {
	def := Definition{
		FlowID: "f1",
		Steps: []Step{
			{ID: "a", Action: "bad", OnError: "fail"},
			{ID: "b", Action: "noop"},
		},
	}
	exec := func(ctx context.Context, action string, config map[string]any) (string, error) {
		if action == "bad" {
			return "error: boom", nil
		}
		t.Fatal("step b should not run after a fails with on_error=fail")
		return "", nil
	}
	result := Run(context.Background(), def, nil, exec)
	require.False(t, result.Success)
	require.Contains(t, result.Error, "boom")
	_, ranB := result.Steps["b"]
	require.False(t, ranB)
}

func TestRunOnErrorContinueProceedsToNextStep(t *testing.T) {
	def := Definition{
		FlowID: "f1",
		Steps: []Step{
			{ID: "a", Action: "bad", OnError: "continue"},
			{ID: "b", Action: "noop"},
		},
	}
	exec := func(ctx context.Context, action string, config map[string]any) (string, error) {
		if action == "bad" {
			return "error: boom", nil
		}
		return "ok", nil
	}
	result := Run(context.Background(), def, nil, exec)
	require.False(t, result.Success)
	require.Equal(t, "ok", result.Steps["b"].Output)
}

func TestRunSkipUnlessErrorRunsOnlyAfterFailure(t *testing.T) {
	def := Definition{
		FlowID: "f1",
		Steps: []Step{
			{ID: "a", Action: "noop"},
			{ID: "cleanup", Action: "noop", SkipUnlessError: true},
		},
	}
	exec := func(ctx context.Context, action string, config map[string]any) (string, error) {
		return "ok", nil
	}
	result := Run(context.Background(), def, nil, exec)
	require.True(t, result.Steps["cleanup"].Skipped)
}

func TestRunRetriesUpToAttemptsThenFails(t *testing.T) {
	attempts := 0
	def := Definition{
		FlowID: "f1",
		Steps: []Step{
			{ID: "a", Action: "flaky", Retry: &Retry{Attempts: 3}},
		},
	}
	exec := func(ctx context.Context, action string, config map[string]any) (string, error) {
		attempts++
		return "error: still broken", nil
	}
	result := Run(context.Background(), def, nil, exec)
	require.False(t, result.Success)
	require.Equal(t, 3, attempts)
}

func TestRunRetrySucceedsOnLaterAttempt(t *testing.T) {
	attempts := 0
	def := Definition{
		FlowID: "f1",
		Steps: []Step{
			{ID: "a", Action: "flaky", Retry: &Retry{Attempts: 3}},
		},
	}
	exec := func(ctx context.Context, action string, config map[string]any) (string, error) {
		attempts++
		if attempts < 2 {
			return "error: not yet", nil
		}
		return "ok", nil
	}
	result := Run(context.Background(), def, nil, exec)
	require.True(t, result.Success)
	require.Equal(t, 2, attempts)
}

func TestRunUnknownActionFailsStep(t *testing.T) {
	def := Definition{
		FlowID: "f1",
		Steps: []Step{
			{ID: "a", Action: "mystery"},
		},
	}
	result := Run(context.Background(), def, nil, nil)
	require.False(t, result.Success)
	require.Contains(t, result.Steps["a"].Error, "unknown action")
}

func TestReportPrefixesErrorOnFailure(t *testing.T) {
	def := Definition{
		FlowID: "f1",
		Steps: []Step{
			{ID: "a", Action: "bad"},
		},
	}
	exec := func(ctx context.Context, action string, config map[string]any) (string, error) {
		return "", fmt.Errorf("kaboom")
	}
	result := Run(context.Background(), def, nil, exec)
	report := result.Report()
	require.Contains(t, report, "error: flow failed - kaboom")
}
