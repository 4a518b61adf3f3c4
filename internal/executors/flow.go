package executors

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Systemsaholic/nexaas/internal/bus"
	"github.com/Systemsaholic/nexaas/internal/flow"
	"github.com/Systemsaholic/nexaas/internal/logging"
	"github.com/Systemsaholic/nexaas/internal/store"
)

// chainTrigger is the {"trigger": {"condition": ...}} shape read out of a
// chained flow event's action_config.
type chainTrigger struct {
	Trigger struct {
		Condition string `json:"condition"`
	} `json:"trigger"`
}

// ChainTrigger fires a flow_chain/webhook/manual event directly, bypassing
// the tick loop's condition evaluation. *events.Engine satisfies this.
type ChainTrigger interface {
	Trigger(ctx context.Context, eventID string) (int64, bool, error)
}

// FlowExecutor runs a flow-typed job: it decodes action_config into a
// flow.Definition, dispatches each step back through the shared registry,
// and — once the flow finishes — advances any flow_chain events waiting on
// this flow's completion.
type FlowExecutor struct {
	registry *Registry
	store    *store.Store
	bus      *bus.Bus
	log      *logging.Logger
	trigger  ChainTrigger
}

// NewFlowExecutor builds the flow action_type handler. registry is the same
// registry it is itself registered into, so flow steps can invoke any other
// action_type (including nested flows). trigger is the engine's direct
// Trigger path, used to fire chained flow_chain events without waiting on a
// tick that would otherwise reject them (condition_type flow_chain never
// evaluates true on its own).
func NewFlowExecutor(registry *Registry, st *store.Store, b *bus.Bus, log *logging.Logger, trigger ChainTrigger) *FlowExecutor {
	return &FlowExecutor{registry: registry, store: st, bus: b, log: log, trigger: trigger}
}

// Execute implements the Executor signature for registration under "flow".
func (f *FlowExecutor) Execute(ctx context.Context, config map[string]any) (string, error) {
	raw, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("flow: marshal action_config: %w", err)
	}
	var def flow.Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return "", fmt.Errorf("flow: decode definition: %w", err)
	}

	trigger := map[string]any{"payload": def.TriggerPayload}

	result := flow.Run(ctx, def, trigger, f.dispatchStep)

	if f.bus != nil {
		f.bus.Publish(ctx, "flow.completed", map[string]any{
			"flow_id": result.FlowID,
			"success": result.Success,
			"steps":   json.RawMessage(result.MarshalStepsJSON()),
			"error":   result.Error,
		}, nil)
	}

	if f.store != nil && def.FlowID != "" {
		f.triggerChained(ctx, def.FlowID, result.Success)
	}

	return result.Report(), nil
}

// dispatchStep adapts the registry's action_type -> Executor table to the
// flow package's (action, config) -> (string, error) Executor shape.
func (f *FlowExecutor) dispatchStep(ctx context.Context, action string, config map[string]any) (string, error) {
	exec, ok := f.registry.Get(action)
	if !ok {
		return "", fmt.Errorf("unknown action_type: %s", action)
	}
	return exec(ctx, config)
}

// triggerChained implements the spec's chain-triggering step: find every
// flow event chained off completedFlowID, check its own trigger.condition
// against the completion status, and if it matches, fire it through the
// engine's Trigger path directly. condition_type flow_chain never evaluates
// true on a plain tick, so advancing next_eval_at alone is not enough — the
// event has to be enqueued in-process, the same way a webhook/manual
// trigger would be.
func (f *FlowExecutor) triggerChained(ctx context.Context, completedFlowID string, success bool) {
	if f.trigger == nil {
		return
	}

	chained, err := f.store.Events().ChainedByFlow(ctx, completedFlowID)
	if err != nil {
		if f.log != nil {
			f.log.WithError(err).Error("flow: list chained events")
		}
		return
	}

	for _, evt := range chained {
		var cfg chainTrigger
		if err := json.Unmarshal([]byte(evt.ActionConfig), &cfg); err != nil {
			if f.log != nil {
				f.log.WithError(err).Warn("flow: decode chained event action_config")
			}
			continue
		}

		if !chainConditionMatches(cfg.Trigger.Condition, success) {
			continue
		}

		if _, _, err := f.trigger.Trigger(ctx, evt.ID); err != nil {
			if f.log != nil {
				f.log.WithError(err).Error("flow: trigger chained event")
			}
		}
	}
}

// chainConditionMatches evaluates a chained event's trigger.condition
// (success | failure | both | always) against the upstream flow's outcome.
// An unrecognized or empty condition defaults to "success", matching the
// original reader's fallback.
func chainConditionMatches(condition string, success bool) bool {
	switch condition {
	case "failure":
		return !success
	case "both", "always":
		return true
	case "success", "":
		return success
	default:
		return success
	}
}
