// Package flow implements the step-by-step flow interpreter: conditions,
// token interpolation, retry with backoff, and on_error handling.
package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Step is a single unit of work within a flow.
type Step struct {
	ID              string         `json:"id"`
	Action          string         `json:"action"`
	Config          map[string]any `json:"config"`
	Agent           string         `json:"agent,omitempty"`
	Condition       any            `json:"condition,omitempty"` // string or []string
	OnError         string         `json:"on_error,omitempty"`  // fail | continue | goto:<id>
	Retry           *Retry         `json:"retry,omitempty"`
	SkipUnlessError bool           `json:"skip_unless_error,omitempty"`
}

// Retry configures reattempts for a step's executor call.
type Retry struct {
	Attempts int     `json:"attempts"`
	Backoff  []float64 `json:"backoff"` // seconds between attempts
}

// Definition is the flow config document the interpreter runs.
type Definition struct {
	FlowID         string `json:"flow_id"`
	Name           string `json:"name"`
	Steps          []Step `json:"steps"`
	TriggerPayload any    `json:"trigger_payload"`
}

// StepResult is the recorded outcome of one step, stored in the run context.
type StepResult struct {
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
}

// Executor runs one step's action against its interpolated config and
// returns a result string. By convention a string beginning with "error" is
// a soft, retryable failure; a returned Go error is a hard failure that is
// also retried the same way.
type Executor func(ctx context.Context, action string, config map[string]any) (string, error)

// Result is the terminal outcome of a flow run.
type Result struct {
	FlowID  string
	Success bool
	Steps   map[string]StepResult
	Error   string
}

// Sleep is overridable so tests can avoid real backoff delays.
var Sleep = time.Sleep

// Run interprets def step by step using exec to dispatch actions, and
// trigger as the {{trigger.*}} context. It never returns a Go error: all
// failures are captured in the returned Result.
func Run(ctx context.Context, def Definition, trigger map[string]any, exec Executor) Result {
	runCtx := &runContext{
		flow:    map[string]any{"id": def.FlowID, "name": def.Name},
		steps:   map[string]StepResult{},
		trigger: trigger,
	}

	failed := false
	var failureMsg string

	for _, step := range def.Steps {
		if skip, ok := evaluateCondition(step.Condition, runCtx); ok && skip {
			runCtx.steps[step.ID] = StepResult{Output: "", Skipped: true}
			continue
		}

		if step.SkipUnlessError && !failed {
			runCtx.steps[step.ID] = StepResult{Output: "", Skipped: true}
			continue
		}

		config := interpolateConfig(step.Config, runCtx)

		attempts := 1
		var backoff []float64
		if step.Retry != nil {
			if step.Retry.Attempts > 0 {
				attempts = step.Retry.Attempts
			}
			backoff = step.Retry.Backoff
		}

		var output string
		var stepErr error
		for attempt := 0; attempt < attempts; attempt++ {
			if exec == nil {
				stepErr = fmt.Errorf("unknown action: %s", step.Action)
				output = ""
			} else {
				output, stepErr = exec(ctx, step.Action, config)
			}

			retryable := stepErr != nil || strings.HasPrefix(output, "error")
			if !retryable {
				break
			}
			if attempt == attempts-1 {
				break
			}
			if len(backoff) > 0 {
				idx := attempt
				if idx >= len(backoff) {
					idx = len(backoff) - 1
				}
				Sleep(time.Duration(backoff[idx] * float64(time.Second)))
			}
		}

		stepFailed := stepErr != nil || strings.HasPrefix(output, "error")
		if stepFailed {
			errMsg := output
			if stepErr != nil {
				errMsg = stepErr.Error()
			}
			runCtx.steps[step.ID] = StepResult{Output: "", Error: errMsg}
			failed = true
			failureMsg = errMsg

			onError := step.OnError
			if onError == "" {
				onError = "fail"
			}
			switch {
			case onError == "fail":
				return finish(def.FlowID, false, runCtx, failureMsg)
			case onError == "continue":
				continue
			case strings.HasPrefix(onError, "goto:"):
				continue
			default:
				return finish(def.FlowID, false, runCtx, failureMsg)
			}
		}

		runCtx.steps[step.ID] = StepResult{Output: output}
	}

	return finish(def.FlowID, !failed, runCtx, failureMsg)
}

func finish(flowID string, success bool, runCtx *runContext, failureMsg string) Result {
	return Result{
		FlowID:  flowID,
		Success: success,
		Steps:   runCtx.steps,
		Error:   failureMsg,
	}
}

// Report renders a human-readable multi-line summary of a flow run. A
// failed run is prefixed "error: flow failed - <msg>" so callers that treat
// a leading "error" as a soft job failure do the right thing automatically.
func (r Result) Report() string {
	var b strings.Builder
	if !r.Success {
		fmt.Fprintf(&b, "error: flow failed - %s\n", r.Error)
	} else {
		fmt.Fprintf(&b, "flow %s completed successfully\n", r.FlowID)
	}
	for _, id := range r.stepOrder() {
		step := r.Steps[id]
		switch {
		case step.Skipped:
			fmt.Fprintf(&b, "  %s: skipped\n", id)
		case step.Error != "":
			fmt.Fprintf(&b, "  %s: error: %s\n", id, step.Error)
		default:
			fmt.Fprintf(&b, "  %s: %s\n", id, step.Output)
		}
	}
	return b.String()
}

// stepOrder is best-effort: map iteration has no stable order, so callers
// that need exact declaration order should read Result.Steps directly keyed
// by step id instead of relying on Report's text layout.
func (r Result) stepOrder() []string {
	ids := make([]string, 0, len(r.Steps))
	for id := range r.Steps {
		ids = append(ids, id)
	}
	return ids
}

// MarshalStepsJSON renders the steps map as JSON, used when publishing
// flow.completed on the bus.
func (r Result) MarshalStepsJSON() string {
	b, err := json.Marshal(r.Steps)
	if err != nil {
		return "{}"
	}
	return string(b)
}
