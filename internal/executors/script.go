package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"
)

// defaultScriptTimeout matches the original subprocess executor's timeout
// default (spec.md §5, "per-config timeout (default 60s)"), ported here to
// the goja interrupt deadline instead of a process kill signal.
const defaultScriptTimeout = 60 * time.Second

// Script runs the script action_type's JS source in a fresh, sandboxed goja
// VM: one VM per call, no filesystem or network globals registered, a
// console.log sink, and the job's action_config exposed as `input`. This is
// a deliberate hardening over the original's shell subprocess (spec.md
// itself speaks of "script" only abstractly and does not mandate a shell;
// see DESIGN.md for the Open Question resolution).
//
// config keys: "script" (required JS source), "entry_point" (default
// "run"), "timeout" (seconds, default 60).
func Script(ctx context.Context, config map[string]any) (string, error) {
	source, _ := config["script"].(string)
	if strings.TrimSpace(source) == "" {
		return "error: no script specified", nil
	}

	entryPoint, _ := config["entry_point"].(string)
	if entryPoint == "" {
		entryPoint = "run"
	}

	timeout := parseTimeout(config["timeout"])

	vm := goja.New()

	var logs []string
	console := vm.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		logs = append(logs, strings.Join(parts, " "))
		return goja.Undefined()
	})
	_ = vm.Set("console", console)
	_ = vm.Set("input", vm.ToValue(config))

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-runCtx.Done():
			vm.Interrupt("script execution timed out")
		case <-done:
		}
	}()

	if _, err := vm.RunString(source); err != nil {
		return "", fmt.Errorf("script: load: %w", err)
	}

	fn, ok := goja.AssertFunction(vm.Get(entryPoint))
	if !ok {
		return "", fmt.Errorf("script: entry point %q is not a function", entryPoint)
	}

	result, err := fn(goja.Undefined(), vm.Get("input"))
	if err != nil {
		return "", fmt.Errorf("script: %w", err)
	}

	return formatScriptResult(result, logs), nil
}

func parseTimeout(raw any) time.Duration {
	switch v := raw.(type) {
	case float64:
		if v > 0 {
			return time.Duration(v * float64(time.Second))
		}
	case int:
		if v > 0 {
			return time.Duration(v) * time.Second
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return defaultScriptTimeout
}

func formatScriptResult(result goja.Value, logs []string) string {
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return strings.Join(logs, "\n")
	}
	exported := result.Export()
	if s, ok := exported.(string); ok {
		return s
	}
	b, err := json.Marshal(exported)
	if err != nil {
		return fmt.Sprintf("%v", exported)
	}
	return string(b)
}
