package flow

import (
	"encoding/json"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// runContext is the shape the interpreter threads through step execution:
// {flow: {id,name}, steps: {<id>: {output, error, skipped?}}, trigger: {...}}.
type runContext struct {
	flow    map[string]any
	steps   map[string]StepResult
	trigger map[string]any
}

// tokenRe matches a single {{ident(.ident)*}} interpolation token.
var tokenRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// interpolateConfig recursively substitutes {{path}} tokens in every leaf
// string of config against ctx. Dict keys and list order are preserved;
// non-string leaves pass through unchanged.
func interpolateConfig(config map[string]any, ctx *runContext) map[string]any {
	if config == nil {
		return map[string]any{}
	}
	out, _ := interpolateValue(config, ctx).(map[string]any)
	return out
}

func interpolateValue(v any, ctx *runContext) any {
	switch vv := v.(type) {
	case string:
		return interpolateString(vv, ctx)
	case map[string]any:
		out := make(map[string]any, len(vv))
		for k, val := range vv {
			out[k] = interpolateValue(val, ctx)
		}
		return out
	case []any:
		out := make([]any, len(vv))
		for i, val := range vv {
			out[i] = interpolateValue(val, ctx)
		}
		return out
	default:
		return vv
	}
}

// interpolateString substitutes every recognized {{path}} token in s.
// Unrecognized tokens are left literal.
func interpolateString(s string, ctx *runContext) string {
	return tokenRe.ReplaceAllStringFunc(s, func(match string) string {
		sub := tokenRe.FindStringSubmatch(match)
		if len(sub) != 2 {
			return match
		}
		val, ok := resolveToken(sub[1], ctx)
		if !ok {
			return match
		}
		return val
	})
}

// resolveToken resolves one dotted path against the run context, per the
// table in the flow interpreter spec: env.NAME, date.today, date.iso,
// date.week, date.plus_days.N, steps.<id>.<field>, flow.<field>,
// trigger.payload.<k>, trigger.<field>.
func resolveToken(path string, ctx *runContext) (string, bool) {
	parts := strings.SplitN(path, ".", 2)
	head := parts[0]
	var rest string
	if len(parts) == 2 {
		rest = parts[1]
	}

	switch head {
	case "env":
		if rest == "" {
			return "", false
		}
		return os.Getenv(rest), true

	case "date":
		return resolveDateToken(rest)

	case "steps":
		if rest == "" {
			return "", false
		}
		return gjsonLookup(ctx.steps, rest)

	case "flow":
		if rest == "" {
			return "", false
		}
		return gjsonLookup(ctx.flow, rest)

	case "trigger":
		if rest == "" {
			return "", false
		}
		return gjsonLookup(ctx.trigger, rest)

	default:
		return "", false
	}
}

func resolveDateToken(rest string) (string, bool) {
	now := time.Now().UTC()
	switch {
	case rest == "today":
		return now.Format("2006-01-02"), true
	case rest == "iso":
		return now.Format(time.RFC3339), true
	case rest == "week":
		year, week := now.ISOWeek()
		return time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 0).Format("2006") + "-W" + pad2(week), true
	case strings.HasPrefix(rest, "plus_days."):
		n, err := strconv.Atoi(strings.TrimPrefix(rest, "plus_days."))
		if err != nil {
			return "", false
		}
		return now.AddDate(0, 0, n).Format("2006-01-02"), true
	default:
		return "", false
	}
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

// gjsonLookup marshals v to JSON and resolves path against it, returning the
// scalar string representation. Used for steps.*/flow.*/trigger.* paths,
// which are naturally JSON-shaped (gjson.Get, not reflection).
func gjsonLookup(v any, path string) (string, bool) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	r := gjson.GetBytes(b, path)
	if !r.Exists() {
		return "", false
	}
	return r.String(), true
}

// evaluateCondition evaluates a step's condition (a string or a list of
// strings) against ctx. ok is false when there is no condition to evaluate.
// When ok is true, skip reports whether the step should be skipped: a
// clause is falsy (and so causes a skip) iff, after interpolation and
// case-folding, it is "", "false", "0", or "skip"; a list requires every
// clause to be truthy for the step to run.
func evaluateCondition(condition any, ctx *runContext) (skip bool, ok bool) {
	var clauses []string
	switch c := condition.(type) {
	case nil:
		return false, false
	case string:
		clauses = []string{c}
	case []string:
		clauses = c
	case []any:
		for _, item := range c {
			if s, isStr := item.(string); isStr {
				clauses = append(clauses, s)
			}
		}
	default:
		return false, false
	}
	if len(clauses) == 0 {
		return false, false
	}

	for _, clause := range clauses {
		interpolated := interpolateString(clause, ctx)
		folded := strings.ToLower(strings.TrimSpace(interpolated))
		switch folded {
		case "", "false", "0", "skip":
			return true, true
		}
	}
	return false, true
}
