// Package schedule computes the next evaluation time for an event given its
// condition_type and condition_expr.
package schedule

import (
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
)

// defaultIntervalFallback is used when condition_expr fails to parse as an
// integer number of seconds.
const defaultIntervalFallback = 300 * time.Second

// onceDisableDuration effectively disables a "once" event after it fires,
// matching the original engine's ~100 year horizon.
const onceDisableDuration = 36500 * 24 * time.Hour

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Next computes the next evaluation timestamp for an event whose condition
// just fired successfully, given the current time and the engine's tick
// interval (used as the default fallback horizon).
func Next(conditionType, conditionExpr string, now time.Time, tick time.Duration) time.Time {
	switch conditionType {
	case "interval":
		seconds, err := strconv.Atoi(conditionExpr)
		if err != nil {
			return now.Add(defaultIntervalFallback)
		}
		return now.Add(time.Duration(seconds) * time.Second)

	case "cron":
		schedule, err := cronParser.Parse(conditionExpr)
		if err != nil {
			// Malformed cron expression: re-evaluate in 60s, same horizon the
			// original engine used unconditionally before a real parser existed.
			return now.Add(60 * time.Second)
		}
		return schedule.Next(now)

	case "once":
		return now.Add(onceDisableDuration)

	default:
		return now.Add(tick)
	}
}

// EvaluateCondition reports whether an event's condition is currently met,
// given that it was already selected as a next_eval_at-due candidate.
// cron/interval/once conditions trust the scheduling column and are always
// true once selected; webhook/manual/flow_chain events never self-trigger
// from the tick loop.
func EvaluateCondition(conditionType string) bool {
	switch conditionType {
	case "cron", "interval", "once":
		return true
	case "webhook", "manual", "flow_chain":
		return false
	default:
		return false
	}
}
