package store

import "time"

// Event is a scheduled or triggered unit evaluated by the engine tick loop.
type Event struct {
	ID                   string    `db:"id" json:"id"`
	Type                 string    `db:"type" json:"type"`
	ConditionType        string    `db:"condition_type" json:"condition_type"`
	ConditionExpr        string    `db:"condition_expr" json:"condition_expr"`
	NextEvalAt           string    `db:"next_eval_at" json:"next_eval_at"`
	ActionType           string    `db:"action_type" json:"action_type"`
	ActionConfig         string    `db:"action_config" json:"action_config"`
	Status               string    `db:"status" json:"status"`
	Priority             int       `db:"priority" json:"priority"`
	ConcurrencyKey       *string   `db:"concurrency_key" json:"concurrency_key,omitempty"`
	MaxRetries           int       `db:"max_retries" json:"max_retries"`
	RetryBackoffMinutes  string    `db:"retry_backoff_minutes" json:"retry_backoff_minutes"`
	ConsecutiveFails     int       `db:"consecutive_fails" json:"consecutive_fails"`
	RunCount             int       `db:"run_count" json:"run_count"`
	FailCount            int       `db:"fail_count" json:"fail_count"`
	LockHolder           *string   `db:"lock_holder" json:"lock_holder,omitempty"`
	LockExpiresAt        *string   `db:"lock_expires_at" json:"lock_expires_at,omitempty"`
	ExpiresAt            *string   `db:"expires_at" json:"expires_at,omitempty"`
	Metadata             string    `db:"metadata" json:"metadata"`
	Description          string    `db:"description" json:"description"`
	CreatedAt            string    `db:"created_at" json:"created_at"`
	UpdatedAt            string    `db:"updated_at" json:"updated_at"`
}

// Event status values.
const (
	EventStatusActive  = "active"
	EventStatusPaused  = "paused"
	EventStatusFailed  = "failed"
	EventStatusExpired = "expired"
)

// Condition types controlling how an event is evaluated by the engine.
const (
	ConditionCron       = "cron"
	ConditionInterval   = "interval"
	ConditionOnce       = "once"
	ConditionWebhook    = "webhook"
	ConditionManual     = "manual"
	ConditionFlowChain  = "flow_chain"
)

// Job is a work unit owned by the queue.
type Job struct {
	ID             int64   `db:"id" json:"id"`
	EventID        *string `db:"event_id" json:"event_id,omitempty"`
	Priority       int     `db:"priority" json:"priority"`
	ConcurrencyKey *string `db:"concurrency_key" json:"concurrency_key,omitempty"`
	ActionType     string  `db:"action_type" json:"action_type"`
	ActionConfig   string  `db:"action_config" json:"action_config"`
	Status         string  `db:"status" json:"status"`
	WorkerID       *string `db:"worker_id" json:"worker_id,omitempty"`
	Source         string  `db:"source" json:"source"`
	QueuedAt       string  `db:"queued_at" json:"queued_at"`
	StartedAt      *string `db:"started_at" json:"started_at,omitempty"`
	CompletedAt    *string `db:"completed_at" json:"completed_at,omitempty"`
	Result         *string `db:"result" json:"result,omitempty"`
	Error          *string `db:"error" json:"error,omitempty"`
}

// Job status values.
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// QueueStatus summarizes per-status job counts plus a handful of recent rows.
type QueueStatus struct {
	Counts      map[string]int `json:"counts"`
	RecentJobs  []Job          `json:"recent_jobs"`
}

// EventRun is an immutable ledger row for a single event-triggered attempt.
type EventRun struct {
	ID          int64   `db:"id" json:"id"`
	EventID     string  `db:"event_id" json:"event_id"`
	StartedAt   string  `db:"started_at" json:"started_at"`
	CompletedAt *string `db:"completed_at" json:"completed_at,omitempty"`
	Result      *string `db:"result" json:"result,omitempty"`
	Output      *string `db:"output" json:"output,omitempty"`
	DurationMs  *int64  `db:"duration_ms" json:"duration_ms,omitempty"`
	Error       *string `db:"error" json:"error,omitempty"`
	WorkerID    *string `db:"worker_id" json:"worker_id,omitempty"`
}

// maxRunOutputChars bounds the stored output length of a run.
const maxRunOutputChars = 10000

// BusEvent is a journaled pub/sub record.
type BusEvent struct {
	ID        int64   `db:"id" json:"id"`
	Type      string  `db:"type" json:"type"`
	Source    *string `db:"source" json:"source,omitempty"`
	Data      string  `db:"data" json:"data"`
	CreatedAt string  `db:"created_at" json:"created_at"`
}

// HealthSnapshot is a periodic row written by the ops monitor.
type HealthSnapshot struct {
	ID                 int64  `db:"id" json:"id"`
	EngineHealthy      bool   `db:"engine_healthy" json:"engine_healthy"`
	DBHealthy          bool   `db:"db_healthy" json:"db_healthy"`
	ActiveWorkers      int    `db:"active_workers" json:"active_workers"`
	PendingJobs        int    `db:"pending_jobs" json:"pending_jobs"`
	FailedJobsLastHour int    `db:"failed_jobs_last_hour" json:"failed_jobs_last_hour"`
	LocksCleared       int    `db:"locks_cleared" json:"locks_cleared"`
	CreatedAt          string `db:"created_at" json:"created_at"`
}

// Alert severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert is a diagnostic row raised by the ops monitor.
type Alert struct {
	ID           int64  `db:"id" json:"id"`
	Severity     string `db:"severity" json:"severity"`
	Category     string `db:"category" json:"category"`
	Message      string `db:"message" json:"message"`
	AutoHealed   bool   `db:"auto_healed" json:"auto_healed"`
	Acknowledged bool   `db:"acknowledged" json:"acknowledged"`
	Details      string `db:"details" json:"details"`
	CreatedAt    string `db:"created_at" json:"created_at"`
}

// parseTime parses an RFC3339Nano timestamp as stored by this package,
// falling back to RFC3339 for rows written by older writers.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
