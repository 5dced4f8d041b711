// Package warmup proactively populates the completion cache. A catalog of
// high-value prompts with recurrence rules is evaluated on a minute tick;
// due prompts become jobs on a two-tier priority queue drained at bounded
// concurrency through the cache's get-or-compute path.
package warmup

import (
	"time"

	"github.com/seolha-lab/lexcache/internal/cache"
)

// Priority is a two-tier job priority: high-priority jobs enter the queue at
// the head, normal ones append.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// Frequency enumerates recurrence frequencies for a warmup prompt.
type Frequency string

const (
	FrequencyNone     Frequency = "none"
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyOnDemand Frequency = "on-demand"
)

// Recurrence describes when a prompt should be re-warmed automatically.
type Recurrence struct {
	Frequency Frequency    `json:"frequency"`
	TimeOfDay string       `json:"time_of_day,omitempty"` // "HH:MM", local time
	Weekday   time.Weekday `json:"weekday,omitempty"`     // weekly only
}

// SeasonalWindow restricts warmup to part of the year. A window where From
// is after To wraps around the new year (e.g. Nov–Feb).
type SeasonalWindow struct {
	FromMonth time.Month `json:"from_month"`
	ToMonth   time.Month `json:"to_month"`
}

// Conditions gate a due prompt on observed demand.
type Conditions struct {
	MinUserCount      int             `json:"min_user_count,omitempty"`
	MinUsageFrequency int             `json:"min_usage_frequency,omitempty"`
	Season            *SeasonalWindow `json:"season,omitempty"`
}

// Prompt is a registered warmup candidate. Prompts are never auto-deleted;
// LastRun updates after each successful warmup.
type Prompt struct {
	ID           string         `json:"id"`
	Prompt       string         `json:"prompt"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Metadata     cache.Metadata `json:"metadata"`
	Priority     Priority       `json:"priority"`
	Recurrence   Recurrence     `json:"recurrence"`
	Conditions   Conditions     `json:"conditions"`
	LastRun      time.Time      `json:"last_run"`
}

// JobStatus enumerates the warmup job state machine:
// pending → running → completed | pending(retry) | failed.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is one scheduled warmup run for a prompt.
type Job struct {
	ID          string    `json:"id"`
	PromptID    string    `json:"prompt_id"`
	Priority    Priority  `json:"priority"`
	Status      JobStatus `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// Stats is a point-in-time snapshot of scheduler state.
type Stats struct {
	Prompts    int   `json:"prompts"`
	QueueDepth int   `json:"queue_depth"`
	Running    int   `json:"running"`
	Completed  int64 `json:"completed"`
	Retried    int64 `json:"retried"`
	Failed     int64 `json:"failed"`
}
