// Package invalidation is a declarative rule engine over the completion
// cache. Domain events flow through a FIFO queue; a serialized drain loop
// matches them against registered triggers, whose actions purge cache
// entries by tag, user, pattern, or criteria.
package invalidation

import (
	"time"
)

// ConditionType enumerates the event shapes a trigger can match.
type ConditionType string

const (
	ConditionContentChange ConditionType = "content_change"
	ConditionTimeBased     ConditionType = "time_based"
	ConditionUserAction    ConditionType = "user_action"
	ConditionSystemEvent   ConditionType = "system_event"
	ConditionDataUpdate    ConditionType = "data_update"
)

// Condition is one OR-branch of a trigger. Params are matched against event
// data per condition type:
//
//	content_change: entity_type, change_type
//	time_based:     Threshold = minimum seconds since the trigger last fired
//	user_action:    action_type; Threshold = minimum occurrences in the window
//	system_event:   subtype
//	data_update:    category
type Condition struct {
	Type      ConditionType     `json:"type"`
	Params    map[string]string `json:"params,omitempty"`
	Threshold int               `json:"threshold,omitempty"`
}

// ActionKind enumerates the purge operations a trigger can run.
type ActionKind string

const (
	ActionByTag     ActionKind = "invalidate_by_tag"
	ActionByUser    ActionKind = "invalidate_by_user"
	ActionByPattern ActionKind = "invalidate_by_pattern"
	ActionPartial   ActionKind = "partial_invalidate"
	ActionFullClear ActionKind = "full_clear"
)

// Action is one purge step. Params per kind:
//
//	invalidate_by_tag:     tag
//	invalidate_by_user:    user_id (falls back to the event's user_id)
//	invalidate_by_pattern: pattern (regexp over normalized prompts),
//	                       keep_recent (decimal), user_id (optional scope)
//	partial_invalidate:    request_type, contract_type, language, jurisdiction
//	full_clear:            —
//
// A non-zero Delay defers execution off the drain loop.
type Action struct {
	Kind   ActionKind        `json:"kind"`
	Params map[string]string `json:"params,omitempty"`
	Delay  time.Duration     `json:"delay,omitempty"`
}

// Trigger maps matching events to a list of purge actions. OR semantics
// across conditions: one matching condition fires every action once.
type Trigger struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Conditions    []Condition `json:"conditions"`
	Actions       []Action    `json:"actions"`
	Active        bool        `json:"active"`
	CreatedAt     time.Time   `json:"created_at"`
	LastTriggered time.Time   `json:"last_triggered,omitempty"`
	TriggerCount  int64       `json:"trigger_count"`
}

// Event is one domain occurrence. Consumed exactly once from the queue,
// then discarded.
type Event struct {
	Type      string            `json:"type"`
	Data      map[string]string `json:"data,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Source    string            `json:"source,omitempty"`
}

// Stats is a snapshot of engine state.
type Stats struct {
	Triggers       int   `json:"triggers"`
	ActiveTriggers int   `json:"active_triggers"`
	QueueDepth     int   `json:"queue_depth"`
	Processed      int64 `json:"processed"`
	Dropped        int64 `json:"dropped"`
	Firings        int64 `json:"firings"`
}
