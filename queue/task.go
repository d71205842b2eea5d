package queue

import (
	"encoding/json"
	"time"

	"github.com/jonwraymond/toolflow/dispatch"
)

// Task is one schedulable unit of work. Tasks carry no code: the
// scheduler's Handler turns the endpoint key and opaque payload into an
// operation, which keeps the pending set serializable.
type Task struct {
	// ID uniquely identifies the task. Assigned on submission if empty.
	ID string `json:"id"`

	// Endpoint is the endpoint key the task dispatches to.
	Endpoint string `json:"endpoint"`

	// Category selects the endpoint's fallback strategy family.
	Category string `json:"category,omitempty"`

	// Priority orders selection; higher runs sooner.
	Priority int `json:"priority"`

	// DependsOn lists task IDs that must succeed before this task runs.
	DependsOn []string `json:"depends_on,omitempty"`

	// Timeout bounds the whole task, independent of the dispatcher's
	// per-attempt timeout. Zero means no task-level timeout.
	Timeout time.Duration `json:"timeout_ns,omitempty"`

	// Policy is the dispatch retry policy for this task.
	Policy dispatch.Policy `json:"policy"`

	// Payload is opaque input for the Handler.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TaskState is the lifecycle state of a task.
type TaskState int

const (
	// StateQueued means accepted but not yet evaluated for readiness.
	StateQueued TaskState = iota
	// StateBlocked means waiting on dependencies.
	StateBlocked
	// StateReady means eligible to run when a concurrency slot frees.
	StateReady
	// StateRunning means currently dispatching.
	StateRunning
	// StateSucceeded is terminal: the dispatch produced a result.
	StateSucceeded
	// StateFailed is terminal: the dispatch failed.
	StateFailed
	// StateCancelled is terminal: the task was cancelled.
	StateCancelled
	// StateTimedOut is terminal: the task-level timeout elapsed.
	StateTimedOut
)

// String returns the string representation of the state.
func (s TaskState) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateBlocked:
		return "blocked"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the state as its string form.
func (s TaskState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Terminal reports whether no further transition can occur.
func (s TaskState) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled, StateTimedOut:
		return true
	}
	return false
}

// TaskStatus is a point-in-time snapshot of one task.
type TaskStatus struct {
	Task Task `json:"task"`

	State TaskState `json:"state"`

	// BlockedReason explains a permanent block, e.g. a cancelled
	// dependency.
	BlockedReason string `json:"blocked_reason,omitempty"`

	// Result is the dispatch outcome once the task is terminal.
	Result *dispatch.Result `json:"result,omitempty"`

	SubmittedAt time.Time `json:"submitted_at"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
}
