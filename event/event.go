package event

import "time"

// Type identifies a kind of core event.
type Type string

// Event types emitted by the core.
const (
	TaskStarted      Type = "task_started"
	TaskCompleted    Type = "task_completed"
	TaskFailed       Type = "task_failed"
	TaskCancelled    Type = "task_cancelled"
	TaskTimedOut     Type = "task_timed_out"
	CircuitOpened    Type = "circuit_opened"
	CircuitClosed    Type = "circuit_closed"
	HealthChanged    Type = "health_changed"
	RetryAttempted   Type = "retry_attempted"
	DegradationAlert Type = "degradation_alert"
	QueueEmpty       Type = "queue_empty"
)

// Event describes a single state transition in the core.
type Event struct {
	// Type is the kind of event.
	Type Type `json:"type"`

	// Key is the endpoint key the event relates to, if any.
	Key string `json:"key,omitempty"`

	// TaskID is the task the event relates to, if any.
	TaskID string `json:"task_id,omitempty"`

	// At is when the event occurred.
	At time.Time `json:"at"`

	// Detail carries event-specific metadata.
	Detail map[string]any `json:"detail,omitempty"`
}
