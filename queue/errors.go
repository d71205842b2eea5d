package queue

import "errors"

// Sentinel errors for queue operations.
var (
	// ErrQueueFull is returned when the pending set is at capacity.
	ErrQueueFull = errors.New("queue: queue full")

	// ErrCyclicDependency is returned when a submitted task's dependency
	// chain cycles back to itself.
	ErrCyclicDependency = errors.New("queue: cyclic dependency")

	// ErrDuplicateTask is returned when a task ID is already known.
	ErrDuplicateTask = errors.New("queue: duplicate task id")

	// ErrTaskNotFound is returned for operations on unknown task IDs.
	ErrTaskNotFound = errors.New("queue: task not found")

	// ErrTaskCancelled is the deterministic error carried by a cancelled
	// task's result.
	ErrTaskCancelled = errors.New("queue: task cancelled")

	// ErrTaskTimedOut is carried by a task that hit its task-level
	// timeout, distinct from an ordinary failure.
	ErrTaskTimedOut = errors.New("queue: task timed out")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("queue: scheduler already started")

	// ErrNoSnapshot is returned by LoadState when the store is empty.
	ErrNoSnapshot = errors.New("queue: no saved queue state")
)
