// Package queue schedules tasks for dispatch.
//
// A Scheduler holds pending tasks and starts the ready ones, highest
// priority first (or strictly FIFO), never exceeding the concurrency
// ceiling, and never before every dependency has succeeded. Cyclic
// dependency chains and over-capacity submissions are rejected
// synchronously. Cancellation is cooperative: a running task's context is
// cancelled and a watchdog guarantees the task reaches a terminal state
// and frees its slot even when the operation ignores the signal. The
// pending set can be saved to and restored from a Store.
//
// The batch helpers (ExecuteParallel, ExecuteInBatches,
// ExecuteWithDependencies) drive a dispatch.Dispatcher directly for
// one-shot task lists without a long-lived scheduler.
package queue
