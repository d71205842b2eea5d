package queue

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/toolflow/dispatch"
)

// ExecuteParallel dispatches the tasks concurrently, never more than
// limit at a time, and returns each result keyed by task ID. Dependency
// lists are ignored; use ExecuteWithDependencies for ordered batches.
func ExecuteParallel(ctx context.Context, d *dispatch.Dispatcher, handler Handler, tasks []Task, limit int) map[string]dispatch.Result {
	if limit <= 0 {
		limit = len(tasks)
	}

	var mu sync.Mutex
	results := make(map[string]dispatch.Result, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, task := range tasks {
		g.Go(func() error {
			op := func(c context.Context) ([]byte, error) {
				return handler(c, task)
			}
			res := d.Execute(gctx, task.Endpoint, task.Category, op, task.Policy)
			mu.Lock()
			results[task.ID] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ExecuteInBatches partitions the tasks into slices no larger than size
// and awaits each slice before starting the next.
func ExecuteInBatches(ctx context.Context, d *dispatch.Dispatcher, handler Handler, tasks []Task, size int) map[string]dispatch.Result {
	if size <= 0 {
		size = len(tasks)
	}

	results := make(map[string]dispatch.Result, len(tasks))
	for start := 0; start < len(tasks); start += size {
		end := min(start+size, len(tasks))
		for id, res := range ExecuteParallel(ctx, d, handler, tasks[start:end], size) {
			results[id] = res
		}
	}
	return results
}

// ExecuteWithDependencies runs the batch as a topological walk in waves:
// every task whose in-batch dependencies have completed runs in the
// current wave, so independent branches proceed concurrently while no
// task starts before its dependencies finish. A task whose dependency
// failed is not run; its result carries the dependency's error. Returns
// ErrCyclicDependency when the batch's graph has a cycle.
func ExecuteWithDependencies(ctx context.Context, d *dispatch.Dispatcher, handler Handler, tasks []Task, limit int) (map[string]dispatch.Result, error) {
	byID := make(map[string]Task, len(tasks))
	for _, task := range tasks {
		byID[task.ID] = task
	}
	if cyclic(tasks, byID) {
		return nil, ErrCyclicDependency
	}

	results := make(map[string]dispatch.Result, len(tasks))
	remaining := make([]Task, len(tasks))
	copy(remaining, tasks)

	for len(remaining) > 0 {
		var wave, blocked []Task
		var skipped []Task

	next:
		for _, task := range remaining {
			for _, dep := range task.DependsOn {
				if _, inBatch := byID[dep]; !inBatch {
					continue // dependency outside the batch
				}
				res, done := results[dep]
				if !done {
					blocked = append(blocked, task)
					continue next
				}
				if !res.Success {
					skipped = append(skipped, task)
					results[task.ID] = dispatch.Result{
						Err: fmt.Errorf("queue: dependency %s failed: %w", dep, res.Err),
					}
					continue next
				}
			}
			wave = append(wave, task)
		}

		if len(wave) == 0 && len(skipped) == 0 {
			// Unreachable after the cycle check, but never spin.
			return results, ErrCyclicDependency
		}
		if len(wave) > 0 {
			for id, res := range ExecuteParallel(ctx, d, handler, wave, limit) {
				results[id] = res
			}
		}
		remaining = blocked
	}
	return results, nil
}

// cyclic reports whether the batch graph has a cycle, following only
// edges inside the batch.
func cyclic(tasks []Task, byID map[string]Task) bool {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(tasks))

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, dep := range byID[id].DependsOn {
			if _, ok := byID[dep]; !ok {
				continue
			}
			switch color[dep] {
			case gray:
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	for _, task := range tasks {
		if color[task.ID] == white && visit(task.ID) {
			return true
		}
	}
	return false
}
