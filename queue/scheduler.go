package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/jonwraymond/toolflow/dispatch"
	"github.com/jonwraymond/toolflow/event"
	"github.com/jonwraymond/toolflow/observe"
)

// Handler turns a task's endpoint key and opaque payload into the actual
// operation. It must honor ctx cancellation at its checkpoints.
type Handler func(ctx context.Context, task Task) ([]byte, error)

// Selection is the ready-task selection policy.
type Selection int

const (
	// SelectPriority picks the highest priority first, FIFO within a tier.
	SelectPriority Selection = iota
	// SelectFIFO picks strictly in submission order.
	SelectFIFO
)

// Config configures a Scheduler.
type Config struct {
	// MaxConcurrency is the global ceiling on simultaneously running
	// tasks. Default: 4
	MaxConcurrency int

	// MaxPerEndpoint caps running tasks per endpoint key.
	// Default: 0 (no per-endpoint cap)
	MaxPerEndpoint int

	// Capacity bounds the pending (non-terminal) task set.
	// Default: 1024
	Capacity int

	// Selection is the ready-task selection policy.
	// Default: SelectPriority
	Selection Selection

	// Dispatcher executes each ready task. Required.
	Dispatcher *dispatch.Dispatcher

	// Handler materializes the operation for a task. Required.
	Handler Handler

	// Events receives task transition events. Optional.
	Events *event.Bus

	// Logger defaults to a no-op logger.
	Logger observe.Logger

	// Store persists queue snapshots for SaveState/LoadState. Optional.
	Store Store

	// Tick is the fallback wake interval of the selection loop, a safety
	// net behind the explicit wake signal. Default: 50ms
	Tick time.Duration

	// WatchdogGrace is how long a cancelled or timed-out task's operation
	// gets to unwind before the scheduler forces the terminal state and
	// reclaims the slot. Default: 5 seconds
	WatchdogGrace time.Duration

	// RetainTerminal bounds how many terminal task records are kept for
	// Status queries. Older unreferenced records are forgotten, and their
	// IDs may be reused. Default: 256
	RetainTerminal int
}

type record struct {
	task            Task
	seq             uint64
	state           TaskState
	blockedReason   string
	depsMet         map[string]bool
	result          *dispatch.Result
	cancel          context.CancelFunc
	cancelRequested bool
	submittedAt     time.Time
	startedAt       time.Time
	finishedAt      time.Time
}

// Scheduler holds pending tasks and drives the dispatcher for each ready
// one, honoring priority, dependency order, and the concurrency ceiling.
type Scheduler struct {
	config Config
	sem    *semaphore.Weighted

	mu           sync.Mutex
	records      map[string]*record
	seq          uint64
	running      int
	runningByKey map[string]int
	completed    int64
	paused       bool
	started      bool

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Stats summarizes queue occupancy.
type Stats struct {
	// Size is the number of non-terminal tasks.
	Size int `json:"size"`

	// Running is the number of tasks currently dispatching.
	Running int `json:"running"`

	// Blocked is the number of tasks waiting on dependencies.
	Blocked int `json:"blocked"`

	// Completed is the number of tasks that reached a terminal state.
	Completed int64 `json:"completed"`
}

// New creates a scheduler.
func New(config Config) (*Scheduler, error) {
	if config.Dispatcher == nil {
		return nil, errors.New("queue: config requires a Dispatcher")
	}
	if config.Handler == nil {
		return nil, errors.New("queue: config requires a Handler")
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.Capacity <= 0 {
		config.Capacity = 1024
	}
	if config.Logger == nil {
		config.Logger = observe.NopLogger{}
	}
	if config.Tick <= 0 {
		config.Tick = 50 * time.Millisecond
	}
	if config.WatchdogGrace <= 0 {
		config.WatchdogGrace = 5 * time.Second
	}
	if config.RetainTerminal <= 0 {
		config.RetainTerminal = 256
	}

	return &Scheduler{
		config:       config,
		sem:          semaphore.NewWeighted(int64(config.MaxConcurrency)),
		records:      make(map[string]*record),
		runningByKey: make(map[string]int),
		wake:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
	}, nil
}

// Start launches the selection loop. Tasks may be submitted before Start;
// they begin running once the loop is up.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

// Stop halts the selection loop and waits for in-flight tasks to settle.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// Pause suspends selection of new tasks. Running tasks continue.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume re-enables selection.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.signal()
}

// signal wakes the selection loop without blocking.
func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Tick)
	defer ticker.Stop()

	for {
		s.startReady(ctx)
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-s.wake:
		case <-ticker.C:
		}
	}
}

// Submit accepts a task. It rejects synchronously when the queue is at
// capacity or the task's dependency chain cycles back to itself. An empty
// ID is assigned a fresh UUID. The returned ID identifies the task.
func (s *Scheduler) Submit(task Task) (string, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}

	s.mu.Lock()
	if _, exists := s.records[task.ID]; exists {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrDuplicateTask, task.ID)
	}
	if s.sizeLocked() >= s.config.Capacity {
		s.mu.Unlock()
		return "", ErrQueueFull
	}
	if s.wouldCycleLocked(task) {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrCyclicDependency, task.ID)
	}

	r := &record{
		task:        task,
		seq:         s.nextSeqLocked(),
		submittedAt: time.Now(),
	}
	s.evaluateLocked(r)
	s.records[task.ID] = r
	s.mu.Unlock()

	s.signal()
	return task.ID, nil
}

// Cancel cancels a task. A task not yet running is finalized immediately;
// a running task's context is cancelled and the watchdog guarantees it
// reaches the cancelled terminal state even if the operation never
// observes the signal. Cancelling a terminal task is a no-op.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	r, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if r.state.Terminal() {
		s.mu.Unlock()
		return nil
	}
	if r.state == StateRunning {
		r.cancelRequested = true
		cancel := r.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	}

	evs := s.finalizeLocked(r, StateCancelled, &dispatch.Result{Err: ErrTaskCancelled})
	s.mu.Unlock()

	s.publish(evs...)
	s.signal()
	return nil
}

// Status returns a snapshot of one task. Terminal tasks pruned past the
// retention bound report ErrTaskNotFound.
func (s *Scheduler) Status(id string) (TaskStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return TaskStatus{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return r.statusLocked(), nil
}

// Stats returns queue occupancy counts.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Running: s.running, Completed: s.completed}
	for _, r := range s.records {
		if !r.state.Terminal() {
			st.Size++
		}
		if r.state == StateBlocked {
			st.Blocked++
		}
	}
	return st
}

func (r *record) statusLocked() TaskStatus {
	return TaskStatus{
		Task:          r.task,
		State:         r.state,
		BlockedReason: r.blockedReason,
		Result:        r.result,
		SubmittedAt:   r.submittedAt,
		StartedAt:     r.startedAt,
		FinishedAt:    r.finishedAt,
	}
}

func (s *Scheduler) nextSeqLocked() uint64 {
	s.seq++
	return s.seq
}

func (s *Scheduler) sizeLocked() int {
	n := 0
	for _, r := range s.records {
		if !r.state.Terminal() {
			n++
		}
	}
	return n
}

// wouldCycleLocked reports whether task's dependency chain reaches back to
// task itself through the known graph.
func (s *Scheduler) wouldCycleLocked(task Task) bool {
	visited := make(map[string]bool)

	var visit func(deps []string) bool
	visit = func(deps []string) bool {
		for _, dep := range deps {
			if dep == task.ID {
				return true
			}
			if visited[dep] {
				continue
			}
			visited[dep] = true
			if r, ok := s.records[dep]; ok {
				if visit(r.task.DependsOn) {
					return true
				}
			}
		}
		return false
	}
	return visit(task.DependsOn)
}

// evaluateLocked recomputes a non-running task's blocked/ready state from
// its dependencies' terminal states. A dependency observed as succeeded is
// remembered on the record, so readiness survives the dependency's record
// being pruned or absent from a restored snapshot.
func (s *Scheduler) evaluateLocked(r *record) {
	if r.state.Terminal() || r.state == StateRunning {
		return
	}
	for _, dep := range r.task.DependsOn {
		if r.depsMet[dep] {
			continue
		}
		dr, ok := s.records[dep]
		if !ok {
			// Dependency not submitted yet.
			r.state = StateBlocked
			r.blockedReason = ""
			return
		}
		switch {
		case dr.state == StateSucceeded:
			if r.depsMet == nil {
				r.depsMet = make(map[string]bool)
			}
			r.depsMet[dep] = true
			continue
		case dr.state.Terminal():
			// A cancelled, failed, or timed-out dependency permanently
			// blocks its dependents; the caller resolves it by
			// cancelling them.
			r.state = StateBlocked
			r.blockedReason = fmt.Sprintf("dependency %s %s", dep, dr.state)
			return
		default:
			r.state = StateBlocked
			r.blockedReason = ""
			return
		}
	}
	r.state = StateReady
	r.blockedReason = ""
}

// startReady launches ready tasks, best first, within the concurrency
// budget.
func (s *Scheduler) startReady(ctx context.Context) {
	s.mu.Lock()
	if s.paused || ctx.Err() != nil {
		s.mu.Unlock()
		return
	}

	ready := make([]*record, 0)
	for _, r := range s.records {
		if r.state == StateReady {
			ready = append(ready, r)
		}
	}

	if s.config.Selection == SelectPriority {
		sort.Slice(ready, func(i, j int) bool {
			if ready[i].task.Priority != ready[j].task.Priority {
				return ready[i].task.Priority > ready[j].task.Priority
			}
			return ready[i].seq < ready[j].seq
		})
	} else {
		sort.Slice(ready, func(i, j int) bool {
			return ready[i].seq < ready[j].seq
		})
	}

	type launch struct {
		r      *record
		tctx   context.Context
		cancel context.CancelFunc
	}
	var launches []launch

	for _, r := range ready {
		key := r.task.Endpoint
		if s.config.MaxPerEndpoint > 0 && s.runningByKey[key] >= s.config.MaxPerEndpoint {
			continue
		}
		if !s.sem.TryAcquire(1) {
			break
		}

		var tctx context.Context
		var cancel context.CancelFunc
		if r.task.Timeout > 0 {
			tctx, cancel = context.WithTimeout(ctx, r.task.Timeout)
		} else {
			tctx, cancel = context.WithCancel(ctx)
		}
		r.state = StateRunning
		r.startedAt = time.Now()
		r.cancel = cancel
		s.running++
		s.runningByKey[key]++
		launches = append(launches, launch{r, tctx, cancel})
	}
	s.mu.Unlock()

	for _, l := range launches {
		s.publish(event.Event{Type: event.TaskStarted, TaskID: l.r.task.ID, Key: l.r.task.Endpoint})
		s.config.Logger.Debug(ctx, "task started",
			observe.F("task", l.r.task.ID),
			observe.F("endpoint", l.r.task.Endpoint),
		)
		s.wg.Add(1)
		go s.runTask(l.tctx, l.cancel, l.r)
	}
}

func (s *Scheduler) runTask(tctx context.Context, cancel context.CancelFunc, r *record) {
	defer s.wg.Done()
	defer cancel()

	resCh := make(chan dispatch.Result, 1)
	go func() {
		op := func(c context.Context) ([]byte, error) {
			return s.config.Handler(c, r.task)
		}
		resCh <- s.config.Dispatcher.Execute(tctx, r.task.Endpoint, r.task.Category, op, r.task.Policy)
	}()

	select {
	case res := <-resCh:
		s.settle(tctx, r, &res)
	case <-tctx.Done():
		// Cancelled or timed out. Give the operation a grace period to
		// unwind before forcing the terminal state and reclaiming the
		// slot.
		select {
		case res := <-resCh:
			s.settle(tctx, r, &res)
		case <-time.After(s.config.WatchdogGrace):
			s.settle(tctx, r, nil)
		}
	}
}

// settle records the terminal state for a finished (or abandoned) running
// task exactly once and re-evaluates dependents.
func (s *Scheduler) settle(tctx context.Context, r *record, res *dispatch.Result) {
	s.mu.Lock()
	if r.state.Terminal() {
		s.mu.Unlock()
		return
	}

	var result dispatch.Result
	if res != nil {
		result = *res
	}

	var state TaskState
	switch {
	case r.cancelRequested ||
		(res != nil && errors.Is(result.Err, context.Canceled)) ||
		(res == nil && !errors.Is(tctx.Err(), context.DeadlineExceeded)):
		state = StateCancelled
		result = dispatch.Result{
			Err:         ErrTaskCancelled,
			Latency:     result.Latency,
			RetriesUsed: result.RetriesUsed,
		}
	case errors.Is(tctx.Err(), context.DeadlineExceeded) ||
		(res != nil && errors.Is(result.Err, context.DeadlineExceeded)):
		state = StateTimedOut
		result.Success = false
		result.Err = ErrTaskTimedOut
	case result.Success:
		state = StateSucceeded
	default:
		state = StateFailed
	}

	s.running--
	s.runningByKey[r.task.Endpoint]--
	s.sem.Release(1)

	evs := s.finalizeLocked(r, state, &result)
	s.mu.Unlock()

	s.publish(evs...)
	s.signal()
}

// finalizeLocked stamps the terminal state, updates dependents, and
// returns the events to publish after the lock is dropped.
func (s *Scheduler) finalizeLocked(r *record, state TaskState, result *dispatch.Result) []event.Event {
	r.state = state
	r.result = result
	r.finishedAt = time.Now()
	s.completed++

	evs := []event.Event{{
		Type:   terminalEvent(state),
		TaskID: r.task.ID,
		Key:    r.task.Endpoint,
		Detail: map[string]any{"state": state.String()},
	}}

	// Dependents of a successful task may become ready; dependents of
	// any other terminal state become permanently blocked.
	for _, other := range s.records {
		if other.state.Terminal() || other.state == StateRunning {
			continue
		}
		for _, dep := range other.task.DependsOn {
			if dep == r.task.ID {
				s.evaluateLocked(other)
				break
			}
		}
	}

	s.pruneTerminalLocked()

	if s.sizeLocked() == 0 {
		evs = append(evs, event.Event{Type: event.QueueEmpty})
	}
	return evs
}

// pruneTerminalLocked drops the oldest terminal records beyond the
// retention bound. A terminal record still listed by a pending task whose
// evaluation has not yet observed it is kept, so dependency resolution
// never races the pruner.
func (s *Scheduler) pruneTerminalLocked() {
	terminal := make([]*record, 0)
	for _, r := range s.records {
		if r.state.Terminal() {
			terminal = append(terminal, r)
		}
	}
	excess := len(terminal) - s.config.RetainTerminal
	if excess <= 0 {
		return
	}

	referenced := make(map[string]bool)
	for _, r := range s.records {
		if r.state.Terminal() {
			continue
		}
		for _, dep := range r.task.DependsOn {
			if !r.depsMet[dep] {
				referenced[dep] = true
			}
		}
	}

	sort.Slice(terminal, func(i, j int) bool {
		if terminal[i].finishedAt.Equal(terminal[j].finishedAt) {
			return terminal[i].seq < terminal[j].seq
		}
		return terminal[i].finishedAt.Before(terminal[j].finishedAt)
	})
	for _, r := range terminal {
		if excess == 0 {
			break
		}
		if referenced[r.task.ID] {
			continue
		}
		delete(s.records, r.task.ID)
		excess--
	}
}

func terminalEvent(state TaskState) event.Type {
	switch state {
	case StateSucceeded:
		return event.TaskCompleted
	case StateCancelled:
		return event.TaskCancelled
	case StateTimedOut:
		return event.TaskTimedOut
	default:
		return event.TaskFailed
	}
}

func (s *Scheduler) publish(evs ...event.Event) {
	if s.config.Events == nil {
		return
	}
	for _, ev := range evs {
		s.config.Events.Publish(ev)
	}
}
