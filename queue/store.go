package queue

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Store is a persistence sink/source for queue snapshots. The blob is
// opaque to implementations.
type Store interface {
	// Save persists the snapshot blob, replacing any previous one.
	Save(ctx context.Context, blob []byte) error

	// Load returns the latest snapshot blob. ok is false when nothing
	// has been saved.
	Load(ctx context.Context) (blob []byte, ok bool, err error)
}

// MemoryStore keeps the snapshot in memory. Useful for tests and
// single-process setups.
type MemoryStore struct {
	mu   sync.Mutex
	blob []byte
	ok   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save stores the blob.
func (m *MemoryStore) Save(_ context.Context, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blob = append([]byte(nil), blob...)
	m.ok = true
	return nil
}

// Load returns the stored blob.
func (m *MemoryStore) Load(context.Context) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ok {
		return nil, false, nil
	}
	return append([]byte(nil), m.blob...), true, nil
}

var _ Store = (*MemoryStore)(nil)

type snapshot struct {
	SavedAt time.Time   `json:"saved_at"`
	Tasks   []savedTask `json:"tasks"`
}

type savedTask struct {
	Task Task `json:"task"`

	// MetDeps lists dependencies that had already succeeded at save
	// time. Their records are not part of the snapshot, so the restored
	// task must not wait on them again.
	MetDeps []string `json:"met_deps,omitempty"`
}

// SaveState serializes every non-terminal task to the configured store.
// Running tasks are saved as pending and will run again after a reload.
// Dependencies that already succeeded are recorded as met, so dependents
// of completed tasks stay runnable after a reload.
func (s *Scheduler) SaveState(ctx context.Context) error {
	if s.config.Store == nil {
		return ErrNoSnapshot
	}

	s.mu.Lock()
	pending := make([]*record, 0)
	for _, r := range s.records {
		if !r.state.Terminal() {
			pending = append(pending, r)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].seq < pending[j].seq
	})
	snap := snapshot{SavedAt: time.Now(), Tasks: make([]savedTask, len(pending))}
	for i, r := range pending {
		st := savedTask{Task: r.task}
		for _, dep := range r.task.DependsOn {
			if r.depsMet[dep] {
				st.MetDeps = append(st.MetDeps, dep)
				continue
			}
			if dr, ok := s.records[dep]; ok && dr.state == StateSucceeded {
				st.MetDeps = append(st.MetDeps, dep)
			}
		}
		snap.Tasks[i] = st
	}
	s.mu.Unlock()

	blob, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.config.Store.Save(ctx, blob)
}

// LoadState restores the pending task set from the configured store in
// its saved submission order. Tasks whose IDs are already known are
// skipped, so a reload never duplicates work.
func (s *Scheduler) LoadState(ctx context.Context) error {
	if s.config.Store == nil {
		return ErrNoSnapshot
	}

	blob, ok, err := s.config.Store.Load(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoSnapshot
	}

	var snap snapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		return err
	}

	s.mu.Lock()
	restored := make([]*record, 0, len(snap.Tasks))
	for _, st := range snap.Tasks {
		if _, exists := s.records[st.Task.ID]; exists {
			continue
		}
		r := &record{
			task:        st.Task,
			seq:         s.nextSeqLocked(),
			submittedAt: time.Now(),
		}
		for _, dep := range st.MetDeps {
			if r.depsMet == nil {
				r.depsMet = make(map[string]bool)
			}
			r.depsMet[dep] = true
		}
		s.records[st.Task.ID] = r
		restored = append(restored, r)
	}
	// Readiness is evaluated after all tasks are in, so restored
	// dependency chains resolve regardless of snapshot order.
	for _, r := range restored {
		s.evaluateLocked(r)
	}
	s.mu.Unlock()

	s.signal()
	return nil
}
