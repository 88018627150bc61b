package task

import (
	"fmt"
	"sync"
	"time"
)

// Registry is an in-memory, concurrency-safe task table. Tasks are never
// removed. Every read returns a copy taken under the lock, so callers may
// hold on to it while workers keep mutating the stored record.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	order []string // insertion order for List

	now func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[string]*Task),
		now:   time.Now,
	}
}

// Create inserts a pending task with the given id.
func (r *Registry) Create(id string) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; ok {
		return Task{}, fmt.Errorf("task %s already exists", id)
	}
	now := r.now()
	t := &Task{
		ID:        id,
		Status:    StatusPending,
		Message:   msgCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.tasks[id] = t
	r.order = append(r.order, id)
	return t.clone(), nil
}

// Get returns the current record for id, or ErrNotFound.
func (r *Registry) Get(id string) (Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return t.clone(), nil
}

// List returns summaries of all tasks in insertion order.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Summary, 0, len(r.order))
	for _, id := range r.order {
		t := r.tasks[id]
		out = append(out, Summary{
			ID:        t.ID,
			Status:    t.Status,
			CreatedAt: t.CreatedAt,
			UpdatedAt: t.UpdatedAt,
		})
	}
	return out
}

// MarkProcessing moves a pending task to processing. It returns false if the
// task is unknown or not pending.
func (r *Registry) MarkProcessing(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok || t.Status != StatusPending {
		return false
	}
	t.Status = StatusProcessing
	t.Message = msgProcessing
	t.UpdatedAt = r.now()
	return true
}

// Complete attaches result to a processing task and marks it completed.
// Only transitions from processing; the returned bool reports whether the
// transition happened.
func (r *Registry) Complete(id string, result Result) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok || t.Status != StatusProcessing {
		return Task{}, false
	}
	t.Status = StatusCompleted
	t.Message = msgCompleted
	t.Result = &result
	t.UpdatedAt = r.now()
	return t.clone(), true
}

// Fail records errMsg on a processing task and marks it failed.
func (r *Registry) Fail(id, errMsg string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok || t.Status != StatusProcessing {
		return Task{}, false
	}
	t.Status = StatusFailed
	t.Message = msgFailed
	t.Error = errMsg
	t.UpdatedAt = r.now()
	return t.clone(), true
}
