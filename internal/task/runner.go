package task

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// DefaultWorkers bounds concurrent generations when NewRunner gets workers <= 0.
const DefaultWorkers = 4

// Generator produces meeting minutes for a conversation.
type Generator interface {
	Generate(ctx context.Context, conversation string) (string, error)
}

// Runner executes tasks in the background. Submit never blocks on
// generation: each task gets its own goroutine which waits for a worker
// slot, so at most the configured number of generations run at once.
type Runner struct {
	registry *Registry
	gen      Generator
	sem      *semaphore.Weighted
	logger   *slog.Logger

	// OnDone, when set, is called once per task after it reaches a
	// terminal status. It must be set before the first Submit.
	OnDone func(Task)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewRunner creates a Runner that records tasks in registry and generates
// minutes with gen.
func NewRunner(registry *Registry, gen Generator, workers int) *Runner {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		registry: registry,
		gen:      gen,
		sem:      semaphore.NewWeighted(int64(workers)),
		logger:   slog.Default(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Registry returns the registry the runner writes to.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// Submit validates conversation, registers a pending task and schedules it.
// The returned snapshot is taken before execution starts.
func (r *Runner) Submit(conversation string) (Task, error) {
	if strings.TrimSpace(conversation) == "" {
		return Task{}, ErrEmptyConversation
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return Task{}, ErrClosed
	}

	t, err := r.registry.Create(uuid.NewString())
	if err != nil {
		return Task{}, err
	}
	r.wg.Add(1)
	go r.run(t.ID, conversation)

	r.logger.Info("summary task submitted", "task_id", t.ID)
	t.Message = msgSubmitted
	return t, nil
}

// Get returns the current record of a task without waiting for it.
func (r *Runner) Get(id string) (Task, error) {
	return r.registry.Get(id)
}

// List returns summaries of every task.
func (r *Runner) List() []Summary {
	return r.registry.List()
}

// Close stops accepting new tasks and waits for in-flight tasks to finish.
// If ctx expires first, running generations are cancelled and ctx's error is
// returned once they have recorded their outcome.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}

func (r *Runner) run(id, conversation string) {
	defer r.wg.Done()

	if err := r.sem.Acquire(r.ctx, 1); err != nil {
		// Shutting down before a worker slot freed up.
		r.registry.MarkProcessing(id)
		r.finish(r.registry.Fail(id, fmt.Sprintf("task runner stopped: %v", err)))
		return
	}
	defer r.sem.Release(1)

	if !r.registry.MarkProcessing(id) {
		return
	}

	start := time.Now()
	content, err := r.generate(conversation)
	if err != nil {
		r.logger.Warn("summary task failed", "task_id", id, "error", err, "duration_ms", time.Since(start).Milliseconds())
		r.finish(r.registry.Fail(id, err.Error()))
		return
	}
	r.logger.Info("summary task completed", "task_id", id, "duration_ms", time.Since(start).Milliseconds())
	r.finish(r.registry.Complete(id, Result{Success: true, Content: content}))
}

func (r *Runner) generate(conversation string) (content string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("generator panic: %v", p)
		}
	}()
	return r.gen.Generate(r.ctx, conversation)
}

func (r *Runner) finish(t Task, ok bool) {
	if ok && r.OnDone != nil {
		r.OnDone(t)
	}
}
