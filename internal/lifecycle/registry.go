package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// TaskKind names a background task. The registry holds at most one task of
// each kind.
type TaskKind int

const (
	TaskRecorder TaskKind = iota + 1
	TaskWatcher
)

func (k TaskKind) String() string {
	switch k {
	case TaskRecorder:
		return "recorder"
	case TaskWatcher:
		return "watcher"
	default:
		return fmt.Sprintf("task(%d)", int(k))
	}
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry tracks running background tasks by kind.
type Registry struct {
	mu    sync.Mutex
	tasks map[TaskKind]*task
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[TaskKind]*task)}
}

// Start runs fn in a goroutine under kind unless a live task of that kind
// is registered, in which case it returns false and does nothing. A
// registered task that already finished is replaced.
func (r *Registry) Start(parent context.Context, kind TaskKind, fn func(ctx context.Context)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[kind]; ok && !isDone(t.done) {
		return false
	}
	ctx, cancel := context.WithCancel(parent)
	t := &task{cancel: cancel, done: make(chan struct{})}
	r.tasks[kind] = t
	go func() {
		defer close(t.done)
		defer cancel()
		fn(ctx)
	}()
	return true
}

// Live reports whether a task of kind is registered and still running.
func (r *Registry) Live(kind TaskKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[kind]
	return ok && !isDone(t.done)
}

// Registered reports whether an entry exists for kind, finished or not.
func (r *Registry) Registered(kind TaskKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[kind]
	return ok
}

// Stop cancels the task of kind, waits for it, and removes the entry.
func (r *Registry) Stop(ctx context.Context, kind TaskKind) error {
	r.mu.Lock()
	t, ok := r.tasks[kind]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	t.cancel()
	select {
	case <-t.done:
	case <-ctx.Done():
		return fmt.Errorf("join %s task: %w", kind, ctx.Err())
	}
	r.mu.Lock()
	if r.tasks[kind] == t {
		delete(r.tasks, kind)
	}
	r.mu.Unlock()
	return nil
}

// Drain stops every registered task.
func (r *Registry) Drain(ctx context.Context) error {
	for _, kind := range r.Kinds() {
		if err := r.Stop(ctx, kind); err != nil {
			return err
		}
	}
	return nil
}

// Kinds lists registered kinds in a stable order.
func (r *Registry) Kinds() []TaskKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]TaskKind, 0, len(r.tasks))
	for k := range r.tasks {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func isDone(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
