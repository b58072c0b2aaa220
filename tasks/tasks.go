// Package tasks holds named one-shot tasks and periodic jobs.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnknownTask   = errors.New("unknown task")
	ErrDuplicateTask = errors.New("task already registered")
)

// Func is the body of a task.
type Func func(ctx context.Context) error

// Task is a registered, runnable unit of work.
type Task struct {
	Name        string
	Description string
	Fn          Func
}

// Registry maps task names to tasks.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]Task)}
}

// Register adds a task. Names must be unique.
func (r *Registry) Register(name, description string, fn Func) error {
	if name == "" || fn == nil {
		return errors.New("task needs a name and a function")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, name)
	}
	r.tasks[name] = Task{Name: name, Description: description, Fn: fn}
	return nil
}

// Get returns the task named name.
func (r *Registry) Get(name string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[name]
	return t, ok
}

// Run executes the task named name.
func (r *Registry) Run(ctx context.Context, name string) error {
	t, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	if err := t.Fn(ctx); err != nil {
		return fmt.Errorf("task %s: %w", name, err)
	}
	return nil
}

// List returns all tasks sorted by name.
func (r *Registry) List() []Task {
	r.mu.RLock()
	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
