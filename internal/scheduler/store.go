package scheduler

import (
	"context"
	"sync"
	"time"
)

// TaskStore persists the full task list. Save replaces what Load returns.
type TaskStore interface {
	Load(ctx context.Context) ([]ScheduledTask, error)
	Save(ctx context.Context, tasks []ScheduledTask) error
}

// Updater is implemented by stores that can run a read-modify-write atomically,
// for example inside a database transaction.
type Updater interface {
	Update(ctx context.Context, fn func([]ScheduledTask) ([]ScheduledTask, error)) error
}

// Claimer is implemented by stores shared between processes. Claim reports whether
// the caller won the right to deliver the task.
type Claimer interface {
	Claim(ctx context.Context, id string, at time.Time) (bool, error)
}

// MemoryStore keeps tasks in memory. Used by tests and the CLI.
type MemoryStore struct {
	mu    sync.Mutex
	tasks []ScheduledTask
}

func NewMemoryStore(tasks ...ScheduledTask) *MemoryStore {
	return &MemoryStore{tasks: cloneTasks(tasks)}
}

func (m *MemoryStore) Load(_ context.Context) ([]ScheduledTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneTasks(m.tasks), nil
}

func (m *MemoryStore) Save(_ context.Context, tasks []ScheduledTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = cloneTasks(tasks)
	return nil
}

func cloneTasks(tasks []ScheduledTask) []ScheduledTask {
	out := make([]ScheduledTask, len(tasks))
	for i, t := range tasks {
		if t.AttemptedAt != nil {
			at := *t.AttemptedAt
			t.AttemptedAt = &at
		}
		out[i] = t
	}
	return out
}

func findTask(tasks []ScheduledTask, id string) int {
	for i := range tasks {
		if tasks[i].ID == id {
			return i
		}
	}
	return -1
}
