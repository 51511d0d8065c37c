package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps the task list as one JSON array on disk. Writes go to a temp
// file that is renamed over the old one.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Load(_ context.Context) ([]ScheduledTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

func (f *FileStore) Save(_ context.Context, tasks []ScheduledTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.save(tasks)
}

// Update runs fn under the store lock.
func (f *FileStore) Update(_ context.Context, fn func([]ScheduledTask) ([]ScheduledTask, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	tasks, err := f.load()
	if err != nil {
		return err
	}
	next, err := fn(tasks)
	if err != nil {
		return err
	}
	return f.save(next)
}

func (f *FileStore) load() ([]ScheduledTask, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return []ScheduledTask{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}
	if len(data) == 0 {
		return []ScheduledTask{}, nil
	}

	var tasks []ScheduledTask
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("failed to decode task file %s: %w", f.path, err)
	}
	return tasks, nil
}

func (f *FileStore) save(tasks []ScheduledTask) error {
	if tasks == nil {
		tasks = []ScheduledTask{}
	}
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode tasks: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create task dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tasks-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write tasks: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace task file: %w", err)
	}
	return nil
}
