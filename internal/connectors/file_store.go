package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps every owner's settings in one JSON object keyed by owner id.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Get(_ context.Context, ownerID string) (Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	all, err := f.load()
	if err != nil {
		return Settings{}, err
	}
	return all[ownerID], nil
}

func (f *FileStore) Put(_ context.Context, ownerID string, settings Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	all, err := f.load()
	if err != nil {
		return err
	}
	all[ownerID] = settings

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings dir: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace settings file: %w", err)
	}
	return nil
}

func (f *FileStore) load() (map[string]Settings, error) {
	all := make(map[string]Settings)

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(data) == 0) {
		return all, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("failed to decode settings file %s: %w", f.path, err)
	}
	return all, nil
}

// MemoryStore is an in-memory SettingsStore.
type MemoryStore struct {
	mu       sync.Mutex
	settings map[string]Settings
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{settings: make(map[string]Settings)}
}

func (m *MemoryStore) Get(_ context.Context, ownerID string) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings[ownerID], nil
}

func (m *MemoryStore) Put(_ context.Context, ownerID string, settings Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[ownerID] = settings
	return nil
}
