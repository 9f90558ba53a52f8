package cooldown

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MemoryStore keeps timestamps in process memory. Useful for tests.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string]time.Time{}}
}

// Get implements Store.
func (s *MemoryStore) Get(key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.data[key]
	return t, ok, nil
}

// Set implements Store.
func (s *MemoryStore) Set(key string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = t
	return nil
}

// FileStore keeps timestamps in a small JSON file so they survive restarts.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path. The file is created on first Set.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Get implements Store.
func (s *FileStore) Get(key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load()
	if err != nil {
		return time.Time{}, false, err
	}
	t, ok := data[key]
	return t, ok, nil
}

// Set implements Store. The file is replaced atomically.
func (s *FileStore) Set(key string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load()
	if err != nil {
		return err
	}
	data[key] = t
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create timestamp dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write timestamps: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStore) load() (map[string]time.Time, error) {
	data := map[string]time.Time{}
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return data, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read timestamps: %w", err)
	}
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse timestamps: %w", err)
	}
	return data, nil
}
