package core

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore is a Store backed by a single JSON file. It fills the role a
// browser's localStorage plays for embedded SDKs: state that survives
// process restarts without requiring a database.
//
// Writes go through a temp file followed by a rename so a crash mid-write
// never leaves a truncated state file. A corrupt or unreadable state file
// is treated as empty rather than failing construction.
type FileStore struct {
	mu     sync.Mutex
	path   string
	logger Logger
	data   map[string]fileEntry
}

type fileEntry struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// NewFileStore creates a file-backed store at path, loading any existing
// state. The parent directory is created if needed on first write.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, ErrMissingConfiguration
	}
	s := &FileStore{
		path:   path,
		logger: &NoOpLogger{},
		data:   make(map[string]fileEntry),
	}
	s.load()
	return s, nil
}

// SetLogger configures the logger for this store
func (s *FileStore) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

func (s *FileStore) load() {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("State file unreadable, starting empty", map[string]interface{}{
				"operation": "store_load",
				"path":      s.path,
				"error":     err.Error(),
			})
		}
		return
	}
	var data map[string]fileEntry
	if err := json.Unmarshal(raw, &data); err != nil {
		s.logger.Warn("State file corrupt, starting empty", map[string]interface{}{
			"operation": "store_load",
			"path":      s.path,
			"error":     err.Error(),
		})
		return
	}
	s.data = data
}

// flush persists the full map. Caller holds s.mu.
func (s *FileStore) flush() error {
	raw, err := json.Marshal(s.data)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Get retrieves a value. Missing and expired keys return ("", nil).
func (s *FileStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.data[key]
	if !exists {
		return "", nil
	}
	if !entry.ExpiresAt.IsZero() && time.Now().After(entry.ExpiresAt) {
		return "", nil
	}
	return entry.Value, nil
}

// Set stores a value with optional TTL and persists immediately.
func (s *FileStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.data[key]
	entry := fileEntry{Value: value}
	if ttl > 0 {
		entry.ExpiresAt = time.Now().Add(ttl)
	}
	s.data[key] = entry

	if err := s.flush(); err != nil {
		// Roll back so memory and disk stay consistent
		if existed {
			s.data[key] = prev
		} else {
			delete(s.data, key)
		}
		s.logger.Error("State file write failed", map[string]interface{}{
			"operation": "store_set",
			"path":      s.path,
			"key":       key,
			"error":     err.Error(),
		})
		return ErrStorageFailed
	}
	return nil
}

// Delete removes a value and persists immediately.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.data[key]
	if !existed {
		return nil
	}
	delete(s.data, key)

	if err := s.flush(); err != nil {
		s.data[key] = prev
		s.logger.Error("State file write failed", map[string]interface{}{
			"operation": "store_delete",
			"path":      s.path,
			"key":       key,
			"error":     err.Error(),
		})
		return ErrStorageFailed
	}
	return nil
}

// Exists checks if a key exists and is not expired
func (s *FileStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.data[key]
	if !exists {
		return false, nil
	}
	if !entry.ExpiresAt.IsZero() && time.Now().After(entry.ExpiresAt) {
		return false, nil
	}
	return true, nil
}
