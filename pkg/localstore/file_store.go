package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore implements Store with a single JSON file under a data directory.
type FileStore struct {
	dataDir string
	values  map[string]string
	mutex   sync.RWMutex
}

// NewFileStore creates a file-backed store, loading any existing data.
func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store := &FileStore{
		dataDir: dataDir,
		values:  make(map[string]string),
	}
	if err := store.load(); err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}
	return store, nil
}

// Get returns the value for key and whether it was present.
func (s *FileStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	value, ok := s.values[key]
	return value, ok, nil
}

// Set stores the value for key.
func (s *FileStore) Set(ctx context.Context, key, value string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	previous, existed := s.values[key]
	s.values[key] = value
	if err := s.save(); err != nil {
		// Rollback
		if existed {
			s.values[key] = previous
		} else {
			delete(s.values, key)
		}
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	previous, existed := s.values[key]
	if !existed {
		return nil
	}
	delete(s.values, key)
	if err := s.save(); err != nil {
		s.values[key] = previous
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

func (s *FileStore) load() error {
	filePath := filepath.Join(s.dataDir, "localstore.json")

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	values := make(map[string]string)
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}
	s.values = values
	return nil
}

// save writes the store to disk atomically.
func (s *FileStore) save() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	tempFile := filepath.Join(s.dataDir, "localstore.json.tmp")
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	finalFile := filepath.Join(s.dataDir, "localstore.json")
	if err := os.Rename(tempFile, finalFile); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}
