package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dose3d/drf-crud-client/internal/constants"
)

// Store is a key/value slot holder used to persist serialized token pairs.
// Get returns constants.ErrTokenSlotNotFound when the key holds nothing.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore keeps slots for the lifetime of the process.
type MemoryStore struct {
	mu    sync.RWMutex
	slots map[string][]byte
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[string][]byte)}
}

// Get returns a copy of the slot value.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.slots[key]
	if !ok {
		return nil, constants.ErrTokenSlotNotFound
	}

	return append([]byte(nil), value...), nil
}

// Set stores a copy of value.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.slots[key] = append([]byte(nil), value...)

	return nil
}

// Delete removes the slot. Deleting a missing slot is not an error.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.slots, key)

	return nil
}

// FileStore keeps each slot in <dir>/<key>.json with owner-only permissions.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates a store rooted at dir. The directory is created on
// first write.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, constants.ErrStorageDirRequired
	}

	return &FileStore{dir: filepath.Clean(dir)}, nil
}

// Dir returns the store root.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: %q", constants.ErrDirectoryTraversalDetected, key)
	}

	path := filepath.Join(s.dir, key+".json")

	// Validate the path is still inside the store root
	if filepath.Dir(path) != s.dir {
		return "", fmt.Errorf("%w: %q", constants.ErrDirectoryTraversalDetected, key)
	}

	return path, nil
}

// Get reads the slot file.
func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, constants.ErrTokenSlotNotFound
		}

		return nil, fmt.Errorf("failed to stat token file: %w", err)
	}

	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", constants.ErrNotRegularFile, path)
	}

	data, err := os.ReadFile(path) // #nosec G304 - path is validated above
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	return data, nil
}

// Set writes the slot file through a temporary file so readers never see a
// partial write.
func (s *FileStore) Set(_ context.Context, key string, value []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = os.MkdirAll(s.dir, constants.ConfigDirPerm)
	if err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	tmp := path + ".tmp"

	err = os.WriteFile(tmp, value, constants.ConfigFilePerm)
	if err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}

	err = os.Rename(tmp, path)
	if err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("failed to replace token file: %w", err)
	}

	return nil
}

// Delete removes the slot file if present.
func (s *FileStore) Delete(_ context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}

	return nil
}
