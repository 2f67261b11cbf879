package settings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore implements Store on a single JSON file. Every write rewrites the
// file through a temporary file and an atomic rename, the same arrangement
// used for the sync status file. The contract does not require cross-process
// consistency.
type FileStore struct {
	mu       sync.Mutex
	filePath string
	inner    *MemoryStore
	loaded   bool
}

// NewFileStore creates a file-backed store at the given path. The file is
// created on first write.
func NewFileStore(filePath string) *FileStore {
	return &FileStore{
		filePath: filePath,
		inner:    NewMemoryStore(),
	}
}

// load reads the file into the in-memory mirror once.
func (f *FileStore) load(ctx context.Context) error {
	if f.loaded {
		return nil
	}

	data, err := os.ReadFile(f.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			// First run.
			f.loaded = true
			return nil
		}
		return fmt.Errorf("failed to read settings file: %w", err)
	}

	if err := f.inner.Import(ctx, data); err != nil {
		return err
	}
	f.loaded = true
	return nil
}

// flush writes the in-memory mirror out atomically.
func (f *FileStore) flush(ctx context.Context) error {
	data, err := f.inner.Export(ctx)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	dir := filepath.Dir(f.filePath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	tempPath := f.filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary settings file: %w", err)
	}
	if err := os.Rename(tempPath, f.filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename settings file: %w", err)
	}
	return nil
}

// Get returns the settings for a grid identifier.
func (f *FileStore) Get(ctx context.Context, gridID string) (*ViewSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.load(ctx); err != nil {
		return nil, err
	}
	return f.inner.Get(ctx, gridID)
}

// Put stores the settings for a grid identifier and writes the file.
func (f *FileStore) Put(ctx context.Context, gridID string, s *ViewSettings, knownFields map[string]struct{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.load(ctx); err != nil {
		return err
	}
	if err := f.inner.Put(ctx, gridID, s, knownFields); err != nil {
		return err
	}
	return f.flush(ctx)
}

// Remove deletes the settings for a grid identifier and writes the file.
func (f *FileStore) Remove(ctx context.Context, gridID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.load(ctx); err != nil {
		return err
	}
	if err := f.inner.Remove(ctx, gridID); err != nil {
		return err
	}
	return f.flush(ctx)
}

// List returns every stored grid identifier, sorted.
func (f *FileStore) List(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.load(ctx); err != nil {
		return nil, err
	}
	return f.inner.List(ctx)
}

// Export serializes every stored document as a JSON array.
func (f *FileStore) Export(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.load(ctx); err != nil {
		return nil, err
	}
	return f.inner.Export(ctx)
}

// Import merges an exported array and writes the file.
func (f *FileStore) Import(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.load(ctx); err != nil {
		return err
	}
	if err := f.inner.Import(ctx, data); err != nil {
		return err
	}
	return f.flush(ctx)
}

// verify interface compliance
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*FileStore)(nil)
)
