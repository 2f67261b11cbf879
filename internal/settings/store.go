package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when no settings exist for a grid identifier.
type ErrNotFound struct {
	GridID string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("no settings for grid %q", e.GridID)
}

// Store is the durable gridId → ViewSettings mapping. Writes are atomic and
// last-writer-wins by the timestamp embedded in the value; concurrent writes
// to the same id are serialized.
type Store interface {
	// Get returns the settings for a grid identifier.
	Get(ctx context.Context, gridID string) (*ViewSettings, error)

	// Put stores the settings for a grid identifier. A zero UpdatedAt is
	// stamped with the current time. knownFields may be nil when the
	// caller's schema is not known at call time.
	Put(ctx context.Context, gridID string, s *ViewSettings, knownFields map[string]struct{}) error

	// Remove deletes the settings for a grid identifier.
	Remove(ctx context.Context, gridID string) error

	// List returns every stored grid identifier, sorted.
	List(ctx context.Context) ([]string, error)

	// Export serializes every stored document as a JSON array.
	Export(ctx context.Context) ([]byte, error)

	// Import merges an exported array into the store. Malformed documents
	// are logged and skipped; valid documents apply last-writer-wins.
	Import(ctx context.Context, data []byte) error
}

// MemoryStore is the process-local Store implementation.
type MemoryStore struct {
	mu  sync.Mutex
	all map[string]*ViewSettings
	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		all: make(map[string]*ViewSettings),
		now: time.Now,
	}
}

// Get returns the settings for a grid identifier.
func (m *MemoryStore) Get(_ context.Context, gridID string) (*ViewSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.all[gridID]
	if !ok {
		return nil, &ErrNotFound{GridID: gridID}
	}
	return s.Clone(), nil
}

// Put stores the settings for a grid identifier.
func (m *MemoryStore) Put(_ context.Context, gridID string, s *ViewSettings, knownFields map[string]struct{}) error {
	if s == nil {
		return fmt.Errorf("settings are required")
	}

	incoming := s.Clone()
	incoming.GridID = gridID
	if incoming.Version == 0 {
		incoming.Version = CurrentVersion
	}

	warnings, err := incoming.Validate(knownFields)
	if err != nil {
		return fmt.Errorf("invalid settings for grid %q: %w", gridID, err)
	}
	for _, w := range warnings {
		slog.Warn("View settings warning", "gridId", gridID, "warning", w)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if incoming.UpdatedAt.IsZero() {
		incoming.UpdatedAt = m.now()
	}
	if existing, ok := m.all[gridID]; ok && existing.UpdatedAt.After(incoming.UpdatedAt) {
		// Last-writer-wins by embedded timestamp; the stored value is newer.
		return nil
	}
	m.all[gridID] = incoming
	return nil
}

// Remove deletes the settings for a grid identifier.
func (m *MemoryStore) Remove(_ context.Context, gridID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.all, gridID)
	return nil
}

// List returns every stored grid identifier, sorted.
func (m *MemoryStore) List(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.all))
	for id := range m.all {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Export serializes every stored document as a JSON array, ordered by grid
// identifier so exports are deterministic.
func (m *MemoryStore) Export(ctx context.Context) ([]byte, error) {
	ids, _ := m.List(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	docs := make([]*ViewSettings, 0, len(ids))
	for _, id := range ids {
		docs = append(docs, m.all[id])
	}
	return json.MarshalIndent(docs, "", "  ")
}

// Import merges an exported array into the store.
func (m *MemoryStore) Import(ctx context.Context, data []byte) error {
	var docs []json.RawMessage
	if err := json.Unmarshal(data, &docs); err != nil {
		return fmt.Errorf("failed to parse settings export: %w", err)
	}

	for i, raw := range docs {
		var doc ViewSettings
		if err := json.Unmarshal(raw, &doc); err != nil {
			slog.Warn("Skipping malformed settings document", "index", i, "error", err)
			continue
		}
		if err := m.Put(ctx, doc.GridID, &doc, nil); err != nil {
			slog.Warn("Skipping invalid settings document", "index", i, "gridId", doc.GridID, "error", err)
		}
	}
	return nil
}
