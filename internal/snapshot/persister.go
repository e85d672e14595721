package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/roach88/storekit/internal/canon"
)

// ErrCorrupt reports a stored value whose checksum does not match.
var ErrCorrupt = errors.New("snapshot: checksum mismatch")

// Persister stores JSON values by key.
type Persister interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	Set(ctx context.Context, key string, value json.RawMessage) error
	Delete(ctx context.Context, key string) error
}

// Entry describes a stored snapshot.
type Entry struct {
	Key     string `json:"key"`
	Version int64  `json:"version"`
	Size    int    `json:"size"`
}

// checksum is the integrity hash of a stored value.
func checksum(value json.RawMessage) (string, error) {
	return canon.Hash(canon.DomainSnapshot, string(value))
}

// MemoryStore is an in-process Persister.
//
// Thread-safety: safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value   json.RawMessage
	version int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

// Get implements Persister.
func (m *MemoryStore) Get(_ context.Context, key string) (json.RawMessage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	return append(json.RawMessage(nil), e.value...), true, nil
}

// Set implements Persister.
func (m *MemoryStore) Set(_ context.Context, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return errors.New("snapshot: value is not valid JSON")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[key]
	m.entries[key] = memoryEntry{value: append(json.RawMessage(nil), value...), version: e.version + 1}
	return nil
}

// Delete implements Persister.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// List returns every entry ordered by key.
func (m *MemoryStore) List(_ context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.entries))
	for k, e := range m.entries {
		out = append(out, Entry{Key: k, Version: e.version, Size: len(e.value)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
