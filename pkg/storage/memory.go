package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/captian-latiao/NestStupidHome-sub000/pkg/household"
)

// MemoryEngine is a thread-safe in-memory record store.
//
// Records are kept in their JSON form, so a Get returns an independent
// copy exactly like a disk-backed engine would, including the loss of
// monotonic clock readings.
//
// Use Cases:
//   - Unit testing (no disk I/O, fast cleanup)
//   - The CLI's --memory mode for demos
type MemoryEngine struct {
	mu          sync.RWMutex
	households  map[string][]byte
	credentials map[string][]byte
	closed      bool
}

// NewMemoryEngine creates an empty in-memory store.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		households:  make(map[string][]byte),
		credentials: make(map[string][]byte),
	}
}

// GetHousehold retrieves a household record by ID.
func (m *MemoryEngine) GetHousehold(_ context.Context, id string) (household.Household, error) {
	if id == "" {
		return household.Household{}, ErrInvalidID
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return household.Household{}, ErrStorageClosed
	}
	data, ok := m.households[id]
	if !ok {
		return household.Household{}, ErrNotFound
	}
	return decodeHousehold(data)
}

// PutHousehold stores a household record, replacing any previous one.
func (m *MemoryEngine) PutHousehold(_ context.Context, h household.Household) error {
	if h.ID == "" {
		return ErrInvalidID
	}
	data, err := encodeHousehold(h)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStorageClosed
	}
	m.households[h.ID] = data
	return nil
}

// DeleteHousehold removes a household record and its credential.
func (m *MemoryEngine) DeleteHousehold(_ context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStorageClosed
	}
	if _, ok := m.households[id]; !ok {
		return ErrNotFound
	}
	delete(m.households, id)
	delete(m.credentials, id)
	return nil
}

// ListHouseholds returns every stored household ID, sorted.
func (m *MemoryEngine) ListHouseholds(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStorageClosed
	}
	ids := make([]string, 0, len(m.households))
	for id := range m.households {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// GetCredential retrieves the credential of a household.
func (m *MemoryEngine) GetCredential(_ context.Context, householdID string) (Credential, error) {
	if householdID == "" {
		return Credential{}, ErrInvalidID
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Credential{}, ErrStorageClosed
	}
	data, ok := m.credentials[householdID]
	if !ok {
		return Credential{}, ErrNotFound
	}
	return decodeCredential(data)
}

// PutCredential stores a credential, replacing any previous one.
func (m *MemoryEngine) PutCredential(_ context.Context, c Credential) error {
	if c.HouseholdID == "" {
		return ErrInvalidID
	}
	data, err := encodeCredential(c)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStorageClosed
	}
	m.credentials[c.HouseholdID] = data
	return nil
}

// Close releases the store. Further calls return ErrStorageClosed.
func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.households = nil
	m.credentials = nil
	return nil
}

var _ Engine = (*MemoryEngine)(nil)
