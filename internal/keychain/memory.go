package keychain

import (
	"context"
	"sync"
)

// Op names a MemoryStore operation for fault injection.
type Op string

const (
	OpGet    Op = "get"
	OpSet    Op = "set"
	OpDelete Op = "delete"
)

// MemoryStore is an in-memory SecureStore for testing.
// Errors queued with FailNext are returned before the real operation runs.
type MemoryStore struct {
	mu     sync.Mutex
	items  map[string]string
	faults map[Op][]error
	calls  map[Op]int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:  make(map[string]string),
		faults: make(map[Op][]error),
		calls:  make(map[Op]int),
	}
}

func itemKey(service, account string) string {
	return service + "\x00" + account
}

// FailNext makes the next n calls of op return err.
func (m *MemoryStore) FailNext(op Op, err error, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.faults[op] = append(m.faults[op], err)
	}
}

// Calls returns how many times op was invoked.
func (m *MemoryStore) Calls(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Seed stores an item directly (for testing).
func (m *MemoryStore) Seed(service, account, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[itemKey(service, account)] = value
}

// Has reports whether an item exists, bypassing fault injection.
func (m *MemoryStore) Has(service, account string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[itemKey(service, account)]
	return ok
}

// Len returns the number of stored items.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// fault pops the next queued error for op. Caller must hold m.mu.
func (m *MemoryStore) fault(op Op) error {
	m.calls[op]++
	queued := m.faults[op]
	if len(queued) == 0 {
		return nil
	}
	m.faults[op] = queued[1:]
	return queued[0]
}

// Get returns the value for (service, account).
func (m *MemoryStore) Get(_ context.Context, service, account string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpGet); err != nil {
		return "", err
	}
	v, ok := m.items[itemKey(service, account)]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set stores value for (service, account).
func (m *MemoryStore) Set(_ context.Context, service, account, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpSet); err != nil {
		return err
	}
	m.items[itemKey(service, account)] = value
	return nil
}

// Delete removes the item for (service, account).
func (m *MemoryStore) Delete(_ context.Context, service, account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpDelete); err != nil {
		return err
	}
	k := itemKey(service, account)
	if _, ok := m.items[k]; !ok {
		return ErrNotFound
	}
	delete(m.items, k)
	return nil
}
