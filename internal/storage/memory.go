package storage

import (
	"context"
	"sync"
	"time"
)

// memoryStore is an in-process Store. Everything is lost on restart; it
// exists for tests and throwaway runs.
type memoryStore struct {
	mu      sync.RWMutex
	tenants map[string]Tenant
	seen    map[string]map[string]time.Time // tenant -> item -> seenAt
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memoryStore{
		tenants: map[string]Tenant{},
		seen:    map[string]map[string]time.Time{},
	}
}

func (m *memoryStore) Close() error { return nil }

func (m *memoryStore) ListTenants(_ context.Context) ([]Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		out = append(out, t)
	}
	return out, nil
}

func (m *memoryStore) FindTenant(_ context.Context, id string) (Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[id]
	if !ok {
		return Tenant{}, ErrTenantNotFound
	}
	return t, nil
}

func (m *memoryStore) UpsertTenant(_ context.Context, t Tenant) error {
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[t.ID] = t
	return nil
}

func (m *memoryStore) HasSeen(_ context.Context, tenantID, itemID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.seen[tenantID][itemID]
	return ok, nil
}

func (m *memoryStore) MarkSeen(_ context.Context, tenantID, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byTenant, ok := m.seen[tenantID]
	if !ok {
		byTenant = map[string]time.Time{}
		m.seen[tenantID] = byTenant
	}
	if _, dup := byTenant[itemID]; !dup {
		byTenant[itemID] = time.Now()
	}
	return nil
}

func (m *memoryStore) FindUnseen(_ context.Context, tenantID string, itemIDs []string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byTenant := m.seen[tenantID]
	unseen := make([]string, 0, len(itemIDs))
	for _, id := range itemIDs {
		if _, ok := byTenant[id]; !ok {
			unseen = append(unseen, id)
		}
	}
	return unseen, nil
}
