package auth

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for tests and local tooling.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]*Credential
	orgs  map[string]*Organization
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		creds: make(map[string]*Credential),
		orgs:  make(map[string]*Organization),
	}
}

// PutCredential inserts or replaces c, keyed by ID.
func (m *MemoryStore) PutCredential(c Credential) {
	c.Email = NormalizeEmail(c.Email)
	m.mu.Lock()
	m.creds[c.ID] = &c
	m.mu.Unlock()
}

// PutOrganization inserts or replaces o.
func (m *MemoryStore) PutOrganization(o Organization) {
	m.mu.Lock()
	m.orgs[o.ID] = &o
	m.mu.Unlock()
}

// Update applies fn to the stored credential with id.
func (m *MemoryStore) Update(id string, fn func(*Credential)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[id]
	if !ok {
		return ErrUserNotFound
	}
	fn(c)
	return nil
}

func (m *MemoryStore) FindCredentialByEmail(_ context.Context, email string) (*Credential, error) {
	email = NormalizeEmail(email)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.creds {
		if c.Email == email {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *MemoryStore) FindCredentialByID(_ context.Context, id string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.creds[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) FindOrganization(_ context.Context, id string) (*Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orgs[id]
	if !ok {
		return nil, ErrOrganizationNotFound
	}
	cp := *o
	return &cp, nil
}
