package access

import (
	"context"
	"strings"
	"sync"
)

// Registry resolves admin records. Implementations are injected by the
// composition root so tests can supply fakes; there is no package-level
// registry singleton.
type Registry interface {
	LookupByEmail(ctx context.Context, email string) (*Admin, error)
	LookupByID(ctx context.Context, id string) (*Admin, error)
}

// InMemoryRegistry is a mutex-guarded registry used for tests and bootstrap.
type InMemoryRegistry struct {
	mu      sync.RWMutex
	byID    map[string]*Admin
	byEmail map[string]*Admin
}

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		byID:    make(map[string]*Admin),
		byEmail: make(map[string]*Admin),
	}
}

// Put inserts or replaces an admin record.
func (r *InMemoryRegistry) Put(a *Admin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.byID[cp.ID] = &cp
	r.byEmail[strings.ToLower(cp.Email)] = &cp
}

func (r *InMemoryRegistry) LookupByEmail(ctx context.Context, email string) (*Admin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *InMemoryRegistry) LookupByID(ctx context.Context, id string) (*Admin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}
