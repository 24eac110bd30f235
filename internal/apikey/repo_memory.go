package apikey

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store useful for tests.
// It is not intended for production use.
type MemoryStore struct {
	mu      sync.Mutex
	tenants map[string]map[string]Key
	lookups int
	nextID  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tenants: make(map[string]map[string]Key)}
}

func (s *MemoryStore) Put(tenant string, k Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tenants[tenant] == nil {
		s.tenants[tenant] = make(map[string]Key)
	}
	if k.ID > s.nextID {
		s.nextID = k.ID
	}
	s.tenants[tenant][k.KeyHash] = k
}

func (s *MemoryStore) Create(_ context.Context, tenant string, k Key) (Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.tenants[tenant][k.KeyHash]; dup {
		return Key{}, errors.New("create api key: duplicate hash")
	}
	s.nextID++
	k.ID = s.nextID
	if s.tenants[tenant] == nil {
		s.tenants[tenant] = make(map[string]Key)
	}
	s.tenants[tenant][k.KeyHash] = k
	return k, nil
}

func (s *MemoryStore) Revoke(_ context.Context, tenant string, id int64) (Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, k := range s.tenants[tenant] {
		if k.ID == id {
			k.Revoked = true
			s.tenants[tenant][h] = k
			return k, nil
		}
	}
	return Key{}, ErrNotFound
}

func (s *MemoryStore) FindByHash(_ context.Context, tenant, hash string) (Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	k, ok := s.tenants[tenant][hash]
	if !ok {
		return Key{}, ErrNotFound
	}
	return k, nil
}

func (s *MemoryStore) TouchLastUsed(_ context.Context, tenant string, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, k := range s.tenants[tenant] {
		if k.ID == id {
			k.LastUsedAt = &at
			s.tenants[tenant][h] = k
			return nil
		}
	}
	return ErrNotFound
}

// Lookups is the number of FindByHash calls served.
func (s *MemoryStore) Lookups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups
}
