package users

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryDirectory is an in-memory Directory useful for tests and local runs.
// It is not intended for production use.
type MemoryDirectory struct {
	mu      sync.RWMutex
	tenants map[string]map[int64]User
	nextID  int64
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{tenants: make(map[string]map[int64]User)}
}

// Put inserts or replaces u; a zero ID is assigned.
func (d *MemoryDirectory) Put(tenant string, u User) User {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u.ID == 0 {
		d.nextID++
		u.ID = d.nextID
	} else if u.ID > d.nextID {
		d.nextID = u.ID
	}
	if d.tenants[tenant] == nil {
		d.tenants[tenant] = make(map[int64]User)
	}
	d.tenants[tenant][u.ID] = u
	return u
}

func (d *MemoryDirectory) GetByID(_ context.Context, tenant string, id int64) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.tenants[tenant][id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (d *MemoryDirectory) GetByUsername(_ context.Context, tenant, username string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, u := range d.tenants[tenant] {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (d *MemoryDirectory) All(_ context.Context, tenant string) ([]User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]User, 0, len(d.tenants[tenant]))
	for _, u := range d.tenants[tenant] {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *MemoryDirectory) Create(_ context.Context, tenant string, u User) (User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.tenants[tenant] {
		if existing.Username == u.Username {
			return User{}, ErrExists
		}
	}
	d.nextID++
	u.ID = d.nextID
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if d.tenants[tenant] == nil {
		d.tenants[tenant] = make(map[int64]User)
	}
	d.tenants[tenant][u.ID] = u
	return u, nil
}

func (d *MemoryDirectory) Delete(_ context.Context, tenant string, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.tenants[tenant][id]; !ok {
		return ErrNotFound
	}
	delete(d.tenants[tenant], id)
	return nil
}
