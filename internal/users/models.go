package users

import (
	"context"
	"errors"
	"time"

	"tenant-auth/internal/registry"
)

var (
	ErrNotFound = errors.New("users: not found")
	ErrExists   = errors.New("users: username already taken")
)

// User is a row of a tenant's users table.
type User struct {
	ID           int64     `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Role         string    `json:"role" db:"role"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Active       bool      `json:"active" db:"active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Directory is the per-tenant user store. Every call names its tenant.
type Directory interface {
	GetByID(ctx context.Context, tenant string, id int64) (User, error)
	GetByUsername(ctx context.Context, tenant, username string) (User, error)
	All(ctx context.Context, tenant string) ([]User, error)
	// Create inserts u and returns it with ID and CreatedAt set.
	Create(ctx context.Context, tenant string, u User) (User, error)
	Delete(ctx context.Context, tenant string, id int64) error
}

// Lister adapts a Directory to registry bootstrap.
func Lister(dir Directory) registry.UserLister {
	return registry.UserListerFunc(func(ctx context.Context, tenant string) ([]int64, error) {
		all, err := dir.All(ctx, tenant)
		if err != nil {
			return nil, err
		}
		ids := make([]int64, 0, len(all))
		for _, u := range all {
			ids = append(ids, u.ID)
		}
		return ids, nil
	})
}
