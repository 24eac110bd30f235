// Package apikey authenticates machine clients with long-lived keys. Only
// the BLAKE3 hash of a key is stored; keys belong to exactly one tenant and
// are looked up in that tenant's database.
package apikey

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// Prefix marks raw keys so they are recognisable in logs and secret scanners.
const Prefix = "ak_"

var (
	ErrNotFound = errors.New("apikey: not found")
	ErrMissing  = errors.New("apikey: missing")
	ErrInactive = errors.New("apikey: inactive")
	ErrRevoked  = errors.New("apikey: revoked")
	ErrExpired  = errors.New("apikey: expired")
)

type Key struct {
	ID         int64      `json:"id" db:"id"`
	UserID     int64      `json:"user_id" db:"user_id"`
	Name       string     `json:"name" db:"name"`
	KeyHash    string     `json:"-" db:"key_hash"`
	Active     bool       `json:"active" db:"active"`
	Revoked    bool       `json:"revoked" db:"revoked"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" db:"expires_at"`
}

// Usable reports why the key cannot be used at now, nil when it can.
func (k Key) Usable(now time.Time) error {
	switch {
	case k.Revoked:
		return ErrRevoked
	case !k.Active:
		return ErrInactive
	case k.ExpiresAt != nil && !now.Before(*k.ExpiresAt):
		return ErrExpired
	}
	return nil
}

// Generate returns a new raw key and its stored hash. The raw key is shown
// to the user once and never persisted.
func Generate() (raw, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate api key: %w", err)
	}
	raw = Prefix + base64.RawURLEncoding.EncodeToString(buf)
	return raw, Hash(raw), nil
}

// Hash is the hex BLAKE3-256 digest of the raw key.
func Hash(raw string) string {
	sum := blake3.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

// Store is the per-tenant key store.
type Store interface {
	FindByHash(ctx context.Context, tenant, hash string) (Key, error)
	TouchLastUsed(ctx context.Context, tenant string, id int64, at time.Time) error
}

// Admin is the write side used by tenant admins.
type Admin interface {
	// Create stores k and returns it with its ID set.
	Create(ctx context.Context, tenant string, k Key) (Key, error)
	// Revoke marks the key revoked and returns it, ErrNotFound if absent.
	Revoke(ctx context.Context, tenant string, id int64) (Key, error)
}

// Backend is a store that can also be administered.
type Backend interface {
	Store
	Admin
}

// UsageLog records accepted key usages. Best-effort.
type UsageLog interface {
	Record(ctx context.Context, tenant string, keyID int64, method, path string) error
}
