package apikey

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// CachedStore keeps found keys in a TTL cache in front of a Backend.
// Misses are not cached, so a newly created key is usable immediately.
// Revocations through Revoke evict at once; ones made behind the cache's back
// take up to ttl to be seen.
type CachedStore struct {
	next  Backend
	cache *ristretto.Cache[string, Key]
	ttl   time.Duration
}

func NewCachedStore(next Backend, ttl time.Duration) (*CachedStore, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, Key]{
		NumCounters: 100_000,
		MaxCost:     10_000,
		BufferItems: 64,
		// Cost is one per key.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("init api key cache: %w", err)
	}
	return &CachedStore{next: next, cache: cache, ttl: ttl}, nil
}

func cacheKey(tenant, hash string) string { return tenant + "\x00" + hash }

func (s *CachedStore) FindByHash(ctx context.Context, tenant, hash string) (Key, error) {
	if k, ok := s.cache.Get(cacheKey(tenant, hash)); ok {
		return k, nil
	}
	k, err := s.next.FindByHash(ctx, tenant, hash)
	if err != nil {
		return Key{}, err
	}
	s.cache.SetWithTTL(cacheKey(tenant, hash), k, 1, s.ttl)
	return k, nil
}

func (s *CachedStore) TouchLastUsed(ctx context.Context, tenant string, id int64, at time.Time) error {
	return s.next.TouchLastUsed(ctx, tenant, id, at)
}

func (s *CachedStore) Create(ctx context.Context, tenant string, k Key) (Key, error) {
	return s.next.Create(ctx, tenant, k)
}

func (s *CachedStore) Revoke(ctx context.Context, tenant string, id int64) (Key, error) {
	k, err := s.next.Revoke(ctx, tenant, id)
	if err != nil {
		return Key{}, err
	}
	s.Forget(tenant, k.KeyHash)
	return k, nil
}

// Forget evicts a key.
func (s *CachedStore) Forget(tenant, hash string) {
	s.cache.Del(cacheKey(tenant, hash))
}

// Wait blocks until pending cache writes are applied.
func (s *CachedStore) Wait() { s.cache.Wait() }

func (s *CachedStore) Close() { s.cache.Close() }
