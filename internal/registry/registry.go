// Package registry holds the process-local token version state that makes
// invalidation and refresh-token reuse detection possible without a database
// round-trip per request.
//
// Each tenant owns a TenantRegistry: a version counter per user and the set
// of refresh-token JTIs already consumed by rotation. The Manager maps tenant
// names to registries. It is constructed once at startup and injected into
// every component that needs it.
//
// The registry is in-memory only. Two server instances do not share versions;
// an invalidation on one instance is invisible to the other.
package registry

import (
	"log/slog"
	"sort"
	"sync"
)

// InitialVersion is the version of a user never seen or never invalidated.
const InitialVersion uint32 = 1

// TenantRegistry is the per-tenant state. Readers (version lookups on every
// authenticated request) share the lock; invalidation, registration and
// reuse marking take it exclusively.
//
// A removed user leaves a tombstone: the version one past the last
// generation, so tokens minted before the deletion never validate again.
// Tombstones do not count towards sizes.
type TenantRegistry struct {
	mu       sync.RWMutex
	versions map[int64]uint32
	used     map[int64]map[string]struct{}
	removed  map[int64]uint32
}

func newTenantRegistry() *TenantRegistry {
	return &TenantRegistry{
		versions: make(map[int64]uint32),
		used:     make(map[int64]map[string]struct{}),
		removed:  make(map[int64]uint32),
	}
}

func (t *TenantRegistry) version(userID int64) uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.currentLocked(userID)
}

func (t *TenantRegistry) currentLocked(userID int64) uint32 {
	if v, ok := t.versions[userID]; ok {
		return v
	}
	if v, ok := t.removed[userID]; ok {
		return v
	}
	return InitialVersion
}

func (t *TenantRegistry) register(userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registerLocked(userID)
}

func (t *TenantRegistry) registerLocked(userID int64) bool {
	if _, ok := t.versions[userID]; ok {
		return false
	}
	t.versions[userID] = t.currentLocked(userID)
	delete(t.removed, userID)
	t.used[userID] = make(map[string]struct{})
	return true
}

func (t *TenantRegistry) invalidate(userID int64) (uint32, int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.currentLocked(userID) + 1
	t.versions[userID] = next
	delete(t.removed, userID)

	cleared := len(t.used[userID])
	t.used[userID] = make(map[string]struct{})
	return next, cleared
}

// markUsed is the only reuse gate: version check, test and insert under one
// write lock. version 0 skips the generation check.
func (t *TenantRegistry) markUsed(userID int64, jti string, version uint32) MarkResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	if version != 0 && t.currentLocked(userID) != version {
		return MarkStale
	}

	set, ok := t.used[userID]
	if !ok {
		set = make(map[string]struct{})
		t.used[userID] = set
	}
	if _, seen := set[jti]; seen {
		return MarkReplay
	}
	set[jti] = struct{}{}
	return MarkNew
}

func (t *TenantRegistry) isUsed(userID int64, jti string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.used[userID][jti]
	return ok
}

func (t *TenantRegistry) usedCount(userID int64) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.used[userID])
}

// remove tombstones the user even when untracked: a token minted by an
// earlier process carries a version this one never saw.
func (t *TenantRegistry) remove(userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, tracked := t.versions[userID]
	t.removed[userID] = t.currentLocked(userID) + 1
	delete(t.versions, userID)
	delete(t.used, userID)
	return tracked
}

func (t *TenantRegistry) size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.versions)
}

// Manager owns every TenantRegistry. Unknown tenants are created lazily on
// first write; reads of unknown tenants never allocate.
type Manager struct {
	mu      sync.RWMutex
	tenants map[string]*TenantRegistry
	log     *slog.Logger
}

// New returns an empty Manager. A nil logger falls back to slog.Default().
func New(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		tenants: make(map[string]*TenantRegistry),
		log:     log,
	}
}

func (m *Manager) lookup(tenant string) *TenantRegistry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tenants[tenant]
}

func (m *Manager) tenant(tenant string) *TenantRegistry {
	if t := m.lookup(tenant); t != nil {
		return t
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[tenant]
	if !ok {
		t = newTenantRegistry()
		m.tenants[tenant] = t
	}
	return t
}

// EnsureTenant creates an empty registry for tenant if none exists.
func (m *Manager) EnsureTenant(tenant string) {
	m.tenant(tenant)
}

// Version returns the current version for (tenant, user), InitialVersion if unseen.
func (m *Manager) Version(tenant string, userID int64) uint32 {
	t := m.lookup(tenant)
	if t == nil {
		return InitialVersion
	}
	return t.version(userID)
}

// Invalidate bumps the user's version, clears the consumed refresh set and
// returns the new version. Every token minted before the call stops
// validating as soon as Invalidate returns.
func (m *Manager) Invalidate(tenant string, userID int64) uint32 {
	next, cleared := m.tenant(tenant).invalidate(userID)
	m.log.Info("token generation invalidated",
		"tenant", tenant, "user_id", userID, "version", next, "cleared_jtis", cleared)
	return next
}

// Register inserts the user at InitialVersion if absent. Idempotent.
func (m *Manager) Register(tenant string, userID int64) {
	if m.tenant(tenant).register(userID) {
		m.log.Debug("user registered in token registry", "tenant", tenant, "user_id", userID)
	}
}

// MarkResult is the outcome of consuming a refresh JTI.
type MarkResult int

const (
	// MarkNew: the jti was not consumed before and now is.
	MarkNew MarkResult = iota
	// MarkReplay: the jti was already consumed in this generation.
	MarkReplay
	// MarkStale: the generation moved on; nothing was recorded.
	MarkStale
)

// MarkUsedIfNew atomically records jti as consumed. It returns true when the
// jti was not present before, false when it was (a replay).
func (m *Manager) MarkUsedIfNew(tenant string, userID int64, jti string) bool {
	return m.tenant(tenant).markUsed(userID, jti, 0) == MarkNew
}

// MarkUsedAt is MarkUsedIfNew bound to a generation: when the user's version
// is no longer version, nothing is recorded and MarkStale is returned. Once a
// replay clears the consumed set, a rotation validated against the old
// generation therefore cannot consume the same jti a second time.
func (m *Manager) MarkUsedAt(tenant string, userID int64, jti string, version uint32) MarkResult {
	return m.tenant(tenant).markUsed(userID, jti, version)
}

// IsUsed is a read-only diagnostic. It must not gate rotation: a check
// followed by a separate mark lets two concurrent rotations both pass.
func (m *Manager) IsUsed(tenant string, userID int64, jti string) bool {
	t := m.lookup(tenant)
	if t == nil {
		return false
	}
	return t.isUsed(userID, jti)
}

// UsedCount is the number of refresh JTIs consumed in the current generation.
func (m *Manager) UsedCount(tenant string, userID int64) int {
	t := m.lookup(tenant)
	if t == nil {
		return 0
	}
	return t.usedCount(userID)
}

// Remove drops the user's entry and consumed set, leaving a tombstone one
// generation ahead: every token issued to the user stays stale. Used on
// explicit user deletion only.
func (m *Manager) Remove(tenant string, userID int64) {
	t := m.lookup(tenant)
	if t == nil {
		return
	}
	if t.remove(userID) {
		m.log.Debug("user removed from token registry", "tenant", tenant, "user_id", userID)
	}
}

// TenantSize is the number of users tracked for tenant.
func (m *Manager) TenantSize(tenant string) int {
	t := m.lookup(tenant)
	if t == nil {
		return 0
	}
	return t.size()
}

// TotalSize is the number of users tracked across all tenants.
func (m *Manager) TotalSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, t := range m.tenants {
		total += t.size()
	}
	return total
}

// KnownTenants returns the tenant names with a registry, sorted.
func (m *Manager) KnownTenants() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.tenants))
	for name := range m.tenants {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

type TenantStats struct {
	Tenant string `json:"tenant"`
	Users  int    `json:"users"`
}

// Stats reports per-tenant sizes, sorted by tenant name.
func (m *Manager) Stats() []TenantStats {
	names := m.KnownTenants()
	out := make([]TenantStats, 0, len(names))
	for _, name := range names {
		out = append(out, TenantStats{Tenant: name, Users: m.TenantSize(name)})
	}
	return out
}

// seed registers users in bulk under one lock and returns the tenant size.
func (m *Manager) seed(tenant string, userIDs []int64) int {
	t := m.tenant(tenant)
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range userIDs {
		t.registerLocked(id)
	}
	return len(t.versions)
}
