package auth

import (
	"context"

	"tenant-auth/internal/registry"
)

// Rotate exchanges a refresh token for a new pair. Each refresh token can be
// rotated once; presenting it again is treated as theft and invalidates the
// user's whole token generation before ReplayDetected is returned.
//
// The jti is consumed only if the generation observed during validation is
// still current, and the new pair is stamped with that generation. A replay
// racing this rotation therefore leaves at most one winner, and the winner's
// pair dies with the rest of the generation.
func (m *Manager) Rotate(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, observed, err := m.validate(refreshToken, TokenTypeRefresh)
	if err != nil {
		return TokenPair{}, err
	}

	p, err := claims.Principal()
	if err != nil {
		return TokenPair{}, newError(KindInvalidToken, "", err)
	}
	tenant := m.tenantOf(claims.TenantName)

	switch m.reg.MarkUsedAt(tenant, p.UserID, claims.ID, observed) {
	case registry.MarkStale:
		e := newError(KindTokenVersionStale, "token generation invalidated", nil)
		e.Tenant = tenant
		return TokenPair{}, e
	case registry.MarkReplay:
		version := m.reg.Invalidate(tenant, p.UserID)
		m.log.Warn("refresh token replay detected, generation invalidated",
			"tenant", tenant, "user_id", p.UserID, "jti", claims.ID, "version", version)
		if m.auditor != nil {
			if err := m.auditor.LogReplay(ctx, tenant, p.UserID, version, claims.ID); err != nil {
				m.log.Warn("audit replay failed", "tenant", tenant, "user_id", p.UserID, "err", err)
			}
		}
		e := newError(KindReplayDetected, "refresh token already used", nil)
		e.Tenant = tenant
		return TokenPair{}, e
	}

	if m.lookup != nil {
		fresh, err := m.lookup(ctx, tenant, p.UserID)
		if err != nil {
			m.log.Info("rotation rejected, principal unavailable",
				"tenant", tenant, "user_id", p.UserID, "err", err)
			return TokenPair{}, newError(KindInvalidToken, "principal unavailable", err)
		}
		p.Username = fresh.Username
		p.Role = fresh.Role
	}

	m.reg.Register(tenant, p.UserID)
	pair, err := m.issuePairAt(p, claims.Remember, claims.DeviceInfo, observed)
	if err != nil {
		return TokenPair{}, err
	}
	m.log.Debug("refresh token rotated",
		"tenant", tenant, "user_id", p.UserID, "old_jti", claims.ID, "new_jti", pair.RefreshClaims.ID)
	return pair, nil
}

// InvalidateAll ends every session of the user: logout-everywhere and admin
// revocation both land here. Returns the new version.
func (m *Manager) InvalidateAll(ctx context.Context, tenant string, userID int64, reason string) uint32 {
	tenant = m.tenantOf(tenant)
	version := m.reg.Invalidate(tenant, userID)
	m.log.Warn("user tokens invalidated",
		"tenant", tenant, "user_id", userID, "version", version, "reason", reason)
	if m.auditor != nil {
		if err := m.auditor.LogInvalidation(ctx, tenant, userID, version, reason); err != nil {
			m.log.Warn("audit invalidation failed", "tenant", tenant, "user_id", userID, "err", err)
		}
	}
	return version
}
