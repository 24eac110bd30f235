// Package guard decides whether a validated principal may reach a protected
// area. Every guard kind goes through one decision function; the checks run
// in a fixed order: auth system, then tenant, then role.
package guard

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tenant-auth/internal/apikey"
	"tenant-auth/internal/auth"
	"tenant-auth/internal/tenant"
)

type Kind int

const (
	// Admin guards the default tenant's unsegmented admin area.
	Admin Kind = iota + 1
	// User guards the default tenant's unsegmented user area.
	User
	TenantAdmin
	TenantUser
	VesselHome
	// APIKey ignores JWT claims and checks a key against the path tenant.
	APIKey
)

func (k Kind) String() string {
	switch k {
	case Admin:
		return "admin"
	case User:
		return "user"
	case TenantAdmin:
		return "tenant_admin"
	case TenantUser:
		return "tenant_user"
	case VesselHome:
		return "vessel_home"
	case APIKey:
		return "api_key"
	default:
		return fmt.Sprintf("guard(%d)", int(k))
	}
}

// KeyVerifier resolves a raw API key within a tenant. *apikey.Verifier satisfies it.
type KeyVerifier interface {
	Verify(ctx context.Context, tenant, raw string) (apikey.Key, error)
}

type Guard struct {
	kind          Kind
	defaultTenant string
	keys          KeyVerifier
}

// New builds a guard. keys is only consulted by APIKey guards.
func New(kind Kind, defaultTenant string, keys KeyVerifier) Guard {
	return Guard{kind: kind, defaultTenant: defaultTenant, keys: keys}
}

func (g Guard) Kind() Kind { return g.kind }

type Input struct {
	Claims *auth.Claims
	Path   string
	APIKey string
}

type Decision struct {
	Allowed bool
	// Tenant the request is scoped to when allowed.
	Tenant string
	Err    *auth.Error
	// Key is set for allowed APIKey decisions.
	Key *apikey.Key
}

func allow(tenant string) Decision { return Decision{Allowed: true, Tenant: tenant} }

func deny(kind auth.Kind, tenant, role, msg string) Decision {
	e := auth.Deny(kind, msg)
	e.Tenant = tenant
	e.Role = role
	return Decision{Err: e}
}

// Decide is pure for every kind except APIKey, which reads the key store.
func (g Guard) Decide(ctx context.Context, in Input) Decision {
	if g.kind == APIKey {
		return g.decideAPIKey(ctx, in)
	}
	if in.Claims == nil {
		return deny(auth.KindMissingToken, "", "", "no validated token")
	}
	c := in.Claims
	claimed := c.TenantOr(g.defaultTenant)

	switch g.kind {
	case Admin, User:
		if c.AuthSystem != auth.AuthSystemTenant {
			return deny(auth.KindForbidden, claimed, c.Role, "wrong auth system")
		}
		if claimed != g.defaultTenant {
			return deny(auth.KindForbidden, claimed, c.Role, "tenant mismatch")
		}
		if g.kind == Admin && !c.IsAdmin() {
			return deny(auth.KindInsufficientPermissions, claimed, c.Role, "admin role required")
		}
		return allow(g.defaultTenant)

	case TenantAdmin:
		if c.AuthSystem != auth.AuthSystemTenant {
			return deny(auth.KindForbidden, claimed, c.Role, "wrong auth system")
		}
		if c.TenantName == "" {
			return deny(auth.KindForbidden, "", c.Role, "token carries no tenant")
		}
		requested := TenantFromPath(in.Path, g.defaultTenant)
		if c.TenantName != requested {
			return deny(auth.KindForbidden, requested, c.Role, "tenant mismatch")
		}
		if !c.IsAdmin() {
			return deny(auth.KindInsufficientPermissions, requested, c.Role, "admin role required")
		}
		return allow(requested)

	case TenantUser:
		if c.AuthSystem != auth.AuthSystemTenant {
			return deny(auth.KindForbidden, claimed, c.Role, "wrong auth system")
		}
		requested, ok := tenantSegment(in.Path)
		if !ok {
			return allow(claimed)
		}
		if claimed != requested {
			return deny(auth.KindForbidden, requested, c.Role, "tenant mismatch")
		}
		return allow(requested)

	case VesselHome:
		if c.AuthSystem != auth.AuthSystemVessel {
			return deny(auth.KindForbidden, claimed, c.Role, "wrong auth system")
		}
		if c.Role != auth.RoleVessel {
			return deny(auth.KindInsufficientPermissions, claimed, c.Role, "vessel role required")
		}
		return allow(claimed)
	}

	return deny(auth.KindConfiguration, "", "", "unknown guard kind")
}

func (g Guard) decideAPIKey(ctx context.Context, in Input) Decision {
	requested := TenantFromPath(in.Path, g.defaultTenant)
	if strings.TrimSpace(in.APIKey) == "" {
		return deny(auth.KindMissingToken, requested, "", "api key required")
	}
	if g.keys == nil {
		return deny(auth.KindConfiguration, requested, "", "api key store not configured")
	}

	k, err := g.keys.Verify(ctx, requested, in.APIKey)
	switch {
	case err == nil:
		d := allow(requested)
		d.Key = &k
		return d
	case apikey.IsClientError(err), errors.Is(err, tenant.ErrUnknownTenant):
		return deny(auth.KindForbidden, requested, "", "invalid api key")
	default:
		d := deny(auth.KindUnknown, requested, "", "api key store unavailable")
		d.Err.Err = err
		return d
	}
}

// TenantFromPath returns the tenant named by the first path segment, or def
// when the path has no tenant segment.
func TenantFromPath(path, def string) string {
	if t, ok := tenantSegment(path); ok {
		return t
	}
	return def
}

// tenantSegment extracts the first path segment. Segments that look like an
// email or a file name are not tenants.
func tenantSegment(path string) (string, bool) {
	seg, _, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	if seg == "" || strings.ContainsAny(seg, "@.") {
		return "", false
	}
	return seg, true
}
