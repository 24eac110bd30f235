package guard

import (
	"context"
	"testing"

	"tenant-auth/internal/apikey"
	"tenant-auth/internal/auth"
)

func claims(system auth.AuthSystem, tenant, role string) *auth.Claims {
	return &auth.Claims{AuthSystem: system, TenantName: tenant, Role: role, TokenType: auth.TokenTypeAccess}
}

func TestTenantFromPath(t *testing.T) {
	cases := map[string]string{
		"/acme/me":            "acme",
		"/acme":               "acme",
		"acme/admin/users":    "acme",
		"/":                   "main",
		"":                    "main",
		"/alice@example.com/": "main",
		"/favicon.ico":        "main",
		"//x":                 "main",
	}
	for in, want := range cases {
		if got := TenantFromPath(in, "main"); got != want {
			t.Fatalf("TenantFromPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		claims  *auth.Claims
		path    string
		allowed bool
		errKind auth.Kind
		tenant  string
	}{
		{"tenant admin own tenant", TenantAdmin, claims(auth.AuthSystemTenant, "acme", auth.RoleAdmin), "/acme/admin/users/7", true, 0, "acme"},
		{"tenant admin other tenant", TenantAdmin, claims(auth.AuthSystemTenant, "acme", auth.RoleAdmin), "/other/admin/users/7", false, auth.KindForbidden, ""},
		{"tenant admin plain user", TenantAdmin, claims(auth.AuthSystemTenant, "acme", auth.RoleUser), "/acme/admin/users/7", false, auth.KindInsufficientPermissions, ""},
		{"tenant admin without tenant claim", TenantAdmin, claims(auth.AuthSystemTenant, "", auth.RoleAdmin), "/main/admin", false, auth.KindForbidden, ""},
		{"tenant admin vessel principal", TenantAdmin, claims(auth.AuthSystemVessel, "acme", auth.RoleAdmin), "/acme/admin", false, auth.KindForbidden, ""},
		{"tenant user own tenant", TenantUser, claims(auth.AuthSystemTenant, "acme", auth.RoleUser), "/acme/me", true, 0, "acme"},
		{"tenant user admin other tenant", TenantUser, claims(auth.AuthSystemTenant, "acme", auth.RoleAdmin), "/other/me", false, auth.KindForbidden, ""},
		{"tenant user no segment uses own tenant", TenantUser, claims(auth.AuthSystemTenant, "acme", auth.RoleUser), "/", true, 0, "acme"},
		{"tenant user vessel principal", TenantUser, claims(auth.AuthSystemVessel, "acme", auth.RoleVessel), "/acme/me", false, auth.KindForbidden, ""},
		{"admin default tenant", Admin, claims(auth.AuthSystemTenant, "", auth.RoleAdmin), "/admin/registry", true, 0, "main"},
		{"admin explicit default tenant", Admin, claims(auth.AuthSystemTenant, "main", auth.RoleAdmin), "/admin/registry", true, 0, "main"},
		{"admin from other tenant", Admin, claims(auth.AuthSystemTenant, "acme", auth.RoleAdmin), "/admin/registry", false, auth.KindForbidden, ""},
		{"admin plain user", Admin, claims(auth.AuthSystemTenant, "", auth.RoleUser), "/admin/registry", false, auth.KindInsufficientPermissions, ""},
		{"admin vessel principal", Admin, claims(auth.AuthSystemVessel, "", auth.RoleAdmin), "/admin/registry", false, auth.KindForbidden, ""},
		{"user default tenant", User, claims(auth.AuthSystemTenant, "", auth.RoleUser), "/home", true, 0, "main"},
		{"vessel home", VesselHome, claims(auth.AuthSystemVessel, "vessel_db", auth.RoleVessel), "/vessel/home", true, 0, "vessel_db"},
		{"vessel home tenant principal", VesselHome, claims(auth.AuthSystemTenant, "vessel_db", auth.RoleVessel), "/vessel/home", false, auth.KindForbidden, ""},
		{"vessel home wrong role", VesselHome, claims(auth.AuthSystemVessel, "vessel_db", auth.RoleUser), "/vessel/home", false, auth.KindInsufficientPermissions, ""},
		{"no claims", TenantUser, nil, "/acme/me", false, auth.KindMissingToken, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := New(tc.kind, "main", nil).Decide(context.Background(), Input{Claims: tc.claims, Path: tc.path})
			if d.Allowed != tc.allowed {
				t.Fatalf("allowed = %v, want %v (err %v)", d.Allowed, tc.allowed, d.Err)
			}
			if tc.allowed {
				if d.Tenant != tc.tenant {
					t.Fatalf("tenant = %q, want %q", d.Tenant, tc.tenant)
				}
				return
			}
			if d.Err == nil || d.Err.Kind != tc.errKind {
				t.Fatalf("err = %v, want kind %v", d.Err, tc.errKind)
			}
			if d.Err.Kind.ClearsCredentials() && tc.errKind != auth.KindMissingToken {
				t.Fatalf("guard denials must not clear credentials")
			}
		})
	}
}

func TestDecide_APIKeyScopedToPathTenant(t *testing.T) {
	store := apikey.NewMemoryStore()
	raw, hash, err := apikey.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	store.Put("acme", apikey.Key{ID: 3, UserID: 7, KeyHash: hash, Active: true})
	g := New(APIKey, "main", apikey.NewVerifier(store, nil))
	ctx := context.Background()

	d := g.Decide(ctx, Input{Path: "/acme/api/v1/ping", APIKey: raw})
	if !d.Allowed || d.Tenant != "acme" || d.Key == nil || d.Key.ID != 3 {
		t.Fatalf("expected allow for acme, got %+v", d)
	}

	// JWT claims play no part.
	d = g.Decide(ctx, Input{Path: "/other/api/v1/ping", APIKey: raw, Claims: claims(auth.AuthSystemTenant, "other", auth.RoleAdmin)})
	if d.Allowed || d.Err.Kind != auth.KindForbidden {
		t.Fatalf("expected forbidden on other tenant, got %+v", d)
	}

	d = g.Decide(ctx, Input{Path: "/acme/api/v1/ping"})
	if d.Allowed || d.Err.Kind != auth.KindMissingToken {
		t.Fatalf("expected missing key, got %+v", d)
	}
}
