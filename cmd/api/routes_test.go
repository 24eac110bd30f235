package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"tenant-auth/internal/apikey"
	"tenant-auth/internal/audit"
	"tenant-auth/internal/auth"
	"tenant-auth/internal/config"
	"tenant-auth/internal/httpapi"
	"tenant-auth/internal/password"
	"tenant-auth/internal/registry"
	"tenant-auth/internal/tenant"
	"tenant-auth/internal/users"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

var fastParams = password.Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

type testServer struct {
	router  *gin.Engine
	auth    *auth.Manager
	dir     *users.MemoryDirectory
	audit   *audit.MemoryRepo
	keys    *apikey.MemoryStore
	cache   *apikey.CachedStore
	rdb     *redis.Client
	users   map[string]users.User
	apiKeys map[string]string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Config{}
	cfg.Tenants.Default = "main"
	cfg.Tenants.List = []string{"acme", "globex"}
	cfg.Tenants.VesselDatabaseURL = "postgres://app:pw@db:5432/vessel_db"
	cfg.Auth = config.AuthConfig{
		JWTSecret:               "test-secret",
		AccessTokenTTL:          15 * time.Minute,
		RefreshTokenTTL:         24 * time.Hour,
		RefreshTokenRememberTTL: 30 * 24 * time.Hour,
		Leeway:                  5 * time.Second,
		DefaultTenant:           "main",
	}
	catalog := tenant.NewCatalog(cfg)

	hasher := password.NewHasher(fastParams, 2)
	dir := users.NewMemoryDirectory()
	s := &testServer{dir: dir, users: map[string]users.User{}, apiKeys: map[string]string{}}
	put := func(tenantName, username, role string, active bool) {
		hash, err := hasher.Hash(context.Background(), "pw-"+username)
		require.NoError(t, err)
		s.users[tenantName+"/"+username] = dir.Put(tenantName, users.User{
			Username: username, Role: role, PasswordHash: hash, Active: active,
		})
	}
	put("acme", "alice", auth.RoleUser, true)
	put("acme", "root", auth.RoleAdmin, true)
	put("acme", "ghost", auth.RoleUser, false)
	put("globex", "gina", auth.RoleAdmin, true)
	put("main", "mona", auth.RoleAdmin, true)
	put("vessel_db", "ops", auth.RoleAdmin, true)

	reg := registry.New(log)
	registry.Bootstrap(context.Background(), reg, catalog.Known(), users.Lister(dir))

	s.audit = audit.NewMemoryRepo()
	auditSvc := audit.NewService(s.audit)
	m, err := auth.NewManager(cfg.Auth, reg,
		auth.WithPrincipalLookup(httpapi.PrincipalLookup(dir, catalog)),
		auth.WithAuditor(auditSvc),
		auth.WithLogger(log),
	)
	require.NoError(t, err)
	s.auth = m

	s.keys = apikey.NewMemoryStore()
	raw, hash, err := apikey.Generate()
	require.NoError(t, err)
	s.keys.Put("acme", apikey.Key{ID: 1, UserID: s.users["acme/alice"].ID, Name: "ci", KeyHash: hash, Active: true})
	s.apiKeys["acme"] = raw
	s.cache, err = apikey.NewCachedStore(s.keys, time.Minute)
	require.NoError(t, err)
	t.Cleanup(s.cache.Close)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	s.rdb = rdb

	s.router = gin.New()
	registerRoutes(s.router, routeDeps{
		handlers: httpapi.Handlers{
			Auth:      m,
			Users:     dir,
			Passwords: hasher,
			Catalog:   catalog,
			Audit:     auditSvc,
			Keys:      s.cache,
		},
		keys:     apikey.NewVerifier(s.cache, log),
		usage:    apikey.NewRedisUsageLog(rdb, 100),
		redis:    rdb,
		inflight: 2,
		log:      log,
	})
	return s
}

type tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
	Tenant       string `json:"tenant"`
}

func (s *testServer) do(method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func bearer(tok string) http.Header {
	return http.Header{"Authorization": {"Bearer " + tok}}
}

func (s *testServer) login(t *testing.T, tenantName, username string) tokens {
	t.Helper()
	path := "/" + tenantName + "/auth/login"
	if tenantName == "vessel" {
		path = "/vessel/auth/login"
	}
	w := s.do(http.MethodPost, path, gin.H{"username": username, "password": "pw-" + username}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var tk tokens
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tk))
	require.NotEmpty(t, tk.AccessToken)
	require.NotEmpty(t, tk.RefreshToken)
	return tk
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body.Code
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestLogin_SetsCookiesAndScopesTenant(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodPost, "/acme/auth/login", gin.H{"username": "alice", "password": "pw-alice"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	names := map[string]bool{}
	for _, c := range w.Result().Cookies() {
		names[c.Name] = true
		require.True(t, c.HttpOnly, c.Name)
	}
	require.True(t, names[auth.CookieAccessToken] && names[auth.CookieRefreshToken] && names[auth.CookieUserID], "cookies: %v", names)

	var tk tokens
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tk))
	require.Equal(t, "acme", tk.Tenant)

	me := s.do(http.MethodGet, "/acme/me", nil, bearer(tk.AccessToken))
	require.Equal(t, http.StatusOK, me.Code, me.Body.String())

	other := s.do(http.MethodGet, "/globex/me", nil, bearer(tk.AccessToken))
	require.Equal(t, http.StatusForbidden, other.Code)
	require.Equal(t, auth.KindForbidden.String(), errorCode(t, other))
	require.Empty(t, other.Result().Cookies(), "forbidden must not clear credentials")
}

func TestLogin_Rejections(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/nope/auth/login", gin.H{"username": "alice", "password": "pw-alice"}, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	// The vessel database is only reachable through /vessel.
	w = s.do(http.MethodPost, "/vessel_db/auth/login", gin.H{"username": "ops", "password": "pw-ops"}, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	wrong := s.do(http.MethodPost, "/acme/auth/login", gin.H{"username": "alice", "password": "nope"}, nil)
	unknown := s.do(http.MethodPost, "/acme/auth/login", gin.H{"username": "mallory", "password": "nope"}, nil)
	inactive := s.do(http.MethodPost, "/acme/auth/login", gin.H{"username": "ghost", "password": "pw-ghost"}, nil)
	for _, r := range []*httptest.ResponseRecorder{wrong, unknown, inactive} {
		require.Equal(t, http.StatusUnauthorized, r.Code)
		require.JSONEq(t, `{"error":"invalid credentials"}`, r.Body.String())
	}

	w = s.do(http.MethodPost, "/acme/auth/login", gin.H{"username": "alice"}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegister_TenantUser(t *testing.T) {
	s := newTestServer(t)
	reg := s.auth.Registry()
	before := reg.TenantSize("acme")

	w := s.do(http.MethodPost, "/acme/auth/register",
		gin.H{"username": "newbie", "password": "pw-newbie", "confirm_password": "pw-newbie", "role": "admin"}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var body struct {
		UserID   string `json:"user_id"`
		Username string `json:"username"`
		Tenant   string `json:"tenant"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "newbie", body.Username)
	require.Equal(t, "acme", body.Tenant)
	require.Empty(t, w.Result().Cookies(), "registration does not sign in")

	u, err := s.dir.GetByUsername(context.Background(), "acme", "newbie")
	require.NoError(t, err)
	require.Equal(t, auth.FormatUserID(u.ID), body.UserID)
	require.Equal(t, auth.RoleUser, u.Role, "role in the body is ignored")
	require.True(t, u.Active)
	require.NotEqual(t, "pw-newbie", u.PasswordHash)
	require.Equal(t, before+1, reg.TenantSize("acme"))
	require.Equal(t, registry.InitialVersion, reg.Version("acme", u.ID))

	tk := s.login(t, "acme", "newbie")
	me := s.do(http.MethodGet, "/acme/me", nil, bearer(tk.AccessToken))
	require.Equal(t, http.StatusOK, me.Code, me.Body.String())

	dup := s.do(http.MethodPost, "/acme/auth/register", gin.H{"username": "newbie", "password": "pw-newbie"}, nil)
	require.Equal(t, http.StatusConflict, dup.Code)

	// Usernames are unique per tenant only.
	w = s.do(http.MethodPost, "/globex/auth/register", gin.H{"username": "newbie", "password": "pw-newbie"}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestRegister_Rejections(t *testing.T) {
	s := newTestServer(t)
	cases := []struct {
		path string
		body gin.H
		want int
	}{
		{"/nope/auth/register", gin.H{"username": "x", "password": "long-enough"}, http.StatusNotFound},
		{"/vessel_db/auth/register", gin.H{"username": "x", "password": "long-enough"}, http.StatusNotFound},
		{"/acme/auth/register", gin.H{"username": " ", "password": "long-enough"}, http.StatusBadRequest},
		{"/acme/auth/register", gin.H{"username": "x", "password": "short"}, http.StatusBadRequest},
		{"/acme/auth/register", gin.H{"username": "x", "password": "long-enough", "confirm_password": "different"}, http.StatusBadRequest},
		{"/acme/auth/register", gin.H{"username": "alice", "password": "long-enough"}, http.StatusConflict},
	}
	for _, tc := range cases {
		w := s.do(http.MethodPost, tc.path, tc.body, nil)
		require.Equal(t, tc.want, w.Code, "%s %v: %s", tc.path, tc.body, w.Body.String())
	}
	_, err := s.dir.GetByUsername(context.Background(), "acme", "x")
	require.ErrorIs(t, err, users.ErrNotFound)
}

func TestRegister_Vessel(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodPost, "/vessel/auth/register", gin.H{"username": "crewmate", "password": "pw-crewmate"}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Contains(t, w.Body.String(), `"tenant":"vessel_db"`)

	u, err := s.dir.GetByUsername(context.Background(), "vessel_db", "crewmate")
	require.NoError(t, err)
	require.Equal(t, auth.RoleVessel, u.Role)
	require.Equal(t, 2, s.auth.Registry().TenantSize("vessel_db"), "ops plus the new principal")

	tk := s.login(t, "vessel", "crewmate")
	home := s.do(http.MethodGet, "/vessel/home", nil, bearer(tk.AccessToken))
	require.Equal(t, http.StatusOK, home.Code, home.Body.String())

	// Vessel principals cannot sign in through a tenant route.
	w = s.do(http.MethodPost, "/acme/auth/login", gin.H{"username": "crewmate", "password": "pw-crewmate"}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogin_FormBody(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/acme/auth/login",
		bytes.NewBufferString("username=alice&password=pw-alice&remember_me=true"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var tk tokens
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tk))
	claims, err := s.auth.ValidateAs(tk.RefreshToken, auth.TokenTypeRefresh)
	require.NoError(t, err)
	require.True(t, claims.Remember)
}

func TestRefresh_RotationAndReplay(t *testing.T) {
	s := newTestServer(t)
	first := s.login(t, "acme", "alice")

	w := s.do(http.MethodPost, "/acme/auth/refresh", gin.H{"refresh_token": first.RefreshToken}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var second tokens
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	me := s.do(http.MethodGet, "/acme/me", nil, bearer(second.AccessToken))
	require.Equal(t, http.StatusOK, me.Code)

	// Presenting the consumed token again kills the whole generation.
	replay := s.do(http.MethodPost, "/acme/auth/refresh", gin.H{"refresh_token": first.RefreshToken}, nil)
	require.Equal(t, http.StatusUnauthorized, replay.Code)
	require.Equal(t, auth.KindReplayDetected.String(), errorCode(t, replay))

	me = s.do(http.MethodGet, "/acme/me", nil, bearer(second.AccessToken))
	require.Equal(t, http.StatusUnauthorized, me.Code)
	require.Equal(t, auth.KindTokenVersionStale.String(), errorCode(t, me))

	events := s.audit.ForTenant("acme")
	require.Len(t, events, 1)
	require.Equal(t, audit.EventTypeRefreshReplay, events[0].Type)
}

func TestRefresh_FromCookie(t *testing.T) {
	s := newTestServer(t)
	tk := s.login(t, "acme", "alice")

	req := httptest.NewRequest(http.MethodPost, "/acme/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: auth.CookieRefreshToken, Value: tk.RefreshToken})
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestRefresh_WrongTenantOrType(t *testing.T) {
	s := newTestServer(t)
	tk := s.login(t, "acme", "alice")

	w := s.do(http.MethodPost, "/globex/auth/refresh", gin.H{"refresh_token": tk.RefreshToken}, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	// The rejected attempt did not consume the token.
	w = s.do(http.MethodPost, "/acme/auth/refresh", gin.H{"refresh_token": tk.RefreshToken}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/acme/auth/refresh", gin.H{"refresh_token": tk.AccessToken}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, auth.KindInvalidToken.String(), errorCode(t, w))

	w = s.do(http.MethodPost, "/acme/auth/refresh", nil, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, auth.KindMissingToken.String(), errorCode(t, w))
}

func TestLogoutAll_EndsEverySession(t *testing.T) {
	s := newTestServer(t)
	laptop := s.login(t, "acme", "alice")
	phone := s.login(t, "acme", "alice")

	w := s.do(http.MethodPost, "/acme/auth/logout-all", nil, bearer(laptop.AccessToken))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	for _, tk := range []tokens{laptop, phone} {
		me := s.do(http.MethodGet, "/acme/me", nil, bearer(tk.AccessToken))
		require.Equal(t, http.StatusUnauthorized, me.Code)
		ref := s.do(http.MethodPost, "/acme/auth/refresh", gin.H{"refresh_token": tk.RefreshToken}, nil)
		require.Equal(t, http.StatusUnauthorized, ref.Code)
		require.Equal(t, auth.KindTokenVersionStale.String(), errorCode(t, ref))
	}

	// Other users of the tenant are untouched.
	admin := s.login(t, "acme", "root")
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/acme/me", nil, bearer(admin.AccessToken)).Code)
}

func TestLogout_ClearsCookies(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodPost, "/acme/auth/logout", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, w.Result().Cookies(), 3)
	for _, c := range w.Result().Cookies() {
		require.True(t, c.MaxAge < 0, c.Name)
	}
}

func TestAdmin_InvalidateAndDelete(t *testing.T) {
	s := newTestServer(t)
	alice := s.login(t, "acme", "alice")
	root := s.login(t, "acme", "root")
	aliceID := s.users["acme/alice"].ID

	// A regular user cannot reach the admin surface.
	w := s.do(http.MethodPost, "/acme/admin/users/1/invalidate", nil, bearer(alice.AccessToken))
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, auth.KindInsufficientPermissions.String(), errorCode(t, w))

	// Nor can another tenant's admin.
	gina := s.login(t, "globex", "gina")
	w = s.do(http.MethodPost, "/acme/admin/users/1/invalidate", nil, bearer(gina.AccessToken))
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, auth.KindForbidden.String(), errorCode(t, w))

	path := "/acme/admin/users/" + auth.FormatUserID(aliceID)
	w = s.do(http.MethodPost, path+"/invalidate", nil, bearer(root.AccessToken))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/acme/me", nil, bearer(alice.AccessToken)).Code)

	events := s.audit.ForTenant("acme")
	require.Len(t, events, 1)
	require.Equal(t, s.users["acme/root"].ID, events[0].ActorUserID)

	alice = s.login(t, "acme", "alice")
	w = s.do(http.MethodDelete, path, nil, bearer(root.AccessToken))
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	require.Equal(t, 0, s.auth.Registry().UsedCount("acme", aliceID))

	// The deleted user can no longer rotate.
	w = s.do(http.MethodPost, "/acme/auth/refresh", gin.H{"refresh_token": alice.RefreshToken}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodDelete, path, nil, bearer(root.AccessToken))
	require.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodDelete, "/acme/admin/users/abc", nil, bearer(root.AccessToken))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDefaultTenantSurface(t *testing.T) {
	s := newTestServer(t)
	mona := s.login(t, "main", "mona")
	alice := s.login(t, "acme", "alice")

	w := s.do(http.MethodGet, "/admin/registry", nil, bearer(mona.AccessToken))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var stats struct {
		Tenants []registry.TenantStats `json:"tenants"`
		Total   int                    `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	require.Contains(t, stats.Tenants, registry.TenantStats{Tenant: "acme", Users: 3})
	require.Equal(t, 6, stats.Total)

	w = s.do(http.MethodGet, "/admin/registry", nil, bearer(alice.AccessToken))
	require.Equal(t, http.StatusForbidden, w.Code)

	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/me", nil, bearer(mona.AccessToken)).Code)
	require.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/me", nil, bearer(alice.AccessToken)).Code)
}

func TestVessel_LoginHomeAndRefresh(t *testing.T) {
	s := newTestServer(t)
	ops := s.login(t, "vessel", "ops")

	claims, err := s.auth.ValidateAs(ops.AccessToken, auth.TokenTypeAccess)
	require.NoError(t, err)
	require.True(t, claims.IsVessel())
	require.Equal(t, auth.RoleVessel, claims.Role)

	w := s.do(http.MethodGet, "/vessel/home", nil, bearer(ops.AccessToken))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	alice := s.login(t, "acme", "alice")
	w = s.do(http.MethodGet, "/vessel/home", nil, bearer(alice.AccessToken))
	require.Equal(t, http.StatusForbidden, w.Code)

	// Vessel tokens open no tenant routes.
	w = s.do(http.MethodGet, "/acme/me", nil, bearer(ops.AccessToken))
	require.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/vessel/auth/refresh", gin.H{"refresh_token": ops.RefreshToken}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var next tokens
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &next))
	claims, err = s.auth.ValidateAs(next.AccessToken, auth.TokenTypeAccess)
	require.NoError(t, err)
	require.Equal(t, auth.RoleVessel, claims.Role)

	w = s.do(http.MethodPost, "/vessel/auth/refresh", gin.H{"refresh_token": alice.RefreshToken}, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestAPIKeyPing(t *testing.T) {
	s := newTestServer(t)
	raw := s.apiKeys["acme"]

	w := s.do(http.MethodGet, "/acme/api/v1/ping", nil, http.Header{"X-Api-Key": {raw}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Contains(t, w.Body.String(), `"tenant":"acme"`)

	w = s.do(http.MethodGet, "/globex/api/v1/ping", nil, http.Header{"X-Api-Key": {raw}})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/acme/api/v1/ping", nil, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	n, err := s.rdb.XLen(context.Background(), apikey.UsageStream("acme")).Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestAdmin_APIKeyLifecycle(t *testing.T) {
	s := newTestServer(t)
	root := s.login(t, "acme", "root")
	alice := s.login(t, "acme", "alice")
	aliceID := s.users["acme/alice"].ID

	w := s.do(http.MethodPost, "/acme/admin/api-keys", gin.H{"name": "deploy"}, bearer(alice.AccessToken))
	require.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/acme/admin/api-keys", gin.H{"name": "deploy", "user_id": aliceID, "expires_in": "24h"}, bearer(root.AccessToken))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		ID        int64      `json:"id"`
		Key       string     `json:"key"`
		UserID    int64      `json:"user_id"`
		ExpiresAt *time.Time `json:"expires_at"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.True(t, strings.HasPrefix(created.Key, apikey.Prefix))
	require.Equal(t, aliceID, created.UserID)
	require.NotNil(t, created.ExpiresAt)

	ping := func() int {
		return s.do(http.MethodGet, "/acme/api/v1/ping", nil, http.Header{"X-Api-Key": {created.Key}}).Code
	}
	require.Equal(t, http.StatusOK, ping())
	s.cache.Wait()

	w = s.do(http.MethodDelete, "/acme/admin/api-keys/"+strconv.FormatInt(created.ID, 10), nil, bearer(root.AccessToken))
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	require.Equal(t, http.StatusForbidden, ping(), "revocation is seen without waiting for the cache ttl")

	// Keys of another tenant are out of reach.
	gina := s.login(t, "globex", "gina")
	w = s.do(http.MethodDelete, "/globex/admin/api-keys/1", nil, bearer(gina.AccessToken))
	require.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, "/acme/admin/api-keys", gin.H{"name": "x", "user_id": s.users["globex/gina"].ID + 100}, bearer(root.AccessToken))
	require.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, "/acme/admin/api-keys", gin.H{"name": " "}, bearer(root.AccessToken))
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/acme/admin/api-keys", gin.H{"name": "x", "expires_in": "-1h"}, bearer(root.AccessToken))
	require.Equal(t, http.StatusBadRequest, w.Code)
}
