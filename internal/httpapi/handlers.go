package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"tenant-auth/internal/apikey"
	"tenant-auth/internal/audit"
	"tenant-auth/internal/auth"
	"tenant-auth/internal/guard"
	"tenant-auth/internal/password"
	"tenant-auth/internal/tenant"
	"tenant-auth/internal/users"
	"tenant-auth/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Users     users.Directory
	Passwords *password.Hasher
	Catalog   *tenant.Catalog
	Audit     *audit.Service
	Keys      apikey.Admin
	// DBs backs readiness; nil reports ready.
	DBs Pinger

	// SecureCookies sets the Secure flag; off only for local http.
	SecureCookies bool
}

// Pinger reports per-tenant database failures. *tenant.Pools satisfies it.
type Pinger interface {
	Ping(ctx context.Context) map[string]error
}

// Ready reports 503 while any opened tenant database is unreachable.
func (h Handlers) Ready(c *gin.Context) {
	if h.DBs == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}
	failed := h.DBs.Ping(c.Request.Context())
	if len(failed) == 0 {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}
	names := make([]string, 0, len(failed))
	for name, err := range failed {
		names = append(names, name)
		logger.FromGin(c).Warn("tenant database unreachable", "tenant", name, "err", err)
	}
	sort.Strings(names)
	c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "tenants": names})
}

// --- Auth ---

type loginRequest struct {
	Username   string `json:"username" form:"username"`
	Password   string `json:"password" form:"password"`
	RememberMe bool   `json:"remember_me" form:"remember_me"`
	DeviceInfo string `json:"device_info" form:"device_info"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	UserID       string `json:"user_id"`
	Tenant       string `json:"tenant,omitempty"`
}

func (h Handlers) respondPair(c *gin.Context, pair auth.TokenPair) {
	auth.SetCredentials(c, pair, h.SecureCookies)
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(time.Until(pair.AccessClaims.ExpiresAt.Time).Seconds()),
		UserID:       pair.AccessClaims.Subject,
		Tenant:       pair.AccessClaims.TenantName,
	})
}

// Login authenticates against the path tenant's user store and issues a
// tenant-scoped pair.
func (h Handlers) Login(c *gin.Context) {
	name := c.Param("tenant")
	if !h.Catalog.Exists(name) || name == h.Catalog.Vessel() {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown tenant"})
		return
	}
	c.Set(logger.TenantKey, name)

	u, remember, device, ok := h.authenticate(c, name)
	if !ok {
		return
	}
	pair, err := h.Auth.IssuePair(auth.Principal{
		UserID:     u.ID,
		Username:   u.Username,
		Role:       u.Role,
		Tenant:     name,
		AuthSystem: auth.AuthSystemTenant,
	}, remember, device)
	if err != nil {
		auth.Abort(c, err)
		return
	}
	h.respondPair(c, pair)
}

// VesselLogin authenticates a platform-level principal against the vessel database.
func (h Handlers) VesselLogin(c *gin.Context) {
	name := h.Catalog.Vessel()
	if name == "" {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "vessel login not configured"})
		return
	}
	c.Set(logger.TenantKey, name)

	u, remember, device, ok := h.authenticate(c, name)
	if !ok {
		return
	}
	pair, err := h.Auth.IssuePair(auth.Principal{
		UserID:     u.ID,
		Username:   u.Username,
		Role:       auth.RoleVessel,
		Tenant:     name,
		AuthSystem: auth.AuthSystemVessel,
	}, remember, device)
	if err != nil {
		auth.Abort(c, err)
		return
	}
	h.respondPair(c, pair)
}

// authenticate writes the error response itself and returns ok=false on failure.
func (h Handlers) authenticate(c *gin.Context, tenantName string) (users.User, bool, string, bool) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return users.User{}, false, "", false
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return users.User{}, false, "", false
	}

	log := logger.FromGin(c)
	u, err := h.Users.GetByUsername(c.Request.Context(), tenantName, req.Username)
	if err != nil {
		if !errors.Is(err, users.ErrNotFound) {
			log.Error("user lookup failed", "tenant", tenantName, "err", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "tenant unavailable"})
			return users.User{}, false, "", false
		}
		if err := h.Passwords.VerifyDecoy(c.Request.Context(), req.Password); err != nil {
			log.Warn("decoy password verification failed", "tenant", tenantName, "err", err)
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return users.User{}, false, "", false
	}

	match, err := h.Passwords.Verify(c.Request.Context(), req.Password, u.PasswordHash)
	if err != nil && !errors.Is(err, password.ErrInvalidHash) {
		log.Error("password verification failed", "tenant", tenantName, "user_id", u.ID, "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "try again later"})
		return users.User{}, false, "", false
	}
	if !match || !u.Active {
		log.Info("login rejected", "tenant", tenantName, "user_id", u.ID, "active", u.Active)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return users.User{}, false, "", false
	}

	device := req.DeviceInfo
	if device == "" {
		device = c.GetHeader("User-Agent")
	}
	return u, req.RememberMe, device, true
}

const minPasswordLength = 8

type registerRequest struct {
	Username        string `json:"username" form:"username"`
	Password        string `json:"password" form:"password"`
	ConfirmPassword string `json:"confirm_password" form:"confirm_password"`
}

// Register creates a regular user in the path tenant. The client logs in
// afterwards; no tokens are issued here.
func (h Handlers) Register(c *gin.Context) {
	name := c.Param("tenant")
	if !h.Catalog.Exists(name) || name == h.Catalog.Vessel() {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown tenant"})
		return
	}
	c.Set(logger.TenantKey, name)
	h.register(c, name, auth.RoleUser)
}

// VesselRegister creates a platform-level principal in the vessel database.
func (h Handlers) VesselRegister(c *gin.Context) {
	name := h.Catalog.Vessel()
	if name == "" {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "vessel registration not configured"})
		return
	}
	c.Set(logger.TenantKey, name)
	h.register(c, name, auth.RoleVessel)
}

func (h Handlers) register(c *gin.Context, tenantName, role string) {
	var req registerRequest
	if err := c.ShouldBind(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	switch {
	case req.Username == "" || req.Password == "":
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	case len(req.Password) < minPasswordLength:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "password must be at least 8 characters"})
		return
	case req.ConfirmPassword != "" && req.ConfirmPassword != req.Password:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "passwords do not match"})
		return
	}

	ctx := c.Request.Context()
	log := logger.FromGin(c)
	hash, err := h.Passwords.Hash(ctx, req.Password)
	if err != nil {
		log.Error("password hashing failed", "tenant", tenantName, "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "try again later"})
		return
	}
	u, err := h.Users.Create(ctx, tenantName, users.User{
		Username:     req.Username,
		Role:         role,
		PasswordHash: hash,
		Active:       true,
	})
	if err != nil {
		if errors.Is(err, users.ErrExists) {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "username already taken"})
			return
		}
		log.Error("user registration failed", "tenant", tenantName, "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "tenant unavailable"})
		return
	}
	h.Auth.Registry().Register(tenantName, u.ID)

	log.Info("user registered", "tenant", tenantName, "user_id", u.ID)
	c.JSON(http.StatusCreated, gin.H{
		"user_id":  auth.FormatUserID(u.ID),
		"username": u.Username,
		"tenant":   tenantName,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" form:"refresh_token"`
}

func refreshTokenFrom(c *gin.Context) string {
	if tok, err := c.Cookie(auth.CookieRefreshToken); err == nil && tok != "" {
		return tok
	}
	var req refreshRequest
	_ = c.ShouldBind(&req)
	return req.RefreshToken
}

// Refresh rotates a tenant refresh token. The token must belong to the path tenant.
func (h Handlers) Refresh(c *gin.Context) {
	name := c.Param("tenant")
	c.Set(logger.TenantKey, name)
	h.rotate(c, func(claims auth.Claims) bool {
		return !claims.IsVessel() && claims.TenantOr(h.Auth.DefaultTenant()) == name
	})
}

// VesselRefresh rotates a vessel refresh token.
func (h Handlers) VesselRefresh(c *gin.Context) {
	c.Set(logger.TenantKey, h.Catalog.Vessel())
	h.rotate(c, func(claims auth.Claims) bool { return claims.IsVessel() })
}

func (h Handlers) rotate(c *gin.Context, accept func(auth.Claims) bool) {
	tok := refreshTokenFrom(c)
	claims, err := h.Auth.ValidateAs(tok, auth.TokenTypeRefresh)
	if err != nil {
		auth.Abort(c, err)
		return
	}
	if !accept(claims) {
		auth.Abort(c, auth.Deny(auth.KindForbidden, "refresh token belongs to another area"))
		return
	}
	pair, err := h.Auth.Rotate(c.Request.Context(), tok)
	if err != nil {
		auth.Abort(c, err)
		return
	}
	h.respondPair(c, pair)
}

// Logout clears this client's credentials. Other sessions stay valid.
func (h Handlers) Logout(c *gin.Context) {
	auth.ClearCredentials(c)
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

// LogoutAll invalidates every token of the caller, on every device.
func (h Handlers) LogoutAll(c *gin.Context) {
	ctx := c.Request.Context()
	uid, err := auth.UserID(ctx)
	if err != nil {
		auth.Abort(c, auth.ErrMissingToken)
		return
	}
	name, err := auth.Tenant(ctx)
	if err != nil {
		auth.Abort(c, auth.ErrMissingToken)
		return
	}
	version := h.Auth.InvalidateAll(ctx, name, uid, "logout_all")
	auth.ClearCredentials(c)
	c.JSON(http.StatusOK, gin.H{"status": "logged out everywhere", "version": version})
}

// --- Principal ---

func (h Handlers) Me(c *gin.Context) {
	claims, ok := auth.ClaimsFrom(c.Request.Context())
	if !ok {
		auth.Abort(c, auth.ErrMissingToken)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":     claims.Subject,
		"username":    claims.Username,
		"role":        claims.Role,
		"tenant":      guard.TenantOf(c),
		"auth_system": claims.AuthSystem,
		"version":     claims.Version,
		"expires_at":  claims.ExpiresAt.Time,
	})
}

// --- Admin ---

func pathUserID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return id, true
}

// AdminInvalidate ends every session of one user of the admin's tenant.
func (h Handlers) AdminInvalidate(c *gin.Context) {
	id, ok := pathUserID(c)
	if !ok {
		return
	}
	name := guard.TenantOf(c)
	if _, err := h.Users.GetByID(c.Request.Context(), name, id); err != nil {
		if errors.Is(err, users.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "tenant unavailable"})
		return
	}

	actor, _ := auth.UserID(c.Request.Context())
	ctx := audit.WithActor(c.Request.Context(), actor)
	version := h.Auth.InvalidateAll(ctx, name, id, "admin")
	c.JSON(http.StatusOK, gin.H{"user_id": id, "version": version})
}

// AdminDeleteUser deletes a user and drops their registry entry.
func (h Handlers) AdminDeleteUser(c *gin.Context) {
	id, ok := pathUserID(c)
	if !ok {
		return
	}
	name := guard.TenantOf(c)
	actor, _ := auth.UserID(c.Request.Context())
	if actor == id {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "cannot delete yourself"})
		return
	}

	if err := h.Users.Delete(c.Request.Context(), name, id); err != nil {
		if errors.Is(err, users.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		logger.FromGin(c).Error("user delete failed", "tenant", name, "user_id", id, "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "tenant unavailable"})
		return
	}
	h.Auth.Registry().Remove(name, id)

	if h.Audit != nil {
		if err := h.Audit.LogUserRemoved(c.Request.Context(), name, id, actor); err != nil {
			logger.FromGin(c).Warn("audit user removal failed", "tenant", name, "user_id", id, "err", err)
		}
	}
	c.Status(http.StatusNoContent)
}

type createKeyRequest struct {
	UserID    int64  `json:"user_id" form:"user_id"`
	Name      string `json:"name" form:"name"`
	ExpiresIn string `json:"expires_in" form:"expires_in"`
}

// AdminCreateAPIKey issues an API key for a user of the admin's tenant,
// the admin when user_id is omitted. The raw key is returned only here.
func (h Handlers) AdminCreateAPIKey(c *gin.Context) {
	var req createKeyRequest
	if err := c.ShouldBind(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "name required"})
		return
	}
	var expires *time.Time
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "expires_in must be a positive duration"})
			return
		}
		at := time.Now().Add(d).UTC()
		expires = &at
	}

	ctx := c.Request.Context()
	name := guard.TenantOf(c)
	if req.UserID == 0 {
		req.UserID, _ = auth.UserID(ctx)
	}
	if _, err := h.Users.GetByID(ctx, name, req.UserID); err != nil {
		if errors.Is(err, users.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "tenant unavailable"})
		return
	}

	log := logger.FromGin(c)
	raw, hash, err := apikey.Generate()
	if err != nil {
		log.Error("api key generation failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	k, err := h.Keys.Create(ctx, name, apikey.Key{
		UserID:    req.UserID,
		Name:      req.Name,
		KeyHash:   hash,
		Active:    true,
		ExpiresAt: expires,
	})
	if err != nil {
		log.Error("api key create failed", "tenant", name, "user_id", req.UserID, "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "tenant unavailable"})
		return
	}
	log.Info("api key created", "tenant", name, "key_id", k.ID, "user_id", k.UserID)
	c.JSON(http.StatusCreated, gin.H{
		"id":         k.ID,
		"key":        raw,
		"name":       k.Name,
		"user_id":    k.UserID,
		"expires_at": k.ExpiresAt,
	})
}

// AdminRevokeAPIKey revokes one key of the admin's tenant.
func (h Handlers) AdminRevokeAPIKey(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid key id"})
		return
	}
	name := guard.TenantOf(c)
	if _, err := h.Keys.Revoke(c.Request.Context(), name, id); err != nil {
		if errors.Is(err, apikey.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "api key not found"})
			return
		}
		logger.FromGin(c).Error("api key revoke failed", "tenant", name, "key_id", id, "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "tenant unavailable"})
		return
	}
	logger.FromGin(c).Info("api key revoked", "tenant", name, "key_id", id)
	c.Status(http.StatusNoContent)
}

// RegistryStats reports token registry sizes per tenant.
func (h Handlers) RegistryStats(c *gin.Context) {
	reg := h.Auth.Registry()
	c.JSON(http.StatusOK, gin.H{
		"tenants": reg.Stats(),
		"total":   reg.TotalSize(),
	})
}

// --- Vessel ---

func (h Handlers) VesselHome(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"user_id":  claims.Subject,
		"username": claims.Username,
		"tenants":  h.Catalog.Known(),
	})
}

// --- API keys ---

func (h Handlers) APIPing(c *gin.Context) {
	v, _ := c.Get(guard.APIKeyCtxKey)
	k, _ := v.(apikey.Key)
	c.JSON(http.StatusOK, gin.H{
		"status":  "pong",
		"tenant":  guard.TenantOf(c),
		"key_id":  k.ID,
		"user_id": k.UserID,
	})
}

// --- Wiring ---

var errInactive = errors.New("user is inactive")

// PrincipalLookup reloads identities from dir during refresh rotation.
// Vessel principals keep the vessel role whatever their stored role is.
func PrincipalLookup(dir users.Directory, catalog *tenant.Catalog) auth.PrincipalLookup {
	return func(ctx context.Context, tenantName string, userID int64) (auth.Principal, error) {
		u, err := dir.GetByID(ctx, tenantName, userID)
		if err != nil {
			return auth.Principal{}, err
		}
		if !u.Active {
			return auth.Principal{}, errInactive
		}
		p := auth.Principal{
			UserID:     u.ID,
			Username:   u.Username,
			Role:       u.Role,
			Tenant:     tenantName,
			AuthSystem: auth.AuthSystemTenant,
		}
		if tenantName == catalog.Vessel() {
			p.Role = auth.RoleVessel
			p.AuthSystem = auth.AuthSystemVessel
		}
		return p, nil
	}
}
