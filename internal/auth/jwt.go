package auth

import (
	"context"
	"log/slog"
	"time"

	"tenant-auth/internal/config"
	"tenant-auth/internal/registry"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// PrincipalLookup reloads a user's current identity, used to refresh
// username and role when a refresh token is rotated.
type PrincipalLookup func(ctx context.Context, tenant string, userID int64) (Principal, error)

// Auditor records generation invalidations. Failures are logged and ignored.
type Auditor interface {
	LogInvalidation(ctx context.Context, tenant string, userID int64, version uint32, reason string) error
	LogReplay(ctx context.Context, tenant string, userID int64, version uint32, jti string) error
}

type Option func(*Manager)

func WithPrincipalLookup(fn PrincipalLookup) Option {
	return func(m *Manager) { m.lookup = fn }
}

func WithAuditor(a Auditor) Option {
	return func(m *Manager) { m.auditor = a }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// Manager issues, validates and rotates tokens against a shared registry.
type Manager struct {
	secret        []byte
	issuer        string
	audience      string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	rememberTTL   time.Duration
	leeway        time.Duration
	defaultTenant string

	reg     *registry.Manager
	lookup  PrincipalLookup
	auditor Auditor
	now     func() time.Time
	log     *slog.Logger
}

func NewManager(cfg config.AuthConfig, reg *registry.Manager, opts ...Option) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, newError(KindConfiguration, "JWT_SECRET is required", nil)
	}
	if reg == nil {
		return nil, newError(KindConfiguration, "token registry is required", nil)
	}

	m := &Manager{
		secret:        []byte(cfg.JWTSecret),
		issuer:        cfg.JWTIssuer,
		audience:      cfg.JWTAudience,
		accessTTL:     cfg.AccessTokenTTL,
		refreshTTL:    cfg.RefreshTokenTTL,
		rememberTTL:   cfg.RefreshTokenRememberTTL,
		leeway:        cfg.Leeway,
		defaultTenant: cfg.DefaultTenant,
		reg:           reg,
		now:           time.Now,
		log:           slog.Default(),
	}
	if m.rememberTTL < m.refreshTTL {
		m.rememberTTL = m.refreshTTL
	}
	if m.defaultTenant == "" {
		m.defaultTenant = config.DefaultTenantName
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) DefaultTenant() string { return m.defaultTenant }

// Registry exposes the shared registry for admin and deletion flows.
func (m *Manager) Registry() *registry.Manager { return m.reg }

type TokenPair struct {
	AccessToken   string
	RefreshToken  string
	AccessClaims  Claims
	RefreshClaims Claims
}

/* ===================== ISSUE TOKENS ===================== */

// IssueAccess mints an access token pinned to the user's current version.
func (m *Manager) IssueAccess(p Principal, remember bool, refreshJTI, deviceInfo string) (string, Claims, error) {
	return m.issue(p, TokenTypeAccess, remember, refreshJTI, deviceInfo, m.currentVersion(p))
}

// IssueRefresh mints a refresh token pinned to the user's current version.
func (m *Manager) IssueRefresh(p Principal, remember bool, deviceInfo string) (string, Claims, error) {
	return m.issue(p, TokenTypeRefresh, remember, "", deviceInfo, m.currentVersion(p))
}

// IssuePair mints a refresh token and an access token that references it.
func (m *Manager) IssuePair(p Principal, remember bool, deviceInfo string) (TokenPair, error) {
	return m.issuePairAt(p, remember, deviceInfo, m.currentVersion(p))
}

func (m *Manager) issuePairAt(p Principal, remember bool, deviceInfo string, version uint32) (TokenPair, error) {
	refresh, rc, err := m.issue(p, TokenTypeRefresh, remember, "", deviceInfo, version)
	if err != nil {
		return TokenPair{}, err
	}
	access, ac, err := m.issue(p, TokenTypeAccess, remember, rc.ID, deviceInfo, version)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:   access,
		RefreshToken:  refresh,
		AccessClaims:  ac,
		RefreshClaims: rc,
	}, nil
}

// currentVersion registers the user if unseen and reads the live version.
func (m *Manager) currentVersion(p Principal) uint32 {
	tenant := m.tenantOf(p.Tenant)
	m.reg.Register(tenant, p.UserID)
	return m.reg.Version(tenant, p.UserID)
}

func (m *Manager) tenantOf(name string) string {
	if name == "" {
		return m.defaultTenant
	}
	return name
}

func (m *Manager) ttl(tokenType TokenType, remember bool) time.Duration {
	switch {
	case tokenType == TokenTypeAccess:
		return m.accessTTL
	case remember:
		return m.rememberTTL
	default:
		return m.refreshTTL
	}
}

/* ===================== INTERNAL ISSUE ===================== */

func (m *Manager) issue(
	p Principal,
	tokenType TokenType,
	remember bool,
	refreshJTI,
	deviceInfo string,
	version uint32,
) (string, Claims, error) {
	if len(m.secret) == 0 {
		return "", Claims{}, newError(KindConfiguration, "signing secret unavailable", nil)
	}

	system := p.AuthSystem
	if system == "" {
		system = AuthSystemTenant
	}

	now := m.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   FormatUserID(p.UserID),
			Issuer:    m.issuer,
			Audience:  audienceOrNil(m.audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl(tokenType, remember))),
			ID:        uuid.NewString(),
		},
		Username:   p.Username,
		Role:       p.Role,
		TenantName: p.Tenant,
		AuthSystem: system,
		TokenType:  tokenType,
		Version:    version,
		Remember:   remember,
		RefreshJTI: refreshJTI,
		DeviceInfo: deviceInfo,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", Claims{}, newError(KindConfiguration, "sign token", err)
	}

	m.log.Debug("token issued",
		"tenant", m.tenantOf(p.Tenant), "user_id", p.UserID, "type", tokenType,
		"version", version, "jti", claims.ID)
	return signed, claims, nil
}

func audienceOrNil(aud string) jwt.ClaimStrings {
	if aud == "" {
		return nil
	}
	return jwt.ClaimStrings{aud}
}
