package auth

import (
	"errors"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

func (t TokenType) Valid() bool {
	return t == TokenTypeAccess || t == TokenTypeRefresh
}

// AuthSystem tells a tenant-scoped principal from a platform-level vessel
// principal. A token from one system never opens the other's area.
type AuthSystem string

const (
	AuthSystemTenant AuthSystem = "tenant"
	AuthSystemVessel AuthSystem = "vessel"
)

const (
	RoleAdmin  = "admin"
	RoleUser   = "user"
	RoleVessel = "vessel"
)

// Claims are the only supported JWT claims shape.
// sub/exp/iat/nbf/jti live in RegisteredClaims; the JSON names are part of
// the wire contract with every issued token.
type Claims struct {
	jwt.RegisteredClaims

	Username   string     `json:"username"`
	Role       string     `json:"role"`
	TenantName string     `json:"tenant_name,omitempty"`
	AuthSystem AuthSystem `json:"auth_system"`
	TokenType  TokenType  `json:"token_type"`
	Version    uint32     `json:"ver"`
	Remember   bool       `json:"remember"`
	RefreshJTI string     `json:"refresh_jti,omitempty"`
	DeviceInfo string     `json:"device_info,omitempty"`
}

// UserID parses the subject as the numeric user id.
func (c Claims) UserID() (int64, error) {
	if c.Subject == "" {
		return 0, errors.New("sub missing")
	}
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, errors.New("sub is not a user id")
	}
	return id, nil
}

// TenantOr returns the claimed tenant, or def when the token carries none.
func (c Claims) TenantOr(def string) string {
	if c.TenantName == "" {
		return def
	}
	return c.TenantName
}

func (c Claims) IsVessel() bool { return c.AuthSystem == AuthSystemVessel }

func (c Claims) IsAdmin() bool { return c.Role == RoleAdmin }

// Principal is the identity a token pair is minted for.
type Principal struct {
	UserID     int64
	Username   string
	Role       string
	Tenant     string
	AuthSystem AuthSystem
}

// Principal rebuilds the identity the claims were minted for.
func (c Claims) Principal() (Principal, error) {
	id, err := c.UserID()
	if err != nil {
		return Principal{}, err
	}
	return Principal{
		UserID:     id,
		Username:   c.Username,
		Role:       c.Role,
		Tenant:     c.TenantName,
		AuthSystem: c.AuthSystem,
	}, nil
}
