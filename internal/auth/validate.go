package auth

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

/* ===================== VALIDATE TOKEN ===================== */

// Validate checks signature, required fields, expiry and version of any
// token type. It never mutates the registry.
func (m *Manager) Validate(tokenString string) (Claims, error) {
	claims, _, err := m.validate(tokenString, "")
	return claims, err
}

// ValidateAs is Validate plus a token_type check.
func (m *Manager) ValidateAs(tokenString string, expected TokenType) (Claims, error) {
	claims, _, err := m.validate(tokenString, expected)
	return claims, err
}

// validate also returns the registry version observed during the check.
func (m *Manager) validate(tokenString string, expected TokenType) (Claims, uint32, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return Claims{}, 0, newError(KindMissingToken, "", nil)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithLeeway(m.leeway),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	var claims Claims
	_, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, 0, newError(KindExpiredToken, "", err)
		}
		return Claims{}, 0, newError(KindInvalidToken, "", err)
	}

	if err := checkRequired(claims); err != nil {
		return Claims{}, 0, err
	}
	if expected != "" && claims.TokenType != expected {
		return Claims{}, 0, newError(KindInvalidToken, "token_type mismatch", nil)
	}

	userID, _ := claims.UserID()
	tenant := m.tenantOf(claims.TenantName)
	current := m.reg.Version(tenant, userID)
	if claims.Version < current {
		m.log.Info("stale token rejected",
			"tenant", tenant, "user_id", userID, "version", claims.Version, "current", current)
		err := newError(KindTokenVersionStale, "token generation invalidated", nil)
		err.Tenant = tenant
		return Claims{}, 0, err
	}
	return claims, current, nil
}

func checkRequired(c Claims) *Error {
	if _, err := c.UserID(); err != nil {
		return newError(KindInvalidToken, "", err)
	}
	if c.ID == "" {
		return newError(KindInvalidToken, "jti missing", nil)
	}
	if c.Version == 0 {
		return newError(KindInvalidToken, "ver missing", nil)
	}
	if !c.TokenType.Valid() {
		return newError(KindInvalidToken, "token_type missing", nil)
	}
	if c.AuthSystem != AuthSystemTenant && c.AuthSystem != AuthSystemVessel {
		return newError(KindInvalidToken, "auth_system missing", nil)
	}
	// Role is required ONLY for access tokens
	if c.TokenType == TokenTypeAccess && c.Role == "" {
		return newError(KindInvalidToken, "role missing in access token", nil)
	}
	return nil
}
