package auth

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// Cookie names. The three values travel together and are cleared together.
const (
	CookieAccessToken  = "access_token"
	CookieRefreshToken = "refresh_token"
	CookieUserID       = "user_id"
)

// ClaimsKey is the gin context key holding the validated Claims.
const ClaimsKey = "claims"

// RequireToken validates an access token from the Authorization header or
// the access_token cookie and stores the claims on the request context.
// It does not perform authorization; that belongs to internal/guard.
func RequireToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := bearerToken(c)
		if tok == "" {
			tok, _ = c.Cookie(CookieAccessToken)
		}

		claims, err := m.ValidateAs(tok, TokenTypeAccess)
		if err != nil {
			Abort(c, err)
			return
		}

		if uid, err := c.Cookie(CookieUserID); err == nil && uid != "" && uid != claims.Subject {
			Abort(c, newError(KindInvalidToken, "user_id cookie does not match token", nil))
			return
		}

		tenant := m.tenantOf(claims.TenantName)
		c.Request = c.Request.WithContext(WithClaims(c.Request.Context(), claims, tenant))
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
	if !strings.HasPrefix(raw, bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(raw, bearerPrefix))
}

// Abort writes err as JSON and clears client credentials when the failure
// makes them unusable.
func Abort(c *gin.Context, err error) {
	var e *Error
	if !errors.As(err, &e) {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": KindUnknown.Message()})
		return
	}
	if e.Kind.ClearsCredentials() {
		ClearCredentials(c)
	}
	c.AbortWithStatusJSON(e.Status(), gin.H{"error": e.Kind.Message(), "code": e.Kind.String()})
}

// SetCredentials stores a pair and the user id as cookies. Each cookie
// lives as long as the token it carries; user_id follows the refresh token.
func SetCredentials(c *gin.Context, pair TokenPair, secure bool) {
	now := time.Now()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieAccessToken, pair.AccessToken, maxAge(pair.AccessClaims, now), "/", "", secure, true)
	c.SetCookie(CookieRefreshToken, pair.RefreshToken, maxAge(pair.RefreshClaims, now), "/", "", secure, true)
	c.SetCookie(CookieUserID, pair.AccessClaims.Subject, maxAge(pair.RefreshClaims, now), "/", "", secure, true)
}

// ClearCredentials expires all three cookies.
func ClearCredentials(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	for _, name := range []string{CookieAccessToken, CookieRefreshToken, CookieUserID} {
		c.SetCookie(name, "", -1, "/", "", false, true)
	}
}

func maxAge(claims Claims, now time.Time) int {
	if claims.ExpiresAt == nil {
		return 0
	}
	secs := int(claims.ExpiresAt.Sub(now).Seconds())
	if secs < 1 {
		return -1
	}
	return secs
}

// FormatUserID renders a user id the way it appears in sub and the user_id cookie.
func FormatUserID(id int64) string { return strconv.FormatInt(id, 10) }
