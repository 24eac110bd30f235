package guard

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tenant-auth/internal/apikey"
	"tenant-auth/internal/auth"
	"tenant-auth/pkg/logger"
	"tenant-auth/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	headerAPIKey  = "X-API-Key"
	apiKeyScheme  = "ApiKey "
	TenantKey     = logger.TenantKey
	APIKeyCtxKey  = "api_key"
	inflightTTL   = 2 * time.Minute
	recordTimeout = time.Second
)

type middlewareOptions struct {
	log      *slog.Logger
	usage    apikey.UsageLog
	inflight *utils.InflightCap
}

type MiddlewareOption func(*middlewareOptions)

func WithLogger(log *slog.Logger) MiddlewareOption {
	return func(o *middlewareOptions) { o.log = log }
}

// WithUsageLog records every accepted API key request.
func WithUsageLog(u apikey.UsageLog) MiddlewareOption {
	return func(o *middlewareOptions) { o.usage = u }
}

// WithInflightCap limits concurrent requests per API key across instances.
// limit <= 0 or a nil client disables the cap.
func WithInflightCap(rdb *redis.Client, limit int) MiddlewareOption {
	return func(o *middlewareOptions) {
		if rdb == nil || limit <= 0 {
			return
		}
		o.inflight, _ = utils.NewInflightCap(rdb, limit, inflightTTL)
	}
}

// Require enforces g. JWT guards expect auth.RequireToken earlier in the
// chain; APIKey guards read the key from X-API-Key or "Authorization: ApiKey".
func Require(g Guard, opts ...MiddlewareOption) gin.HandlerFunc {
	o := middlewareOptions{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	return func(c *gin.Context) {
		in := Input{Path: c.Request.URL.Path}
		if g.kind == APIKey {
			in.APIKey = apiKeyFrom(c)
		} else if claims, ok := auth.ClaimsFrom(c.Request.Context()); ok {
			in.Claims = &claims
		}

		d := g.Decide(c.Request.Context(), in)
		if !d.Allowed {
			o.log.Warn("access denied",
				"guard", g.kind.String(), "path", in.Path, "tenant", d.Err.Tenant,
				"role", d.Err.Role, "err", d.Err)
			auth.Abort(c, d.Err)
			return
		}
		c.Set(TenantKey, d.Tenant)

		if d.Key == nil {
			c.Next()
			return
		}

		c.Set(APIKeyCtxKey, *d.Key)
		if o.inflight != nil {
			capKey := "apikey:inflight:" + d.Tenant + ":" + strconv.FormatInt(d.Key.ID, 10)
			ok, err := o.inflight.Acquire(c.Request.Context(), capKey)
			if err != nil {
				// Redis unavailable: fail open, keys are already verified.
				o.log.Warn("api key in-flight cap unavailable", "tenant", d.Tenant, "err", err)
			} else if !ok {
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many concurrent requests"})
				return
			} else {
				defer func() {
					if err := o.inflight.Release(context.Background(), capKey); err != nil {
						o.log.Warn("api key in-flight release failed", "tenant", d.Tenant, "err", err)
					}
				}()
			}
		}
		if o.usage != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), recordTimeout)
			if err := o.usage.Record(ctx, d.Tenant, d.Key.ID, c.Request.Method, in.Path); err != nil {
				o.log.Warn("api key usage not recorded", "tenant", d.Tenant, "err", err)
			}
			cancel()
		}
		c.Next()
	}
}

func apiKeyFrom(c *gin.Context) string {
	if k := strings.TrimSpace(c.GetHeader(headerAPIKey)); k != "" {
		return k
	}
	raw := strings.TrimSpace(c.GetHeader("Authorization"))
	if strings.HasPrefix(raw, apiKeyScheme) {
		return strings.TrimSpace(strings.TrimPrefix(raw, apiKeyScheme))
	}
	return ""
}

// TenantOf returns the tenant a guard scoped the request to.
func TenantOf(c *gin.Context) string {
	return c.GetString(TenantKey)
}
