package main

import (
	"log/slog"

	"tenant-auth/internal/apikey"
	"tenant-auth/internal/auth"
	"tenant-auth/internal/guard"
	"tenant-auth/internal/httpapi"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type routeDeps struct {
	handlers httpapi.Handlers
	keys     guard.KeyVerifier
	usage    apikey.UsageLog
	redis    *redis.Client
	inflight int
	log      *slog.Logger
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	h := d.handlers
	def := h.Auth.DefaultTenant()
	token := auth.RequireToken(h.Auth)
	require := func(kind guard.Kind, opts ...guard.MiddlewareOption) gin.HandlerFunc {
		return guard.Require(guard.New(kind, def, d.keys), append([]guard.MiddlewareOption{guard.WithLogger(d.log)}, opts...)...)
	}

	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/readyz", h.Ready)

	// Platform (vessel) principals.
	vessel := r.Group("/vessel")
	{
		vessel.POST("/auth/register", h.VesselRegister)
		vessel.POST("/auth/login", h.VesselLogin)
		vessel.POST("/auth/refresh", h.VesselRefresh)
		vessel.POST("/auth/logout", h.Logout)
		vessel.GET("/home", token, require(guard.VesselHome), h.VesselHome)
	}

	// Default-tenant surface.
	r.GET("/me", token, require(guard.User), h.Me)
	r.GET("/admin/registry", token, require(guard.Admin), h.RegistryStats)

	// Tenant-scoped surface. Guards resolve the tenant from the first path segment.
	t := r.Group("/:tenant")
	{
		t.POST("/auth/register", h.Register)
		t.POST("/auth/login", h.Login)
		t.POST("/auth/refresh", h.Refresh)
		t.POST("/auth/logout", h.Logout)
		t.POST("/auth/logout-all", token, require(guard.TenantUser), h.LogoutAll)

		t.GET("/me", token, require(guard.TenantUser), h.Me)

		admin := t.Group("/admin")
		admin.Use(token, require(guard.TenantAdmin))
		{
			admin.POST("/users/:id/invalidate", h.AdminInvalidate)
			admin.DELETE("/users/:id", h.AdminDeleteUser)
			admin.POST("/api-keys", h.AdminCreateAPIKey)
			admin.DELETE("/api-keys/:id", h.AdminRevokeAPIKey)
		}

		api := t.Group("/api/v1")
		api.Use(require(guard.APIKey, guard.WithUsageLog(d.usage), guard.WithInflightCap(d.redis, d.inflight)))
		{
			api.GET("/ping", h.APIPing)
		}
	}
}
