package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
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
	"tenant-auth/pkg/logger"
	"tenant-auth/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
)

const serviceName = "tenant-auth"

func main() {
	settingsPath := pflag.String("config", "", "optional YAML settings file; env vars override it")
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before reading env")
	pflag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Error("env file load failed", "path", *envFile, "err", err)
		os.Exit(1)
	}

	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*settingsPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, serviceName)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	catalog := tenant.NewCatalog(cfg)
	pools := tenant.NewPools(cfg, catalog, nil, log)
	defer func() {
		if err := pools.Close(); err != nil {
			log.Error("tenant pools close failed", "err", err)
		}
	}()

	dir := users.NewPostgresDirectory(pools)

	// Every known user starts at the initial generation; tokens minted by a
	// previous process with a higher version stay valid until they expire.
	reg := registry.New(log)
	bootCtx, cancelBoot := context.WithTimeout(rootCtx, 30*time.Second)
	res := registry.Bootstrap(bootCtx, reg, catalog.Known(), users.Lister(dir))
	cancelBoot()
	if len(res.Failed) > 0 {
		log.Warn("token registry bootstrapped with failures", "failed", res.Failed)
		go registry.RetryFailed(rootCtx, reg, res.Failed, users.Lister(dir), 30*time.Second)
	}

	auditSvc := audit.NewService(audit.NewPostgresRepo(pools))
	authManager, err := auth.NewManager(cfg.Auth, reg,
		auth.WithPrincipalLookup(httpapi.PrincipalLookup(dir, catalog)),
		auth.WithAuditor(auditSvc),
		auth.WithLogger(log),
	)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	keyStore, err := apikey.NewCachedStore(apikey.NewPostgresStore(pools), cfg.APIKeys.CacheTTL)
	if err != nil {
		log.Error("api key cache init failed", "err", err)
		os.Exit(1)
	}
	defer keyStore.Close()

	deps := routeDeps{
		keys:     apikey.NewVerifier(keyStore, log),
		inflight: cfg.APIKeys.MaxInflight,
		log:      log,
	}

	// Redis only backs API key usage and the in-flight cap.
	var rdb *redis.Client
	if cfg.RedisEnabled() {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		deps.redis = rdb
		deps.usage = apikey.NewRedisUsageLog(rdb, 0)
	}

	deps.handlers = httpapi.Handlers{
		Auth:          authManager,
		Users:         dir,
		Passwords:     password.NewHasher(password.DefaultParams, cfg.Password.HashConcurrency),
		Catalog:       catalog,
		Audit:         auditSvc,
		Keys:          keyStore,
		DBs:           pools,
		SecureCookies: cfg.App.Env != "local",
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, deps)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env,
			"tenants", len(catalog.Known()), "registry_users", reg.TotalSize())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
