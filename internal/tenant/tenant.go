// Package tenant resolves tenant names to their backing Postgres databases.
// Every tenant owns one database named after it; the vessel tenant is reached
// through its own URL.
package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tenant-auth/internal/config"
	"tenant-auth/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const pingTimeout = 2 * time.Second

var ErrUnknownTenant = errors.New("tenant: unknown tenant")

// Catalog is the set of tenants this process serves.
type Catalog struct {
	def    string
	vessel string
	known  []string
	index  map[string]struct{}
}

func NewCatalog(cfg config.Config) *Catalog {
	c := &Catalog{
		def:    cfg.Tenants.Default,
		vessel: cfg.VesselTenant(),
		index:  make(map[string]struct{}),
	}
	for _, name := range cfg.KnownTenants() {
		c.known = append(c.known, name)
		c.index[name] = struct{}{}
	}
	return c
}

func (c *Catalog) Default() string { return c.def }

// Vessel is the platform-level tenant, "" when not configured.
func (c *Catalog) Vessel() string { return c.vessel }

func (c *Catalog) Known() []string {
	out := make([]string, len(c.known))
	copy(out, c.known)
	return out
}

func (c *Catalog) Exists(name string) bool {
	_, ok := c.index[name]
	return ok
}

// OpenFunc opens a pool for dsn. utils.OpenPostgres in production.
type OpenFunc func(ctx context.Context, driverName, dsn string, pool utils.PostgresPoolConfig) (*sql.DB, error)

// Pools lazily opens one *sql.DB per tenant and caches it. Opening happens
// outside the lock, so a tenant whose database is slow or down only delays
// its own callers.
type Pools struct {
	catalog *Catalog
	dsn     func(tenant string) string
	open    OpenFunc
	pool    utils.PostgresPoolConfig
	log     *slog.Logger
	opening singleflight.Group

	mu     sync.Mutex
	dbs    map[string]*sql.DB
	closed bool
}

func NewPools(cfg config.Config, catalog *Catalog, open OpenFunc, log *slog.Logger) *Pools {
	if open == nil {
		open = utils.OpenPostgres
	}
	if log == nil {
		log = slog.Default()
	}
	vesselURL := cfg.Tenants.VesselDatabaseURL
	return &Pools{
		catalog: catalog,
		dsn: func(tenant string) string {
			if tenant == catalog.Vessel() && vesselURL != "" {
				return vesselURL
			}
			return cfg.PostgresDSN(tenant)
		},
		open: open,
		pool: utils.PostgresPoolConfig{
			MaxOpenConns:    cfg.DB.MaxOpenConns,
			MaxIdleConns:    cfg.DB.MaxIdleConns,
			ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.DB.ConnMaxIdleTime,
		},
		log: log,
		dbs: make(map[string]*sql.DB),
	}
}

// DB returns the tenant's pool, opening it on first use. Concurrent first
// callers for one tenant share a single open.
func (p *Pools) DB(ctx context.Context, tenant string) (*sql.DB, error) {
	if !p.catalog.Exists(tenant) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTenant, tenant)
	}
	if db, ok := p.cached(tenant); ok {
		return db, nil
	}

	v, err, _ := p.opening.Do(tenant, func() (any, error) {
		if db, ok := p.cached(tenant); ok {
			return db, nil
		}
		// Shared by every waiter, so one caller giving up must not fail the rest.
		// OpenPostgres bounds the dial with its own ping timeout.
		db, err := p.open(context.WithoutCancel(ctx), utils.PgxDriver, p.dsn(tenant), p.pool)
		if err != nil {
			return nil, fmt.Errorf("open tenant %s: %w", tenant, err)
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			_ = db.Close()
			return nil, fmt.Errorf("open tenant %s: pools closed", tenant)
		}
		p.dbs[tenant] = db
		p.log.Info("tenant database opened", "tenant", tenant)
		return db, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sql.DB), nil
}

func (p *Pools) cached(tenant string) (*sql.DB, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	db, ok := p.dbs[tenant]
	return db, ok
}

// Ping checks every pool opened so far and returns the failures by tenant.
// Tenants nobody has used yet are not dialed.
func (p *Pools) Ping(ctx context.Context) map[string]error {
	p.mu.Lock()
	open := make(map[string]*sql.DB, len(p.dbs))
	for name, db := range p.dbs {
		open[name] = db
	}
	p.mu.Unlock()

	var (
		mu     sync.Mutex
		failed = make(map[string]error)
	)
	var g errgroup.Group
	for name, db := range open {
		name, db := name, db
		g.Go(func() error {
			if err := utils.HealthCheck(ctx, db, pingTimeout); err != nil {
				mu.Lock()
				failed[name] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

// Close closes every opened pool.
func (p *Pools) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	var errs []error
	for name, db := range p.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close tenant %s: %w", name, err))
		}
		delete(p.dbs, name)
	}
	return errors.Join(errs...)
}
