package registry

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// UserLister enumerates the ids of a tenant's existing users.
type UserLister interface {
	UserIDs(ctx context.Context, tenant string) ([]int64, error)
}

// UserListerFunc adapts a function to UserLister.
type UserListerFunc func(ctx context.Context, tenant string) ([]int64, error)

func (f UserListerFunc) UserIDs(ctx context.Context, tenant string) ([]int64, error) {
	return f(ctx, tenant)
}

// bootstrapParallelism bounds concurrent tenant enumerations at startup.
const bootstrapParallelism = 8

// BootstrapResult summarizes a Bootstrap run.
type BootstrapResult struct {
	Tenants int
	Users   int
	Failed  []string
}

// Bootstrap seeds every tenant in tenants with its existing users at
// InitialVersion. A tenant whose store cannot be enumerated still gets an
// empty registry; the failure is logged and bootstrap moves on.
func Bootstrap(ctx context.Context, m *Manager, tenants []string, lister UserLister) BootstrapResult {
	m.log.Info("initializing token registry", "tenants", len(tenants))

	type outcome struct {
		tenant string
		users  int
		err    error
	}
	outcomes := make([]outcome, len(tenants))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bootstrapParallelism)
	for i, name := range tenants {
		i, name := i, name
		g.Go(func() error {
			m.EnsureTenant(name)
			ids, err := lister.UserIDs(gctx, name)
			if err != nil {
				outcomes[i] = outcome{tenant: name, err: err}
				return nil
			}
			outcomes[i] = outcome{tenant: name, users: m.seed(name, ids)}
			return nil
		})
	}
	_ = g.Wait()

	var res BootstrapResult
	for _, o := range outcomes {
		res.Tenants++
		if o.err != nil {
			res.Failed = append(res.Failed, o.tenant)
			m.log.Warn("token registry: tenant users unavailable, using empty registry",
				"tenant", o.tenant, "err", o.err)
			continue
		}
		res.Users += o.users
		m.log.Info("token registry: tenant initialized", "tenant", o.tenant, "users", o.users)
	}

	m.log.Info("token registry initialized",
		"tenants", res.Tenants, "users", res.Users, "failed", len(res.Failed))
	return res
}

// RegisterTenant seeds one tenant. Unlike Bootstrap it reports the
// enumeration error; the empty registry is kept either way. Users already
// known to the registry keep their versions.
func RegisterTenant(ctx context.Context, m *Manager, tenant string, lister UserLister) error {
	m.EnsureTenant(tenant)
	ids, err := lister.UserIDs(ctx, tenant)
	if err != nil {
		m.log.Warn("token registry: tenant users unavailable", "tenant", tenant, "err", err)
		return fmt.Errorf("register tenant %s: %w", tenant, err)
	}
	n := m.seed(tenant, ids)
	m.log.Info("token registry: tenant registered", "tenant", tenant, "users", n)
	return nil
}

// RetryFailed re-seeds the tenants Bootstrap could not enumerate, once per
// interval, until every one succeeds or ctx ends.
func RetryFailed(ctx context.Context, m *Manager, failed []string, lister UserLister, interval time.Duration) {
	pending := append([]string(nil), failed...)
	if len(pending) == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			m.log.Warn("token registry: giving up on unseeded tenants", "tenants", pending)
			return
		case <-ticker.C:
		}
		var still []string
		for _, name := range pending {
			if err := RegisterTenant(ctx, m, name, lister); err != nil {
				still = append(still, name)
			}
		}
		pending = still
	}
	m.log.Info("token registry: failed tenants recovered", "tenants", len(failed))
}
