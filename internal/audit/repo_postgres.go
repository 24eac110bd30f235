package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// NOTE: This repository assumes every tenant database has an INSERT-only
// audit_events table:
//
//	CREATE TABLE audit_events (
//	  id            UUID PRIMARY KEY,
//	  type          TEXT NOT NULL,
//	  user_id       BIGINT NOT NULL,
//	  actor_user_id BIGINT,
//	  version       BIGINT,
//	  message       TEXT,
//	  metadata      JSONB,
//	  created_at    TIMESTAMPTZ NOT NULL
//	);

// DBResolver returns the tenant's database. tenant.Pools satisfies it.
type DBResolver interface {
	DB(ctx context.Context, tenant string) (*sql.DB, error)
}

// PostgresRepo writes each event to its tenant's own database.
type PostgresRepo struct {
	dbs DBResolver
}

func NewPostgresRepo(dbs DBResolver) *PostgresRepo { return &PostgresRepo{dbs: dbs} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	db, err := r.dbs.DB(ctx, e.Tenant)
	if err != nil {
		return err
	}

	const q = `
INSERT INTO audit_events (id, type, user_id, actor_user_id, version, message, metadata, created_at)
VALUES ($1, $2, $3, NULLIF($4, 0), $5, $6, NULLIF($7, '')::jsonb, $8)
`
	if _, err := db.ExecContext(ctx, q,
		e.ID,
		string(e.Type),
		e.UserID,
		e.ActorUserID,
		int64(e.Version),
		e.Message,
		e.Metadata,
		e.CreatedAt,
	); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}
