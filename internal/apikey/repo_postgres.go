package apikey

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// NOTE: This repository assumes every tenant database has:
//
//	CREATE TABLE api_keys (
//	  id           BIGSERIAL PRIMARY KEY,
//	  user_id      BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
//	  name         TEXT NOT NULL,
//	  key_hash     TEXT NOT NULL UNIQUE,
//	  active       BOOLEAN NOT NULL DEFAULT TRUE,
//	  revoked      BOOLEAN NOT NULL DEFAULT FALSE,
//	  last_used_at TIMESTAMPTZ,
//	  expires_at   TIMESTAMPTZ
//	);

// DBResolver returns the tenant's database. tenant.Pools satisfies it.
type DBResolver interface {
	DB(ctx context.Context, tenant string) (*sql.DB, error)
}

type PostgresStore struct {
	dbs DBResolver
}

func NewPostgresStore(dbs DBResolver) *PostgresStore {
	return &PostgresStore{dbs: dbs}
}

const keyColumns = `id, user_id, name, key_hash, active, revoked, last_used_at, expires_at`

func scanKey(row interface{ Scan(...any) error }) (Key, error) {
	var (
		k        Key
		lastUsed sql.NullTime
		expires  sql.NullTime
	)
	if err := row.Scan(
		&k.ID,
		&k.UserID,
		&k.Name,
		&k.KeyHash,
		&k.Active,
		&k.Revoked,
		&lastUsed,
		&expires,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Key{}, ErrNotFound
		}
		return Key{}, err
	}
	if lastUsed.Valid {
		k.LastUsedAt = &lastUsed.Time
	}
	if expires.Valid {
		k.ExpiresAt = &expires.Time
	}
	return k, nil
}

func (s *PostgresStore) FindByHash(ctx context.Context, tenant, hash string) (Key, error) {
	db, err := s.dbs.DB(ctx, tenant)
	if err != nil {
		return Key{}, err
	}
	k, err := scanKey(db.QueryRowContext(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE key_hash = $1`, hash))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Key{}, fmt.Errorf("find api key: %w", err)
	}
	return k, err
}

func (s *PostgresStore) Create(ctx context.Context, tenant string, k Key) (Key, error) {
	db, err := s.dbs.DB(ctx, tenant)
	if err != nil {
		return Key{}, err
	}
	var expires sql.NullTime
	if k.ExpiresAt != nil {
		expires = sql.NullTime{Time: *k.ExpiresAt, Valid: true}
	}
	created, err := scanKey(db.QueryRowContext(ctx,
		`INSERT INTO api_keys (user_id, name, key_hash, active, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+keyColumns,
		k.UserID, k.Name, k.KeyHash, k.Active, expires,
	))
	if err != nil {
		return Key{}, fmt.Errorf("create api key: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) Revoke(ctx context.Context, tenant string, id int64) (Key, error) {
	db, err := s.dbs.DB(ctx, tenant)
	if err != nil {
		return Key{}, err
	}
	k, err := scanKey(db.QueryRowContext(ctx,
		`UPDATE api_keys SET revoked = TRUE WHERE id = $1 RETURNING `+keyColumns, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Key{}, fmt.Errorf("revoke api key %d: %w", id, err)
	}
	return k, err
}

func (s *PostgresStore) TouchLastUsed(ctx context.Context, tenant string, id int64, at time.Time) error {
	db, err := s.dbs.DB(ctx, tenant)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("touch api key %d: %w", id, err)
	}
	return nil
}
