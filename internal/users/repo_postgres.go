package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tenant-auth/pkg/utils"

	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// NOTE: This repository assumes every tenant database has:
//
//	CREATE TABLE users (
//	  id            BIGSERIAL PRIMARY KEY,
//	  username      TEXT NOT NULL UNIQUE,
//	  role          TEXT NOT NULL,
//	  password_hash TEXT NOT NULL,
//	  active        BOOLEAN NOT NULL DEFAULT TRUE,
//	  created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
//	);

// DBResolver returns the tenant's database. tenant.Pools satisfies it.
type DBResolver interface {
	DB(ctx context.Context, tenant string) (*sql.DB, error)
}

type PostgresDirectory struct {
	dbs DBResolver
}

func NewPostgresDirectory(dbs DBResolver) *PostgresDirectory {
	return &PostgresDirectory{dbs: dbs}
}

const userColumns = `id, username, role, password_hash, active, created_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.Role, &u.PasswordHash, &u.Active, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

func (d *PostgresDirectory) GetByID(ctx context.Context, tenant string, id int64) (User, error) {
	db, err := d.dbs.DB(ctx, tenant)
	if err != nil {
		return User{}, err
	}
	u, err := scanUser(db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return User{}, fmt.Errorf("get user %d: %w", id, err)
	}
	return u, err
}

func (d *PostgresDirectory) GetByUsername(ctx context.Context, tenant, username string) (User, error) {
	db, err := d.dbs.DB(ctx, tenant)
	if err != nil {
		return User{}, err
	}
	u, err := scanUser(db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return User{}, fmt.Errorf("get user by username: %w", err)
	}
	return u, err
}

func (d *PostgresDirectory) All(ctx context.Context, tenant string) ([]User, error) {
	db, err := d.dbs.DB(ctx, tenant)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (d *PostgresDirectory) Create(ctx context.Context, tenant string, u User) (User, error) {
	db, err := d.dbs.DB(ctx, tenant)
	if err != nil {
		return User{}, err
	}
	created, err := scanUser(db.QueryRowContext(ctx,
		`INSERT INTO users (username, role, password_hash, active)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+userColumns,
		u.Username, u.Role, u.PasswordHash, u.Active,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return User{}, ErrExists
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

// Delete removes the user and the API keys they own in one transaction.
func (d *PostgresDirectory) Delete(ctx context.Context, tenant string, id int64) error {
	db, err := d.dbs.DB(ctx, tenant)
	if err != nil {
		return err
	}
	return utils.WithTx(ctx, db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM api_keys WHERE user_id = $1`, id); err != nil {
			return fmt.Errorf("delete api keys of user %d: %w", id, err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete user %d: %w", id, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrNotFound
		}
		return nil
	})
}
