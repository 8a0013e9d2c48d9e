package rbac

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ecclesia-app/ecclesia/internal/audit"
	"github.com/ecclesia-app/ecclesia/internal/platform/db"
)

//go:embed schema.sql
var schemaSQL string

// Migrate creates the principal and audit tables when missing.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("rbac: migrate: %w", err)
	}
	return nil
}

const principalColumns = `id, role, overrides_added, overrides_removed, version, created_at, updated_at`

// PGRepository provides PostgreSQL backed persistence.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs a repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// GetPrincipal fetches a principal by id.
func (r *PGRepository) GetPrincipal(ctx context.Context, id string) (Principal, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+principalColumns+` FROM principals WHERE id = $1`, id)
	return scanPrincipal(row)
}

// ListPrincipals returns all principals.
func (r *PGRepository) ListPrincipals(ctx context.Context) ([]Principal, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+principalColumns+` FROM principals ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var principals []Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, err
		}
		principals = append(principals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return principals, nil
}

// InsertPrincipal creates p unless a principal with its id exists.
func (r *PGRepository) InsertPrincipal(ctx context.Context, p Principal) (Principal, bool, error) {
	tag, err := r.pool.Exec(ctx, `INSERT INTO principals (`+principalColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING`, p.ID, string(p.Role), nonNil(p.Overrides.Added), nonNil(p.Overrides.Removed), p.Version, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return Principal{}, false, err
	}
	stored, err := r.GetPrincipal(ctx, p.ID)
	if err != nil {
		return Principal{}, false, err
	}
	return stored, tag.RowsAffected() == 1, nil
}

// WithTx runs fn in a repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, pgTx{tx: tx})
	})
	return mapTxError(err)
}

type pgTx struct {
	tx pgx.Tx
}

func (t pgTx) GetPrincipalForUpdate(ctx context.Context, id string) (Principal, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+principalColumns+` FROM principals WHERE id = $1 FOR UPDATE`, id)
	return scanPrincipal(row)
}

func (t pgTx) UpdatePrincipal(ctx context.Context, p Principal, expected int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE principals
SET role = $2, overrides_added = $3, overrides_removed = $4, version = $5, updated_at = $6
WHERE id = $1 AND version = $7`, p.ID, string(p.Role), nonNil(p.Overrides.Added), nonNil(p.Overrides.Removed), p.Version, p.UpdatedAt, expected)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (t pgTx) InsertAudit(ctx context.Context, rec audit.Record) error {
	return audit.InsertRecord(ctx, t.tx, rec)
}

func scanPrincipal(row pgx.Row) (Principal, error) {
	var (
		p    Principal
		role string
	)
	if err := row.Scan(&p.ID, &role, &p.Overrides.Added, &p.Overrides.Removed, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, ErrPrincipalNotFound
		}
		return Principal{}, err
	}
	p.Role = ParseRole(role)
	return p, nil
}

func mapTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "40001" {
		return ErrVersionConflict
	}
	return err
}

func nonNil(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}
