package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Execer is satisfied by *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const insertRecordSQL = `INSERT INTO permission_audit (id, occurred_at, actor_id, target_id, kind, required, before, after)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)`

// InsertRecord writes one stamped record through db. Callers running inside a
// transaction pass the pgx.Tx so the record commits with their change.
func InsertRecord(ctx context.Context, db Execer, rec Record) error {
	before, err := json.Marshal(rec.Before)
	if err != nil {
		return fmt.Errorf("audit: encode before: %w", err)
	}
	after, err := json.Marshal(rec.After)
	if err != nil {
		return fmt.Errorf("audit: encode after: %w", err)
	}
	_, err = db.Exec(ctx, insertRecordSQL, rec.ID, rec.At, rec.Actor, rec.Target, string(rec.Kind), rec.Required, before, after)
	return err
}

// PGStore provides PostgreSQL backed persistence.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a store over pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Insert appends rec.
func (s *PGStore) Insert(ctx context.Context, rec Record) error {
	return InsertRecord(ctx, s.pool, rec)
}

const historySQL = `SELECT id, occurred_at, actor_id, target_id, kind, COALESCE(required, ''), before, after
FROM permission_audit
WHERE target_id = $1
  AND ($2::timestamptz IS NULL OR occurred_at >= $2)
  AND ($3::text = '' OR kind = $3)
  AND ($4::text = '' OR actor_id = $4)
ORDER BY occurred_at DESC, id DESC
LIMIT $5`

// Query streams matching records newest first.
func (s *PGStore) Query(ctx context.Context, q Query) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		var since any
		if !q.Since.IsZero() {
			since = q.Since
		}
		var limit any
		if q.Limit > 0 {
			limit = q.Limit
		}
		rows, err := s.pool.Query(ctx, historySQL, q.Target, since, string(q.Kind), q.Actor, limit)
		if err != nil {
			yield(Record{}, err)
			return
		}
		defer rows.Close()
		for rows.Next() {
			rec, err := scanRecord(rows)
			if !yield(rec, err) || err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Record{}, err)
		}
	}
}

// LatestPerTarget returns the newest non-denial record of every target.
func (s *PGStore) LatestPerTarget(ctx context.Context) (map[string]Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT ON (target_id) id, occurred_at, actor_id, target_id, kind, COALESCE(required, ''), before, after
FROM permission_audit
WHERE kind <> $1
ORDER BY target_id, occurred_at DESC, id DESC`, string(KindAccessDenied))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]Record)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out[rec.Target] = rec
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec    Record
		kind   string
		before []byte
		after  []byte
	)
	if err := row.Scan(&rec.ID, &rec.At, &rec.Actor, &rec.Target, &kind, &rec.Required, &before, &after); err != nil {
		return Record{}, err
	}
	rec.Kind = Kind(kind)
	if len(before) > 0 {
		if err := json.Unmarshal(before, &rec.Before); err != nil {
			return Record{}, fmt.Errorf("audit: decode before: %w", err)
		}
	}
	if len(after) > 0 {
		if err := json.Unmarshal(after, &rec.After); err != nil {
			return Record{}, fmt.Errorf("audit: decode after: %w", err)
		}
	}
	return rec, nil
}
