// Package rbactest provides an in-memory principal and audit backend for
// tests. It honours the transactional contract of rbac.Repository: a failing
// callback leaves both principals and audit records untouched.
package rbactest

import (
	"context"
	"errors"
	"iter"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ecclesia-app/ecclesia/internal/audit"
	"github.com/ecclesia-app/ecclesia/internal/rbac"
)

// ErrInjected is returned by the failure hooks.
var ErrInjected = errors.New("rbactest: injected failure")

// Store implements rbac.Repository and audit.Store.
type Store struct {
	mu         sync.Mutex
	principals map[string]rbac.Principal
	records    []audit.Record

	// FailGet makes GetPrincipal fail with the given error.
	FailGet error
	// GetDelay blocks GetPrincipal until the delay passes or ctx ends.
	GetDelay time.Duration
	// FailAuditInsert makes every audit write fail.
	FailAuditInsert bool
	// FailUpdate makes the principal update inside a transaction fail.
	FailUpdate bool
}

// NewStore returns an empty store seeded with principals.
func NewStore(principals ...rbac.Principal) *Store {
	s := &Store{principals: make(map[string]rbac.Principal)}
	for _, p := range principals {
		if p.Version == 0 {
			p.Version = 1
		}
		s.principals[p.ID] = clonePrincipal(p)
	}
	return s
}

// GetPrincipal implements rbac.Repository.
func (s *Store) GetPrincipal(ctx context.Context, id string) (rbac.Principal, error) {
	if s.GetDelay > 0 {
		select {
		case <-time.After(s.GetDelay):
		case <-ctx.Done():
			return rbac.Principal{}, ctx.Err()
		}
	}
	if s.FailGet != nil {
		return rbac.Principal{}, s.FailGet
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return rbac.Principal{}, rbac.ErrPrincipalNotFound
	}
	return clonePrincipal(p), nil
}

// ListPrincipals implements rbac.Repository.
func (s *Store) ListPrincipals(ctx context.Context) ([]rbac.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]rbac.Principal, 0, len(s.principals))
	for _, p := range s.principals {
		out = append(out, clonePrincipal(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// InsertPrincipal implements rbac.Repository.
func (s *Store) InsertPrincipal(ctx context.Context, p rbac.Principal) (rbac.Principal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.principals[p.ID]; ok {
		return clonePrincipal(existing), false, nil
	}
	s.principals[p.ID] = clonePrincipal(p)
	return clonePrincipal(p), true, nil
}

// WithTx implements rbac.Repository. Writes are staged and applied only when
// fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, rbac.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{store: s, staged: make(map[string]rbac.Principal)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for id, p := range tx.staged {
		s.principals[id] = p
	}
	s.records = append(s.records, tx.records...)
	return nil
}

// Insert implements audit.Store.
func (s *Store) Insert(ctx context.Context, rec audit.Record) error {
	if s.FailAuditInsert {
		return ErrInjected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Query implements audit.Store, newest first.
func (s *Store) Query(ctx context.Context, q audit.Query) iter.Seq2[audit.Record, error] {
	return func(yield func(audit.Record, error) bool) {
		n := 0
		for _, rec := range s.newestFirst() {
			if rec.Target != q.Target {
				continue
			}
			if !q.Since.IsZero() && rec.At.Before(q.Since) {
				continue
			}
			if q.Kind != "" && rec.Kind != q.Kind {
				continue
			}
			if q.Actor != "" && rec.Actor != q.Actor {
				continue
			}
			if q.Limit > 0 && n >= q.Limit {
				return
			}
			n++
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// LatestPerTarget mirrors the reconcile query of the Postgres store.
func (s *Store) LatestPerTarget(ctx context.Context) (map[string]audit.Record, error) {
	out := make(map[string]audit.Record)
	for _, rec := range s.newestFirst() {
		if rec.Kind == audit.KindAccessDenied {
			continue
		}
		if _, ok := out[rec.Target]; !ok {
			out[rec.Target] = rec
		}
	}
	return out, nil
}

// Records returns every stored audit record in insertion order.
func (s *Store) Records() []audit.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.records)
}

// Principal returns the stored principal and whether it exists.
func (s *Store) Principal(id string) (rbac.Principal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	return clonePrincipal(p), ok
}

// Put overwrites a principal without auditing, simulating out-of-band edits.
func (s *Store) Put(p rbac.Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.principals[p.ID] = clonePrincipal(p)
}

func (s *Store) newestFirst() []audit.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Clone(s.records)
	slices.Reverse(out)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	return out
}

type memTx struct {
	store   *Store
	staged  map[string]rbac.Principal
	records []audit.Record
}

func (t *memTx) GetPrincipalForUpdate(ctx context.Context, id string) (rbac.Principal, error) {
	if p, ok := t.staged[id]; ok {
		return clonePrincipal(p), nil
	}
	p, ok := t.store.principals[id]
	if !ok {
		return rbac.Principal{}, rbac.ErrPrincipalNotFound
	}
	return clonePrincipal(p), nil
}

func (t *memTx) UpdatePrincipal(ctx context.Context, p rbac.Principal, expected int64) error {
	if t.store.FailUpdate {
		return ErrInjected
	}
	current, err := t.GetPrincipalForUpdate(ctx, p.ID)
	if err != nil {
		return err
	}
	if current.Version != expected {
		return rbac.ErrVersionConflict
	}
	t.staged[p.ID] = clonePrincipal(p)
	return nil
}

func (t *memTx) InsertAudit(ctx context.Context, rec audit.Record) error {
	if t.store.FailAuditInsert {
		return ErrInjected
	}
	t.records = append(t.records, rec)
	return nil
}

func clonePrincipal(p rbac.Principal) rbac.Principal {
	p.Overrides.Added = slices.Clone(p.Overrides.Added)
	p.Overrides.Removed = slices.Clone(p.Overrides.Removed)
	return p
}
