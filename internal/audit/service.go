package audit

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidRecord indicates a record missing mandatory fields.
var ErrInvalidRecord = errors.New("audit: invalid record")

// Store persists audit records. It is append-only.
type Store interface {
	Insert(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) iter.Seq2[Record, error]
}

// Service is the audit recorder.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds the recorder over store.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Stamp assigns an id and timestamp to rec when missing and validates it.
func Stamp(rec Record, now time.Time) (Record, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.At.IsZero() {
		rec.At = now.UTC()
	}
	rec.Actor = strings.TrimSpace(rec.Actor)
	if rec.Actor == "" {
		rec.Actor = SystemActor
	}
	if !rec.Kind.Valid() {
		return Record{}, fmt.Errorf("%w: kind %q", ErrInvalidRecord, rec.Kind)
	}
	if strings.TrimSpace(rec.Target) == "" {
		return Record{}, fmt.Errorf("%w: target required", ErrInvalidRecord)
	}
	if rec.Kind == KindAccessDenied && rec.Required == "" {
		return Record{}, fmt.Errorf("%w: access denied record needs the required permission", ErrInvalidRecord)
	}
	return rec, nil
}

// Record appends rec to the trail.
func (s *Service) Record(ctx context.Context, rec Record) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("audit: store not configured")
	}
	stamped, err := Stamp(rec, s.now())
	if err != nil {
		return err
	}
	if err := s.store.Insert(ctx, stamped); err != nil {
		s.logger.Error("audit record",
			slog.String("kind", string(stamped.Kind)),
			slog.String("target", stamped.Target),
			slog.Any("error", err))
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// History yields the records of target at or after since, newest first. The
// sequence is lazy: rows are fetched as the caller ranges over it.
func (s *Service) History(ctx context.Context, target string, since time.Time, filters Filters) iter.Seq2[Record, error] {
	if s == nil || s.store == nil {
		return func(yield func(Record, error) bool) {
			yield(Record{}, fmt.Errorf("audit: store not configured"))
		}
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return func(yield func(Record, error) bool) {
			yield(Record{}, fmt.Errorf("%w: target required", ErrInvalidRecord))
		}
	}
	if filters.Limit < 0 {
		filters.Limit = 0
	}
	filters.Actor = strings.TrimSpace(filters.Actor)
	return s.store.Query(ctx, Query{Target: target, Since: since, Filters: filters})
}

// Collect drains seq into a slice, stopping at the first error.
func Collect(seq iter.Seq2[Record, error]) ([]Record, error) {
	var out []Record
	for rec, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}
