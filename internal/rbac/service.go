package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ecclesia-app/ecclesia/internal/audit"
	"github.com/ecclesia-app/ecclesia/internal/rbac/mirror"
)

// Repository provides access to persisted principals.
type Repository interface {
	GetPrincipal(ctx context.Context, id string) (Principal, error)
	ListPrincipals(ctx context.Context) ([]Principal, error)
	// InsertPrincipal stores p unless the id exists; it reports whether a row
	// was created and returns the stored principal either way.
	InsertPrincipal(ctx context.Context, p Principal) (Principal, bool, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository is the transactional view used by mutations.
type TxRepository interface {
	GetPrincipalForUpdate(ctx context.Context, id string) (Principal, error)
	// UpdatePrincipal writes p if the stored version still equals expected,
	// otherwise it returns ErrVersionConflict.
	UpdatePrincipal(ctx context.Context, p Principal, expected int64) error
	InsertAudit(ctx context.Context, rec audit.Record) error
}

// AuditRecorder appends audit records outside a mutation transaction.
type AuditRecorder interface {
	Record(ctx context.Context, rec audit.Record) error
}

// DecisionObserver receives every authorization outcome.
type DecisionObserver interface {
	ObserveDecision(permission string, allowed bool)
}

// ServiceOptions tunes the Service.
type ServiceOptions struct {
	// StorageTimeout bounds the principal lookup of a single decision.
	StorageTimeout time.Duration
	Observer       DecisionObserver
}

// Service orchestrates RBAC operations.
type Service struct {
	repo     Repository
	catalog  *Catalog
	defaults *RoleDefaults
	recorder AuditRecorder
	observer DecisionObserver
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, cfg Config, recorder AuditRecorder, logger *slog.Logger, opts ServiceOptions) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.StorageTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Service{
		repo:     repo,
		catalog:  cfg.Catalog,
		defaults: cfg.Defaults,
		recorder: recorder,
		observer: opts.Observer,
		logger:   logger,
		timeout:  timeout,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Catalog exposes the permission catalog.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// Defaults exposes the role default table.
func (s *Service) Defaults() *RoleDefaults {
	return s.defaults
}

// ListPermissions returns the catalog ordered by module and action.
func (s *Service) ListPermissions() []Permission {
	return s.catalog.List()
}

// Resolution is a point-in-time authorization view of one principal.
type Resolution struct {
	Principal Principal
	Effective PermissionSet
}

// Resolve loads the principal and computes its effective permissions. An
// unknown principal resolves to RoleUnknown with no permissions.
func (s *Service) Resolve(ctx context.Context, principalID string) (Resolution, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return Resolution{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	p, err := s.repo.GetPrincipal(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return Resolution{Principal: Principal{ID: principalID}}, nil
		}
		return Resolution{}, storageError("get principal", err)
	}
	if conflicts := p.Overrides.Conflicts(); len(conflicts) > 0 {
		s.logger.Warn("rbac override conflict, removal wins",
			slog.String("principal", p.ID),
			slog.Any("permissions", conflicts))
	}
	return Resolution{Principal: p, Effective: Effective(s.defaults, p.Role, p.Overrides)}, nil
}

// EffectivePermissions returns the current effective set of a principal.
func (s *Service) EffectivePermissions(ctx context.Context, principalID string) (PermissionSet, error) {
	res, err := s.Resolve(ctx, principalID)
	if err != nil {
		return PermissionSet{}, err
	}
	return res.Effective, nil
}

// HasPermission is the guard decision for callers outside HTTP. A denial
// reports false with a nil error and is audited like a guarded request.
func (s *Service) HasPermission(ctx context.Context, principalID, permission string) (bool, error) {
	_, err := s.Authorize(ctx, principalID, permission, AuthorizeOptions{})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrPermissionDenied):
		return false, nil
	default:
		return false, err
	}
}

// AuthorizeOptions tunes a single Authorize call.
type AuthorizeOptions struct {
	// SkipDenyAudit suppresses the access-denied record.
	SkipDenyAudit bool
}

// Authorize is the enforcement decision shared by the HTTP guard and non-HTTP
// callers. It returns nil when allowed, a *DeniedError when denied, an error
// wrapping ErrInternalConfiguration when permission is not in the catalog, and
// a storage error when the principal cannot be resolved.
func (s *Service) Authorize(ctx context.Context, principalID, permission string, opts AuthorizeOptions) (Resolution, error) {
	perm, err := s.catalog.Get(permission)
	if err != nil {
		s.logger.Error("rbac guard references unknown permission",
			slog.String("principal", principalID),
			slog.String("required", permission),
			slog.Time("at", s.now()))
		return Resolution{}, fmt.Errorf("%w: %w", ErrInternalConfiguration, err)
	}
	res, err := s.Resolve(ctx, principalID)
	if err != nil {
		s.logger.Error("rbac resolve failed, denying",
			slog.String("principal", principalID),
			slog.String("required", perm.Name),
			slog.Time("at", s.now()),
			slog.Any("error", err))
		s.observe(perm.Name, false)
		return Resolution{}, err
	}
	if res.Effective.Has(perm.Name) {
		s.observe(perm.Name, true)
		return res, nil
	}
	s.observe(perm.Name, false)
	s.logger.Info("rbac access denied",
		slog.String("principal", principalID),
		slog.String("role", res.Principal.Role.String()),
		slog.String("required", perm.Name))
	if !opts.SkipDenyAudit {
		s.recordDenial(ctx, principalID, perm.Name, res)
	}
	return res, &DeniedError{Required: perm.Name, Role: res.Principal.Role}
}

func (s *Service) recordDenial(ctx context.Context, principalID, required string, res Resolution) {
	if s.recorder == nil || strings.TrimSpace(principalID) == "" {
		return
	}
	snap := snapshot(res.Principal, res.Effective)
	rec := audit.Record{
		Actor:    principalID,
		Target:   principalID,
		Kind:     audit.KindAccessDenied,
		Required: required,
		Before:   snap,
		After:    snap,
	}
	if err := s.recorder.Record(ctx, rec); err != nil {
		s.logger.Error("rbac record denial",
			slog.String("principal", principalID),
			slog.String("required", required),
			slog.Any("error", err))
	}
}

func (s *Service) observe(permission string, allowed bool) {
	if s.observer != nil {
		s.observer.ObserveDecision(permission, allowed)
	}
}

// GetPrincipal returns the stored principal.
func (s *Service) GetPrincipal(ctx context.Context, principalID string) (Principal, error) {
	p, err := s.repo.GetPrincipal(ctx, strings.TrimSpace(principalID))
	if err != nil {
		return Principal{}, storageError("get principal", err)
	}
	return p, nil
}

// ListPrincipals returns every stored principal ordered by id.
func (s *Service) ListPrincipals(ctx context.Context) ([]Principal, error) {
	ps, err := s.repo.ListPrincipals(ctx)
	if err != nil {
		return nil, storageError("list principals", err)
	}
	return ps, nil
}

// EnsurePrincipal provisions principalID with the default role and no
// overrides. Existing principals are returned untouched.
func (s *Service) EnsurePrincipal(ctx context.Context, principalID string) (Principal, error) {
	p, _, err := s.ProvisionPrincipal(ctx, principalID)
	return p, err
}

// ProvisionPrincipal is EnsurePrincipal that also reports whether the
// principal was created by this call.
func (s *Service) ProvisionPrincipal(ctx context.Context, principalID string) (Principal, bool, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return Principal{}, false, &ValidationError{Reason: "principal id required"}
	}
	now := s.now()
	p, created, err := s.repo.InsertPrincipal(ctx, Principal{
		ID:        principalID,
		Role:      DefaultRole,
		Overrides: Overrides{Added: []string{}, Removed: []string{}},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return Principal{}, false, storageError("insert principal", err)
	}
	if created {
		s.logger.Info("rbac principal provisioned", slog.String("principal", principalID), slog.String("role", string(DefaultRole)))
	}
	return p, created, nil
}

// SetRequest describes a role and override replacement.
type SetRequest struct {
	Actor       string
	PrincipalID string
	Role        Role
	Added       []string
	Removed     []string
	// ExpectedVersion, when positive, must match the stored version.
	ExpectedVersion int64
}

// SetRoleAndOverrides atomically replaces a principal's role and overrides and
// records exactly one audit entry in the same transaction.
func (s *Service) SetRoleAndOverrides(ctx context.Context, req SetRequest) (Principal, error) {
	principalID := strings.TrimSpace(req.PrincipalID)
	if principalID == "" {
		return Principal{}, &ValidationError{Reason: "principal id required"}
	}
	if !req.Role.Valid() {
		return Principal{}, &ValidationError{Reason: fmt.Sprintf("unknown role %q", string(req.Role))}
	}
	overrides := Overrides{Added: req.Added, Removed: req.Removed}.Normalized()
	if conflicts := overrides.Conflicts(); len(conflicts) > 0 {
		return Principal{}, &ValidationError{Conflicts: conflicts}
	}
	var unknown []string
	unknown = append(unknown, s.catalog.Unknown(overrides.Added)...)
	unknown = append(unknown, s.catalog.Unknown(overrides.Removed)...)
	if len(unknown) > 0 {
		s.logger.Error("rbac mutation names unknown permissions",
			slog.String("actor", req.Actor),
			slog.String("principal", principalID),
			slog.Any("permissions", unknown))
		return Principal{}, &UnknownPermissionError{Names: unknown}
	}

	var updated Principal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetPrincipalForUpdate(ctx, principalID)
		if err != nil {
			return err
		}
		if req.ExpectedVersion > 0 && req.ExpectedVersion != current.Version {
			return ErrVersionConflict
		}
		next := current
		next.Role = req.Role
		next.Overrides = overrides
		next.Version = current.Version + 1
		next.UpdatedAt = s.now()

		beforeSet := Effective(s.defaults, current.Role, current.Overrides)
		afterSet := Effective(s.defaults, next.Role, next.Overrides)
		rec, err := audit.Stamp(audit.Record{
			Actor:  req.Actor,
			Target: principalID,
			Kind:   changeKind(current, next, beforeSet, afterSet),
			Before: snapshot(current, beforeSet),
			After:  snapshot(next, afterSet),
		}, next.UpdatedAt)
		if err != nil {
			return err
		}
		if err := tx.InsertAudit(ctx, rec); err != nil {
			return fmt.Errorf("%w: insert audit: %w", ErrStorage, err)
		}
		if err := tx.UpdatePrincipal(ctx, next, current.Version); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		err = storageError("set role and overrides", err)
		if errors.Is(err, ErrStorage) {
			s.logger.Error("rbac set role and overrides",
				slog.String("actor", req.Actor),
				slog.String("principal", principalID),
				slog.Any("error", err))
		}
		return Principal{}, err
	}
	s.logger.Info("rbac principal access changed",
		slog.String("actor", req.Actor),
		slog.String("principal", principalID),
		slog.String("role", string(updated.Role)),
		slog.Int64("version", updated.Version))
	return updated, nil
}

// MirrorPayload builds the client mirror payload for a principal. The
// administrator's defaults carry the full catalog so the mirror never needs it.
func (s *Service) MirrorPayload(ctx context.Context, principalID string) (mirror.Payload, error) {
	res, err := s.Resolve(ctx, principalID)
	if err != nil {
		return mirror.Payload{}, err
	}
	p := res.Principal
	return mirror.Payload{
		Role:     p.Role.String(),
		Admin:    p.Role.IsAdministrator(),
		Defaults: s.defaults.DefaultsFor(p.Role).Names(),
		Added:    s.catalogOnly(p.Overrides.Added),
		Removed:  append([]string{}, p.Overrides.Removed...),
		Version:  p.Version,
		IssuedAt: s.now(),
	}, nil
}

func (s *Service) catalogOnly(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if s.catalog.Contains(n) {
			out = append(out, n)
		}
	}
	return out
}

func changeKind(before, after Principal, beforeSet, afterSet PermissionSet) audit.Kind {
	if before.Role != after.Role {
		return audit.KindRoleChange
	}
	if len(beforeSet.Missing(afterSet)) > 0 {
		return audit.KindPermissionRevoke
	}
	return audit.KindPermissionGrant
}

func snapshot(p Principal, effective PermissionSet) audit.Snapshot {
	return audit.Snapshot{
		Role:      p.Role.String(),
		Added:     append([]string{}, p.Overrides.Added...),
		Removed:   append([]string{}, p.Overrides.Removed...),
		Effective: effective.Names(),
		Version:   p.Version,
	}
}
