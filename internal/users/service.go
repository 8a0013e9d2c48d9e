package users

import (
	"context"

	"github.com/ecclesia-app/ecclesia/internal/rbac"
	"github.com/ecclesia-app/ecclesia/internal/shared"
)

// AccessPort is the slice of the rbac service the directory needs.
type AccessPort interface {
	ListPrincipals(ctx context.Context) ([]rbac.Principal, error)
	ProvisionPrincipal(ctx context.Context, principalID string) (rbac.Principal, bool, error)
	Resolve(ctx context.Context, principalID string) (rbac.Resolution, error)
	SetRoleAndOverrides(ctx context.Context, req rbac.SetRequest) (rbac.Principal, error)
}

// Service handles user directory logic.
type Service struct {
	access AccessPort
}

// NewService builds Service instance.
func NewService(access AccessPort) *Service {
	return &Service{access: access}
}

// ListUsers returns one page of users ordered by id.
func (s *Service) ListUsers(ctx context.Context, page, perPage int) ([]User, shared.Pagination, error) {
	principals, err := s.access.ListPrincipals(ctx)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	pg := shared.NewPagination(page, perPage, len(principals))
	lo, hi := pg.Bounds()
	out := make([]User, 0, hi-lo)
	for _, p := range principals[lo:hi] {
		out = append(out, userFromPrincipal(p))
	}
	return out, pg, nil
}

// CreateUser provisions a principal with the default role. It reports false
// when the principal already existed.
func (s *Service) CreateUser(ctx context.Context, id string) (User, bool, error) {
	p, created, err := s.access.ProvisionPrincipal(ctx, id)
	if err != nil {
		return User{}, false, err
	}
	return userFromPrincipal(p), created, nil
}

// GetAccess returns the role, overrides and effective set of a stored user.
func (s *Service) GetAccess(ctx context.Context, id string) (Access, error) {
	res, err := s.access.Resolve(ctx, id)
	if err != nil {
		return Access{}, err
	}
	if res.Principal.Version == 0 {
		return Access{}, rbac.ErrPrincipalNotFound
	}
	return accessFrom(res.Principal, res.Effective), nil
}

// UpdateAccess replaces the role and overrides of a user on behalf of actor.
func (s *Service) UpdateAccess(ctx context.Context, req rbac.SetRequest) (Access, error) {
	p, err := s.access.SetRoleAndOverrides(ctx, req)
	if err != nil {
		return Access{}, err
	}
	res, err := s.access.Resolve(ctx, p.ID)
	if err != nil {
		return Access{}, err
	}
	return accessFrom(res.Principal, res.Effective), nil
}

func accessFrom(p rbac.Principal, effective rbac.PermissionSet) Access {
	return Access{
		ID:        p.ID,
		Role:      p.Role.String(),
		Added:     append([]string{}, p.Overrides.Added...),
		Removed:   append([]string{}, p.Overrides.Removed...),
		Effective: effective.Names(),
		Version:   p.Version,
	}
}
