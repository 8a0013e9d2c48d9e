package roles

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ecclesia-app/ecclesia/internal/rbac"
)

// DefaultsPort exposes the role default table.
type DefaultsPort interface {
	DefaultsFor(role rbac.Role) rbac.PermissionSet
}

// Service builds the role matrix.
type Service struct {
	defaults DefaultsPort
	title    cases.Caser
}

// NewService builds Service instance.
func NewService(defaults DefaultsPort) *Service {
	return &Service{defaults: defaults, title: cases.Title(language.English)}
}

// ListRoles returns every assignable role with its default permissions, in
// display order.
func (s *Service) ListRoles() []Role {
	all := rbac.Roles()
	out := make([]Role, 0, len(all))
	for _, role := range all {
		out = append(out, Role{
			Name:          string(role),
			DisplayName:   s.title.String(string(role)),
			Administrator: role.IsAdministrator(),
			Default:       role == rbac.DefaultRole,
			Permissions:   s.defaults.DefaultsFor(role).Names(),
		})
	}
	return out
}
