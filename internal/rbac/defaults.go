package rbac

import "fmt"

// RoleDefaults maps each role to the permissions it grants by default.
type RoleDefaults struct {
	catalog *Catalog
	byRole  map[Role]PermissionSet
}

// NewRoleDefaults validates mapping against catalog. The administrator role may
// not be listed: its set is always the full catalog.
func NewRoleDefaults(catalog *Catalog, mapping map[Role][]string) (*RoleDefaults, error) {
	if catalog == nil {
		return nil, fmt.Errorf("rbac: role defaults need a catalog")
	}
	d := &RoleDefaults{catalog: catalog, byRole: make(map[Role]PermissionSet, len(mapping))}
	for role, names := range mapping {
		if role.IsAdministrator() {
			return nil, fmt.Errorf("rbac: administrator defaults are implicit and must not be listed")
		}
		names = normalizeNames(names)
		if unknown := catalog.Unknown(names); len(unknown) > 0 {
			return nil, fmt.Errorf("rbac: defaults for role %s: %w", role, &UnknownPermissionError{Names: unknown})
		}
		d.byRole[role] = NewPermissionSet(names...)
	}
	return d, nil
}

// DefaultsFor returns the default set of role. Administrators get the whole
// catalog; roles absent from the mapping get nothing.
func (d *RoleDefaults) DefaultsFor(role Role) PermissionSet {
	if d == nil {
		return PermissionSet{}
	}
	if role.IsAdministrator() {
		return d.catalog.All()
	}
	return d.byRole[role]
}

// Catalog returns the catalog the defaults were validated against.
func (d *RoleDefaults) Catalog() *Catalog {
	return d.catalog
}
