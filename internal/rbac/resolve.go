package rbac

// Effective computes the effective permission set of a principal:
//
//	(defaults[role] ∪ added) \ removed
//
// Administrators short-circuit to the full catalog and ignore overrides. A name
// in both added and removed is denied. Effective depends only on its arguments.
func Effective(defaults *RoleDefaults, role Role, overrides Overrides) PermissionSet {
	if defaults == nil {
		return PermissionSet{}
	}
	if role.IsAdministrator() {
		return defaults.catalog.All()
	}
	base := defaults.DefaultsFor(role)
	out := PermissionSet{names: make(map[string]struct{}, base.Len()+len(overrides.Added))}
	for name := range base.names {
		out.names[name] = struct{}{}
	}
	for _, name := range overrides.Added {
		// Grants outside the catalog never become effective.
		if defaults.catalog.Contains(name) {
			out.names[name] = struct{}{}
		}
	}
	for _, name := range overrides.Removed {
		delete(out.names, name)
	}
	return out
}
