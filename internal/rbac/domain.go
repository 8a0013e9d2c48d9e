package rbac

import (
	"sort"
	"strings"
	"time"
)

// Module is the functional area a permission belongs to.
type Module string

const (
	ModuleMembers       Module = "members"
	ModuleFinancial     Module = "financial"
	ModuleEvents        Module = "events"
	ModuleAnnouncements Module = "announcements"
	ModuleNotifications Module = "notifications"
	ModuleUsers         Module = "users"
	ModuleSettings      Module = "settings"
	ModuleReports       Module = "reports"
)

var knownModules = map[Module]struct{}{
	ModuleMembers: {}, ModuleFinancial: {}, ModuleEvents: {}, ModuleAnnouncements: {},
	ModuleNotifications: {}, ModuleUsers: {}, ModuleSettings: {}, ModuleReports: {},
}

// Action is the kind of operation a permission authorises.
type Action string

const (
	ActionView        Action = "view"
	ActionCreate      Action = "create"
	ActionEdit        Action = "edit"
	ActionDelete      Action = "delete"
	ActionExport      Action = "export"
	ActionPermissions Action = "permissions"
	ActionAudit       Action = "audit"
)

var knownActions = map[Action]struct{}{
	ActionView: {}, ActionCreate: {}, ActionEdit: {}, ActionDelete: {},
	ActionExport: {}, ActionPermissions: {}, ActionAudit: {},
}

// Permission represents an atomic capability.
type Permission struct {
	Name        string `json:"name"`
	Module      Module `json:"module"`
	Action      Action `json:"action"`
	Description string `json:"description"`
}

// PermissionName builds the wire name for a module/action pair.
func PermissionName(module Module, action Action) string {
	return string(module) + "." + string(action)
}

// Role is one of the closed set of principal roles.
type Role string

const (
	// RoleUnknown is the fallback for empty or unrecognised role values. It
	// resolves to no permissions.
	RoleUnknown       Role = ""
	RoleAdministrator Role = "administrator"
	RolePastor        Role = "pastor"
	RoleTreasurer     Role = "treasurer"
	RoleLeader        Role = "leader"
	RoleVolunteer     Role = "volunteer"
	RoleMember        Role = "member"
)

// DefaultRole is assigned to principals on first provisioning.
const DefaultRole = RoleMember

// Roles lists the assignable roles in display order.
func Roles() []Role {
	return []Role{RoleAdministrator, RolePastor, RoleTreasurer, RoleLeader, RoleVolunteer, RoleMember}
}

// ParseRole maps a stored or submitted value onto the closed role set.
// Anything unrecognised becomes RoleUnknown.
func ParseRole(raw string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAdministrator:
		return RoleAdministrator
	case RolePastor:
		return RolePastor
	case RoleTreasurer:
		return RoleTreasurer
	case RoleLeader:
		return RoleLeader
	case RoleVolunteer:
		return RoleVolunteer
	case RoleMember:
		return RoleMember
	default:
		return RoleUnknown
	}
}

// Valid reports whether r is one of the assignable roles.
func (r Role) Valid() bool {
	return r != RoleUnknown && ParseRole(string(r)) == r
}

// IsAdministrator reports whether r carries the implicit wildcard.
func (r Role) IsAdministrator() bool {
	return r == RoleAdministrator
}

// String returns the wire value, "unknown" for RoleUnknown.
func (r Role) String() string {
	if r == RoleUnknown {
		return "unknown"
	}
	return string(r)
}

// Overrides are explicit per-principal grants and revocations on top of the
// role defaults.
type Overrides struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// Conflicts returns names present in both Added and Removed, sorted.
func (o Overrides) Conflicts() []string {
	added := make(map[string]struct{}, len(o.Added))
	for _, name := range o.Added {
		added[name] = struct{}{}
	}
	seen := make(map[string]struct{})
	var out []string
	for _, name := range o.Removed {
		if _, ok := added[name]; !ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Normalized returns a copy with trimmed, lower-cased, deduplicated and sorted
// names.
func (o Overrides) Normalized() Overrides {
	return Overrides{Added: normalizeNames(o.Added), Removed: normalizeNames(o.Removed)}
}

// Principal is a user of the system as seen by the authorization core.
type Principal struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Overrides Overrides `json:"overrides"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PermissionSet is an immutable set of permission names.
type PermissionSet struct {
	names map[string]struct{}
}

// NewPermissionSet builds a set from names.
func NewPermissionSet(names ...string) PermissionSet {
	set := PermissionSet{names: make(map[string]struct{}, len(names))}
	for _, name := range names {
		set.names[name] = struct{}{}
	}
	return set
}

// Has reports whether name is in the set. The zero value holds nothing.
func (s PermissionSet) Has(name string) bool {
	_, ok := s.names[name]
	return ok
}

// Len returns the number of names in the set.
func (s PermissionSet) Len() int {
	return len(s.names)
}

// Names returns the members sorted.
func (s PermissionSet) Names() []string {
	out := make([]string, 0, len(s.names))
	for name := range s.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Equal reports whether both sets hold the same names.
func (s PermissionSet) Equal(other PermissionSet) bool {
	if s.Len() != other.Len() {
		return false
	}
	for name := range s.names {
		if !other.Has(name) {
			return false
		}
	}
	return true
}

// Missing returns names in s that other lacks, sorted.
func (s PermissionSet) Missing(other PermissionSet) []string {
	var out []string
	for name := range s.names {
		if !other.Has(name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func normalizeNames(names []string) []string {
	unique := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.TrimSpace(strings.ToLower(n))
		if n == "" {
			continue
		}
		unique[n] = struct{}{}
	}
	normalized := make([]string, 0, len(unique))
	for n := range unique {
		normalized = append(normalized, n)
	}
	sort.Strings(normalized)
	return normalized
}
