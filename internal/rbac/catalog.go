package rbac

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Catalog is the immutable universe of permissions, loaded once at start-up.
type Catalog struct {
	ordered []Permission
	byName  map[string]Permission
}

// NewCatalog validates perms and builds a Catalog. Two entries sharing a name
// fail with ErrDuplicatePermission.
func NewCatalog(perms []Permission) (*Catalog, error) {
	c := &Catalog{
		ordered: make([]Permission, 0, len(perms)),
		byName:  make(map[string]Permission, len(perms)),
	}
	for _, p := range perms {
		p.Name = strings.TrimSpace(strings.ToLower(p.Name))
		if _, ok := knownModules[p.Module]; !ok {
			return nil, fmt.Errorf("rbac: permission %q: unknown module %q", p.Name, p.Module)
		}
		if _, ok := knownActions[p.Action]; !ok {
			return nil, fmt.Errorf("rbac: permission %q: unknown action %q", p.Name, p.Action)
		}
		if p.Name != PermissionName(p.Module, p.Action) {
			return nil, fmt.Errorf("rbac: permission %q does not match %s", p.Name, PermissionName(p.Module, p.Action))
		}
		if _, dup := c.byName[p.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePermission, p.Name)
		}
		c.byName[p.Name] = p
		c.ordered = append(c.ordered, p)
	}
	sort.SliceStable(c.ordered, func(i, j int) bool {
		if c.ordered[i].Module != c.ordered[j].Module {
			return c.ordered[i].Module < c.ordered[j].Module
		}
		return c.ordered[i].Action < c.ordered[j].Action
	})
	return c, nil
}

// List returns the permissions ordered by module then action.
func (c *Catalog) List() []Permission {
	out := make([]Permission, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Get looks a permission up by name.
func (c *Catalog) Get(name string) (Permission, error) {
	p, ok := c.byName[strings.TrimSpace(strings.ToLower(name))]
	if !ok {
		return Permission{}, &UnknownPermissionError{Names: []string{name}}
	}
	return p, nil
}

// Contains reports whether name is a catalog entry.
func (c *Catalog) Contains(name string) bool {
	_, ok := c.byName[name]
	return ok
}

// All returns every catalog name as a set.
func (c *Catalog) All() PermissionSet {
	set := PermissionSet{names: make(map[string]struct{}, len(c.byName))}
	for name := range c.byName {
		set.names[name] = struct{}{}
	}
	return set
}

// Unknown returns the names not present in the catalog, sorted.
func (c *Catalog) Unknown(names []string) []string {
	var out []string
	for _, n := range names {
		if !c.Contains(n) {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

type catalogDocument struct {
	Permissions []struct {
		Name        string `yaml:"name"`
		Module      string `yaml:"module"`
		Action      string `yaml:"action"`
		Description string `yaml:"description"`
	} `yaml:"permissions"`
	Roles map[string][]string `yaml:"roles"`
}

// Config bundles the catalog with the role default table built on it.
type Config struct {
	Catalog  *Catalog
	Defaults *RoleDefaults
}

// LoadDefaultConfig parses the embedded catalog.
func LoadDefaultConfig() (Config, error) {
	return ParseConfig(strings.NewReader(string(defaultCatalogYAML)))
}

// LoadConfigFile parses a catalog file, falling back to the embedded one when
// path is empty.
func LoadConfigFile(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return LoadDefaultConfig()
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("rbac: open catalog: %w", err)
	}
	defer f.Close()
	return ParseConfig(f)
}

// ParseConfig decodes a YAML catalog document and validates it.
func ParseConfig(r io.Reader) (Config, error) {
	var doc catalogDocument
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return Config{}, fmt.Errorf("rbac: decode catalog: %w", err)
	}
	perms := make([]Permission, 0, len(doc.Permissions))
	for _, p := range doc.Permissions {
		perms = append(perms, Permission{
			Name:        p.Name,
			Module:      Module(strings.TrimSpace(p.Module)),
			Action:      Action(strings.TrimSpace(p.Action)),
			Description: strings.TrimSpace(p.Description),
		})
	}
	catalog, err := NewCatalog(perms)
	if err != nil {
		return Config{}, err
	}
	mapping := make(map[Role][]string, len(doc.Roles))
	for raw, names := range doc.Roles {
		role := ParseRole(raw)
		if !role.Valid() {
			return Config{}, fmt.Errorf("rbac: catalog declares defaults for unknown role %q", raw)
		}
		mapping[role] = names
	}
	defaults, err := NewRoleDefaults(catalog, mapping)
	if err != nil {
		return Config{}, err
	}
	return Config{Catalog: catalog, Defaults: defaults}, nil
}
