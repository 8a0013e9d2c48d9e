package rbac_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ecclesia-app/ecclesia/internal/rbac"
	"github.com/ecclesia-app/ecclesia/internal/rbac/mirror"
	"github.com/ecclesia-app/ecclesia/internal/rbac/rbactest"
)

type accessCase struct {
	name      string
	role      rbac.Role
	overrides rbac.Overrides
	allowed   []string
	denied    []string
	// exact, when set, is the complete effective set.
	exact []string
}

// accessCases drive both the server resolver and the client mirror.
var accessCases = []accessCase{
	{
		name:      "leader with added delete",
		role:      rbac.RoleLeader,
		overrides: rbac.Overrides{Added: []string{"events.delete"}},
		exact:     []string{"events.create", "events.delete", "events.view"},
		denied:    []string{"financial.delete", "members.view"},
	},
	{
		name:    "unknown role holds nothing",
		role:    rbac.RoleUnknown,
		denied:  []string{"events.view", "members.view", "users.view"},
		exact:   []string{},
	},
	{
		name:      "unknown role keeps added overrides only",
		role:      rbac.RoleUnknown,
		overrides: rbac.Overrides{Added: []string{"members.view"}},
		exact:     []string{"members.view"},
	},
	{
		name:      "removal wins over default",
		role:      rbac.RoleMember,
		overrides: rbac.Overrides{Removed: []string{"events.view"}},
		allowed:   []string{"announcements.view"},
		denied:    []string{"events.view"},
	},
	{
		name:      "removal wins over addition",
		role:      rbac.RoleVolunteer,
		overrides: rbac.Overrides{Added: []string{"members.edit"}, Removed: []string{"members.edit"}},
		denied:    []string{"members.edit"},
		allowed:   []string{"members.view"},
	},
	{
		name:      "added name outside catalog is ignored",
		role:      rbac.RoleMember,
		overrides: rbac.Overrides{Added: []string{"members.fly"}},
		denied:    []string{"members.fly"},
	},
	{
		name:      "administrator ignores removals",
		role:      rbac.RoleAdministrator,
		overrides: rbac.Overrides{Removed: []string{"financial.delete", "users.permissions"}},
		allowed:   []string{"financial.delete", "users.permissions", "settings.edit", "users.audit"},
	},
	{
		name:    "treasurer cannot manage permissions",
		role:    rbac.RoleTreasurer,
		allowed: []string{"financial.delete", "reports.export"},
		denied:  []string{"users.permissions", "members.delete"},
	},
}

func TestEffective(t *testing.T) {
	cfg := loadConfig(t)
	for _, tc := range accessCases {
		t.Run(tc.name, func(t *testing.T) {
			set := rbac.Effective(cfg.Defaults, tc.role, tc.overrides)
			if tc.exact != nil {
				require.Equal(t, tc.exact, set.Names())
			}
			for _, name := range tc.allowed {
				require.True(t, set.Has(name), "expected %s allowed", name)
			}
			for _, name := range tc.denied {
				require.False(t, set.Has(name), "expected %s denied", name)
			}
		})
	}
}

func TestEffectiveIsPure(t *testing.T) {
	cfg := loadConfig(t)
	overrides := rbac.Overrides{Added: []string{"members.view"}, Removed: []string{"events.create"}}

	first := rbac.Effective(cfg.Defaults, rbac.RoleLeader, overrides)
	second := rbac.Effective(cfg.Defaults, rbac.RoleLeader, overrides)

	require.True(t, first.Equal(second))
	require.Equal(t, []string{"members.view"}, overrides.Added)
	require.False(t, cfg.Defaults.DefaultsFor(rbac.RoleLeader).Has("members.view"))
}

func TestEffectiveWithoutDefaultsDenies(t *testing.T) {
	set := rbac.Effective(nil, rbac.RoleAdministrator, rbac.Overrides{})
	require.Zero(t, set.Len())
}

func TestAdministratorTracksCatalogGrowth(t *testing.T) {
	catalog, err := rbac.NewCatalog([]rbac.Permission{
		{Name: "events.view", Module: rbac.ModuleEvents, Action: rbac.ActionView},
		{Name: "settings.audit", Module: rbac.ModuleSettings, Action: rbac.ActionAudit},
	})
	require.NoError(t, err)
	defaults, err := rbac.NewRoleDefaults(catalog, nil)
	require.NoError(t, err)

	set := rbac.Effective(defaults, rbac.RoleAdministrator, rbac.Overrides{})
	require.Equal(t, []string{"events.view", "settings.audit"}, set.Names())
}

// The mirror must agree with the resolver on every catalog permission.
func TestMirrorAgreesWithResolver(t *testing.T) {
	cfg := loadConfig(t)
	for _, tc := range accessCases {
		t.Run(tc.name, func(t *testing.T) {
			store := rbactest.NewStore(rbac.Principal{ID: "p1", Role: tc.role, Overrides: tc.overrides})
			svc := rbac.NewService(store, cfg, nil, discardLogger(), rbac.ServiceOptions{})

			payload, err := svc.MirrorPayload(context.Background(), "p1")
			require.NoError(t, err)
			m := mirror.New(&payload, mirror.WithMaxAge(time.Minute))
			set := rbac.Effective(cfg.Defaults, tc.role, tc.overrides)

			for _, p := range cfg.Catalog.List() {
				require.Equal(t, set.Has(p.Name), m.Has(p.Name), "drift on %s", p.Name)
			}
			require.False(t, m.Has("members.fly"))
		})
	}
}
