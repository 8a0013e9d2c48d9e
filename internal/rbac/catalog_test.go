package rbac_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ecclesia-app/ecclesia/internal/rbac"
	"github.com/ecclesia-app/ecclesia/internal/shared"
)

func loadConfig(t *testing.T) rbac.Config {
	t.Helper()
	cfg, err := rbac.LoadDefaultConfig()
	require.NoError(t, err)
	return cfg
}

func TestEmbeddedCatalogIsValid(t *testing.T) {
	cfg := loadConfig(t)

	perms := cfg.Catalog.List()
	require.NotEmpty(t, perms)
	for i, p := range perms {
		require.Equal(t, rbac.PermissionName(p.Module, p.Action), p.Name)
		require.NotEmpty(t, p.Description, p.Name)
		if i > 0 {
			prev := perms[i-1]
			require.True(t, prev.Module < p.Module || (prev.Module == p.Module && prev.Action < p.Action),
				"catalog not ordered at %s", p.Name)
		}
	}
}

func TestCatalogRejectsDuplicateNames(t *testing.T) {
	_, err := rbac.NewCatalog([]rbac.Permission{
		{Name: "members.view", Module: rbac.ModuleMembers, Action: rbac.ActionView},
		{Name: "members.view", Module: rbac.ModuleMembers, Action: rbac.ActionView},
	})
	require.ErrorIs(t, err, rbac.ErrDuplicatePermission)
}

func TestCatalogRejectsMismatchedName(t *testing.T) {
	_, err := rbac.NewCatalog([]rbac.Permission{
		{Name: "members.delete", Module: rbac.ModuleMembers, Action: rbac.ActionView},
	})
	require.Error(t, err)
}

func TestCatalogGetUnknown(t *testing.T) {
	cfg := loadConfig(t)

	_, err := cfg.Catalog.Get("members.fly")
	require.ErrorIs(t, err, rbac.ErrUnknownPermission)

	p, err := cfg.Catalog.Get(" Members.View ")
	require.NoError(t, err)
	require.Equal(t, rbac.ModuleMembers, p.Module)
}

func TestPermissionConstantsExistInCatalog(t *testing.T) {
	cfg := loadConfig(t)
	for _, name := range []string{
		shared.PermMembersView, shared.PermMembersDelete, shared.PermFinancialDelete,
		shared.PermEventsDelete, shared.PermUsersPermissions, shared.PermUsersAudit,
		shared.PermSettingsEdit, shared.PermReportsExport,
	} {
		require.True(t, cfg.Catalog.Contains(name), name)
	}
}

func TestParseConfigRejectsUnknownDefaults(t *testing.T) {
	doc := `
permissions:
  - name: events.view
    module: events
    action: view
    description: View events
roles:
  leader:
    - events.view
    - events.fly
`
	_, err := rbac.ParseConfig(strings.NewReader(doc))
	require.ErrorIs(t, err, rbac.ErrUnknownPermission)
}

func TestParseConfigRejectsAdministratorDefaults(t *testing.T) {
	doc := `
permissions:
  - name: events.view
    module: events
    action: view
roles:
  administrator:
    - events.view
`
	_, err := rbac.ParseConfig(strings.NewReader(doc))
	require.Error(t, err)
}

func TestParseConfigRejectsUnknownRoleAndFields(t *testing.T) {
	_, err := rbac.ParseConfig(strings.NewReader("permissions: []\nroles:\n  deacon: []\n"))
	require.Error(t, err)

	_, err = rbac.ParseConfig(strings.NewReader("permissions: []\nwildcards: true\n"))
	require.Error(t, err)
}

func TestLoadConfigFileFallsBackToEmbedded(t *testing.T) {
	cfg, err := rbac.LoadConfigFile("")
	require.NoError(t, err)
	require.True(t, cfg.Catalog.Contains(shared.PermMembersView))

	_, err = rbac.LoadConfigFile("/nonexistent/catalog.yaml")
	require.Error(t, err)
	require.False(t, errors.Is(err, rbac.ErrDuplicatePermission))
}

func TestRoleDefaults(t *testing.T) {
	cfg := loadConfig(t)

	require.Equal(t, cfg.Catalog.All().Names(), cfg.Defaults.DefaultsFor(rbac.RoleAdministrator).Names())
	require.Equal(t, []string{"events.create", "events.view"}, cfg.Defaults.DefaultsFor(rbac.RoleLeader).Names())
	require.Zero(t, cfg.Defaults.DefaultsFor(rbac.RoleUnknown).Len())
	require.True(t, cfg.Defaults.DefaultsFor(rbac.DefaultRole).Has("events.view"))
	require.False(t, cfg.Defaults.DefaultsFor(rbac.RoleTreasurer).Has("users.permissions"))
}

func TestParseRole(t *testing.T) {
	require.Equal(t, rbac.RoleLeader, rbac.ParseRole(" Leader "))
	require.Equal(t, rbac.RoleUnknown, rbac.ParseRole("deacon"))
	require.False(t, rbac.RoleUnknown.Valid())
	require.Equal(t, "unknown", rbac.RoleUnknown.String())
	require.Len(t, rbac.Roles(), 6)
}
