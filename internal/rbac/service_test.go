package rbac_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ecclesia-app/ecclesia/internal/audit"
	"github.com/ecclesia-app/ecclesia/internal/rbac"
	"github.com/ecclesia-app/ecclesia/internal/rbac/rbactest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingObserver struct {
	allowed, denied int
}

func (o *countingObserver) ObserveDecision(permission string, allowed bool) {
	if allowed {
		o.allowed++
	} else {
		o.denied++
	}
}

func newService(t *testing.T, store *rbactest.Store, opts rbac.ServiceOptions) *rbac.Service {
	t.Helper()
	recorder := audit.NewService(store, discardLogger())
	return rbac.NewService(store, loadConfig(t), recorder, discardLogger(), opts)
}

func leader(id string) rbac.Principal {
	return rbac.Principal{ID: id, Role: rbac.RoleLeader, Overrides: rbac.Overrides{Added: []string{"events.delete"}}}
}

func TestSetRoleAndOverridesRejectsConflicts(t *testing.T) {
	store := rbactest.NewStore(leader("p1"))
	svc := newService(t, store, rbac.ServiceOptions{})

	_, err := svc.SetRoleAndOverrides(context.Background(), rbac.SetRequest{
		Actor:       "admin",
		PrincipalID: "p1",
		Role:        rbac.RoleLeader,
		Added:       []string{"x"},
		Removed:     []string{"x"},
	})

	var verr *rbac.ValidationError
	require.ErrorAs(t, err, &verr)
	require.ErrorIs(t, err, rbac.ErrValidation)
	require.Equal(t, []string{"x"}, verr.Conflicts)
	require.Empty(t, store.Records())
	p, _ := store.Principal("p1")
	require.Equal(t, int64(1), p.Version)
	require.Equal(t, []string{"events.delete"}, p.Overrides.Added)
}

func TestSetRoleAndOverridesRejectsUnknownPermission(t *testing.T) {
	store := rbactest.NewStore(leader("p1"))
	svc := newService(t, store, rbac.ServiceOptions{})

	_, err := svc.SetRoleAndOverrides(context.Background(), rbac.SetRequest{
		PrincipalID: "p1",
		Role:        rbac.RoleLeader,
		Added:       []string{"members.fly"},
	})

	require.ErrorIs(t, err, rbac.ErrUnknownPermission)
	require.Empty(t, store.Records())
}

func TestSetRoleAndOverridesRejectsUnknownRole(t *testing.T) {
	store := rbactest.NewStore(leader("p1"))
	svc := newService(t, store, rbac.ServiceOptions{})

	_, err := svc.SetRoleAndOverrides(context.Background(), rbac.SetRequest{PrincipalID: "p1", Role: rbac.Role("deacon")})
	require.ErrorIs(t, err, rbac.ErrValidation)
}

func TestSetRoleAndOverridesWritesExactlyOneAudit(t *testing.T) {
	store := rbactest.NewStore(leader("p1"))
	svc := newService(t, store, rbac.ServiceOptions{})

	updated, err := svc.SetRoleAndOverrides(context.Background(), rbac.SetRequest{
		Actor:       "admin",
		PrincipalID: "p1",
		Role:        rbac.RolePastor,
		Added:       []string{"Users.Audit", "users.audit"},
	})
	require.NoError(t, err)
	require.Equal(t, rbac.RolePastor, updated.Role)
	require.Equal(t, int64(2), updated.Version)
	require.Equal(t, []string{"users.audit"}, updated.Overrides.Added)

	records := store.Records()
	require.Len(t, records, 1)
	rec := records[0]
	require.Equal(t, audit.KindRoleChange, rec.Kind)
	require.Equal(t, "admin", rec.Actor)
	require.Equal(t, "p1", rec.Target)
	require.Equal(t, "leader", rec.Before.Role)
	require.Equal(t, []string{"events.create", "events.delete", "events.view"}, rec.Before.Effective)
	require.Equal(t, "pastor", rec.After.Role)
	require.Contains(t, rec.After.Effective, "users.audit")
	require.Equal(t, int64(2), rec.After.Version)

	stored, _ := store.Principal("p1")
	require.Equal(t, rbac.RolePastor, stored.Role)
}

func TestSetRoleAndOverridesKindSelection(t *testing.T) {
	cases := []struct {
		name    string
		role    rbac.Role
		added   []string
		removed []string
		want    audit.Kind
	}{
		{name: "grant", role: rbac.RoleLeader, added: []string{"events.delete", "members.view"}, want: audit.KindPermissionGrant},
		{name: "revoke", role: rbac.RoleLeader, added: nil, want: audit.KindPermissionRevoke},
		{name: "swap counts as revoke", role: rbac.RoleLeader, added: []string{"members.view"}, want: audit.KindPermissionRevoke},
		{name: "no-op still audited", role: rbac.RoleLeader, added: []string{"events.delete"}, want: audit.KindPermissionGrant},
		{name: "role change", role: rbac.RoleVolunteer, added: []string{"events.delete"}, want: audit.KindRoleChange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := rbactest.NewStore(leader("p1"))
			svc := newService(t, store, rbac.ServiceOptions{})

			_, err := svc.SetRoleAndOverrides(context.Background(), rbac.SetRequest{
				PrincipalID: "p1", Role: tc.role, Added: tc.added, Removed: tc.removed,
			})
			require.NoError(t, err)
			records := store.Records()
			require.Len(t, records, 1)
			require.Equal(t, tc.want, records[0].Kind)
			require.Equal(t, audit.SystemActor, records[0].Actor)
		})
	}
}

func TestSetRoleAndOverridesRollsBackWhenAuditFails(t *testing.T) {
	store := rbactest.NewStore(leader("p1"))
	store.FailAuditInsert = true
	svc := newService(t, store, rbac.ServiceOptions{})

	_, err := svc.SetRoleAndOverrides(context.Background(), rbac.SetRequest{
		PrincipalID: "p1",
		Role:        rbac.RoleAdministrator,
	})

	require.ErrorIs(t, err, rbac.ErrStorage)
	p, _ := store.Principal("p1")
	require.Equal(t, rbac.RoleLeader, p.Role)
	require.Equal(t, int64(1), p.Version)
	require.Empty(t, store.Records())
}

func TestSetRoleAndOverridesRollsBackWhenUpdateFails(t *testing.T) {
	store := rbactest.NewStore(leader("p1"))
	store.FailUpdate = true
	svc := newService(t, store, rbac.ServiceOptions{})

	_, err := svc.SetRoleAndOverrides(context.Background(), rbac.SetRequest{PrincipalID: "p1", Role: rbac.RoleMember})

	require.ErrorIs(t, err, rbac.ErrStorage)
	require.Empty(t, store.Records())
}

func TestSetRoleAndOverridesVersionConflict(t *testing.T) {
	store := rbactest.NewStore(leader("p1"))
	svc := newService(t, store, rbac.ServiceOptions{})
	ctx := context.Background()

	_, err := svc.SetRoleAndOverrides(ctx, rbac.SetRequest{PrincipalID: "p1", Role: rbac.RoleLeader, ExpectedVersion: 1})
	require.NoError(t, err)

	_, err = svc.SetRoleAndOverrides(ctx, rbac.SetRequest{PrincipalID: "p1", Role: rbac.RoleAdministrator, ExpectedVersion: 1})
	require.ErrorIs(t, err, rbac.ErrVersionConflict)
	require.Len(t, store.Records(), 1)
	p, _ := store.Principal("p1")
	require.Equal(t, rbac.RoleLeader, p.Role)
}

func TestSetRoleAndOverridesUnknownPrincipal(t *testing.T) {
	store := rbactest.NewStore()
	svc := newService(t, store, rbac.ServiceOptions{})

	_, err := svc.SetRoleAndOverrides(context.Background(), rbac.SetRequest{PrincipalID: "ghost", Role: rbac.RoleMember})
	require.ErrorIs(t, err, rbac.ErrPrincipalNotFound)
}

func TestAuthorizeAllowsAndDenies(t *testing.T) {
	store := rbactest.NewStore(leader("p1"))
	observer := &countingObserver{}
	svc := newService(t, store, rbac.ServiceOptions{Observer: observer})
	ctx := context.Background()

	_, err := svc.Authorize(ctx, "p1", "events.delete", rbac.AuthorizeOptions{})
	require.NoError(t, err)

	_, err = svc.Authorize(ctx, "p1", "financial.delete", rbac.AuthorizeOptions{})
	var denied *rbac.DeniedError
	require.ErrorAs(t, err, &denied)
	require.Equal(t, "financial.delete", denied.Required)
	require.Equal(t, rbac.RoleLeader, denied.Role)

	records := store.Records()
	require.Len(t, records, 1)
	require.Equal(t, audit.KindAccessDenied, records[0].Kind)
	require.Equal(t, "financial.delete", records[0].Required)
	require.Equal(t, []string{"events.create", "events.delete", "events.view"}, records[0].Before.Effective)
	require.Equal(t, 1, observer.allowed)
	require.Equal(t, 1, observer.denied)
}

func TestAuthorizeSkipDenyAudit(t *testing.T) {
	store := rbactest.NewStore(leader("p1"))
	svc := newService(t, store, rbac.ServiceOptions{})

	_, err := svc.Authorize(context.Background(), "p1", "members.view", rbac.AuthorizeOptions{SkipDenyAudit: true})
	require.ErrorIs(t, err, rbac.ErrPermissionDenied)
	require.Empty(t, store.Records())
}

func TestAuthorizeDeniesWhenDenialAuditFails(t *testing.T) {
	store := rbactest.NewStore(leader("p1"))
	store.FailAuditInsert = true
	svc := newService(t, store, rbac.ServiceOptions{})

	_, err := svc.Authorize(context.Background(), "p1", "members.view", rbac.AuthorizeOptions{})
	require.ErrorIs(t, err, rbac.ErrPermissionDenied)
}

func TestAuthorizeUnknownPermissionIsConfigurationError(t *testing.T) {
	store := rbactest.NewStore(rbac.Principal{ID: "root", Role: rbac.RoleAdministrator})
	svc := newService(t, store, rbac.ServiceOptions{})

	_, err := svc.Authorize(context.Background(), "root", "members.fly", rbac.AuthorizeOptions{})
	require.ErrorIs(t, err, rbac.ErrInternalConfiguration)
	require.False(t, errors.Is(err, rbac.ErrPermissionDenied))
}

func TestAuthorizeFailsClosedOnStorageError(t *testing.T) {
	store := rbactest.NewStore(rbac.Principal{ID: "root", Role: rbac.RoleAdministrator})
	store.FailGet = errors.New("connection reset")
	svc := newService(t, store, rbac.ServiceOptions{})

	_, err := svc.Authorize(context.Background(), "root", "members.view", rbac.AuthorizeOptions{})
	require.ErrorIs(t, err, rbac.ErrStorage)
}

func TestAuthorizeFailsClosedOnTimeout(t *testing.T) {
	store := rbactest.NewStore(rbac.Principal{ID: "root", Role: rbac.RoleAdministrator})
	store.GetDelay = time.Second
	svc := newService(t, store, rbac.ServiceOptions{StorageTimeout: 10 * time.Millisecond})

	allowed, err := svc.HasPermission(context.Background(), "root", "members.view")
	require.Error(t, err)
	require.False(t, allowed)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAuthorizeUnknownPrincipalDenied(t *testing.T) {
	store := rbactest.NewStore()
	svc := newService(t, store, rbac.ServiceOptions{})

	_, err := svc.Authorize(context.Background(), "ghost", "events.view", rbac.AuthorizeOptions{})
	var denied *rbac.DeniedError
	require.ErrorAs(t, err, &denied)
	require.Equal(t, rbac.RoleUnknown, denied.Role)
	_, exists := store.Principal("ghost")
	require.False(t, exists)
}

func TestHasPermission(t *testing.T) {
	store := rbactest.NewStore(leader("p1"))
	svc := newService(t, store, rbac.ServiceOptions{})
	ctx := context.Background()

	ok, err := svc.HasPermission(ctx, "p1", "events.create")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.HasPermission(ctx, "p1", "financial.view")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = svc.HasPermission(ctx, "p1", "events.fly")
	require.ErrorIs(t, err, rbac.ErrInternalConfiguration)
}

func TestEnsurePrincipalIsIdempotent(t *testing.T) {
	store := rbactest.NewStore()
	svc := newService(t, store, rbac.ServiceOptions{})
	ctx := context.Background()

	p, created, err := svc.ProvisionPrincipal(ctx, "new")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, rbac.DefaultRole, p.Role)
	require.Equal(t, int64(1), p.Version)

	_, err = svc.SetRoleAndOverrides(ctx, rbac.SetRequest{PrincipalID: "new", Role: rbac.RoleTreasurer})
	require.NoError(t, err)

	p, err = svc.EnsurePrincipal(ctx, "new")
	require.NoError(t, err)
	require.Equal(t, rbac.RoleTreasurer, p.Role)

	_, err = svc.EnsurePrincipal(ctx, "  ")
	require.ErrorIs(t, err, rbac.ErrValidation)
}

func TestMirrorPayload(t *testing.T) {
	store := rbactest.NewStore(rbac.Principal{ID: "p1", Role: rbac.RoleLeader, Overrides: rbac.Overrides{
		Added:   []string{"events.delete"},
		Removed: []string{"events.create"},
	}})
	svc := newService(t, store, rbac.ServiceOptions{})

	payload, err := svc.MirrorPayload(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, "leader", payload.Role)
	require.False(t, payload.Admin)
	require.Equal(t, []string{"events.create", "events.view"}, payload.Defaults)
	require.Equal(t, []string{"events.delete"}, payload.Added)
	require.Equal(t, []string{"events.create"}, payload.Removed)
	require.Equal(t, int64(1), payload.Version)
	require.False(t, payload.IssuedAt.IsZero())
}
