package rbac_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/ecclesia-app/ecclesia/internal/audit"
	"github.com/ecclesia-app/ecclesia/internal/platform/httpx"
	"github.com/ecclesia-app/ecclesia/internal/rbac"
	"github.com/ecclesia-app/ecclesia/internal/rbac/rbactest"
	"github.com/ecclesia-app/ecclesia/internal/shared"
)

const principalHeader = "X-Principal"

func headerIdentity(r *http.Request) (string, bool) {
	id := r.Header.Get(principalHeader)
	return id, id != ""
}

func newGuard(t *testing.T, store *rbactest.Store) rbac.Middleware {
	t.Helper()
	return rbac.Middleware{
		Service:  newService(t, store, rbac.ServiceOptions{}),
		Logger:   discardLogger(),
		Identify: headerIdentity,
	}
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func serve(h http.Handler, principal string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if principal != "" {
		req.Header.Set(principalHeader, principal)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeDenied(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRequirePermissionAllowsAndDenies(t *testing.T) {
	store := rbactest.NewStore(rbac.Principal{ID: "vol", Role: rbac.RoleVolunteer})
	guard := newGuard(t, store)

	rec := serve(guard.RequirePermission(shared.PermMembersView)(okHandler), "vol")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(guard.RequirePermission(shared.PermMembersDelete)(okHandler), "vol")
	require.Equal(t, http.StatusForbidden, rec.Code)
	body := decodeDenied(t, rec)
	require.Equal(t, map[string]any{
		"error":    "permission denied",
		"required": "members.delete",
		"role":     "volunteer",
	}, body)

	records := store.Records()
	require.Len(t, records, 1)
	require.Equal(t, audit.KindAccessDenied, records[0].Kind)
	require.Equal(t, "vol", records[0].Actor)
}

func TestRequirePermissionLeaderScenario(t *testing.T) {
	store := rbactest.NewStore(rbac.Principal{
		ID:        "lead",
		Role:      rbac.RoleLeader,
		Overrides: rbac.Overrides{Added: []string{"events.delete"}},
	})
	guard := newGuard(t, store)

	cases := map[string]int{
		shared.PermEventsDelete:    http.StatusNoContent,
		shared.PermEventsCreate:    http.StatusNoContent,
		shared.PermEventsView:      http.StatusNoContent,
		shared.PermFinancialDelete: http.StatusForbidden,
		shared.PermMembersView:     http.StatusForbidden,
	}
	for perm, want := range cases {
		rec := serve(guard.RequirePermission(perm)(okHandler), "lead")
		require.Equal(t, want, rec.Code, perm)
	}
}

func TestRequirePermissionWithoutPrincipal(t *testing.T) {
	store := rbactest.NewStore()
	guard := newGuard(t, store)

	rec := serve(guard.RequirePermission(shared.PermEventsView)(okHandler), "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "unknown", decodeDenied(t, rec)["role"])
	require.Empty(t, store.Records())
}

func TestRequirePermissionUnknownPrincipal(t *testing.T) {
	store := rbactest.NewStore()
	guard := newGuard(t, store)

	rec := serve(guard.RequirePermission(shared.PermEventsView)(okHandler), "stranger")
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "unknown", decodeDenied(t, rec)["role"])
}

func TestRequirePermissionUnknownGuardName(t *testing.T) {
	store := rbactest.NewStore(rbac.Principal{ID: "root", Role: rbac.RoleAdministrator})
	guard := newGuard(t, store)

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	rec := serve(guard.RequirePermission("members.teleport")(next), "root")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.False(t, called)
	require.NotContains(t, rec.Body.String(), "members.teleport")
}

func TestRequirePermissionFailsClosedOnStorageError(t *testing.T) {
	store := rbactest.NewStore(rbac.Principal{ID: "root", Role: rbac.RoleAdministrator})
	store.FailGet = rbactest.ErrInjected
	guard := newGuard(t, store)

	rec := serve(guard.RequirePermission(shared.PermMembersView)(okHandler), "root")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NotContains(t, rec.Body.String(), "injected")
}

func TestRequirePermissionQuietSkipsAudit(t *testing.T) {
	store := rbactest.NewStore(rbac.Principal{ID: "m", Role: rbac.RoleMember})
	guard := newGuard(t, store)

	rec := serve(guard.RequirePermission(shared.PermUsersView, rbac.Quiet())(okHandler), "m")
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Empty(t, store.Records())
}

func TestRequirePermissionDeniedBodyOmitsCatalog(t *testing.T) {
	store := rbactest.NewStore(rbac.Principal{ID: "m", Role: rbac.RoleMember})
	guard := newGuard(t, store)

	rec := serve(guard.RequirePermission(shared.PermSettingsEdit)(okHandler), "m")
	require.Equal(t, http.StatusForbidden, rec.Code)
	var body httpx.PermissionDeniedBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "settings.edit", body.Required)
	require.NotContains(t, rec.Body.String(), "events.view")
}

func TestRequirePermissionUsesContextPrincipalByDefault(t *testing.T) {
	store := rbactest.NewStore(rbac.Principal{ID: "p", Role: rbac.RolePastor})
	guard := rbac.Middleware{Service: newService(t, store, rbac.ServiceOptions{}), Logger: discardLogger()}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithPrincipal(req.Context(), "p")))
		})
	})
	r.With(guard.RequirePermission(shared.PermMembersView)).Get("/members", okHandler)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/members", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}
