// Package operations maps the collaborator surface onto catalog permissions.
// Each operation is mounted behind exactly one guard; the handlers themselves
// belong to the CRUD collaborators and answer with a placeholder here.
package operations

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ecclesia-app/ecclesia/internal/platform/httpx"
	"github.com/ecclesia-app/ecclesia/internal/rbac"
	"github.com/ecclesia-app/ecclesia/internal/shared"
)

// Operation binds one route to the permission it requires.
type Operation struct {
	Name       string
	Method     string
	Pattern    string
	Permission string
}

// Table lists the guarded collaborator operations.
func Table() []Operation {
	return []Operation{
		{Name: "members.list", Method: http.MethodGet, Pattern: "/members", Permission: shared.PermMembersView},
		{Name: "members.create", Method: http.MethodPost, Pattern: "/members", Permission: shared.PermMembersCreate},
		{Name: "members.update", Method: http.MethodPut, Pattern: "/members/{id}", Permission: shared.PermMembersEdit},
		{Name: "members.delete", Method: http.MethodDelete, Pattern: "/members/{id}", Permission: shared.PermMembersDelete},
		{Name: "members.export", Method: http.MethodGet, Pattern: "/members/export", Permission: shared.PermMembersExport},
		{Name: "events.list", Method: http.MethodGet, Pattern: "/events", Permission: shared.PermEventsView},
		{Name: "events.create", Method: http.MethodPost, Pattern: "/events", Permission: shared.PermEventsCreate},
		{Name: "events.update", Method: http.MethodPut, Pattern: "/events/{id}", Permission: shared.PermEventsEdit},
		{Name: "events.delete", Method: http.MethodDelete, Pattern: "/events/{id}", Permission: shared.PermEventsDelete},
		{Name: "financial.list", Method: http.MethodGet, Pattern: "/financial", Permission: shared.PermFinancialView},
		{Name: "financial.create", Method: http.MethodPost, Pattern: "/financial", Permission: shared.PermFinancialCreate},
		{Name: "financial.update", Method: http.MethodPut, Pattern: "/financial/{id}", Permission: shared.PermFinancialEdit},
		{Name: "financial.delete", Method: http.MethodDelete, Pattern: "/financial/{id}", Permission: shared.PermFinancialDelete},
		{Name: "financial.export", Method: http.MethodGet, Pattern: "/financial/export", Permission: shared.PermFinancialExport},
		{Name: "announcements.list", Method: http.MethodGet, Pattern: "/announcements", Permission: shared.PermAnnouncementsView},
		{Name: "announcements.create", Method: http.MethodPost, Pattern: "/announcements", Permission: shared.PermAnnouncementsCreate},
		{Name: "notifications.list", Method: http.MethodGet, Pattern: "/notifications", Permission: shared.PermNotificationsView},
		{Name: "reports.list", Method: http.MethodGet, Pattern: "/reports", Permission: shared.PermReportsView},
		{Name: "reports.export", Method: http.MethodGet, Pattern: "/reports/export", Permission: shared.PermReportsExport},
		{Name: "settings.view", Method: http.MethodGet, Pattern: "/settings", Permission: shared.PermSettingsView},
		{Name: "settings.update", Method: http.MethodPut, Pattern: "/settings", Permission: shared.PermSettingsEdit},
	}
}

// Validate reports the operations whose permission is missing from catalog.
func Validate(catalog *rbac.Catalog, ops []Operation) error {
	var missing []string
	for _, op := range ops {
		if !catalog.Contains(op.Permission) {
			missing = append(missing, op.Permission)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("operations: %w", &rbac.UnknownPermissionError{Names: missing})
	}
	return nil
}

// Mount registers every operation behind its guard. handler serves all of
// them; nil installs the placeholder.
func Mount(r chi.Router, guard rbac.Middleware, ops []Operation, handler func(Operation) http.Handler) {
	if handler == nil {
		handler = placeholder
	}
	for _, op := range ops {
		r.With(guard.RequirePermission(op.Permission)).Method(op.Method, op.Pattern, handler(op))
	}
}

func placeholder(op Operation) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"operation": op.Name})
	})
}
