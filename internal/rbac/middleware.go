package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ecclesia-app/ecclesia/internal/platform/httpx"
	"github.com/ecclesia-app/ecclesia/internal/shared"
)

// Middleware wires RBAC guards for HTTP handlers.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
	// Identify extracts the principal id from a request. Defaults to the id
	// placed in the request context by the session middleware.
	Identify func(*http.Request) (string, bool)
}

// GuardOption tunes a single guard.
type GuardOption func(*guardConfig)

type guardConfig struct {
	quiet bool
}

// Quiet suppresses the access-denied audit record for a noisy endpoint.
func Quiet() GuardOption {
	return func(c *guardConfig) { c.quiet = true }
}

// RequirePermission allows the request through only when the principal's
// effective set contains name. Guards naming a permission outside the catalog
// answer 500 for every request.
func (m Middleware) RequirePermission(name string, opts ...GuardOption) func(http.Handler) http.Handler {
	var cfg guardConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	name = strings.TrimSpace(strings.ToLower(name))
	if m.Service == nil || !m.Service.Catalog().Contains(name) {
		m.logger().Error("rbac guard misconfigured", slog.String("required", name))
		return func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				m.logger().Error("rbac guard references unknown permission",
					slog.String("required", name),
					slog.String("path", r.URL.Path))
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			})
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principalID, ok := m.identify(r)
			if !ok {
				httpx.PermissionDenied(w, name, RoleUnknown.String())
				return
			}
			_, err := m.Service.Authorize(r.Context(), principalID, name, AuthorizeOptions{SkipDenyAudit: cfg.quiet})
			if err == nil {
				next.ServeHTTP(w, r)
				return
			}
			WriteDecisionError(w, err)
		})
	}
}

// WriteDecisionError renders an Authorize failure. Storage failures deny with
// 503 and never leak detail.
func WriteDecisionError(w http.ResponseWriter, err error) {
	var denied *DeniedError
	switch {
	case errors.As(err, &denied):
		httpx.PermissionDenied(w, denied.Required, denied.Role.String())
	case errors.Is(err, ErrInternalConfiguration):
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	default:
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "")
	}
}

func (m Middleware) identify(r *http.Request) (string, bool) {
	if m.Identify != nil {
		return m.Identify(r)
	}
	return shared.PrincipalFromContext(r.Context())
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}
