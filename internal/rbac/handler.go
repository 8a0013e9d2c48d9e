package rbac

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ecclesia-app/ecclesia/internal/platform/httpx"
	"github.com/ecclesia-app/ecclesia/internal/shared"
)

// Handler serves the catalog and the caller's own mirror payload.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers /permissions and /me routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequirePermission(shared.PermUsersPermissions, Quiet())).Get("/permissions", h.listPermissions)
	r.Get("/me/permissions", h.myPermissions)
}

type permissionsResponse struct {
	Permissions []Permission `json:"permissions"`
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, permissionsResponse{Permissions: h.service.ListPermissions()})
}

func (h *Handler) myPermissions(w http.ResponseWriter, r *http.Request) {
	principalID, ok := h.rbac.identify(r)
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	if _, err := h.service.EnsurePrincipal(r.Context(), principalID); err != nil {
		h.handleServerError(w, "ensure principal", err)
		return
	}
	payload, err := h.service.MirrorPayload(r.Context(), principalID)
	if err != nil {
		h.handleServerError(w, "mirror payload", err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.JSON(w, http.StatusOK, payload)
}

func (h *Handler) handleServerError(w http.ResponseWriter, op string, err error) {
	h.logger.Error("rbac handler", slog.String("op", op), slog.Any("error", err))
	httpx.RespondError(w, HTTPError(err))
}

// HTTPError maps rbac errors onto the httpx sentinels understood by
// httpx.RespondError.
func HTTPError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation), errors.Is(err, ErrUnknownPermission):
		return errors.Join(httpx.ErrValidation, err)
	case errors.Is(err, ErrNotFound):
		return errors.Join(httpx.ErrNotFound, err)
	case errors.Is(err, ErrVersionConflict):
		return errors.Join(httpx.ErrConflict, err)
	case errors.Is(err, ErrPermissionDenied):
		return errors.Join(httpx.ErrForbidden, err)
	case errors.Is(err, ErrStorage):
		return httpx.ErrUnavailable
	default:
		return err
	}
}
