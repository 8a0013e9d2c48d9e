package users

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ecclesia-app/ecclesia/internal/platform/httpx"
	"github.com/ecclesia-app/ecclesia/internal/rbac"
	"github.com/ecclesia-app/ecclesia/internal/shared"
)

// Handler manages user directory and access endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequirePermission(shared.PermUsersView, rbac.Quiet())).Get("/", h.listUsers)
	r.With(h.rbac.RequirePermission(shared.PermUsersCreate)).Post("/", h.createUser)
	r.With(h.rbac.RequirePermission(shared.PermUsersView)).Get("/{id}/permissions", h.getAccess)
	r.With(h.rbac.RequirePermission(shared.PermUsersPermissions)).Put("/{id}/permissions", h.updateAccess)
}

type listResponse struct {
	Users      []User            `json:"users"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	users, pg, err := h.service.ListUsers(r.Context(), page, perPage)
	if err != nil {
		h.fail(w, "list users", err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse{Users: users, Pagination: pg})
}

type createRequest struct {
	ID string `json:"id" validate:"required,max=128"`
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if errs := h.validate(req); errs != nil {
		httpx.JSON(w, http.StatusBadRequest, errs)
		return
	}
	user, created, err := h.service.CreateUser(r.Context(), req.ID)
	if err != nil {
		h.fail(w, "create user", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, user)
}

func (h *Handler) getAccess(w http.ResponseWriter, r *http.Request) {
	access, err := h.service.GetAccess(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get access", err)
		return
	}
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(access.Version, 10)))
	httpx.JSON(w, http.StatusOK, access)
}

type updateRequest struct {
	Role    string   `json:"role" validate:"required,oneof=administrator pastor treasurer leader volunteer member"`
	Added   []string `json:"added" validate:"dive,required,max=64"`
	Removed []string `json:"removed" validate:"dive,required,max=64"`
	Version int64    `json:"version" validate:"gte=0"`
}

func (h *Handler) updateAccess(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	req.Role = strings.ToLower(strings.TrimSpace(req.Role))
	if errs := h.validate(req); errs != nil {
		httpx.JSON(w, http.StatusBadRequest, errs)
		return
	}
	expected, ok := expectedVersion(r, req.Version)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid If-Match header")
		return
	}
	actor, _ := shared.PrincipalFromContext(r.Context())
	access, err := h.service.UpdateAccess(r.Context(), rbac.SetRequest{
		Actor:           actor,
		PrincipalID:     chi.URLParam(r, "id"),
		Role:            rbac.ParseRole(req.Role),
		Added:           req.Added,
		Removed:         req.Removed,
		ExpectedVersion: expected,
	})
	if err != nil {
		var verr *rbac.ValidationError
		if errors.As(err, &verr) && len(verr.Conflicts) > 0 {
			httpx.JSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "conflicts": verr.Conflicts})
			return
		}
		var uerr *rbac.UnknownPermissionError
		if errors.As(err, &uerr) {
			httpx.JSON(w, http.StatusBadRequest, map[string]any{"error": "unknown permission", "permissions": uerr.Names})
			return
		}
		h.fail(w, "update access", err)
		return
	}
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(access.Version, 10)))
	httpx.JSON(w, http.StatusOK, access)
}

// expectedVersion prefers the If-Match header over the body version.
func expectedVersion(r *http.Request, body int64) (int64, bool) {
	raw := strings.TrimSpace(r.Header.Get("If-Match"))
	if raw == "" || raw == "*" {
		return body, true
	}
	raw = strings.TrimPrefix(raw, "W/")
	if unq, err := strconv.Unquote(raw); err == nil {
		raw = unq
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

type validationResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields"`
}

func (h *Handler) validate(v any) *validationResponse {
	err := h.validator.Struct(v)
	if err == nil {
		return nil
	}
	resp := &validationResponse{Error: "validation failed", Fields: map[string]string{}}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		for _, fe := range fieldErrs {
			resp.Fields[fe.Field()] = fe.Tag()
		}
	}
	return resp
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	mapped := rbac.HTTPError(err)
	if errors.Is(mapped, httpx.ErrUnavailable) || errors.Is(err, rbac.ErrInternalConfiguration) {
		h.logger.Error("users handler", slog.String("op", op), slog.Any("error", err))
	}
	httpx.RespondError(w, mapped)
}
