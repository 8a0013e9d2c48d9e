package audithttp

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ecclesia-app/ecclesia/internal/audit"
	"github.com/ecclesia-app/ecclesia/internal/platform/httpx"
	"github.com/ecclesia-app/ecclesia/internal/rbac"
)

const (
	defaultLimit = 100
	maxLimit     = 500
)

// HistoryService yields the audit trail of one principal.
type HistoryService interface {
	History(ctx context.Context, target string, since time.Time, filters audit.Filters) iter.Seq2[audit.Record, error]
}

// Handler serves the audit trail UI.
type Handler struct {
	logger  *slog.Logger
	service HistoryService
	rbac    rbac.Middleware
}

// NewHandler builds the audit history handler.
func NewHandler(logger *slog.Logger, service HistoryService, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

type historyResponse struct {
	Target  string         `json:"target"`
	Records []audit.Record `json:"records"`
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimSpace(chi.URLParam(r, "id"))
	since, filters, err := parseFilters(r)
	if err != nil {
		var v validationError
		if errors.As(err, &v) {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+v.field)
			return
		}
		h.handleServerError(w, "parse filters", err)
		return
	}
	records := make([]audit.Record, 0, filters.Limit)
	for rec, err := range h.service.History(r.Context(), target, since, filters) {
		if err != nil {
			h.handleServerError(w, "load audit history", err)
			return
		}
		records = append(records, rec)
	}
	httpx.JSON(w, http.StatusOK, historyResponse{Target: target, Records: records})
}

func parseFilters(r *http.Request) (time.Time, audit.Filters, error) {
	q := r.URL.Query()
	var since time.Time
	if v := strings.TrimSpace(q.Get("since")); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, audit.Filters{}, validationError{field: "since"}
		}
		since = parsed.UTC()
	}
	filters := audit.Filters{
		Actor: strings.TrimSpace(q.Get("actor")),
		Limit: defaultLimit,
	}
	if v := strings.TrimSpace(q.Get("kind")); v != "" {
		kind := audit.Kind(strings.ToLower(v))
		if !kind.Valid() {
			return time.Time{}, audit.Filters{}, validationError{field: "kind"}
		}
		filters.Kind = kind
	}
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return time.Time{}, audit.Filters{}, validationError{field: "limit"}
		}
		if parsed > maxLimit {
			parsed = maxLimit
		}
		filters.Limit = parsed
	}
	return since, filters, nil
}

func (h *Handler) handleServerError(w http.ResponseWriter, message string, err error) {
	h.logger.Error(message, slog.Any("error", err))
	httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "")
}

type validationError struct {
	field string
}

func (validationError) Error() string {
	return "validation failed"
}
