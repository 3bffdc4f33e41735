package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"custodia/internal/audit"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/httputil"
)

// AuditService is the read-only audit surface exposed over HTTP. The log has
// no write endpoint; entries are appended by domain operations only.
type AuditService interface {
	Query(ctx context.Context, filter audit.Filter) (audit.Page, error)
}

type auditHandler struct {
	audit  AuditService
	logger *slog.Logger
}

func newAuditHandler(auditSvc AuditService, logger *slog.Logger) *auditHandler {
	return &auditHandler{audit: auditSvc, logger: logger}
}

func (h *auditHandler) Register(r chi.Router) {
	r.Get("/audit-entries", h.handleQuery)
}

func (h *auditHandler) handleQuery(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	page, err := h.audit.Query(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

func filterFromQuery(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	var filter audit.Filter

	if entityType, entityID := q.Get("entity_type"), q.Get("entity_id"); entityType != "" || entityID != "" {
		if entityType == "" || entityID == "" {
			return filter, dErrors.New(dErrors.CodeInvalidInput, "entity_type and entity_id must be given together")
		}
		filter.Entity = &audit.EntityRef{Type: entityType, ID: entityID}
	}
	filter.Actor = q.Get("actor")
	filter.Action = audit.Action(q.Get("action"))

	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeInvalidInput, "from must be RFC 3339")
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeInvalidInput, "to must be RFC 3339")
		}
		filter.To = t
	}
	if v := q.Get("after_seq"); v != "" {
		seq, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeInvalidInput, "after_seq must be a non-negative integer")
		}
		filter.AfterSeq = seq
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return filter, dErrors.New(dErrors.CodeInvalidInput, "limit must be a non-negative integer")
		}
		filter.Limit = limit
	}
	return filter, nil
}
