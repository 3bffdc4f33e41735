package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"custodia/internal/identity"
	"custodia/internal/retention"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/httputil"
)

// RetentionService is the policy-versioning surface exposed over HTTP.
type RetentionService interface {
	CreatePolicy(ctx context.Context, actor identity.Actor, name string, terms retention.Terms) (*retention.Policy, *retention.Version, error)
	GetPolicy(ctx context.Context, policyID id.PolicyID) (*retention.Policy, error)
	ListPolicies(ctx context.Context) ([]*retention.Policy, error)
	ActivatePolicy(ctx context.Context, actor identity.Actor, policyID id.PolicyID) (*retention.Policy, error)
	ArchivePolicy(ctx context.Context, actor identity.Actor, policyID id.PolicyID) (*retention.Policy, error)
	CreateVersion(ctx context.Context, actor identity.Actor, policyID id.PolicyID, terms retention.Terms) (*retention.Version, error)
	UpdateDraftTerms(ctx context.Context, actor identity.Actor, versionID id.VersionID, terms retention.Terms) (*retention.Version, error)
	ActivateVersion(ctx context.Context, actor identity.Actor, versionID id.VersionID) (*retention.Version, error)
	ListVersions(ctx context.Context, policyID id.PolicyID) ([]*retention.Version, error)
}

type retentionHandler struct {
	retention RetentionService
	logger    *slog.Logger
}

func newRetentionHandler(ret RetentionService, logger *slog.Logger) *retentionHandler {
	return &retentionHandler{retention: ret, logger: logger}
}

func (h *retentionHandler) Register(r chi.Router) {
	r.Route("/policies", func(r chi.Router) {
		r.Post("/", h.handleCreatePolicy)
		r.Get("/", h.handleListPolicies)
		r.Get("/{policyID}", h.handleGetPolicy)
		r.Post("/{policyID}/activate", h.handleActivatePolicy)
		r.Post("/{policyID}/archive", h.handleArchivePolicy)
		r.Post("/{policyID}/versions", h.handleCreateVersion)
		r.Get("/{policyID}/versions", h.handleListVersions)
	})
	r.Route("/policy-versions", func(r chi.Router) {
		r.Put("/{versionID}", h.handleUpdateDraft)
		r.Post("/{versionID}/activate", h.handleActivateVersion)
	})
}

type termsPayload struct {
	RetentionDays int       `json:"retention_days"`
	Method        string    `json:"method"`
	EffectiveDate time.Time `json:"effective_date"`
}

func (p termsPayload) terms() retention.Terms {
	return retention.Terms{
		RetentionDays: p.RetentionDays,
		Method:        retention.DestructionMethod(p.Method),
		EffectiveDate: p.EffectiveDate,
	}
}

type createPolicyRequest struct {
	Name  string       `json:"name"`
	Terms termsPayload `json:"terms"`
}

func (h *retentionHandler) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr500(w, r)
	if !ok {
		return
	}
	req, ok := httputil.Decode[createPolicyRequest](w, r)
	if !ok {
		return
	}
	policy, version, err := h.retention.CreatePolicy(r.Context(), actor, req.Name, req.Terms.terms())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{"policy": policy, "version": version})
}

func (h *retentionHandler) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.retention.ListPolicies(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"policies": policies})
}

func (h *retentionHandler) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	policyID, err := id.ParsePolicyID(chi.URLParam(r, "policyID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	policy, err := h.retention.GetPolicy(r.Context(), policyID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, policy)
}

func (h *retentionHandler) handleActivatePolicy(w http.ResponseWriter, r *http.Request) {
	h.policyTransition(w, r, h.retention.ActivatePolicy)
}

func (h *retentionHandler) handleArchivePolicy(w http.ResponseWriter, r *http.Request) {
	h.policyTransition(w, r, h.retention.ArchivePolicy)
}

func (h *retentionHandler) policyTransition(w http.ResponseWriter, r *http.Request,
	op func(context.Context, identity.Actor, id.PolicyID) (*retention.Policy, error)) {
	actor, ok := actorOr500(w, r)
	if !ok {
		return
	}
	policyID, err := id.ParsePolicyID(chi.URLParam(r, "policyID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	policy, err := op(r.Context(), actor, policyID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, policy)
}

func (h *retentionHandler) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr500(w, r)
	if !ok {
		return
	}
	policyID, err := id.ParsePolicyID(chi.URLParam(r, "policyID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[termsPayload](w, r)
	if !ok {
		return
	}
	version, err := h.retention.CreateVersion(r.Context(), actor, policyID, req.terms())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, version)
}

func (h *retentionHandler) handleListVersions(w http.ResponseWriter, r *http.Request) {
	policyID, err := id.ParsePolicyID(chi.URLParam(r, "policyID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	versions, err := h.retention.ListVersions(r.Context(), policyID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (h *retentionHandler) handleUpdateDraft(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr500(w, r)
	if !ok {
		return
	}
	versionID, err := id.ParseVersionID(chi.URLParam(r, "versionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[termsPayload](w, r)
	if !ok {
		return
	}
	version, err := h.retention.UpdateDraftTerms(r.Context(), actor, versionID, req.terms())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, version)
}

func (h *retentionHandler) handleActivateVersion(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr500(w, r)
	if !ok {
		return
	}
	versionID, err := id.ParseVersionID(chi.URLParam(r, "versionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	version, err := h.retention.ActivateVersion(r.Context(), actor, versionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, version)
}
