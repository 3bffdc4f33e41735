package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"custodia/internal/approval"
	"custodia/internal/identity"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/httputil"
)

// ApprovalService is the approval-workflow surface exposed over HTTP.
// Instantiation is not exposed; instances are created by submitting a
// destruction request.
type ApprovalService interface {
	CreateTemplate(ctx context.Context, actor identity.Actor, name string, steps []approval.StepDef) (*approval.Template, error)
	GetTemplate(ctx context.Context, workflowID id.WorkflowID) (*approval.Template, error)
	ListTemplates(ctx context.Context) ([]*approval.Template, error)
	GetInstance(ctx context.Context, instanceID id.InstanceID) (*approval.Instance, []*approval.Step, error)
	RecordDecision(ctx context.Context, actor identity.Actor, stepID id.StepID, decision approval.Decision, comment string) (*approval.Instance, error)
}

type approvalHandler struct {
	approvals ApprovalService
	logger    *slog.Logger
}

func newApprovalHandler(approvals ApprovalService, logger *slog.Logger) *approvalHandler {
	return &approvalHandler{approvals: approvals, logger: logger}
}

func (h *approvalHandler) Register(r chi.Router) {
	r.Route("/approval-templates", func(r chi.Router) {
		r.Post("/", h.handleCreateTemplate)
		r.Get("/", h.handleListTemplates)
		r.Get("/{workflowID}", h.handleGetTemplate)
	})
	r.Get("/approval-instances/{instanceID}", h.handleGetInstance)
	r.Post("/approval-steps/{stepID}/decision", h.handleDecision)
}

type createTemplateRequest struct {
	Name  string             `json:"name"`
	Steps []approval.StepDef `json:"steps"`
}

func (h *approvalHandler) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr500(w, r)
	if !ok {
		return
	}
	req, ok := httputil.Decode[createTemplateRequest](w, r)
	if !ok {
		return
	}
	template, err := h.approvals.CreateTemplate(r.Context(), actor, req.Name, req.Steps)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, template)
}

func (h *approvalHandler) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.approvals.ListTemplates(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

func (h *approvalHandler) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	workflowID, err := id.ParseWorkflowID(chi.URLParam(r, "workflowID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	template, err := h.approvals.GetTemplate(r.Context(), workflowID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, template)
}

func (h *approvalHandler) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	instanceID, err := id.ParseInstanceID(chi.URLParam(r, "instanceID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	instance, steps, err := h.approvals.GetInstance(r.Context(), instanceID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"instance": instance, "steps": steps})
}

type decisionRequest struct {
	Decision string `json:"decision"`
	Comment  string `json:"comment"`
}

func (h *approvalHandler) handleDecision(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr500(w, r)
	if !ok {
		return
	}
	stepID, err := id.ParseStepID(chi.URLParam(r, "stepID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[decisionRequest](w, r)
	if !ok {
		return
	}
	instance, err := h.approvals.RecordDecision(r.Context(), actor, stepID, approval.Decision(req.Decision), req.Comment)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, instance)
}
