package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"custodia/internal/destruction"
	"custodia/internal/identity"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/httputil"
)

// RequestService is the destruction-workflow surface exposed over HTTP.
type RequestService interface {
	Create(ctx context.Context, actor identity.Actor, containerIDs []id.ContainerID, workflowID id.WorkflowID, reason string) (*destruction.Request, error)
	Submit(ctx context.Context, actor identity.Actor, requestID id.RequestID) (*destruction.Request, error)
	Execute(ctx context.Context, actor identity.Actor, requestID id.RequestID, facility id.CustodianID, location string) (*destruction.Request, error)
	Complete(ctx context.Context, actor identity.Actor, requestID id.RequestID, performedBy, witness string, destroyedAt time.Time) (*destruction.Certificate, error)
	Cancel(ctx context.Context, actor identity.Actor, requestID id.RequestID, reason string) (*destruction.Request, error)
	Get(ctx context.Context, requestID id.RequestID) (*destruction.Request, error)
	List(ctx context.Context) ([]*destruction.Request, error)
	GetCertificate(ctx context.Context, certID id.CertificateID) (*destruction.Certificate, error)
}

type requestHandler struct {
	requests RequestService
	logger   *slog.Logger
}

func newRequestHandler(requests RequestService, logger *slog.Logger) *requestHandler {
	return &requestHandler{requests: requests, logger: logger}
}

func (h *requestHandler) Register(r chi.Router) {
	r.Route("/destruction-requests", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Get("/{requestID}", h.handleGet)
		r.Post("/{requestID}/submit", h.handleSubmit)
		r.Post("/{requestID}/execute", h.handleExecute)
		r.Post("/{requestID}/complete", h.handleComplete)
		r.Post("/{requestID}/cancel", h.handleCancel)
	})
	r.Get("/certificates/{certificateID}", h.handleGetCertificate)
}

type createRequestPayload struct {
	ContainerIDs []string `json:"container_ids"`
	WorkflowID   string   `json:"workflow_id"`
	Reason       string   `json:"reason"`
}

func (h *requestHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr500(w, r)
	if !ok {
		return
	}
	req, ok := httputil.Decode[createRequestPayload](w, r)
	if !ok {
		return
	}
	containerIDs := make([]id.ContainerID, 0, len(req.ContainerIDs))
	for _, raw := range req.ContainerIDs {
		containerID, err := id.ParseContainerID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		containerIDs = append(containerIDs, containerID)
	}
	workflowID, err := id.ParseWorkflowID(req.WorkflowID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	request, err := h.requests.Create(r.Context(), actor, containerIDs, workflowID, req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, request)
}

func (h *requestHandler) handleList(w http.ResponseWriter, r *http.Request) {
	requests, err := h.requests.List(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"requests": requests})
}

func (h *requestHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	requestID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	request, err := h.requests.Get(r.Context(), requestID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, request)
}

func (h *requestHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr500(w, r)
	if !ok {
		return
	}
	requestID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	request, err := h.requests.Submit(r.Context(), actor, requestID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, request)
}

type executePayload struct {
	FacilityCustodianID string `json:"facility_custodian_id"`
	Location            string `json:"location"`
}

func (h *requestHandler) handleExecute(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr500(w, r)
	if !ok {
		return
	}
	requestID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[executePayload](w, r)
	if !ok {
		return
	}
	facility, err := id.ParseCustodianID(req.FacilityCustodianID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	request, err := h.requests.Execute(r.Context(), actor, requestID, facility, req.Location)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, request)
}

type completePayload struct {
	PerformedBy string     `json:"performed_by"`
	Witness     string     `json:"witness"`
	DestroyedAt *time.Time `json:"destroyed_at,omitempty"`
}

func (h *requestHandler) handleComplete(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr500(w, r)
	if !ok {
		return
	}
	requestID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[completePayload](w, r)
	if !ok {
		return
	}
	destroyedAt := time.Time{}
	if req.DestroyedAt != nil {
		destroyedAt = *req.DestroyedAt
	}
	cert, err := h.requests.Complete(r.Context(), actor, requestID, req.PerformedBy, req.Witness, destroyedAt)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, cert)
}

type cancelPayload struct {
	Reason string `json:"reason"`
}

func (h *requestHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr500(w, r)
	if !ok {
		return
	}
	requestID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[cancelPayload](w, r)
	if !ok {
		return
	}
	request, err := h.requests.Cancel(r.Context(), actor, requestID, req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, request)
}

func (h *requestHandler) handleGetCertificate(w http.ResponseWriter, r *http.Request) {
	certID, err := id.ParseCertificateID(chi.URLParam(r, "certificateID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	cert, err := h.requests.GetCertificate(r.Context(), certID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cert)
}
