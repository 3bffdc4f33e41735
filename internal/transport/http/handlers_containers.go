package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"custodia/internal/container"
	"custodia/internal/custody"
	"custodia/internal/identity"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/httputil"
)

// ContainerService is the container lifecycle surface exposed over HTTP.
type ContainerService interface {
	Intake(ctx context.Context, actor identity.Actor, label string, custodian id.CustodianID, policyID id.PolicyID) (*container.Container, error)
	Get(ctx context.Context, containerID id.ContainerID) (*container.Container, error)
	List(ctx context.Context) ([]*container.Container, error)
	Activate(ctx context.Context, actor identity.Actor, containerID id.ContainerID) (*container.Container, error)
	SetLegalHold(ctx context.Context, actor identity.Actor, containerID id.ContainerID, reason string) (*container.Container, error)
	ClearLegalHold(ctx context.Context, actor identity.Actor, containerID id.ContainerID) (*container.Container, error)
	Archive(ctx context.Context, actor identity.Actor, containerID id.ContainerID) (*container.Container, error)
}

// CustodyService is the chain-of-custody surface exposed over HTTP.
type CustodyService interface {
	RecordTransfer(ctx context.Context, actor identity.Actor, containerID id.ContainerID, from, to id.CustodianID, location string, occurredAt time.Time) (custody.Event, error)
	History(ctx context.Context, containerID id.ContainerID) ([]custody.Event, error)
}

type containerHandler struct {
	containers ContainerService
	custody    CustodyService
	logger     *slog.Logger
}

func newContainerHandler(containers ContainerService, cust CustodyService, logger *slog.Logger) *containerHandler {
	return &containerHandler{containers: containers, custody: cust, logger: logger}
}

func (h *containerHandler) Register(r chi.Router) {
	r.Route("/containers", func(r chi.Router) {
		r.Post("/", h.handleIntake)
		r.Get("/", h.handleList)
		r.Get("/{containerID}", h.handleGet)
		r.Post("/{containerID}/activate", h.handleActivate)
		r.Post("/{containerID}/legal-hold", h.handleSetLegalHold)
		r.Delete("/{containerID}/legal-hold", h.handleClearLegalHold)
		r.Post("/{containerID}/archive", h.handleArchive)
		r.Post("/{containerID}/transfers", h.handleTransfer)
		r.Get("/{containerID}/transfers", h.handleHistory)
	})
}

type intakeRequest struct {
	Label     string `json:"label"`
	Custodian string `json:"custodian_id"`
	PolicyID  string `json:"policy_id"`
}

func (h *containerHandler) handleIntake(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr500(w, r)
	if !ok {
		return
	}
	req, ok := httputil.Decode[intakeRequest](w, r)
	if !ok {
		return
	}
	custodian, err := id.ParseCustodianID(req.Custodian)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	policyID, err := id.ParsePolicyID(req.PolicyID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	c, err := h.containers.Intake(r.Context(), actor, req.Label, custodian, policyID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, c)
}

func (h *containerHandler) handleList(w http.ResponseWriter, r *http.Request) {
	containers, err := h.containers.List(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"containers": containers})
}

func (h *containerHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	containerID, err := id.ParseContainerID(chi.URLParam(r, "containerID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	c, err := h.containers.Get(r.Context(), containerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

func (h *containerHandler) handleActivate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.containers.Activate)
}

func (h *containerHandler) handleArchive(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.containers.Archive)
}

// transition factors the shared shape of single-container state changes.
func (h *containerHandler) transition(w http.ResponseWriter, r *http.Request,
	op func(context.Context, identity.Actor, id.ContainerID) (*container.Container, error)) {
	actor, ok := actorOr500(w, r)
	if !ok {
		return
	}
	containerID, err := id.ParseContainerID(chi.URLParam(r, "containerID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	c, err := op(r.Context(), actor, containerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

type legalHoldRequest struct {
	Reason string `json:"reason"`
}

func (h *containerHandler) handleSetLegalHold(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr500(w, r)
	if !ok {
		return
	}
	containerID, err := id.ParseContainerID(chi.URLParam(r, "containerID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[legalHoldRequest](w, r)
	if !ok {
		return
	}
	c, err := h.containers.SetLegalHold(r.Context(), actor, containerID, req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

func (h *containerHandler) handleClearLegalHold(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, actor identity.Actor, containerID id.ContainerID) (*container.Container, error) {
		return h.containers.ClearLegalHold(ctx, actor, containerID)
	})
}

type transferRequest struct {
	From       string     `json:"from_custodian_id"`
	To         string     `json:"to_custodian_id"`
	Location   string     `json:"location"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
}

func (h *containerHandler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr500(w, r)
	if !ok {
		return
	}
	containerID, err := id.ParseContainerID(chi.URLParam(r, "containerID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[transferRequest](w, r)
	if !ok {
		return
	}
	from, err := id.ParseCustodianID(req.From)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	to, err := id.ParseCustodianID(req.To)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	occurredAt := time.Time{}
	if req.OccurredAt != nil {
		occurredAt = *req.OccurredAt
	}

	event, err := h.custody.RecordTransfer(r.Context(), actor, containerID, from, to, req.Location, occurredAt)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, event)
}

func (h *containerHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	containerID, err := id.ParseContainerID(chi.URLParam(r, "containerID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	events, err := h.custody.History(r.Context(), containerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}
