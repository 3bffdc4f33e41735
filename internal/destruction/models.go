package destruction

import (
	"time"

	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// RequestState is the destruction request lifecycle. Draft requests are
// editable intent; submission binds the policy version and starts the
// approval; execution and completion are physical-world checkpoints.
type RequestState string

const (
	RequestDraft     RequestState = "draft"
	RequestSubmitted RequestState = "submitted"
	RequestApproved  RequestState = "approved"
	RequestRejected  RequestState = "rejected"
	RequestExecuting RequestState = "executing"
	RequestCompleted RequestState = "completed"
	RequestCancelled RequestState = "cancelled"
)

var validRequestTransitions = map[RequestState][]RequestState{
	RequestDraft:     {RequestSubmitted, RequestCancelled},
	RequestSubmitted: {RequestApproved, RequestRejected, RequestCancelled},
	RequestApproved:  {RequestExecuting},
	RequestExecuting: {RequestCompleted},
	RequestRejected:  {},
	RequestCompleted: {},
	RequestCancelled: {},
}

func (s RequestState) CanTransitionTo(next RequestState) bool {
	for _, allowed := range validRequestTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Request tracks one or more containers' path to destruction. Containers on
// a request are destroyed together under one certificate.
type Request struct {
	ID              id.RequestID      `json:"id"`
	ContainerIDs    []id.ContainerID  `json:"container_ids"`
	WorkflowID      id.WorkflowID     `json:"workflow_id"`
	PolicyVersionID *id.VersionID     `json:"policy_version_id,omitempty"`
	InstanceID      *id.InstanceID    `json:"approval_instance_id,omitempty"`
	CertificateID   *id.CertificateID `json:"certificate_id,omitempty"`
	State           RequestState      `json:"state"`
	RequestedBy     string            `json:"requested_by"`
	Reason          string            `json:"reason"`
	StateReason     string            `json:"state_reason,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func NewRequest(requestID id.RequestID, containerIDs []id.ContainerID, workflowID id.WorkflowID, requestedBy, reason string, now time.Time) (*Request, error) {
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "destruction reason is required")
	}
	if requestedBy == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "requester is required")
	}
	if len(containerIDs) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one container is required")
	}
	seen := make(map[id.ContainerID]struct{}, len(containerIDs))
	for _, containerID := range containerIDs {
		if containerID.IsNil() {
			return nil, dErrors.New(dErrors.CodeValidation, "container id is required")
		}
		if _, dup := seen[containerID]; dup {
			return nil, dErrors.New(dErrors.CodeValidation, "duplicate container on request")
		}
		seen[containerID] = struct{}{}
	}
	return &Request{
		ID:           requestID,
		ContainerIDs: containerIDs,
		WorkflowID:   workflowID,
		State:        RequestDraft,
		RequestedBy:  requestedBy,
		Reason:       reason,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (r *Request) transition(next RequestState, now time.Time) error {
	if !r.State.CanTransitionTo(next) {
		return dErrors.New(dErrors.CodeValidation,
			"request cannot move from "+string(r.State)+" to "+string(next))
	}
	r.State = next
	r.UpdatedAt = now
	return nil
}

// Submit binds the policy version in force and the approval instance that
// will gate the request.
func (r *Request) Submit(versionID id.VersionID, instanceID id.InstanceID, now time.Time) error {
	if err := r.transition(RequestSubmitted, now); err != nil {
		return err
	}
	r.PolicyVersionID = &versionID
	r.InstanceID = &instanceID
	return nil
}

func (r *Request) Approve(now time.Time) error {
	return r.transition(RequestApproved, now)
}

func (r *Request) Reject(reason string, now time.Time) error {
	if err := r.transition(RequestRejected, now); err != nil {
		return err
	}
	r.StateReason = reason
	return nil
}

func (r *Request) BeginExecution(now time.Time) error {
	return r.transition(RequestExecuting, now)
}

func (r *Request) Complete(certificateID id.CertificateID, now time.Time) error {
	if certificateID == (id.CertificateID{}) {
		return dErrors.New(dErrors.CodeInvariantViolation, "completion requires a certificate")
	}
	if err := r.transition(RequestCompleted, now); err != nil {
		return err
	}
	r.CertificateID = &certificateID
	return nil
}

// Cancel withdraws a request that has not been approved yet. Once approval
// is granted the request either executes or is left to stand in the record.
func (r *Request) Cancel(reason string, now time.Time) error {
	if reason == "" {
		return dErrors.New(dErrors.CodeValidation, "cancellation reason is required")
	}
	if err := r.transition(RequestCancelled, now); err != nil {
		return err
	}
	r.StateReason = reason
	return nil
}
