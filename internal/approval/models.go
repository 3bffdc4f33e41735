package approval

import (
	"time"

	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// GroupPolicy controls how steps that share a sequence number resolve.
type GroupPolicy string

const (
	// GroupPolicyAll requires every step in the group to resolve, and every
	// mandatory one to resolve with an approval.
	GroupPolicyAll GroupPolicy = "all"

	// GroupPolicyAny satisfies the group on the first approval; remaining
	// open steps are skipped.
	GroupPolicyAny GroupPolicy = "any"
)

func (p GroupPolicy) IsValid() bool {
	return p == GroupPolicyAll || p == GroupPolicyAny
}

// StepDef is one approval slot in a workflow template. Steps with the same
// Sequence open in parallel; groups open in sequence order.
type StepDef struct {
	Sequence       int    `json:"sequence"`
	ApproverUser   string `json:"approver_user,omitempty"`
	ApproverGroup  string `json:"approver_group,omitempty"`
	Mandatory      bool   `json:"mandatory"`
	TimeoutDays    int    `json:"timeout_days"`
	EscalationUser string `json:"escalation_user,omitempty"`
}

func (d StepDef) validate() error {
	if d.Sequence <= 0 {
		return dErrors.New(dErrors.CodeValidation, "step sequence must be positive")
	}
	if d.ApproverUser == "" && d.ApproverGroup == "" {
		return dErrors.New(dErrors.CodeValidation, "step needs an approver user or group")
	}
	if d.TimeoutDays <= 0 {
		return dErrors.New(dErrors.CodeValidation, "step timeout must be positive")
	}
	return nil
}

// Template is a reusable approval workflow definition.
type Template struct {
	ID        id.WorkflowID `json:"id"`
	Name      string        `json:"name"`
	Steps     []StepDef     `json:"steps"`
	CreatedAt time.Time     `json:"created_at"`
}

func NewTemplate(workflowID id.WorkflowID, name string, steps []StepDef, now time.Time) (*Template, error) {
	if name == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "template name cannot be empty")
	}
	if len(steps) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "template needs at least one step")
	}
	mandatory := false
	for _, step := range steps {
		if err := step.validate(); err != nil {
			return nil, err
		}
		mandatory = mandatory || step.Mandatory
	}
	if !mandatory {
		return nil, dErrors.New(dErrors.CodeValidation, "template needs at least one mandatory step")
	}
	return &Template{ID: workflowID, Name: name, Steps: steps, CreatedAt: now}, nil
}

// InstanceState is the aggregate outcome of a running approval.
type InstanceState string

const (
	InstancePending  InstanceState = "pending"
	InstanceApproved InstanceState = "approved"
	InstanceRejected InstanceState = "rejected"
	InstanceExpired  InstanceState = "expired"
)

// Resolved reports whether the instance has reached a terminal outcome.
func (s InstanceState) Resolved() bool {
	return s != InstancePending
}

// Instance is one run of a template against a destruction request.
type Instance struct {
	ID          id.InstanceID `json:"id"`
	WorkflowID  id.WorkflowID `json:"workflow_id"`
	RequestID   id.RequestID  `json:"request_id"`
	RequestedBy string        `json:"requested_by"`
	State       InstanceState `json:"state"`
	CreatedAt   time.Time     `json:"created_at"`
	ResolvedAt  *time.Time    `json:"resolved_at,omitempty"`
}

// StepState is the per-step lifecycle.
//
//	waiting  - a later group; not yet actionable
//	pending  - open for a decision
//	approved/rejected - decided
//	expired  - deadline passed with no decision and no escalation left
//	skipped  - made moot by the instance or group resolving without it
type StepState string

const (
	StepWaiting  StepState = "waiting"
	StepPending  StepState = "pending"
	StepApproved StepState = "approved"
	StepRejected StepState = "rejected"
	StepExpired  StepState = "expired"
	StepSkipped  StepState = "skipped"
)

// Open reports whether the step can still receive a decision.
func (s StepState) Open() bool {
	return s == StepPending
}

func (s StepState) resolved() bool {
	switch s {
	case StepApproved, StepRejected, StepExpired, StepSkipped:
		return true
	}
	return false
}

// Step is one approval slot of a live instance. Deadline is set when the
// step's group opens, not at instantiation, so a three-day window means
// three days from becoming actionable.
type Step struct {
	ID             id.StepID     `json:"id"`
	InstanceID     id.InstanceID `json:"instance_id"`
	Sequence       int           `json:"sequence"`
	ApproverUser   string        `json:"approver_user,omitempty"`
	ApproverGroup  string        `json:"approver_group,omitempty"`
	Mandatory      bool          `json:"mandatory"`
	TimeoutDays    int           `json:"timeout_days"`
	EscalationUser string        `json:"escalation_user,omitempty"`
	State          StepState     `json:"state"`
	Escalated      bool          `json:"escalated"`
	Deadline       *time.Time    `json:"deadline,omitempty"`
	DecidedBy      string        `json:"decided_by,omitempty"`
	DecidedAt      *time.Time    `json:"decided_at,omitempty"`
	Comment        string        `json:"comment,omitempty"`
}

// open makes the step actionable and starts its timeout clock.
func (s *Step) open(now time.Time) {
	deadline := now.AddDate(0, 0, s.TimeoutDays)
	s.State = StepPending
	s.Deadline = &deadline
}

// escalate reassigns an overdue step to its escalation user and restarts the
// clock. A step escalates at most once.
func (s *Step) escalate(now time.Time) {
	deadline := now.AddDate(0, 0, s.TimeoutDays)
	s.ApproverUser = s.EscalationUser
	s.ApproverGroup = ""
	s.Escalated = true
	s.Deadline = &deadline
}

// Decision is an approver's verdict on a step.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

func (d Decision) IsValid() bool {
	return d == DecisionApprove || d == DecisionReject
}
