package audit

import (
	"time"

	id "custodia/pkg/domain"
)

// Action names a compliance-relevant operation. Every state-changing
// operation in the system appends exactly one entry with one of these.
type Action string

const (
	ActionContainerIntake      Action = "container_intake"
	ActionContainerActivated   Action = "container_activated"
	ActionContainerArchived    Action = "container_archived"
	ActionLegalHoldSet         Action = "legal_hold_set"
	ActionLegalHoldCleared     Action = "legal_hold_cleared"
	ActionCustodyTransferred   Action = "custody_transferred"
	ActionChainIntegrityBroken Action = "chain_integrity_broken"

	ActionPolicyCreated          Action = "retention_policy_created"
	ActionPolicyVersionCreated   Action = "retention_policy_version_created"
	ActionPolicyVersionActivated Action = "retention_policy_version_activated"

	ActionApprovalInstanceCreated Action = "approval_instance_created"
	ActionApprovalStepApproved    Action = "approval_step_approved"
	ActionApprovalStepRejected    Action = "approval_step_rejected"
	ActionApprovalStepEscalated   Action = "approval_step_escalated"
	ActionApprovalStepExpired     Action = "approval_step_expired"
	ActionApprovalResolved        Action = "approval_instance_resolved"

	ActionDestructionSubmitted Action = "destruction_submitted"
	ActionDestructionApproved  Action = "destruction_approved"
	ActionDestructionExecuted  Action = "destruction_executed"
	ActionDestructionCompleted Action = "destruction_completed"
	ActionDestructionCancelled Action = "destruction_cancelled"
	ActionCertificateIssued    Action = "destruction_certificate_issued"
)

// EntityRef points an entry at the domain entity it concerns.
type EntityRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func ContainerRef(cid id.ContainerID) EntityRef {
	return EntityRef{Type: "container", ID: cid.String()}
}

func RequestRef(rid id.RequestID) EntityRef {
	return EntityRef{Type: "destruction_request", ID: rid.String()}
}

func PolicyRef(pid id.PolicyID) EntityRef {
	return EntityRef{Type: "retention_policy", ID: pid.String()}
}

func InstanceRef(iid id.InstanceID) EntityRef {
	return EntityRef{Type: "approval_instance", ID: iid.String()}
}

func CertificateRef(cid id.CertificateID) EntityRef {
	return EntityRef{Type: "destruction_certificate", ID: cid.String()}
}

// Entry is one immutable record of a compliance action. Seq is assigned by
// the store on append and is strictly monotonic, which gives queries a total
// order and pagination a stable cursor even when timestamps collide.
type Entry struct {
	ID          id.EntryID `json:"id"`
	Seq         uint64     `json:"seq"`
	Timestamp   time.Time  `json:"timestamp"`
	Actor       string     `json:"actor"`
	Action      Action     `json:"action"`
	Entity      EntityRef  `json:"entity"`
	Description string     `json:"description"`
	RequestID   string     `json:"request_id,omitempty"`
}

// Filter narrows a query. Zero fields match everything. AfterSeq is an
// exclusive cursor: pass the Seq of the last entry seen to resume a scan.
type Filter struct {
	Entity   *EntityRef
	Actor    string
	Action   Action
	From     time.Time
	To       time.Time
	AfterSeq uint64
	Limit    int
}

// Matches reports whether the entry satisfies the filter, cursor included.
func (f Filter) Matches(e Entry) bool {
	if e.Seq <= f.AfterSeq {
		return false
	}
	if f.Entity != nil && (f.Entity.Type != e.Entity.Type || f.Entity.ID != e.Entity.ID) {
		return false
	}
	if f.Actor != "" && f.Actor != e.Actor {
		return false
	}
	if f.Action != "" && f.Action != e.Action {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}

// Page is one slice of a query result, ordered by Seq ascending. NextAfterSeq
// feeds the next Filter.AfterSeq; More is false on the final page.
type Page struct {
	Entries      []Entry `json:"entries"`
	NextAfterSeq uint64  `json:"next_after_seq"`
	More         bool    `json:"more"`
}
