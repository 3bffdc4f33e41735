package container

import (
	"time"

	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// State is the container lifecycle state. Transitions happen only through
// the Can*/Apply* pairs below, so an illegal transition is a construction
// error rather than a string mismatch discovered in production.
type State string

const (
	StateIntake             State = "intake"
	StateActive             State = "active"
	StatePendingDestruction State = "pending_destruction"
	StateDestroyed          State = "destroyed"
	StateArchived           State = "archived"
)

// validTransitions is the single source of truth for the lifecycle graph.
var validTransitions = map[State][]State{
	StateIntake:             {StateActive},
	StateActive:             {StatePendingDestruction},
	StatePendingDestruction: {StateDestroyed},
	StateDestroyed:          {StateArchived},
	StateArchived:           {},
}

func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s State) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// ChainIntegrity records whether the container's custody chain is unbroken.
type ChainIntegrity string

const (
	ChainIntact ChainIntegrity = "intact"
	ChainBroken ChainIntegrity = "broken"
)

// Container is the aggregate root for a physical item under custody.
//
// Invariants:
//   - State follows the lifecycle graph above; no other transitions exist
//   - LegalHold is orthogonal to State and blocks any transition into
//     destroyed while set
//   - A transition into destroyed requires a linked destruction certificate
//   - Containers are never deleted, only archived
type Container struct {
	ID               id.ContainerID     `json:"id"`
	Label            string             `json:"label"`
	State            State              `json:"state"`
	LegalHold        bool               `json:"legal_hold"`
	LegalHoldReason  string             `json:"legal_hold_reason,omitempty"`
	ChainIntegrity   ChainIntegrity     `json:"chain_integrity"`
	IntakeCustodian  id.CustodianID     `json:"intake_custodian"`
	CurrentCustodian id.CustodianID     `json:"current_custodian"`
	PolicyID         id.PolicyID        `json:"retention_policy_id"`
	CertificateID    *id.CertificateID  `json:"certificate_id,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`

	// Version supports optimistic concurrency: stores reject an update whose
	// version does not match the stored row.
	Version int64 `json:"version"`
}

// New constructs a container at intake. The intake custodian anchors the
// custody chain: the first transfer must originate from them.
func New(containerID id.ContainerID, label string, custodian id.CustodianID, policyID id.PolicyID, now time.Time) (*Container, error) {
	if label == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "container label cannot be empty")
	}
	if custodian.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "intake custodian is required")
	}
	if policyID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "retention policy is required")
	}
	return &Container{
		ID:               containerID,
		Label:            label,
		State:            StateIntake,
		ChainIntegrity:   ChainIntact,
		IntakeCustodian:  custodian,
		CurrentCustodian: custodian,
		PolicyID:         policyID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

func (c *Container) CanActivate() error {
	if !c.State.CanTransitionTo(StateActive) {
		return dErrors.New(dErrors.CodeInvariantViolation, "container must be in intake to activate")
	}
	return nil
}

func (c *Container) ApplyActivation(now time.Time) {
	c.State = StateActive
	c.UpdatedAt = now
}

// CanBeginDestruction guards the active -> pending_destruction transition.
// A container under legal hold never becomes eligible.
func (c *Container) CanBeginDestruction() error {
	if c.LegalHold {
		return dErrors.New(dErrors.CodeValidation, "container is under legal hold")
	}
	if !c.State.CanTransitionTo(StatePendingDestruction) {
		return dErrors.New(dErrors.CodeValidation, "container must be active to begin destruction")
	}
	return nil
}

func (c *Container) ApplyBeginDestruction(now time.Time) {
	c.State = StatePendingDestruction
	c.UpdatedAt = now
}

// CanCompleteDestruction guards the pending_destruction -> destroyed
// transition. The legal-hold check repeats here so a hold placed after
// destruction began still blocks the irreversible step.
func (c *Container) CanCompleteDestruction(certificateID id.CertificateID) error {
	if c.LegalHold {
		return dErrors.New(dErrors.CodeValidation, "container is under legal hold")
	}
	if certificateID == (id.CertificateID{}) {
		return dErrors.New(dErrors.CodeValidation, "destruction requires a certificate")
	}
	if !c.State.CanTransitionTo(StateDestroyed) {
		return dErrors.New(dErrors.CodeValidation, "container is not pending destruction")
	}
	return nil
}

func (c *Container) ApplyCompleteDestruction(certificateID id.CertificateID, now time.Time) {
	c.State = StateDestroyed
	c.CertificateID = &certificateID
	c.UpdatedAt = now
}

func (c *Container) CanArchive() error {
	if !c.State.CanTransitionTo(StateArchived) {
		return dErrors.New(dErrors.CodeInvariantViolation, "only destroyed containers can be archived")
	}
	return nil
}

func (c *Container) ApplyArchive(now time.Time) {
	c.State = StateArchived
	c.UpdatedAt = now
}

// SetLegalHold places a hold. Idempotent holds are rejected so the audit
// trail reflects exactly one set per hold.
func (c *Container) SetLegalHold(reason string, now time.Time) error {
	if c.LegalHold {
		return dErrors.New(dErrors.CodeInvariantViolation, "container is already under legal hold")
	}
	if c.State == StateDestroyed || c.State == StateArchived {
		return dErrors.New(dErrors.CodeInvariantViolation, "cannot hold a destroyed container")
	}
	c.LegalHold = true
	c.LegalHoldReason = reason
	c.UpdatedAt = now
	return nil
}

func (c *Container) ClearLegalHold(now time.Time) error {
	if !c.LegalHold {
		return dErrors.New(dErrors.CodeInvariantViolation, "container is not under legal hold")
	}
	c.LegalHold = false
	c.LegalHoldReason = ""
	c.UpdatedAt = now
	return nil
}

// MarkChainBroken flags the custody chain. The flag is sticky: once broken,
// only a new intake could produce an intact chain, so there is no unset.
func (c *Container) MarkChainBroken(now time.Time) {
	c.ChainIntegrity = ChainBroken
	c.UpdatedAt = now
}

// SetCustodian records the holder after a validated custody transfer.
func (c *Container) SetCustodian(custodian id.CustodianID, now time.Time) {
	c.CurrentCustodian = custodian
	c.UpdatedAt = now
}
