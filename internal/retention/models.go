package retention

import (
	"time"

	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// PolicyState is the retention policy lifecycle.
type PolicyState string

const (
	PolicyDraft    PolicyState = "draft"
	PolicyActive   PolicyState = "active"
	PolicyArchived PolicyState = "archived"
)

var validPolicyTransitions = map[PolicyState][]PolicyState{
	PolicyDraft:    {PolicyActive},
	PolicyActive:   {PolicyArchived},
	PolicyArchived: {},
}

func (s PolicyState) CanTransitionTo(next PolicyState) bool {
	for _, allowed := range validPolicyTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Policy groups versioned retention terms under a stable identity. Containers
// reference the policy; the terms that bind at destruction time come from
// whichever version is active then.
type Policy struct {
	ID        id.PolicyID `json:"id"`
	Name      string      `json:"name"`
	State     PolicyState `json:"state"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func NewPolicy(policyID id.PolicyID, name string, now time.Time) (*Policy, error) {
	if name == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "policy name cannot be empty")
	}
	return &Policy{
		ID:        policyID,
		Name:      name,
		State:     PolicyDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// VersionState is the per-version lifecycle. Exactly one version of a policy
// may be active at a time; activating a version supersedes the previous one.
type VersionState string

const (
	VersionDraft      VersionState = "draft"
	VersionActive     VersionState = "active"
	VersionSuperseded VersionState = "superseded"
)

// DestructionMethod names an approved NAID destruction technique.
type DestructionMethod string

const (
	MethodShred      DestructionMethod = "shred"
	MethodPulverize  DestructionMethod = "pulverize"
	MethodIncinerate DestructionMethod = "incinerate"
	MethodDegauss    DestructionMethod = "degauss"
)

func (m DestructionMethod) IsValid() bool {
	switch m {
	case MethodShred, MethodPulverize, MethodIncinerate, MethodDegauss:
		return true
	}
	return false
}

// Terms are the substantive content of a policy version.
type Terms struct {
	RetentionDays int               `json:"retention_days"`
	Method        DestructionMethod `json:"method"`
	EffectiveDate time.Time         `json:"effective_date"`
}

func (t Terms) validate() error {
	if t.RetentionDays <= 0 {
		return dErrors.New(dErrors.CodeValidation, "retention period must be positive")
	}
	if !t.Method.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "unknown destruction method")
	}
	if t.EffectiveDate.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "effective date is required")
	}
	return nil
}

// Version is one revision of a policy's terms. VersionNumber increases
// monotonically within a policy and is never reused. Once a version leaves
// draft its terms are frozen; corrections are new versions.
type Version struct {
	ID            id.VersionID `json:"id"`
	PolicyID      id.PolicyID  `json:"policy_id"`
	VersionNumber int          `json:"version_number"`
	Terms         Terms        `json:"terms"`
	State         VersionState `json:"state"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

func newVersion(versionID id.VersionID, policyID id.PolicyID, number int, terms Terms, now time.Time) (*Version, error) {
	if err := terms.validate(); err != nil {
		return nil, err
	}
	return &Version{
		ID:            versionID,
		PolicyID:      policyID,
		VersionNumber: number,
		Terms:         terms,
		State:         VersionDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// UpdateTerms replaces the terms of a draft. Activated or superseded
// versions are immutable history.
func (v *Version) UpdateTerms(terms Terms, now time.Time) error {
	if v.State != VersionDraft {
		return dErrors.New(dErrors.CodeImmutability, "only draft versions can be edited")
	}
	if err := terms.validate(); err != nil {
		return err
	}
	v.Terms = terms
	v.UpdatedAt = now
	return nil
}
