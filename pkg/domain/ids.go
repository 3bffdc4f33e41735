package domain

import (
	"github.com/google/uuid"

	dErrors "custodia/pkg/domain-errors"
)

// Typed UUID wrappers for the compliance domain. Distinct types prevent a
// container id from being passed where a request id is expected; the compiler
// enforces what a stringly-typed schema cannot.
//
// Construct via the Parse* helpers at trust boundaries; direct casting
// bypasses validation.
type (
	ContainerID   uuid.UUID
	CustodianID   uuid.UUID
	EventID       uuid.UUID
	PolicyID      uuid.UUID
	VersionID     uuid.UUID
	WorkflowID    uuid.UUID
	InstanceID    uuid.UUID
	StepID        uuid.UUID
	RequestID     uuid.UUID
	CertificateID uuid.UUID
	EntryID       uuid.UUID
)

func (id ContainerID) String() string   { return uuid.UUID(id).String() }
func (id CustodianID) String() string   { return uuid.UUID(id).String() }
func (id EventID) String() string       { return uuid.UUID(id).String() }
func (id PolicyID) String() string      { return uuid.UUID(id).String() }
func (id VersionID) String() string     { return uuid.UUID(id).String() }
func (id WorkflowID) String() string    { return uuid.UUID(id).String() }
func (id InstanceID) String() string    { return uuid.UUID(id).String() }
func (id StepID) String() string        { return uuid.UUID(id).String() }
func (id RequestID) String() string     { return uuid.UUID(id).String() }
func (id CertificateID) String() string { return uuid.UUID(id).String() }
func (id EntryID) String() string       { return uuid.UUID(id).String() }

func (id ContainerID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id CustodianID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id PolicyID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id VersionID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id InstanceID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id RequestID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }

// The Marshal/UnmarshalText pairs keep JSON and text encodings in the
// canonical UUID string form rather than the raw byte-array default.

func (id ContainerID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }
func (id CustodianID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }
func (id EventID) MarshalText() ([]byte, error)       { return uuid.UUID(id).MarshalText() }
func (id PolicyID) MarshalText() ([]byte, error)      { return uuid.UUID(id).MarshalText() }
func (id VersionID) MarshalText() ([]byte, error)     { return uuid.UUID(id).MarshalText() }
func (id WorkflowID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id InstanceID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id StepID) MarshalText() ([]byte, error)        { return uuid.UUID(id).MarshalText() }
func (id RequestID) MarshalText() ([]byte, error)     { return uuid.UUID(id).MarshalText() }
func (id CertificateID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id EntryID) MarshalText() ([]byte, error)       { return uuid.UUID(id).MarshalText() }

func (id *ContainerID) UnmarshalText(b []byte) error   { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *CustodianID) UnmarshalText(b []byte) error   { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *EventID) UnmarshalText(b []byte) error       { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *PolicyID) UnmarshalText(b []byte) error      { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *VersionID) UnmarshalText(b []byte) error     { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *WorkflowID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *InstanceID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *StepID) UnmarshalText(b []byte) error        { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *RequestID) UnmarshalText(b []byte) error     { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *CertificateID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *EntryID) UnmarshalText(b []byte) error       { return (*uuid.UUID)(id).UnmarshalText(b) }

// parseUUID enforces the shared invariant: ids must be valid, non-nil UUIDs.
func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be the nil UUID")
	}
	return u, nil
}

func ParseContainerID(s string) (ContainerID, error) {
	u, err := parseUUID(s)
	return ContainerID(u), err
}

func ParseCustodianID(s string) (CustodianID, error) {
	u, err := parseUUID(s)
	return CustodianID(u), err
}

func ParsePolicyID(s string) (PolicyID, error) {
	u, err := parseUUID(s)
	return PolicyID(u), err
}

func ParseVersionID(s string) (VersionID, error) {
	u, err := parseUUID(s)
	return VersionID(u), err
}

func ParseWorkflowID(s string) (WorkflowID, error) {
	u, err := parseUUID(s)
	return WorkflowID(u), err
}

func ParseInstanceID(s string) (InstanceID, error) {
	u, err := parseUUID(s)
	return InstanceID(u), err
}

func ParseStepID(s string) (StepID, error) {
	u, err := parseUUID(s)
	return StepID(u), err
}

func ParseRequestID(s string) (RequestID, error) {
	u, err := parseUUID(s)
	return RequestID(u), err
}

func ParseCertificateID(s string) (CertificateID, error) {
	u, err := parseUUID(s)
	return CertificateID(u), err
}
