// Package dErrors provides coded domain errors. Services construct these at
// the point where an infrastructure fact or invariant violation becomes a
// domain outcome; transports translate codes to protocol responses.
package dErrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error for callers and transports.
type Code string

const (
	// CodeValidation: a proposed state transition violates a domain rule.
	// Recoverable by the caller correcting input; never retried automatically.
	CodeValidation Code = "validation_error"

	// CodeInvalidInput: malformed input at a trust boundary (bad UUID, empty
	// required field). Distinct from CodeValidation, which is about state.
	CodeInvalidInput Code = "invalid_input"

	// CodeChainIntegrity: custody continuity broken. Surfaced to callers who
	// decide, per policy, whether to log and continue or abort.
	CodeChainIntegrity Code = "chain_integrity_violation"

	// CodeNotAuthorized: the acting identity may not perform this approval.
	CodeNotAuthorized Code = "not_authorized"

	// CodeStepNotActionable: the approval step exists but its group is not
	// the active one, or the step already resolved.
	CodeStepNotActionable Code = "step_not_actionable"

	// CodeImmutability: attempted mutation of an append-only or frozen
	// record (audit entry, certificate, non-draft policy version).
	CodeImmutability Code = "immutability_violation"

	// CodePolicyNotActive: version operation on a policy that is not active.
	CodePolicyNotActive Code = "policy_not_active"

	// CodeInvariantViolation: an aggregate constructor or transition guard
	// rejected the change. Services usually re-map to CodeValidation.
	CodeInvariantViolation Code = "invariant_violation"

	CodeNotFound Code = "not_found"
	CodeConflict Code = "conflict"
	CodeTimeout  Code = "timeout"
	CodeInternal Code = "internal_error"
)

// DomainError carries a code, a human-readable reason, and an optional cause.
type DomainError struct {
	Code    Code
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error { return e.Err }

// New constructs a DomainError without a cause.
func New(code Code, message string) error {
	return &DomainError{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) error {
	return &DomainError{Code: code, Message: message, Err: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var de *DomainError
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.Err
		de = nil
	}
	return false
}

// CodeOf returns the outermost code in the chain, or CodeInternal when the
// error is not a DomainError.
func CodeOf(err error) Code {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf returns the outermost message, or the error text for foreign errors.
func MessageOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
