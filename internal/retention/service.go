// Package retention manages versioned retention policies: how long each
// class of container is held and by what method it is destroyed. Policy
// history is preserved in full; destruction certificates cite the exact
// version that authorized them.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"custodia/internal/audit"
	"custodia/internal/identity"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/sentinel"
	txcontext "custodia/pkg/platform/tx"
)

type Store interface {
	CreatePolicy(ctx context.Context, policy *Policy) error
	FindPolicy(ctx context.Context, policyID id.PolicyID) (*Policy, error)
	UpdatePolicy(ctx context.Context, policy *Policy) error
	ListPolicies(ctx context.Context) ([]*Policy, error)

	CreateVersion(ctx context.Context, version *Version) error
	FindVersion(ctx context.Context, versionID id.VersionID) (*Version, error)
	UpdateVersion(ctx context.Context, version *Version) error
	ListVersions(ctx context.Context, policyID id.PolicyID) ([]*Version, error)
	ActiveVersion(ctx context.Context, policyID id.PolicyID) (*Version, error)
	MaxVersionNumber(ctx context.Context, policyID id.PolicyID) (int, error)
}

type Auditor interface {
	Append(ctx context.Context, actor identity.Actor, action audit.Action, entity audit.EntityRef, description string) (audit.Entry, error)
}

type Service struct {
	store   Store
	auditor Auditor
	runner  txcontext.Runner
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, auditor Auditor, runner txcontext.Runner, opts ...Option) *Service {
	s := &Service{store: store, auditor: auditor, runner: runner, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreatePolicy registers a named policy in draft, with an initial draft
// version carrying the given terms.
func (s *Service) CreatePolicy(ctx context.Context, actor identity.Actor, name string, terms Terms) (*Policy, *Version, error) {
	now := s.now()
	policy, err := NewPolicy(id.PolicyID(uuid.New()), name, now)
	if err != nil {
		return nil, nil, err
	}
	version, err := newVersion(id.VersionID(uuid.New()), policy.ID, 1, terms, now)
	if err != nil {
		return nil, nil, err
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreatePolicy(ctx, policy); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "a policy with this name already exists")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create policy")
		}
		if err := s.store.CreateVersion(ctx, version); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create initial version")
		}
		_, err := s.auditor.Append(ctx, actor, audit.ActionPolicyCreated, audit.PolicyRef(policy.ID),
			fmt.Sprintf("retention policy %q created", name))
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return policy, version, nil
}

func (s *Service) GetPolicy(ctx context.Context, policyID id.PolicyID) (*Policy, error) {
	policy, err := s.store.FindPolicy(ctx, policyID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "policy not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load policy")
	}
	return policy, nil
}

func (s *Service) ListPolicies(ctx context.Context) ([]*Policy, error) {
	policies, err := s.store.ListPolicies(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list policies")
	}
	return policies, nil
}

// ActivatePolicy moves a draft policy into service. An active policy without
// an active version resolves no terms yet; version activation is a separate
// step and requires the policy to be active first.
func (s *Service) ActivatePolicy(ctx context.Context, actor identity.Actor, policyID id.PolicyID) (*Policy, error) {
	policy, err := s.GetPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}
	if !policy.State.CanTransitionTo(PolicyActive) {
		return nil, dErrors.New(dErrors.CodeValidation, "only draft policies can be activated")
	}

	policy.State = PolicyActive
	policy.UpdatedAt = s.now()
	if err := s.store.UpdatePolicy(ctx, policy); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to activate policy")
	}
	return policy, nil
}

// ArchivePolicy retires a policy. Archived policies resolve no terms and
// accept no new versions; history stays queryable.
func (s *Service) ArchivePolicy(ctx context.Context, actor identity.Actor, policyID id.PolicyID) (*Policy, error) {
	policy, err := s.GetPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}
	if !policy.State.CanTransitionTo(PolicyArchived) {
		return nil, dErrors.New(dErrors.CodeValidation, "only active policies can be archived")
	}
	policy.State = PolicyArchived
	policy.UpdatedAt = s.now()
	if err := s.store.UpdatePolicy(ctx, policy); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to archive policy")
	}
	return policy, nil
}

// CreateVersion adds a draft revision with the next version number.
func (s *Service) CreateVersion(ctx context.Context, actor identity.Actor, policyID id.PolicyID, terms Terms) (*Version, error) {
	policy, err := s.GetPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}
	if policy.State == PolicyArchived {
		return nil, dErrors.New(dErrors.CodeValidation, "archived policies accept no new versions")
	}

	var version *Version
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		maxNumber, err := s.store.MaxVersionNumber(ctx, policyID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve version number")
		}
		version, err = newVersion(id.VersionID(uuid.New()), policyID, maxNumber+1, terms, s.now())
		if err != nil {
			return err
		}
		if err := s.store.CreateVersion(ctx, version); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create version")
		}
		_, err = s.auditor.Append(ctx, actor, audit.ActionPolicyVersionCreated, audit.PolicyRef(policyID),
			fmt.Sprintf("version %d drafted", version.VersionNumber))
		return err
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}

// UpdateDraftTerms edits a version still in draft.
func (s *Service) UpdateDraftTerms(ctx context.Context, actor identity.Actor, versionID id.VersionID, terms Terms) (*Version, error) {
	version, err := s.getVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if err := version.UpdateTerms(terms, s.now()); err != nil {
		return nil, err
	}
	if err := s.store.UpdateVersion(ctx, version); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update version")
	}
	return version, nil
}

// ActivateVersion puts a draft version into force, atomically superseding
// whichever version was active. The single-active invariant holds at every
// commit point. The policy itself must already be active.
func (s *Service) ActivateVersion(ctx context.Context, actor identity.Actor, versionID id.VersionID) (*Version, error) {
	version, err := s.getVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if version.State != VersionDraft {
		return nil, dErrors.New(dErrors.CodeValidation, "only draft versions can be activated")
	}
	policy, err := s.GetPolicy(ctx, version.PolicyID)
	if err != nil {
		return nil, err
	}
	if policy.State != PolicyActive {
		return nil, dErrors.New(dErrors.CodePolicyNotActive, "retention policy is not active")
	}

	now := s.now()
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		current, err := s.store.ActiveVersion(ctx, version.PolicyID)
		switch {
		case err == nil:
			current.State = VersionSuperseded
			current.UpdatedAt = now
			if err := s.store.UpdateVersion(ctx, current); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to supersede version")
			}
		case errors.Is(err, sentinel.ErrNotFound):
			// First activation for this policy.
		default:
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve active version")
		}

		version.State = VersionActive
		version.UpdatedAt = now
		if err := s.store.UpdateVersion(ctx, version); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to activate version")
		}
		_, err = s.auditor.Append(ctx, actor, audit.ActionPolicyVersionActivated, audit.PolicyRef(version.PolicyID),
			fmt.Sprintf("version %d activated", version.VersionNumber))
		return err
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}

// ListVersions returns every version of a policy, oldest first.
func (s *Service) ListVersions(ctx context.Context, policyID id.PolicyID) ([]*Version, error) {
	versions, err := s.store.ListVersions(ctx, policyID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list versions")
	}
	return versions, nil
}

// ResolveActiveTerms returns the binding version for a policy. Callers that
// authorize destruction use this; a policy out of service yields
// CodePolicyNotActive so the caller can refuse rather than guess.
func (s *Service) ResolveActiveTerms(ctx context.Context, policyID id.PolicyID) (*Version, error) {
	policy, err := s.GetPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}
	if policy.State != PolicyActive {
		return nil, dErrors.New(dErrors.CodePolicyNotActive, "retention policy is not active")
	}
	version, err := s.store.ActiveVersion(ctx, policyID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodePolicyNotActive, "policy has no active version")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve active version")
	}
	return version, nil
}

// GetVersion returns a version by id, whatever its state. Certificates cite
// the version bound at submission even after it is superseded.
func (s *Service) GetVersion(ctx context.Context, versionID id.VersionID) (*Version, error) {
	return s.getVersion(ctx, versionID)
}

func (s *Service) getVersion(ctx context.Context, versionID id.VersionID) (*Version, error) {
	version, err := s.store.FindVersion(ctx, versionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "policy version not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load version")
	}
	return version, nil
}
