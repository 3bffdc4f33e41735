package container

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
)

// Store persists containers. Update performs a compare-and-swap on Version
// and returns sentinel.ErrConflict when a concurrent writer won.
type Store interface {
	Create(ctx context.Context, c *Container) error
	FindByID(ctx context.Context, containerID id.ContainerID) (*Container, error)
	Update(ctx context.Context, c *Container) error
	List(ctx context.Context) ([]*Container, error)
}

// Auditor is the audit obligation embedded at every transition boundary.
type Auditor interface {
	Append(ctx context.Context, actor identity.Actor, action audit.Action, entity audit.EntityRef, description string) (audit.Entry, error)
}

// Service is the container lifecycle. It owns every state mutation so the
// transition rules in models.go are the only path a container changes by.
type Service struct {
	store   Store
	auditor Auditor
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

func NewService(store Store, auditor Auditor, opts ...Option) *Service {
	s := &Service{store: store, auditor: auditor, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Intake registers a new container under the custody of the receiving
// custodian.
func (s *Service) Intake(ctx context.Context, actor identity.Actor, label string, custodian id.CustodianID, policyID id.PolicyID) (*Container, error) {
	c, err := New(id.ContainerID(uuid.New()), label, custodian, policyID, s.now())
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
		}
		return nil, err
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create container")
	}
	if _, err := s.auditor.Append(ctx, actor, audit.ActionContainerIntake, audit.ContainerRef(c.ID),
		fmt.Sprintf("container %q received from custodian %s", label, custodian)); err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns a container read model.
func (s *Service) Get(ctx context.Context, containerID id.ContainerID) (*Container, error) {
	c, err := s.store.FindByID(ctx, containerID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "container not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load container")
	}
	return c, nil
}

// List returns all containers; the UI read model.
func (s *Service) List(ctx context.Context) ([]*Container, error) {
	cs, err := s.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list containers")
	}
	return cs, nil
}

// mutate loads, applies fn, and saves under optimistic concurrency.
func (s *Service) mutate(ctx context.Context, containerID id.ContainerID, fn func(*Container) error) (*Container, error) {
	c, err := s.Get(ctx, containerID)
	if err != nil {
		return nil, err
	}
	if err := fn(c); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, c); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "container was modified concurrently, retry")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update container")
	}
	return c, nil
}

func (s *Service) Activate(ctx context.Context, actor identity.Actor, containerID id.ContainerID) (*Container, error) {
	c, err := s.mutate(ctx, containerID, func(c *Container) error {
		if err := c.CanActivate(); err != nil {
			return dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
		}
		c.ApplyActivation(s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.auditor.Append(ctx, actor, audit.ActionContainerActivated, audit.ContainerRef(containerID), "container placed in active storage"); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) SetLegalHold(ctx context.Context, actor identity.Actor, containerID id.ContainerID, reason string) (*Container, error) {
	c, err := s.mutate(ctx, containerID, func(c *Container) error {
		if err := c.SetLegalHold(reason, s.now()); err != nil {
			return dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.auditor.Append(ctx, actor, audit.ActionLegalHoldSet, audit.ContainerRef(containerID),
		fmt.Sprintf("legal hold placed: %s", reason)); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) ClearLegalHold(ctx context.Context, actor identity.Actor, containerID id.ContainerID) (*Container, error) {
	c, err := s.mutate(ctx, containerID, func(c *Container) error {
		if err := c.ClearLegalHold(s.now()); err != nil {
			return dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.auditor.Append(ctx, actor, audit.ActionLegalHoldCleared, audit.ContainerRef(containerID), "legal hold cleared"); err != nil {
		return nil, err
	}
	return c, nil
}

// BeginDestruction moves an eligible container to pending_destruction. The
// orchestrating workflow pairs this with a custody transfer to the
// destruction facility; the state machine itself stays possession-agnostic.
func (s *Service) BeginDestruction(ctx context.Context, actor identity.Actor, containerID id.ContainerID) (*Container, error) {
	return s.mutate(ctx, containerID, func(c *Container) error {
		if err := c.CanBeginDestruction(); err != nil {
			return err
		}
		c.ApplyBeginDestruction(s.now())
		return nil
	})
}

// CompleteDestruction closes the lifecycle against an issued certificate.
func (s *Service) CompleteDestruction(ctx context.Context, actor identity.Actor, containerID id.ContainerID, certificateID id.CertificateID) (*Container, error) {
	return s.mutate(ctx, containerID, func(c *Container) error {
		if err := c.CanCompleteDestruction(certificateID); err != nil {
			return err
		}
		c.ApplyCompleteDestruction(certificateID, s.now())
		return nil
	})
}

func (s *Service) Archive(ctx context.Context, actor identity.Actor, containerID id.ContainerID) (*Container, error) {
	c, err := s.mutate(ctx, containerID, func(c *Container) error {
		if err := c.CanArchive(); err != nil {
			return dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
		}
		c.ApplyArchive(s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.auditor.Append(ctx, actor, audit.ActionContainerArchived, audit.ContainerRef(containerID), "container archived"); err != nil {
		return nil, err
	}
	return c, nil
}

// MarkChainBroken flags a container after a custody continuity violation.
// Called by the custody ledger; the ledger writes its own audit entry.
func (s *Service) MarkChainBroken(ctx context.Context, containerID id.ContainerID) error {
	_, err := s.mutate(ctx, containerID, func(c *Container) error {
		c.MarkChainBroken(s.now())
		return nil
	})
	return err
}

// SetCustodian records the new holder after a validated transfer.
func (s *Service) SetCustodian(ctx context.Context, containerID id.ContainerID, custodian id.CustodianID) error {
	_, err := s.mutate(ctx, containerID, func(c *Container) error {
		c.SetCustodian(custodian, s.now())
		return nil
	})
	return err
}

// IntakeCustodian reports the custodian who anchored the custody chain.
func (s *Service) IntakeCustodian(ctx context.Context, containerID id.ContainerID) (id.CustodianID, error) {
	c, err := s.Get(ctx, containerID)
	if err != nil {
		return id.CustodianID{}, err
	}
	return c.IntakeCustodian, nil
}
