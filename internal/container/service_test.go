package container_test

import (
	"context"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"custodia/internal/audit"
	auditmemory "custodia/internal/audit/store/memory"
	"custodia/internal/container"
	"custodia/internal/container/store/memory"
	"custodia/internal/identity"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

type ContainerServiceSuite struct {
	suite.Suite
	store      *memory.Store
	auditStore *auditmemory.Store
	service    *container.Service
	ctx        context.Context
	actor      identity.Actor
	custodian  id.CustodianID
	policyID   id.PolicyID
}

func TestContainerServiceSuite(t *testing.T) {
	suite.Run(t, new(ContainerServiceSuite))
}

func (s *ContainerServiceSuite) SetupTest() {
	s.store = memory.New()
	s.auditStore = auditmemory.New()
	s.service = container.NewService(s.store, audit.NewService(s.auditStore))
	s.ctx = context.Background()
	s.actor = identity.Actor{ID: "user-1", Name: "Warehouse Operator"}
	s.custodian = id.CustodianID(uuid.New())
	s.policyID = id.PolicyID(uuid.New())
}

func (s *ContainerServiceSuite) intake() *container.Container {
	c, err := s.service.Intake(s.ctx, s.actor, "box 42", s.custodian, s.policyID)
	s.Require().NoError(err)
	return c
}

func (s *ContainerServiceSuite) activeContainer() *container.Container {
	c := s.intake()
	c, err := s.service.Activate(s.ctx, s.actor, c.ID)
	s.Require().NoError(err)
	return c
}

func (s *ContainerServiceSuite) TestIntake() {
	s.Run("creates container in intake with chain anchor", func() {
		c := s.intake()
		s.Equal(container.StateIntake, c.State)
		s.Equal(container.ChainIntact, c.ChainIntegrity)
		s.Equal(s.custodian, c.IntakeCustodian)
		s.Equal(s.custodian, c.CurrentCustodian)
		s.False(c.LegalHold)
	})

	s.Run("rejects empty label", func() {
		_, err := s.service.Intake(s.ctx, s.actor, "", s.custodian, s.policyID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("writes intake audit entry", func() {
		c := s.intake()
		ref := audit.ContainerRef(c.ID)
		page, err := audit.NewService(s.auditStore).Query(s.ctx, audit.Filter{Entity: &ref})
		s.Require().NoError(err)
		s.Require().Len(page.Entries, 1)
		s.Equal(audit.ActionContainerIntake, page.Entries[0].Action)
	})
}

func (s *ContainerServiceSuite) TestLifecycleTransitions() {
	s.Run("intake to active", func() {
		c := s.activeContainer()
		s.Equal(container.StateActive, c.State)
	})

	s.Run("cannot activate twice", func() {
		c := s.activeContainer()
		_, err := s.service.Activate(s.ctx, s.actor, c.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("cannot begin destruction from intake", func() {
		c := s.intake()
		_, err := s.service.BeginDestruction(s.ctx, s.actor, c.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("full path to archived", func() {
		c := s.activeContainer()
		c, err := s.service.BeginDestruction(s.ctx, s.actor, c.ID)
		s.Require().NoError(err)
		s.Equal(container.StatePendingDestruction, c.State)

		certID := id.CertificateID(uuid.New())
		c, err = s.service.CompleteDestruction(s.ctx, s.actor, c.ID, certID)
		s.Require().NoError(err)
		s.Equal(container.StateDestroyed, c.State)
		s.Require().NotNil(c.CertificateID)
		s.Equal(certID, *c.CertificateID)

		c, err = s.service.Archive(s.ctx, s.actor, c.ID)
		s.Require().NoError(err)
		s.Equal(container.StateArchived, c.State)
	})

	s.Run("destruction requires certificate", func() {
		c := s.activeContainer()
		_, err := s.service.BeginDestruction(s.ctx, s.actor, c.ID)
		s.Require().NoError(err)
		_, err = s.service.CompleteDestruction(s.ctx, s.actor, c.ID, id.CertificateID{})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("only destroyed containers archive", func() {
		c := s.activeContainer()
		_, err := s.service.Archive(s.ctx, s.actor, c.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("unknown container", func() {
		_, err := s.service.Activate(s.ctx, s.actor, id.ContainerID(uuid.New()))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ContainerServiceSuite) TestLegalHold() {
	s.Run("blocks begin destruction", func() {
		c := s.activeContainer()
		_, err := s.service.SetLegalHold(s.ctx, s.actor, c.ID, "litigation 2026-17")
		s.Require().NoError(err)

		_, err = s.service.BeginDestruction(s.ctx, s.actor, c.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("hold placed after destruction began still blocks completion", func() {
		c := s.activeContainer()
		_, err := s.service.BeginDestruction(s.ctx, s.actor, c.ID)
		s.Require().NoError(err)
		_, err = s.service.SetLegalHold(s.ctx, s.actor, c.ID, "subpoena")
		s.Require().NoError(err)

		_, err = s.service.CompleteDestruction(s.ctx, s.actor, c.ID, id.CertificateID(uuid.New()))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("clearing the hold unblocks destruction", func() {
		c := s.activeContainer()
		_, err := s.service.SetLegalHold(s.ctx, s.actor, c.ID, "audit")
		s.Require().NoError(err)
		_, err = s.service.ClearLegalHold(s.ctx, s.actor, c.ID)
		s.Require().NoError(err)

		_, err = s.service.BeginDestruction(s.ctx, s.actor, c.ID)
		s.Require().NoError(err)
	})

	s.Run("double hold is rejected", func() {
		c := s.activeContainer()
		_, err := s.service.SetLegalHold(s.ctx, s.actor, c.ID, "first")
		s.Require().NoError(err)
		_, err = s.service.SetLegalHold(s.ctx, s.actor, c.ID, "second")
		s.Require().Error(err)
	})

	s.Run("clearing without a hold is rejected", func() {
		c := s.activeContainer()
		_, err := s.service.ClearLegalHold(s.ctx, s.actor, c.ID)
		s.Require().Error(err)
	})
}

// TestLegalHoldInvariantUnderRandomOperations drives random operation
// sequences and asserts the core compliance property after every step: a
// container under legal hold is never in the destroyed state.
func (s *ContainerServiceSuite) TestLegalHoldInvariantUnderRandomOperations() {
	rng := rand.New(rand.NewSource(42))

	ops := []func(containerID id.ContainerID){
		func(containerID id.ContainerID) { _, _ = s.service.Activate(s.ctx, s.actor, containerID) },
		func(containerID id.ContainerID) { _, _ = s.service.SetLegalHold(s.ctx, s.actor, containerID, "hold") },
		func(containerID id.ContainerID) { _, _ = s.service.ClearLegalHold(s.ctx, s.actor, containerID) },
		func(containerID id.ContainerID) { _, _ = s.service.BeginDestruction(s.ctx, s.actor, containerID) },
		func(containerID id.ContainerID) {
			_, _ = s.service.CompleteDestruction(s.ctx, s.actor, containerID, id.CertificateID(uuid.New()))
		},
		func(containerID id.ContainerID) { _, _ = s.service.Archive(s.ctx, s.actor, containerID) },
	}

	for run := 0; run < 50; run++ {
		c := s.intake()
		for step := 0; step < 30; step++ {
			ops[rng.Intn(len(ops))](c.ID)

			got, err := s.service.Get(s.ctx, c.ID)
			s.Require().NoError(err)
			if got.LegalHold {
				s.NotEqual(container.StateDestroyed, got.State,
					"run %d step %d: destroyed while under legal hold", run, step)
			}
			s.True(got.State.IsValid())
		}
	}
}

func (s *ContainerServiceSuite) TestOptimisticConcurrency() {
	c := s.intake()

	// Two writers load the same version; the second write loses.
	first, err := s.store.FindByID(s.ctx, c.ID)
	s.Require().NoError(err)
	second, err := s.store.FindByID(s.ctx, c.ID)
	s.Require().NoError(err)

	s.Require().NoError(s.store.Update(s.ctx, first))
	err = s.store.Update(s.ctx, second)
	s.Require().Error(err)
}

func (s *ContainerServiceSuite) TestChainIntegrity() {
	c := s.activeContainer()
	s.Require().NoError(s.service.MarkChainBroken(s.ctx, c.ID))

	got, err := s.service.Get(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(container.ChainBroken, got.ChainIntegrity)
}

func (s *ContainerServiceSuite) TestSetCustodian() {
	c := s.activeContainer()
	next := id.CustodianID(uuid.New())
	s.Require().NoError(s.service.SetCustodian(s.ctx, c.ID, next))

	got, err := s.service.Get(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(next, got.CurrentCustodian)
	s.Equal(s.custodian, got.IntakeCustodian)
}
