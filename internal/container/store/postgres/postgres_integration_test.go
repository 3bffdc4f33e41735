//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"custodia/internal/container"
	"custodia/internal/container/store/postgres"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = postgres.New(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "containers")
	s.Require().NoError(err)
}

func newTestContainer(label string) *container.Container {
	now := time.Now().UTC().Truncate(time.Microsecond)
	custodian := id.CustodianID(uuid.New())
	return &container.Container{
		ID:               id.ContainerID(uuid.New()),
		Label:            label,
		State:            container.StateIntake,
		ChainIntegrity:   container.ChainIntact,
		IntakeCustodian:  custodian,
		CurrentCustodian: custodian,
		PolicyID:         id.PolicyID(uuid.New()),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (s *PostgresStoreSuite) TestCreateAndFind() {
	ctx := context.Background()
	c := newTestContainer("box 1")

	s.Require().NoError(s.store.Create(ctx, c))
	s.Equal(int64(1), c.Version)

	found, err := s.store.FindByID(ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(c.ID, found.ID)
	s.Equal("box 1", found.Label)
	s.Equal(container.StateIntake, found.State)
	s.Equal(c.IntakeCustodian, found.IntakeCustodian)
	s.Nil(found.CertificateID)
	s.Equal(int64(1), found.Version)
}

func (s *PostgresStoreSuite) TestFindMissingReturnsNotFound() {
	_, err := s.store.FindByID(context.Background(), id.ContainerID(uuid.New()))
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestUpdateBumpsVersion() {
	ctx := context.Background()
	c := newTestContainer("box 2")
	s.Require().NoError(s.store.Create(ctx, c))

	c.State = container.StateActive
	c.UpdatedAt = time.Now().UTC()
	s.Require().NoError(s.store.Update(ctx, c))
	s.Equal(int64(2), c.Version)

	found, err := s.store.FindByID(ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(container.StateActive, found.State)
	s.Equal(int64(2), found.Version)
}

func (s *PostgresStoreSuite) TestStaleUpdateConflicts() {
	ctx := context.Background()
	c := newTestContainer("box 3")
	s.Require().NoError(s.store.Create(ctx, c))

	// Two readers load the same version; the second write must lose.
	first, err := s.store.FindByID(ctx, c.ID)
	s.Require().NoError(err)
	second, err := s.store.FindByID(ctx, c.ID)
	s.Require().NoError(err)

	first.State = container.StateActive
	s.Require().NoError(s.store.Update(ctx, first))

	second.LegalHold = true
	second.LegalHoldReason = "litigation"
	err = s.store.Update(ctx, second)
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	found, err := s.store.FindByID(ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(container.StateActive, found.State)
	s.False(found.LegalHold)
}

func (s *PostgresStoreSuite) TestCertificateRoundTrip() {
	ctx := context.Background()
	c := newTestContainer("box 4")
	s.Require().NoError(s.store.Create(ctx, c))

	certID := id.CertificateID(uuid.New())
	c.CertificateID = &certID
	s.Require().NoError(s.store.Update(ctx, c))

	found, err := s.store.FindByID(ctx, c.ID)
	s.Require().NoError(err)
	s.Require().NotNil(found.CertificateID)
	s.Equal(certID, *found.CertificateID)
}

func (s *PostgresStoreSuite) TestListOrdersByCreation() {
	ctx := context.Background()
	first := newTestContainer("box a")
	s.Require().NoError(s.store.Create(ctx, first))

	second := newTestContainer("box b")
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	s.Require().NoError(s.store.Create(ctx, second))

	listed, err := s.store.List(ctx)
	s.Require().NoError(err)
	s.Require().Len(listed, 2)
	s.Equal(first.ID, listed[0].ID)
	s.Equal(second.ID, listed[1].ID)
}
