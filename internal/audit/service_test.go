package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"custodia/internal/audit"
	"custodia/internal/audit/store/memory"
	"custodia/internal/identity"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

type AuditServiceSuite struct {
	suite.Suite
	store   *memory.Store
	service *audit.Service
	ctx     context.Context
	actor   identity.Actor
}

func TestAuditServiceSuite(t *testing.T) {
	suite.Run(t, new(AuditServiceSuite))
}

func (s *AuditServiceSuite) SetupTest() {
	s.store = memory.New()
	s.service = audit.NewService(s.store)
	s.ctx = context.Background()
	s.actor = identity.Actor{ID: "user-1", Name: "Records Clerk"}
}

func (s *AuditServiceSuite) appendN(n int, entity audit.EntityRef) []audit.Entry {
	entries := make([]audit.Entry, 0, n)
	for i := 0; i < n; i++ {
		e, err := s.service.Append(s.ctx, s.actor, audit.ActionCustodyTransferred, entity, "transfer")
		s.Require().NoError(err)
		entries = append(entries, e)
	}
	return entries
}

func (s *AuditServiceSuite) TestAppend() {
	s.Run("assigns id, timestamp and monotonic seq", func() {
		entity := audit.ContainerRef(id.ContainerID(uuid.New()))
		first, err := s.service.Append(s.ctx, s.actor, audit.ActionContainerIntake, entity, "box received at dock 3")
		s.Require().NoError(err)
		second, err := s.service.Append(s.ctx, s.actor, audit.ActionCustodyTransferred, entity, "moved to vault")
		s.Require().NoError(err)

		s.NotEqual(id.EntryID{}, first.ID)
		s.False(first.Timestamp.IsZero())
		s.Equal(s.actor.ID, first.Actor)
		s.Greater(second.Seq, first.Seq)
	})
}

func (s *AuditServiceSuite) TestQueryOrderingAndFilters() {
	containerA := audit.ContainerRef(id.ContainerID(uuid.New()))
	containerB := audit.ContainerRef(id.ContainerID(uuid.New()))
	s.appendN(3, containerA)
	s.appendN(2, containerB)

	s.Run("ascending by seq", func() {
		page, err := s.service.Query(s.ctx, audit.Filter{})
		s.Require().NoError(err)
		s.Len(page.Entries, 5)
		for i := 1; i < len(page.Entries); i++ {
			s.Greater(page.Entries[i].Seq, page.Entries[i-1].Seq)
		}
	})

	s.Run("filters by entity", func() {
		page, err := s.service.Query(s.ctx, audit.Filter{Entity: &containerA})
		s.Require().NoError(err)
		s.Len(page.Entries, 3)
		for _, e := range page.Entries {
			s.Equal(containerA.ID, e.Entity.ID)
		}
	})

	s.Run("filters by actor", func() {
		page, err := s.service.Query(s.ctx, audit.Filter{Actor: "nobody"})
		s.Require().NoError(err)
		s.Empty(page.Entries)
	})

	s.Run("filters by time range", func() {
		page, err := s.service.Query(s.ctx, audit.Filter{From: time.Now().Add(time.Hour)})
		s.Require().NoError(err)
		s.Empty(page.Entries)
	})
}

func (s *AuditServiceSuite) TestQueryPagination() {
	entity := audit.ContainerRef(id.ContainerID(uuid.New()))
	s.appendN(5, entity)

	// First page of two.
	page, err := s.service.Query(s.ctx, audit.Filter{Limit: 2})
	s.Require().NoError(err)
	s.Len(page.Entries, 2)
	s.True(page.More)

	// The cursor restarts the scan exactly where it stopped.
	seen := map[uint64]bool{page.Entries[0].Seq: true, page.Entries[1].Seq: true}
	for page.More {
		page, err = s.service.Query(s.ctx, audit.Filter{Limit: 2, AfterSeq: page.NextAfterSeq})
		s.Require().NoError(err)
		for _, e := range page.Entries {
			s.False(seen[e.Seq], "entry %d returned twice", e.Seq)
			seen[e.Seq] = true
		}
	}
	s.Len(seen, 5)
}

func (s *AuditServiceSuite) TestImmutability() {
	entity := audit.ContainerRef(id.ContainerID(uuid.New()))
	entries := s.appendN(1, entity)

	s.Run("update is refused", func() {
		err := s.service.Update(s.ctx, entries[0].ID, entries[0])
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeImmutability))
	})

	s.Run("delete is refused", func() {
		err := s.service.Delete(s.ctx, entries[0].ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeImmutability))
	})

	s.Run("record is unchanged after refused mutation", func() {
		page, err := s.service.Query(s.ctx, audit.Filter{Entity: &entity})
		s.Require().NoError(err)
		s.Require().Len(page.Entries, 1)
		s.Equal(entries[0], page.Entries[0])
	})
}

func (s *AuditServiceSuite) TestSinkFanOut() {
	sink := make(chan audit.Entry, 1)
	service := audit.NewService(s.store, audit.WithSink(sink))
	entity := audit.ContainerRef(id.ContainerID(uuid.New()))

	entry, err := service.Append(s.ctx, s.actor, audit.ActionContainerIntake, entity, "intake")
	s.Require().NoError(err)

	select {
	case got := <-sink:
		s.Equal(entry.Seq, got.Seq)
	default:
		s.Fail("expected entry on sink")
	}

	// A full sink never blocks the append path.
	sink <- entry
	_, err = service.Append(s.ctx, s.actor, audit.ActionContainerIntake, entity, "intake again")
	s.Require().NoError(err)
}
