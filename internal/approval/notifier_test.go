package approval_test

//go:generate mockgen -destination=mocks/mocks.go -package=mocks custodia/internal/approval Notifier,ResolutionHandler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"custodia/internal/approval"
	"custodia/internal/approval/mocks"
	"custodia/internal/approval/store/memory"
	"custodia/internal/audit"
	auditmemory "custodia/internal/audit/store/memory"
	"custodia/internal/identity"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/tx"
)

// NotifierSuite verifies the engine's outbound notices: who gets told when a
// step opens, escalates, or the instance resolves.
type NotifierSuite struct {
	suite.Suite
	ctx      context.Context
	clock    time.Time
	ctrl     *gomock.Controller
	notifier *mocks.MockNotifier
	handler  *mocks.MockResolutionHandler
	engine   *approval.Engine

	requester identity.Actor
	requestID id.RequestID
}

func TestNotifierSuite(t *testing.T) {
	suite.Run(t, new(NotifierSuite))
}

func (s *NotifierSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.ctrl = gomock.NewController(s.T())
	s.notifier = mocks.NewMockNotifier(s.ctrl)
	s.handler = mocks.NewMockResolutionHandler(s.ctrl)
	s.engine = approval.NewEngine(memory.New(), audit.NewService(auditmemory.New()), tx.NopRunner{},
		approval.WithClock(func() time.Time { return s.clock }),
		approval.WithNotifier(s.notifier),
	)
	s.engine.SetResolutionHandler(s.handler)
	s.requester = identity.Actor{ID: "requester-1", Name: "Records Clerk"}
	s.requestID = id.RequestID(uuid.New())
}

func (s *NotifierSuite) TestAssignmentNoticesFollowGroupOpening() {
	template, err := s.engine.CreateTemplate(s.ctx, s.requester, "two-stage sign-off", []approval.StepDef{
		{Sequence: 1, ApproverUser: "supervisor-1", Mandatory: true, TimeoutDays: 3},
		{Sequence: 2, ApproverGroup: "compliance", Mandatory: true, TimeoutDays: 5},
	})
	s.Require().NoError(err)

	// Only the first group is announced on instantiation.
	s.notifier.EXPECT().StepAssigned(gomock.Any(), stepFor("supervisor-1"))
	instance, err := s.engine.Instantiate(s.ctx, s.requester, template.ID, s.requestID)
	s.Require().NoError(err)

	_, steps, err := s.engine.GetInstance(s.ctx, instance.ID)
	s.Require().NoError(err)

	// Approving the first step opens and announces the second group.
	s.notifier.EXPECT().StepAssigned(gomock.Any(), stepInGroup("compliance"))
	_, err = s.engine.RecordDecision(s.ctx, identity.Actor{ID: "supervisor-1"}, steps[0].ID, approval.DecisionApprove, "")
	s.Require().NoError(err)

	// The final approval resolves the instance and reaches the handler.
	s.handler.EXPECT().
		HandleApprovalResolved(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, resolved approval.Instance) error {
			s.Equal(approval.InstanceApproved, resolved.State)
			return nil
		})
	_, steps, err = s.engine.GetInstance(s.ctx, instance.ID)
	s.Require().NoError(err)
	_, err = s.engine.RecordDecision(s.ctx, identity.Actor{ID: "officer-1", Groups: []string{"compliance"}},
		steps[1].ID, approval.DecisionApprove, "")
	s.Require().NoError(err)
}

func (s *NotifierSuite) TestEscalationNotice() {
	template, err := s.engine.CreateTemplate(s.ctx, s.requester, "escalating sign-off", []approval.StepDef{
		{Sequence: 1, ApproverUser: "supervisor-1", Mandatory: true, TimeoutDays: 2, EscalationUser: "manager-1"},
	})
	s.Require().NoError(err)

	s.notifier.EXPECT().StepAssigned(gomock.Any(), stepFor("supervisor-1"))
	_, err = s.engine.Instantiate(s.ctx, s.requester, template.ID, s.requestID)
	s.Require().NoError(err)

	// Past the deadline the step is reassigned and the escalatee notified.
	s.clock = s.clock.Add(3 * 24 * time.Hour)
	s.notifier.EXPECT().StepEscalated(gomock.Any(), stepFor("manager-1"))
	s.Require().NoError(s.engine.Sweep(s.ctx))
}

// stepFor matches a step assigned to the given user.
func stepFor(user string) gomock.Matcher {
	return gomock.Cond(func(step approval.Step) bool {
		return step.ApproverUser == user
	})
}

// stepInGroup matches a step assigned to the given group.
func stepInGroup(group string) gomock.Matcher {
	return gomock.Cond(func(step approval.Step) bool {
		return step.ApproverGroup == group
	})
}
