package destruction_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"custodia/internal/approval"
	approvalmemory "custodia/internal/approval/store/memory"
	"custodia/internal/audit"
	auditmemory "custodia/internal/audit/store/memory"
	"custodia/internal/container"
	containermemory "custodia/internal/container/store/memory"
	"custodia/internal/custody"
	custodymemory "custodia/internal/custody/store/memory"
	"custodia/internal/destruction"
	destructionmemory "custodia/internal/destruction/store/memory"
	"custodia/internal/identity"
	"custodia/internal/retention"
	retentionmemory "custodia/internal/retention/store/memory"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/tx"
)

// WorkflowSuite wires the real services over in-memory stores and drives the
// destruction path end to end.
type WorkflowSuite struct {
	suite.Suite
	ctx        context.Context
	requester  identity.Actor
	approver   identity.Actor
	operator   identity.Actor
	auditSvc   *audit.Service
	containers *container.Service
	retention  *retention.Service
	engine     *approval.Engine
	ledger     *custody.Ledger
	requests   *destructionmemory.Store
	workflow   *destruction.Workflow
	policyID   id.PolicyID

	workflowID id.WorkflowID
	custodian  id.CustodianID
	facility   id.CustodianID
	containerID id.ContainerID
}

func TestWorkflowSuite(t *testing.T) {
	suite.Run(t, new(WorkflowSuite))
}

func (s *WorkflowSuite) SetupTest() {
	s.ctx = context.Background()
	s.requester = identity.Actor{ID: "clerk-1", Name: "Records Clerk"}
	s.approver = identity.Actor{ID: "officer-1", Name: "Compliance Officer", Groups: []string{"compliance"}}
	s.operator = identity.Actor{ID: "operator-1", Name: "Facility Operator"}

	s.auditSvc = audit.NewService(auditmemory.New())
	s.containers = container.NewService(containermemory.New(), s.auditSvc)
	s.retention = retention.NewService(retentionmemory.New(), s.auditSvc, tx.NopRunner{})
	s.engine = approval.NewEngine(approvalmemory.New(), s.auditSvc, tx.NopRunner{})
	s.ledger = custody.NewLedger(custodymemory.New(), s.containers, s.auditSvc, tx.NopRunner{})
	s.requests = destructionmemory.New()
	s.workflow = destruction.NewWorkflow(s.requests, s.containers, s.retention,
		s.engine, s.ledger, s.auditSvc, tx.NopRunner{})
	s.engine.SetResolutionHandler(s.workflow)

	// An active policy.
	policy, version, err := s.retention.CreatePolicy(s.ctx, s.requester, "financial records", retention.Terms{
		RetentionDays: 2555,
		Method:        retention.MethodShred,
		EffectiveDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	s.Require().NoError(err)
	_, err = s.retention.ActivatePolicy(s.ctx, s.requester, policy.ID)
	s.Require().NoError(err)
	_, err = s.retention.ActivateVersion(s.ctx, s.requester, version.ID)
	s.Require().NoError(err)

	// A single-step approval template.
	template, err := s.engine.CreateTemplate(s.ctx, s.requester, "destruction sign-off", []approval.StepDef{
		{Sequence: 1, ApproverGroup: "compliance", Mandatory: true, TimeoutDays: 3},
	})
	s.Require().NoError(err)
	s.workflowID = template.ID

	// An active container.
	s.custodian = id.CustodianID(uuid.New())
	s.facility = id.CustodianID(uuid.New())
	c, err := s.containers.Intake(s.ctx, s.requester, "box 99", s.custodian, policy.ID)
	s.Require().NoError(err)
	c, err = s.containers.Activate(s.ctx, s.requester, c.ID)
	s.Require().NoError(err)
	s.containerID = c.ID
	s.policyID = policy.ID
}

func (s *WorkflowSuite) activeContainer(label string) id.ContainerID {
	c, err := s.containers.Intake(s.ctx, s.requester, label, s.custodian, s.policyID)
	s.Require().NoError(err)
	c, err = s.containers.Activate(s.ctx, s.requester, c.ID)
	s.Require().NoError(err)
	return c.ID
}

func (s *WorkflowSuite) submitted() *destruction.Request {
	request, err := s.workflow.Create(s.ctx, s.requester, []id.ContainerID{s.containerID}, s.workflowID, "retention period elapsed")
	s.Require().NoError(err)
	request, err = s.workflow.Submit(s.ctx, s.requester, request.ID)
	s.Require().NoError(err)
	return request
}

func (s *WorkflowSuite) approve(request *destruction.Request) *destruction.Request {
	s.Require().NotNil(request.InstanceID)
	_, steps, err := s.engine.GetInstance(s.ctx, *request.InstanceID)
	s.Require().NoError(err)
	_, err = s.engine.RecordDecision(s.ctx, s.approver, steps[0].ID, approval.DecisionApprove, "verified")
	s.Require().NoError(err)

	request, err = s.workflow.Get(s.ctx, request.ID)
	s.Require().NoError(err)
	return request
}

func (s *WorkflowSuite) TestHappyPath() {
	request := s.submitted()
	s.Equal(destruction.RequestSubmitted, request.State)
	s.NotNil(request.PolicyVersionID)

	request = s.approve(request)
	s.Equal(destruction.RequestApproved, request.State)

	request, err := s.workflow.Execute(s.ctx, s.operator, request.ID, s.facility, "shred bay 2")
	s.Require().NoError(err)
	s.Equal(destruction.RequestExecuting, request.State)

	s.Run("container moved and custody transferred", func() {
		c, err := s.containers.Get(s.ctx, s.containerID)
		s.Require().NoError(err)
		s.Equal(container.StatePendingDestruction, c.State)
		s.Equal(s.facility, c.CurrentCustodian)

		history, err := s.ledger.History(s.ctx, s.containerID)
		s.Require().NoError(err)
		s.Require().Len(history, 1)
		s.Equal(s.custodian, history[0].From)
		s.Equal(s.facility, history[0].To)
	})

	cert, err := s.workflow.Complete(s.ctx, s.operator, request.ID, "operator-1", "witness-7", time.Time{})
	s.Require().NoError(err)

	s.Run("certificate is well formed", func() {
		s.True(strings.HasPrefix(cert.Number, "DC-"))
		s.Equal(retention.MethodShred, cert.Method)
		s.Equal("witness-7", cert.Witness)
		s.True(cert.Verify())
	})

	s.Run("container reached its terminal state", func() {
		c, err := s.containers.Get(s.ctx, s.containerID)
		s.Require().NoError(err)
		s.Equal(container.StateDestroyed, c.State)
		s.Require().NotNil(c.CertificateID)
		s.Equal(cert.ID, *c.CertificateID)
	})

	s.Run("request closed with certificate linked", func() {
		request, err := s.workflow.Get(s.ctx, request.ID)
		s.Require().NoError(err)
		s.Equal(destruction.RequestCompleted, request.State)
		s.Require().NotNil(request.CertificateID)
	})

	s.Run("audit trail covers the whole path", func() {
		ref := audit.RequestRef(request.ID)
		page, err := s.auditSvc.Query(s.ctx, audit.Filter{Entity: &ref})
		s.Require().NoError(err)
		actions := make([]audit.Action, 0, len(page.Entries))
		for _, entry := range page.Entries {
			actions = append(actions, entry.Action)
		}
		s.Contains(actions, audit.ActionDestructionSubmitted)
		s.Contains(actions, audit.ActionDestructionApproved)
		s.Contains(actions, audit.ActionDestructionExecuted)
		s.Contains(actions, audit.ActionDestructionCompleted)
	})
}

func (s *WorkflowSuite) TestNoCertificateWithoutApproval() {
	request := s.submitted()

	s.Run("execute before approval is refused", func() {
		_, err := s.workflow.Execute(s.ctx, s.operator, request.ID, s.facility, "shred bay 2")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("complete before approval is refused", func() {
		_, err := s.workflow.Complete(s.ctx, s.operator, request.ID, "operator-1", "witness-7", time.Time{})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *WorkflowSuite) TestRejectionClosesRequest() {
	request := s.submitted()
	_, steps, err := s.engine.GetInstance(s.ctx, *request.InstanceID)
	s.Require().NoError(err)
	_, err = s.engine.RecordDecision(s.ctx, s.approver, steps[0].ID, approval.DecisionReject, "hold pending review")
	s.Require().NoError(err)

	request, err = s.workflow.Get(s.ctx, request.ID)
	s.Require().NoError(err)
	s.Equal(destruction.RequestRejected, request.State)

	_, err = s.workflow.Execute(s.ctx, s.operator, request.ID, s.facility, "shred bay 2")
	s.Require().Error(err)
}

func (s *WorkflowSuite) TestSubmitEligibility() {
	s.Run("legal hold blocks submission", func() {
		_, err := s.containers.SetLegalHold(s.ctx, s.requester, s.containerID, "litigation")
		s.Require().NoError(err)
		request, err := s.workflow.Create(s.ctx, s.requester, []id.ContainerID{s.containerID}, s.workflowID, "cleanup")
		s.Require().NoError(err)
		_, err = s.workflow.Submit(s.ctx, s.requester, request.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		_, err = s.containers.ClearLegalHold(s.ctx, s.requester, s.containerID)
		s.Require().NoError(err)
	})

	s.Run("broken custody chain blocks submission", func() {
		s.Require().NoError(s.containers.MarkChainBroken(s.ctx, s.containerID))
		request, err := s.workflow.Create(s.ctx, s.requester, []id.ContainerID{s.containerID}, s.workflowID, "cleanup")
		s.Require().NoError(err)
		_, err = s.workflow.Submit(s.ctx, s.requester, request.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeChainIntegrity))
	})
}

func (s *WorkflowSuite) TestHoldAfterApprovalBlocksExecution() {
	request := s.approve(s.submitted())

	_, err := s.containers.SetLegalHold(s.ctx, s.requester, s.containerID, "subpoena arrived")
	s.Require().NoError(err)

	_, err = s.workflow.Execute(s.ctx, s.operator, request.ID, s.facility, "shred bay 2")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *WorkflowSuite) TestCancel() {
	s.Run("draft can be cancelled", func() {
		request, err := s.workflow.Create(s.ctx, s.requester, []id.ContainerID{s.containerID}, s.workflowID, "cleanup")
		s.Require().NoError(err)
		request, err = s.workflow.Cancel(s.ctx, s.requester, request.ID, "filed in error")
		s.Require().NoError(err)
		s.Equal(destruction.RequestCancelled, request.State)
	})

	s.Run("submitted can be cancelled", func() {
		request := s.submitted()
		request, err := s.workflow.Cancel(s.ctx, s.requester, request.ID, "container still needed")
		s.Require().NoError(err)
		s.Equal(destruction.RequestCancelled, request.State)
	})

	s.Run("approved cannot be cancelled", func() {
		request := s.approve(s.submitted())
		_, err := s.workflow.Cancel(s.ctx, s.requester, request.ID, "too late")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("cancellation requires a reason", func() {
		request, err := s.workflow.Create(s.ctx, s.requester, []id.ContainerID{s.containerID}, s.workflowID, "cleanup")
		s.Require().NoError(err)
		_, err = s.workflow.Cancel(s.ctx, s.requester, request.ID, "")
		s.Require().Error(err)
	})

	s.Run("late approval on a cancelled request is ignored", func() {
		request := s.submitted()
		_, err := s.workflow.Cancel(s.ctx, s.requester, request.ID, "withdrawn")
		s.Require().NoError(err)

		_, steps, err := s.engine.GetInstance(s.ctx, *request.InstanceID)
		s.Require().NoError(err)
		_, err = s.engine.RecordDecision(s.ctx, s.approver, steps[0].ID, approval.DecisionApprove, "")
		s.Require().NoError(err)

		request, err = s.workflow.Get(s.ctx, request.ID)
		s.Require().NoError(err)
		s.Equal(destruction.RequestCancelled, request.State)
	})
}

func (s *WorkflowSuite) TestMultiContainerDestruction() {
	second := s.activeContainer("box 100")

	request, err := s.workflow.Create(s.ctx, s.requester,
		[]id.ContainerID{s.containerID, second}, s.workflowID, "retention period elapsed")
	s.Require().NoError(err)
	request, err = s.workflow.Submit(s.ctx, s.requester, request.ID)
	s.Require().NoError(err)
	request = s.approve(request)

	request, err = s.workflow.Execute(s.ctx, s.operator, request.ID, s.facility, "shred bay 2")
	s.Require().NoError(err)
	s.Equal(destruction.RequestExecuting, request.State)

	s.Run("every container is handed to the facility", func() {
		for _, containerID := range []id.ContainerID{s.containerID, second} {
			c, err := s.containers.Get(s.ctx, containerID)
			s.Require().NoError(err)
			s.Equal(container.StatePendingDestruction, c.State)
			s.Equal(s.facility, c.CurrentCustodian)

			history, err := s.ledger.History(s.ctx, containerID)
			s.Require().NoError(err)
			s.Require().Len(history, 1)
			s.Equal(s.facility, history[0].To)
		}
	})

	cert, err := s.workflow.Complete(s.ctx, s.operator, request.ID, "operator-1", "witness-7", time.Time{})
	s.Require().NoError(err)

	s.Run("one certificate covers them all", func() {
		s.ElementsMatch([]id.ContainerID{s.containerID, second}, cert.ContainerIDs)
		s.True(cert.Verify())
	})

	s.Run("every container reached its terminal state", func() {
		for _, containerID := range []id.ContainerID{s.containerID, second} {
			c, err := s.containers.Get(s.ctx, containerID)
			s.Require().NoError(err)
			s.Equal(container.StateDestroyed, c.State)
			s.Require().NotNil(c.CertificateID)
			s.Equal(cert.ID, *c.CertificateID)
		}
	})
}

func (s *WorkflowSuite) TestCreateValidation() {
	s.Run("empty container list is refused", func() {
		_, err := s.workflow.Create(s.ctx, s.requester, nil, s.workflowID, "cleanup")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("duplicate containers are refused", func() {
		_, err := s.workflow.Create(s.ctx, s.requester,
			[]id.ContainerID{s.containerID, s.containerID}, s.workflowID, "cleanup")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

type refusingCustody struct{}

func (refusingCustody) RecordTransfer(context.Context, identity.Actor, id.ContainerID, id.CustodianID, id.CustodianID, string, time.Time) (custody.Event, error) {
	return custody.Event{}, dErrors.New(dErrors.CodeChainIntegrity, "transferor is not the recorded holder")
}

func (s *WorkflowSuite) TestExecuteAppliesNothingWhenTransferRefused() {
	request := s.approve(s.submitted())

	wf := destruction.NewWorkflow(s.requests, s.containers, s.retention,
		s.engine, refusingCustody{}, s.auditSvc, tx.NopRunner{})
	_, err := wf.Execute(s.ctx, s.operator, request.ID, s.facility, "shred bay 2")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeChainIntegrity))

	s.Run("request is still approved", func() {
		request, err := s.workflow.Get(s.ctx, request.ID)
		s.Require().NoError(err)
		s.Equal(destruction.RequestApproved, request.State)
	})

	s.Run("container never moved", func() {
		c, err := s.containers.Get(s.ctx, s.containerID)
		s.Require().NoError(err)
		s.Equal(container.StateActive, c.State)
		s.Equal(s.custodian, c.CurrentCustodian)
	})
}

func (s *WorkflowSuite) TestSubmitRequiresOnePolicy() {
	otherPolicy, otherVersion, err := s.retention.CreatePolicy(s.ctx, s.requester, "tax records", retention.Terms{
		RetentionDays: 3650,
		Method:        retention.MethodShred,
		EffectiveDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	s.Require().NoError(err)
	_, err = s.retention.ActivatePolicy(s.ctx, s.requester, otherPolicy.ID)
	s.Require().NoError(err)
	_, err = s.retention.ActivateVersion(s.ctx, s.requester, otherVersion.ID)
	s.Require().NoError(err)

	c, err := s.containers.Intake(s.ctx, s.requester, "box 200", s.custodian, otherPolicy.ID)
	s.Require().NoError(err)
	c, err = s.containers.Activate(s.ctx, s.requester, c.ID)
	s.Require().NoError(err)

	request, err := s.workflow.Create(s.ctx, s.requester,
		[]id.ContainerID{s.containerID, c.ID}, s.workflowID, "cleanup")
	s.Require().NoError(err)
	_, err = s.workflow.Submit(s.ctx, s.requester, request.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *WorkflowSuite) TestCertificateCitesBoundVersion() {
	request := s.approve(s.submitted())
	boundVersion := *request.PolicyVersionID

	// A newer version goes into force after approval.
	c, err := s.containers.Get(s.ctx, s.containerID)
	s.Require().NoError(err)
	v2, err := s.retention.CreateVersion(s.ctx, s.requester, c.PolicyID, retention.Terms{
		RetentionDays: 365,
		Method:        retention.MethodIncinerate,
		EffectiveDate: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	s.Require().NoError(err)
	_, err = s.retention.ActivateVersion(s.ctx, s.requester, v2.ID)
	s.Require().NoError(err)

	request, err = s.workflow.Execute(s.ctx, s.operator, request.ID, s.facility, "shred bay 2")
	s.Require().NoError(err)
	cert, err := s.workflow.Complete(s.ctx, s.operator, request.ID, "operator-1", "witness-7", time.Time{})
	s.Require().NoError(err)

	s.Equal(boundVersion, cert.PolicyVersionID)
	s.Equal(retention.MethodShred, cert.Method)
}
