// Package destruction orchestrates the path from a destruction request to an
// issued certificate: eligibility checks, approval, hand-off to the
// destruction facility, and final certification. It owns no compliance rule
// itself; it sequences the container lifecycle, retention, custody, and
// approval packages and refuses to proceed when any of them objects.
package destruction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"custodia/internal/approval"
	"custodia/internal/audit"
	"custodia/internal/container"
	"custodia/internal/custody"
	"custodia/internal/identity"
	"custodia/internal/platform/metrics"
	"custodia/internal/retention"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/sentinel"
	txcontext "custodia/pkg/platform/tx"
)

type Store interface {
	CreateRequest(ctx context.Context, request *Request) error
	FindRequest(ctx context.Context, requestID id.RequestID) (*Request, error)
	FindRequestByInstance(ctx context.Context, instanceID id.InstanceID) (*Request, error)
	UpdateRequest(ctx context.Context, request *Request) error
	ListRequests(ctx context.Context) ([]*Request, error)

	CreateCertificate(ctx context.Context, cert *Certificate) error
	FindCertificate(ctx context.Context, certID id.CertificateID) (*Certificate, error)
}

// Containers is the container lifecycle surface the workflow drives.
type Containers interface {
	Get(ctx context.Context, containerID id.ContainerID) (*container.Container, error)
	BeginDestruction(ctx context.Context, actor identity.Actor, containerID id.ContainerID) (*container.Container, error)
	CompleteDestruction(ctx context.Context, actor identity.Actor, containerID id.ContainerID, certificateID id.CertificateID) (*container.Container, error)
}

// Retention resolves the policy terms in force for a container's policy and
// looks up the bound version at certification time.
type Retention interface {
	ResolveActiveTerms(ctx context.Context, policyID id.PolicyID) (*retention.Version, error)
	GetVersion(ctx context.Context, versionID id.VersionID) (*retention.Version, error)
}

// Approvals starts the approval run that gates a submitted request.
type Approvals interface {
	Instantiate(ctx context.Context, actor identity.Actor, workflowID id.WorkflowID, requestID id.RequestID) (*approval.Instance, error)
}

// Custody records the hand-off to the destruction facility.
type Custody interface {
	RecordTransfer(ctx context.Context, actor identity.Actor, containerID id.ContainerID, from, to id.CustodianID, location string, occurredAt time.Time) (custody.Event, error)
}

type Auditor interface {
	Append(ctx context.Context, actor identity.Actor, action audit.Action, entity audit.EntityRef, description string) (audit.Entry, error)
}

// Notifier tells the requester how their request resolved.
type Notifier interface {
	RequestResolved(ctx context.Context, request Request)
}

type nopNotifier struct{}

func (nopNotifier) RequestResolved(context.Context, Request) {}

type Workflow struct {
	store      Store
	containers Containers
	retention  Retention
	approvals  Approvals
	custody    Custody
	auditor    Auditor
	runner     txcontext.Runner
	notifier   Notifier
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	now        func() time.Time
}

type Option func(*Workflow)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Workflow) { w.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Workflow) { w.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

func WithNotifier(n Notifier) Option {
	return func(w *Workflow) { w.notifier = n }
}

func NewWorkflow(store Store, containers Containers, ret Retention, approvals Approvals, cust Custody, auditor Auditor, runner txcontext.Runner, opts ...Option) *Workflow {
	w := &Workflow{
		store:      store,
		containers: containers,
		retention:  ret,
		approvals:  approvals,
		custody:    cust,
		auditor:    auditor,
		runner:     runner,
		notifier:   nopNotifier{},
		logger:     slog.Default(),
		tracer:     otel.Tracer("custodia/destruction"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Create drafts a destruction request covering one or more containers.
func (w *Workflow) Create(ctx context.Context, actor identity.Actor, containerIDs []id.ContainerID, workflowID id.WorkflowID, reason string) (*Request, error) {
	ctx, span := w.startSpan(ctx, "destruction.Create", len(containerIDs))
	defer span.End()

	request, err := NewRequest(id.RequestID(uuid.New()), containerIDs, workflowID, actor.ID, reason, w.now())
	if err != nil {
		return nil, w.fail(span, err)
	}
	for _, containerID := range containerIDs {
		if _, err := w.containers.Get(ctx, containerID); err != nil {
			return nil, w.fail(span, err)
		}
	}
	if err := w.store.CreateRequest(ctx, request); err != nil {
		return nil, w.fail(span, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create request"))
	}
	w.countState(request.State)
	return request, nil
}

// Submit checks eligibility, binds the active policy version, and starts the
// approval run. A container under legal hold, with a broken custody chain,
// or not in active storage never reaches approval. Every container on the
// request must share one retention policy; one bound version governs them all.
func (w *Workflow) Submit(ctx context.Context, actor identity.Actor, requestID id.RequestID) (*Request, error) {
	ctx, span := w.startSpan(ctx, "destruction.Submit", 0)
	defer span.End()

	request, err := w.Get(ctx, requestID)
	if err != nil {
		return nil, w.fail(span, err)
	}
	if !request.State.CanTransitionTo(RequestSubmitted) {
		return nil, w.fail(span, dErrors.New(dErrors.CodeValidation, "only draft requests can be submitted"))
	}

	var policyID id.PolicyID
	for _, containerID := range request.ContainerIDs {
		c, err := w.containers.Get(ctx, containerID)
		if err != nil {
			return nil, w.fail(span, err)
		}
		if err := w.eligible(c); err != nil {
			return nil, w.fail(span, err)
		}
		if policyID.IsNil() {
			policyID = c.PolicyID
		} else if c.PolicyID != policyID {
			return nil, w.fail(span, dErrors.New(dErrors.CodeValidation, "containers on one request must share a retention policy"))
		}
	}

	version, err := w.retention.ResolveActiveTerms(ctx, policyID)
	if err != nil {
		return nil, w.fail(span, err)
	}

	instance, err := w.approvals.Instantiate(ctx, actor, request.WorkflowID, request.ID)
	if err != nil {
		return nil, w.fail(span, err)
	}
	if err := request.Submit(version.ID, instance.ID, w.now()); err != nil {
		return nil, w.fail(span, err)
	}

	err = w.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := w.store.UpdateRequest(ctx, request); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update request")
		}
		_, err := w.auditor.Append(ctx, actor, audit.ActionDestructionSubmitted, audit.RequestRef(request.ID),
			fmt.Sprintf("destruction of %d container(s) submitted under policy version %d", len(request.ContainerIDs), version.VersionNumber))
		return err
	})
	if err != nil {
		return nil, w.fail(span, err)
	}
	w.countState(request.State)
	return request, nil
}

// eligible is the submission gate over the container's current condition.
func (w *Workflow) eligible(c *container.Container) error {
	if c.State != container.StateActive {
		return dErrors.New(dErrors.CodeValidation, "container is not in active storage")
	}
	if c.LegalHold {
		return dErrors.New(dErrors.CodeValidation, "container is under legal hold")
	}
	if c.ChainIntegrity != container.ChainIntact {
		return dErrors.New(dErrors.CodeChainIntegrity, "container custody chain is broken")
	}
	return nil
}

// HandleApprovalResolved moves the request according to the approval
// outcome. Registered with the approval engine at wiring time.
func (w *Workflow) HandleApprovalResolved(ctx context.Context, instance approval.Instance) error {
	request, err := w.store.FindRequestByInstance(ctx, instance.ID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			// The instance gates something else; not ours to handle.
			return nil
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load request for instance")
	}
	if request.State != RequestSubmitted {
		// Cancelled while the approval was in flight.
		return nil
	}

	now := w.now()
	var action audit.Action
	switch instance.State {
	case approval.InstanceApproved:
		if err := request.Approve(now); err != nil {
			return err
		}
		action = audit.ActionDestructionApproved
	case approval.InstanceRejected:
		if err := request.Reject("approval rejected", now); err != nil {
			return err
		}
		action = audit.ActionDestructionCancelled
	case approval.InstanceExpired:
		if err := request.Reject("approval expired", now); err != nil {
			return err
		}
		action = audit.ActionDestructionCancelled
	default:
		return dErrors.New(dErrors.CodeInternal, "approval resolved in a non-terminal state")
	}

	err = w.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := w.store.UpdateRequest(ctx, request); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update request")
		}
		_, err := w.auditor.Append(ctx, identity.System, action, audit.RequestRef(request.ID),
			fmt.Sprintf("approval resolved %s for request %s", instance.State, request.ID))
		return err
	})
	if err != nil {
		return err
	}
	w.countState(request.State)
	w.notifier.RequestResolved(ctx, *request)
	return nil
}

// Execute hands the containers to the destruction facility: the lifecycle
// moves to pending_destruction and the custody ledger records each transfer.
// Eligibility is re-checked because a legal hold or chain break may have
// arrived between approval and execution. The transfers, the lifecycle
// transitions, and the request update commit together; a refused transfer
// leaves nothing applied.
func (w *Workflow) Execute(ctx context.Context, actor identity.Actor, requestID id.RequestID, facility id.CustodianID, location string) (*Request, error) {
	ctx, span := w.startSpan(ctx, "destruction.Execute", 0)
	defer span.End()

	request, err := w.Get(ctx, requestID)
	if err != nil {
		return nil, w.fail(span, err)
	}
	span.SetAttributes(attribute.Int("containers", len(request.ContainerIDs)))
	if !request.State.CanTransitionTo(RequestExecuting) {
		return nil, w.fail(span, dErrors.New(dErrors.CodeValidation, "only approved requests can be executed"))
	}
	if facility.IsNil() {
		return nil, w.fail(span, dErrors.New(dErrors.CodeValidation, "destruction facility custodian is required"))
	}

	holders := make(map[id.ContainerID]id.CustodianID, len(request.ContainerIDs))
	for _, containerID := range request.ContainerIDs {
		c, err := w.containers.Get(ctx, containerID)
		if err != nil {
			return nil, w.fail(span, err)
		}
		if c.LegalHold {
			return nil, w.fail(span, dErrors.New(dErrors.CodeValidation, "container is under legal hold"))
		}
		if c.ChainIntegrity != container.ChainIntact {
			return nil, w.fail(span, dErrors.New(dErrors.CodeChainIntegrity, "container custody chain is broken"))
		}
		holders[containerID] = c.CurrentCustodian
	}

	if err := request.BeginExecution(w.now()); err != nil {
		return nil, w.fail(span, err)
	}
	err = w.runner.RunInTx(ctx, func(ctx context.Context) error {
		for _, containerID := range request.ContainerIDs {
			if _, err := w.custody.RecordTransfer(ctx, actor, containerID, holders[containerID], facility, location, time.Time{}); err != nil {
				return err
			}
		}
		for _, containerID := range request.ContainerIDs {
			if _, err := w.containers.BeginDestruction(ctx, actor, containerID); err != nil {
				return err
			}
		}
		if err := w.store.UpdateRequest(ctx, request); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update request")
		}
		_, err := w.auditor.Append(ctx, actor, audit.ActionDestructionExecuted, audit.RequestRef(request.ID),
			fmt.Sprintf("%d container(s) released to destruction facility at %s", len(request.ContainerIDs), location))
		return err
	})
	if err != nil {
		return nil, w.fail(span, err)
	}
	w.countState(request.State)
	return request, nil
}

// Complete certifies the destruction: one certificate is issued covering
// every container on the request, the containers reach their terminal state,
// and the request closes. The certificate and the container transitions
// commit together.
func (w *Workflow) Complete(ctx context.Context, actor identity.Actor, requestID id.RequestID, performedBy, witness string, destroyedAt time.Time) (*Certificate, error) {
	ctx, span := w.startSpan(ctx, "destruction.Complete", 0)
	defer span.End()

	request, err := w.Get(ctx, requestID)
	if err != nil {
		return nil, w.fail(span, err)
	}
	if !request.State.CanTransitionTo(RequestCompleted) {
		return nil, w.fail(span, dErrors.New(dErrors.CodeValidation, "only executing requests can be completed"))
	}
	if request.PolicyVersionID == nil {
		return nil, w.fail(span, dErrors.New(dErrors.CodeInvariantViolation, "request carries no bound policy version"))
	}

	version, err := w.retention.GetVersion(ctx, *request.PolicyVersionID)
	if err != nil {
		return nil, w.fail(span, err)
	}

	now := w.now()
	if destroyedAt.IsZero() {
		destroyedAt = now
	}
	cert, err := NewCertificate(id.CertificateID(uuid.New()), request.ID, request.ContainerIDs,
		*request.PolicyVersionID, version.Terms.Method, performedBy, witness, destroyedAt, now)
	if err != nil {
		return nil, w.fail(span, err)
	}

	if err := request.Complete(cert.ID, now); err != nil {
		return nil, w.fail(span, err)
	}

	err = w.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := w.store.CreateCertificate(ctx, cert); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store certificate")
		}
		for _, containerID := range request.ContainerIDs {
			if _, err := w.containers.CompleteDestruction(ctx, actor, containerID, cert.ID); err != nil {
				return err
			}
		}
		if err := w.store.UpdateRequest(ctx, request); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update request")
		}
		if _, err := w.auditor.Append(ctx, actor, audit.ActionCertificateIssued, audit.CertificateRef(cert.ID),
			fmt.Sprintf("certificate %s issued covering %d container(s), witnessed by %s", cert.Number, len(cert.ContainerIDs), witness)); err != nil {
			return err
		}
		_, err := w.auditor.Append(ctx, actor, audit.ActionDestructionCompleted, audit.RequestRef(request.ID),
			fmt.Sprintf("destruction completed by %s via %s", performedBy, version.Terms.Method))
		return err
	})
	if err != nil {
		return nil, w.fail(span, err)
	}

	if w.metrics != nil {
		w.metrics.CertificatesIssued.Inc()
	}
	w.countState(request.State)
	w.notifier.RequestResolved(ctx, *request)
	return cert, nil
}

// Cancel withdraws a draft or submitted request.
func (w *Workflow) Cancel(ctx context.Context, actor identity.Actor, requestID id.RequestID, reason string) (*Request, error) {
	request, err := w.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := request.Cancel(reason, w.now()); err != nil {
		return nil, err
	}

	err = w.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := w.store.UpdateRequest(ctx, request); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update request")
		}
		_, err := w.auditor.Append(ctx, actor, audit.ActionDestructionCancelled, audit.RequestRef(request.ID),
			fmt.Sprintf("request cancelled: %s", reason))
		return err
	})
	if err != nil {
		return nil, err
	}
	w.countState(request.State)
	return request, nil
}

func (w *Workflow) Get(ctx context.Context, requestID id.RequestID) (*Request, error) {
	request, err := w.store.FindRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "destruction request not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load request")
	}
	return request, nil
}

func (w *Workflow) List(ctx context.Context) ([]*Request, error) {
	requests, err := w.store.ListRequests(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list requests")
	}
	return requests, nil
}

func (w *Workflow) GetCertificate(ctx context.Context, certID id.CertificateID) (*Certificate, error) {
	cert, err := w.store.FindCertificate(ctx, certID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load certificate")
	}
	return cert, nil
}

func (w *Workflow) startSpan(ctx context.Context, name string, containers int) (context.Context, trace.Span) {
	ctx, span := w.tracer.Start(ctx, name)
	if containers > 0 {
		span.SetAttributes(attribute.Int("containers", containers))
	}
	return ctx, span
}

func (w *Workflow) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, dErrors.MessageOf(err))
	return err
}

func (w *Workflow) countState(state RequestState) {
	if w.metrics != nil {
		w.metrics.DestructionRequests.WithLabelValues(string(state)).Inc()
	}
}
