// Package approval runs multi-step approval workflows. Templates define who
// must sign off and in what order; the engine instantiates them per
// destruction request, records decisions, and sweeps overdue steps into
// escalation or expiry.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"custodia/internal/audit"
	"custodia/internal/identity"
	"custodia/internal/platform/metrics"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/sentinel"
	txcontext "custodia/pkg/platform/tx"
)

type Store interface {
	CreateTemplate(ctx context.Context, template *Template) error
	FindTemplate(ctx context.Context, workflowID id.WorkflowID) (*Template, error)
	ListTemplates(ctx context.Context) ([]*Template, error)

	CreateInstance(ctx context.Context, instance *Instance, steps []*Step) error
	FindInstance(ctx context.Context, instanceID id.InstanceID) (*Instance, error)
	UpdateInstance(ctx context.Context, instance *Instance) error

	FindStep(ctx context.Context, stepID id.StepID) (*Step, error)

	// UpdateStep writes the step only if its stored state still equals from,
	// returning sentinel.ErrConflict otherwise. Decisions, escalations, and
	// expiries race with each other; the guard lets exactly one writer win.
	UpdateStep(ctx context.Context, step *Step, from StepState) error

	ListSteps(ctx context.Context, instanceID id.InstanceID) ([]*Step, error)

	// OpenStepsPastDeadline returns pending steps whose deadline precedes now.
	OpenStepsPastDeadline(ctx context.Context, now time.Time) ([]*Step, error)
}

type Auditor interface {
	Append(ctx context.Context, actor identity.Actor, action audit.Action, entity audit.EntityRef, description string) (audit.Entry, error)
}

// Notifier delivers step assignment and escalation notices. Delivery is
// fire-and-forget; approval state never depends on it.
type Notifier interface {
	StepAssigned(ctx context.Context, step Step)
	StepEscalated(ctx context.Context, step Step)
}

type nopNotifier struct{}

func (nopNotifier) StepAssigned(context.Context, Step)  {}
func (nopNotifier) StepEscalated(context.Context, Step) {}

// ResolutionHandler receives the terminal outcome of an instance. The
// destruction workflow registers itself here; the engine stays ignorant of
// what its approvals gate.
type ResolutionHandler interface {
	HandleApprovalResolved(ctx context.Context, instance Instance) error
}

type Engine struct {
	store       Store
	auditor     Auditor
	runner      txcontext.Runner
	notifier    Notifier
	onResolved  ResolutionHandler
	groupPolicy GroupPolicy
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithGroupPolicy(policy GroupPolicy) Option {
	return func(e *Engine) { e.groupPolicy = policy }
}

func NewEngine(store Store, auditor Auditor, runner txcontext.Runner, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		auditor:     auditor,
		runner:      runner,
		notifier:    nopNotifier{},
		groupPolicy: GroupPolicyAll,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetResolutionHandler registers the callback for resolved instances. Set
// once during wiring; the setter exists to break the construction cycle with
// the component that both drives the engine and consumes its outcomes.
func (e *Engine) SetResolutionHandler(h ResolutionHandler) {
	e.onResolved = h
}

func (e *Engine) CreateTemplate(ctx context.Context, actor identity.Actor, name string, steps []StepDef) (*Template, error) {
	template, err := NewTemplate(id.WorkflowID(uuid.New()), name, steps, e.now())
	if err != nil {
		return nil, err
	}
	if err := e.store.CreateTemplate(ctx, template); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "a template with this name already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create template")
	}
	return template, nil
}

func (e *Engine) GetTemplate(ctx context.Context, workflowID id.WorkflowID) (*Template, error) {
	template, err := e.store.FindTemplate(ctx, workflowID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "workflow template not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load template")
	}
	return template, nil
}

func (e *Engine) ListTemplates(ctx context.Context) ([]*Template, error) {
	templates, err := e.store.ListTemplates(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list templates")
	}
	return templates, nil
}

// Instantiate creates a live instance for a destruction request. The first
// sequence group opens immediately; later groups wait, their timeout clocks
// unstarted until the group before them resolves.
func (e *Engine) Instantiate(ctx context.Context, actor identity.Actor, workflowID id.WorkflowID, requestID id.RequestID) (*Instance, error) {
	template, err := e.GetTemplate(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	instance := &Instance{
		ID:          id.InstanceID(uuid.New()),
		WorkflowID:  workflowID,
		RequestID:   requestID,
		RequestedBy: actor.ID,
		State:       InstancePending,
		CreatedAt:   now,
	}

	steps := make([]*Step, 0, len(template.Steps))
	for _, def := range template.Steps {
		steps = append(steps, &Step{
			ID:             id.StepID(uuid.New()),
			InstanceID:     instance.ID,
			Sequence:       def.Sequence,
			ApproverUser:   def.ApproverUser,
			ApproverGroup:  def.ApproverGroup,
			Mandatory:      def.Mandatory,
			TimeoutDays:    def.TimeoutDays,
			EscalationUser: def.EscalationUser,
			State:          StepWaiting,
		})
	}
	e.openGroups(steps, now)

	err = e.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := e.store.CreateInstance(ctx, instance, steps); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create approval instance")
		}
		_, err := e.auditor.Append(ctx, actor, audit.ActionApprovalInstanceCreated, audit.InstanceRef(instance.ID),
			fmt.Sprintf("approval workflow %q instantiated for request %s", template.Name, requestID))
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, step := range steps {
		if step.State.Open() {
			e.notifier.StepAssigned(ctx, *step)
		}
	}
	return instance, nil
}

func (e *Engine) GetInstance(ctx context.Context, instanceID id.InstanceID) (*Instance, []*Step, error) {
	instance, err := e.store.FindInstance(ctx, instanceID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil, dErrors.New(dErrors.CodeNotFound, "approval instance not found")
		}
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load approval instance")
	}
	steps, err := e.store.ListSteps(ctx, instanceID)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load approval steps")
	}
	return instance, steps, nil
}

// RecordDecision applies an approver's verdict to an open step and
// re-derives the instance outcome. The step is read, checked, and written
// inside one transaction; the state-guarded write ensures two concurrent
// decisions on the same step cannot both land.
func (e *Engine) RecordDecision(ctx context.Context, actor identity.Actor, stepID id.StepID, decision Decision, comment string) (*Instance, error) {
	if !decision.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "decision must be approve or reject")
	}

	var (
		instance *Instance
		changed  []stepChange
	)
	err := e.runner.RunInTx(ctx, func(ctx context.Context) error {
		step, err := e.store.FindStep(ctx, stepID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "approval step not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load approval step")
		}
		var steps []*Step
		instance, steps, err = e.GetInstance(ctx, step.InstanceID)
		if err != nil {
			return err
		}
		// derive works on the full step set; it must see this step's new state.
		for i := range steps {
			if steps[i].ID == step.ID {
				steps[i] = step
			}
		}

		if instance.State.Resolved() {
			return dErrors.New(dErrors.CodeStepNotActionable, "approval is already resolved")
		}
		if !step.State.Open() {
			return dErrors.New(dErrors.CodeStepNotActionable, "step is not open for a decision")
		}
		if err := e.authorize(actor, instance, step); err != nil {
			return err
		}

		now := e.now()
		step.DecidedBy = actor.ID
		step.DecidedAt = &now
		step.Comment = comment
		if decision == DecisionApprove {
			step.State = StepApproved
		} else {
			step.State = StepRejected
		}

		action := audit.ActionApprovalStepApproved
		if decision == DecisionReject {
			action = audit.ActionApprovalStepRejected
		}

		changed = e.derive(instance, steps, now)
		if !instance.State.Resolved() {
			changed = append(changed, e.openGroups(steps, now)...)
		}

		if err := e.store.UpdateStep(ctx, step, StepPending); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "step was decided concurrently")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update step")
		}
		for _, change := range changed {
			if err := e.store.UpdateStep(ctx, change.step, change.from); err != nil {
				if errors.Is(err, sentinel.ErrConflict) {
					return dErrors.New(dErrors.CodeConflict, "approval state changed concurrently")
				}
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update step")
			}
		}
		if err := e.store.UpdateInstance(ctx, instance); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update instance")
		}
		if _, err := e.auditor.Append(ctx, actor, action, audit.InstanceRef(instance.ID),
			fmt.Sprintf("step %d %s by %s", step.Sequence, step.State, actor.ID)); err != nil {
			return err
		}
		if instance.State.Resolved() {
			_, err := e.auditor.Append(ctx, actor, audit.ActionApprovalResolved, audit.InstanceRef(instance.ID),
				fmt.Sprintf("approval resolved: %s", instance.State))
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.ApprovalDecisions.WithLabelValues(string(decision)).Inc()
	}
	for _, change := range changed {
		if change.step.State.Open() {
			e.notifier.StepAssigned(ctx, *change.step)
		}
	}
	if instance.State.Resolved() {
		e.resolve(ctx, *instance)
	}
	return instance, nil
}

// authorize checks the actor against the step's current assignment. The
// requester never approves their own request, whatever groups they hold.
func (e *Engine) authorize(actor identity.Actor, instance *Instance, step *Step) error {
	if actor.ID == instance.RequestedBy {
		return dErrors.New(dErrors.CodeNotAuthorized, "requester cannot decide their own request")
	}
	if step.ApproverUser != "" && actor.ID == step.ApproverUser {
		return nil
	}
	if step.ApproverGroup != "" && actor.InGroup(step.ApproverGroup) {
		return nil
	}
	return dErrors.New(dErrors.CodeNotAuthorized, "actor is not an approver for this step")
}

// stepChange pairs a mutated step with the state it held before the
// mutation, so the store write can be guarded on that prior state.
type stepChange struct {
	step *Step
	from StepState
}

// derive recomputes the instance outcome and group progression after a step
// changed. It mutates instance and returns the other steps it changed, each
// paired with its prior state.
func (e *Engine) derive(instance *Instance, steps []*Step, now time.Time) []stepChange {
	var changed []stepChange

	// A rejected or expired mandatory step terminates the instance.
	for _, step := range steps {
		if !step.Mandatory {
			continue
		}
		switch step.State {
		case StepRejected:
			instance.State = InstanceRejected
		case StepExpired:
			instance.State = InstanceExpired
		}
	}
	if instance.State.Resolved() {
		instance.ResolvedAt = &now
		return append(changed, skipOpen(steps)...)
	}

	// Group progression: only mandatory steps gate a group. An undecided
	// optional step neither holds up the next group nor blocks resolution.
	groups := groupBySequence(steps)
	for _, group := range groups {
		if e.groupPolicy == GroupPolicyAny && anyApproved(group) {
			for _, step := range group {
				if step.State == StepPending {
					changed = append(changed, stepChange{step: step, from: step.State})
					step.State = StepSkipped
				}
			}
		}
		if !mandatoryResolved(group) {
			// This group is still in flight; later groups stay waiting.
			return changed
		}
	}

	// Every group's mandatory steps resolved without a terminating verdict.
	if e.satisfied(steps) {
		instance.State = InstanceApproved
	} else {
		instance.State = InstanceRejected
	}
	instance.ResolvedAt = &now
	return append(changed, skipOpen(steps)...)
}

// openGroups opens waiting steps group by group, stopping at the first group
// whose mandatory steps are still outstanding. Groups with no mandatory steps
// never gate the ones after them, so several groups can open at once.
func (e *Engine) openGroups(steps []*Step, now time.Time) []stepChange {
	var opened []stepChange
	for _, group := range groupBySequence(steps) {
		for _, step := range group {
			if step.State == StepWaiting {
				step.open(now)
				opened = append(opened, stepChange{step: step, from: StepWaiting})
			}
		}
		if !mandatoryResolved(group) {
			break
		}
	}
	return opened
}

// skipOpen marks every still-undecided step skipped once the instance
// outcome is settled.
func skipOpen(steps []*Step) []stepChange {
	var changed []stepChange
	for _, step := range steps {
		if step.State == StepPending || step.State == StepWaiting {
			changed = append(changed, stepChange{step: step, from: step.State})
			step.State = StepSkipped
		}
	}
	return changed
}

// satisfied reports whether the fully-resolved step set amounts to an
// approval: every mandatory step either approved or skipped by group policy.
func (e *Engine) satisfied(steps []*Step) bool {
	for _, step := range steps {
		if !step.Mandatory {
			continue
		}
		switch step.State {
		case StepApproved:
		case StepSkipped:
			if e.groupPolicy != GroupPolicyAny {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (e *Engine) resolve(ctx context.Context, instance Instance) {
	e.logger.InfoContext(ctx, "approval resolved",
		"log_type", "audit",
		"instance_id", instance.ID,
		"request_id", instance.RequestID,
		"state", string(instance.State),
	)
	if e.onResolved == nil {
		return
	}
	if err := e.onResolved.HandleApprovalResolved(ctx, instance); err != nil {
		e.logger.ErrorContext(ctx, "approval resolution handler failed",
			"instance_id", instance.ID,
			"error", err,
		)
	}
}

func groupBySequence(steps []*Step) [][]*Step {
	bySeq := map[int][]*Step{}
	var seqs []int
	for _, step := range steps {
		if _, ok := bySeq[step.Sequence]; !ok {
			seqs = append(seqs, step.Sequence)
		}
		bySeq[step.Sequence] = append(bySeq[step.Sequence], step)
	}
	for i := 0; i < len(seqs); i++ {
		for j := i + 1; j < len(seqs); j++ {
			if seqs[j] < seqs[i] {
				seqs[i], seqs[j] = seqs[j], seqs[i]
			}
		}
	}
	groups := make([][]*Step, 0, len(seqs))
	for _, seq := range seqs {
		groups = append(groups, bySeq[seq])
	}
	return groups
}

func anyApproved(group []*Step) bool {
	for _, step := range group {
		if step.State == StepApproved {
			return true
		}
	}
	return false
}

func mandatoryResolved(group []*Step) bool {
	for _, step := range group {
		if step.Mandatory && !step.State.resolved() {
			return false
		}
	}
	return true
}
