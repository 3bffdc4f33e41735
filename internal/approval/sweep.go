package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"custodia/internal/audit"
	"custodia/internal/identity"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/sentinel"
)

// Sweep processes every open step whose deadline has passed. An overdue step
// with an escalation approver and no prior escalation is reassigned with a
// fresh clock; any other overdue step expires. Expiry of a mandatory step
// resolves the whole instance as expired.
//
// Sweep is idempotent within a tick: a step escalates at most once, and a
// step already expired is never returned by the store again.
func (e *Engine) Sweep(ctx context.Context) error {
	now := e.now()
	if e.metrics != nil {
		e.metrics.EscalationSweepRuns.Inc()
	}

	overdue, err := e.store.OpenStepsPastDeadline(ctx, now)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to scan overdue steps")
	}

	for _, step := range overdue {
		if err := e.sweepStep(ctx, step, now); err != nil {
			// One stuck step must not starve the rest of the sweep.
			e.logger.ErrorContext(ctx, "sweep step failed",
				"step_id", step.ID,
				"instance_id", step.InstanceID,
				"error", err,
			)
		}
	}
	return nil
}

func (e *Engine) sweepStep(ctx context.Context, step *Step, now time.Time) error {
	instance, steps, err := e.GetInstance(ctx, step.InstanceID)
	if err != nil {
		return err
	}
	if instance.State.Resolved() {
		return nil
	}
	for i := range steps {
		if steps[i].ID == step.ID {
			steps[i] = step
		}
	}

	if !step.Escalated && step.EscalationUser != "" {
		return e.escalateStep(ctx, instance, step, now)
	}
	return e.expireStep(ctx, instance, steps, step, now)
}

func (e *Engine) escalateStep(ctx context.Context, instance *Instance, step *Step, now time.Time) error {
	previous := step.ApproverUser
	if previous == "" {
		previous = "group " + step.ApproverGroup
	}
	step.escalate(now)

	err := e.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := e.store.UpdateStep(ctx, step, StepPending); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return err
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to escalate step")
		}
		_, err := e.auditor.Append(ctx, identity.System, audit.ActionApprovalStepEscalated, audit.InstanceRef(instance.ID),
			fmt.Sprintf("step %d escalated from %s to %s after timeout", step.Sequence, previous, step.EscalationUser))
		return err
	})
	if errors.Is(err, sentinel.ErrConflict) {
		// A decision landed between the scan and the escalation; nothing to do.
		return nil
	}
	if err != nil {
		return err
	}

	if e.metrics != nil {
		e.metrics.StepsEscalated.Inc()
	}
	e.notifier.StepEscalated(ctx, *step)
	return nil
}

func (e *Engine) expireStep(ctx context.Context, instance *Instance, steps []*Step, step *Step, now time.Time) error {
	step.State = StepExpired

	changed := e.derive(instance, steps, now)
	if !instance.State.Resolved() {
		changed = append(changed, e.openGroups(steps, now)...)
	}

	err := e.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := e.store.UpdateStep(ctx, step, StepPending); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return err
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to expire step")
		}
		for _, change := range changed {
			if err := e.store.UpdateStep(ctx, change.step, change.from); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update step")
			}
		}
		if err := e.store.UpdateInstance(ctx, instance); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update instance")
		}
		if _, err := e.auditor.Append(ctx, identity.System, audit.ActionApprovalStepExpired, audit.InstanceRef(instance.ID),
			fmt.Sprintf("step %d expired without a decision", step.Sequence)); err != nil {
			return err
		}
		if instance.State.Resolved() {
			_, err := e.auditor.Append(ctx, identity.System, audit.ActionApprovalResolved, audit.InstanceRef(instance.ID),
				fmt.Sprintf("approval resolved: %s", instance.State))
			return err
		}
		return nil
	})
	if errors.Is(err, sentinel.ErrConflict) {
		// A decision landed between the scan and the expiry; nothing to do.
		return nil
	}
	if err != nil {
		return err
	}

	if e.metrics != nil {
		e.metrics.StepsExpired.Inc()
	}
	for _, change := range changed {
		if change.step.State.Open() {
			e.notifier.StepAssigned(ctx, *change.step)
		}
	}
	if instance.State.Resolved() {
		e.resolve(ctx, *instance)
	}
	return nil
}

// Sweeper runs Sweep on a fixed interval until the context ends.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
}

func NewSweeper(engine *Engine, interval time.Duration) *Sweeper {
	return &Sweeper{engine: engine, interval: interval}
}

func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.engine.Sweep(ctx); err != nil {
				s.engine.logger.ErrorContext(ctx, "escalation sweep failed", "error", err)
			}
		}
	}
}
