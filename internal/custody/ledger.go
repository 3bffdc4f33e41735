// Package custody maintains the chain-of-custody ledger: who held each
// container, when, and where. Continuity is verified on every transfer; a
// break is either recorded and flagged or refused, per site policy.
package custody

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

// Store persists custody events append-only, newest last.
type Store interface {
	Append(ctx context.Context, event Event) error
	History(ctx context.Context, containerID id.ContainerID) ([]Event, error)
	Last(ctx context.Context, containerID id.ContainerID) (Event, error)
}

// Containers is the slice of the container lifecycle the ledger needs: the
// chain anchor, the holder update after a valid transfer, and the broken
// flag after an invalid one.
type Containers interface {
	IntakeCustodian(ctx context.Context, containerID id.ContainerID) (id.CustodianID, error)
	SetCustodian(ctx context.Context, containerID id.ContainerID, custodian id.CustodianID) error
	MarkChainBroken(ctx context.Context, containerID id.ContainerID) error
}

type Auditor interface {
	Append(ctx context.Context, actor identity.Actor, action audit.Action, entity audit.EntityRef, description string) (audit.Entry, error)
}

type Ledger struct {
	store      Store
	containers Containers
	auditor    Auditor
	runner     txcontext.Runner
	policy     ContinuityPolicy
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

type Option func(*Ledger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithContinuityPolicy(policy ContinuityPolicy) Option {
	return func(l *Ledger) { l.policy = policy }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

func NewLedger(store Store, containers Containers, auditor Auditor, runner txcontext.Runner, opts ...Option) *Ledger {
	l := &Ledger{
		store:      store,
		containers: containers,
		auditor:    auditor,
		runner:     runner,
		policy:     ContinuityAdvisory,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RecordTransfer appends a custody event after verifying continuity: the
// transferor must be the recorded holder (the intake custodian when the
// chain is empty) and the timestamp must not precede the previous event.
// The continuity read, the validation, and every write share one
// transaction; the per-container sequence constraint rejects a transfer
// whose chain end moved after the read, so the chain can never fork.
//
// On a continuity break the behavior depends on the configured policy; see
// ContinuityPolicy. Either way the caller receives a chain_integrity error.
func (l *Ledger) RecordTransfer(ctx context.Context, actor identity.Actor, containerID id.ContainerID, from, to id.CustodianID, location string, occurredAt time.Time) (Event, error) {
	at := occurredAt
	if at.IsZero() {
		at = l.now().UTC()
	}
	event, err := newEvent(id.EventID(uuid.New()), containerID, from, to, location, at)
	if err != nil {
		return Event{}, err
	}

	var violation string
	err = l.runner.RunInTx(ctx, func(ctx context.Context) error {
		expected, lastAt, lastSeq, err := l.expectedHolder(ctx, containerID)
		if err != nil {
			return err
		}
		event.Seq = lastSeq + 1

		violation = l.continuityViolation(event, expected, lastAt)
		if violation != "" && l.policy == ContinuityStrict {
			return dErrors.New(dErrors.CodeChainIntegrity, violation)
		}

		if err := l.store.Append(ctx, event); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "a concurrent transfer was recorded for this container")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append custody event")
		}
		if err := l.containers.SetCustodian(ctx, containerID, to); err != nil {
			return err
		}
		if violation != "" {
			// Advisory: the hand-off happened in the physical world, so the
			// ledger records it, flags the container, and reports the break.
			if err := l.containers.MarkChainBroken(ctx, containerID); err != nil {
				return err
			}
			_, err := l.auditor.Append(ctx, actor, audit.ActionChainIntegrityBroken, audit.ContainerRef(containerID), violation)
			return err
		}
		_, err = l.auditor.Append(ctx, actor, audit.ActionCustodyTransferred, audit.ContainerRef(containerID),
			fmt.Sprintf("custody transferred from %s to %s at %s", from, to, location))
		return err
	})
	if violation != "" && (err == nil || dErrors.HasCode(err, dErrors.CodeChainIntegrity)) {
		l.reportViolation(ctx, containerID, violation)
	}
	if err != nil {
		return Event{}, err
	}
	if violation != "" {
		return Event{}, dErrors.New(dErrors.CodeChainIntegrity, violation)
	}
	return event, nil
}

// History returns the full chain for a container, oldest first.
func (l *Ledger) History(ctx context.Context, containerID id.ContainerID) ([]Event, error) {
	events, err := l.store.History(ctx, containerID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load custody history")
	}
	return events, nil
}

// expectedHolder resolves who must appear as the transferor: the recipient
// of the last event, or the intake custodian for a chain with no events yet.
func (l *Ledger) expectedHolder(ctx context.Context, containerID id.ContainerID) (id.CustodianID, time.Time, int64, error) {
	last, err := l.store.Last(ctx, containerID)
	if err == nil {
		return last.To, last.Timestamp, last.Seq, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return id.CustodianID{}, time.Time{}, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load custody chain")
	}
	anchor, err := l.containers.IntakeCustodian(ctx, containerID)
	if err != nil {
		return id.CustodianID{}, time.Time{}, 0, err
	}
	return anchor, time.Time{}, 0, nil
}

func (l *Ledger) continuityViolation(event Event, expected id.CustodianID, lastAt time.Time) string {
	if event.From != expected {
		return fmt.Sprintf("transferor %s is not the recorded holder %s", event.From, expected)
	}
	if event.Timestamp.Before(lastAt) {
		return fmt.Sprintf("transfer at %s predates previous event at %s",
			event.Timestamp.Format(time.RFC3339), lastAt.Format(time.RFC3339))
	}
	return ""
}

func (l *Ledger) reportViolation(ctx context.Context, containerID id.ContainerID, violation string) {
	if l.metrics != nil {
		l.metrics.ChainIntegrityViolations.Inc()
	}
	l.logger.WarnContext(ctx, "custody continuity violation",
		"log_type", "audit",
		"container_id", containerID,
		"policy", string(l.policy),
		"violation", violation,
	)
}
