// Package postgres persists approval templates, instances, and steps.
// Template step definitions are stored as a JSONB column; live steps get
// their own rows because the sweep queries them by deadline.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"custodia/internal/approval"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
	txcontext "custodia/pkg/platform/tx"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) CreateTemplate(ctx context.Context, template *approval.Template) error {
	stepsJSON, err := json.Marshal(template.Steps)
	if err != nil {
		return fmt.Errorf("marshal template steps: %w", err)
	}
	query := `
		INSERT INTO approval_templates (id, name, steps, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO NOTHING
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(template.ID), template.Name, stepsJSON, template.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert template rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *Store) FindTemplate(ctx context.Context, workflowID id.WorkflowID) (*approval.Template, error) {
	query := `SELECT id, name, steps, created_at FROM approval_templates WHERE id = $1`
	row := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(workflowID))
	template, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select template: %w", err)
	}
	return template, nil
}

func (s *Store) ListTemplates(ctx context.Context) ([]*approval.Template, error) {
	query := `SELECT id, name, steps, created_at FROM approval_templates ORDER BY created_at ASC`
	rows, err := s.execer(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []*approval.Template
	for rows.Next() {
		template, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, template)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return out, nil
}

func (s *Store) CreateInstance(ctx context.Context, instance *approval.Instance, steps []*approval.Step) error {
	query := `
		INSERT INTO approval_instances (id, workflow_id, request_id, requested_by, state, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(instance.ID),
		uuid.UUID(instance.WorkflowID),
		uuid.UUID(instance.RequestID),
		instance.RequestedBy,
		string(instance.State),
		instance.CreatedAt,
		instance.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}
	for _, step := range steps {
		if err := s.insertStep(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

const stepColumns = `
	id, instance_id, sequence, approver_user, approver_group, mandatory,
	timeout_days, escalation_user, state, escalated, deadline,
	decided_by, decided_at, comment
`

func (s *Store) insertStep(ctx context.Context, step *approval.Step) error {
	query := `
		INSERT INTO approval_steps (` + stepColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(step.ID),
		uuid.UUID(step.InstanceID),
		step.Sequence,
		step.ApproverUser,
		step.ApproverGroup,
		step.Mandatory,
		step.TimeoutDays,
		step.EscalationUser,
		string(step.State),
		step.Escalated,
		step.Deadline,
		step.DecidedBy,
		step.DecidedAt,
		step.Comment,
	)
	if err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

func (s *Store) FindInstance(ctx context.Context, instanceID id.InstanceID) (*approval.Instance, error) {
	query := `
		SELECT id, workflow_id, request_id, requested_by, state, created_at, resolved_at
		FROM approval_instances
		WHERE id = $1
	`
	row := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(instanceID))

	var (
		instance   approval.Instance
		iid        uuid.UUID
		workflowID uuid.UUID
		requestID  uuid.UUID
		state      string
		resolvedAt sql.NullTime
	)
	err := row.Scan(&iid, &workflowID, &requestID, &instance.RequestedBy, &state, &instance.CreatedAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select instance: %w", err)
	}
	instance.ID = id.InstanceID(iid)
	instance.WorkflowID = id.WorkflowID(workflowID)
	instance.RequestID = id.RequestID(requestID)
	instance.State = approval.InstanceState(state)
	if resolvedAt.Valid {
		instance.ResolvedAt = &resolvedAt.Time
	}
	return &instance, nil
}

func (s *Store) UpdateInstance(ctx context.Context, instance *approval.Instance) error {
	query := `UPDATE approval_instances SET state = $1, resolved_at = $2 WHERE id = $3`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		string(instance.State), instance.ResolvedAt, uuid.UUID(instance.ID))
	if err != nil {
		return fmt.Errorf("update instance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update instance rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Store) FindStep(ctx context.Context, stepID id.StepID) (*approval.Step, error) {
	query := `SELECT ` + stepColumns + ` FROM approval_steps WHERE id = $1`
	step, err := scanStep(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(stepID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select step: %w", err)
	}
	return step, nil
}

// UpdateStep writes the step only if its stored state still equals from.
// Zero rows affected means a concurrent writer got there first.
func (s *Store) UpdateStep(ctx context.Context, step *approval.Step, from approval.StepState) error {
	query := `
		UPDATE approval_steps
		SET approver_user = $1, approver_group = $2, state = $3, escalated = $4,
		    deadline = $5, decided_by = $6, decided_at = $7, comment = $8
		WHERE id = $9 AND state = $10
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		step.ApproverUser,
		step.ApproverGroup,
		string(step.State),
		step.Escalated,
		step.Deadline,
		step.DecidedBy,
		step.DecidedAt,
		step.Comment,
		uuid.UUID(step.ID),
		string(from),
	)
	if err != nil {
		return fmt.Errorf("update step: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update step rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *Store) ListSteps(ctx context.Context, instanceID id.InstanceID) ([]*approval.Step, error) {
	query := `SELECT ` + stepColumns + ` FROM approval_steps WHERE instance_id = $1 ORDER BY sequence ASC, id ASC`
	return s.querySteps(ctx, query, uuid.UUID(instanceID))
}

func (s *Store) OpenStepsPastDeadline(ctx context.Context, now time.Time) ([]*approval.Step, error) {
	query := `SELECT ` + stepColumns + ` FROM approval_steps WHERE state = 'pending' AND deadline < $1 ORDER BY deadline ASC`
	return s.querySteps(ctx, query, now)
}

func (s *Store) querySteps(ctx context.Context, query string, args ...any) ([]*approval.Step, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var out []*approval.Step
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		out = append(out, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (*approval.Template, error) {
	var (
		template  approval.Template
		tid       uuid.UUID
		stepsJSON []byte
	)
	if err := row.Scan(&tid, &template.Name, &stepsJSON, &template.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(stepsJSON, &template.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal template steps: %w", err)
	}
	template.ID = id.WorkflowID(tid)
	return &template, nil
}

func scanStep(row rowScanner) (*approval.Step, error) {
	var (
		step       approval.Step
		stepID     uuid.UUID
		instanceID uuid.UUID
		state      string
		deadline   sql.NullTime
		decidedAt  sql.NullTime
	)
	err := row.Scan(
		&stepID,
		&instanceID,
		&step.Sequence,
		&step.ApproverUser,
		&step.ApproverGroup,
		&step.Mandatory,
		&step.TimeoutDays,
		&step.EscalationUser,
		&state,
		&step.Escalated,
		&deadline,
		&step.DecidedBy,
		&decidedAt,
		&step.Comment,
	)
	if err != nil {
		return nil, err
	}
	step.ID = id.StepID(stepID)
	step.InstanceID = id.InstanceID(instanceID)
	step.State = approval.StepState(state)
	if deadline.Valid {
		step.Deadline = &deadline.Time
	}
	if decidedAt.Valid {
		step.DecidedAt = &decidedAt.Time
	}
	return &step, nil
}
