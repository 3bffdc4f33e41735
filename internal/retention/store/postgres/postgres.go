// Package postgres persists retention policies and their versions. A partial
// unique index on (policy_id) WHERE state = 'active' backs the single-active
// invariant at the database level.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"custodia/internal/retention"
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

func (s *Store) CreatePolicy(ctx context.Context, policy *retention.Policy) error {
	query := `
		INSERT INTO retention_policies (id, name, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO NOTHING
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(policy.ID), policy.Name, string(policy.State), policy.CreatedAt, policy.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert policy: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert policy rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *Store) FindPolicy(ctx context.Context, policyID id.PolicyID) (*retention.Policy, error) {
	query := `SELECT id, name, state, created_at, updated_at FROM retention_policies WHERE id = $1`
	row := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(policyID))

	var (
		policy retention.Policy
		pid    uuid.UUID
		state  string
	)
	err := row.Scan(&pid, &policy.Name, &state, &policy.CreatedAt, &policy.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select policy: %w", err)
	}
	policy.ID = id.PolicyID(pid)
	policy.State = retention.PolicyState(state)
	return &policy, nil
}

func (s *Store) UpdatePolicy(ctx context.Context, policy *retention.Policy) error {
	query := `UPDATE retention_policies SET name = $1, state = $2, updated_at = $3 WHERE id = $4`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		policy.Name, string(policy.State), policy.UpdatedAt, uuid.UUID(policy.ID))
	if err != nil {
		return fmt.Errorf("update policy: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update policy rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Store) ListPolicies(ctx context.Context) ([]*retention.Policy, error) {
	query := `SELECT id, name, state, created_at, updated_at FROM retention_policies ORDER BY created_at ASC`
	rows, err := s.execer(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	var out []*retention.Policy
	for rows.Next() {
		var (
			policy retention.Policy
			pid    uuid.UUID
			state  string
		)
		if err := rows.Scan(&pid, &policy.Name, &state, &policy.CreatedAt, &policy.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		policy.ID = id.PolicyID(pid)
		policy.State = retention.PolicyState(state)
		out = append(out, &policy)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate policies: %w", err)
	}
	return out, nil
}

const versionColumns = `id, policy_id, version_number, retention_days, method, effective_date, state, created_at, updated_at`

func (s *Store) CreateVersion(ctx context.Context, version *retention.Version) error {
	query := `
		INSERT INTO retention_policy_versions (` + versionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(version.ID),
		uuid.UUID(version.PolicyID),
		version.VersionNumber,
		version.Terms.RetentionDays,
		string(version.Terms.Method),
		version.Terms.EffectiveDate,
		string(version.State),
		version.CreatedAt,
		version.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert policy version: %w", err)
	}
	return nil
}

func (s *Store) FindVersion(ctx context.Context, versionID id.VersionID) (*retention.Version, error) {
	query := `SELECT ` + versionColumns + ` FROM retention_policy_versions WHERE id = $1`
	version, err := scanVersion(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(versionID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select policy version: %w", err)
	}
	return version, nil
}

func (s *Store) UpdateVersion(ctx context.Context, version *retention.Version) error {
	query := `
		UPDATE retention_policy_versions
		SET retention_days = $1, method = $2, effective_date = $3, state = $4, updated_at = $5
		WHERE id = $6
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		version.Terms.RetentionDays,
		string(version.Terms.Method),
		version.Terms.EffectiveDate,
		string(version.State),
		version.UpdatedAt,
		uuid.UUID(version.ID),
	)
	if err != nil {
		return fmt.Errorf("update policy version: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update policy version rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Store) ListVersions(ctx context.Context, policyID id.PolicyID) ([]*retention.Version, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM retention_policy_versions
		WHERE policy_id = $1
		ORDER BY version_number ASC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(policyID))
	if err != nil {
		return nil, fmt.Errorf("list policy versions: %w", err)
	}
	defer rows.Close()

	var out []*retention.Version
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan policy version: %w", err)
		}
		out = append(out, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate policy versions: %w", err)
	}
	return out, nil
}

func (s *Store) ActiveVersion(ctx context.Context, policyID id.PolicyID) (*retention.Version, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM retention_policy_versions
		WHERE policy_id = $1 AND state = 'active'
	`
	version, err := scanVersion(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(policyID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select active version: %w", err)
	}
	return version, nil
}

func (s *Store) MaxVersionNumber(ctx context.Context, policyID id.PolicyID) (int, error) {
	query := `SELECT COALESCE(MAX(version_number), 0) FROM retention_policy_versions WHERE policy_id = $1`
	var maxNumber int
	err := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(policyID)).Scan(&maxNumber)
	if err != nil {
		return 0, fmt.Errorf("select max version number: %w", err)
	}
	return maxNumber, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*retention.Version, error) {
	var (
		version   retention.Version
		versionID uuid.UUID
		policyID  uuid.UUID
		method    string
		state     string
	)
	err := row.Scan(
		&versionID,
		&policyID,
		&version.VersionNumber,
		&version.Terms.RetentionDays,
		&method,
		&version.Terms.EffectiveDate,
		&state,
		&version.CreatedAt,
		&version.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	version.ID = id.VersionID(versionID)
	version.PolicyID = id.PolicyID(policyID)
	version.Terms.Method = retention.DestructionMethod(method)
	version.State = retention.VersionState(state)
	return &version, nil
}
