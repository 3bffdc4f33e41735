// Package postgres persists containers. Writes are optimistic: UPDATE is
// predicated on the version the caller read, and a missed predicate maps to
// sentinel.ErrConflict so services can surface a retryable conflict.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"custodia/internal/container"
	id "custodia/pkg/domain"
	txcontext "custodia/pkg/platform/tx"
	"custodia/pkg/platform/sentinel"
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

const containerColumns = `
	id, label, state, legal_hold, legal_hold_reason, chain_integrity,
	intake_custodian, current_custodian, policy_id, certificate_id,
	created_at, updated_at, version
`

func (s *Store) Create(ctx context.Context, c *container.Container) error {
	c.Version = 1
	query := `
		INSERT INTO containers (` + containerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(c.ID),
		c.Label,
		string(c.State),
		c.LegalHold,
		c.LegalHoldReason,
		string(c.ChainIntegrity),
		uuid.UUID(c.IntakeCustodian),
		uuid.UUID(c.CurrentCustodian),
		uuid.UUID(c.PolicyID),
		certificateArg(c.CertificateID),
		c.CreatedAt,
		c.UpdatedAt,
		c.Version,
	)
	if err != nil {
		return fmt.Errorf("insert container: %w", err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, containerID id.ContainerID) (*container.Container, error) {
	query := `SELECT ` + containerColumns + ` FROM containers WHERE id = $1`
	row := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(containerID))
	c, err := scanContainer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select container: %w", err)
	}
	return c, nil
}

func (s *Store) Update(ctx context.Context, c *container.Container) error {
	query := `
		UPDATE containers
		SET label = $1, state = $2, legal_hold = $3, legal_hold_reason = $4,
		    chain_integrity = $5, current_custodian = $6, certificate_id = $7,
		    updated_at = $8, version = version + 1
		WHERE id = $9 AND version = $10
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		c.Label,
		string(c.State),
		c.LegalHold,
		c.LegalHoldReason,
		string(c.ChainIntegrity),
		uuid.UUID(c.CurrentCustodian),
		certificateArg(c.CertificateID),
		c.UpdatedAt,
		uuid.UUID(c.ID),
		c.Version,
	)
	if err != nil {
		return fmt.Errorf("update container: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update container rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	c.Version++
	return nil
}

func (s *Store) List(ctx context.Context) ([]*container.Container, error) {
	query := `SELECT ` + containerColumns + ` FROM containers ORDER BY created_at ASC`
	rows, err := s.execer(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	defer rows.Close()

	var out []*container.Container
	for rows.Next() {
		c, err := scanContainer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan container: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate containers: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContainer(row rowScanner) (*container.Container, error) {
	var (
		c                  container.Container
		containerID        uuid.UUID
		state              string
		chain              string
		intakeCustodian    uuid.UUID
		currentCustodian   uuid.UUID
		policyID           uuid.UUID
		certificateID      sql.Null[uuid.UUID]
	)
	err := row.Scan(
		&containerID,
		&c.Label,
		&state,
		&c.LegalHold,
		&c.LegalHoldReason,
		&chain,
		&intakeCustodian,
		&currentCustodian,
		&policyID,
		&certificateID,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.Version,
	)
	if err != nil {
		return nil, err
	}
	c.ID = id.ContainerID(containerID)
	c.State = container.State(state)
	c.ChainIntegrity = container.ChainIntegrity(chain)
	c.IntakeCustodian = id.CustodianID(intakeCustodian)
	c.CurrentCustodian = id.CustodianID(currentCustodian)
	c.PolicyID = id.PolicyID(policyID)
	if certificateID.Valid {
		certID := id.CertificateID(certificateID.V)
		c.CertificateID = &certID
	}
	return &c, nil
}

func certificateArg(certID *id.CertificateID) any {
	if certID == nil {
		return nil
	}
	return uuid.UUID(*certID)
}
