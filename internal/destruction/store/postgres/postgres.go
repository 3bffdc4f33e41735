// Package postgres persists destruction requests and certificates. The
// certificates table carries a unique constraint on number.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"custodia/internal/destruction"
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

const requestColumns = `
	id, container_ids, workflow_id, policy_version_id, instance_id, certificate_id,
	state, requested_by, reason, state_reason, created_at, updated_at
`

func (s *Store) CreateRequest(ctx context.Context, request *destruction.Request) error {
	containersJSON, err := json.Marshal(request.ContainerIDs)
	if err != nil {
		return fmt.Errorf("marshal container ids: %w", err)
	}
	query := `
		INSERT INTO destruction_requests (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(request.ID),
		containersJSON,
		uuid.UUID(request.WorkflowID),
		optionalUUID(request.PolicyVersionID),
		optionalUUID(request.InstanceID),
		optionalUUID(request.CertificateID),
		string(request.State),
		request.RequestedBy,
		request.Reason,
		request.StateReason,
		request.CreatedAt,
		request.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (s *Store) FindRequest(ctx context.Context, requestID id.RequestID) (*destruction.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM destruction_requests WHERE id = $1`
	request, err := scanRequest(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(requestID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select request: %w", err)
	}
	return request, nil
}

func (s *Store) FindRequestByInstance(ctx context.Context, instanceID id.InstanceID) (*destruction.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM destruction_requests WHERE instance_id = $1`
	request, err := scanRequest(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(instanceID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select request by instance: %w", err)
	}
	return request, nil
}

func (s *Store) UpdateRequest(ctx context.Context, request *destruction.Request) error {
	query := `
		UPDATE destruction_requests
		SET policy_version_id = $1, instance_id = $2, certificate_id = $3,
		    state = $4, state_reason = $5, updated_at = $6
		WHERE id = $7
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		optionalUUID(request.PolicyVersionID),
		optionalUUID(request.InstanceID),
		optionalUUID(request.CertificateID),
		string(request.State),
		request.StateReason,
		request.UpdatedAt,
		uuid.UUID(request.ID),
	)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update request rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Store) ListRequests(ctx context.Context) ([]*destruction.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM destruction_requests ORDER BY created_at ASC`
	rows, err := s.execer(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var out []*destruction.Request
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, request)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return out, nil
}

func (s *Store) CreateCertificate(ctx context.Context, cert *destruction.Certificate) error {
	containersJSON, err := json.Marshal(cert.ContainerIDs)
	if err != nil {
		return fmt.Errorf("marshal container ids: %w", err)
	}
	query := `
		INSERT INTO destruction_certificates (
			id, number, request_id, container_ids, policy_version_id, method,
			performed_by, witness, destroyed_at, checksum, issued_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (number) DO NOTHING
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(cert.ID),
		cert.Number,
		uuid.UUID(cert.RequestID),
		containersJSON,
		uuid.UUID(cert.PolicyVersionID),
		string(cert.Method),
		cert.PerformedBy,
		cert.Witness,
		cert.DestroyedAt,
		cert.Checksum,
		cert.IssuedAt,
	)
	if err != nil {
		return fmt.Errorf("insert certificate: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert certificate rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *Store) FindCertificate(ctx context.Context, certID id.CertificateID) (*destruction.Certificate, error) {
	query := `
		SELECT id, number, request_id, container_ids, policy_version_id, method,
		       performed_by, witness, destroyed_at, checksum, issued_at
		FROM destruction_certificates
		WHERE id = $1
	`
	row := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(certID))

	var (
		cert           destruction.Certificate
		cid            uuid.UUID
		requestID      uuid.UUID
		containersJSON []byte
		versionID      uuid.UUID
		method         string
	)
	err := row.Scan(&cid, &cert.Number, &requestID, &containersJSON, &versionID, &method,
		&cert.PerformedBy, &cert.Witness, &cert.DestroyedAt, &cert.Checksum, &cert.IssuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select certificate: %w", err)
	}
	if err := json.Unmarshal(containersJSON, &cert.ContainerIDs); err != nil {
		return nil, fmt.Errorf("unmarshal container ids: %w", err)
	}
	cert.ID = id.CertificateID(cid)
	cert.RequestID = id.RequestID(requestID)
	cert.PolicyVersionID = id.VersionID(versionID)
	cert.Method = retention.DestructionMethod(method)
	return &cert, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*destruction.Request, error) {
	var (
		request        destruction.Request
		rid            uuid.UUID
		containersJSON []byte
		workflowID     uuid.UUID
		versionID      sql.Null[uuid.UUID]
		instanceID     sql.Null[uuid.UUID]
		certID         sql.Null[uuid.UUID]
		state          string
	)
	err := row.Scan(
		&rid,
		&containersJSON,
		&workflowID,
		&versionID,
		&instanceID,
		&certID,
		&state,
		&request.RequestedBy,
		&request.Reason,
		&request.StateReason,
		&request.CreatedAt,
		&request.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(containersJSON, &request.ContainerIDs); err != nil {
		return nil, fmt.Errorf("unmarshal container ids: %w", err)
	}
	request.ID = id.RequestID(rid)
	request.WorkflowID = id.WorkflowID(workflowID)
	request.State = destruction.RequestState(state)
	if versionID.Valid {
		v := id.VersionID(versionID.V)
		request.PolicyVersionID = &v
	}
	if instanceID.Valid {
		v := id.InstanceID(instanceID.V)
		request.InstanceID = &v
	}
	if certID.Valid {
		v := id.CertificateID(certID.V)
		request.CertificateID = &v
	}
	return &request, nil
}

func optionalUUID[T ~[16]byte](v *T) any {
	if v == nil {
		return nil
	}
	return uuid.UUID(*v)
}
