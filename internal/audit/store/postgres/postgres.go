// Package postgres persists audit entries in the audit_entries table. The
// table carries a BIGSERIAL seq column and no UPDATE or DELETE statement
// exists in this package; immutability is enforced by construction and by a
// database grant that revokes UPDATE/DELETE from the application role.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"custodia/internal/audit"
	id "custodia/pkg/domain"
	txcontext "custodia/pkg/platform/tx"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append inserts the entry and returns it with the server-assigned seq.
// When a transaction is present in context the insert joins it, so the audit
// entry commits atomically with the state change it records.
func (s *Store) Append(ctx context.Context, entry audit.Entry) (audit.Entry, error) {
	query := `
		INSERT INTO audit_entries (
			id, timestamp, actor, action, entity_type, entity_id, description, request_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq
	`
	err := s.execer(ctx).QueryRowContext(ctx, query,
		uuid.UUID(entry.ID),
		entry.Timestamp,
		entry.Actor,
		string(entry.Action),
		entry.Entity.Type,
		entry.Entity.ID,
		entry.Description,
		entry.RequestID,
	).Scan(&entry.Seq)
	if err != nil {
		return audit.Entry{}, fmt.Errorf("insert audit entry: %w", err)
	}
	return entry, nil
}

// Query returns matching entries ordered by seq ascending.
func (s *Store) Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, cond+"$"+strconv.Itoa(len(args)))
	}

	add("seq > ", filter.AfterSeq)
	if filter.Entity != nil {
		add("entity_type = ", filter.Entity.Type)
		add("entity_id = ", filter.Entity.ID)
	}
	if filter.Actor != "" {
		add("actor = ", filter.Actor)
	}
	if filter.Action != "" {
		add("action = ", string(filter.Action))
	}
	if !filter.From.IsZero() {
		add("timestamp >= ", filter.From)
	}
	if !filter.To.IsZero() {
		add("timestamp <= ", filter.To)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT id, seq, timestamp, actor, action, entity_type, entity_id, description, request_id
		FROM audit_entries
		WHERE %s
		ORDER BY seq ASC
		LIMIT $%d
	`, strings.Join(conds, " AND "), len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			e       audit.Entry
			entryID uuid.UUID
			action  string
		)
		err := rows.Scan(
			&entryID,
			&e.Seq,
			&e.Timestamp,
			&e.Actor,
			&action,
			&e.Entity.Type,
			&e.Entity.ID,
			&e.Description,
			&e.RequestID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.ID = id.EntryID(entryID)
		e.Action = audit.Action(action)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
