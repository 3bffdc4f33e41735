// Package postgres persists custody events. The table is append-only; like
// the audit store, no UPDATE or DELETE statement exists here.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"custodia/internal/custody"
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

// Append inserts the event at its chain position. The unique constraint on
// (container_id, seq) turns a lost race for the chain end into
// sentinel.ErrConflict instead of a fork.
func (s *Store) Append(ctx context.Context, event custody.Event) error {
	query := `
		INSERT INTO custody_events (id, container_id, seq, from_custodian, to_custodian, location, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (container_id, seq) DO NOTHING
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(event.ID),
		uuid.UUID(event.ContainerID),
		event.Seq,
		uuid.UUID(event.From),
		uuid.UUID(event.To),
		event.Location,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert custody event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert custody event rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *Store) History(ctx context.Context, containerID id.ContainerID) ([]custody.Event, error) {
	query := `
		SELECT id, container_id, seq, from_custodian, to_custodian, location, timestamp
		FROM custody_events
		WHERE container_id = $1
		ORDER BY seq ASC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(containerID))
	if err != nil {
		return nil, fmt.Errorf("query custody events: %w", err)
	}
	defer rows.Close()

	var events []custody.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan custody event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate custody events: %w", err)
	}
	return events, nil
}

func (s *Store) Last(ctx context.Context, containerID id.ContainerID) (custody.Event, error) {
	query := `
		SELECT id, container_id, seq, from_custodian, to_custodian, location, timestamp
		FROM custody_events
		WHERE container_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`
	row := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(containerID))
	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return custody.Event{}, sentinel.ErrNotFound
	}
	if err != nil {
		return custody.Event{}, fmt.Errorf("select last custody event: %w", err)
	}
	return event, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (custody.Event, error) {
	var (
		event       custody.Event
		eventID     uuid.UUID
		containerID uuid.UUID
		from        uuid.UUID
		to          uuid.UUID
	)
	err := row.Scan(&eventID, &containerID, &event.Seq, &from, &to, &event.Location, &event.Timestamp)
	if err != nil {
		return custody.Event{}, err
	}
	event.ID = id.EventID(eventID)
	event.ContainerID = id.ContainerID(containerID)
	event.From = id.CustodianID(from)
	event.To = id.CustodianID(to)
	return event, nil
}
