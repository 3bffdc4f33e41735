//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// PostgresContainer wraps a testcontainers PostgreSQL instance with an open
// database handle and the application schema applied.
type PostgresContainer struct {
	Container testcontainers.Container
	URL       string
	DB        *sql.DB
}

func startPostgres(t *testing.T) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("custodia_test"),
		tcpostgres.WithUsername("custodia"),
		tcpostgres.WithPassword("custodia"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	db, err := sql.Open("pgx", url)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to open postgres connection: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to ping postgres: %v", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to apply schema: %v", err)
	}

	// The container is shared across suites; Ryuk handles cleanup, so no
	// t.Cleanup registration here.
	return &PostgresContainer{Container: container, URL: url, DB: db}
}

// TruncateTables truncates the given tables, restarting identity sequences.
// Use between tests to ensure isolation.
func (p *PostgresContainer) TruncateTables(ctx context.Context, tables ...string) error {
	if len(tables) == 0 {
		return nil
	}
	query := fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", strings.Join(tables, ", "))
	if _, err := p.DB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id           UUID PRIMARY KEY,
	seq          BIGSERIAL NOT NULL UNIQUE,
	timestamp    TIMESTAMPTZ NOT NULL,
	actor        TEXT NOT NULL,
	action       TEXT NOT NULL,
	entity_type  TEXT NOT NULL,
	entity_id    TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	request_id   TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS ix_audit_entries_entity ON audit_entries (entity_type, entity_id, seq);

CREATE TABLE IF NOT EXISTS containers (
	id                 UUID PRIMARY KEY,
	label              TEXT NOT NULL,
	state              TEXT NOT NULL,
	legal_hold         BOOLEAN NOT NULL DEFAULT FALSE,
	legal_hold_reason  TEXT NOT NULL DEFAULT '',
	chain_integrity    TEXT NOT NULL,
	intake_custodian   UUID NOT NULL,
	current_custodian  UUID NOT NULL,
	policy_id          UUID NOT NULL,
	certificate_id     UUID,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL,
	version            BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS custody_events (
	id              UUID PRIMARY KEY,
	container_id    UUID NOT NULL,
	seq             BIGINT NOT NULL,
	from_custodian  UUID NOT NULL,
	to_custodian    UUID NOT NULL,
	location        TEXT NOT NULL,
	timestamp       TIMESTAMPTZ NOT NULL,
	UNIQUE (container_id, seq)
);

CREATE TABLE IF NOT EXISTS retention_policies (
	id          UUID PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	state       TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS retention_policy_versions (
	id              UUID PRIMARY KEY,
	policy_id       UUID NOT NULL REFERENCES retention_policies (id),
	version_number  INTEGER NOT NULL,
	retention_days  INTEGER NOT NULL,
	method          TEXT NOT NULL,
	effective_date  TIMESTAMPTZ NOT NULL,
	state           TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL,
	UNIQUE (policy_id, version_number)
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_retention_versions_active
	ON retention_policy_versions (policy_id) WHERE state = 'active';

CREATE TABLE IF NOT EXISTS approval_templates (
	id          UUID PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	steps       JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS approval_instances (
	id            UUID PRIMARY KEY,
	workflow_id   UUID NOT NULL,
	request_id    UUID NOT NULL,
	requested_by  TEXT NOT NULL,
	state         TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	resolved_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS approval_steps (
	id               UUID PRIMARY KEY,
	instance_id      UUID NOT NULL REFERENCES approval_instances (id),
	sequence         INTEGER NOT NULL,
	approver_user    TEXT NOT NULL DEFAULT '',
	approver_group   TEXT NOT NULL DEFAULT '',
	mandatory        BOOLEAN NOT NULL,
	timeout_days     INTEGER NOT NULL,
	escalation_user  TEXT NOT NULL DEFAULT '',
	state            TEXT NOT NULL,
	escalated        BOOLEAN NOT NULL DEFAULT FALSE,
	deadline         TIMESTAMPTZ,
	decided_by       TEXT NOT NULL DEFAULT '',
	decided_at       TIMESTAMPTZ,
	comment          TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS ix_approval_steps_deadline
	ON approval_steps (deadline) WHERE state = 'pending';

CREATE TABLE IF NOT EXISTS destruction_requests (
	id                 UUID PRIMARY KEY,
	container_ids      JSONB NOT NULL,
	workflow_id        UUID NOT NULL,
	policy_version_id  UUID,
	instance_id        UUID,
	certificate_id     UUID,
	state              TEXT NOT NULL,
	requested_by       TEXT NOT NULL,
	reason             TEXT NOT NULL,
	state_reason       TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS ix_destruction_requests_instance ON destruction_requests (instance_id);

CREATE TABLE IF NOT EXISTS destruction_certificates (
	id                 UUID PRIMARY KEY,
	number             TEXT NOT NULL UNIQUE,
	request_id         UUID NOT NULL,
	container_ids      JSONB NOT NULL,
	policy_version_id  UUID NOT NULL,
	method             TEXT NOT NULL,
	performed_by       TEXT NOT NULL,
	witness            TEXT NOT NULL,
	destroyed_at       TIMESTAMPTZ NOT NULL,
	checksum           TEXT NOT NULL,
	issued_at          TIMESTAMPTZ NOT NULL
);
`
