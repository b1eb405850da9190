package database

import (
	"context"
	"fmt"
)

// Schema is the DDL for every table. Statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id           BIGSERIAL PRIMARY KEY,
    telegram_id  BIGINT NOT NULL UNIQUE,
    username     TEXT,
    first_name   TEXT,
    last_name    TEXT,
    role         TEXT NOT NULL CHECK (role IN ('creator','foreman','worker','viewer')),
    is_active    BOOLEAN NOT NULL DEFAULT TRUE,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS projects (
    id           BIGSERIAL PRIMARY KEY,
    name         TEXT NOT NULL,
    description  TEXT,
    color        TEXT NOT NULL DEFAULT '#3B82F6',
    is_active    BOOLEAN NOT NULL DEFAULT TRUE,
    created_by   BIGINT NOT NULL REFERENCES users(id),
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS project_memberships (
    id           BIGSERIAL PRIMARY KEY,
    project_id   BIGINT NOT NULL REFERENCES projects(id),
    user_id      BIGINT NOT NULL REFERENCES users(id),
    role         TEXT NOT NULL CHECK (role IN ('owner','member','viewer')),
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (project_id, user_id)
);

CREATE UNIQUE INDEX IF NOT EXISTS project_memberships_one_owner
    ON project_memberships (project_id) WHERE role = 'owner';

CREATE TABLE IF NOT EXISTS tasks (
    id           BIGSERIAL PRIMARY KEY,
    title        TEXT NOT NULL,
    description  TEXT,
    status       TEXT NOT NULL DEFAULT 'todo' CHECK (status IN ('todo','in_progress','in_review','done')),
    priority     TEXT NOT NULL DEFAULT 'medium' CHECK (priority IN ('low','medium','high','urgent')),
    project_id   BIGINT NOT NULL REFERENCES projects(id),
    created_by   BIGINT NOT NULL REFERENCES users(id),
    assigned_to  BIGINT REFERENCES users(id),
    deadline     TIMESTAMPTZ,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS tasks_project_idx ON tasks (project_id);
CREATE INDEX IF NOT EXISTS tasks_created_by_idx ON tasks (created_by);
CREATE INDEX IF NOT EXISTS tasks_assigned_to_idx ON tasks (assigned_to);

CREATE TABLE IF NOT EXISTS task_comments (
    id           BIGSERIAL PRIMARY KEY,
    task_id      BIGINT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
    author_id    BIGINT NOT NULL REFERENCES users(id),
    content      TEXT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS task_attachments (
    id           BIGSERIAL PRIMARY KEY,
    task_id      BIGINT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
    uploaded_by  BIGINT NOT NULL REFERENCES users(id),
    file_name    TEXT NOT NULL,
    stored_path  TEXT NOT NULL,
    content_type TEXT NOT NULL,
    size_bytes   BIGINT NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS approval_requests (
    id             BIGSERIAL PRIMARY KEY,
    requester_id   BIGINT NOT NULL REFERENCES users(id),
    approver_id    BIGINT NOT NULL REFERENCES users(id),
    action_type    TEXT NOT NULL,
    entity_type    TEXT NOT NULL,
    entity_id      BIGINT NOT NULL DEFAULT 0,
    action_data    JSONB NOT NULL DEFAULT '{}'::jsonb,
    status         TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','approved','rejected')),
    project_id     BIGINT REFERENCES projects(id),
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    reviewed_at    TIMESTAMPTZ,
    review_comment TEXT
);

CREATE INDEX IF NOT EXISTS approval_requests_pending_idx
    ON approval_requests (approver_id, created_at DESC) WHERE status = 'pending';
`

// SchemaTables lists the tables created by Schema, in creation order.
var SchemaTables = []string{
	"users", "projects", "project_memberships", "tasks",
	"task_comments", "task_attachments", "approval_requests",
}

// Migrate applies Schema.
func (db *PostgresDatabase) Migrate(ctx context.Context) error {
	if _, err := db.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// TableCounts returns the row count of every schema table.
func (db *PostgresDatabase) TableCounts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int, len(SchemaTables))
	for _, table := range SchemaTables {
		var n int
		// table names come from SchemaTables, never from input
		if err := db.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}
