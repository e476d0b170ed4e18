package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends audit events to the audit_events table.
// The table should carry an INSERT-only policy; this repo never updates rows.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (
  id, type, call_session_id, provider_call_id, agent_id, task_id, queue_id,
  message, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.Type,
		e.CallSessionID,
		e.ProviderCallID,
		e.AgentID,
		e.TaskID,
		e.QueueID,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}
