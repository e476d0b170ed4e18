package routing

import (
	"context"
	"database/sql"
)

// PostgresConfigStore loads routing configuration from Postgres.
//
// Schema assumptions:
// - queues(id PK, name)
// - queue_members(queue_id FK, agent_id)
// - workflow_rules(id PK, priority, contact_id, to_number, from_prefix,
//   queue_id FK, is_default)
//
// Configuration is admin-authored and read-only here; this store has no
// write methods by design.
type PostgresConfigStore struct {
	db *sql.DB
}

func NewPostgresConfigStore(db *sql.DB) *PostgresConfigStore {
	return &PostgresConfigStore{db: db}
}

func (r *PostgresConfigStore) Queues(ctx context.Context) ([]Queue, error) {
	const q = `
SELECT q.id, q.name, m.agent_id
FROM queues q
LEFT JOIN queue_members m ON m.queue_id = q.id
ORDER BY q.id
`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out  []Queue
		curr *Queue
	)
	for rows.Next() {
		var (
			id, name string
			agentID  sql.NullString
		)
		if err := rows.Scan(&id, &name, &agentID); err != nil {
			return nil, err
		}
		if curr == nil || curr.ID != id {
			out = append(out, Queue{ID: id, Name: name})
			curr = &out[len(out)-1]
		}
		if agentID.Valid {
			curr.Members = append(curr.Members, agentID.String)
		}
	}
	return out, rows.Err()
}

func (r *PostgresConfigStore) Rules(ctx context.Context) ([]WorkflowRule, error) {
	const q = `
SELECT id, priority, COALESCE(contact_id, ''), COALESCE(to_number, ''),
       COALESCE(from_prefix, ''), queue_id, is_default
FROM workflow_rules
ORDER BY priority ASC
`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WorkflowRule
	for rows.Next() {
		var rule WorkflowRule
		if err := rows.Scan(
			&rule.ID,
			&rule.Priority,
			&rule.Filter.ContactID,
			&rule.Filter.To,
			&rule.Filter.FromPrefix,
			&rule.QueueID,
			&rule.Default,
		); err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// StaticConfigStore serves a fixed configuration; tests and local runs.
type StaticConfigStore struct {
	QueueList []Queue
	RuleList  []WorkflowRule
}

func (s StaticConfigStore) Queues(ctx context.Context) ([]Queue, error) {
	return s.QueueList, nil
}

func (s StaticConfigStore) Rules(ctx context.Context) ([]WorkflowRule, error) {
	return s.RuleList, nil
}
