package presence

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore persists presence in the agent_presence table.
//
// Schema assumptions:
// - agent_presence(agent_id PK, state, state_since)
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (r *PostgresStore) Upsert(ctx context.Context, p AgentPresence) (AgentPresence, error) {
	// state_since advances only on an actual state change; repeated
	// heartbeats with the same state keep the idle clock running.
	const q = `
INSERT INTO agent_presence (agent_id, state, state_since)
VALUES ($1, $2, $3)
ON CONFLICT (agent_id)
DO UPDATE SET state = EXCLUDED.state,
              state_since = CASE
                WHEN agent_presence.state <> EXCLUDED.state THEN EXCLUDED.state_since
                ELSE agent_presence.state_since
              END
RETURNING agent_id, state, state_since
`
	var out AgentPresence
	if err := r.db.QueryRowContext(ctx, q, p.AgentID, p.State, p.StateSince).Scan(
		&out.AgentID,
		&out.State,
		&out.StateSince,
	); err != nil {
		return AgentPresence{}, err
	}
	return out, nil
}

func (r *PostgresStore) Get(ctx context.Context, agentID string) (AgentPresence, error) {
	const q = `
SELECT agent_id, state, state_since
FROM agent_presence
WHERE agent_id = $1
`
	var p AgentPresence
	if err := r.db.QueryRowContext(ctx, q, agentID).Scan(&p.AgentID, &p.State, &p.StateSince); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AgentPresence{}, ErrNotFound
		}
		return AgentPresence{}, err
	}
	return p, nil
}

func (r *PostgresStore) ListByState(ctx context.Context, state State) ([]AgentPresence, error) {
	const q = `
SELECT agent_id, state, state_since
FROM agent_presence
WHERE state = $1
ORDER BY state_since ASC
`
	rows, err := r.db.QueryContext(ctx, q, state)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AgentPresence
	for rows.Next() {
		var p AgentPresence
		if err := rows.Scan(&p.AgentID, &p.State, &p.StateSince); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
