package callrecord

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"
)

// PostgresStore persists call sessions in the call_sessions table.
//
// Schema assumptions:
// - call_sessions(id PK, provider_call_id UNIQUE, direction, agent_id,
//   counterparty, status, started_at, answered_at, ended_at,
//   duration_seconds, contact_id, last_event_at, created_at, updated_at)
// - Terminal immutability is enforced with a conditional UPDATE, never
//   read-then-write.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

const sessionColumns = `
id, provider_call_id, direction, agent_id, counterparty, status,
started_at, answered_at, ended_at, duration_seconds, contact_id,
last_event_at, created_at, updated_at`

func (r *PostgresStore) Create(ctx context.Context, s CallSession) error {
	const q = `
INSERT INTO call_sessions (
  id, provider_call_id, direction, agent_id, counterparty, status,
  started_at, answered_at, ended_at, duration_seconds, contact_id,
  last_event_at, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)
`
	now := r.now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = now
	}
	_, err := r.db.ExecContext(ctx, q,
		s.ID,
		s.ProviderCallID,
		s.Direction,
		s.AgentID,
		s.Counterparty,
		s.Status,
		s.StartedAt,
		s.AnsweredAt,
		s.EndedAt,
		s.DurationSeconds,
		s.ContactID,
		s.LastEventAt,
		s.CreatedAt,
		s.UpdatedAt,
	)
	return err
}

func (r *PostgresStore) Get(ctx context.Context, id string) (CallSession, error) {
	const q = `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE id = $1
`
	return r.scanOne(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresStore) GetByProviderCallID(ctx context.Context, providerCallID string) (CallSession, error) {
	const q = `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE provider_call_id = $1
`
	return r.scanOne(r.db.QueryRowContext(ctx, q, providerCallID))
}

func (r *PostgresStore) Apply(ctx context.Context, id string, m Mutation) (CallSession, error) {
	// The WHERE clause is the terminal-immutability guard; a concurrent
	// mutation that terminated the session first makes this a no-op.
	const q = `
UPDATE call_sessions
SET status           = CASE WHEN $2 <> '' THEN $2 ELSE status END,
    agent_id         = CASE WHEN $3 <> '' THEN $3 ELSE agent_id END,
    contact_id       = CASE WHEN $4 <> '' THEN $4 ELSE contact_id END,
    answered_at      = COALESCE($5, answered_at),
    ended_at         = COALESCE($6, ended_at),
    last_event_at    = GREATEST(last_event_at, COALESCE($7, last_event_at)),
    duration_seconds = CASE
      WHEN $8 AND COALESCE($5, answered_at) IS NOT NULL AND COALESCE($6, ended_at) IS NOT NULL
      THEN GREATEST(0, EXTRACT(EPOCH FROM (COALESCE($6, ended_at) - COALESCE($5, answered_at)))::int)
      WHEN $8
      THEN 0
      ELSE duration_seconds
    END,
    updated_at       = $9
WHERE id = $1
  AND status NOT IN ('completed','failed','canceled')
RETURNING ` + sessionColumns + `
`
	s, err := r.scanOne(r.db.QueryRowContext(ctx, q,
		id,
		string(m.Status),
		m.AgentID,
		m.ContactID,
		m.AnsweredAt,
		m.EndedAt,
		nullTime(m.LastEventAt),
		m.SetDuration,
		r.now().UTC(),
	))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return CallSession{}, err
	}
	// Zero rows: distinguish missing from terminal.
	if _, getErr := r.Get(ctx, id); getErr == nil {
		return CallSession{}, ErrTerminal
	}
	return CallSession{}, ErrNotFound
}

func (r *PostgresStore) List(ctx context.Context, f ListFilter) ([]CallSession, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, strings.Replace(cond, "?", placeholder(len(args)), 1))
	}
	if !f.From.IsZero() {
		add("started_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		add("started_at < ?", f.To)
	}
	if f.AgentID != "" {
		add("agent_id = ?", f.AgentID)
	}
	if f.Status != "" {
		add("status = ?", string(f.Status))
	}

	q := `SELECT ` + sessionColumns + ` FROM call_sessions`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY started_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += " LIMIT " + placeholder(len(args))
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresStore) scanOne(row rowScanner) (CallSession, error) {
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallSession{}, ErrNotFound
		}
		return CallSession{}, err
	}
	return s, nil
}

func scanSession(row rowScanner) (CallSession, error) {
	var (
		s          CallSession
		answeredAt sql.NullTime
		endedAt    sql.NullTime
	)
	if err := row.Scan(
		&s.ID,
		&s.ProviderCallID,
		&s.Direction,
		&s.AgentID,
		&s.Counterparty,
		&s.Status,
		&s.StartedAt,
		&answeredAt,
		&endedAt,
		&s.DurationSeconds,
		&s.ContactID,
		&s.LastEventAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return CallSession{}, err
	}
	if answeredAt.Valid {
		t := answeredAt.Time
		s.AnsweredAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		s.EndedAt = &t
	}
	return s, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}
