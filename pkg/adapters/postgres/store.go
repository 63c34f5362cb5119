// Package postgres provides ConversationStore and ResultCache backed by
// PostgreSQL through pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the tables used by this package. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS conversations (
	workspace_id    TEXT        NOT NULL,
	conversation_id TEXT        NOT NULL,
	version         BIGINT      NOT NULL,
	fsm_state       TEXT        NOT NULL,
	payload         JSONB       NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (workspace_id, conversation_id)
);
CREATE TABLE IF NOT EXISTS conversation_transitions (
	seq             BIGSERIAL   PRIMARY KEY,
	workspace_id    TEXT        NOT NULL,
	conversation_id TEXT        NOT NULL,
	payload         JSONB       NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS conversation_transitions_key
	ON conversation_transitions (workspace_id, conversation_id, seq);
CREATE TABLE IF NOT EXISTS tool_results (
	idempotency_key TEXT        PRIMARY KEY,
	payload         JSONB       NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Connect opens a pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres unreachable: %w", err)
	}
	return pool, nil
}

// Migrate applies Schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Store implements ports.ConversationStore. The version column carries the
// optimistic concurrency token.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a store on pool. The pool is owned by the caller.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Load retrieves the state of a conversation.
func (s *Store) Load(ctx context.Context, key domain.ConversationKey) (*domain.ConversationState, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM conversations WHERE workspace_id = $1 AND conversation_id = $2`,
		key.WorkspaceID, key.ConversationID,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	var state domain.ConversationState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &state, nil
}

// CompareAndSwap inserts on expectedVersion 0 and otherwise updates the row
// only while its version still matches.
func (s *Store) CompareAndSwap(ctx context.Context, next *domain.ConversationState, expectedVersion int64) (*domain.ConversationState, error) {
	key := next.Key()
	committed := next.Clone()
	committed.Version = expectedVersion + 1

	payload, err := json.Marshal(committed)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}

	var sql string
	args := []any{key.WorkspaceID, key.ConversationID, committed.Version, string(committed.FSMState), payload, committed.UpdatedAt}
	if expectedVersion == 0 {
		sql = `INSERT INTO conversations (workspace_id, conversation_id, version, fsm_state, payload, updated_at)
		       VALUES ($1, $2, $3, $4, $5, $6)
		       ON CONFLICT (workspace_id, conversation_id) DO NOTHING`
	} else {
		sql = `UPDATE conversations SET version = $3, fsm_state = $4, payload = $5, updated_at = $6
		       WHERE workspace_id = $1 AND conversation_id = $2 AND version = $7`
		args = append(args, expectedVersion)
	}

	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to commit conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, &domain.ConflictError{Key: key, ExpectedVersion: expectedVersion}
	}
	return committed, nil
}

// Append inserts a record into the transition log.
func (s *Store) Append(ctx context.Context, record domain.TransitionRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO conversation_transitions (workspace_id, conversation_id, payload) VALUES ($1, $2, $3)`,
		record.WorkspaceID, record.ConversationID, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to append transition: %w", err)
	}
	return nil
}

// Transitions returns the log in append order.
func (s *Store) Transitions(ctx context.Context, key domain.ConversationKey) ([]domain.TransitionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM conversation_transitions
		 WHERE workspace_id = $1 AND conversation_id = $2 ORDER BY seq`,
		key.WorkspaceID, key.ConversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	records := make([]domain.TransitionRecord, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec domain.TransitionRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// List returns the conversation ids of a workspace, sorted.
func (s *Store) List(ctx context.Context, workspaceID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT conversation_id FROM conversations WHERE workspace_id = $1 ORDER BY conversation_id`,
		workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}
