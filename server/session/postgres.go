package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const createSessionsTable = `
CREATE TABLE IF NOT EXISTS chat_sessions (
	id         TEXT PRIMARY KEY,
	history    JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore persists histories in the chat_sessions table, which is
// created on open.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgresStore connects to dsn and prepares the schema.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, createSessionsTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sessions table: %w", err)
	}
	return NewPostgresStore(db), nil
}

// NewPostgresStore wraps an existing connection pool. The schema must exist.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, id string) ([]Turn, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT history FROM chat_sessions WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return []Turn{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	history := []Turn{}
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return history, nil
}

func (s *PostgresStore) Set(ctx context.Context, id string, history []Turn) error {
	enc, err := json.Marshal(cloneHistory(history))
	if err != nil {
		return fmt.Errorf("encode session %s: %w", id, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, history, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET history = EXCLUDED.history, updated_at = now()
	`, id, string(enc))
	if err != nil {
		return fmt.Errorf("save session %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) Clear(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("clear session %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
