// Package session keeps the per-session chat history and the signed cookie
// identifying a session.
package session

import (
	"context"
	"fmt"
	"io"

	"github.com/teilomillet/econochat/config"
)

// Turn is one role-tagged message of a conversation. Turns are never
// modified once stored.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Store maps a session id to its ordered turn log. Get returns an empty
// history for unknown ids. Implementations copy on the way in and out, so
// callers may modify returned slices freely.
type Store interface {
	Get(ctx context.Context, id string) ([]Turn, error)
	Set(ctx context.Context, id string, history []Turn) error
	Clear(ctx context.Context, id string) error
	io.Closer
}

// Open creates the store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.SessionConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "bolt":
		return OpenBoltStore(cfg.BoltPath)
	case "postgres":
		return OpenPostgresStore(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}

func cloneHistory(history []Turn) []Turn {
	if len(history) == 0 {
		return []Turn{}
	}
	return append([]Turn(nil), history...)
}
