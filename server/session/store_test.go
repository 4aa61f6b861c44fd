package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/econochat/config"
)

func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	factories := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"bolt": func(t *testing.T) Store {
			s, err := OpenBoltStore(filepath.Join(t.TempDir(), "nested", "sessions.bolt"))
			require.NoError(t, err)
			return s
		},
	}
	if dsn := os.Getenv("ECONOCHAT_TEST_POSTGRES_DSN"); dsn != "" {
		factories["postgres"] = func(t *testing.T) Store {
			s, err := OpenPostgresStore(context.Background(), dsn)
			require.NoError(t, err)
			return s
		}
	}
	return factories
}

func TestStores(t *testing.T) {
	ctx := context.Background()

	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()

			id := "session-" + name

			t.Run("unknown id is empty", func(t *testing.T) {
				h, err := s.Get(ctx, id)
				require.NoError(t, err)
				assert.NotNil(t, h)
				assert.Empty(t, h)
			})

			t.Run("set then get", func(t *testing.T) {
				history := []Turn{
					{Role: "user", Content: "¿Qué es el IPC?"},
					{Role: "assistant", Content: "El índice de precios de consumo."},
				}
				require.NoError(t, s.Set(ctx, id, history))

				got, err := s.Get(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, history, got)
			})

			t.Run("returned history is a copy", func(t *testing.T) {
				got, err := s.Get(ctx, id)
				require.NoError(t, err)
				require.NotEmpty(t, got)
				got[0].Content = "mutated"

				again, err := s.Get(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, "¿Qué es el IPC?", again[0].Content)
				assert.Len(t, again, 2)
			})

			t.Run("set replaces whole history", func(t *testing.T) {
				require.NoError(t, s.Set(ctx, id, []Turn{{Role: "user", Content: "solo"}}))
				got, err := s.Get(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, []Turn{{Role: "user", Content: "solo"}}, got)
			})

			t.Run("clear", func(t *testing.T) {
				require.NoError(t, s.Clear(ctx, id))
				got, err := s.Get(ctx, id)
				require.NoError(t, err)
				assert.Empty(t, got)

				assert.NoError(t, s.Clear(ctx, "never-seen"))
			})
		})
	}
}

func TestMemoryStoreSetCopiesInput(t *testing.T) {
	s := NewMemoryStore()
	history := []Turn{{Role: "user", Content: "hola"}}
	require.NoError(t, s.Set(context.Background(), "a", history))

	history[0].Content = "changed"
	got, _ := s.Get(context.Background(), "a")
	assert.Equal(t, "hola", got[0].Content)
	assert.Equal(t, 1, s.Len())
}

func TestBoltStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.bolt")
	ctx := context.Background()

	s, err := OpenBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "a", []Turn{{Role: "user", Content: "hola"}}))
	require.NoError(t, s.Close())

	s, err = OpenBoltStore(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []Turn{{Role: "user", Content: "hola"}}, got)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.SessionConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, config.SessionConfig{Backend: "bolt", BoltPath: filepath.Join(t.TempDir(), "s.bolt")})
	require.NoError(t, err)
	assert.IsType(t, &BoltStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, config.SessionConfig{Backend: "redis"})
	assert.Error(t, err)
}
