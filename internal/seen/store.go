package seen

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/rickgao/taskstream/internal/config"
	"github.com/rickgao/taskstream/internal/database"
)

// Store persists the IDs of a scope (for example "notifications" or
// "task-comments-12").
type Store interface {
	// Load returns the saved IDs of scope, sorted. Unknown scopes yield nil.
	Load(ctx context.Context, scope string) ([]int64, error)

	// Save replaces the saved IDs of scope.
	Save(ctx context.Context, scope string, ids []int64) error

	// Close releases the underlying connection.
	Close() error
}

// Open creates the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", config.StoreMemory:
		return NewMemoryStore(), nil

	case config.StoreSQLite:
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		s, err := NewSQLiteStore(ctx, db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return s, nil

	case config.StorePostgres:
		pool, err := database.Connect(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		s, err := NewPostgresStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// MemoryStore keeps IDs for the life of the process.
type MemoryStore struct {
	mu     sync.Mutex
	scopes map[string][]int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{scopes: make(map[string][]int64)}
}

func (s *MemoryStore) Load(ctx context.Context, scope string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.scopes[scope]), nil
}

func (s *MemoryStore) Save(ctx context.Context, scope string, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids = slices.Clone(ids)
	slices.Sort(ids)
	s.scopes[scope] = slices.Compact(ids)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
