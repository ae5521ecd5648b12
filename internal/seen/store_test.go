package seen

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/taskstream/internal/config"
	"github.com/rickgao/taskstream/internal/database"
)

// exerciseStore runs the shared Store contract.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	ids, err := s.Load(ctx, "notifications")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("Load() on empty scope = %v, want none", ids)
	}

	if err := s.Save(ctx, "notifications", []int64{9, 3, 5, 3}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Save(ctx, "task-comments-1", []int64{100}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	ids, err = s.Load(ctx, "notifications")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !slices.Equal(ids, []int64{3, 5, 9}) {
		t.Errorf("Load() = %v, want [3 5 9]", ids)
	}

	// Save replaces the scope without touching others.
	if err := s.Save(ctx, "notifications", []int64{5}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	ids, _ = s.Load(ctx, "notifications")
	if !slices.Equal(ids, []int64{5}) {
		t.Errorf("Load() after replace = %v, want [5]", ids)
	}
	ids, _ = s.Load(ctx, "task-comments-1")
	if !slices.Equal(ids, []int64{100}) {
		t.Errorf("other scope = %v, want [100]", ids)
	}

	if err := s.Save(ctx, "notifications", nil); err != nil {
		t.Fatalf("Save(nil) error = %v", err)
	}
	ids, _ = s.Load(ctx, "notifications")
	if len(ids) != 0 {
		t.Errorf("Load() after clearing = %v, want none", ids)
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	exerciseStore(t, s)
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "seen.db")

	db, err := database.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	s, err := NewSQLiteStore(ctx, db)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	exerciseStore(t, s)

	// Survives a reopen.
	if err := s.Save(ctx, "notifications", []int64{1, 2}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	s.Close()

	reopened, err := Open(ctx, config.StoreConfig{Driver: config.StoreSQLite, SQLitePath: path})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer reopened.Close()

	ids, err := reopened.Load(ctx, "notifications")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !slices.Equal(ids, []int64{1, 2}) {
		t.Errorf("Load() after reopen = %v, want [1 2]", ids)
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TASKSTREAM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TASKSTREAM_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New() error = %v", err)
	}
	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS seen_ids`); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	s, err := NewPostgresStore(ctx, pool)
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.StoreConfig{Driver: config.StoreMemory})
	if err != nil {
		t.Fatalf("Open(memory) error = %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("Open(memory) = %T, want *MemoryStore", s)
	}

	if _, err := Open(ctx, config.StoreConfig{Driver: "redis"}); err == nil {
		t.Error("Open(redis) should fail")
	}
}
