package journal_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/snacstream/internal/journal"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if SNACSTREAM_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("SNACSTREAM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SNACSTREAM_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *journal.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS synthesis_runs CASCADE"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	pool.Close()

	s, err := journal.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestStore_RecordAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	old := journal.NewRun("leo", "lmstudio", "first", now.Add(-time.Minute))
	old.Tokens, old.Chunks, old.Duration = 28, 1, 250*time.Millisecond
	recent := journal.NewRun("zoe", "chat/ollama", "second", now)
	recent.Error = "no audio"

	for _, r := range []journal.Run{old, recent} {
		if err := s.Record(ctx, r); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	runs, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len = %d, want 2", len(runs))
	}
	if runs[0].ID != recent.ID || runs[0].Error != "no audio" {
		t.Errorf("newest = %+v", runs[0])
	}
	if runs[1].Tokens != 28 || runs[1].Duration != 250*time.Millisecond || runs[1].Source != "lmstudio" {
		t.Errorf("oldest = %+v", runs[1])
	}

	runs, _ = s.Recent(ctx, 1)
	if len(runs) != 1 {
		t.Errorf("limit ignored: %d", len(runs))
	}
}

func TestStore_Prune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stale := journal.NewRun("tara", "", "x", time.Now().Add(-48*time.Hour))
	fresh := journal.NewRun("tara", "", "y", time.Now())
	_ = s.Record(ctx, stale)
	_ = s.Record(ctx, fresh)

	n, err := s.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
