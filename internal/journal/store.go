package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Journal = (*Store)(nil)

// Store is the PostgreSQL journal. All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, pings the server and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("journal: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Record implements [Journal].
func (s *Store) Record(ctx context.Context, run Run) error {
	const q = `
		INSERT INTO synthesis_runs
		    (id, voice, source, prompt_chars, tokens, chunks, skipped, samples,
		     cancelled, error, started_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.pool.Exec(ctx, q,
		run.ID,
		run.Voice,
		run.Source,
		run.PromptChars,
		run.Tokens,
		run.Chunks,
		run.Skipped,
		run.Samples,
		run.Cancelled,
		run.Error,
		run.StartedAt,
		run.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("journal: record run: %w", err)
	}
	return nil
}

// Recent implements [Journal].
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT id, voice, source, prompt_chars, tokens, chunks, skipped, samples,
		       cancelled, error, started_at, duration_ms
		FROM   synthesis_runs
		ORDER  BY started_at DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Run, error) {
		var (
			r          Run
			durationMS int64
		)
		if err := row.Scan(
			&r.ID,
			&r.Voice,
			&r.Source,
			&r.PromptChars,
			&r.Tokens,
			&r.Chunks,
			&r.Skipped,
			&r.Samples,
			&r.Cancelled,
			&r.Error,
			&r.StartedAt,
			&durationMS,
		); err != nil {
			return Run{}, err
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal: scan rows: %w", err)
	}
	if runs == nil {
		runs = []Run{}
	}
	return runs, nil
}

// Prune implements [Journal].
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	const q = `
		DELETE FROM synthesis_runs
		WHERE  started_at < now() - ($1::bigint * interval '1 microsecond')`

	tag, err := s.pool.Exec(ctx, q, olderThan.Microseconds())
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ping implements [Journal].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("journal: ping: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }
