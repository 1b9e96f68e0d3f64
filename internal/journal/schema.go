package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSynthesisRuns = `
CREATE TABLE IF NOT EXISTS synthesis_runs (
    id            UUID         PRIMARY KEY,
    voice         TEXT         NOT NULL,
    source        TEXT         NOT NULL DEFAULT '',
    prompt_chars  INTEGER      NOT NULL DEFAULT 0,
    tokens        INTEGER      NOT NULL DEFAULT 0,
    chunks        INTEGER      NOT NULL DEFAULT 0,
    skipped       INTEGER      NOT NULL DEFAULT 0,
    samples       BIGINT       NOT NULL DEFAULT 0,
    cancelled     BOOLEAN      NOT NULL DEFAULT false,
    error         TEXT         NOT NULL DEFAULT '',
    started_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    duration_ms   BIGINT       NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_synthesis_runs_started_at
    ON synthesis_runs (started_at DESC);
`

// Migrate creates the journal table and its index. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlSynthesisRuns); err != nil {
		return fmt.Errorf("journal: migrate: %w", err)
	}
	return nil
}
