// Package journal records metadata about every synthesis run.
//
// A run entry never contains the prompt text or the generated tokens; only
// counts, timings and the outcome are kept. [Store] persists entries to
// PostgreSQL; [Nop] is used when no database is configured.
package journal

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/snacstream/pkg/bridge"
)

// Journal stores and lists synthesis runs. Implementations must be safe for
// concurrent use.
type Journal interface {
	// Record persists run.
	Record(ctx context.Context, run Run) error
	// Recent returns up to limit runs, newest first.
	Recent(ctx context.Context, limit int) ([]Run, error)
	// Prune deletes runs that started more than olderThan ago and reports how
	// many were removed.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error
	Close()
}

// Run is one journal entry.
type Run struct {
	ID          uuid.UUID     `json:"id"`
	Voice       string        `json:"voice"`
	Source      string        `json:"source"`
	PromptChars int           `json:"prompt_chars"`
	Tokens      int           `json:"tokens"`
	Chunks      int           `json:"chunks"`
	Skipped     int           `json:"skipped"`
	Samples     int           `json:"samples"`
	Cancelled   bool          `json:"cancelled"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration_ns"`
}

// NewRun starts an entry with a fresh id.
func NewRun(voice, source, prompt string, started time.Time) Run {
	return Run{
		ID:          uuid.New(),
		Voice:       voice,
		Source:      source,
		PromptChars: len([]rune(prompt)),
		StartedAt:   started,
	}
}

// Finish copies the bridge counters and the outcome into r.
func (r Run) Finish(res bridge.Result, err error, ended time.Time) Run {
	r.Tokens = res.Tokens
	r.Chunks = res.Chunks
	r.Skipped = res.Skipped
	r.Samples = res.Samples
	r.Cancelled = res.Cancelled
	if err != nil {
		r.Error = err.Error()
	}
	r.Duration = ended.Sub(r.StartedAt)
	return r
}

// Nop discards every run.
type Nop struct{}

var _ Journal = Nop{}

func (Nop) Record(context.Context, Run) error                   { return nil }
func (Nop) Recent(context.Context, int) ([]Run, error)          { return []Run{}, nil }
func (Nop) Prune(context.Context, time.Duration) (int64, error) { return 0, nil }
func (Nop) Ping(context.Context) error                          { return nil }
func (Nop) Close()                                              {}
