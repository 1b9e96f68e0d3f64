// Package mock provides an in-memory journal.Journal for tests.
package mock

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/snacstream/internal/journal"
)

// Journal keeps runs in memory.
type Journal struct {
	mu   sync.Mutex
	runs []journal.Run

	// RecordErr, if non-nil, is returned from Record.
	RecordErr error
	// PingErr is returned from Ping.
	PingErr error
	// Closed is set by Close.
	Closed bool
}

var _ journal.Journal = (*Journal)(nil)

// Record implements journal.Journal.
func (j *Journal) Record(_ context.Context, run journal.Run) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.RecordErr != nil {
		return j.RecordErr
	}
	j.runs = append(j.runs, run)
	return nil
}

// Recent implements journal.Journal.
func (j *Journal) Recent(_ context.Context, limit int) ([]journal.Run, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := slices.Clone(j.runs)
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []journal.Run{}
	}
	return out, nil
}

// Prune implements journal.Journal.
func (j *Journal) Prune(_ context.Context, olderThan time.Duration) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	before := len(j.runs)
	j.runs = slices.DeleteFunc(j.runs, func(r journal.Run) bool { return r.StartedAt.Before(cutoff) })
	return int64(before - len(j.runs)), nil
}

// Ping implements journal.Journal.
func (j *Journal) Ping(context.Context) error { return j.PingErr }

// Close implements journal.Journal.
func (j *Journal) Close() {
	j.mu.Lock()
	j.Closed = true
	j.mu.Unlock()
}

// Runs returns every recorded run in insertion order.
func (j *Journal) Runs() []journal.Run {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.runs)
}
