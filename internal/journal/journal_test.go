package journal_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/snacstream/internal/journal"
	"github.com/MrWong99/snacstream/pkg/bridge"
)

func TestRunFinish(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := journal.NewRun("tara", "lmstudio", "héllo", start)
	if r.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("NewRun left the id empty")
	}
	if r.PromptChars != 5 {
		t.Errorf("PromptChars = %d, want 5", r.PromptChars)
	}

	res := bridge.Result{Tokens: 35, Triggers: 2, Chunks: 2, Samples: 4096, Cancelled: true}
	done := r.Finish(res, errors.New("sink closed"), start.Add(1500*time.Millisecond))
	if done.Tokens != 35 || done.Chunks != 2 || done.Samples != 4096 || !done.Cancelled {
		t.Errorf("counters = %+v", done)
	}
	if done.Error != "sink closed" || done.Duration != 1500*time.Millisecond {
		t.Errorf("outcome = %q, %v", done.Error, done.Duration)
	}
	if r.Tokens != 0 {
		t.Error("Finish mutated the receiver")
	}
}

func TestNop(t *testing.T) {
	t.Parallel()

	var j journal.Journal = journal.Nop{}
	ctx := context.Background()
	if err := j.Record(ctx, journal.Run{}); err != nil {
		t.Fatal(err)
	}
	runs, err := j.Recent(ctx, 10)
	if err != nil || runs == nil || len(runs) != 0 {
		t.Errorf("Recent = %v, %v", runs, err)
	}
}
