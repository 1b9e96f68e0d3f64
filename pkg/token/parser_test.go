package token_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/snacstream/pkg/token"
)

// tag renders the tag that decodes to id when it is the pos-th emitted token.
func tag(pos, id int) string {
	return fmt.Sprintf("<custom_token_%d>", id+10+(pos%7)*4096)
}

func feedAll(p *token.Parser, parts ...string) []int {
	var got []int
	for _, s := range parts {
		p.Feed(s, func(id int) bool {
			got = append(got, id)
			return true
		})
	}
	return got
}

func TestParserPositionOffsets(t *testing.T) {
	t.Parallel()

	want := []int{5, 100, 4096, 0, 7, 8, 9, 11}
	var text strings.Builder
	for i, id := range want {
		text.WriteString(tag(i, id))
	}
	var p token.Parser
	got := feedAll(&p, text.String())
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if p.Emitted() != len(want) {
		t.Errorf("Emitted = %d", p.Emitted())
	}
}

func TestParserSplitAcrossDeltas(t *testing.T) {
	t.Parallel()

	text := tag(0, 42) + " " + tag(1, 43) + tag(2, 44)
	for split := 1; split < len(text); split++ {
		var p token.Parser
		got := feedAll(&p, text[:split], text[split:])
		if !slices.Equal(got, []int{42, 43, 44}) {
			t.Fatalf("split at %d: got %v", split, got)
		}
	}

	var p token.Parser
	parts := strings.Split(text, "")
	if got := feedAll(&p, parts...); !slices.Equal(got, []int{42, 43, 44}) {
		t.Errorf("byte-at-a-time: got %v", got)
	}
}

func TestParserDropsNegativeWithoutAdvancing(t *testing.T) {
	t.Parallel()

	var p token.Parser
	// "<custom_token_3>" maps to -7 at position 0 and is dropped; the next
	// tag is still decoded as position 0.
	got := feedAll(&p, "<custom_token_3>", tag(0, 12), tag(1, 13))
	if !slices.Equal(got, []int{12, 13}) {
		t.Errorf("got %v", got)
	}
}

func TestParserRecoversFromTruncatedTag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		parts []string
		want  []int
	}{
		{name: "one delta", parts: []string{"<custom_token_12<custom_token_20>"}, want: []int{10}},
		{name: "split", parts: []string{"<custom_token_12", "<custom_tok", "en_20>"}, want: []int{10}},
		{name: "keeps positions", parts: []string{"<custom_token_12<custom_token_20>", tag(1, 7)}, want: []int{10, 7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var p token.Parser
			if got := feedAll(&p, tt.parts...); !slices.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParserIgnoresNoise(t *testing.T) {
	t.Parallel()

	var p token.Parser
	got := feedAll(&p,
		"<|audio|>tara: hi<|eot_id|>",
		"<custom_token_abc>",
		"<custom_token_"+strings.Repeat("9", 40),
		tag(0, 1),
	)
	if !slices.Equal(got, []int{1}) {
		t.Errorf("got %v", got)
	}
}

func TestParserPassesOutOfRangeThrough(t *testing.T) {
	t.Parallel()

	var p token.Parser
	got := feedAll(&p, "<custom_token_9000>")
	if !slices.Equal(got, []int{8990}) {
		t.Errorf("got %v", got)
	}
}

func TestParserStopsWhenEmitRefuses(t *testing.T) {
	t.Parallel()

	var p token.Parser
	n := 0
	ok := p.Feed(tag(0, 1)+tag(1, 2)+tag(2, 3), func(int) bool {
		n++
		return n < 2
	})
	if ok || n != 2 {
		t.Errorf("ok=%v n=%d", ok, n)
	}
}

func TestFormatPrompt(t *testing.T) {
	t.Parallel()

	if got, want := token.FormatPrompt("tara", "Hello there"), "<|audio|>tara: Hello there<|eot_id|>"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRequestWithDefaults(t *testing.T) {
	t.Parallel()

	r := token.Request{Prompt: "x", Temperature: 0.3}.WithDefaults()
	if r.MaxTokens != 1200 || r.Temperature != 0.3 || r.TopP != 0.9 || r.RepeatPenalty != 1.1 {
		t.Errorf("got %+v", r)
	}
}

func TestFromText(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("stream reset")
	s := token.FromText(context.Background(), func(emit token.Emit) error {
		for _, part := range []string{tag(0, 1)[:5], tag(0, 1)[5:], tag(1, 2)} {
			if !emit(part) {
				return nil
			}
		}
		return wantErr
	})
	var got []int
	for id := range s.Tokens() {
		got = append(got, id)
	}
	if !slices.Equal(got, []int{1, 2}) {
		t.Errorf("got %v", got)
	}
	if !errors.Is(s.Err(), wantErr) {
		t.Errorf("Err = %v", s.Err())
	}
}

func TestFromTextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	s := token.FromText(ctx, func(emit token.Emit) error {
		for i := 0; ; i++ {
			if !emit(tag(i, 1)) {
				return ctx.Err()
			}
		}
	})
	<-s.Tokens()
	cancel()
	for range s.Tokens() {
	}
	if err := s.Err(); err != nil {
		t.Errorf("cancellation reported as %v", err)
	}
}

func TestFromIDs(t *testing.T) {
	t.Parallel()

	s := token.FromIDs(context.Background(), []int{3, 2, 1}, nil)
	var got []int
	for id := range s.Tokens() {
		got = append(got, id)
	}
	if !slices.Equal(got, []int{3, 2, 1}) || s.Err() != nil {
		t.Errorf("got %v err %v", got, s.Err())
	}
}
