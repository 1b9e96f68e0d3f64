package token_test

import (
	"context"
	"testing"
	"time"

	"github.com/MrWong99/snacstream/pkg/token"
	"github.com/MrWong99/snacstream/pkg/token/mock"
)

// slowSource emits one token and then blocks until ctx is done.
type slowSource struct{ mock.Source }

func (s *slowSource) Stream(ctx context.Context, _ token.Request) (*token.Stream, error) {
	return token.FromText(ctx, func(emit token.Emit) error {
		emit("<custom_token_20>")
		<-ctx.Done()
		return ctx.Err()
	}), nil
}

func TestWithTimeout(t *testing.T) {
	t.Parallel()

	src := token.WithTimeout(&slowSource{}, 50*time.Millisecond)
	s, err := src.Stream(context.Background(), token.Request{Prompt: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	var got []int
	for id := range s.Tokens() {
		got = append(got, id)
	}
	if len(got) != 1 || got[0] != 10 {
		t.Errorf("tokens = %v", got)
	}
	if err := s.Err(); err != nil {
		t.Errorf("timeout reported as error: %v", err)
	}
	if src.Name() != "mock" {
		t.Errorf("Name = %q", src.Name())
	}
}

func TestWithTimeout_Zero(t *testing.T) {
	t.Parallel()

	var m mock.Source
	if token.WithTimeout(&m, 0) != token.Source(&m) {
		t.Error("zero timeout should return the source unchanged")
	}
}
