package token

import (
	"context"
	"time"
)

// WithTimeout bounds every stream opened on src to d. When d elapses the
// stream ends as if the source had finished; it is not reported as an error.
// A non-positive d returns src unchanged.
func WithTimeout(src Source, d time.Duration) Source {
	if d <= 0 {
		return src
	}
	return &timeoutSource{Source: src, d: d}
}

type timeoutSource struct {
	Source
	d time.Duration
}

func (t *timeoutSource) Stream(ctx context.Context, req Request) (*Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	s, err := t.Source.Stream(ctx, req)
	if err != nil {
		cancel()
		return nil, err
	}
	go func() {
		<-s.done
		cancel()
	}()
	return s, nil
}
