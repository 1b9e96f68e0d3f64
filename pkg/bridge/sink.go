package bridge

import (
	"context"
	"sync"

	"github.com/MrWong99/snacstream/pkg/decode"
)

// SinkFuncs adapts a pair of functions to the Sink interface. Nil fields are
// no-ops.
type SinkFuncs struct {
	Write func(ctx context.Context, c decode.Chunk) error
	Done  func(res Result) error
}

var _ Sink = SinkFuncs{}

// WriteChunk implements Sink.
func (f SinkFuncs) WriteChunk(ctx context.Context, c decode.Chunk) error {
	if f.Write == nil {
		return nil
	}
	return f.Write(ctx, c)
}

// Close implements Sink.
func (f SinkFuncs) Close(res Result) error {
	if f.Done == nil {
		return nil
	}
	return f.Done(res)
}

// Collector is an in-memory Sink that keeps every chunk it receives.
type Collector struct {
	mu     sync.Mutex
	chunks []decode.Chunk
	result Result
	closes int
}

var _ Sink = (*Collector)(nil)

// WriteChunk implements Sink.
func (c *Collector) WriteChunk(_ context.Context, ch decode.Chunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks = append(c.chunks, ch)
	return nil
}

// Close implements Sink.
func (c *Collector) Close(res Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result = res
	c.closes++
	return nil
}

// Chunks returns the collected chunks in delivery order.
func (c *Collector) Chunks() []decode.Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]decode.Chunk, len(c.chunks))
	copy(out, c.chunks)
	return out
}

// PCM returns the concatenation of every collected chunk.
func (c *Collector) PCM() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	for _, ch := range c.chunks {
		n += len(ch.PCM)
	}
	out := make([]byte, 0, n)
	for _, ch := range c.chunks {
		out = append(out, ch.PCM...)
	}
	return out
}

// Result returns the Result passed to Close and how many times Close ran.
func (c *Collector) Result() (Result, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.closes
}
