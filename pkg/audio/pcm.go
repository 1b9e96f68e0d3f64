package audio

import (
	"context"
	"fmt"
	"io"

	"github.com/MrWong99/snacstream/pkg/bridge"
	"github.com/MrWong99/snacstream/pkg/decode"
)

var _ bridge.Sink = (*PCMSink)(nil)

// PCMSink writes raw s16le PCM to an io.Writer and flushes after every chunk
// when the writer supports it (http.ResponseWriter, bufio.Writer).
type PCMSink struct {
	w    io.Writer
	conv *Converter
}

// NewPCMSink returns a sink writing to w. conv may be nil, in which case the
// decoder's native format is written unchanged.
func NewPCMSink(w io.Writer, conv *Converter) *PCMSink {
	return &PCMSink{w: w, conv: conv}
}

// WriteChunk implements bridge.Sink.
func (s *PCMSink) WriteChunk(_ context.Context, c decode.Chunk) error {
	pcm := c.PCM
	if s.conv != nil {
		pcm = s.conv.Convert(pcm)
	}
	if len(pcm) == 0 {
		return nil
	}
	if _, err := s.w.Write(pcm); err != nil {
		return fmt.Errorf("audio: pcm write chunk %d: %w", c.Seq, err)
	}
	return s.flush()
}

// Close implements bridge.Sink.
func (s *PCMSink) Close(bridge.Result) error { return s.flush() }

func (s *PCMSink) flush() error {
	switch f := s.w.(type) {
	case interface{ Flush() error }:
		if err := f.Flush(); err != nil {
			return fmt.Errorf("audio: pcm flush: %w", err)
		}
	case interface{ Flush() }:
		f.Flush()
	}
	return nil
}
