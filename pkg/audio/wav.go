package audio

import (
	"context"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/snacstream/pkg/bridge"
	"github.com/MrWong99/snacstream/pkg/decode"
)

var _ bridge.Sink = (*WAVSink)(nil)

// wavPCMFormat is the WAVE audio format tag for integer PCM.
const wavPCMFormat = 1

// WAVSink writes chunks into a 16-bit mono WAVE container. The RIFF header is
// emitted with the first chunk and its sizes are patched on Close, so ws must
// support seeking. A run that produced no audio leaves ws untouched.
type WAVSink struct {
	enc     *wav.Encoder
	format  *goaudio.Format
	written bool
}

// NewWAVSink returns a sink writing sampleRate Hz mono audio to ws.
func NewWAVSink(ws io.WriteSeeker, sampleRate int) *WAVSink {
	return &WAVSink{
		enc:    wav.NewEncoder(ws, sampleRate, 16, 1, wavPCMFormat),
		format: &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
	}
}

// WriteChunk implements bridge.Sink.
func (s *WAVSink) WriteChunk(_ context.Context, c decode.Chunk) error {
	samples := BytesToInt16s(c.PCM)
	if len(samples) == 0 {
		return nil
	}
	data := make([]int, len(samples))
	for i, v := range samples {
		data[i] = int(v)
	}
	buf := &goaudio.IntBuffer{Format: s.format, Data: data, SourceBitDepth: 16}
	if err := s.enc.Write(buf); err != nil {
		return fmt.Errorf("audio: wav write chunk %d: %w", c.Seq, err)
	}
	s.written = true
	return nil
}

// Close implements bridge.Sink. It finalises the header when at least one
// chunk was written.
func (s *WAVSink) Close(bridge.Result) error {
	if !s.written {
		return nil
	}
	if err := s.enc.Close(); err != nil {
		return fmt.Errorf("audio: wav finalise: %w", err)
	}
	return nil
}
