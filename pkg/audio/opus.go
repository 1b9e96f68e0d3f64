package audio

import (
	"context"
	"errors"
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/snacstream/pkg/bridge"
	"github.com/MrWong99/snacstream/pkg/decode"
)

var _ bridge.Sink = (*OpusSink)(nil)

const (
	opusFrameSizeMs = 20
	// opusMaxPacket bounds a single encoded packet.
	opusMaxPacket = 4000
)

// ErrOpusRate is returned for sample rates Opus cannot encode.
var ErrOpusRate = errors.New("audio: opus supports 8, 12, 16, 24 or 48 kHz")

// PacketFunc receives one encoded Opus packet.
type PacketFunc func(ctx context.Context, packet []byte) error

// OpusSink encodes mono PCM into 20 ms Opus packets. Samples that do not fill
// a whole frame are carried to the next chunk; the remainder is zero padded
// and encoded on Close.
type OpusSink struct {
	enc       *gopus.Encoder
	frameSize int
	pending   []int16
	send      PacketFunc
	packets   int
}

// NewOpusSink returns an OpusSink for sampleRate Hz mono audio that hands each
// packet to send.
func NewOpusSink(sampleRate int, send PacketFunc) (*OpusSink, error) {
	switch sampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return nil, fmt.Errorf("%w, got %d", ErrOpusRate, sampleRate)
	}
	if send == nil {
		return nil, errors.New("audio: opus packet func must not be nil")
	}
	enc, err := gopus.NewEncoder(sampleRate, 1, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus encoder: %w", err)
	}
	return &OpusSink{
		enc:       enc,
		frameSize: sampleRate * opusFrameSizeMs / 1000,
		send:      send,
	}, nil
}

// FrameSize returns the number of samples per Opus packet.
func (s *OpusSink) FrameSize() int { return s.frameSize }

// Packets returns the number of packets sent so far.
func (s *OpusSink) Packets() int { return s.packets }

// WriteChunk implements bridge.Sink.
func (s *OpusSink) WriteChunk(ctx context.Context, c decode.Chunk) error {
	s.pending = append(s.pending, BytesToInt16s(c.PCM)...)
	n := 0
	for len(s.pending)-n >= s.frameSize {
		if err := s.encode(ctx, s.pending[n:n+s.frameSize]); err != nil {
			return fmt.Errorf("audio: opus chunk %d: %w", c.Seq, err)
		}
		n += s.frameSize
	}
	s.pending = append(s.pending[:0], s.pending[n:]...)
	return nil
}

// Flush encodes any buffered samples as a final zero-padded frame.
func (s *OpusSink) Flush(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	last := make([]int16, s.frameSize)
	copy(last, s.pending)
	s.pending = s.pending[:0]
	return s.encode(ctx, last)
}

// Close implements bridge.Sink.
func (s *OpusSink) Close(bridge.Result) error {
	return s.Flush(context.Background())
}

func (s *OpusSink) encode(ctx context.Context, pcm []int16) error {
	pkt, err := s.enc.Encode(pcm, s.frameSize, opusMaxPacket)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := s.send(ctx, pkt); err != nil {
		return err
	}
	s.packets++
	return nil
}
