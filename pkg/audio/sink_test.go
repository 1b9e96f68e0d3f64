package audio_test

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"

	"github.com/MrWong99/snacstream/pkg/audio"
	"github.com/MrWong99/snacstream/pkg/bridge"
	"github.com/MrWong99/snacstream/pkg/decode"
)

func chunk(seq int, samples []int16) decode.Chunk {
	return decode.Chunk{Seq: seq, EndToken: 28 + 7*seq, PCM: samplesToBytes(samples)}
}

func TestWAVSink(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	s := audio.NewWAVSink(f, 24000)
	ctx := context.Background()
	for i := range 3 {
		if err := s.WriteChunk(ctx, chunk(i, ramp(2048, int16(i+1)))); err != nil {
			t.Fatalf("WriteChunk %d: %v", i, err)
		}
	}
	if err := s.Close(bridge.Result{Chunks: 3}); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	in, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer in.Close()
	dec := wav.NewDecoder(in)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.SampleRate != 24000 || dec.NumChans != 1 || dec.BitDepth != 16 {
		t.Errorf("header = %d Hz, %d ch, %d bit", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}
	if len(buf.Data) != 3*2048 {
		t.Fatalf("samples = %d, want %d", len(buf.Data), 3*2048)
	}
	if buf.Data[2048+5] != 10 {
		t.Errorf("sample = %d, want 10", buf.Data[2048+5])
	}
}

func TestWAVSinkEmptyRunLeavesFileEmpty(t *testing.T) {
	t.Parallel()

	f, err := os.Create(filepath.Join(t.TempDir(), "empty.wav"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	s := audio.NewWAVSink(f, 24000)
	if err := s.Close(bridge.Result{}); err != nil {
		t.Fatalf("Close: %v", err)
	}
	st, _ := f.Stat()
	if st.Size() != 0 {
		t.Errorf("size = %d, want 0", st.Size())
	}
}

type flushCounter struct {
	bytes.Buffer
	flushes int
}

func (f *flushCounter) Flush() { f.flushes++ }

func TestPCMSink(t *testing.T) {
	t.Parallel()

	var w flushCounter
	s := audio.NewPCMSink(&w, nil)
	ctx := context.Background()
	_ = s.WriteChunk(ctx, chunk(0, []int16{1, 2}))
	_ = s.WriteChunk(ctx, chunk(1, []int16{3}))
	if err := s.Close(bridge.Result{}); err != nil {
		t.Fatal(err)
	}
	if got := audio.BytesToInt16s(w.Bytes()); len(got) != 3 || got[2] != 3 {
		t.Errorf("got %v", got)
	}
	if w.flushes != 3 {
		t.Errorf("flushes = %d, want 3", w.flushes)
	}
}

func TestPCMSinkConvertsAndFlushesBufio(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	bw := bufio.NewWriterSize(&out, 1<<16)
	conv, _ := audio.NewConverter(24000, audio.Format{SampleRate: 24000, Channels: 2})
	s := audio.NewPCMSink(bw, conv)
	if err := s.WriteChunk(context.Background(), chunk(0, []int16{7, 8})); err != nil {
		t.Fatal(err)
	}
	if out.Len() != 8 {
		t.Errorf("flushed %d bytes, want 8", out.Len())
	}
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("gone") }

func TestPCMSinkWriteError(t *testing.T) {
	t.Parallel()

	s := audio.NewPCMSink(failWriter{}, nil)
	if err := s.WriteChunk(context.Background(), chunk(4, []int16{1})); err == nil {
		t.Fatal("expected error")
	}
}

func TestOpusSink(t *testing.T) {
	t.Parallel()

	var packets [][]byte
	s, err := audio.NewOpusSink(24000, func(_ context.Context, p []byte) error {
		packets = append(packets, p)
		return nil
	})
	if err != nil {
		t.Fatalf("NewOpusSink: %v", err)
	}
	if s.FrameSize() != 480 {
		t.Fatalf("FrameSize = %d, want 480", s.FrameSize())
	}

	// 2048 samples = 4 whole frames + 128 carried over.
	if err := s.WriteChunk(context.Background(), chunk(0, ramp(2048, 3))); err != nil {
		t.Fatal(err)
	}
	if len(packets) != 4 {
		t.Fatalf("packets after first chunk = %d, want 4", len(packets))
	}
	// 128 + 2048 = 2176 = 4 frames + 256.
	if err := s.WriteChunk(context.Background(), chunk(1, ramp(2048, 3))); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(bridge.Result{}); err != nil {
		t.Fatal(err)
	}
	if len(packets) != 9 || s.Packets() != 9 {
		t.Errorf("packets = %d (%d), want 9", len(packets), s.Packets())
	}
	for i, p := range packets {
		if len(p) == 0 {
			t.Errorf("packet %d is empty", i)
		}
	}
}

func TestOpusSinkRejectsRate(t *testing.T) {
	t.Parallel()

	_, err := audio.NewOpusSink(22050, func(context.Context, []byte) error { return nil })
	if !errors.Is(err, audio.ErrOpusRate) {
		t.Fatalf("got %v", err)
	}
}

func TestOpusSinkSendError(t *testing.T) {
	t.Parallel()

	boom := errors.New("closed")
	s, err := audio.NewOpusSink(24000, func(context.Context, []byte) error { return boom })
	if err != nil {
		t.Fatal(err)
	}
	if err := s.WriteChunk(context.Background(), chunk(0, ramp(480, 1))); !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
}
