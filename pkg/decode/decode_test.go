package decode_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/snacstream/pkg/codec"
	"github.com/MrWong99/snacstream/pkg/codec/mock"
	"github.com/MrWong99/snacstream/pkg/decode"
	"github.com/MrWong99/snacstream/pkg/frame"
)

type recordingObserver struct {
	mu       sync.Mutex
	ok       int
	failures []string
}

func (o *recordingObserver) DecodeSucceeded(context.Context, time.Duration, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ok++
}

func (o *recordingObserver) DecodeFailed(_ context.Context, reason string, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, reason)
}

func newDecoder(t *testing.T, m codec.Model, opts ...decode.Option) *decode.Decoder {
	t.Helper()
	a, err := codec.NewAdapter(m)
	if err != nil {
		t.Fatal(err)
	}
	d, err := decode.New(a, decode.DefaultConfig(), opts...)
	if err != nil {
		t.Fatalf("decode.New: %v", err)
	}
	return d
}

// feed pushes toks and collects every chunk OnBoundary produces.
func feed(t *testing.T, d *decode.Decoder, toks []int) []decode.Chunk {
	t.Helper()
	a := d.NewAssembler()
	var chunks []decode.Chunk
	for _, tok := range toks {
		a.Push(tok)
		if c, ok := d.OnBoundary(context.Background(), a); ok {
			chunks = append(chunks, c)
		}
	}
	return chunks
}

func validTokens(n int) []int {
	toks := make([]int, n)
	for i := range toks {
		toks[i] = (i * 37) % 4097
	}
	return toks
}

func TestNewRequiresModel(t *testing.T) {
	t.Parallel()

	if _, err := decode.New(nil, decode.DefaultConfig()); !errors.Is(err, codec.ErrModelUnavailable) {
		t.Fatalf("got %v, want ErrModelUnavailable", err)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     decode.Config
		wantErr bool
	}{
		{name: "defaults", cfg: decode.DefaultConfig()},
		{name: "window too small", cfg: decode.Config{WindowFrames: 1, SliceStart: 0, SliceEnd: 10, SampleRate: 1}, wantErr: true},
		{name: "empty slice", cfg: decode.Config{WindowFrames: 4, SliceStart: 10, SliceEnd: 10, SampleRate: 1}, wantErr: true},
		{name: "negative start", cfg: decode.Config{WindowFrames: 4, SliceStart: -1, SliceEnd: 10, SampleRate: 1}, wantErr: true},
		{name: "zero rate", cfg: decode.Config{WindowFrames: 4, SliceStart: 0, SliceEnd: 10}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSevenZerosEmitNothing(t *testing.T) {
	t.Parallel()

	m := &mock.Model{}
	d := newDecoder(t, m)
	if chunks := feed(t, d, make([]int, 7)); len(chunks) != 0 {
		t.Fatalf("got %d chunks, want 0", len(chunks))
	}
	if n := len(m.Calls()); n != 0 {
		t.Errorf("codec called %d times", n)
	}
}

func TestOneWindowOneChunk(t *testing.T) {
	t.Parallel()

	m := &mock.Model{}
	d := newDecoder(t, m)
	chunks := feed(t, d, validTokens(28))
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if got, want := len(chunks[0].PCM), 2048*2; got != want {
		t.Errorf("chunk length = %d, want %d", got, want)
	}
	if chunks[0].EndToken != 28 {
		t.Errorf("EndToken = %d, want 28", chunks[0].EndToken)
	}
	if n := len(m.Calls()); n != 1 {
		t.Errorf("codec called %d times, want 1", n)
	}
}

func TestSecondTriggerUsesTrailingWindow(t *testing.T) {
	t.Parallel()

	m := &mock.Model{}
	d := newDecoder(t, m)
	toks := validTokens(35)
	chunks := feed(t, d, toks)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].EndToken != 28 || chunks[1].EndToken != 35 {
		t.Errorf("triggers at %d and %d, want 28 and 35", chunks[0].EndToken, chunks[1].EndToken)
	}

	calls := m.Calls()
	want, _ := frame.Deinterleave(toks[7:35])
	got := calls[1].Codes
	for i := range want.A {
		if got.A[i] != want.A[i] {
			t.Fatalf("second window A[%d] = %d, want %d", i, got.A[i], want.A[i])
		}
	}
	if bytes.Equal(chunks[0].PCM, chunks[1].PCM) {
		t.Error("second chunk repeats the first")
	}
}

func TestDecodeDeterministic(t *testing.T) {
	t.Parallel()

	d := newDecoder(t, &mock.Model{})
	a := d.NewAssembler()
	for _, tok := range validTokens(28) {
		a.Push(tok)
	}
	w, err := a.Window()
	if err != nil {
		t.Fatal(err)
	}
	first, err := d.DecodeWindow(context.Background(), w)
	if err != nil {
		t.Fatal(err)
	}
	second, _ := d.OnBoundary(context.Background(), a)
	if !bytes.Equal(first.PCM, second.PCM) {
		t.Error("re-triggering the same window produced different bytes")
	}
}

func TestOutOfRangeSkipsTrigger(t *testing.T) {
	t.Parallel()

	for _, bad := range []int{5000, -1} {
		obs := &recordingObserver{}
		m := &mock.Model{}
		d := newDecoder(t, m, decode.WithObserver(obs))

		toks := validTokens(35)
		toks[10] = bad // inside both windows
		chunks := feed(t, d, toks)
		if len(chunks) != 0 {
			t.Errorf("bad=%d: got %d chunks, want 0", bad, len(chunks))
		}
		if len(obs.failures) != 2 || obs.failures[0] != codec.ReasonInvalidToken {
			t.Errorf("bad=%d: failures = %v", bad, obs.failures)
		}
		if n := len(m.Calls()); n != 0 {
			t.Errorf("bad=%d: codec called %d times", bad, n)
		}
	}
}

func TestBadTokenOnlyAffectsItsWindows(t *testing.T) {
	t.Parallel()

	d := newDecoder(t, &mock.Model{})
	toks := validTokens(42)
	toks[2] = 9999 // frame 0 only, so only the first window sees it
	chunks := feed(t, d, toks)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].EndToken != 35 || chunks[1].EndToken != 42 {
		t.Errorf("chunks end at %d, %d", chunks[0].EndToken, chunks[1].EndToken)
	}
}

func TestCodecFailureSkipsTrigger(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	d := newDecoder(t, &mock.Model{DecodeErr: errors.New("boom")}, decode.WithObserver(obs))
	if chunks := feed(t, d, validTokens(28)); len(chunks) != 0 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	if len(obs.failures) != 1 || obs.failures[0] != codec.ReasonBackend {
		t.Errorf("failures = %v", obs.failures)
	}
}

func TestShortWaveformIsDecodeError(t *testing.T) {
	t.Parallel()

	d := newDecoder(t, &mock.Model{SamplesPerFrame: 100})
	a := d.NewAssembler()
	for _, tok := range validTokens(28) {
		a.Push(tok)
	}
	w, _ := a.Window()
	_, err := d.DecodeWindow(context.Background(), w)
	if !errors.Is(err, codec.ErrDecode) || codec.ReasonOf(err) != codec.ReasonShortOutput {
		t.Fatalf("got %v", err)
	}
}

func TestDurationBounded(t *testing.T) {
	t.Parallel()

	d := newDecoder(t, &mock.Model{})
	cfg := d.Config()
	a := d.NewAssembler()
	samples, prev := 0, 0
	for _, tok := range validTokens(7 * 12) {
		av := a.Push(tok)
		if c, ok := d.OnBoundary(context.Background(), a); ok {
			samples += c.Samples()
		}
		if samples < prev {
			t.Fatal("duration decreased")
		}
		prev = samples
		if limit := cfg.MaxSamples(av.Frames()); samples > limit {
			t.Fatalf("after %d tokens: %d samples exceeds max %d", av.Total, samples, limit)
		}
	}
	if want := cfg.MaxSamples(12); samples != want {
		t.Errorf("samples = %d, want %d", samples, want)
	}
}

func TestMaxSamples(t *testing.T) {
	t.Parallel()

	cfg := decode.DefaultConfig()
	for frames, want := range map[int]int{0: 0, 3: 0, 4: 2048, 5: 4096, 10: 7 * 2048} {
		if got := cfg.MaxSamples(frames); got != want {
			t.Errorf("MaxSamples(%d) = %d, want %d", frames, got, want)
		}
	}
	if cfg.BytesPerChunk() != 4096 {
		t.Errorf("BytesPerChunk = %d", cfg.BytesPerChunk())
	}
}

func TestFloatToPCM16(t *testing.T) {
	t.Parallel()

	in := []float32{0, 1, -1, 0.5, -0.5, 2, -3, float32(math.NaN()), 0.00001}
	want := []int16{0, 32767, -32767, 16383, -16383, 32767, -32767, 0, 0}
	dst := make([]byte, len(in)*2)
	decode.FloatToPCM16(dst, in)
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(dst[i*2:]))
		if got != w {
			t.Errorf("sample %d (%v): got %d, want %d", i, in[i], got, w)
		}
	}
}
