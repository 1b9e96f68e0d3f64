package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-audio/wav"

	journalmock "github.com/MrWong99/snacstream/internal/journal/mock"
	"github.com/MrWong99/snacstream/internal/server"
	"github.com/MrWong99/snacstream/internal/synth"
	"github.com/MrWong99/snacstream/pkg/codec"
	codecmock "github.com/MrWong99/snacstream/pkg/codec/mock"
	"github.com/MrWong99/snacstream/pkg/decode"
	tokenmock "github.com/MrWong99/snacstream/pkg/token/mock"
)

func ids(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = (i * 53) % 4096
	}
	return out
}

type fixture struct {
	srv     *httptest.Server
	source  *tokenmock.Source
	journal *journalmock.Journal
}

func newFixture(t *testing.T, source *tokenmock.Source) *fixture {
	t.Helper()
	a, err := codec.NewAdapter(&codecmock.Model{})
	if err != nil {
		t.Fatal(err)
	}
	j := &journalmock.Journal{}
	svc, err := synth.New(a, source, decode.DefaultConfig(), synth.WithJournal(j))
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(server.New(svc,
		server.WithTokenSource(source),
		server.WithJournal(j),
	).Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, source: source, journal: j}
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, body
}

func errorOf(t *testing.T, body []byte) string {
	t.Helper()
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatalf("decode error body %q: %v", body, err)
	}
	return e.Error
}

func TestStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &tokenmock.Source{})
	resp, body := get(t, f.srv.URL+"/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var st map[string]any
	_ = json.Unmarshal(body, &st)
	if st["server"] != "running" || st["token_backend"] != true || st["codec"] != true {
		t.Errorf("status = %v", st)
	}
}

func TestStatus_NoCodec(t *testing.T) {
	t.Parallel()

	src := &tokenmock.Source{PingErr: errors.New("refused")}
	srv := httptest.NewServer(server.New(nil,
		server.WithTokenSource(src),
		server.WithCodecError(errors.New("onnx: model file not found")),
	).Handler())
	t.Cleanup(srv.Close)

	_, body := get(t, srv.URL+"/status")
	var st map[string]any
	_ = json.Unmarshal(body, &st)
	if st["token_backend"] != false || st["codec"] != false || st["codec_error"] != "onnx: model file not found" {
		t.Errorf("status = %v", st)
	}

	resp, body := get(t, srv.URL+"/tts?prompt=hi")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("/tts status = %d, body %s", resp.StatusCode, body)
	}
}

func TestTTS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		source     *tokenmock.Source
		query      string
		wantStatus int
		wantError  string
	}{
		{name: "missing prompt", source: &tokenmock.Source{}, query: "", wantStatus: 400, wantError: "Missing 'prompt' parameter"},
		{name: "unknown voice", source: &tokenmock.Source{}, query: "prompt=hi&voice=zack", wantStatus: 404, wantError: `did you mean "zac"`},
		{name: "backend down", source: &tokenmock.Source{OpenErr: errors.New("refused")}, query: "prompt=hi", wantStatus: 503},
		{name: "no audio", source: &tokenmock.Source{IDs: ids(14)}, query: "prompt=hi", wantStatus: 500, wantError: "No audio segments were generated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, tt.source)
			resp, body := get(t, f.srv.URL+"/tts?"+tt.query)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, tt.wantStatus, body)
			}
			if got := errorOf(t, body); !strings.Contains(got, tt.wantError) {
				t.Errorf("error = %q, want it to contain %q", got, tt.wantError)
			}
		})
	}
}

func TestTTS_WAV(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &tokenmock.Source{IDs: ids(35)})
	resp, body := get(t, f.srv.URL+"/tts?prompt=Hello&voice=mia")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %q", ct)
	}

	dec := wav.NewDecoder(bytes.NewReader(body))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode wav: %v", err)
	}
	if buf.Format.SampleRate != 24000 || buf.Format.NumChannels != 1 || dec.BitDepth != 16 {
		t.Errorf("format = %+v, depth %d", buf.Format, dec.BitDepth)
	}
	if len(buf.Data) != 2*2048 {
		t.Errorf("samples = %d, want 4096", len(buf.Data))
	}
	if runs := f.journal.Runs(); len(runs) != 1 || runs[0].Voice != "mia" {
		t.Errorf("journal = %+v", runs)
	}
}

func TestTTS_Post(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &tokenmock.Source{IDs: ids(28)})
	resp, err := http.Post(f.srv.URL+"/tts", "application/json", strings.NewReader(`{"prompt":"Hi","voice":"dan"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if f.source.Requests[0].Voice != "dan" {
		t.Errorf("voice = %q", f.source.Requests[0].Voice)
	}

	resp, err = http.Post(f.srv.URL+"/tts", "application/json", strings.NewReader(`{"prompt":`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status = %d", resp.StatusCode)
	}
}

func TestStream(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &tokenmock.Source{IDs: ids(35)})
	resp, body := get(t, f.srv.URL+"/tts/stream?prompt=Hello")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/L16; rate=24000; channels=1" {
		t.Errorf("Content-Type = %q", ct)
	}
	if len(body) != 2*4096 {
		t.Errorf("body = %d bytes, want 8192", len(body))
	}
}

func TestStream_Converted(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &tokenmock.Source{IDs: ids(28)})
	resp, body := get(t, f.srv.URL+"/tts/stream?prompt=Hello&sample_rate=48000&channels=2")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/L16; rate=48000; channels=2" {
		t.Errorf("Content-Type = %q", ct)
	}
	if len(body) == 0 || len(body)%4 != 0 {
		t.Errorf("body = %d bytes, want whole stereo frames", len(body))
	}

	resp, _ = get(t, f.srv.URL+"/tts/stream?prompt=Hello&channels=3")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("channels=3 status = %d", resp.StatusCode)
	}
}

func TestStream_ErrorBeforeAudio(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &tokenmock.Source{IDs: ids(7)})
	resp, body := get(t, f.srv.URL+"/tts/stream?prompt=Hello")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := errorOf(t, body); got != "No audio segments were generated" {
		t.Errorf("error = %q", got)
	}
}

func TestVoicesAndRuns(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &tokenmock.Source{IDs: ids(28)})
	_, body := get(t, f.srv.URL+"/voices")
	var v struct {
		Voices  []string `json:"voices"`
		Default string   `json:"default"`
	}
	_ = json.Unmarshal(body, &v)
	if len(v.Voices) != 8 || v.Default != "tara" {
		t.Errorf("voices = %+v", v)
	}

	for range 3 {
		get(t, f.srv.URL+"/tts?prompt=hi")
	}
	_, body = get(t, f.srv.URL+"/runs?limit=2")
	var runs struct {
		Runs []map[string]any `json:"runs"`
	}
	_ = json.Unmarshal(body, &runs)
	if len(runs.Runs) != 2 {
		t.Errorf("runs = %d, want 2", len(runs.Runs))
	}

	resp, _ := get(t, f.srv.URL+"/runs?limit=zero")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", resp.StatusCode)
	}
}

func TestListen_SkipsBusyPort(t *testing.T) {
	t.Parallel()

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()
	port := busy.Addr().(*net.TCPAddr).Port

	ln, err := server.Listen(context.Background(), "127.0.0.1:"+strconv.Itoa(port), 5, nil)
	if err != nil {
		t.Skipf("no free port near %d: %v", port, err)
	}
	defer ln.Close()
	if got := ln.Addr().(*net.TCPAddr).Port; got == port {
		t.Errorf("bound the busy port %d", got)
	}

	if _, err := server.Listen(context.Background(), "127.0.0.1:"+strconv.Itoa(port), 1, nil); err == nil {
		t.Error("single attempt on a busy port succeeded")
	}
	if _, err := server.Listen(context.Background(), "no-port", 3, nil); err == nil {
		t.Error("invalid address accepted")
	}
}

func TestServe_Shutdown(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.New(nil).Serve(ctx, ln) }()

	resp, _ := get(t, "http://"+ln.Addr().String()+"/voices")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Serve: %v", err)
	}
}
