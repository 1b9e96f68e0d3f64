package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/MrWong99/snacstream/internal/synth"
	"github.com/MrWong99/snacstream/pkg/audio"
	"github.com/MrWong99/snacstream/pkg/codec"
	"github.com/MrWong99/snacstream/pkg/voice"
)

const maxRunsLimit = 500

// ttsRequest is the JSON body accepted by POST /tts.
type ttsRequest struct {
	Prompt string `json:"prompt"`
	Voice  string `json:"voice"`
}

// parseRequest reads prompt and voice from the query string or, for POST, a
// JSON body.
func parseRequest(r *http.Request) (synth.Request, error) {
	if r.Method == http.MethodPost {
		var body ttsRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return synth.Request{}, fmt.Errorf("invalid request body: %w", err)
		}
		return synth.Request{Prompt: body.Prompt, Voice: body.Voice}, nil
	}
	q := r.URL.Query()
	return synth.Request{Prompt: q.Get("prompt"), Voice: q.Get("voice")}, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type statusResponse struct {
	Server       string `json:"server"`
	TokenBackend bool   `json:"token_backend"`
	Codec        bool   `json:"codec"`
	CodecError   string `json:"codec_error,omitempty"`
}

// handleStatus handles GET /status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Server: "running"}
	if s.source != nil {
		ctx, cancel := context.WithTimeout(r.Context(), statusPingTimeout)
		resp.TokenBackend = s.source.Ping(ctx) == nil
		cancel()
	}
	resp.Codec = s.svc != nil && s.svc.Ready()
	switch {
	case s.codecErr != nil:
		resp.CodecError = s.codecErr.Error()
	case !resp.Codec:
		resp.CodecError = codec.ErrModelUnavailable.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleTTS handles GET and POST /tts. The utterance is rendered to a
// temporary WAV file which is served once the run completes.
func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if s.svc == nil {
		s.writeError(w, r, codec.ErrModelUnavailable)
		return
	}

	f, err := os.CreateTemp("", "snacstream-*.wav")
	if err != nil {
		s.writeError(w, r, fmt.Errorf("create temp file: %w", err))
		return
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}()

	if _, err := s.svc.Synthesize(r.Context(), req, audio.NewWAVSink(f, s.svc.SampleRate())); err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		s.writeError(w, r, fmt.Errorf("rewind wav: %w", err))
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", `attachment; filename="speech.wav"`)
	http.ServeContent(w, r, "speech.wav", time.Now(), f)
}

// handleStream handles GET /tts/stream. Chunks are written as soon as they
// are decoded; errors before the first chunk still get a proper status.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	req, _ := parseRequest(r)
	if s.svc == nil {
		s.writeError(w, r, codec.ErrModelUnavailable)
		return
	}
	target, err := streamFormat(r, s.svc.SampleRate())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	conv, err := audio.NewConverter(s.svc.SampleRate(), target)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	lw := &lazyWriter{w: w, rc: http.NewResponseController(w), contentType: l16ContentType(target)}
	_, err = s.svc.Synthesize(r.Context(), req, audio.NewPCMSink(lw, conv))
	if err == nil {
		return
	}
	if !lw.started {
		s.writeError(w, r, err)
		return
	}
	// Headers are gone; the client sees a short body.
	s.log.Warn("stream ended with error", "err", err)
}

// streamFormat reads the optional sample_rate and channels query parameters.
func streamFormat(r *http.Request, native int) (audio.Format, error) {
	f := audio.Format{SampleRate: native, Channels: 1}
	q := r.URL.Query()
	if v := q.Get("sample_rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, fmt.Errorf("invalid sample_rate %q", v)
		}
		f.SampleRate = n
	}
	if v := q.Get("channels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, fmt.Errorf("invalid channels %q", v)
		}
		f.Channels = n
	}
	return f, f.Validate()
}

func l16ContentType(f audio.Format) string {
	return fmt.Sprintf("audio/L16; rate=%d; channels=%d", f.SampleRate, f.Channels)
}

// lazyWriter commits the 200 response on the first write so earlier failures
// can still be reported with an error status.
type lazyWriter struct {
	w           http.ResponseWriter
	rc          *http.ResponseController
	contentType string
	started     bool
}

func (l *lazyWriter) Write(p []byte) (int, error) {
	if !l.started {
		l.started = true
		l.w.Header().Set("Content-Type", l.contentType)
		l.w.Header().Set("Cache-Control", "no-store")
		l.w.WriteHeader(http.StatusOK)
	}
	return l.w.Write(p)
}

func (l *lazyWriter) Flush() error {
	if !l.started {
		return nil
	}
	if err := l.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

type voicesResponse struct {
	Voices  []string `json:"voices"`
	Default string   `json:"default"`
}

// handleVoices handles GET /voices.
func (s *Server) handleVoices(w http.ResponseWriter, _ *http.Request) {
	def := voice.Default
	if s.svc != nil {
		if v, err := s.svc.Resolve(""); err == nil {
			def = v
		}
	}
	writeJSON(w, http.StatusOK, voicesResponse{Voices: voice.Names(), Default: def})
}

// handleRuns handles GET /runs?limit=N.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRunsLimit)
	}
	runs, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.log.Error("list runs", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "journal unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}
