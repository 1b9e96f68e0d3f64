package server

import (
	"errors"
	"net/http"

	"github.com/MrWong99/snacstream/internal/observe"
	"github.com/MrWong99/snacstream/internal/synth"
	"github.com/MrWong99/snacstream/pkg/codec"
	"github.com/MrWong99/snacstream/pkg/token"
	"github.com/MrWong99/snacstream/pkg/voice"
)

// statusFor maps a synthesis error to an HTTP status and a client message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, token.ErrEmptyPrompt):
		return http.StatusBadRequest, "Missing 'prompt' parameter"
	case errors.Is(err, voice.ErrUnknown):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, codec.ErrModelUnavailable):
		return http.StatusServiceUnavailable, "Codec model is not loaded"
	case errors.Is(err, synth.ErrSourceUnavailable):
		return http.StatusServiceUnavailable, "Token backend is unavailable"
	case errors.Is(err, synth.ErrNoAudio):
		return http.StatusInternalServerError, "No audio segments were generated"
	default:
		return http.StatusInternalServerError, "Synthesis failed"
	}
}

// writeError sends err as a JSON error body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := statusFor(err)
	if code >= http.StatusInternalServerError {
		observe.LoggerFrom(r.Context(), s.log).Error("request failed", "path", r.URL.Path, "status", code, "err", err)
	}
	writeJSON(w, code, map[string]string{"error": msg})
}
