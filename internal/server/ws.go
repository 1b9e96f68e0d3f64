package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/snacstream/internal/synth"
	"github.com/MrWong99/snacstream/pkg/audio"
	"github.com/MrWong99/snacstream/pkg/bridge"
	"github.com/MrWong99/snacstream/pkg/codec"
)

// Websocket audio formats.
const (
	FormatPCM  = "pcm"
	FormatOpus = "opus"
)

// WSRequest is one synthesis request sent by a websocket client.
type WSRequest struct {
	Prompt string `json:"prompt"`
	Voice  string `json:"voice,omitempty"`
	// Format is "pcm" (default) or "opus".
	Format string `json:"format,omitempty"`
}

// WSSummary is the text message that ends every request on the socket.
type WSSummary struct {
	Type       string  `json:"type"` // "done" or "error"
	Error      string  `json:"error,omitempty"`
	Status     int     `json:"status,omitempty"`
	Format     string  `json:"format,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
	Chunks     int     `json:"chunks"`
	Packets    int     `json:"packets,omitempty"`
	Samples    int     `json:"samples"`
	Seconds    float64 `json:"seconds"`
	Cancelled  bool    `json:"cancelled,omitempty"`
}

// handleWS handles GET /tts/ws. Requests on one socket are served in order
// until the client closes it.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	for {
		var req WSRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil && isJSONError(err) {
				conn.Close(websocket.StatusUnsupportedData, "invalid request")
			}
			return
		}
		summary := s.serveWS(ctx, conn, req)
		if err := wsjson.Write(ctx, conn, summary); err != nil {
			return
		}
	}
}

// serveWS runs one request and returns its closing summary.
func (s *Server) serveWS(ctx context.Context, conn *websocket.Conn, req WSRequest) WSSummary {
	if req.Format == "" {
		req.Format = FormatPCM
	}
	fail := func(err error) WSSummary {
		code, msg := statusFor(err)
		return WSSummary{Type: "error", Error: msg, Status: code, Format: req.Format}
	}
	if s.svc == nil {
		return fail(codec.ErrModelUnavailable)
	}
	rate := s.svc.SampleRate()

	send := func(ctx context.Context, b []byte) error {
		return conn.Write(ctx, websocket.MessageBinary, b)
	}
	var (
		sink bridge.Sink
		opus *audio.OpusSink
	)
	switch req.Format {
	case FormatPCM:
		sink = audio.NewPCMSink(&wsWriter{ctx: ctx, send: send}, nil)
	case FormatOpus:
		var err error
		opus, err = audio.NewOpusSink(rate, send)
		if err != nil {
			return WSSummary{Type: "error", Error: err.Error(), Status: http.StatusBadRequest, Format: req.Format}
		}
		sink = opus
	default:
		return WSSummary{
			Type:   "error",
			Error:  fmt.Sprintf("unsupported format %q", req.Format),
			Status: http.StatusBadRequest,
			Format: req.Format,
		}
	}

	res, err := s.svc.Synthesize(ctx, synth.Request{Prompt: req.Prompt, Voice: req.Voice}, sink)
	if err != nil {
		out := fail(err)
		out.Chunks, out.Samples = res.Chunks, res.Samples
		return out
	}
	out := WSSummary{
		Type:       "done",
		Format:     req.Format,
		SampleRate: rate,
		Chunks:     res.Chunks,
		Samples:    res.Samples,
		Seconds:    res.Duration(rate).Seconds(),
		Cancelled:  res.Cancelled,
	}
	if opus != nil {
		out.Packets = opus.Packets()
	}
	return out
}

// wsWriter sends every Write as one binary message.
type wsWriter struct {
	ctx  context.Context
	send audio.PacketFunc
}

func (w *wsWriter) Write(p []byte) (int, error) {
	if err := w.send(w.ctx, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func isJSONError(err error) bool {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}
