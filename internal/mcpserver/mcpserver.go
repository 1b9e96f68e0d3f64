// Package mcpserver exposes speech synthesis as a Model Context Protocol
// tool, served over stdio or streamable HTTP.
//
// The single "speak" tool renders the whole utterance and returns it as WAV
// audio content together with a short text summary.
package mcpserver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/snacstream/internal/synth"
	"github.com/MrWong99/snacstream/pkg/audio"
	"github.com/MrWong99/snacstream/pkg/bridge"
)

// ToolName is the name of the synthesis tool.
const ToolName = "speak"

// Synthesizer is the part of [synth.Service] the tool needs.
type Synthesizer interface {
	Synthesize(ctx context.Context, req synth.Request, sink bridge.Sink) (bridge.Result, error)
	Resolve(voice string) (string, error)
	SampleRate() int
}

var _ Synthesizer = (*synth.Service)(nil)

// SpeakInput is the argument object of the speak tool.
type SpeakInput struct {
	Text  string `json:"text" jsonschema:"the text to speak"`
	Voice string `json:"voice,omitempty" jsonschema:"speaker voice: tara, leah, jess, leo, dan, mia, zac or zoe"`
}

// SpeakOutput is the structured result of the speak tool.
type SpeakOutput struct {
	Voice      string  `json:"voice"`
	SampleRate int     `json:"sample_rate"`
	Chunks     int     `json:"chunks"`
	Seconds    float64 `json:"seconds"`
	Bytes      int     `json:"bytes"`
}

// New creates an MCP server with the speak tool registered.
func New(svc Synthesizer, version string, log *slog.Logger) *mcp.Server {
	if log == nil {
		log = slog.Default()
	}
	srv := mcp.NewServer(&mcp.Implementation{Name: "snacstream", Version: version}, nil)
	t := &tool{svc: svc, log: log}
	mcp.AddTool(srv, &mcp.Tool{
		Name:        ToolName,
		Description: "Synthesize speech from text with an Orpheus voice and return it as 24 kHz mono WAV audio.",
	}, t.speak)
	return srv
}

// Handler serves srv over streamable HTTP.
func Handler(srv *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
}

// RunStdio serves srv on stdin and stdout until ctx is done or the client
// disconnects.
func RunStdio(ctx context.Context, srv *mcp.Server) error {
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp: stdio: %w", err)
	}
	return nil
}

type tool struct {
	svc Synthesizer
	log *slog.Logger
}

// speak renders in.Text. Request errors are reported as tool errors so the
// calling model can correct itself; only I/O failures are protocol errors.
func (t *tool) speak(ctx context.Context, _ *mcp.CallToolRequest, in SpeakInput) (*mcp.CallToolResult, SpeakOutput, error) {
	v, err := t.svc.Resolve(in.Voice)
	if err != nil {
		return toolError(err), SpeakOutput{}, nil
	}

	f, err := os.CreateTemp("", "snacstream-mcp-*.wav")
	if err != nil {
		return nil, SpeakOutput{}, fmt.Errorf("mcp: create temp file: %w", err)
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}()

	rate := t.svc.SampleRate()
	res, err := t.svc.Synthesize(ctx, synth.Request{Prompt: in.Text, Voice: v}, audio.NewWAVSink(f, rate))
	if err != nil {
		t.log.Warn("mcp: speak failed", "err", err)
		return toolError(err), SpeakOutput{}, nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, SpeakOutput{}, fmt.Errorf("mcp: rewind wav: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, SpeakOutput{}, fmt.Errorf("mcp: read wav: %w", err)
	}

	out := SpeakOutput{
		Voice:      v,
		SampleRate: rate,
		Chunks:     res.Chunks,
		Seconds:    res.Duration(rate).Seconds(),
		Bytes:      len(data),
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.AudioContent{Data: data, MIMEType: "audio/wav"},
			&mcp.TextContent{Text: fmt.Sprintf("Generated %.2fs of audio with voice %s.", out.Seconds, out.Voice)},
		},
	}, out, nil
}

func toolError(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}
}
