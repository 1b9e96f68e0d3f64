package mcpserver_test

import (
	"context"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/snacstream/internal/mcpserver"
	"github.com/MrWong99/snacstream/internal/synth"
	"github.com/MrWong99/snacstream/pkg/codec"
	codecmock "github.com/MrWong99/snacstream/pkg/codec/mock"
	"github.com/MrWong99/snacstream/pkg/decode"
	tokenmock "github.com/MrWong99/snacstream/pkg/token/mock"
)

func connect(t *testing.T, ids []int) *mcp.ClientSession {
	t.Helper()
	a, err := codec.NewAdapter(&codecmock.Model{})
	if err != nil {
		t.Fatal(err)
	}
	svc, err := synth.New(a, &tokenmock.Source{IDs: ids}, decode.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	srv := mcpserver.New(svc, "test", nil)
	clientT, serverT := mcp.NewInMemoryTransports()
	ss, err := srv.Connect(ctx, serverT, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func TestSpeakTool_Listed(t *testing.T) {
	t.Parallel()

	cs := connect(t, nil)
	res, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Tools) != 1 || res.Tools[0].Name != mcpserver.ToolName {
		t.Fatalf("tools = %+v", res.Tools)
	}
}

func TestSpeakTool_ReturnsWAV(t *testing.T) {
	t.Parallel()

	ids := make([]int, 35)
	for i := range ids {
		ids[i] = i * 11
	}
	cs := connect(t, ids)
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      mcpserver.ToolName,
		Arguments: map[string]any{"text": "Hello there", "voice": "Zoe"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError || len(res.Content) != 2 {
		t.Fatalf("result = %+v", res)
	}
	a, ok := res.Content[0].(*mcp.AudioContent)
	if !ok {
		t.Fatalf("content[0] = %T", res.Content[0])
	}
	// 44-byte header plus two 4096-byte chunks.
	if a.MIMEType != "audio/wav" || len(a.Data) != 44+8192 || string(a.Data[:4]) != "RIFF" {
		t.Errorf("audio = %s, %d bytes", a.MIMEType, len(a.Data))
	}
	txt, ok := res.Content[1].(*mcp.TextContent)
	if !ok || !strings.Contains(txt.Text, "zoe") {
		t.Errorf("summary = %+v", res.Content[1])
	}
}

func TestSpeakTool_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args map[string]any
		ids  []int
		want string
	}{
		{name: "unknown voice", args: map[string]any{"text": "hi", "voice": "gandalf"}, want: "unknown voice"},
		{name: "empty text", args: map[string]any{"text": ""}, want: "prompt must not be empty"},
		{name: "no audio", args: map[string]any{"text": "hi"}, ids: []int{1, 2, 3, 4, 5, 6, 7}, want: "no audio segments"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cs := connect(t, tt.ids)
			res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: mcpserver.ToolName, Arguments: tt.args})
			if err != nil {
				t.Fatal(err)
			}
			if !res.IsError {
				t.Fatal("expected tool error")
			}
			txt := res.Content[0].(*mcp.TextContent)
			if !strings.Contains(txt.Text, tt.want) {
				t.Errorf("error = %q, want %q", txt.Text, tt.want)
			}
		})
	}
}
