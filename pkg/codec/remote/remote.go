// Package remote implements codec.Model against an HTTP decode sidecar, for
// deployments where the SNAC decoder runs in its own process (for example a
// GPU host running the reference PyTorch model).
//
// Wire protocol:
//
//   - POST {baseURL}/decode with Content-Type application/msgpack and a body
//     of {"a": [...], "b": [...], "c": [...]} (int32 arrays). The response is
//     application/msgpack {"audio": [...]} holding float32 samples.
//   - GET {baseURL}/healthz returns 200 when the sidecar has its model loaded.
//
// Typical usage:
//
//	m, err := remote.New("http://gpu-box:9100", remote.WithTimeout(5*time.Second))
//	a, err := codec.NewAdapter(m)
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/MrWong99/snacstream/pkg/codec"
)

var _ codec.Model = (*Model)(nil)

const (
	defaultTimeout  = 10 * time.Second
	decodeEndpoint  = "/decode"
	healthzEndpoint = "/healthz"
	contentType     = "application/msgpack"

	// maxResponseBytes caps the decoded waveform body.
	maxResponseBytes = 64 << 20
)

// DecodeRequest is the msgpack body sent to POST /decode.
type DecodeRequest struct {
	A []int32 `msgpack:"a"`
	B []int32 `msgpack:"b"`
	C []int32 `msgpack:"c"`
}

// DecodeResponse is the msgpack body returned by POST /decode.
type DecodeResponse struct {
	Audio []float32 `msgpack:"audio"`
	Error string    `msgpack:"error,omitempty"`
}

// Option is a functional option for [New].
type Option func(*Model)

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Model) { m.httpClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client entirely.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Model) { m.httpClient = c }
}

// Model is a codec.Model backed by a remote decode server. It is safe for
// concurrent use.
type Model struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a Model targeting baseURL. It does not contact the server; call
// [Model.Ping] to verify reachability.
func New(baseURL string, opts ...Option) (*Model, error) {
	if baseURL == "" {
		return nil, errors.New("remote: baseURL must not be empty")
	}
	m := &Model{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Decode implements codec.Model.
func (m *Model) Decode(ctx context.Context, codes codec.Codes) ([]float32, error) {
	body, err := msgpack.Marshal(DecodeRequest{A: codes.A, B: codes.B, C: codes.C})
	if err != nil {
		return nil, fmt.Errorf("remote: marshal decode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+decodeEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("remote: create decode request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", contentType)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: POST %s: %w", decodeEndpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("remote: read decode response: %w", err)
	}

	var out DecodeResponse
	if err := msgpack.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("remote: POST %s returned status %d", decodeEndpoint, resp.StatusCode)
		}
		return nil, fmt.Errorf("remote: unmarshal decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote: POST %s returned status %d: %s", decodeEndpoint, resp.StatusCode, out.Error)
	}
	return out.Audio, nil
}

// Ping checks that the sidecar is up and has its model loaded.
func (m *Model) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+healthzEndpoint, nil)
	if err != nil {
		return fmt.Errorf("remote: create health request: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("remote: GET %s: %w", healthzEndpoint, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("remote: GET %s returned status %d", healthzEndpoint, resp.StatusCode)
	}
	return nil
}

// Close implements codec.Model. The HTTP client holds no resources that need
// releasing.
func (m *Model) Close() error {
	m.httpClient.CloseIdleConnections()
	return nil
}
