// Package server exposes the synthesizer over HTTP.
//
// Routes:
//
//	GET  /status     service and dependency summary
//	GET  /tts        whole utterance as audio/wav (also POST with a JSON body)
//	GET  /tts/stream chunked raw PCM (audio/L16) as it is decoded
//	GET  /tts/ws     websocket: JSON requests in, PCM or Opus frames out
//	GET  /voices     voice catalogue
//	GET  /runs       recent journal entries
//	     /healthz, /readyz, /metrics, /mcp when configured
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"github.com/MrWong99/snacstream/internal/health"
	"github.com/MrWong99/snacstream/internal/journal"
	"github.com/MrWong99/snacstream/internal/observe"
	"github.com/MrWong99/snacstream/internal/synth"
	"github.com/MrWong99/snacstream/pkg/bridge"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	statusPingTimeout = 3 * time.Second
)

// Synthesizer is the part of [synth.Service] the server needs.
type Synthesizer interface {
	Synthesize(ctx context.Context, req synth.Request, sink bridge.Sink) (bridge.Result, error)
	Resolve(voice string) (string, error)
	SampleRate() int
	Ready() bool
}

var _ Synthesizer = (*synth.Service)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithTokenSource sets the token backend probed by /status.
func WithTokenSource(p health.Pinger) Option {
	return func(s *Server) { s.source = p }
}

// WithCodecError records why the codec failed to load, for /status.
func WithCodecError(err error) Option {
	return func(s *Server) { s.codecErr = err }
}

// WithJournal serves j on /runs.
func WithJournal(j journal.Journal) Option {
	return func(s *Server) { s.journal = j }
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics records HTTP metrics in m and serves h on /metrics.
func WithMetrics(m *observe.Metrics, h http.Handler) Option {
	return func(s *Server) {
		s.metrics = m
		s.metricsHandler = h
	}
}

// WithMCP mounts h on /mcp.
func WithMCP(h http.Handler) Option {
	return func(s *Server) { s.mcp = h }
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// Server is the HTTP front end. svc may be nil when the codec could not be
// loaded; synthesis routes then answer 503.
type Server struct {
	svc            Synthesizer
	source         health.Pinger
	codecErr       error
	journal        journal.Journal
	health         *health.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
	mcp            http.Handler
	log            *slog.Logger
}

// New creates a Server for svc.
func New(svc Synthesizer, opts ...Option) *Server {
	s := &Server{
		svc:     svc,
		journal: journal.Nop{},
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed handler wrapped in the metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /tts", s.handleTTS)
	mux.HandleFunc("POST /tts", s.handleTTS)
	mux.HandleFunc("GET /tts/stream", s.handleStream)
	mux.HandleFunc("GET /tts/ws", s.handleWS)
	mux.HandleFunc("GET /voices", s.handleVoices)
	mux.HandleFunc("GET /runs", s.handleRuns)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	if s.mcp != nil {
		mux.Handle("/mcp", s.mcp)
	}

	m := s.metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return observe.Middleware(m)(mux)
}

// Serve runs the server on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("http server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// Listen binds addr. When the port is taken it tries the next port up, for a
// total of attempts ports. Port 0 is never retried.
func Listen(ctx context.Context, addr string, attempts int, log *slog.Logger) (net.Listener, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("server: listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("server: listen port %q: %w", portStr, err)
	}
	if attempts < 1 || port == 0 {
		attempts = 1
	}
	if log == nil {
		log = slog.Default()
	}

	var lc net.ListenConfig
	var errs []error
	for i := range attempts {
		try := net.JoinHostPort(host, strconv.Itoa(port+i))
		ln, err := lc.Listen(ctx, "tcp", try)
		if err == nil {
			return ln, nil
		}
		errs = append(errs, err)
		if !errors.Is(err, syscall.EADDRINUSE) {
			break
		}
		log.Warn("port in use, trying next", "addr", try)
	}
	return nil, fmt.Errorf("server: no free port after %d attempts: %w", len(errs), errors.Join(errs...))
}

// WrapTLS serves ln with the certificate pair at certFile and keyFile.
func WrapTLS(ln net.Listener, certFile, keyFile string) (net.Listener, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("server: load tls key pair: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}), nil
}
