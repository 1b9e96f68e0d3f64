// Package app wires all snacstream subsystems into a running application.
//
// The App struct owns the full lifecycle: New loads the codec, builds the
// token sources and the journal, Run serves HTTP until the context ends, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithCodecModel,
// WithTokenSource, WithJournal). When an option is not provided, New creates
// real implementations from the config through the [config.Registry].
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/snacstream/internal/config"
	"github.com/MrWong99/snacstream/internal/health"
	"github.com/MrWong99/snacstream/internal/journal"
	"github.com/MrWong99/snacstream/internal/mcpserver"
	"github.com/MrWong99/snacstream/internal/observe"
	"github.com/MrWong99/snacstream/internal/resilience"
	"github.com/MrWong99/snacstream/internal/server"
	"github.com/MrWong99/snacstream/internal/synth"
	"github.com/MrWong99/snacstream/pkg/bridge"
	"github.com/MrWong99/snacstream/pkg/codec"
	"github.com/MrWong99/snacstream/pkg/token"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	reg      *config.Registry
	log      *slog.Logger
	logLevel *slog.LevelVar
	version  string

	// Subsystems, initialised in New and torn down in Shutdown.
	metrics        *observe.Metrics
	metricsHandler http.Handler
	model          codec.Model
	adapter        *codec.Adapter
	codecErr       error
	sources        []token.Source
	source         token.Source
	journal        journal.Journal
	svc            *synth.Service
	health         *health.Handler
	mcp            *mcp.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry sets the factory registry used for the codec and the token
// sources.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.reg = r }
}

// WithCodecModel injects a codec model instead of creating one from config.
func WithCodecModel(m codec.Model) Option {
	return func(a *App) { a.model = m }
}

// WithTokenSource injects the token source instead of creating the
// configured primary and fallbacks.
func WithTokenSource(s token.Source) Option {
	return func(a *App) { a.source = s }
}

// WithJournal injects a run journal instead of connecting to PostgreSQL.
func WithJournal(j journal.Journal) Option {
	return func(a *App) { a.journal = j }
}

// WithMetrics injects metrics and their /metrics handler instead of
// initialising the Prometheus provider. h may be nil.
func WithMetrics(m *observe.Metrics, h http.Handler) Option {
	return func(a *App) {
		a.metrics = m
		a.metricsHandler = h
	}
}

// WithLogger sets the logger and the level variable adjusted on config
// reload. level may be nil.
func WithLogger(l *slog.Logger, level *slog.LevelVar) Option {
	return func(a *App) {
		a.log = l
		a.logLevel = level
	}
}

// WithVersion sets the version reported to telemetry and MCP clients.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together.
//
// A codec that fails to load is not fatal: the error is logged and kept for
// /status, and synthesis requests answer 503 until the process is restarted
// with a working model. Token source and journal failures are fatal.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		log:     slog.Default(),
		version: "dev",
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	if err := a.initTelemetry(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	// ── 2. Codec ─────────────────────────────────────────────────────────
	a.initCodec(ctx)

	// ── 3. Token sources ─────────────────────────────────────────────────
	if err := a.initTokens(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init token sources: %w", err)
	}

	// ── 4. Journal ───────────────────────────────────────────────────────
	if err := a.initJournal(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init journal: %w", err)
	}

	// ── 5. Synthesis service ─────────────────────────────────────────────
	if err := a.initService(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init synth: %w", err)
	}

	// ── 6. Health + MCP ──────────────────────────────────────────────────
	a.initHealth()
	if a.svc != nil {
		a.mcp = mcpserver.New(a.svc, a.version, a.log)
	}
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initTelemetry sets up the Prometheus-backed meter provider unless metrics
// were injected.
func (a *App) initTelemetry(ctx context.Context) error {
	if a.metrics != nil {
		return nil
	}
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "snacstream",
		ServiceVersion: a.version,
	})
	if err != nil {
		return err
	}
	a.metrics = tel.Metrics
	a.metricsHandler = tel.Handler
	a.closers = append(a.closers, func() error {
		return tel.Shutdown(context.Background())
	})
	return nil
}

// initCodec loads the codec model and wraps it in the adapter. Failures are
// recorded in codecErr.
func (a *App) initCodec(ctx context.Context) {
	open := func() (codec.Model, error) {
		if a.model != nil {
			return a.model, nil
		}
		if a.reg == nil {
			return nil, fmt.Errorf("no registry for codec %q", a.cfg.Codec.Name)
		}
		return a.reg.CreateCodec(a.cfg.Codec)
	}
	adapter, err := codec.Load(open,
		codec.WithName(a.cfg.Codec.Name),
		codec.WithSerialized(a.cfg.Codec.IsSerialized()),
		codec.WithLogger(a.log),
	)
	if err != nil {
		a.codecErr = err
		a.log.Error("codec unavailable, synthesis disabled", "codec", a.cfg.Codec.Name, "err", err)
		return
	}
	if a.cfg.Codec.Warmup {
		// A model that cannot decode silence is treated as not loaded.
		if err := adapter.Warmup(ctx, a.cfg.Decoder.WindowFrames); err != nil {
			_ = adapter.Close()
			a.codecErr = fmt.Errorf("%w: %w", codec.ErrModelUnavailable, err)
			a.log.Error("codec warmup failed, synthesis disabled", "codec", a.cfg.Codec.Name, "err", err)
			return
		}
		a.log.Info("codec warmed up", "codec", adapter.Name())
	}
	a.adapter = adapter
	a.closers = append(a.closers, adapter.Close)
}

// initTokens builds the primary token source and its fallbacks behind one
// circuit-broken fallback chain.
func (a *App) initTokens() error {
	if a.source != nil {
		a.sources = []token.Source{a.source}
		return nil
	}
	if a.reg == nil {
		return fmt.Errorf("no registry for token sources")
	}
	sources, err := a.reg.CreateTokenSources(a.cfg.Tokens)
	if err != nil {
		return err
	}
	fb, err := resilience.NewTokenSourceFallback(sources, resilience.FallbackConfig{
		Logger: a.log,
		OnResult: func(ctx context.Context, name string, err error) {
			status := "ok"
			if err != nil {
				status = "error"
			}
			a.metrics.RecordTokenSourceRequest(ctx, name, status)
		},
	})
	if err != nil {
		return err
	}
	a.sources = sources
	a.source = fb
	for _, s := range sources {
		a.log.Info("token source created", "name", s.Name())
	}
	return nil
}

// initJournal connects to PostgreSQL when a DSN is configured and prunes
// expired runs.
func (a *App) initJournal(ctx context.Context) error {
	if a.journal == nil {
		dsn := a.cfg.Journal.PostgresDSN
		if dsn == "" {
			a.journal = journal.Nop{}
			return nil
		}
		store, err := journal.NewStore(ctx, dsn)
		if err != nil {
			return err
		}
		a.journal = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
	}
	if r := a.cfg.Journal.Retention; r > 0 {
		n, err := a.journal.Prune(ctx, r)
		if err != nil {
			a.log.Warn("journal prune failed", "err", err)
		} else if n > 0 {
			a.log.Info("pruned journal", "runs", n, "retention", r)
		}
	}
	return nil
}

// initService creates the synthesis service when the codec is available.
func (a *App) initService() error {
	if a.adapter == nil {
		return nil
	}
	svc, err := synth.New(a.adapter, a.source, a.cfg.Decoder.DecodeConfig(),
		synth.WithJournal(a.journal),
		synth.WithMetrics(a.metrics),
		synth.WithLogger(a.log),
		synth.WithDefaults(a.cfg.Tokens.Request("", a.cfg.Tokens.DefaultVoice)),
		synth.WithBridgeOptions(
			bridge.WithWorkers(a.cfg.Bridge.Workers),
			bridge.WithQueueDepth(a.cfg.Bridge.QueueDepth),
		),
	)
	if err != nil {
		return err
	}
	a.svc = svc
	return nil
}

// initHealth registers the readiness checks: codec loaded, any token backend
// reachable, journal reachable.
func (a *App) initHealth() {
	checks := []health.Checker{health.CodecChecker(a.adapter)}

	tokenChecks := make([]health.Checker, 0, len(a.sources))
	for _, s := range a.sources {
		tokenChecks = append(tokenChecks, health.PingChecker(s.Name(), s))
	}
	checks = append(checks, health.AnyOf("tokens", tokenChecks...))

	if _, ok := a.journal.(journal.Nop); !ok {
		checks = append(checks, health.PingChecker("journal", a.journal))
	}
	a.health = health.New(checks...)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Service returns the synthesis service, or nil when the codec failed to load.
func (a *App) Service() *synth.Service { return a.svc }

// CodecErr returns the codec load error, if any.
func (a *App) CodecErr() error { return a.codecErr }

// Health returns the readiness checks.
func (a *App) Health() *health.Handler { return a.health }

// MCPServer returns the MCP server, or nil when the codec failed to load.
func (a *App) MCPServer() *mcp.Server { return a.mcp }

// Server builds the HTTP front end.
func (a *App) Server() *server.Server {
	opts := []server.Option{
		server.WithTokenSource(a.source),
		server.WithCodecError(a.codecErr),
		server.WithJournal(a.journal),
		server.WithHealth(a.health),
		server.WithMetrics(a.metrics, a.metricsHandler),
		server.WithLogger(a.log),
	}
	if a.cfg.Server.MCP && a.mcp != nil {
		opts = append(opts, server.WithMCP(mcpserver.Handler(a.mcp)))
	}
	// A nil *synth.Service must reach the server as a nil interface.
	var svc server.Synthesizer
	if a.svc != nil {
		svc = a.svc
	}
	return server.New(svc, opts...)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run binds the configured address and serves HTTP until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := server.Listen(ctx, a.cfg.Server.ListenAddr, a.cfg.Server.PortAttempts, a.log)
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve serves HTTP on ln until ctx is cancelled.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	if tls := a.cfg.Server.TLS; tls != nil {
		tln, err := server.WrapTLS(ln, tls.CertFile, tls.KeyFile)
		if err != nil {
			_ = ln.Close()
			return err
		}
		ln = tln
	}
	return a.Server().Serve(ctx, ln)
}

// ApplyConfig applies the hot-reloadable parts of next and logs what needs a
// restart. It is the config watcher callback.
func (a *App) ApplyConfig(old, next *config.Config) {
	d := config.Diff(old, next)
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if (d.DefaultVoiceChanged || d.SamplingChanged) && a.svc != nil {
		a.svc.SetDefaults(next.Tokens.Request("", next.Tokens.DefaultVoice))
		a.log.Info("synthesis defaults changed", "voice", next.Tokens.DefaultVoice)
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config sections changed that need a restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases whatever New had opened before failing.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
}

// SlogLevel converts a config log level.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
