// Package app wires the shadowalign subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds the decoder, the VAD
// engine (behind a fallback group when one is configured), the session
// manager and the HTTP server; Run serves until its context is cancelled;
// Shutdown tears everything down in order.
//
// For testing, inject dependencies via functional options (WithRegistry,
// WithListener, etc.). When an option is not provided, New builds the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/shadowalign/internal/config"
	"github.com/MrWong99/shadowalign/internal/health"
	"github.com/MrWong99/shadowalign/internal/observe"
	"github.com/MrWong99/shadowalign/internal/resilience"
	"github.com/MrWong99/shadowalign/internal/server"
	"github.com/MrWong99/shadowalign/internal/session"
	"github.com/MrWong99/shadowalign/pkg/audio"
	"github.com/MrWong99/shadowalign/pkg/vad"
)

// readHeaderTimeout bounds how long a client may take to send headers.
const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	logLevel *slog.LevelVar
	metrics  *observe.Metrics

	configPath    string
	watchInterval time.Duration
	listener      net.Listener

	// Subsystems, initialised in New and torn down in Shutdown.
	decoder  *audio.Decoder
	detector session.FrameDetector
	fallback *resilience.VADFallback
	manager  *session.Manager
	health   *health.Handler
	server   *server.Server
	httpSrv  *http.Server
	watcher  *config.Watcher

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithRegistry supplies the VAD engine registry. Default: [config.NewRegistry],
// which knows only the energy engine.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithLogLevel hands New the level variable behind the process logger so
// that config reloads can change verbosity.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithMetrics injects the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithConfigWatch hot-reloads the config file at path, polling every
// interval. Zero selects the watcher's default interval.
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.watchInterval = interval
	}
}

// WithListener serves on ln instead of listening on cfg.Server.ListenAddr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// New creates an App by wiring all subsystems together. Nothing is served
// until Run is called.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
	}
	if a.logLevel == nil {
		a.logLevel = new(slog.LevelVar)
	}
	a.logLevel.Set(cfg.Server.LogLevel.SlogLevel())
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Decoder ───────────────────────────────────────────────────────
	dec, err := audio.NewDecoder(cfg.Decoder.Options()...)
	if err != nil {
		return nil, fmt.Errorf("app: init decoder: %w", err)
	}
	a.decoder = dec

	// ── 2. VAD engine ────────────────────────────────────────────────────
	if err := a.initVAD(); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init vad: %w", err)
	}

	// ── 3. Sessions ──────────────────────────────────────────────────────
	a.manager = session.NewManager(session.ManagerConfig{
		Runner:      session.NewRunner(a.decoder, a.detector, a.metrics),
		MaxSessions: cfg.Sessions.MaxSessions,
		IdleTimeout: cfg.Sessions.IdleTimeout,
		Defaults:    cfg.Pipeline,
		Metrics:     a.metrics,
	})

	// ── 4. HTTP ──────────────────────────────────────────────────────────
	a.health = health.New(
		health.Checker{Name: "sessions", Check: a.manager.CheckCapacity},
		health.Checker{Name: "vad_engine", Check: a.checkVAD},
	)
	a.server = server.New(server.Config{
		Manager:         a.manager,
		Health:          a.health,
		Metrics:         a.metrics,
		MaxRequestBytes: cfg.Server.MaxRequestBytes,
		RunTimeout:      cfg.Sessions.RunTimeout,
	})
	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.server,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	// ── 5. Config watcher ────────────────────────────────────────────────
	if a.configPath != "" {
		var wopts []config.WatcherOption
		if a.watchInterval > 0 {
			wopts = append(wopts, config.WithInterval(a.watchInterval))
		}
		w, err := config.NewWatcher(a.configPath, a.applyConfig, wopts...)
		if err != nil {
			a.runClosers()
			return nil, fmt.Errorf("app: init config watcher: %w", err)
		}
		a.watcher = w
	}

	slog.Info("app initialised",
		"vad_engine", a.detector.Name(),
		"vad_fallback", cfg.VADEngine.Fallback,
		"sample_rate", a.decoder.TargetRate(),
		"max_sessions", cfg.Sessions.MaxSessions,
	)
	return a, nil
}

// initVAD builds the configured engine. With a fallback configured both
// engines sit behind circuit breakers in a [resilience.VADFallback].
func (a *App) initVAD() error {
	entry := a.cfg.VADEngine
	primary, err := a.registry.CreateVAD(entry)
	if err != nil {
		return err
	}
	a.addCloser(primary)

	fb, err := a.registry.CreateFallbackVAD(entry)
	if err != nil {
		return err
	}
	if fb == nil {
		a.detector = vad.NewDetector(primary)
		return nil
	}
	a.addCloser(fb)

	bc := entry.CircuitBreaker
	a.fallback = resilience.NewVADFallback(primary, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  bc.MaxFailures,
			ResetTimeout: bc.ResetTimeout,
			HalfOpenMax:  bc.HalfOpenMax,
		},
	})
	a.fallback.AddFallback(fb)
	a.detector = a.fallback
	return nil
}

// addCloser registers engine for Shutdown if it holds resources.
func (a *App) addCloser(engine vad.Engine) {
	if c, ok := engine.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
}

// checkVAD is a readiness check that fails when every engine is behind an
// open circuit breaker.
func (a *App) checkVAD(context.Context) error {
	if a.fallback == nil {
		return nil
	}
	engines := a.fallback.Engines()
	for _, name := range engines {
		if cb := a.fallback.Breaker(name); cb == nil || cb.State() != resilience.StateOpen {
			return nil
		}
	}
	return fmt.Errorf("%w: circuit open for %v", resilience.ErrAllFailed, engines)
}

// applyConfig is the watcher callback. Only hot-reloadable parts are applied;
// the rest is logged as needing a restart.
func (a *App) applyConfig(c config.Change) {
	d, next := c.Diff, c.New
	if d.LogLevelChanged {
		a.logLevel.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PipelineChanged {
		a.manager.SetDefaults(next.Pipeline)
		slog.Info("pipeline defaults reloaded",
			"strategy", next.Pipeline.Align.Strategy,
			"padding_ms", next.Pipeline.Trim.PaddingMs,
		)
	}
	if d.SessionsChanged {
		a.manager.SetLimits(next.Sessions.MaxSessions, next.Sessions.IdleTimeout)
		a.server.SetRunTimeout(next.Sessions.RunTimeout)
		slog.Info("session limits reloaded",
			"max_sessions", next.Sessions.MaxSessions,
			"idle_timeout", next.Sessions.IdleTimeout,
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "fields", d.RestartRequired)
	}
}

// ReloadConfig re-reads the config file immediately. It is a no-op without
// [WithConfigWatch].
func (a *App) ReloadConfig() error {
	if a.watcher == nil {
		return nil
	}
	_, err := a.watcher.Reload()
	return err
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.server }

// Manager returns the session registry.
func (a *App) Manager() *session.Manager { return a.manager }

// Run serves HTTP, sweeps idle sessions and polls the config file until ctx
// is cancelled or the listener fails. On cancellation the HTTP server drains
// first, then the remaining sessions are closed. It returns ctx.Err() after
// a cancellation.
func (a *App) Run(ctx context.Context) error {
	sweepCtx, stopSweeper := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSweeper()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.manager.Run(sweepCtx) })
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	g.Go(a.serve)
	g.Go(func() error {
		<-gctx.Done()
		defer stopSweeper()
		a.health.SetDraining()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("app: drain http: %w", err)
		}
		return nil
	})

	slog.Info("app running", "listen_addr", a.addr())
	err := g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// serve blocks in Serve or ServeTLS and returns nil once the server is shut
// down.
func (a *App) serve() error {
	ln := a.listener
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr); err != nil {
			return fmt.Errorf("app: listen: %w", err)
		}
	}

	var err error
	if tls := a.cfg.Server.TLS; tls != nil {
		err = a.httpSrv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
	} else {
		err = a.httpSrv.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("app: serve: %w", err)
}

func (a *App) addr() string {
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return a.cfg.Server.ListenAddr
}

// Shutdown drains HTTP, closes every session and releases engine resources.
// Closers run in order under ctx: if ctx expires first, the remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.health.SetDraining()
		if err := a.httpSrv.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}
		a.manager.CloseAll()

		if err := a.runClosersCtx(ctx); err != nil {
			shutdownErr = err
			return
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers() { _ = a.runClosersCtx(context.Background()) }

func (a *App) runClosersCtx(ctx context.Context) error {
	for i, closer := range a.closers {
		select {
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
			return ctx.Err()
		default:
		}
		if err := closer(); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	return nil
}
