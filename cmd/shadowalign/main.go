// Command shadowalign serves the accent-shadowing alignment API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrWong99/shadowalign/internal/app"
	"github.com/MrWong99/shadowalign/internal/config"
	"github.com/MrWong99/shadowalign/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// engineRegistrars add optional VAD engines to the registry. Files guarded
// by build tags append to it from init.
var engineRegistrars []func(*config.Registry)

// cleanups run after the application has shut down.
var cleanups []func() error

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload the configuration file when it changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "shadowalign: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "shadowalign: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("shadowalign starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:      cfg.Telemetry.ServiceName,
		ServiceVersion:   version,
		TraceSampleRatio: cfg.Telemetry.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── VAD engine registry ───────────────────────────────────────────────────
	reg := config.NewRegistry()
	for _, register := range engineRegistrars {
		register(reg)
	}
	slog.Debug("vad engines registered", "engines", reg.VADNames())

	printStartupSummary(cfg)

	opts := []app.Option{
		app.WithRegistry(reg),
		app.WithLogLevel(logLevel),
	}
	if *watch {
		opts = append(opts, app.WithConfigWatch(*configPath, 0))
	}
	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// SIGHUP forces a config reload without waiting for the next poll.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := application.ReloadConfig(); err != nil {
					slog.Warn("config reload failed", "err", err)
				}
			}
		}
	}()

	slog.Info("server ready; press Ctrl+C to shut down")

	exit := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		exit = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		exit = 1
	}
	for _, c := range cleanups {
		if err := c(); err != nil {
			slog.Warn("cleanup error", "err", err)
		}
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	if exit == 0 {
		slog.Info("goodbye")
	}
	return exit
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      shadowalign: startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("VAD engine", cfg.VADEngine.Name)
	printRow("VAD fallback", orNone(cfg.VADEngine.Fallback))
	printRow("Sample rate", fmt.Sprintf("%d Hz", cfg.Decoder.SampleRate))
	printRow("Strategy", string(cfg.Pipeline.Align.Strategy))
	printRow("Max sessions", fmt.Sprint(cfg.Sessions.MaxSessions))
	printRow("Listen addr", cfg.Server.ListenAddr)
	if cfg.Server.TLS != nil {
		printRow("TLS", "enabled")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(key, value string) {
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", key, value)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
