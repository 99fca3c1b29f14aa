package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/shadowalign/internal/config"
	"github.com/MrWong99/shadowalign/pkg/align"
	"github.com/MrWong99/shadowalign/pkg/types"
)

func TestLoadFromReader_EmptyYieldsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(config.Default(), cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFromReader_OverlaysDefaults(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":9090"
  log_level: debug
decoder:
  sample_rate: 8000
pipeline:
  vad:
    threshold: 0.03
  align:
    strategy: uniform
sessions:
  idle_timeout: 5m
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := config.Default()
	want.Server.ListenAddr = ":9090"
	want.Server.LogLevel = config.LogDebug
	want.Decoder.SampleRate = 8000
	want.Pipeline.VAD.Threshold = 0.03
	want.Pipeline.Align.Strategy = align.StrategyUniform
	want.Sessions.IdleTimeout = 5 * time.Minute

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFromReader_EngineOptions(t *testing.T) {
	t.Parallel()
	yaml := `
vad_engine:
  name: silero
  fallback: energy
  options:
    model_path: /models/silero_vad.onnx
  circuit_breaker:
    max_failures: 2
    reset_timeout: 10s
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e := cfg.VADEngine
	if e.Name != "silero" || e.Fallback != "energy" {
		t.Errorf("engine = %q fallback %q, want silero/energy", e.Name, e.Fallback)
	}
	if got := e.StringOption("model_path"); got != "/models/silero_vad.onnx" {
		t.Errorf("model_path = %q", got)
	}
	if got := e.StringOption("missing"); got != "" {
		t.Errorf("missing option = %q, want empty", got)
	}
	if e.CircuitBreaker.MaxFailures != 2 || e.CircuitBreaker.ResetTimeout != 10*time.Second {
		t.Errorf("circuit breaker = %+v", e.CircuitBreaker)
	}
	// Unset breaker fields keep their default.
	if e.CircuitBreaker.HalfOpenMax != 1 {
		t.Errorf("half_open_max = %d, want 1", e.CircuitBreaker.HalfOpenMax)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen_adr: \":80\"\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	if !strings.Contains(err.Error(), "listen_adr") {
		t.Errorf("error should name the unknown field, got: %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: bananas
decoder:
  sample_rate: 100
pipeline:
  trim:
    padding_ms: -5
vad_engine:
  name: energy
  fallback: energy
sessions:
  max_sessions: 0
telemetry:
  trace_sample_ratio: 2
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{
		"server.log_level",
		"decoder.sample_rate",
		"trim.padding_ms",
		"vad_engine.fallback",
		"sessions.max_sessions",
		"telemetry.trace_sample_ratio",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("error should mention %s, got: %v", want, msg)
		}
	}
	if !types.IsConfigurationError(err) {
		t.Error("stage errors should surface as ConfigurationError")
	}
}

func TestValidate_TLSNeedsBothFiles(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Server.TLS = &config.TLSConfig{CertFile: "cert.pem"}
	err := config.Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "server.tls") {
		t.Fatalf("err = %v, want server.tls error", err)
	}
}

func TestValidate_UnknownEngineOnlyWarns(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.VADEngine.Name = "webrtc"
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("unknown engine name should warn, not fail: %v", err)
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("verbose").IsValid() {
		t.Error(`"verbose" should be invalid`)
	}
}

func TestLogLevel_SlogLevel(t *testing.T) {
	t.Parallel()
	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"verbose":       slog.LevelInfo,
	}
	for l, want := range tests {
		if got := l.SlogLevel(); got != want {
			t.Errorf("%q.SlogLevel() = %v, want %v", l, got, want)
		}
	}
}

func TestLoad_FileErrors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	_, err := config.Load(filepath.Join(dir, "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config: open") {
		t.Errorf("missing file err = %v, want open error", err)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("server: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = config.Load(bad)
	if err == nil || !strings.Contains(err.Error(), "config: parse") {
		t.Errorf("bad file err = %v, want parse error", err)
	}
}

func TestLoad_ExampleMatchesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(config.Default(), cfg); diff != "" {
		t.Errorf("example config drifted from defaults (-want +got):\n%s", diff)
	}
}

func TestDecoderConfig_Options(t *testing.T) {
	t.Parallel()
	if got := len(config.Default().Decoder.Options()); got != 3 {
		t.Errorf("len(Options) = %d, want 3", got)
	}
}
