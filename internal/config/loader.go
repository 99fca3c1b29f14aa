package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/shadowalign/pkg/audio"
)

// KnownEngines lists VAD engine names that ship with shadowalign. [Validate]
// warns about other names, which may still be registered by a custom build.
var KnownEngines = []string{"energy", "silero"}

// Load reads the YAML configuration file at path and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r on top of [Default] and validates the
// result. Unknown keys are rejected. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.MaxRequestBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_request_bytes %d must be positive", cfg.Server.MaxRequestBytes))
	}

	// Decoder
	if _, err := audio.NewDecoder(cfg.Decoder.Options()...); err != nil {
		errs = append(errs, err)
	}
	if m := cfg.Decoder.MaxBlobBytes; m > 0 && int64(m)*2 > cfg.Server.MaxRequestBytes {
		slog.Warn("server.max_request_bytes is smaller than two maximum-size recordings",
			"max_request_bytes", cfg.Server.MaxRequestBytes,
			"max_blob_bytes", m,
		)
	}

	// Pipeline defaults
	if err := cfg.Pipeline.Validate(); err != nil {
		errs = append(errs, err)
	}

	// VAD engine
	if cfg.VADEngine.Name == "" {
		errs = append(errs, errors.New("vad_engine.name is required"))
	} else {
		warnUnknownEngine("vad_engine.name", cfg.VADEngine.Name)
	}
	if fb := cfg.VADEngine.Fallback; fb != "" {
		if fb == cfg.VADEngine.Name {
			errs = append(errs, fmt.Errorf("vad_engine.fallback %q must differ from vad_engine.name", fb))
		}
		warnUnknownEngine("vad_engine.fallback", fb)
	}
	if cb := cfg.VADEngine.CircuitBreaker; cb.MaxFailures < 0 || cb.ResetTimeout < 0 || cb.HalfOpenMax < 0 {
		errs = append(errs, errors.New("vad_engine.circuit_breaker values must not be negative"))
	}

	// Sessions
	if cfg.Sessions.MaxSessions <= 0 {
		errs = append(errs, fmt.Errorf("sessions.max_sessions %d must be positive", cfg.Sessions.MaxSessions))
	}
	if cfg.Sessions.IdleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("sessions.idle_timeout %s must be positive", cfg.Sessions.IdleTimeout))
	}
	if cfg.Sessions.RunTimeout < 0 {
		errs = append(errs, fmt.Errorf("sessions.run_timeout %s must not be negative", cfg.Sessions.RunTimeout))
	}

	// Telemetry
	if r := cfg.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %.2f is out of range [0, 1]", r))
	}

	return errors.Join(errs...)
}

func warnUnknownEngine(field, name string) {
	if slices.Contains(KnownEngines, name) {
		return
	}
	slog.Warn("unknown VAD engine name; it must be registered by this build",
		"field", field,
		"name", name,
		"known", KnownEngines,
	)
}
