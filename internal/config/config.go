// Package config provides the configuration schema, loader, hot-reload watcher
// and VAD engine registry for the shadowalign server.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/shadowalign/pkg/audio"
	"github.com/MrWong99/shadowalign/pkg/pipeline"
	"github.com/MrWong99/shadowalign/pkg/vad"
)

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to a [slog.Level]. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader]; fields absent from the file keep
// the values from [Default].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Decoder   DecoderConfig   `yaml:"decoder"`
	Pipeline  pipeline.Config `yaml:"pipeline"`
	VADEngine EngineEntry     `yaml:"vad_engine"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// MaxRequestBytes caps the body of an upload request, both recordings
	// together.
	MaxRequestBytes int64 `yaml:"max_request_bytes"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// DecoderConfig configures audio decoding. It is process-wide: changing it
// requires a restart.
type DecoderConfig struct {
	// SampleRate is the canonical rate every recording is resampled to.
	SampleRate int `yaml:"sample_rate"`

	// ResampleQuality trades resampling speed for fidelity (1 to 64).
	ResampleQuality int `yaml:"resample_quality"`

	// MaxBlobBytes rejects larger recordings. Zero disables the limit.
	MaxBlobBytes int `yaml:"max_blob_bytes"`
}

// Options converts the config into [audio.DecoderOption] values.
func (d DecoderConfig) Options() []audio.DecoderOption {
	return []audio.DecoderOption{
		audio.WithTargetRate(d.SampleRate),
		audio.WithResampleQuality(d.ResampleQuality),
		audio.WithMaxBytes(d.MaxBlobBytes),
	}
}

// EngineEntry selects the VAD engine. Name is looked up in the [Registry].
type EngineEntry struct {
	// Name selects the registered engine (e.g., "energy", "silero").
	Name string `yaml:"name"`

	// Options holds engine-specific values such as model_path.
	Options map[string]any `yaml:"options"`

	// Fallback names an engine used while the primary keeps failing. Empty
	// disables fallback.
	Fallback string `yaml:"fallback"`

	// CircuitBreaker tunes when the primary is bypassed.
	CircuitBreaker BreakerConfig `yaml:"circuit_breaker"`
}

// StringOption returns Options[key] if it is a string.
func (e EngineEntry) StringOption(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// BreakerConfig mirrors the circuit-breaker tunables.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// SessionsConfig bounds the in-memory session registry.
type SessionsConfig struct {
	// MaxSessions caps concurrently live sessions.
	MaxSessions int `yaml:"max_sessions"`

	// IdleTimeout evicts sessions not used for this long.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// RunTimeout bounds a single Prepare or Submit call.
	RunTimeout time.Duration `yaml:"run_timeout"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	ServiceName      string  `yaml:"service_name"`
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// Default returns a complete configuration with every default filled in.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			LogLevel:        LogInfo,
			MaxRequestBytes: 2*audio.DefaultMaxBytes + 1<<20,
			ShutdownTimeout: 15 * time.Second,
		},
		Decoder: DecoderConfig{
			SampleRate:      audio.DefaultSampleRate,
			ResampleQuality: audio.DefaultResampleQuality,
			MaxBlobBytes:    audio.DefaultMaxBytes,
		},
		Pipeline: pipeline.Default(),
		VADEngine: EngineEntry{
			Name: vad.EngineEnergy,
			CircuitBreaker: BreakerConfig{
				MaxFailures:  5,
				ResetTimeout: 30 * time.Second,
				HalfOpenMax:  1,
			},
		},
		Sessions: SessionsConfig{
			MaxSessions: 256,
			IdleTimeout: 30 * time.Minute,
			RunTimeout:  30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName:      "shadowalign",
			TraceSampleRatio: 1,
		},
	}
}
