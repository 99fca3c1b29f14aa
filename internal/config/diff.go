package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PipelineChanged is set when the default pipeline parameters changed.
	// Sessions created afterwards use the new defaults; live sessions keep
	// theirs.
	PipelineChanged bool

	// SessionsChanged is set when the session limits changed.
	SessionsChanged bool

	// RestartRequired lists changed fields that only take effect after a
	// restart, such as the listen address or the decoder rate.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.PipelineChanged && !d.SessionsChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.PipelineChanged = old.Pipeline != new.Pipeline
	d.SessionsChanged = old.Sessions != new.Sessions

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server.tls")
	}
	if old.Decoder != new.Decoder {
		d.RestartRequired = append(d.RestartRequired, "decoder")
	}
	if !reflect.DeepEqual(old.VADEngine, new.VADEngine) {
		d.RestartRequired = append(d.RestartRequired, "vad_engine")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}
