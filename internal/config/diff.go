package config

import "slices"

// ConfigDiff describes what changed between two configs. Only the log level
// and the dispatch flag are applied live; every other change is reported so
// the operator knows a restart is needed.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	DispatchChanged bool
	NewDispatch     bool

	// RestartRequired lists config sections whose changes only take effect
	// after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.DispatchChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Engine.Dispatching() != new.Engine.Dispatching() {
		d.DispatchChanged = true
		d.NewDispatch = new.Engine.Dispatching()
	}

	if old.Bridge.IsEnabled() != new.Bridge.IsEnabled() ||
		old.Bridge.ListenAddr != new.Bridge.ListenAddr ||
		old.Bridge.DeviceAddr() != new.Bridge.DeviceAddr() ||
		old.Bridge.ConnectTimeout != new.Bridge.ConnectTimeout ||
		old.Bridge.ProbeDevice != new.Bridge.ProbeDevice {
		d.RestartRequired = append(d.RestartRequired, "bridge")
	}
	if old.Engine.IsEnabled() != new.Engine.IsEnabled() ||
		old.Engine.BridgeURL != new.Engine.BridgeURL ||
		old.Engine.RequestTimeout != new.Engine.RequestTimeout {
		d.RestartRequired = append(d.RestartRequired, "engine")
	}
	if old.API.ListenAddr != new.API.ListenAddr || !slices.Equal(old.API.AllowedOrigins, new.API.AllowedOrigins) {
		d.RestartRequired = append(d.RestartRequired, "api")
	}
	if old.Export != new.Export {
		d.RestartRequired = append(d.RestartRequired, "export")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}
