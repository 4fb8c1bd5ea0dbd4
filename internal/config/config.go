// Package config provides the configuration schema, loader, diffing and file
// watcher for triggersync.
package config

import (
	"log/slog"
	"net"
	"strconv"
	"time"
)

// LogLevel controls log verbosity.
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

// SlogLevel converts l to the matching [slog.Level]; unknown values map to
// info.
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
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Engine    EngineConfig    `yaml:"engine"`
	API       APIConfig       `yaml:"api"`
	Export    ExportConfig    `yaml:"export"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds process-wide settings.
type ServerConfig struct {
	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// BridgeConfig configures the trigger bridge that forwards markers to the
// acquisition device.
type BridgeConfig struct {
	// Enabled runs the bridge's HTTP facade in this process (default true).
	Enabled *bool `yaml:"enabled"`

	// ListenAddr is the loopback address of the HTTP facade.
	ListenAddr string `yaml:"listen_addr"`

	// DeviceHost and DevicePort address the acquisition device's TCP
	// trigger port.
	DeviceHost string `yaml:"device_host"`
	DevicePort int    `yaml:"device_port"`

	// ConnectTimeout bounds the TCP connect to the device.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// ProbeDevice makes /readyz dial the device (without writing a frame).
	ProbeDevice bool `yaml:"probe_device"`
}

// IsEnabled reports the effective enabled flag.
func (b BridgeConfig) IsEnabled() bool {
	return b.Enabled == nil || *b.Enabled
}

// DeviceAddr returns the host:port of the acquisition device.
func (b BridgeConfig) DeviceAddr() string {
	return net.JoinHostPort(b.DeviceHost, strconv.Itoa(b.DevicePort))
}

// EngineConfig configures the event/marker engine.
type EngineConfig struct {
	// Enabled runs the engine and its collaborator API in this process
	// (default true).
	Enabled *bool `yaml:"enabled"`

	// BridgeURL is the base URL of the trigger bridge's HTTP facade.
	BridgeURL string `yaml:"bridge_url"`

	// DispatchEnabled gates marker dispatch. Events are still logged with
	// their codes when false. Hot-reloadable.
	DispatchEnabled *bool `yaml:"dispatch_enabled"`

	// RequestTimeout bounds one HTTP call to the bridge. It should exceed
	// the bridge's connect timeout so device errors are reported, not
	// masked as client timeouts.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// IsEnabled reports the effective enabled flag.
func (e EngineConfig) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// Dispatching reports the effective dispatch flag (default true).
func (e EngineConfig) Dispatching() bool {
	return e.DispatchEnabled == nil || *e.DispatchEnabled
}

// APIConfig configures the collaborator-facing HTTP/WebSocket API.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	// AllowedOrigins lists WebSocket origins accepted besides same-host.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ExportConfig configures where workbooks are written.
type ExportConfig struct {
	Dir string `yaml:"dir"`
}

// TelemetryConfig configures the OpenTelemetry resource and trace sampling.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`

	// TraceSampleRatio is the fraction of new root traces recorded, in
	// (0, 1]. Incoming sampled traces are always continued.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// Defaults match the lab setup: bridge on :3000, device on
// 127.0.0.1:1234.
const (
	DefaultBridgeListenAddr = "127.0.0.1:3000"
	DefaultDeviceHost       = "127.0.0.1"
	DefaultDevicePort       = 1234
	DefaultConnectTimeout   = 2 * time.Second
	DefaultBridgeURL        = "http://127.0.0.1:3000"
	DefaultRequestTimeout   = 5 * time.Second
	DefaultAPIListenAddr    = "127.0.0.1:4300"
	DefaultExportDir        = "exports"
	DefaultServiceName      = "triggersync"
	DefaultTraceSampleRatio = 1.0
)

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Bridge.ListenAddr == "" {
		cfg.Bridge.ListenAddr = DefaultBridgeListenAddr
	}
	if cfg.Bridge.DeviceHost == "" {
		cfg.Bridge.DeviceHost = DefaultDeviceHost
	}
	if cfg.Bridge.DevicePort == 0 {
		cfg.Bridge.DevicePort = DefaultDevicePort
	}
	if cfg.Bridge.ConnectTimeout == 0 {
		cfg.Bridge.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Engine.BridgeURL == "" {
		cfg.Engine.BridgeURL = DefaultBridgeURL
	}
	if cfg.Engine.RequestTimeout == 0 {
		cfg.Engine.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.API.ListenAddr == "" {
		cfg.API.ListenAddr = DefaultAPIListenAddr
	}
	if cfg.Export.Dir == "" {
		cfg.Export.Dir = DefaultExportDir
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
	if cfg.Telemetry.TraceSampleRatio == 0 {
		cfg.Telemetry.TraceSampleRatio = DefaultTraceSampleRatio
	}
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Bool returns a pointer to b, for the optional flags above.
func Bool(b bool) *bool {
	return &b
}
