package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
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

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if !cfg.Bridge.IsEnabled() && !cfg.Engine.IsEnabled() {
		errs = append(errs, errors.New("at least one of bridge.enabled or engine.enabled must be true"))
	}

	// Bridge
	if _, _, err := net.SplitHostPort(cfg.Bridge.ListenAddr); err != nil {
		errs = append(errs, fmt.Errorf("bridge.listen_addr %q is invalid: %w", cfg.Bridge.ListenAddr, err))
	}
	if cfg.Bridge.DevicePort < 1 || cfg.Bridge.DevicePort > 65535 {
		errs = append(errs, fmt.Errorf("bridge.device_port %d is out of range [1, 65535]", cfg.Bridge.DevicePort))
	}
	if cfg.Bridge.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("bridge.connect_timeout %s must not be negative", cfg.Bridge.ConnectTimeout))
	}

	// Engine
	if u, err := url.Parse(cfg.Engine.BridgeURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("engine.bridge_url %q must be an absolute http(s) URL", cfg.Engine.BridgeURL))
	}
	if cfg.Engine.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("engine.request_timeout %s must not be negative", cfg.Engine.RequestTimeout))
	}
	if cfg.Engine.IsEnabled() && cfg.Engine.RequestTimeout > 0 && cfg.Engine.RequestTimeout <= cfg.Bridge.ConnectTimeout {
		slog.Warn("engine.request_timeout does not exceed bridge.connect_timeout; unreachable devices may surface as client timeouts",
			"request_timeout", cfg.Engine.RequestTimeout,
			"connect_timeout", cfg.Bridge.ConnectTimeout,
		)
	}

	// API
	if cfg.Engine.IsEnabled() {
		if _, _, err := net.SplitHostPort(cfg.API.ListenAddr); err != nil {
			errs = append(errs, fmt.Errorf("api.listen_addr %q is invalid: %w", cfg.API.ListenAddr, err))
		}
		if cfg.Bridge.IsEnabled() && cfg.API.ListenAddr == cfg.Bridge.ListenAddr {
			errs = append(errs, fmt.Errorf("api.listen_addr and bridge.listen_addr must differ (both %q)", cfg.API.ListenAddr))
		}
	}

	if r := cfg.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %g is out of range (0, 1]", r))
	}

	if cfg.Engine.IsEnabled() && !cfg.Engine.Dispatching() {
		slog.Warn("engine.dispatch_enabled is false; markers will be logged but not sent to the device")
	}

	return errors.Join(errs...)
}
