package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/triggersync/internal/app"
	"github.com/MrWong99/triggersync/internal/config"
	"github.com/MrWong99/triggersync/internal/observe"
)

// NewServeCommand creates the serve command, which runs every component the
// config enables.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge, the engine and the collaborator API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, rootOpts.ConfigPath, false)
		},
	}
}

// NewBridgeCommand creates the bridge command, which runs only the trigger
// bridge regardless of engine.enabled.
func NewBridgeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bridge",
		Short: "Run only the trigger bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, rootOpts.ConfigPath, true)
		},
	}
}

func runServe(cmd *cobra.Command, configPath string, bridgeOnly bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", configPath)
		}
		return err
	}
	if bridgeOnly {
		cfg.Bridge.Enabled = config.Bool(true)
		cfg.Engine.Enabled = config.Bool(false)
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	lv := new(slog.LevelVar)
	lv.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: lv})))

	slog.Info("triggersync starting",
		"config", configPath,
		"version", Version,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		Role:           role(cfg),
		SampleRatio:    cfg.Telemetry.TraceSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	application, err := app.New(cfg, app.WithLevelVar(lv), app.WithConfigPath(configPath))
	if err != nil {
		return err
	}

	printStartupSummary(cmd.OutOrStdout(), cfg, application)
	slog.Info("server ready; press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("goodbye")
	return nil
}

func printStartupSummary(w io.Writer, cfg *config.Config, a *app.App) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════════╗")
	fmt.Fprintln(w, "║       triggersync · startup summary       ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════════╣")
	printRow(w, "Bridge", orDisabled(a.BridgeAddr()))
	if cfg.Bridge.IsEnabled() {
		printRow(w, "Device", cfg.Bridge.DeviceAddr())
	}
	printRow(w, "API", orDisabled(a.APIAddr()))
	if cfg.Engine.IsEnabled() {
		dispatch := "on"
		if !cfg.Engine.Dispatching() {
			dispatch = "off (log only)"
		}
		printRow(w, "Dispatch", dispatch)
		printRow(w, "Exports", cfg.Export.Dir)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════════╝")
}

func printRow(w io.Writer, key, value string) {
	if len(value) > 25 {
		value = value[:22] + "…"
	}
	fmt.Fprintf(w, "║  %-12s : %-25s ║\n", key, value)
}

func orDisabled(s string) string {
	if s == "" {
		return "(disabled)"
	}
	return s
}

func role(cfg *config.Config) string {
	switch {
	case cfg.Bridge.IsEnabled() && cfg.Engine.IsEnabled():
		return observe.RoleBoth
	case cfg.Bridge.IsEnabled():
		return observe.RoleBridge
	default:
		return observe.RoleEngine
	}
}
