// Package app wires the triggersync subsystems into a running process.
//
// The App struct owns the full lifecycle: New binds the listeners and
// connects the bridge, the engine and the collaborator API, Run serves them
// until the context is done, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithDevice,
// WithDispatcher, WithMetrics). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/triggersync/internal/api"
	"github.com/MrWong99/triggersync/internal/bridge"
	"github.com/MrWong99/triggersync/internal/config"
	"github.com/MrWong99/triggersync/internal/cors"
	"github.com/MrWong99/triggersync/internal/engine"
	"github.com/MrWong99/triggersync/internal/export"
	"github.com/MrWong99/triggersync/internal/health"
	"github.com/MrWong99/triggersync/internal/observe"
)

// DefaultShutdownTimeout bounds the ordered shutdown started when Run's
// context is done.
const DefaultShutdownTimeout = 15 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg        *config.Config
	configPath string
	level      *slog.LevelVar
	metrics    *observe.Metrics
	timeout    time.Duration

	device     bridge.Device
	dispatcher engine.Dispatcher

	// Subsystems, nil when disabled by config.
	bridge *bridge.Server
	eng    *engine.Engine
	exp    *export.Exporter

	bridgeSrv *listener
	apiSrv    *listener

	stopOnce sync.Once
	stopErr  error
}

// listener is an HTTP server bound to its socket. cancel ends the base
// context of every request, which closes hijacked WebSocket connections.
type listener struct {
	name   string
	srv    *http.Server
	ln     net.Listener
	cancel context.CancelFunc
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDevice replaces the TCP sender behind the bridge.
func WithDevice(d bridge.Device) Option {
	return func(a *App) { a.device = d }
}

// WithDispatcher replaces the HTTP client the engine dispatches through.
func WithDispatcher(d engine.Dispatcher) Option {
	return func(a *App) { a.dispatcher = d }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets config reloads change the log level of the handler
// built on lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithConfigPath makes Run watch path and apply hot-reloadable changes.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithShutdownTimeout overrides [DefaultShutdownTimeout].
func WithShutdownTimeout(d time.Duration) Option {
	return func(a *App) { a.timeout = d }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. It binds both listeners synchronously so
// that address conflicts surface before Run, and so that [App.BridgeAddr]
// and [App.APIAddr] are valid immediately.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, timeout: DefaultShutdownTimeout}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Trigger bridge ────────────────────────────────────────────────
	if cfg.Bridge.IsEnabled() {
		if err := a.initBridge(); err != nil {
			return nil, fmt.Errorf("app: init bridge: %w", err)
		}
	}

	// ── 2. Engine + collaborator API ─────────────────────────────────────
	if cfg.Engine.IsEnabled() {
		if err := a.initEngine(); err != nil {
			a.closeListeners()
			return nil, fmt.Errorf("app: init engine: %w", err)
		}
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initBridge() error {
	bc := a.cfg.Bridge
	if a.device == nil {
		a.device = bridge.NewSender(bc.DeviceAddr(), bc.ConnectTimeout, bridge.WithMetrics(a.metrics))
	}

	ln, err := net.Listen("tcp", bc.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", bc.ListenAddr, err)
	}

	a.bridge = bridge.NewServer(a.device, bridge.Options{
		DeviceHost: bc.DeviceHost,
		DevicePort: bc.DevicePort,
		ListenPort: ln.Addr().(*net.TCPAddr).Port,
	})

	var checks []health.Checker
	if bc.ProbeDevice {
		checks = append(checks, health.DialCheck("device", bc.DeviceAddr(), bc.ConnectTimeout))
	}

	mux := http.NewServeMux()
	a.bridge.Register(mux)
	health.New(checks...).Register(mux)
	mux.Handle("GET /metrics", observe.Handler())

	a.bridgeSrv = a.newListener("bridge", ln, mux, nil)
	return nil
}

func (a *App) initEngine() error {
	ec := a.cfg.Engine
	var checks []health.Checker
	if a.dispatcher == nil {
		url := ec.BridgeURL
		if a.bridgeSrv != nil {
			// Co-located bridge: dispatch to the socket actually bound.
			url = "http://" + a.bridgeSrv.addr()
		}
		client := bridge.NewClient(url, ec.RequestTimeout)
		a.dispatcher = client
		checks = append(checks, health.Checker{
			Name: "bridge",
			Check: func(ctx context.Context) error {
				_, err := client.Health(ctx)
				return err
			},
		})
	}

	a.eng = engine.New(a.dispatcher,
		engine.WithMetrics(a.metrics),
		engine.WithDispatchEnabled(ec.Dispatching()),
	)
	a.exp = export.NewExporter(a.eng)

	ln, err := net.Listen("tcp", a.cfg.API.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.API.ListenAddr, err)
	}

	mux := http.NewServeMux()
	api.New(a.eng, a.exp, api.Options{
		ExportDir:      a.cfg.Export.Dir,
		AllowedOrigins: a.cfg.API.AllowedOrigins,
	}).Register(mux)
	health.New(checks...).Register(mux)
	if a.bridgeSrv == nil {
		mux.Handle("GET /metrics", observe.Handler())
	}

	a.apiSrv = a.newListener("api", ln, mux, a.cfg.API.AllowedOrigins)
	return nil
}

func (a *App) newListener(name string, ln net.Listener, mux *http.ServeMux, origins []string) *listener {
	var h http.Handler = mux
	h = cors.Middleware(origins)(h)
	h = observe.Middleware(a.metrics)(h)

	base, cancel := context.WithCancel(context.Background())
	return &listener{
		name:   name,
		ln:     ln,
		cancel: cancel,
		srv: &http.Server{
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return base },
		},
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Engine returns the engine, or nil when disabled.
func (a *App) Engine() *engine.Engine { return a.eng }

// Bridge returns the bridge server, or nil when disabled.
func (a *App) Bridge() *bridge.Server { return a.bridge }

// BridgeAddr returns the bound bridge address, or "" when disabled.
func (a *App) BridgeAddr() string { return a.bridgeSrv.addr() }

// APIAddr returns the bound API address, or "" when disabled.
func (a *App) APIAddr() string { return a.apiSrv.addr() }

// stop shuts the server down gracefully and releases the socket even when
// Serve was never called.
func (l *listener) stop(ctx context.Context) error {
	err := l.srv.Shutdown(ctx)
	l.cancel()
	_ = l.ln.Close()
	if err != nil {
		return fmt.Errorf("%s server: %w", l.name, err)
	}
	return nil
}

func (l *listener) addr() string {
	if l == nil {
		return ""
	}
	return l.ln.Addr().String()
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves every enabled listener and, when a config path was given,
// watches it for hot-reloadable changes. It blocks until ctx is done, then
// shuts down in order and returns nil, or returns the first serve error.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, l := range []*listener{a.bridgeSrv, a.apiSrv} {
		if l == nil {
			continue
		}
		g.Go(func() error {
			slog.Info("app: listening", "server", l.name, "addr", l.addr())
			if err := l.srv.Serve(l.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: %s server: %w", l.name, err)
			}
			return nil
		})
	}

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.Reload)
		if err != nil {
			slog.Warn("app: config hot reload disabled", "path", a.configPath, "err", err)
		} else {
			g.Go(func() error {
				<-gctx.Done()
				w.Stop()
				return nil
			})
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		return a.Shutdown(sctx)
	})

	slog.Info("app running",
		"bridge", a.BridgeAddr(),
		"api", a.APIAddr(),
		"dispatch", a.eng != nil && a.eng.DispatchEnabled(),
	)
	return g.Wait()
}

// Reload applies the hot-reloadable parts of a config change and logs the
// sections that need a restart. It is the config watcher's callback.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.DispatchChanged && a.eng != nil {
		a.eng.SetDispatchEnabled(d.NewDispatch)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("app: config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the collaborator API first so no new events arrive, waits
// for in-flight marker dispatches, then stops the bridge that serves them
// and logs its summary. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		slog.Info("shutting down")
		var errs []error

		if a.apiSrv != nil {
			if err := a.apiSrv.stop(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if a.eng != nil {
			if err := a.eng.Close(ctx); err != nil {
				slog.Warn("app: marker dispatches still in flight at shutdown", "err", err)
				errs = append(errs, err)
			}
		}
		if a.bridgeSrv != nil {
			if err := a.bridgeSrv.stop(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if a.bridge != nil {
			a.bridge.LogSummary()
		}

		a.stopErr = errors.Join(errs...)
		slog.Info("shutdown complete")
	})
	return a.stopErr
}

// closeListeners releases sockets bound by a partially initialised App.
func (a *App) closeListeners() {
	for _, l := range []*listener{a.bridgeSrv, a.apiSrv} {
		if l != nil {
			l.cancel()
			_ = l.ln.Close()
		}
	}
}
