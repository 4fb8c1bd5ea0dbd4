package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/triggersync/internal/config"
)

const (
	baseYAML = `
server:
  log_level: info
bridge:
  device_port: 1234
`
	quietDispatchYAML = `
server:
  log_level: debug
bridge:
  device_port: 1234
engine:
  dispatch_enabled: false
`
	badLevelYAML = `
server:
  log_level: bananas
`
)

type change struct{ old, new *config.Config }

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// watch writes baseYAML to a fresh config file and watches it. Every
// callback is forwarded on the returned channel.
func watch(t *testing.T) (string, *config.Watcher, <-chan change) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, baseYAML)

	changes := make(chan change, 4)
	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		changes <- change{old, new}
	}, config.WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return path, w, changes
}

func awaitChange(t *testing.T, changes <-chan change) change {
	t.Helper()
	select {
	case c := <-changes:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("no reload within 3s")
		return change{}
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	_, w, _ := watch(t)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() = nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo || cfg.Bridge.DevicePort != 1234 {
		t.Errorf("Current() = %+v / %+v", cfg.Server, cfg.Bridge)
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	t.Parallel()
	path, w, changes := watch(t)

	writeFile(t, path, quietDispatchYAML)
	c := awaitChange(t, changes)

	if c.old.Server.LogLevel != config.LogInfo || c.new.Server.LogLevel != config.LogDebug {
		t.Errorf("log level %q -> %q, want info -> debug", c.old.Server.LogLevel, c.new.Server.LogLevel)
	}
	d := config.Diff(c.old, c.new)
	if !d.DispatchChanged || d.NewDispatch {
		t.Errorf("Diff = %+v, want dispatch switched off", d)
	}
	if w.Current() != c.new {
		t.Error("Current() does not return the reloaded config")
	}
}

func TestWatcher_ReloadsOnRenameIntoPlace(t *testing.T) {
	t.Parallel()
	path, _, changes := watch(t)

	tmp := path + ".swp"
	writeFile(t, tmp, quietDispatchYAML)
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}

	if c := awaitChange(t, changes); c.new.Engine.Dispatching() {
		t.Error("reloaded config still dispatches")
	}
}

func TestWatcher_NoCallback(t *testing.T) {
	tests := []struct {
		name  string
		file  string
		write string
	}{
		{"invalid content", "config.yaml", badLevelYAML},
		{"unchanged content", "config.yaml", baseYAML},
		{"sibling file", "other.yaml", quietDispatchYAML},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path, w, changes := watch(t)

			writeFile(t, filepath.Join(filepath.Dir(path), tt.file), tt.write)

			select {
			case <-changes:
				t.Fatal("callback fired")
			case <-time.After(300 * time.Millisecond):
			}
			if got := w.Current().Server.LogLevel; got != config.LogInfo {
				t.Errorf("Current() log level = %q, want info", got)
			}
		})
	}
}

func TestWatcher_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("NewWatcher on a missing file returned nil error")
	}
}

func TestWatcher_StopTwice(t *testing.T) {
	t.Parallel()
	_, w, _ := watch(t)
	w.Stop()
	w.Stop()
}
