package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/triggersync/internal/bridge"
)

func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "triggersync", cmd.Use)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "config.yaml", configFlag.DefValue)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"serve", "bridge", "send", "codes", "version"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestCodesCommand_TSV(t *testing.T) {
	out, err := execute(t, context.Background(), "codes")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	assert.Equal(t, "Code\tEventName\tDescription", lines[0])
	assert.Equal(t, "1\tSESSION_START\tExperiment session start", lines[1])
	assert.Equal(t, "900\tEXPORT_START\tData export", lines[len(lines)-1])
}

func TestCodesCommand_JSON(t *testing.T) {
	out, err := execute(t, context.Background(), "codes", "--format", "json")
	require.NoError(t, err)

	var rows []codeJSON
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 21)
	assert.Equal(t, codeJSON{Code: 999, Name: "SESSION_END", Description: "Session end"}, rows[1])
	assert.True(t, rows[15].Parameter, "SEARCH_OFFSET is a parameter row")
}

func TestCodesCommand_InvalidFormat(t *testing.T) {
	_, err := execute(t, context.Background(), "codes", "--format", "xml")
	assert.ErrorContains(t, err, "invalid format")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, context.Background(), "version")
	require.NoError(t, err)

	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "triggersync", info["name"])
	assert.Equal(t, Version, info["version"])
}

type recordingDevice struct {
	mu    sync.Mutex
	codes []int
	err   error
}

func (d *recordingDevice) Send(_ context.Context, code int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.codes = append(d.codes, code)
	return nil
}

func newBridge(t *testing.T, dev bridge.Device) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	bridge.NewServer(dev, bridge.Options{DeviceHost: "127.0.0.1", DevicePort: 1234}).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSendCommand(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantOut  string
	}{
		{"by code", []string{"--code", "10"}, 10, "marker 10 (MANUAL) delivered"},
		{"by name", []string{"--name", "TASK_SEARCH_START"}, 30, "marker 30 (TASK_SEARCH_START) delivered"},
		{"code and name", []string{"--code", "77", "--name", "PROBE"}, 77, "marker 77 (PROBE) delivered"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &recordingDevice{}
			srv := newBridge(t, dev)

			out, err := execute(t, context.Background(), append([]string{"send", "--url", srv.URL}, tt.args...)...)
			require.NoError(t, err)
			assert.Contains(t, out, tt.wantOut)
			assert.Equal(t, []int{tt.wantCode}, dev.codes)
		})
	}
}

func TestSendCommand_Errors(t *testing.T) {
	srv := newBridge(t, &recordingDevice{err: errors.New("connection refused")})

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"nothing to send", []string{}, "one of --code or --name is required"},
		{"unknown name", []string{"--name", "NOPE"}, "unknown marker name"},
		{"parameter row", []string{"--name", "SEARCH_OFFSET"}, "unknown marker name"},
		{"negative code", []string{"--code", "-3"}, "must be positive"},
		{"device down", []string{"--code", "1"}, "connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, context.Background(), append([]string{"send", "--url", srv.URL}, tt.args...)...)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestServe_MissingConfig(t *testing.T) {
	_, err := execute(t, context.Background(), "serve", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "configs/example.yaml")
}

func TestServe_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bridge:\n  device_port: 70000\n"), 0o644))

	_, err := execute(t, context.Background(), "serve", "--config", path)
	assert.ErrorContains(t, err, "device_port")
}

func TestBridgeCommand_RunsUntilCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := "server:\n  log_level: warn\nbridge:\n  listen_addr: \"127.0.0.1:0\"\n"
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	out, err := execute(t, ctx, "bridge", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "startup summary")
	assert.Contains(t, out, "(disabled)", "the API is off in bridge mode")
}
