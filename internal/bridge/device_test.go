package bridge

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/triggersync/internal/observe"
)

// fakeDevice is an in-process acquisition device: it accepts connections
// and reports the bytes received on each once the peer closes.
type fakeDevice struct {
	ln     net.Listener
	frames chan string
}

func newFakeDevice(t *testing.T) *fakeDevice {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	d := &fakeDevice{ln: ln, frames: make(chan string, 128)}
	go d.serve()
	t.Cleanup(func() { d.ln.Close() })
	return d
}

func (d *fakeDevice) serve() {
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			b, _ := io.ReadAll(conn)
			d.frames <- string(b)
		}()
	}
}

func (d *fakeDevice) addr() string { return d.ln.Addr().String() }

// waitFrames returns the next n frames, failing the test after 3s.
func (d *fakeDevice) waitFrames(t *testing.T, n int) []string {
	t.Helper()
	out := make([]string, 0, n)
	timeout := time.After(3 * time.Second)
	for len(out) < n {
		select {
		case f := <-d.frames:
			out = append(out, f)
		case <-timeout:
			t.Fatalf("received %d of %d frames", len(out), n)
		}
	}
	return out
}

// deadAddr returns a loopback address with nothing listening on it.
func deadAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// triggerCount sums triggersync.bridge.triggers points with the given status.
func triggerCount(t *testing.T, reader *sdkmetric.ManualReader, status string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "triggersync.bridge.triggers" {
				continue
			}
			sum := m.Data.(metricdata.Sum[int64])
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value("status"); ok && v.AsString() == status {
					return dp.Value
				}
			}
		}
	}
	return 0
}
