package engine_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/triggersync/internal/bridge"
	"github.com/MrWong99/triggersync/internal/engine"
	"github.com/MrWong99/triggersync/pkg/marker"
)

// bridgeTo starts a bridge facade forwarding to deviceAddr and returns a
// client for it.
func bridgeTo(t *testing.T, deviceAddr string) *bridge.Client {
	t.Helper()
	m, _ := newTestMetrics(t)
	srv := bridge.NewServer(bridge.NewSender(deviceAddr, 300*time.Millisecond, bridge.WithMetrics(m)), bridge.Options{})
	mux := http.NewServeMux()
	srv.Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return bridge.NewClient(ts.URL, 2*time.Second)
}

func TestEngine_UnreachableDeviceMarksFailed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	dead := ln.Addr().String()
	ln.Close()

	e := newEngine(t, bridgeTo(t, dead))
	ctx := context.Background()
	if _, err := e.StartSession(ctx, "P-001", 1, false); err != nil {
		t.Fatalf("StartSession must not surface delivery errors: %v", err)
	}
	if _, err := e.MarkItemShown(ctx, marker.StageLLM, "A01"); err != nil {
		t.Fatalf("MarkItemShown: %v", err)
	}
	waitAll(t, e)

	for _, ev := range e.Snapshot().Events {
		if ev.Delivery != engine.DeliveryFailed {
			t.Errorf("event %d delivery = %q, want failed", ev.Seq, ev.Delivery)
		}
	}
}

func TestEngine_DeliversThroughBridge(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	frames := make(chan string, 8)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			buf := make([]byte, 64)
			n, _ := c.Read(buf)
			frames <- string(buf[:n])
			c.Close()
		}
	}()

	e := newEngine(t, bridgeTo(t, ln.Addr().String()))
	if _, err := e.StartSession(context.Background(), "P-001", 1, false); err != nil {
		t.Fatal(err)
	}
	waitAll(t, e)

	select {
	case f := <-frames:
		if f != "<TRIGGER>1</TRIGGER>" {
			t.Errorf("frame = %q", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("device received nothing")
	}
	if ev := e.Snapshot().Events[0]; ev.Delivery != engine.DeliveryDelivered {
		t.Errorf("delivery = %q, want delivered", ev.Delivery)
	}
}
