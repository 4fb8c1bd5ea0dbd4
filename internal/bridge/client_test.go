package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestClient_Dispatch(t *testing.T) {
	dev := &stubDevice{}
	s, h := newTestServer(dev)
	ts := httptest.NewServer(h)
	defer ts.Close()

	c := NewClient(ts.URL+"/", time.Second)
	if err := c.Dispatch(context.Background(), 203, "ANSWER_SUBMITTED", json.RawMessage(`{"correct":true}`)); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(dev.codes) != 1 || dev.codes[0] != 203 {
		t.Errorf("device codes = %v", dev.codes)
	}

	markers, err := c.Markers(context.Background())
	if err != nil {
		t.Fatalf("Markers: %v", err)
	}
	if markers.Total != 1 || markers.Markers[0].Name != "ANSWER_SUBMITTED" {
		t.Errorf("markers = %+v", markers)
	}
	if s.Audit().Len() != 1 {
		t.Errorf("audit len = %d", s.Audit().Len())
	}

	health, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Status != "running" || health.Device.Port != 1234 {
		t.Errorf("health = %+v", health)
	}
}

func TestClient_DispatchDeviceFailure(t *testing.T) {
	_, h := newTestServer(&stubDevice{err: errors.New("connection refused")})
	ts := httptest.NewServer(h)
	defer ts.Close()

	err := NewClient(ts.URL, time.Second).Dispatch(context.Background(), 1, "SESSION_START", nil)
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Dispatch error = %v, want device error", err)
	}
}

func TestClient_DispatchBridgeDown(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	if err := NewClient(url, 500*time.Millisecond).Dispatch(context.Background(), 1, "SESSION_START", nil); err == nil {
		t.Error("expected error when bridge is down")
	}
}

func TestClient_DispatchTimeout(t *testing.T) {
	block := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(block)

	start := time.Now()
	err := NewClient(ts.URL, 100*time.Millisecond).Dispatch(context.Background(), 1, "SESSION_START", nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("timeout not honoured: %s", time.Since(start))
	}
}
