package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"testing"
	"time"
)

func TestFrame(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{1, "<TRIGGER>1</TRIGGER>"},
		{103, "<TRIGGER>103</TRIGGER>"},
		{999, "<TRIGGER>999</TRIGGER>"},
	}
	for _, tt := range tests {
		if got := string(Frame(tt.code)); got != tt.want {
			t.Errorf("Frame(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestSender_WritesFrameAndCloses(t *testing.T) {
	dev := newFakeDevice(t)
	m, reader := newTestMetrics(t)
	s := NewSender(dev.addr(), time.Second, WithMetrics(m))

	if err := s.Send(context.Background(), 203); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got := dev.waitFrames(t, 1)
	if !slices.Equal(got, []string{"<TRIGGER>203</TRIGGER>"}) {
		t.Errorf("device received %q", got)
	}
	if n := triggerCount(t, reader, "ok"); n != 1 {
		t.Errorf("ok triggers = %d, want 1", n)
	}
}

func TestSender_UnreachableDevice(t *testing.T) {
	m, reader := newTestMetrics(t)
	s := NewSender(deadAddr(t), 500*time.Millisecond, WithMetrics(m))

	err := s.Send(context.Background(), 1)
	if err == nil {
		t.Fatal("expected error for unreachable device")
	}
	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		t.Errorf("error should wrap *net.OpError, got %T: %v", err, err)
	}
	if n := triggerCount(t, reader, "error"); n != 1 {
		t.Errorf("error triggers = %d, want 1", n)
	}
}

func TestSender_DialerError(t *testing.T) {
	boom := errors.New("boom")
	m, _ := newTestMetrics(t)
	s := NewSender("device:1234", time.Second, WithMetrics(m),
		WithDialer(func(context.Context, string, string) (net.Conn, error) { return nil, boom }))

	if err := s.Send(context.Background(), 5); !errors.Is(err, boom) {
		t.Errorf("Send error = %v, want wrapping %v", err, boom)
	}
}

func TestSender_ConcurrentSendsUseSeparateConnections(t *testing.T) {
	dev := newFakeDevice(t)
	m, _ := newTestMetrics(t)
	s := NewSender(dev.addr(), time.Second, WithMetrics(m))

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Go(func() {
			errs[i] = s.Send(context.Background(), 101+i)
		})
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("send %d: %v", i, err)
		}
	}

	got := dev.waitFrames(t, n)
	want := make([]string, n)
	for i := range n {
		want[i] = fmt.Sprintf("<TRIGGER>%d</TRIGGER>", 101+i)
	}
	slices.Sort(got)
	slices.Sort(want)
	if !slices.Equal(got, want) {
		t.Errorf("frames = %v, want %v", got, want)
	}
}
