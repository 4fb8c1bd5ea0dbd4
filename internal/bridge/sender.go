// Package bridge forwards numeric trigger markers to the neurophysiology
// acquisition device.
//
// The device listens on a raw TCP port and understands one frame per
// connection: the ASCII text <TRIGGER>{code}</TRIGGER>. [Sender] opens a fresh
// connection for every marker, writes the frame and closes; nothing is read
// back. [Server] wraps the sender in the small HTTP facade the experiment
// page talks to and keeps an in-memory audit trail of forwarded markers.
// [Client] is the engine-side counterpart of that facade.
package bridge

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/triggersync/internal/observe"
)

// Frame returns the wire frame for code.
func Frame(code int) []byte {
	b := make([]byte, 0, 24)
	b = append(b, "<TRIGGER>"...)
	b = strconv.AppendInt(b, int64(code), 10)
	return append(b, "</TRIGGER>"...)
}

// connState is the per-request connection lifecycle. Each Send walks
// idle → connecting → connected → writing → closed, or ends in failed.
type connState string

const (
	stateIdle       connState = "idle"
	stateConnecting connState = "connecting"
	stateConnected  connState = "connected"
	stateWriting    connState = "writing"
	stateClosed     connState = "closed"
	stateFailed     connState = "failed"
)

// Sender writes trigger frames to the acquisition device. It holds no
// connection state; concurrent Sends use independent connections.
type Sender struct {
	addr    string
	timeout time.Duration
	metrics *observe.Metrics
	dialer  func(ctx context.Context, network, addr string) (net.Conn, error)
}

// SenderOption configures a [Sender].
type SenderOption func(*Sender)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) SenderOption {
	return func(s *Sender) { s.metrics = m }
}

// WithDialer replaces the TCP dialer, for tests.
func WithDialer(dial func(ctx context.Context, network, addr string) (net.Conn, error)) SenderOption {
	return func(s *Sender) { s.dialer = dial }
}

// NewSender returns a sender for the device at addr (host:port). The connect
// timeout also bounds the write.
func NewSender(addr string, connectTimeout time.Duration, opts ...SenderOption) *Sender {
	s := &Sender{addr: addr, timeout: connectTimeout}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.dialer == nil {
		d := &net.Dialer{Timeout: connectTimeout}
		s.dialer = d.DialContext
	}
	return s
}

// Send delivers one trigger frame. It returns nil once the frame was written
// and the connection closed cleanly.
func (s *Sender) Send(ctx context.Context, code int) (err error) {
	ctx, span := observe.StartSpan(ctx, "bridge.send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int("marker.code", code),
			attribute.String("device.addr", s.addr),
		),
	)
	defer span.End()

	log := observe.Logger(ctx).With("code", code, "device", s.addr)
	state := stateIdle
	move := func(next connState) {
		span.AddEvent(string(next))
		log.Debug("bridge: connection state", "from", state, "to", next)
		state = next
	}

	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			move(stateFailed)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.metrics.RecordTrigger(ctx, status, time.Since(start))
	}()

	move(stateConnecting)
	conn, err := s.dialer(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("bridge: connect %s: %w", s.addr, err)
	}
	move(stateConnected)

	if s.timeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.timeout))
	}
	move(stateWriting)
	if _, err := conn.Write(Frame(code)); err != nil {
		conn.Close()
		return fmt.Errorf("bridge: write trigger %d: %w", code, err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("bridge: close: %w", err)
	}
	move(stateClosed)
	return nil
}
