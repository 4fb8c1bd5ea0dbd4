// Package observe provides application-wide observability primitives for
// triggersync: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus via [InitProvider]; [Handler] serves the scrape endpoint. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all triggersync metrics.
const meterName = "github.com/MrWong99/triggersync"

// Marker delivery outcomes used as the "outcome" attribute.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Engine ---

	// EventsRecorded counts event log appends. Attribute: "event".
	EventsRecorded metric.Int64Counter

	// AnswersSubmitted counts answer records. Attributes: "stage", "correct".
	AnswersSubmitted metric.Int64Counter

	// MarkersDispatched counts marker dispatches started by the engine.
	MarkersDispatched metric.Int64Counter

	// MarkerOutcomes counts resolved dispatches. Attribute: "outcome".
	MarkerOutcomes metric.Int64Counter

	// MarkersInFlight tracks dispatches that have not resolved yet.
	MarkersInFlight metric.Int64UpDownCounter

	// DispatchDuration tracks the time from dispatch start to resolution.
	DispatchDuration metric.Float64Histogram

	// ActiveSessions is 1 while a session is live.
	ActiveSessions metric.Int64UpDownCounter

	// --- Bridge ---

	// BridgeTriggers counts device write attempts. Attribute: "status".
	BridgeTriggers metric.Int64Counter

	// BridgeWriteDuration tracks connect + write + close latency.
	BridgeWriteDuration metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// "method", "path".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. Trigger writes on a
// healthy loopback link land in the first buckets.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.EventsRecorded, err = m.Int64Counter("triggersync.events.recorded",
		metric.WithDescription("Total event log entries appended, by event name."),
	); err != nil {
		return nil, err
	}
	if met.AnswersSubmitted, err = m.Int64Counter("triggersync.answers.submitted",
		metric.WithDescription("Total answers submitted, by stage and correctness."),
	); err != nil {
		return nil, err
	}
	if met.MarkersDispatched, err = m.Int64Counter("triggersync.marker.dispatched",
		metric.WithDescription("Total marker dispatches issued by the engine."),
	); err != nil {
		return nil, err
	}
	if met.MarkerOutcomes, err = m.Int64Counter("triggersync.marker.outcomes",
		metric.WithDescription("Total resolved marker dispatches, by outcome."),
	); err != nil {
		return nil, err
	}
	if met.MarkersInFlight, err = m.Int64UpDownCounter("triggersync.marker.inflight",
		metric.WithDescription("Number of marker dispatches not yet resolved."),
	); err != nil {
		return nil, err
	}
	if met.DispatchDuration, err = m.Float64Histogram("triggersync.marker.dispatch.duration",
		metric.WithDescription("Latency from marker dispatch to resolution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("triggersync.active_sessions",
		metric.WithDescription("Number of live experiment sessions (0 or 1)."),
	); err != nil {
		return nil, err
	}

	if met.BridgeTriggers, err = m.Int64Counter("triggersync.bridge.triggers",
		metric.WithDescription("Total trigger frames attempted against the device, by status."),
	); err != nil {
		return nil, err
	}
	if met.BridgeWriteDuration, err = m.Float64Histogram("triggersync.bridge.write.duration",
		metric.WithDescription("Latency of connect, write and close against the device."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("triggersync.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordEvent counts one event log append.
func (m *Metrics) RecordEvent(ctx context.Context, name string) {
	m.EventsRecorded.Add(ctx, 1, metric.WithAttributes(attribute.String("event", name)))
}

// RecordAnswer counts one submitted answer.
func (m *Metrics) RecordAnswer(ctx context.Context, stage string, correct bool) {
	m.AnswersSubmitted.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.Bool("correct", correct),
		),
	)
}

// DispatchStarted records the start of a marker dispatch.
func (m *Metrics) DispatchStarted(ctx context.Context) {
	m.MarkersDispatched.Add(ctx, 1)
	m.MarkersInFlight.Add(ctx, 1)
}

// DispatchResolved records the outcome of a marker dispatch started with
// [Metrics.DispatchStarted].
func (m *Metrics) DispatchResolved(ctx context.Context, outcome string, d time.Duration) {
	m.MarkersInFlight.Add(ctx, -1)
	m.MarkerOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.DispatchDuration.Record(ctx, d.Seconds())
}

// RecordTrigger records one device write attempt made by the bridge.
func (m *Metrics) RecordTrigger(ctx context.Context, status string, d time.Duration) {
	m.BridgeTriggers.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.BridgeWriteDuration.Record(ctx, d.Seconds())
}
