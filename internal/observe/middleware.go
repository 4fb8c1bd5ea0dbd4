package observe

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// responseCapture remembers the status a handler wrote. Handlers that never
// call WriteHeader leave it at 200.
type responseCapture struct {
	http.ResponseWriter
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

// Unwrap lets [http.ResponseController] reach the underlying writer, which
// the WebSocket upgrade needs for hijacking.
func (c *responseCapture) Unwrap() http.ResponseWriter {
	return c.ResponseWriter
}

// quietPaths are health and scrape endpoints logged at debug level only.
var quietPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// Middleware instruments every request served by the wrapped handler.
//
// A traceparent header sent by the stimulus client continues that trace;
// otherwise a new one starts. The trace id doubles as the correlation id
// and is echoed in X-Correlation-ID. Durations land in
// [Metrics.HTTPRequestDuration] keyed by method and mux pattern, never the
// raw path.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			began := time.Now()

			ctx, span := StartSpan(
				prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header)),
				"HTTP "+r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			r = r.WithContext(ctx)
			out := &responseCapture{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(out, r)

			took := time.Since(began)
			m.HTTPRequestDuration.Record(ctx, took.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("path", route(r)),
				),
			)
			span.SetAttributes(semconv.HTTPResponseStatusCode(out.status))

			level := slog.LevelInfo
			if quietPaths[r.URL.Path] {
				level = slog.LevelDebug
			}
			slog.LogAttrs(ctx, level, "http request",
				slog.String("trace_id", cid),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", out.status),
				slog.Duration("took", took),
			)
		})
	}
}

// route is the mux pattern that served r, or the raw path when nothing
// matched.
func route(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return r.URL.Path
}
