package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type harness struct {
	metrics *Metrics
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	spans := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(spans))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	return &harness{metrics: m, reader: reader, spans: spans}
}

// serve routes one request through the middleware in front of a mux that
// mirrors the marker and session endpoints.
func (h *harness) serve(req *http.Request) (*httptest.ResponseRecorder, string) {
	var cid string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /marker", func(w http.ResponseWriter, r *http.Request) {
		cid = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /session/start", func(w http.ResponseWriter, r *http.Request) {
		cid = CorrelationID(r.Context())
		w.WriteHeader(http.StatusConflict)
	})
	mux.HandleFunc("GET /items/{id}", func(w http.ResponseWriter, r *http.Request) {
		cid = CorrelationID(r.Context())
	})
	rec := httptest.NewRecorder()
	Middleware(h.metrics)(mux).ServeHTTP(rec, req)
	return rec, cid
}

func (h *harness) durations(t *testing.T) []metricdata.HistogramDataPoint[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "triggersync.http.request.duration")
	if met == nil {
		t.Fatal("request duration metric not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("request duration is %T, want histogram", met.Data)
	}
	return hist.DataPoints
}

func TestMiddleware_Requests(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		target      string
		wantStatus  int
		wantPattern string
	}{
		{"marker", http.MethodPost, "/marker", http.StatusOK, "POST /marker"},
		{"conflict", http.MethodPost, "/session/start", http.StatusConflict, "POST /session/start"},
		{"pattern", http.MethodGet, "/items/q12", http.StatusOK, "GET /items/{id}"},
		{"unmatched", http.MethodGet, "/nowhere", http.StatusNotFound, "/nowhere"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			rec, cid := h.serve(httptest.NewRequest(tt.method, tt.target, nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("X-Correlation-ID"); len(got) != 32 {
				t.Errorf("X-Correlation-ID = %q, want a 32 char trace id", got)
			} else if cid != "" && cid != got {
				t.Errorf("handler saw correlation id %q, header has %q", cid, got)
			}

			spans := h.spans.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("spans = %d, want 1", len(spans))
			}
			if want := "HTTP " + tt.method + " " + tt.target; spans[0].Name != want {
				t.Errorf("span name = %q, want %q", spans[0].Name, want)
			}
			var status int64
			for _, a := range spans[0].Attributes {
				if a.Key == "http.response.status_code" {
					status = a.Value.AsInt64()
				}
			}
			if status != int64(tt.wantStatus) {
				t.Errorf("span status attribute = %d, want %d", status, tt.wantStatus)
			}

			dps := h.durations(t)
			if len(dps) != 1 || dps[0].Count != 1 {
				t.Fatalf("duration points = %+v, want one sample", dps)
			}
			path, _ := dps[0].Attributes.Value(attribute.Key("path"))
			if path.AsString() != tt.wantPattern {
				t.Errorf("path attribute = %q, want %q", path.AsString(), tt.wantPattern)
			}
			method, _ := dps[0].Attributes.Value(attribute.Key("method"))
			if method.AsString() != tt.method {
				t.Errorf("method attribute = %q, want %q", method.AsString(), tt.method)
			}
		})
	}
}

func TestMiddleware_PatternBoundsCardinality(t *testing.T) {
	h := newHarness(t)
	for _, id := range []string{"q1", "q12", "q30"} {
		h.serve(httptest.NewRequest(http.MethodGet, "/items/"+id, nil))
	}
	dps := h.durations(t)
	if len(dps) != 1 {
		t.Fatalf("duration points = %d, want 1", len(dps))
	}
	if dps[0].Count != 3 {
		t.Errorf("samples = %d, want 3", dps[0].Count)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	const traceID = "0af7651916cd43dd8448eb211c80319c"
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodPost, "/marker", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-b7ad6b7169203331-01")

	rec, cid := h.serve(req)

	if cid != traceID {
		t.Errorf("correlation id = %q, want %q", cid, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
	if got := rec.Header().Get("traceparent"); got == "" {
		t.Error("response carries no traceparent")
	}
}

func TestResponseCapture_Unwrap(t *testing.T) {
	rec := httptest.NewRecorder()
	c := &responseCapture{ResponseWriter: rec, status: http.StatusOK}
	if c.Unwrap() != rec {
		t.Error("Unwrap did not expose the wrapped writer")
	}
}

func TestRoute(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/items/q7", nil)
	if got := route(r); got != "/items/q7" {
		t.Errorf("unmatched route = %q, want raw path", got)
	}
	r.Pattern = "GET /items/{id}"
	if got := route(r); got != "GET /items/{id}" {
		t.Errorf("matched route = %q, want pattern", got)
	}
}
