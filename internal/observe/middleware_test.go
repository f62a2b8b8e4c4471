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

// testSetup installs an in-memory tracer globally, so tests using it must
// not run in parallel.
func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return m, reader, exp
}

// controlMux mimics the shape of the session API.
func controlMux(gotCID *string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /session/start", func(w http.ResponseWriter, r *http.Request) {
		*gotCID = CorrelationID(r.Context())
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("GET /session/{part}", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no note available", http.StatusNotFound)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {})
	return mux
}

func TestMiddleware(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		path        string
		traceparent string
		wantStatus  int
		wantRoute   string
	}{
		{name: "start session", method: http.MethodPost, path: "/session/start", wantStatus: http.StatusAccepted, wantRoute: "POST /session/start"},
		{name: "wildcard route", method: http.MethodGet, path: "/session/note", wantStatus: http.StatusNotFound, wantRoute: "GET /session/{part}"},
		{name: "probe", method: http.MethodGet, path: "/healthz", wantStatus: http.StatusOK, wantRoute: "GET /healthz"},
		{name: "unknown path", method: http.MethodGet, path: "/admin", wantStatus: http.StatusNotFound, wantRoute: "unmatched"},
		{
			name:        "continues caller trace",
			method:      http.MethodPost,
			path:        "/session/start",
			traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
			wantStatus:  http.StatusAccepted,
			wantRoute:   "POST /session/start",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, reader, exp := testSetup(t)
			var gotCID string
			handler := Middleware(m)(controlMux(&gotCID))

			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.traceparent != "" {
				req.Header.Set("traceparent", tt.traceparent)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			cid := rec.Header().Get("X-Correlation-ID")
			if len(cid) != 32 {
				t.Errorf("X-Correlation-ID = %q, want a 32-char trace ID", cid)
			}
			if tt.traceparent != "" && cid != "4bf92f3577b34da6a3ce929d0e0e4736" {
				t.Errorf("X-Correlation-ID = %q, want the caller's trace ID", cid)
			}
			if gotCID != "" && gotCID != cid {
				t.Errorf("handler saw trace %q, header says %q", gotCID, cid)
			}

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("spans = %d, want 1", len(spans))
			}
			if spans[0].Name != tt.wantRoute {
				t.Errorf("span name = %q, want %q", spans[0].Name, tt.wantRoute)
			}
			var gotStatus int64
			for _, a := range spans[0].Attributes {
				if a.Key == "http.response.status_code" {
					gotStatus = a.Value.AsInt64()
				}
			}
			if gotStatus != int64(tt.wantStatus) {
				t.Errorf("span status attribute = %d, want %d", gotStatus, tt.wantStatus)
			}

			var rm metricdata.ResourceMetrics
			if err := reader.Collect(context.Background(), &rm); err != nil {
				t.Fatalf("Collect: %v", err)
			}
			met := findMetric(rm, "medscribe.http.request.duration")
			if met == nil {
				t.Fatal("duration metric not found")
			}
			hist := met.Data.(metricdata.Histogram[float64])
			if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
				t.Fatalf("data points = %+v", hist.DataPoints)
			}
			route, _ := hist.DataPoints[0].Attributes.Value(attribute.Key("route"))
			if route.AsString() != tt.wantRoute {
				t.Errorf("route attribute = %q, want %q", route.AsString(), tt.wantRoute)
			}
		})
	}
}

func TestStatusRecorder_Unwrap(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, statusCode: http.StatusOK}
	if err := http.NewResponseController(sr).Flush(); err != nil {
		t.Errorf("Flush through ResponseController: %v", err)
	}
	if !rec.Flushed {
		t.Error("underlying recorder was not flushed")
	}
}
