package observe

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const incomingTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"

type middlewareHarness struct {
	handler http.Handler
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter
}

// newHarness mounts a small mux behind Middleware.
func newHarness(t *testing.T) *middlewareHarness {
	t.Helper()
	m, reader := newTestMetrics(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/session/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Correlation", CorrelationID(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /fail", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, _ *http.Request) {
		conn, brw, err := http.NewResponseController(w).Hijack()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer conn.Close()
		_, _ = brw.WriteString("HTTP/1.1 101 Switching Protocols\r\nConnection: close\r\n\r\n")
		_ = brw.Flush()
	})

	return &middlewareHarness{handler: Middleware(m)(mux), reader: reader, spans: useTracer(t)}
}

func (h *middlewareHarness) durationPoints(t *testing.T) []metricdata.HistogramDataPoint[float64] {
	t.Helper()
	met := findMetric(collect(t, h.reader), "livementor.http.request.duration")
	if met == nil {
		t.Fatal("duration histogram missing")
	}
	return met.Data.(metricdata.Histogram[float64]).DataPoints
}

func TestMiddleware_RouteLabels(t *testing.T) {
	h := newHarness(t)

	for _, path := range []string{"/api/session/a", "/api/session/b", "/nope/1", "/nope/2"} {
		h.handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	counts := map[string]uint64{}
	for _, dp := range h.durationPoints(t) {
		route, _ := dp.Attributes.Value("route")
		counts[route.AsString()] += dp.Count
	}
	if len(counts) != 2 || counts["GET /api/session/{id}"] != 2 || counts[unmatchedRoute] != 2 {
		t.Errorf("route counts = %v", counts)
	}

	spans := h.spans.GetSpans()
	if len(spans) != 4 || spans[0].Name != "GET /api/session/{id}" || spans[2].Name != "HTTP GET" {
		t.Errorf("span names = %v", spans)
	}
}

func TestMiddleware_CorrelationID(t *testing.T) {
	h := newHarness(t)

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session/x", nil))
	cid := rec.Header().Get("X-Correlation-ID")
	if len(cid) != 32 || rec.Header().Get("X-Seen-Correlation") != cid {
		t.Errorf("correlation id %q not shared with handler (%q)", cid, rec.Header().Get("X-Seen-Correlation"))
	}

	req := httptest.NewRequest(http.MethodGet, "/api/session/x", nil)
	req.Header.Set("traceparent", "00-"+incomingTraceID+"-00f067aa0ba902b7-01")
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Correlation-ID"); got != incomingTraceID {
		t.Errorf("X-Correlation-ID = %q, want incoming trace %q", got, incomingTraceID)
	}
	if rec.Header().Get("traceparent") == "" {
		t.Error("traceparent not injected into the response")
	}
}

func TestMiddleware_ServerErrorMarksSpan(t *testing.T) {
	h := newHarness(t)

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/fail", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rec.Code)
	}

	span := h.spans.GetSpans()[0]
	if span.Status.Description != http.StatusText(http.StatusBadGateway) {
		t.Errorf("span status = %+v", span.Status)
	}
	var status int64
	for _, a := range span.Attributes {
		if a.Key == "http.response.status_code" {
			status = a.Value.AsInt64()
		}
	}
	if status != http.StatusBadGateway {
		t.Errorf("status attribute = %d", status)
	}
}

func TestMiddleware_Hijack(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.handler)
	t.Cleanup(srv.Close)

	conn, err := net.Dial("tcp", srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("GET /ws HTTP/1.1\r\nHost: x\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "HTTP/1.1 101 Switching Protocols\r\n" {
		t.Errorf("status line = %q", line)
	}
}
