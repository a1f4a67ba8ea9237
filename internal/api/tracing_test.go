package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cannaai/pixelprep/internal/pipeline"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracingNamesSpansByRoute(t *testing.T) {
	ts := newTestServer(t, pipeline.DefaultLimits())
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(t.Context()) })
	ts.server.tracer = provider.Tracer("test")

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/0123456789abcdef0123456789abcdef", nil)
	req.Header.Set("X-User-ID", "grower-3")
	if rec := ts.do(req); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name() != "GET /v1/jobs/{id}" {
		t.Fatalf("unexpected span name %q", span.Name())
	}
	if span.Status().Code == codes.Error {
		t.Fatal("4xx responses must not mark the span failed")
	}

	attrs := map[string]any{}
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	if attrs["http.response.status_code"] != int64(http.StatusNotFound) {
		t.Fatalf("unexpected status attribute %v", attrs["http.response.status_code"])
	}
	if attrs["pixelprep.user_id"] != "grower-3" {
		t.Fatalf("unexpected user attribute %v", attrs["pixelprep.user_id"])
	}
}
