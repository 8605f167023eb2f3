package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/sigmapli/cadastro-auth/internal/infra/config"
)

func newRecordedRouter(t *testing.T, rate float64) (*gin.Engine, *tracetest.SpanRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	recorder := tracetest.NewSpanRecorder()
	tp := newTracerProvider(config.TelemetrySettings{SamplingRate: rate}, nil, sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	r := gin.New()
	r.Use(tp.Middleware())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r, recorder
}

func TestMiddlewareRecordsServerSpan(t *testing.T) {
	r, recorder := newRecordedRouter(t, 1)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	if spans[0].SpanKind() != trace.SpanKindServer {
		t.Fatalf("expected server span, got %v", spans[0].SpanKind())
	}
}

func TestMiddlewareJoinsIncomingTrace(t *testing.T) {
	r, recorder := newRecordedRouter(t, 0)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	r.ServeHTTP(httptest.NewRecorder(), req)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("sampled parent must be followed even at rate 0, got %d spans", len(spans))
	}
	if got := spans[0].SpanContext().TraceID().String(); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("expected parent trace id, got %s", got)
	}
}

func TestMiddlewareHonoursSamplingRate(t *testing.T) {
	r, recorder := newRecordedRouter(t, 0)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if n := len(recorder.Ended()); n != 0 {
		t.Fatalf("expected no sampled spans at rate 0, got %d", n)
	}
}
