package telemetry

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"

	"caption/internal/config"
)

func TestSetupServesMetrics(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	shutdown, handler, err := Setup(ctx, config.Default().Telemetry, logger)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer shutdown(ctx)
	if handler == nil {
		t.Fatal("expected a metrics handler")
	}

	counter, err := otel.Meter("caption/test").Int64Counter("caption.test.events")
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	counter.Add(ctx, 3)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics returned %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "caption_test_events") {
		t.Fatalf("counter missing from exposition:\n%s", rec.Body.String())
	}
}

func TestStdoutTraces(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default().Telemetry
	cfg.StdoutTraces = true

	tp, err := initTracer(context.Background(), cfg, resource.Empty(), logger)
	if err != nil {
		t.Fatalf("init tracer: %v", err)
	}
	if tp == nil {
		t.Fatal("expected a tracer provider")
	}
	_ = tp.Shutdown(context.Background())

	cfg.StdoutTraces = false
	tp, err = initTracer(context.Background(), cfg, resource.Empty(), logger)
	if err != nil || tp != nil {
		t.Fatalf("expected no provider without exporters, got %v %v", tp, err)
	}
}
