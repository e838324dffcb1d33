package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitProvider_RejectsSampleRatio(t *testing.T) {
	for _, r := range []float64{-0.1, 1.5} {
		if _, err := InitProvider(context.Background(), ProviderConfig{SampleRatio: r}); err == nil {
			t.Errorf("ratio %v: expected error", r)
		}
	}
}

// InitProvider registers a collector with the Prometheus default registry,
// so it can only succeed once per process.
func TestInitProvider(t *testing.T) {
	origTP, origMP, origProp := otel.GetTracerProvider(), otel.GetMeterProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		otel.SetMeterProvider(origMP)
		otel.SetTextMapPropagator(origProp)
	})

	shutdown, err := InitProvider(context.Background(), ProviderConfig{ServiceName: "panelai-test"})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}

	ctx, span := StartSpan(context.Background(), "probe")
	if !span.SpanContext().IsSampled() {
		t.Error("root spans should be sampled by default")
	}
	if CorrelationID(ctx) == "" {
		t.Error("expected a trace id")
	}
	span.End()

	if fields := otel.GetTextMapPropagator().Fields(); len(fields) == 0 || fields[0] != "traceparent" {
		t.Errorf("propagator fields = %v, want traceparent", fields)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
