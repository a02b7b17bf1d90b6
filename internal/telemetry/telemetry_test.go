package telemetry

import (
	"context"
	"testing"
)

func TestInitTracerDisabled(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "")
	if err != nil {
		t.Fatalf("InitTracer failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("No-op shutdown returned %v", err)
	}
	_, span := Tracer().Start(context.Background(), "sample")
	span.End()
}

func TestInitTracerEndpoint(t *testing.T) {
	ctx := context.Background()
	shutdown, err := InitTracer(ctx, "http://127.0.0.1:4318/v1/traces")
	if err != nil {
		t.Fatalf("InitTracer failed: %v", err)
	}
	// Nothing was exported, so shutdown does not need a collector
	if err := shutdown(ctx); err != nil {
		t.Errorf("Shutdown returned %v", err)
	}
}
