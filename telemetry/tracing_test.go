package telemetry

import (
	"context"
	"errors"
	"testing"
)

func TestSamplerRatio(t *testing.T) {
	tests := []struct {
		env  string
		want float64
	}{
		{"", 1},
		{"0.25", 0.25},
		{"1", 1},
		{"0", 1},
		{"1.5", 1},
		{"abc", 1},
	}
	for _, tt := range tests {
		t.Setenv("OTEL_TRACES_SAMPLER_ARG", tt.env)
		if got := samplerRatio(); got != tt.want {
			t.Errorf("samplerRatio(%q) = %v, want %v", tt.env, got, tt.want)
		}
	}
}

func TestInitTracingDisabledWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	shutdown, err := InitTracing("clip-tender", "test")
	if err != nil {
		t.Fatalf("InitTracing() error = %v", err)
	}
	shutdown()

	// the no-op provider still hands out usable spans
	ctx := WithCorrelation(context.Background(), "corr-1")
	_, span := StartSpan(ctx, "reconcile")
	EndSpan(span, errors.New("boom"))
}
