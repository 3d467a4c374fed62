package tracing

import (
	"context"
	"testing"
	"time"
)

func TestNewTracerProvider_Disabled(t *testing.T) {
	provider, err := NewTracerProvider(context.Background(), TracerConfig{ServiceName: "batchsync"})
	if err != nil {
		t.Fatalf("expected no error for disabled tracing, got: %v", err)
	}
	_, span := provider.Tracer("runner").Start(context.Background(), "probe")
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := provider.ForceFlush(ctx); err != nil {
		t.Fatalf("ForceFlush() error = %v", err)
	}
	if err := provider.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestNewTracerProvider_ValidationErrors(t *testing.T) {
	tests := []struct {
		name        string
		config      TracerConfig
		expectedErr string
	}{
		{
			name:        "missing service name",
			config:      TracerConfig{Enabled: true, Endpoint: "localhost:4317"},
			expectedErr: "service name is required",
		},
		{
			name:        "missing endpoint",
			config:      TracerConfig{Enabled: true, ServiceName: "batchsync"},
			expectedErr: "OTLP endpoint is required",
		},
		{
			name:        "negative sample rate",
			config:      TracerConfig{Enabled: true, ServiceName: "batchsync", Endpoint: "localhost:4317", SampleRate: -0.1},
			expectedErr: "sample rate must be between 0 and 1",
		},
		{
			name:        "sample rate above one",
			config:      TracerConfig{Enabled: true, ServiceName: "batchsync", Endpoint: "localhost:4317", SampleRate: 1.5},
			expectedErr: "sample rate must be between 0 and 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTracerProvider(context.Background(), tt.config)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if err.Error() != tt.expectedErr {
				t.Fatalf("expected error %q, got %q", tt.expectedErr, err.Error())
			}
		})
	}
}

func TestTracerProvider_NilProviderLifecycle(t *testing.T) {
	tp := &TracerProvider{}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush() error = %v", err)
	}
}
