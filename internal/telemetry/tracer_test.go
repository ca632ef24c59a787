// SPDX-License-Identifier: MIT

package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

func TestNewProviderDisabled(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{
		Enabled:     false,
		ServiceName: "ballast-test",
	})
	require.NoError(t, err)
	assert.Nil(t, provider.tp)
	assert.Nil(t, provider.mp)

	// The global tracer must be a noop.
	_, span := otel.Tracer("test").Start(context.Background(), "noop-check")
	assert.False(t, span.IsRecording())
	span.End()
}

func TestNewProviderRejectsUnknownExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{
		Enabled:     true,
		ServiceName: "ballast-test",
		Exporter:    "carrier-pigeon",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported exporter")
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestNewProviderGRPC(t *testing.T) {
	// Exporters dial lazily, so construction succeeds without a
	// collector listening.
	provider, err := NewProvider(context.Background(), Config{
		Enabled:        true,
		ServiceName:    "ballast-test",
		ServiceVersion: "0.0.0-test",
		Environment:    "test",
		Exporter:       "grpc",
		Endpoint:       "localhost:4317",
		SampleRate:     0.5,
	})
	require.NoError(t, err)
	require.NotNil(t, provider.tp)
	require.NotNil(t, provider.mp)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = provider.Shutdown(ctx)
	})

	// Globals are installed.
	_, span := otel.Tracer("test").Start(context.Background(), "real-span")
	span.End()
}

func TestNewProviderHTTP(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{
		Enabled:     true,
		ServiceName: "ballast-test",
		Exporter:    "http",
		Endpoint:    "localhost:4318",
		SampleRate:  1.0,
	})
	require.NoError(t, err)
	require.NotNil(t, provider.tp)
	require.NotNil(t, provider.mp)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = provider.Shutdown(ctx)
}

func TestShutdownOnNoopProvider(t *testing.T) {
	provider := &Provider{}
	assert.NoError(t, provider.Shutdown(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, provider.Shutdown(ctx), "noop shutdown ignores a dead context")
}

func TestShutdownIsConcurrencySafe(t *testing.T) {
	provider := &Provider{}

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			_ = provider.Shutdown(ctx)
		}()
	}
	wg.Wait()
}

func TestTracerFromGlobal(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	tracer := Tracer("ballast-test")
	require.NotNil(t, tracer)

	ctx, span := tracer.Start(context.Background(), "test-span")
	require.NotNil(t, span)
	span.End()

	assert.NotNil(t, trace.SpanFromContext(ctx))
}
