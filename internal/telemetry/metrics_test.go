package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestGetMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	// instruments bind to the provider installed before first use
	otel.SetMeterProvider(provider)

	m := GetMetrics()
	require.Same(t, m, GetMetrics())

	ctx := context.Background()
	m.HandshakesTotal.Add(ctx, 2)
	m.HandshakeErrorsTotal.Add(ctx, 1)
	m.HandshakeDuration.Record(ctx, 12.5)
	m.HandshakesInFlight.Add(ctx, 1)
	m.SessionsResumedTotal.Add(ctx, 1)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Equal(t, meterName, rm.ScopeMetrics[0].Scope.Name)

	seen := map[string]bool{}
	for _, metric := range rm.ScopeMetrics[0].Metrics {
		seen[metric.Name] = true
	}

	for _, name := range []string{
		"tlslistener.handshakes.total",
		"tlslistener.handshakes.errors.total",
		"tlslistener.handshakes.duration",
		"tlslistener.handshakes.in_flight",
		"tlslistener.sessions.resumed.total",
	} {
		require.True(t, seen[name], "missing metric %s", name)
	}
}
