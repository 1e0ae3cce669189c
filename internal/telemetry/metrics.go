package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/tlslistener"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Accept metrics
	ConnectionsAcceptedTotal metric.Int64Counter
	AcceptErrorsTotal        metric.Int64Counter

	// Handshake metrics
	HandshakesTotal      metric.Int64Counter
	HandshakeErrorsTotal metric.Int64Counter
	HandshakeDuration    metric.Float64Histogram
	HandshakesAbandoned  metric.Int64Counter
	SessionsResumedTotal metric.Int64Counter
	HandshakesInFlight   metric.Int64UpDownCounter

	// Pool metrics
	AcceptRetriesTotal    metric.Int64Counter
	ConnectionsDispatched metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	// Accept metrics
	m.ConnectionsAcceptedTotal, _ = meter.Int64Counter(
		"tlslistener.connections.accepted.total",
		metric.WithDescription("Total number of raw transport connections accepted"),
		metric.WithUnit("{connection}"),
	)

	m.AcceptErrorsTotal, _ = meter.Int64Counter(
		"tlslistener.accept.errors.total",
		metric.WithDescription("Total number of transport level accept failures"),
		metric.WithUnit("{error}"),
	)

	m.AcceptRetriesTotal, _ = meter.Int64Counter(
		"tlslistener.accept.retries.total",
		metric.WithDescription("Total number of accept retries after temporary transport failures"),
		metric.WithUnit("{retry}"),
	)

	// Handshake metrics
	m.HandshakesTotal, _ = meter.Int64Counter(
		"tlslistener.handshakes.total",
		metric.WithDescription("Total number of completed TLS handshakes"),
		metric.WithUnit("{handshake}"),
	)

	m.HandshakeErrorsTotal, _ = meter.Int64Counter(
		"tlslistener.handshakes.errors.total",
		metric.WithDescription("Total number of failed TLS handshakes"),
		metric.WithUnit("{error}"),
	)

	m.HandshakeDuration, _ = meter.Float64Histogram(
		"tlslistener.handshakes.duration",
		metric.WithDescription("Duration of TLS handshakes"),
		metric.WithUnit("ms"),
	)

	m.HandshakesAbandoned, _ = meter.Int64Counter(
		"tlslistener.handshakes.abandoned.total",
		metric.WithDescription("Total number of handshakes abandoned by the caller"),
		metric.WithUnit("{handshake}"),
	)

	m.SessionsResumedTotal, _ = meter.Int64Counter(
		"tlslistener.sessions.resumed.total",
		metric.WithDescription("Total number of handshakes that resumed a previous session"),
		metric.WithUnit("{session}"),
	)

	m.HandshakesInFlight, _ = meter.Int64UpDownCounter(
		"tlslistener.handshakes.in_flight",
		metric.WithDescription("Number of handshakes currently in progress"),
		metric.WithUnit("{handshake}"),
	)

	m.ConnectionsDispatched, _ = meter.Int64Counter(
		"tlslistener.pool.dispatched.total",
		metric.WithDescription("Total number of negotiated connections handed to the pool consumer"),
		metric.WithUnit("{connection}"),
	)

	return m
}
