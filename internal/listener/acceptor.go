package listener

import (
	"context"
	"crypto/tls"
	"sync/atomic"
	"time"

	"github.com/wolfeidau/tlslistener/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/wolfeidau/tlslistener/internal/listener"

// State is the observable phase of an Acceptor.
type State int32

const (
	StateListening State = iota
	StateHandshaking
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateHandshaking:
		return "handshaking"
	default:
		return "unknown"
	}
}

type acceptState interface {
	phase() State
}

type listening struct{}

func (listening) phase() State { return StateListening }

// handshaking owns the connection until the handshake resolves.
type handshaking struct {
	conn    *tls.Conn
	started time.Time
}

func (handshaking) phase() State { return StateHandshaking }

// Acceptor drives one accept then handshake cycle at a time over a shared
// Listener. Acceptors created from the same Listener are independent and may
// be used from different goroutines.
type Acceptor struct {
	ln    *Listener
	sem   chan struct{}
	state acceptState

	observed atomic.Int32
}

func newAcceptor(ln *Listener) *Acceptor {
	return &Acceptor{
		ln:    ln,
		sem:   make(chan struct{}, 1),
		state: listening{},
	}
}

// State reports the current phase. It is safe to call concurrently with
// Accept.
func (a *Acceptor) State() State {
	return State(a.observed.Load())
}

// Accept waits for the next connection and completes its TLS handshake.
//
// A failed handshake returns a *HandshakeError and leaves the acceptor ready
// for the next connection. A *TransportError means the socket is unusable.
// When ctx is done the in-flight connection, if any, is closed and ctx.Err()
// is returned; the acceptor is back to listening either way.
//
// Concurrent calls on the same Acceptor are serialized.
func (a *Acceptor) Accept(ctx context.Context) (*Conn, error) {
	select {
	case a.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-a.sem }()

	for {
		switch st := a.state.(type) {
		case listening:
			raw, err := a.ln.acceptRaw(ctx)
			if err != nil {
				return nil, err
			}
			a.transition(handshaking{
				conn:    tls.Server(raw, a.ln.session.TLSConfig()),
				started: time.Now(),
			})

		case handshaking:
			conn, err := a.handshake(ctx, st)
			a.transition(listening{})
			return conn, err
		}
	}
}

func (a *Acceptor) transition(next acceptState) {
	a.state = next
	a.observed.Store(int32(next.phase()))
}

func (a *Acceptor) handshake(ctx context.Context, st handshaking) (*Conn, error) {
	metrics := telemetry.GetMetrics()
	remote := st.conn.RemoteAddr()

	hctx := ctx
	if a.ln.handshakeTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, a.ln.handshakeTimeout)
		defer cancel()
	}

	hctx, span := otel.Tracer(tracerName).Start(hctx, "tls.handshake",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("net.peer.addr", addrString(remote))),
	)
	defer span.End()

	metrics.HandshakesInFlight.Add(ctx, 1)
	defer metrics.HandshakesInFlight.Add(context.WithoutCancel(ctx), -1)

	err := st.conn.HandshakeContext(hctx)
	took := time.Since(st.started)

	if err != nil {
		_ = st.conn.Close()

		if ctx.Err() != nil {
			metrics.HandshakesAbandoned.Add(context.WithoutCancel(ctx), 1)
			span.SetStatus(codes.Error, "abandoned")
			return nil, ctx.Err()
		}

		metrics.HandshakeErrorsTotal.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "handshake failed")
		return nil, &HandshakeError{RemoteAddr: remote, Err: err}
	}

	conn := newConn(st.conn, took)
	state := conn.ConnectionState()

	attrs := metric.WithAttributes(
		attribute.String("tls.version", tls.VersionName(state.Version)),
		attribute.String("tls.alpn", state.NegotiatedProtocol),
	)
	metrics.HandshakesTotal.Add(ctx, 1, attrs)
	metrics.HandshakeDuration.Record(ctx, float64(took.Milliseconds()), attrs)
	if state.DidResume {
		metrics.SessionsResumedTotal.Add(ctx, 1)
	}

	span.SetAttributes(
		attribute.String("tls.version", tls.VersionName(state.Version)),
		attribute.String("tls.cipher", tls.CipherSuiteName(state.CipherSuite)),
		attribute.Bool("tls.resumed", state.DidResume),
		attribute.Bool("tls.client_certificate", len(state.PeerCertificates) > 0),
	)

	return conn, nil
}
