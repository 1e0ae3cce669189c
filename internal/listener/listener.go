// Package listener terminates TLS on accepted TCP connections and hands out
// fully negotiated streams.
package listener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/wolfeidau/tlslistener/internal/credentials"
	"github.com/wolfeidau/tlslistener/internal/telemetry"
	"github.com/wolfeidau/tlslistener/internal/tlsconfig"
)

// aLongTimeAgo is a deadline in the past, used to interrupt a blocked accept.
var aLongTimeAgo = time.Unix(1, 0)

// Config describes the TLS material and policy for a listener.
type Config struct {
	CertChain  io.Reader
	PrivateKey io.Reader

	CipherSuites      []uint16
	PreferServerOrder bool

	// CACerts enables client certificate authentication when set.
	CACerts       io.Reader
	MandatoryMTLS bool

	// HandshakeTimeout bounds each handshake, zero means no limit beyond the
	// caller's context.
	HandshakeTimeout time.Duration

	SessionCacheSize int
}

// Listener owns a bound TCP socket and the session configuration shared by
// every connection accepted on it.
type Listener struct {
	tcp              *net.TCPListener
	session          *tlsconfig.SessionConfig
	handshakeTimeout time.Duration

	acceptMu chan struct{}
	closed   chan struct{}
	def      *Acceptor

	closeOnce sync.Once
	closeErr  error
}

// NewSessionConfig loads the credentials in cfg and builds the shared session
// configuration. It performs no network activity.
func NewSessionConfig(cfg Config) (*tlsconfig.SessionConfig, error) {
	if cfg.CertChain == nil || cfg.PrivateKey == nil {
		return nil, &tlsconfig.ConfigError{Op: "credentials", Err: errors.New("certificate chain and private key are required")}
	}

	bundle, err := credentials.LoadBundle(cfg.CertChain, cfg.PrivateKey)
	if err != nil {
		return nil, &tlsconfig.ConfigError{Op: "credentials", Err: err}
	}

	var anchors *credentials.TrustAnchors
	if cfg.CACerts != nil {
		anchors, err = credentials.LoadCACerts(cfg.CACerts)
		if err != nil {
			return nil, &tlsconfig.ConfigError{Op: "trust anchors", Err: err}
		}
	}

	return tlsconfig.Build(tlsconfig.Options{
		Bundle:            bundle,
		TrustAnchors:      anchors,
		MandatoryMTLS:     cfg.MandatoryMTLS,
		CipherSuites:      cfg.CipherSuites,
		PreferServerOrder: cfg.PreferServerOrder,
		SessionCacheSize:  cfg.SessionCacheSize,
	})
}

// Bind builds the session configuration from cfg and then binds addr. A
// configuration error is returned before any socket is opened.
func Bind(ctx context.Context, addr string, cfg Config) (*Listener, error) {
	session, err := NewSessionConfig(cfg)
	if err != nil {
		return nil, err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, &TransportError{Op: "listen", Err: err}
	}

	tcp, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return nil, &TransportError{Op: "listen", Err: fmt.Errorf("unexpected listener type %T", ln)}
	}

	l := &Listener{
		tcp:              tcp,
		session:          session,
		handshakeTimeout: cfg.HandshakeTimeout,
		acceptMu:         make(chan struct{}, 1),
		closed:           make(chan struct{}),
	}
	l.def = newAcceptor(l)

	return l, nil
}

// LocalAddr returns the bound address, useful when binding port 0.
func (l *Listener) LocalAddr() net.Addr {
	return l.tcp.Addr()
}

// SessionConfig returns the shared session configuration.
func (l *Listener) SessionConfig() *tlsconfig.SessionConfig {
	return l.session
}

// NewAcceptor returns an independent acceptor sharing this socket and
// session configuration.
func (l *Listener) NewAcceptor() *Acceptor {
	return newAcceptor(l)
}

// Accept accepts on the listener's default acceptor.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	return l.def.Accept(ctx)
}

// Close closes the socket. Blocked accepts return a *TransportError wrapping
// net.ErrClosed.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.closeErr = l.tcp.Close()
	})
	return l.closeErr
}

// acceptRaw waits for the next TCP connection. Only one caller waits on the
// socket at a time so that a cancellation deadline never leaks into another
// acceptor's wait.
func (l *Listener) acceptRaw(ctx context.Context) (net.Conn, error) {
	select {
	case l.acceptMu <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closed:
		return nil, &TransportError{Op: "accept", Err: net.ErrClosed}
	}
	defer func() { <-l.acceptMu }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	interrupted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = l.tcp.SetDeadline(aLongTimeAgo)
		close(interrupted)
	})

	raw, err := l.tcp.Accept()
	if !stop() {
		<-interrupted
		_ = l.tcp.SetDeadline(time.Time{})
		if raw != nil {
			_ = raw.Close()
		}
		return nil, ctx.Err()
	}

	metrics := telemetry.GetMetrics()
	if err != nil {
		metrics.AcceptErrorsTotal.Add(ctx, 1)
		return nil, &TransportError{Op: "accept", Err: err}
	}
	metrics.ConnectionsAcceptedTotal.Add(ctx, 1)

	return raw, nil
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
