package listener

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/google/uuid"
)

// Conn is a connection whose TLS handshake has completed.
type Conn struct {
	*tls.Conn

	id          string
	state       tls.ConnectionState
	handshakeIn time.Duration
}

func newConn(tc *tls.Conn, took time.Duration) *Conn {
	return &Conn{
		Conn:        tc,
		id:          uuid.NewString(),
		state:       tc.ConnectionState(),
		handshakeIn: took,
	}
}

// ID identifies the connection in logs.
func (c *Conn) ID() string {
	return c.id
}

// PeerAddress returns the remote address, or nil when the transport cannot
// report one.
func (c *Conn) PeerAddress() net.Addr {
	return c.Conn.RemoteAddr()
}

// PeerCertificates returns the DER certificates presented by the client,
// leaf first. It is nil when client authentication was not requested or the
// client sent no certificate.
func (c *Conn) PeerCertificates() [][]byte {
	if len(c.state.PeerCertificates) == 0 {
		return nil
	}

	raw := make([][]byte, len(c.state.PeerCertificates))
	for i, cert := range c.state.PeerCertificates {
		raw[i] = cert.Raw
	}
	return raw
}

// NegotiatedProtocol returns the ALPN protocol agreed with the client, empty
// when the client did not use ALPN.
func (c *Conn) NegotiatedProtocol() string {
	return c.state.NegotiatedProtocol
}

// ConnectionState returns the state captured when the handshake completed.
func (c *Conn) ConnectionState() tls.ConnectionState {
	return c.state
}

// HandshakeDuration returns how long the handshake took.
func (c *Conn) HandshakeDuration() time.Duration {
	return c.handshakeIn
}

// TLS returns the underlying TLS connection, as needed by net/http to serve
// HTTP/2 over the negotiated ALPN protocol.
func (c *Conn) TLS() *tls.Conn {
	return c.Conn
}
