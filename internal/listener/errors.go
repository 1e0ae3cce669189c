package listener

import (
	"errors"
	"net"
	"syscall"
)

// TransportError is a socket level accept failure. It is fatal for the
// acceptor that returned it.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "transport " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports whether the failure is caused by resource exhaustion or
// an aborted connection, where a driver may retry after a delay.
func (e *TransportError) Temporary() bool {
	return errors.Is(e.Err, syscall.EMFILE) ||
		errors.Is(e.Err, syscall.ENFILE) ||
		errors.Is(e.Err, syscall.ENOBUFS) ||
		errors.Is(e.Err, syscall.ENOMEM) ||
		errors.Is(e.Err, syscall.ECONNABORTED)
}

// HandshakeError is a failed TLS handshake on one connection. The connection
// has been closed and the acceptor is ready to accept again.
type HandshakeError struct {
	RemoteAddr net.Addr
	Err        error
}

func (e *HandshakeError) Error() string {
	addr := "unknown peer"
	if e.RemoteAddr != nil {
		addr = e.RemoteAddr.String()
	}
	return "tls handshake with " + addr + ": " + e.Err.Error()
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}
