package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/tlslistener/internal/testpki"
)

func TestPool(t *testing.T) {
	f := newFixture(t, testpki.ECDSA)
	ln := bind(t, f.mtlsConfig(true))

	pool := NewPool(context.Background(), ln, PoolConfig{Workers: 2, Logger: zerolog.Nop()})
	t.Cleanup(func() { _ = pool.Close() })

	require.Equal(t, ln.LocalAddr(), pool.Addr())
	require.NoError(t, pool.Err())

	t.Run("failed handshakes are skipped", func(t *testing.T) {
		dialAsync(t, pool.Addr(), f.clientTLS(false))
		dialAsync(t, pool.Addr(), f.clientTLS(false))

		client := f.clientTLS(true)
		client.NextProtos = []string{"h2"}
		dialAsync(t, pool.Addr(), client)

		accepted := make(chan net.Conn, 1)
		go func() {
			conn, err := pool.Accept()
			if err == nil {
				accepted <- conn
			}
		}()

		select {
		case conn := <-accepted:
			defer conn.Close()

			tc, ok := conn.(*tls.Conn)
			require.True(t, ok)
			state := tc.ConnectionState()
			require.True(t, state.HandshakeComplete)
			require.Equal(t, "h2", state.NegotiatedProtocol)
			require.Len(t, state.PeerCertificates, 1)
		case <-time.After(5 * time.Second):
			t.Fatal("no connection accepted")
		}
	})

	t.Run("close stops accept", func(t *testing.T) {
		require.NoError(t, pool.Close())

		_, err := pool.AcceptConn()
		require.ErrorIs(t, err, net.ErrClosed)
		require.ErrorIs(t, pool.Err(), net.ErrClosed)
	})
}

func TestPoolStopsWithContext(t *testing.T) {
	f := newFixture(t, testpki.ECDSA)
	ln := bind(t, f.config())

	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(ctx, ln, PoolConfig{Workers: 2, Logger: zerolog.Nop()})
	t.Cleanup(func() { _ = pool.Close() })

	errCh := make(chan error, 1)
	go func() {
		_, err := pool.Accept()
		errCh <- err
	}()

	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, net.ErrClosed)
		require.ErrorIs(t, pool.Err(), net.ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("accept still blocked after the context was cancelled")
	}

	require.NoError(t, pool.Close())
}

func TestPoolStopsOnListenerFailure(t *testing.T) {
	f := newFixture(t, testpki.ECDSA)
	ln := bind(t, f.config())

	pool := NewPool(context.Background(), ln, PoolConfig{Logger: zerolog.Nop()})
	t.Cleanup(func() { _ = pool.Close() })

	// closing the socket underneath the pool is a permanent transport error
	require.NoError(t, ln.Close())

	_, err := pool.AcceptConn()

	var tErr *TransportError
	require.ErrorAs(t, err, &tErr)
	require.ErrorIs(t, err, net.ErrClosed)
}

func TestTransportErrorTemporary(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "emfile", err: os.NewSyscallError("accept", syscall.EMFILE), want: true},
		{name: "enfile", err: syscall.ENFILE, want: true},
		{name: "enobufs", err: syscall.ENOBUFS, want: true},
		{name: "econnaborted", err: &net.OpError{Op: "accept", Err: os.NewSyscallError("accept", syscall.ECONNABORTED)}, want: true},
		{name: "closed", err: net.ErrClosed, want: false},
		{name: "other", err: errors.New("boom"), want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := &TransportError{Op: "accept", Err: tc.err}
			require.Equal(t, tc.want, err.Temporary())
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestHandshakeErrorMessage(t *testing.T) {
	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4433}

	err := &HandshakeError{RemoteAddr: addr, Err: errors.New("bad certificate")}
	require.Equal(t, "tls handshake with 127.0.0.1:4433: bad certificate", err.Error())

	err = &HandshakeError{Err: context.DeadlineExceeded}
	require.Equal(t, "tls handshake with unknown peer: context deadline exceeded", err.Error())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
