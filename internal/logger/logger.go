package logger

import (
	"crypto/tls"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"
)

func Setup(dev bool) zerolog.Logger {
	var logger zerolog.Logger
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Caller().Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level).With().Stack().Logger()
	}

	return logger
}

// ForConn returns a child logger tagged with the details of a negotiated
// connection.
func ForConn(logger zerolog.Logger, id string, remote net.Addr, state tls.ConnectionState) zerolog.Logger {
	ctx := logger.With().
		Str("conn_id", id).
		Str("tls_version", tls.VersionName(state.Version)).
		Str("cipher", tls.CipherSuiteName(state.CipherSuite)).
		Str("alpn", state.NegotiatedProtocol).
		Bool("resumed", state.DidResume)

	if remote != nil {
		ctx = ctx.Str("remote_addr", remote.String())
	}

	if len(state.PeerCertificates) > 0 {
		ctx = ctx.Str("peer_cn", state.PeerCertificates[0].Subject.CommonName)
	}

	return ctx.Logger()
}
