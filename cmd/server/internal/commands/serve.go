package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/tlslistener/internal/credentials"
	"github.com/wolfeidau/tlslistener/internal/listener"
	"github.com/wolfeidau/tlslistener/internal/logger"
	"github.com/wolfeidau/tlslistener/internal/peer"
	"github.com/wolfeidau/tlslistener/internal/telemetry"
	"golang.org/x/net/http2"
)

type ServeCmd struct {
	// Listener configuration
	Listen string `help:"listen address" default:"0.0.0.0:8443" env:"TLSLISTENER_LISTEN"`
	Config string `help:"path to a YAML listener config, replaces the TLS flags below" type:"existingfile" env:"TLSLISTENER_CONFIG"`

	// Credentials from files
	Cert string `help:"path to PEM certificate chain, leaf first" env:"TLSLISTENER_TLS_CERT"`
	Key  string `help:"path to PEM private key" env:"TLSLISTENER_TLS_KEY"`
	CA   string `help:"path to PEM CA certificates used to verify clients" env:"TLSLISTENER_TLS_CA"`

	// Credentials from SSM Parameter Store
	CertSSM string `help:"SSM parameter holding the certificate chain" name:"cert-ssm" env:"TLSLISTENER_TLS_CERT_SSM"`
	KeySSM  string `help:"SSM parameter holding the private key" name:"key-ssm" env:"TLSLISTENER_TLS_KEY_SSM"`
	CASSM   string `help:"SSM parameter holding the client CA certificates" name:"ca-ssm" env:"TLSLISTENER_TLS_CA_SSM"`

	// TLS policy
	MandatoryMTLS     bool          `help:"require a verified client certificate (needs --ca or --ca-ssm)" name:"mandatory-mtls" env:"TLSLISTENER_MANDATORY_MTLS"`
	CipherSuites      []string      `help:"cipher suite names, defaults to the secure TLS 1.3 and ECDHE AEAD set" env:"TLSLISTENER_CIPHER_SUITES"`
	PreferServerOrder bool          `help:"pick TLS 1.2 suites in the configured order" env:"TLSLISTENER_PREFER_SERVER_ORDER"`
	HandshakeTimeout  time.Duration `help:"maximum time for a TLS handshake" default:"10s" env:"TLSLISTENER_HANDSHAKE_TIMEOUT"`
	SessionCacheSize  int           `help:"number of resumable TLS sessions kept" default:"1024" env:"TLSLISTENER_SESSION_CACHE_SIZE"`
	Workers           int           `help:"number of concurrent acceptors" default:"4" env:"TLSLISTENER_WORKERS"`

	// Operational
	Tracing          bool    `help:"enable tracing and metrics export" default:"false" env:"TLSLISTENER_TRACING"`
	TraceSampleRatio float64 `help:"fraction of handshakes to trace" default:"1" env:"TLSLISTENER_TRACE_SAMPLE_RATIO"`
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
			ServiceName: "tlslistener-server",
			Version:     globals.Version,
			SampleRatio: c.TraceSampleRatio,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	pool, err := c.listen(ctx, log)
	if err != nil {
		return err
	}

	srv, err := newServer(pool.Addr().String(), log)
	if err != nil {
		_ = pool.Close()
		return err
	}

	return serve(ctx, srv, pool, log)
}

// listen loads the credentials, binds the listener and starts the acceptors.
func (c *ServeCmd) listen(ctx context.Context, log zerolog.Logger) (*listener.Pool, error) {
	fc, err := c.fileConfig()
	if err != nil {
		return nil, err
	}

	material, err := credentials.Load(ctx, fc.SourceConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS credentials: %w", err)
	}

	cfg, err := fc.Config(material)
	if err != nil {
		return nil, err
	}

	ln, err := listener.Bind(ctx, fc.Listen, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to bind listener: %w", err)
	}

	session := ln.SessionConfig()
	log.Info().
		Str("addr", ln.LocalAddr().String()).
		Str("client_auth", session.ClientAuth().String()).
		Strs("alpn", session.NextProtos()).
		Int("workers", fc.Workers).
		Msg("Listening for TLS connections")

	return listener.NewPool(ctx, ln, listener.PoolConfig{Workers: fc.Workers, Logger: log}), nil
}

// fileConfig merges the flags into the same shape as the YAML config file.
func (c *ServeCmd) fileConfig() (*listener.FileConfig, error) {
	if c.Config != "" {
		fc, err := listener.LoadFileConfig(c.Config)
		if err != nil {
			return nil, err
		}
		if fc.Listen == "" {
			fc.Listen = c.Listen
		}
		if fc.Workers == 0 {
			fc.Workers = c.Workers
		}
		return fc, nil
	}

	fc := &listener.FileConfig{
		Listen:            c.Listen,
		Cert:              c.Cert,
		Key:               c.Key,
		CA:                c.CA,
		CertSSM:           c.CertSSM,
		KeySSM:            c.KeySSM,
		CASSM:             c.CASSM,
		MandatoryMTLS:     c.MandatoryMTLS,
		CipherSuites:      c.CipherSuites,
		PreferServerOrder: c.PreferServerOrder,
		HandshakeTimeout:  c.HandshakeTimeout,
		SessionCacheSize:  c.SessionCacheSize,
		Workers:           c.Workers,
	}

	src := fc.SourceConfig()
	if !src.UseSSM() && (fc.Cert == "" || fc.Key == "") {
		return nil, errors.New("TLS certificate and key are required (--cert and --key, or --cert-ssm and --key-ssm)")
	}

	return fc, nil
}

func newServer(addr string, log zerolog.Logger) (*http.Server, error) {
	handler := peer.Middleware()(routes())

	srv := configureHTTPServer(addr, handler)
	srv.BaseContext = func(net.Listener) context.Context {
		return log.WithContext(context.Background())
	}

	if err := http2.ConfigureServer(srv, &http2.Server{}); err != nil {
		return nil, fmt.Errorf("failed to configure http2: %w", err)
	}

	return srv, nil
}

// serve runs srv on pool until ctx is done, then shuts down gracefully.
func serve(ctx context.Context, srv *http.Server, pool *listener.Pool, log zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(pool)
	}()

	select {
	case err := <-errCh:
		_ = pool.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown server")
	}

	return pool.Close()
}
