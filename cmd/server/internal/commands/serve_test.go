package commands

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/tlslistener/internal/testpki"
	"golang.org/x/net/http2"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestServe(t *testing.T) {
	serverCA := testpki.NewAuthority(t, "server-ca")
	clientCA := testpki.NewAuthority(t, "client-ca")
	server := serverCA.Issue(t, testpki.IssueOptions{CommonName: "localhost"})
	client := clientCA.Issue(t, testpki.IssueOptions{CommonName: "client-1", Client: true})

	dir := t.TempDir()
	cmd := &ServeCmd{
		Listen:           "127.0.0.1:0",
		Cert:             writeFile(t, dir, "chain.pem", server.ChainPEM),
		Key:              writeFile(t, dir, "key.pem", server.KeyPEM),
		CA:               writeFile(t, dir, "ca.pem", clientCA.CertPEM),
		MandatoryMTLS:    true,
		HandshakeTimeout: 5 * time.Second,
		Workers:          2,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := zerolog.Nop()
	pool, err := cmd.listen(ctx, log)
	require.NoError(t, err)

	srv, err := newServer(pool.Addr().String(), log)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, srv, pool, log)
	}()

	httpClient := &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http2.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs:      serverCA.Pool(),
				Certificates: []tls.Certificate{client.TLSCertificate()},
			},
		},
	}

	t.Run("whoami over h2", func(t *testing.T) {
		resp, err := httpClient.Get("https://" + pool.Addr().String() + "/whoami")
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "HTTP/2.0", resp.Proto)

		var body whoamiResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Equal(t, "HTTP/2.0", body.Proto)
		require.NotNil(t, body.Peer)
		require.True(t, body.Peer.Verified)
		require.Equal(t, "client-1", body.Peer.CommonName)
		require.Equal(t, "h2", body.Peer.Protocol)
	})

	t.Run("client without certificate is refused", func(t *testing.T) {
		anon := &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{RootCAs: serverCA.Pool()},
			},
		}

		_, err := anon.Get("https://" + pool.Addr().String() + "/healthz")
		require.Error(t, err)
	})

	t.Run("still serving after refused handshake", func(t *testing.T) {
		resp, err := httpClient.Get("https://" + pool.Addr().String() + "/healthz")
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestFileConfigFromFlags(t *testing.T) {
	t.Run("requires credentials", func(t *testing.T) {
		_, err := (&ServeCmd{Listen: ":8443"}).fileConfig()
		require.ErrorContains(t, err, "TLS certificate and key are required")
	})

	t.Run("ssm parameters are enough", func(t *testing.T) {
		fc, err := (&ServeCmd{Listen: ":8443", CertSSM: "/tls/chain", KeySSM: "/tls/key", Workers: 3}).fileConfig()
		require.NoError(t, err)
		require.True(t, fc.SourceConfig().UseSSM())
		require.Equal(t, 3, fc.Workers)
	})

	t.Run("yaml config fills listen and workers from flags", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "listener.yaml", []byte("cert: chain.pem\nkey: key.pem\n"))

		fc, err := (&ServeCmd{Listen: "127.0.0.1:9443", Config: path, Workers: 2}).fileConfig()
		require.NoError(t, err)
		require.Equal(t, "127.0.0.1:9443", fc.Listen)
		require.Equal(t, 2, fc.Workers)
		require.Equal(t, filepath.Join(filepath.Dir(path), "chain.pem"), fc.Cert)
	})
}

func TestConfigureHTTPServer(t *testing.T) {
	srv := configureHTTPServer("127.0.0.1:8443", http.NotFoundHandler())

	require.Equal(t, "127.0.0.1:8443", srv.Addr)
	require.Equal(t, 5*time.Second, srv.ReadHeaderTimeout)
	require.Equal(t, 30*time.Second, srv.ReadTimeout)
	require.Equal(t, 30*time.Second, srv.WriteTimeout)
	require.Equal(t, 2*time.Minute, srv.IdleTimeout)
	require.Equal(t, 8*1024, srv.MaxHeaderBytes)
}
