package peer

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/tlslistener/internal/testpki"
)

func stringExtension(t *testing.T, oid asn1.ObjectIdentifier, value string) pkix.Extension {
	t.Helper()

	raw, err := asn1.Marshal(value)
	require.NoError(t, err)
	return pkix.Extension{Id: oid, Value: raw}
}

func TestFromConnectionState(t *testing.T) {
	ca := testpki.NewAuthority(t, "client-ca")

	t.Run("anonymous", func(t *testing.T) {
		id := FromConnectionState(tls.ConnectionState{
			Version:            tls.VersionTLS13,
			CipherSuite:        tls.TLS_AES_128_GCM_SHA256,
			NegotiatedProtocol: "h2",
		})

		require.True(t, id.Anonymous())
		require.False(t, id.Verified)
		require.Equal(t, "TLS 1.3", id.TLSVersion)
		require.Equal(t, "TLS_AES_128_GCM_SHA256", id.CipherSuite)
		require.Equal(t, "h2", id.Protocol)
	})

	t.Run("verified client with principal", func(t *testing.T) {
		leaf := ca.Issue(t, testpki.IssueOptions{
			CommonName: "worker-7",
			Client:     true,
			URIs:       []string{"spiffe://example.org/worker/7"},
			ExtraExtensions: []pkix.Extension{
				stringExtension(t, OIDPrincipalType, "worker"),
				stringExtension(t, OIDPrincipalID, "wrk-7"),
			},
		})

		id := FromConnectionState(tls.ConnectionState{
			Version:          tls.VersionTLS12,
			PeerCertificates: []*x509.Certificate{leaf.Cert},
			VerifiedChains:   [][]*x509.Certificate{{leaf.Cert, ca.Cert}},
			DidResume:        true,
		})

		sum := sha256.Sum256(leaf.Cert.Raw)

		require.False(t, id.Anonymous())
		require.True(t, id.Verified)
		require.True(t, id.Resumed)
		require.Equal(t, "worker-7", id.CommonName)
		require.Equal(t, "CN=client-ca", id.Issuer)
		require.Equal(t, leaf.Cert.SerialNumber.Text(16), id.SerialNumber)
		require.Equal(t, hex.EncodeToString(sum[:]), id.Fingerprint)
		require.Equal(t, []string{"spiffe://example.org/worker/7"}, id.URIs)
		require.Equal(t, "worker", id.PrincipalType)
		require.Equal(t, "wrk-7", id.PrincipalID)
	})

	t.Run("unverified certificate without principal", func(t *testing.T) {
		leaf := ca.Issue(t, testpki.IssueOptions{CommonName: "plain", Client: true})

		id := FromConnectionState(tls.ConnectionState{
			PeerCertificates: []*x509.Certificate{leaf.Cert},
		})

		require.False(t, id.Verified)
		require.Equal(t, "plain", id.CommonName)
		require.Empty(t, id.PrincipalType)
		require.Empty(t, id.PrincipalID)
	})
}

func TestPrincipalOIDs(t *testing.T) {
	require.Equal(t, asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 99999, 1, 1}, OIDPrincipalType)
	require.Equal(t, asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 99999, 1, 2}, OIDPrincipalID)
	require.Equal(t, asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 99999, 1}, OIDPrincipalArc)
}

func TestExtractPrincipal(t *testing.T) {
	ca := testpki.NewAuthority(t, "client-ca")

	t.Run("falls back to common name", func(t *testing.T) {
		leaf := ca.Issue(t, testpki.IssueOptions{
			CommonName:      "svc-a",
			Client:          true,
			ExtraExtensions: []pkix.Extension{stringExtension(t, OIDPrincipalType, "service")},
		})

		principalType, principalID, err := ExtractPrincipal(leaf.Cert)
		require.NoError(t, err)
		require.Equal(t, "service", principalType)
		require.Equal(t, "svc-a", principalID)
	})

	t.Run("missing type", func(t *testing.T) {
		leaf := ca.Issue(t, testpki.IssueOptions{CommonName: "svc-b", Client: true})

		_, _, err := ExtractPrincipal(leaf.Cert)
		require.ErrorIs(t, err, ErrExtensionNotFound)
	})

	t.Run("malformed extension", func(t *testing.T) {
		cert := &x509.Certificate{
			Extensions: []pkix.Extension{{Id: OIDPrincipalType, Value: []byte{0xff}}},
		}

		_, _, err := ExtractPrincipal(cert)
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrExtensionNotFound)
	})
}

func TestMiddleware(t *testing.T) {
	ca := testpki.NewAuthority(t, "client-ca")
	leaf := ca.Issue(t, testpki.IssueOptions{CommonName: "client-1", Client: true})

	var seen *Identity
	handler := Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		_ = json.NewEncoder(w).Encode(seen)
	}))

	t.Run("plain request", func(t *testing.T) {
		seen = nil
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		handler.ServeHTTP(httptest.NewRecorder(), r)
		require.Nil(t, seen)
	})

	t.Run("tls request", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.TLS = &tls.ConnectionState{
			Version:          tls.VersionTLS13,
			PeerCertificates: []*x509.Certificate{leaf.Cert},
			VerifiedChains:   [][]*x509.Certificate{{leaf.Cert, ca.Cert}},
		}

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		require.NotNil(t, seen)
		require.Equal(t, "client-1", seen.CommonName)

		var decoded Identity
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
		require.True(t, decoded.Verified)
		require.Equal(t, seen.Fingerprint, decoded.Fingerprint)
	})
}

func TestRequireVerified(t *testing.T) {
	handler := Middleware()(RequireVerified()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	tests := []struct {
		name  string
		state *tls.ConnectionState
		want  int
	}{
		{name: "no tls", state: nil, want: http.StatusForbidden},
		{name: "anonymous", state: &tls.ConnectionState{Version: tls.VersionTLS13}, want: http.StatusForbidden},
		{name: "verified", state: &tls.ConnectionState{VerifiedChains: [][]*x509.Certificate{{{}}}}, want: http.StatusNoContent},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.TLS = tc.state

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)
			require.Equal(t, tc.want, w.Code)
		})
	}
}
