// Package testpki issues throwaway certificates for tests. It is not a
// certificate authority and must not be used outside of tests.
package testpki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// KeyType selects the key algorithm of an issued certificate.
type KeyType int

const (
	ECDSA KeyType = iota
	RSA
	Ed25519
)

// Authority is a self-signed CA held in memory.
type Authority struct {
	Cert    *x509.Certificate
	Key     crypto.Signer
	CertPEM []byte
}

// Leaf is an issued certificate with its key in both parsed and PEM form.
type Leaf struct {
	Cert     *x509.Certificate
	Key      crypto.Signer
	CertPEM  []byte
	KeyPEM   []byte
	ChainPEM []byte
}

// IssueOptions describes the certificate to issue.
type IssueOptions struct {
	CommonName string
	KeyType    KeyType
	// Client issues a client-auth certificate instead of a server one.
	Client bool
	// PKCS8 encodes the key as PKCS#8 rather than the algorithm specific form.
	PKCS8           bool
	URIs            []string
	ExtraExtensions []pkix.Extension
}

var serial atomic.Int64

// NewAuthority creates a self-signed ECDSA CA.
func NewAuthority(t testing.TB, name string) *Authority {
	t.Helper()

	key := newKey(t, ECDSA)
	template := &x509.Certificate{
		SerialNumber:          nextSerial(),
		Subject:               pkix.Name{CommonName: name},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &Authority{
		Cert:    cert,
		Key:     key,
		CertPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
	}
}

// Pool returns a pool containing only this authority.
func (a *Authority) Pool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(a.Cert)
	return pool
}

// Issue signs a new leaf certificate.
func (a *Authority) Issue(t testing.TB, opts IssueOptions) *Leaf {
	t.Helper()

	key := newKey(t, opts.KeyType)
	template := &x509.Certificate{
		SerialNumber:    nextSerial(),
		Subject:         pkix.Name{CommonName: opts.CommonName},
		NotBefore:       time.Now().Add(-time.Hour),
		NotAfter:        time.Now().Add(24 * time.Hour),
		KeyUsage:        x509.KeyUsageDigitalSignature,
		ExtraExtensions: opts.ExtraExtensions,
	}
	if opts.KeyType == RSA {
		template.KeyUsage |= x509.KeyUsageKeyEncipherment
	}

	if opts.Client {
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	} else {
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
		template.DNSNames = []string{"localhost"}
		template.IPAddresses = []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}
	}

	for _, raw := range opts.URIs {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		template.URIs = append(template.URIs, u)
	}

	der, err := x509.CreateCertificate(rand.Reader, template, a.Cert, key.Public(), a.Key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	return &Leaf{
		Cert:     cert,
		Key:      key,
		CertPEM:  certPEM,
		KeyPEM:   encodeKey(t, key, opts.PKCS8),
		ChainPEM: append(append([]byte{}, certPEM...), a.CertPEM...),
	}
}

// TLSCertificate returns the leaf as a client or server tls.Certificate.
func (l *Leaf) TLSCertificate() tls.Certificate {
	return tls.Certificate{
		Certificate: [][]byte{l.Cert.Raw},
		PrivateKey:  l.Key,
		Leaf:        l.Cert,
	}
}

func newKey(t testing.TB, kt KeyType) crypto.Signer {
	t.Helper()

	var (
		key crypto.Signer
		err error
	)

	switch kt {
	case RSA:
		key, err = rsa.GenerateKey(rand.Reader, 2048)
	case Ed25519:
		_, key, err = ed25519.GenerateKey(rand.Reader)
	default:
		key, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}
	require.NoError(t, err)

	return key
}

func encodeKey(t testing.TB, key crypto.Signer, pkcs8 bool) []byte {
	t.Helper()

	if !pkcs8 {
		switch k := key.(type) {
		case *rsa.PrivateKey:
			return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(k)})
		case *ecdsa.PrivateKey:
			der, err := x509.MarshalECPrivateKey(k)
			require.NoError(t, err)
			return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
		}
	}

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

func nextSerial() *big.Int {
	return big.NewInt(1000 + serial.Add(1))
}
