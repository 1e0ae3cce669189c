package tlsconfig

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/wolfeidau/tlslistener/internal/credentials"
)

// ALPN protocols advertised by every listener, most preferred first.
const (
	ProtoHTTP2 = "h2"
	ProtoHTTP1 = "http/1.1"
)

// Options holds everything needed to build a SessionConfig.
type Options struct {
	Bundle *credentials.Bundle

	// TrustAnchors enables client authentication when non-nil.
	TrustAnchors  *credentials.TrustAnchors
	MandatoryMTLS bool

	CipherSuites      []uint16
	PreferServerOrder bool

	// SessionCacheSize defaults to DefaultSessionCacheSize.
	SessionCacheSize int

	// Rand supplies session ticket key material, defaults to crypto/rand.
	Rand io.Reader
}

// SessionConfig is the immutable server configuration shared by every
// connection accepted on a listener.
type SessionConfig struct {
	tlsConfig    *tls.Config
	clientAuth   ClientAuthMode
	cache        *SessionCache
	ticketKey    [32]byte
	cipherSuites []uint16
}

// Build validates opts and assembles the server configuration. Each call
// generates fresh session ticket key material; there is no in-place
// rotation, a new SessionConfig must be built instead.
func Build(opts Options) (*SessionConfig, error) {
	if opts.Bundle == nil || len(opts.Bundle.Chain) == 0 {
		return nil, &ConfigError{Op: "certificate", Err: fmt.Errorf("%w: empty certificate chain", credentials.ErrMalformedCertificate)}
	}

	cert, err := keyPair(opts.Bundle)
	if err != nil {
		return nil, &ConfigError{Op: "key pair", Err: err}
	}

	plan, err := planCipherSuites(opts.CipherSuites, opts.Bundle.Key)
	if err != nil {
		return nil, &ConfigError{Op: "cipher suites", Err: err}
	}

	cache, err := NewSessionCache(opts.SessionCacheSize)
	if err != nil {
		return nil, &ConfigError{Op: "session cache", Err: err}
	}

	random := opts.Rand
	if random == nil {
		random = rand.Reader
	}

	sc := &SessionConfig{
		clientAuth:   ResolveClientAuth(opts.TrustAnchors, opts.MandatoryMTLS),
		cache:        cache,
		cipherSuites: slices.Clone(plan.tls12),
	}

	if _, err := io.ReadFull(random, sc.ticketKey[:]); err != nil {
		return nil, &ConfigError{Op: "session tickets", Err: fmt.Errorf("generate ticket key: %w", err)}
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   plan.minVersion,
		MaxVersion:   plan.maxVersion,
		CipherSuites: slices.Clone(plan.tls12),
		ClientAuth:   sc.clientAuth.TLSClientAuth(),
		NextProtos:   []string{ProtoHTTP2, ProtoHTTP1},
	}
	if sc.clientAuth != ClientAuthNone {
		cfg.ClientCAs = opts.TrustAnchors.Pool()
	}

	cfg.SetSessionTicketKeys([][32]byte{sc.ticketKey})
	cache.install(cfg)

	if len(plan.tls12) > 1 {
		cfg.GetConfigForClient = selectSuite(cfg, plan.tls12, opts.PreferServerOrder)
	}

	sc.tlsConfig = cfg
	return sc, nil
}

// TLSConfig returns the shared configuration. It must not be modified.
func (s *SessionConfig) TLSConfig() *tls.Config {
	return s.tlsConfig
}

// ClientAuth returns the resolved client authentication mode.
func (s *SessionConfig) ClientAuth() ClientAuthMode {
	return s.clientAuth
}

// SessionCache returns the resumption cache.
func (s *SessionConfig) SessionCache() *SessionCache {
	return s.cache
}

// CipherSuites returns the TLS 1.2 suites in server preference order.
func (s *SessionConfig) CipherSuites() []uint16 {
	return slices.Clone(s.cipherSuites)
}

// NextProtos returns the advertised ALPN protocols.
func (s *SessionConfig) NextProtos() []string {
	return slices.Clone(s.tlsConfig.NextProtos)
}

// selectSuite pins, per handshake, the TLS 1.2 suite to negotiate. With
// preferServer it is the first configured suite the client offered, otherwise
// the first offered suite that is configured. Without it crypto/tls applies
// its own fixed preference and ignores both orders.
func selectSuite(base *tls.Config, configured []uint16, preferServer bool) func(*tls.ClientHelloInfo) (*tls.Config, error) {
	return func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
		id, ok := pickSuite(configured, hello.CipherSuites, preferServer)
		if !ok {
			return nil, nil
		}
		cfg := base.Clone()
		cfg.CipherSuites = []uint16{id}
		cfg.GetConfigForClient = nil
		return cfg, nil
	}
}

func pickSuite(configured, offered []uint16, preferServer bool) (uint16, bool) {
	primary, secondary := offered, configured
	if preferServer {
		primary, secondary = configured, offered
	}
	for _, id := range primary {
		if slices.Contains(secondary, id) {
			return id, true
		}
	}
	return 0, false
}

// keyPair checks that key belongs to the leaf certificate and returns the
// pair ready to install.
func keyPair(b *credentials.Bundle) (tls.Certificate, error) {
	leaf := b.Leaf
	if leaf == nil {
		var err error
		leaf, err = x509.ParseCertificate(b.Chain[0])
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("%w: %w", credentials.ErrMalformedCertificate, err)
		}
	}

	if b.Key == nil {
		return tls.Certificate{}, fmt.Errorf("%w: missing private key", ErrInvalidKeyPair)
	}

	if err := verifyCertKeyPair(leaf, b.Key); err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: %w", ErrInvalidKeyPair, err)
	}

	return tls.Certificate{
		Certificate: slices.Clone(b.Chain),
		PrivateKey:  b.Key,
		Leaf:        leaf,
	}, nil
}

// verifyCertKeyPair checks that a certificate's public key matches a private key
func verifyCertKeyPair(cert *x509.Certificate, key crypto.Signer) error {
	switch key.(type) {
	case *rsa.PrivateKey, *ecdsa.PrivateKey, ed25519.PrivateKey:
	default:
		return fmt.Errorf("unsupported private key type %T", key)
	}

	pub, ok := key.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok {
		return fmt.Errorf("private key type %T cannot be compared", key)
	}

	if !pub.Equal(cert.PublicKey) {
		return errors.New("public keys do not match")
	}

	return nil
}
