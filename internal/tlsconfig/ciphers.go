package tlsconfig

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/tls"
	"fmt"
	"slices"
	"strings"
)

// DefaultCipherSuites returns the TLS 1.3 suites followed by the ECDHE AEAD
// TLS 1.2 suites, strongest first.
func DefaultCipherSuites() []uint16 {
	return []uint16{
		tls.TLS_AES_256_GCM_SHA384,
		tls.TLS_AES_128_GCM_SHA256,
		tls.TLS_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
	}
}

// ParseCipherSuites converts IANA suite names (as printed by
// tls.CipherSuiteName) into suite IDs, keeping their order.
func ParseCipherSuites(names []string) ([]uint16, error) {
	ids := make([]uint16, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		suite, ok := suiteByName(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown cipher suite %q", ErrUnsupportedCipherConfiguration, name)
		}
		ids = append(ids, suite.ID)
	}
	return ids, nil
}

// cipherPlan is the outcome of validating a suite list against a key.
type cipherPlan struct {
	minVersion uint16
	maxVersion uint16
	// tls12 holds the TLS 1.2 suites usable with the key, in configured order.
	tls12 []uint16
}

// planCipherSuites validates ids and derives the protocol versions they
// enable. crypto/tls always offers its full TLS 1.3 suite set, so any TLS 1.3
// ID in the list enables TLS 1.3 as a whole.
func planCipherSuites(ids []uint16, key crypto.Signer) (*cipherPlan, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no cipher suites configured", ErrUnsupportedCipherConfiguration)
	}

	var (
		tls13      bool
		configured []uint16
		plan       = &cipherPlan{}
	)

	for _, id := range ids {
		if slices.Contains(configured, id) {
			continue
		}
		configured = append(configured, id)

		suite, ok := secureSuite(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s is unknown or insecure", ErrUnsupportedCipherConfiguration, tls.CipherSuiteName(id))
		}

		if isTLS13Only(suite) {
			tls13 = true
			continue
		}

		if !slices.Contains(suite.SupportedVersions, tls.VersionTLS12) {
			continue
		}
		if suiteAcceptsKey(suite, key) {
			plan.tls12 = append(plan.tls12, id)
		}
	}

	switch {
	case tls13 && len(plan.tls12) > 0:
		plan.minVersion, plan.maxVersion = tls.VersionTLS12, tls.VersionTLS13
	case tls13:
		plan.minVersion, plan.maxVersion = tls.VersionTLS13, tls.VersionTLS13
	case len(plan.tls12) > 0:
		plan.minVersion, plan.maxVersion = tls.VersionTLS12, tls.VersionTLS12
	default:
		return nil, fmt.Errorf("%w: no configured suite can be used with a %s key", ErrUnsupportedCipherConfiguration, keyAlgorithm(key))
	}

	return plan, nil
}

func secureSuite(id uint16) (*tls.CipherSuite, bool) {
	for _, suite := range tls.CipherSuites() {
		if suite.ID == id {
			return suite, true
		}
	}
	return nil, false
}

func suiteByName(name string) (*tls.CipherSuite, bool) {
	for _, suite := range tls.CipherSuites() {
		if suite.Name == name {
			return suite, true
		}
	}
	return nil, false
}

func isTLS13Only(suite *tls.CipherSuite) bool {
	return len(suite.SupportedVersions) == 1 && suite.SupportedVersions[0] == tls.VersionTLS13
}

// suiteAcceptsKey reports whether a TLS 1.2 suite can authenticate with key.
// ECDSA suites also carry Ed25519 signatures.
func suiteAcceptsKey(suite *tls.CipherSuite, key crypto.Signer) bool {
	switch key.(type) {
	case *ecdsa.PrivateKey, ed25519.PrivateKey:
		return strings.Contains(suite.Name, "_ECDSA_")
	case *rsa.PrivateKey:
		return !strings.Contains(suite.Name, "_ECDSA_")
	default:
		return false
	}
}

func keyAlgorithm(key crypto.Signer) string {
	switch key.(type) {
	case *ecdsa.PrivateKey:
		return "ECDSA"
	case ed25519.PrivateKey:
		return "Ed25519"
	case *rsa.PrivateKey:
		return "RSA"
	default:
		return fmt.Sprintf("%T", key)
	}
}
