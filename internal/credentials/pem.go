package credentials

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
)

// PEM block types understood by the loader.
const (
	blockCertificate   = "CERTIFICATE"
	blockPKCS8Key      = "PRIVATE KEY"
	blockPKCS1Key      = "RSA PRIVATE KEY"
	blockSEC1Key       = "EC PRIVATE KEY"
	blockEncryptedKey  = "ENCRYPTED PRIVATE KEY"
	pemBeginBoundaryID = "-----BEGIN"
)

var (
	// ErrMalformedCertificate is returned when a certificate chain has no
	// usable certificates or contains corrupt PEM/DER data.
	ErrMalformedCertificate = errors.New("malformed TLS certificate chain")

	// ErrMalformedPrivateKey is returned when no usable private key is found.
	ErrMalformedPrivateKey = errors.New("malformed TLS private key")

	// ErrMalformedTrustAnchors is returned when a CA bundle has no valid roots.
	ErrMalformedTrustAnchors = errors.New("malformed CA certificate(s)")
)

// Bundle is a parsed certificate chain and the private key for its leaf.
type Bundle struct {
	// Chain holds DER certificates, leaf first.
	Chain [][]byte
	Key   crypto.Signer
	Leaf  *x509.Certificate
}

// TrustAnchors is a set of CA certificates used to verify client certificates.
type TrustAnchors struct {
	pool  *x509.CertPool
	certs []*x509.Certificate
}

// Pool returns the certificate pool for use in tls.Config.ClientCAs.
func (t *TrustAnchors) Pool() *x509.CertPool {
	if t == nil {
		return nil
	}
	return t.pool
}

// Len returns the number of anchors in the set.
func (t *TrustAnchors) Len() int {
	if t == nil {
		return 0
	}
	return len(t.certs)
}

// Certificates returns the parsed anchors in the order they were read.
func (t *TrustAnchors) Certificates() []*x509.Certificate {
	if t == nil {
		return nil
	}
	return t.certs
}

// LoadBundle reads a certificate chain and a private key.
func LoadBundle(chain, key io.Reader) (*Bundle, error) {
	certs, err := LoadCertChain(chain)
	if err != nil {
		return nil, err
	}

	signer, err := LoadPrivateKey(key)
	if err != nil {
		return nil, err
	}

	leaf, err := x509.ParseCertificate(certs[0])
	if err != nil {
		return nil, fmt.Errorf("%w: leaf: %w", ErrMalformedCertificate, err)
	}

	return &Bundle{Chain: certs, Key: signer, Leaf: leaf}, nil
}

// LoadCertChain reads r to EOF and returns the DER bytes of every PEM
// encoded certificate in it, in order.
func LoadCertChain(r io.Reader) ([][]byte, error) {
	blocks, err := decodeAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedCertificate, err)
	}

	var chain [][]byte
	for _, block := range blocks {
		if block.Type != blockCertificate {
			continue
		}
		if _, err := x509.ParseCertificate(block.Bytes); err != nil {
			return nil, fmt.Errorf("%w: certificate %d: %w", ErrMalformedCertificate, len(chain), err)
		}
		chain = append(chain, block.Bytes)
	}

	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: no certificates found", ErrMalformedCertificate)
	}

	return chain, nil
}

// LoadPrivateKey reads r to EOF and returns the first PKCS#8, PKCS#1 (RSA)
// or SEC1 (EC) private key found.
func LoadPrivateKey(r io.Reader) (crypto.Signer, error) {
	blocks, err := decodeAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPrivateKey, err)
	}

	for _, block := range blocks {
		var (
			key any
			err error
		)

		switch block.Type {
		case blockPKCS8Key:
			key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
		case blockPKCS1Key:
			key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
		case blockSEC1Key:
			key, err = x509.ParseECPrivateKey(block.Bytes)
		case blockEncryptedKey:
			return nil, fmt.Errorf("%w: encrypted private keys are not supported", ErrMalformedPrivateKey)
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMalformedPrivateKey, block.Type, err)
		}

		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("%w: unsupported key type %T", ErrMalformedPrivateKey, key)
		}
		return signer, nil
	}

	return nil, fmt.Errorf("%w: no private key found", ErrMalformedPrivateKey)
}

// LoadCACerts reads r to EOF and returns every certificate in it as a trust
// anchor. At least one certificate must parse.
func LoadCACerts(r io.Reader) (*TrustAnchors, error) {
	blocks, err := decodeAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedTrustAnchors, err)
	}

	anchors := &TrustAnchors{pool: x509.NewCertPool()}
	for _, block := range blocks {
		if block.Type != blockCertificate {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: certificate %d: %w", ErrMalformedTrustAnchors, len(anchors.certs), err)
		}
		anchors.pool.AddCert(cert)
		anchors.certs = append(anchors.certs, cert)
	}

	if len(anchors.certs) == 0 {
		return nil, fmt.Errorf("%w: no root certificates found", ErrMalformedTrustAnchors)
	}

	return anchors, nil
}

// decodeAll reads every PEM block from r. Text between blocks is ignored but a
// BEGIN boundary that never decodes means the input was truncated.
func decodeAll(r io.Reader) ([]*pem.Block, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	var blocks []*pem.Block
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		blocks = append(blocks, block)
	}

	if bytes.Contains(rest, []byte(pemBeginBoundaryID)) {
		return nil, errors.New("truncated or corrupt PEM block")
	}

	return blocks, nil
}
