// Package peer describes the client on the other end of a negotiated TLS
// connection and carries that description through HTTP request contexts.
package peer

import (
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"time"
)

// Identity is what the server knows about a peer once the handshake is done.
// Certificate fields are empty when the client presented no certificate.
type Identity struct {
	// Verified is true when the client certificate chained to a trust anchor.
	Verified bool `json:"verified"`

	CommonName   string    `json:"common_name,omitempty"`
	Issuer       string    `json:"issuer,omitempty"`
	SerialNumber string    `json:"serial_number,omitempty"`
	Fingerprint  string    `json:"fingerprint,omitempty"`
	DNSNames     []string  `json:"dns_names,omitempty"`
	URIs         []string  `json:"uris,omitempty"`
	NotAfter     time.Time `json:"not_after,omitzero"`

	PrincipalType string `json:"principal_type,omitempty"`
	PrincipalID   string `json:"principal_id,omitempty"`

	TLSVersion  string `json:"tls_version"`
	CipherSuite string `json:"cipher_suite"`
	Protocol    string `json:"protocol,omitempty"`
	Resumed     bool   `json:"resumed"`
}

// Anonymous reports whether the peer presented no certificate.
func (id *Identity) Anonymous() bool {
	return id.Fingerprint == ""
}

// FromConnectionState derives the peer identity from a completed handshake.
func FromConnectionState(state tls.ConnectionState) *Identity {
	id := &Identity{
		Verified:    len(state.VerifiedChains) > 0,
		TLSVersion:  tls.VersionName(state.Version),
		CipherSuite: tls.CipherSuiteName(state.CipherSuite),
		Protocol:    state.NegotiatedProtocol,
		Resumed:     state.DidResume,
	}

	if len(state.PeerCertificates) == 0 {
		return id
	}

	leaf := state.PeerCertificates[0]
	sum := sha256.Sum256(leaf.Raw)

	id.CommonName = leaf.Subject.CommonName
	id.Issuer = leaf.Issuer.String()
	id.SerialNumber = leaf.SerialNumber.Text(16)
	id.Fingerprint = hex.EncodeToString(sum[:])
	id.DNSNames = leaf.DNSNames
	id.NotAfter = leaf.NotAfter

	for _, u := range leaf.URIs {
		id.URIs = append(id.URIs, u.String())
	}

	if principalType, principalID, err := ExtractPrincipal(leaf); err == nil {
		id.PrincipalType = principalType
		id.PrincipalID = principalID
	}

	return id
}
