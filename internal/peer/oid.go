package peer

import (
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
)

// Private arc for principal extensions carried in client certificates.
var (
	OIDPrincipalArc = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 99999, 1}

	// OIDPrincipalType identifies the principal type (admin, worker, user, service)
	// Value: UTF8String
	OIDPrincipalType = principalOID(1)

	// OIDPrincipalID identifies the unique principal identifier
	// Value: UTF8String
	OIDPrincipalID = principalOID(2)
)

func principalOID(n int) asn1.ObjectIdentifier {
	oid := make(asn1.ObjectIdentifier, 0, len(OIDPrincipalArc)+1)
	oid = append(oid, OIDPrincipalArc...)
	return append(oid, n)
}

// ErrExtensionNotFound is returned when a required extension is missing
var ErrExtensionNotFound = errors.New("extension not found")

func extensionString(cert *x509.Certificate, oid asn1.ObjectIdentifier) (string, error) {
	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(oid) {
			continue
		}

		var value string
		if _, err := asn1.Unmarshal(ext.Value, &value); err != nil {
			return "", fmt.Errorf("failed to unmarshal extension %s: %w", oid, err)
		}
		return value, nil
	}
	return "", ErrExtensionNotFound
}

// ExtractPrincipal returns the principal type and ID carried by cert. The ID
// falls back to the subject common name when the extension is absent.
func ExtractPrincipal(cert *x509.Certificate) (principalType, principalID string, err error) {
	principalType, err = extensionString(cert, OIDPrincipalType)
	if err != nil {
		return "", "", fmt.Errorf("principal type: %w", err)
	}

	principalID, err = extensionString(cert, OIDPrincipalID)
	if err != nil {
		if !errors.Is(err, ErrExtensionNotFound) {
			return "", "", fmt.Errorf("principal ID: %w", err)
		}
		principalID = cert.Subject.CommonName
		if principalID == "" {
			return "", "", errors.New("principal ID: no extension or CN found")
		}
	}

	return principalType, principalID, nil
}
