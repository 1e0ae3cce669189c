package tlsconfig

import (
	"crypto/tls"

	"github.com/wolfeidau/tlslistener/internal/credentials"
)

// ClientAuthMode is the client certificate policy applied during handshakes.
type ClientAuthMode int

const (
	// ClientAuthNone never requests a client certificate.
	ClientAuthNone ClientAuthMode = iota
	// ClientAuthOptional accepts anonymous clients and clients presenting a
	// certificate that verifies against the trust anchors.
	ClientAuthOptional
	// ClientAuthMandatory rejects clients without a verifiable certificate.
	ClientAuthMandatory
)

func (m ClientAuthMode) String() string {
	switch m {
	case ClientAuthNone:
		return "none"
	case ClientAuthOptional:
		return "optional"
	case ClientAuthMandatory:
		return "mandatory"
	default:
		return "unknown"
	}
}

// ResolveClientAuth derives the mode from whether trust anchors were supplied
// and the mandatory flag. Without anchors there is nothing to verify against,
// so the flag is ignored.
func ResolveClientAuth(anchors *credentials.TrustAnchors, mandatory bool) ClientAuthMode {
	switch {
	case anchors.Len() == 0:
		return ClientAuthNone
	case mandatory:
		return ClientAuthMandatory
	default:
		return ClientAuthOptional
	}
}

// TLSClientAuth maps the mode onto crypto/tls.
func (m ClientAuthMode) TLSClientAuth() tls.ClientAuthType {
	switch m {
	case ClientAuthMandatory:
		return tls.RequireAndVerifyClientCert
	case ClientAuthOptional:
		return tls.VerifyClientCertIfGiven
	default:
		return tls.NoClientCert
	}
}
