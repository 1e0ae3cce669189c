package tlsconfig

import "errors"

var (
	// ErrUnsupportedCipherConfiguration is returned for an empty, unknown,
	// insecure or key-incompatible cipher suite list.
	ErrUnsupportedCipherConfiguration = errors.New("unsupported cipher suite configuration")

	// ErrInvalidKeyPair is returned when the private key does not belong to
	// the leaf certificate or is of an unsupported type.
	ErrInvalidKeyPair = errors.New("invalid key pair")
)

// ConfigError reports which build step failed. Err wraps one of the package
// sentinels or a credentials error.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	return "tls config: " + e.Op + ": " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
