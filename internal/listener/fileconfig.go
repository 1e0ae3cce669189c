package listener

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wolfeidau/tlslistener/internal/credentials"
	"github.com/wolfeidau/tlslistener/internal/tlsconfig"
	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML form of a listener configuration.
//
//	listen: ":8443"
//	cert: server-chain.pem
//	key: server-key.pem
//	ca: clients-ca.pem
//	mandatory_mtls: true
//	cipher_suites:
//	  - TLS_AES_128_GCM_SHA256
//	  - TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256
//	prefer_server_order: true
//	handshake_timeout: 10s
//
// Relative paths are resolved against the directory of the file.
type FileConfig struct {
	Listen string `yaml:"listen"`

	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
	CA   string `yaml:"ca"`

	CertSSM string `yaml:"cert_ssm"`
	KeySSM  string `yaml:"key_ssm"`
	CASSM   string `yaml:"ca_ssm"`

	MandatoryMTLS     bool          `yaml:"mandatory_mtls"`
	CipherSuites      []string      `yaml:"cipher_suites"`
	PreferServerOrder bool          `yaml:"prefer_server_order"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	SessionCacheSize  int           `yaml:"session_cache_size"`
	Workers           int           `yaml:"workers"`
}

// LoadFileConfig reads and parses a YAML listener configuration.
func LoadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	fc, err := ParseFileConfig(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	fc.resolve(filepath.Dir(path))

	return fc, nil
}

// ParseFileConfig parses YAML, rejecting unknown keys.
func ParseFileConfig(data []byte) (*FileConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var fc FileConfig
	if err := dec.Decode(&fc); err != nil {
		return nil, err
	}

	if fc.HandshakeTimeout < 0 {
		return nil, errors.New("handshake_timeout must not be negative")
	}

	return &fc, nil
}

// SourceConfig returns where the credentials should be loaded from.
func (fc *FileConfig) SourceConfig() credentials.SourceConfig {
	return credentials.SourceConfig{
		CertChainPath:  fc.Cert,
		PrivateKeyPath: fc.Key,
		CACertsPath:    fc.CA,
		CertChainSSM:   fc.CertSSM,
		PrivateKeySSM:  fc.KeySSM,
		CACertsSSM:     fc.CASSM,
	}
}

// Config combines the file settings with loaded credential material. An
// empty cipher_suites list selects DefaultCipherSuites.
func (fc *FileConfig) Config(material *credentials.Material) (Config, error) {
	suites := tlsconfig.DefaultCipherSuites()
	if len(fc.CipherSuites) > 0 {
		var err error
		suites, err = tlsconfig.ParseCipherSuites(fc.CipherSuites)
		if err != nil {
			return Config{}, &tlsconfig.ConfigError{Op: "cipher suites", Err: err}
		}
	}

	chain, key, ca := material.Readers()

	return Config{
		CertChain:         chain,
		PrivateKey:        key,
		CACerts:           ca,
		MandatoryMTLS:     fc.MandatoryMTLS,
		CipherSuites:      suites,
		PreferServerOrder: fc.PreferServerOrder,
		HandshakeTimeout:  fc.HandshakeTimeout,
		SessionCacheSize:  fc.SessionCacheSize,
	}, nil
}

func (fc *FileConfig) resolve(dir string) {
	for _, p := range []*string{&fc.Cert, &fc.Key, &fc.CA} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}
