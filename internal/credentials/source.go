package credentials

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Material holds raw PEM data for the listener in memory
type Material struct {
	CertChain  []byte
	PrivateKey []byte
	// CACerts is nil when client authentication is not configured.
	CACerts []byte
}

// SourceConfig selects where PEM material is loaded from
type SourceConfig struct {
	// File paths (for local development)
	CertChainPath  string
	PrivateKeyPath string
	CACertsPath    string

	// SSM parameter names (for production)
	CertChainSSM  string
	PrivateKeySSM string
	CACertsSSM    string
}

// UseSSM reports whether the config points at SSM parameters.
func (c SourceConfig) UseSSM() bool {
	return c.CertChainSSM != "" || c.PrivateKeySSM != ""
}

// ParameterGetter is the subset of the SSM client used to fetch parameters.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Load loads PEM material from either SSM or files
func Load(ctx context.Context, cfg SourceConfig) (*Material, error) {
	if cfg.UseSSM() {
		awsConfig, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return LoadFromSSM(ctx, ssm.NewFromConfig(awsConfig), cfg)
	}

	return LoadFromFiles(cfg)
}

// LoadFromSSM loads PEM material from AWS SSM Parameter Store
func LoadFromSSM(ctx context.Context, client ParameterGetter, cfg SourceConfig) (*Material, error) {
	if cfg.CertChainSSM == "" || cfg.PrivateKeySSM == "" {
		return nil, errors.New("both certificate chain and private key SSM parameters are required")
	}

	material := &Material{}

	certChain, err := getParameter(ctx, client, cfg.CertChainSSM)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate chain from SSM: %w", err)
	}
	material.CertChain = []byte(certChain)

	privateKey, err := getParameter(ctx, client, cfg.PrivateKeySSM)
	if err != nil {
		return nil, fmt.Errorf("failed to load private key from SSM: %w", err)
	}
	material.PrivateKey = []byte(privateKey)

	if cfg.CACertsSSM != "" {
		caCerts, err := getParameter(ctx, client, cfg.CACertsSSM)
		if err != nil {
			return nil, fmt.Errorf("failed to load CA certificates from SSM: %w", err)
		}
		material.CACerts = []byte(caCerts)
	}

	return material, nil
}

// LoadFromFiles loads PEM material from file paths
func LoadFromFiles(cfg SourceConfig) (*Material, error) {
	if cfg.CertChainPath == "" || cfg.PrivateKeyPath == "" {
		return nil, errors.New("both certificate chain and private key paths are required")
	}

	material := &Material{}

	certChain, err := os.ReadFile(cfg.CertChainPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate chain: %w", err)
	}
	material.CertChain = certChain

	privateKey, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	material.PrivateKey = privateKey

	if cfg.CACertsPath != "" {
		caCerts, err := os.ReadFile(cfg.CACertsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificates: %w", err)
		}
		material.CACerts = caCerts
	}

	return material, nil
}

// getParameter fetches a parameter from SSM
func getParameter(ctx context.Context, client ParameterGetter, name string) (string, error) {
	output, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", err
	}
	if output.Parameter == nil || output.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s has no value", name)
	}
	return *output.Parameter.Value, nil
}

// Readers returns fresh readers over the material. ca is nil when no CA
// certificates were loaded.
func (m *Material) Readers() (chain, key, ca io.Reader) {
	chain = bytes.NewReader(m.CertChain)
	key = bytes.NewReader(m.PrivateKey)
	if m.CACerts != nil {
		ca = bytes.NewReader(m.CACerts)
	}
	return chain, key, ca
}

// Validate checks that the material parses
func (m *Material) Validate() error {
	chain, key, ca := m.Readers()

	if _, err := LoadBundle(chain, key); err != nil {
		return err
	}

	if ca != nil {
		if _, err := LoadCACerts(ca); err != nil {
			return err
		}
	}

	return nil
}
