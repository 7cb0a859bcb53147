package connection

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/typedb/typedb-driver-go/pkg/constants"
)

// TLSConfig selects plaintext or TLS transport.
type TLSConfig struct {
	Enabled bool
	// RootCAPath is a PEM file with the CA certificates to trust.
	// Empty means the system trust roots.
	RootCAPath string
	// ServerName overrides the name verified against the server certificate.
	ServerName string
}

// ClientConfig builds the crypto/tls configuration. It returns nil when TLS is disabled.
func (t TLSConfig) ClientConfig() (*tls.Config, error) {
	if !t.Enabled {
		return nil, nil
	}

	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: t.ServerName,
	}

	if t.RootCAPath == "" {
		return cfg, nil
	}

	pem, err := os.ReadFile(t.RootCAPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", constants.ErrTLSMaterial, err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%w: no certificates found in %s", constants.ErrTLSMaterial, t.RootCAPath)
	}
	cfg.RootCAs = pool

	return cfg, nil
}

// Scheme returns the websocket scheme matching the TLS mode.
func (t TLSConfig) Scheme() string {
	if t.Enabled {
		return constants.WebsocketSecureScheme
	}
	return constants.WebsocketScheme
}
