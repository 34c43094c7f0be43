package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

var ErrInvalidTLSConfig = errors.New("transport: invalid TLS configuration")

// TLSConfig describes how to build a *tls.Config for a Listener. CAFile is
// optional; when set, client certificates are required and verified
// against it.
type TLSConfig struct {
	CertFile   string
	KeyFile    string
	CAFile     string
	ClientAuth tls.ClientAuthType
	MinVersion uint16
}

func DefaultTLSConfig() TLSConfig {
	return TLSConfig{
		ClientAuth: tls.NoClientCert,
		MinVersion: tls.VersionTLS13,
	}
}

// Build loads the certificate/key pair and, if CAFile is set, the client CA
// pool, returning a ready-to-use *tls.Config for transport.ListenerConfig.
func (tc TLSConfig) Build() (*tls.Config, error) {
	if tc.CertFile == "" || tc.KeyFile == "" {
		return nil, ErrInvalidTLSConfig
	}

	cert, err := tls.LoadX509KeyPair(tc.CertFile, tc.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("transport: load certificate: %w", err)
	}

	config := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tc.ClientAuth,
		MinVersion:   tc.MinVersion,
	}

	if tc.CAFile != "" {
		caCert, err := os.ReadFile(tc.CAFile)
		if err != nil {
			return nil, fmt.Errorf("transport: read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("transport: parse CA certificate")
		}
		config.ClientCAs = pool
		config.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return config, nil
}
