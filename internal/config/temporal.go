package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	temporalclient "go.temporal.io/sdk/client"
)

// TemporalClientOptions builds the client options used by every binary that
// talks to Temporal. mTLS is enabled when a client cert and key are set.
func (c *Config) TemporalClientOptions() (temporalclient.Options, error) {
	opts := temporalclient.Options{
		HostPort:  c.TemporalAddress,
		Namespace: c.TemporalNamespace,
	}
	tlsConfig, err := c.temporalTLS()
	if err != nil {
		return opts, err
	}
	if tlsConfig != nil {
		opts.ConnectionOptions = temporalclient.ConnectionOptions{TLS: tlsConfig}
	}
	return opts, nil
}

func (c *Config) temporalTLS() (*tls.Config, error) {
	if c.TemporalTLSCert == "" && c.TemporalTLSKey == "" {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(c.TemporalTLSCert, c.TemporalTLSKey)
	if err != nil {
		return nil, fmt.Errorf("load temporal client cert: %w", err)
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ServerName:   c.TemporalTLSServerName,
		MinVersion:   tls.VersionTLS12,
	}

	if c.TemporalTLSCACert != "" {
		caPEM, err := os.ReadFile(c.TemporalTLSCACert)
		if err != nil {
			return nil, fmt.Errorf("read temporal CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse temporal CA cert")
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}
