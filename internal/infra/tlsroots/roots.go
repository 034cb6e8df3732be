package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

var (
	// ErrNoCertsFound is returned when PEM data holds no certificate blocks.
	ErrNoCertsFound = errors.New("tlsroots: no certificates found in PEM data")
)

// Pool is a set of trusted root certificates.
type Pool struct {
	certs *x509.CertPool
	added int
}

// SystemPool returns a pool seeded with the host's roots. Hosts without a
// readable system store get an empty pool.
func SystemPool() *Pool {
	certs, err := x509.SystemCertPool()
	if err != nil {
		certs = x509.NewCertPool()
	}
	return &Pool{certs: certs}
}

// EmptyPool returns a pool that trusts nothing until certificates are added.
func EmptyPool() *Pool {
	return &Pool{certs: x509.NewCertPool()}
}

// AddPEMFile adds every certificate in a PEM bundle on disk.
func (p *Pool) AddPEMFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("tlsroots: read CA file %s: %w", path, err)
	}
	if err := p.AddPEM(data); err != nil {
		return fmt.Errorf("%w (%s)", err, path)
	}
	return nil
}

// AddPEM adds every CERTIFICATE block in data. Other block types are
// ignored.
func (p *Pool) AddPEM(data []byte) error {
	n := 0
	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}

		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return fmt.Errorf("tlsroots: parse certificate: %w", err)
		}
		p.certs.AddCert(cert)
		n++
	}

	if n == 0 {
		return ErrNoCertsFound
	}
	p.added += n
	return nil
}

// Added returns how many certificates were added beyond the seed roots.
func (p *Pool) Added() int {
	return p.added
}

// CertPool returns the underlying pool.
func (p *Pool) CertPool() *x509.CertPool {
	return p.certs
}

// ClientConfig returns a TLS 1.2+ client config that trusts this pool.
func (p *Pool) ClientConfig() *tls.Config {
	return &tls.Config{
		RootCAs:    p.certs,
		MinVersion: tls.VersionTLS12,
	}
}

// ClientConfig builds the TLS config for an outbound client. It returns nil,
// meaning Go's defaults, when no CA file is given and verification is on.
func ClientConfig(caFile string, insecureSkipVerify bool) (*tls.Config, error) {
	if caFile == "" && !insecureSkipVerify {
		return nil, nil
	}

	pool := SystemPool()
	if caFile != "" {
		if err := pool.AddPEMFile(caFile); err != nil {
			return nil, err
		}
	}

	cfg := pool.ClientConfig()
	cfg.InsecureSkipVerify = insecureSkipVerify
	return cfg, nil
}
