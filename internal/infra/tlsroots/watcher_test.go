package tlsroots

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewCertReloader(t *testing.T) {
	certFile, keyFile := certPaths(t)
	writeServerCert(t, certFile, keyFile)

	r, err := NewCertReloader(certFile, keyFile, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewCertReloader() error = %v", err)
	}
	cert, _ := r.GetCertificate(nil)
	if cert == nil || cert.Leaf == nil {
		t.Fatal("GetCertificate() returned no parsed certificate")
	}
	if cfg := r.ServerConfig(); cfg.GetCertificate == nil {
		t.Error("ServerConfig() must route through GetCertificate")
	}
}

func TestNewCertReloader_Invalid(t *testing.T) {
	certFile, keyFile := certPaths(t)

	if _, err := NewCertReloader(certFile, keyFile); err == nil {
		t.Error("NewCertReloader() should fail for missing files")
	}

	if err := os.WriteFile(certFile, []byte("not a cert"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, []byte("not a key"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewCertReloader(certFile, keyFile); err == nil {
		t.Error("NewCertReloader() should fail for invalid PEM")
	}
}

func TestCertReloader_ReloadsOnChange(t *testing.T) {
	certFile, keyFile := certPaths(t)
	first := writeServerCert(t, certFile, keyFile)

	r, err := NewCertReloader(certFile, keyFile,
		WithLogger(quietLogger()),
		WithReloadDelay(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewCertReloader() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Let the watcher register before rewriting.
	time.Sleep(100 * time.Millisecond)
	second := writeServerCert(t, certFile, keyFile)
	if first.Cmp(second) == 0 {
		t.Fatal("test generated identical serials")
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		cert, _ := r.GetCertificate(nil)
		if cert.Leaf != nil && cert.Leaf.SerialNumber.Cmp(second) == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("certificate was not reloaded after the files changed")
}

func TestCertReloader_RunStops(t *testing.T) {
	certFile, keyFile := certPaths(t)
	writeServerCert(t, certFile, keyFile)

	r, err := NewCertReloader(certFile, keyFile, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewCertReloader() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func certPaths(t *testing.T) (string, string) {
	dir := t.TempDir()
	return filepath.Join(dir, "server.crt"), filepath.Join(dir, "server.key")
}

// writeServerCert writes a fresh self-signed pair and returns its serial.
func writeServerCert(t *testing.T, certFile, keyFile string) *big.Int {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	serial := randomSerial(t)

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"rowcache test"}, CommonName: "localhost"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate() error = %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalECPrivateKey() error = %v", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(certFile, certPEM, 0o644); err != nil {
		t.Fatalf("WriteFile(cert) error = %v", err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		t.Fatalf("WriteFile(key) error = %v", err)
	}
	return serial
}
