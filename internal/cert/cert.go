// Package cert bootstraps the certificate material for the gRPC agent
// transport: a private CA, a server certificate signed by it, and client
// certificates for agents when mutual TLS is on.
package cert

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const (
	keyBits          = 2048
	caValidity       = 10 * 365 * 24 * time.Hour
	leafValidity     = 365 * 24 * time.Hour
	organization     = "Silo Fleet"
	caCommonName     = "Silo Fleet CA"
	serverCommonName = "silo-fleet-server"
)

type Paths struct {
	CACert     string
	CAKey      string
	ServerCert string
	ServerKey  string
}

type Options struct {
	DomainNames []string
	IPAddresses []net.IP
}

// Service holds a loaded CA and signs leaf certificates with it.
type Service struct {
	paths  Paths
	caCert *x509.Certificate
	caKey  *rsa.PrivateKey
}

// Ensure loads the CA and server certificate at paths, generating whichever is
// missing. A server certificate is reissued when a new CA had to be created.
func Ensure(paths Paths, opts Options) (*Service, error) {
	if len(opts.DomainNames) == 0 {
		opts.DomainNames = []string{"localhost"}
	}
	if len(opts.IPAddresses) == 0 {
		opts.IPAddresses = []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")}
	}

	s := &Service{paths: paths}

	newCA := false
	if fileExists(paths.CACert) && fileExists(paths.CAKey) {
		caCert, caKey, err := loadCA(paths.CACert, paths.CAKey)
		if err != nil {
			return nil, err
		}
		s.caCert, s.caKey = caCert, caKey
		slog.Info("Loaded CA certificate", "cert_path", paths.CACert)
	} else {
		slog.Info("CA certificate not found, generating new CA", "cert_path", paths.CACert)
		caCert, caKey, err := generateCA()
		if err != nil {
			return nil, fmt.Errorf("failed to generate CA certificate: %w", err)
		}
		if err := writePair(caCert, caKey, paths.CACert, paths.CAKey); err != nil {
			return nil, err
		}
		s.caCert, s.caKey = caCert, caKey
		newCA = true
	}

	if newCA || !fileExists(paths.ServerCert) || !fileExists(paths.ServerKey) {
		slog.Info("Generating server certificate",
			"cert_path", paths.ServerCert,
			"domain_names", opts.DomainNames,
			"ip_addresses", opts.IPAddresses)
		cert, key, err := s.sign(serverCommonName, x509.ExtKeyUsageServerAuth, opts.DomainNames, opts.IPAddresses)
		if err != nil {
			return nil, fmt.Errorf("failed to generate server certificate: %w", err)
		}
		if err := writePair(cert, key, paths.ServerCert, paths.ServerKey); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// IssueClientCert signs a client certificate whose common name is the agent id.
func (s *Service) IssueClientCert(agentID, certPath, keyPath string) error {
	if agentID == "" {
		return errors.New("agent id is required")
	}
	cert, key, err := s.sign(agentID, x509.ExtKeyUsageClientAuth, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to generate client certificate: %w", err)
	}
	return writePair(cert, key, certPath, keyPath)
}

func (s *Service) CACert() *x509.Certificate {
	return s.caCert
}

func generateCA() (*x509.Certificate, *rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, nil, err
	}
	serial, err := serialNumber()
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{organization}, CommonName: caCommonName},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(caValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, err
	}
	return cert, key, nil
}

func (s *Service) sign(commonName string, usage x509.ExtKeyUsage, dnsNames []string, ips []net.IP) (*x509.Certificate, *rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, nil, err
	}
	serial, err := serialNumber()
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{Organization: []string{organization}, CommonName: commonName},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(leafValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{usage},
		DNSNames:     dnsNames,
		IPAddresses:  ips,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, s.caCert, &key.PublicKey, s.caKey)
	if err != nil {
		return nil, nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, err
	}
	return cert, key, nil
}

func serialNumber() (*big.Int, error) {
	return rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
}

func loadCA(certPath, keyPath string) (*x509.Certificate, *rsa.PrivateKey, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, nil, fmt.Errorf("failed to decode CA certificate PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CA key: %w", err)
	}
	block, _ = pem.Decode(keyPEM)
	if block == nil || block.Type != "RSA PRIVATE KEY" {
		return nil, nil, fmt.Errorf("failed to decode CA key PEM")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse CA key: %w", err)
	}

	return cert, key, nil
}

func writePair(cert *x509.Certificate, key *rsa.PrivateKey, certPath, keyPath string) error {
	if err := writePEM(certPath, "CERTIFICATE", cert.Raw, 0o644); err != nil {
		return fmt.Errorf("failed to write certificate: %w", err)
	}
	if err := writePEM(keyPath, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key), 0o600); err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}
	return nil
}

func writePEM(path, blockType string, der []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	return os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}), perm)
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
