package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"

	"github.com/EternisAI/silo-fleet/internal/cert"
)

func certPaths() cert.Paths {
	return cert.Paths{
		CACert:     config.Grpc.TLS.CAFile,
		CAKey:      config.Grpc.AutoCert.CAKeyFile,
		ServerCert: config.Grpc.TLS.CertFile,
		ServerKey:  config.Grpc.TLS.KeyFile,
	}
}

func certOptions() cert.Options {
	var ips []net.IP
	for _, raw := range ParseCommaSeparated(config.Grpc.AutoCert.IPAddresses) {
		ip := net.ParseIP(raw)
		if ip == nil {
			slog.Warn("Ignoring invalid IP address", "ip", raw)
			continue
		}
		ips = append(ips, ip)
	}
	return cert.Options{
		DomainNames: ParseCommaSeparated(config.Grpc.AutoCert.DomainNames),
		IPAddresses: ips,
	}
}

// ensureCertificates generates the gRPC TLS material when auto_cert is on.
func ensureCertificates() (*cert.Service, error) {
	paths := certPaths()
	if paths.CACert == "" || paths.CAKey == "" || paths.ServerCert == "" || paths.ServerKey == "" {
		return nil, fmt.Errorf("grpc.tls.ca_file, grpc.auto_cert.ca_key_file, grpc.tls.cert_file and grpc.tls.key_file are required")
	}
	return cert.Ensure(paths, certOptions())
}

// runIssueClientCert signs an agent client certificate with the server CA for
// mutual TLS.
func runIssueClientCert(args []string) error {
	fs := flag.NewFlagSet("issue-client-cert", flag.ExitOnError)
	agentID := fs.String("agent-id", "", "Agent ID (certificate common name)")
	outDir := fs.String("out", "./certs/agents", "Directory to write the certificate and key")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *agentID == "" {
		return fmt.Errorf("--agent-id is required")
	}

	certs, err := ensureCertificates()
	if err != nil {
		return err
	}

	certPath := filepath.Join(*outDir, *agentID+"-cert.pem")
	keyPath := filepath.Join(*outDir, *agentID+"-key.pem")
	if err := certs.IssueClientCert(*agentID, certPath, keyPath); err != nil {
		return err
	}

	fmt.Println("Client certificate issued!")
	fmt.Printf("  Cert:    %s\n", certPath)
	fmt.Printf("  Key:     %s\n", keyPath)
	fmt.Printf("  CA Cert: %s\n", config.Grpc.TLS.CAFile)
	return nil
}
