package security

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
)

// TLSConfig holds the node's REST-transport TLS material.
type TLSConfig struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

// LoadTLSConfig loads a certificate/key pair into a *tls.Config suitable
// for internal/api's HTTP server. An empty certFile/keyFile pair means
// TLS is disabled and nil is returned.
func LoadTLSConfig(certFile, keyFile, caFile string) (*tls.Config, error) {
	if certFile == "" || keyFile == "" {
		return nil, nil
	}

	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("read cert file: %w", err)
	}
	if err := ValidateCertificate(certPEM); err != nil {
		return nil, fmt.Errorf("validate cert file %s: %w", certFile, err)
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if caFile != "" {
		pool := x509.NewCertPool()
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no certificates parsed from %s", caFile)
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return cfg, nil
}

// ValidateCertificate parses and sanity-checks a PEM-encoded certificate.
// LoadTLSConfig runs every cert file through it before handing the pair
// to tls.LoadX509KeyPair, so a malformed cert fails with a clear error
// instead of an opaque one from the stdlib TLS stack.
func ValidateCertificate(certPEM []byte) error {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return fmt.Errorf("invalid PEM block")
	}

	_, err := x509.ParseCertificate(block.Bytes)
	return err
}

// GenerateCertID generates a unique identifier for a certificate load
// event, stamped into the audit log by configd so separate TLS reloads
// can be told apart in the record.
func GenerateCertID() string {
	return uuid.New().String()
}

// AuditLogger records security-relevant events: Propose/Vote submissions
// accepted by internal/api and TLS certificate loads in configd. It
// writes through the standard logger. Kept enabled/disabled by
// SecurityConfig.AuditLogPath like the rest of the node's ambient
// logging.
type AuditLogger struct {
	enabled bool
}

// NewAuditLogger creates an audit logger. Passing an empty path disables
// it.
func NewAuditLogger(auditLogPath string) *AuditLogger {
	return &AuditLogger{enabled: auditLogPath != ""}
}

// LogSecurityEvent logs a named security event with free-form detail.
func (al *AuditLogger) LogSecurityEvent(eventType, details string) {
	if !al.enabled {
		return
	}
	log.Printf("audit: [%s] %s", eventType, details)
}

// LogAccess logs who took what action against which resource, used by
// internal/api for every configuration-mutating request it accepts.
func (al *AuditLogger) LogAccess(resource, action, actor string) {
	if !al.enabled {
		return
	}
	log.Printf("audit: %s %s by %s", action, resource, actor)
}
