// Package certs manages the self-signed certificate used when the API is
// served over HTTPS without an externally issued certificate.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
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
	certFileName = "iago.crt"
	keyFileName  = "iago.key"
	validity     = 365 * 24 * time.Hour
	// Certificates closer than this to expiry are regenerated.
	renewBefore = 7 * 24 * time.Hour
)

// FileManager keeps a self-signed certificate and key in a directory.
type FileManager struct {
	now   func() time.Time
	dir   string
	hosts []string
}

// NewFileManager creates a manager for dir. The certificate covers hosts
// (names or IP addresses) in addition to localhost and the loopback addresses.
func NewFileManager(dir string, hosts ...string) *FileManager {
	return &FileManager{
		dir:   dir,
		hosts: hosts,
		now:   time.Now,
	}
}

// CertFile returns the PEM certificate path.
func (m *FileManager) CertFile() string {
	return filepath.Join(m.dir, certFileName)
}

// KeyFile returns the PEM private key path.
func (m *FileManager) KeyFile() string {
	return filepath.Join(m.dir, keyFileName)
}

// Ensure makes sure a usable certificate exists on disk, generating one when
// it is missing, unreadable, expiring or does not cover the configured hosts.
func (m *FileManager) Ensure() (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(m.CertFile(), m.KeyFile())
	switch {
	case err == nil:
		verifyErr := m.verify(cert)
		if verifyErr == nil {
			return cert, nil
		}
		slog.Info("Regenerating TLS certificate", "reason", verifyErr)
	case errors.Is(err, os.ErrNotExist):
	default:
		slog.Warn("Existing TLS certificate is unreadable, regenerating", "error", err)
	}

	if err := m.generate(); err != nil {
		return tls.Certificate{}, err
	}
	return tls.LoadX509KeyPair(m.CertFile(), m.KeyFile())
}

func (m *FileManager) names() (dnsNames []string, ips []net.IP) {
	dnsNames = []string{"localhost"}
	ips = []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}
	for _, host := range m.hosts {
		if host == "" || host == "localhost" {
			continue
		}
		if ip := net.ParseIP(host); ip != nil {
			if !ip.IsUnspecified() {
				ips = append(ips, ip)
			}
			continue
		}
		dnsNames = append(dnsNames, host)
	}
	return dnsNames, ips
}

func (m *FileManager) generate() error {
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create certificate directory: %w", err)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate private key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := m.now()
	dnsNames, ips := m.names()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"iago"}, CommonName: dnsNames[0]},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              dnsNames,
		IPAddresses:           ips,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("failed to create certificate: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("failed to encode private key: %w", err)
	}

	if err := writePEM(m.CertFile(), "CERTIFICATE", der); err != nil {
		return err
	}
	if err := writePEM(m.KeyFile(), "EC PRIVATE KEY", keyDER); err != nil {
		return err
	}

	slog.Info("Generated self-signed TLS certificate",
		"cert", m.CertFile(),
		"hosts", append(dnsNames, ipStrings(ips)...),
		"expires", template.NotAfter.Format(time.DateOnly))
	return nil
}

func (m *FileManager) verify(cert tls.Certificate) error {
	if len(cert.Certificate) == 0 {
		return errors.New("no certificates found")
	}

	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}

	now := m.now()
	if now.Before(parsed.NotBefore) {
		return errors.New("certificate not yet valid")
	}
	if now.Add(renewBefore).After(parsed.NotAfter) {
		return errors.New("certificate expires soon")
	}

	for _, host := range append([]string{"localhost"}, m.hosts...) {
		if host == "" || net.ParseIP(host).IsUnspecified() {
			continue
		}
		if err := parsed.VerifyHostname(host); err != nil {
			return fmt.Errorf("certificate does not cover %s: %w", host, err)
		}
	}
	return nil
}

func writePEM(path, blockType string, der []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open %s for writing: %w", path, err)
	}
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}

func ipStrings(ips []net.IP) []string {
	out := make([]string, len(ips))
	for i, ip := range ips {
		out[i] = ip.String()
	}
	return out
}
