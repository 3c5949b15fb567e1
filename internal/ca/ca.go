// Package ca owns the on-disk certificate authority used for mutual TLS.
//
// Layout under the certificate directory is fixed and shared with existing
// deployments:
//
//	ca.crt  ca.key          root certificate and key
//	server.crt  server.key  server leaf
//	clients/<id>.crt  clients/<id>.key
//
// The root and server pair are load-or-create; client certificates are
// regenerated on every issuance.
package ca

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	rsaKeyBits = 2048

	rootValidity = 10 * 365 * 24 * time.Hour
	leafValidity = 365 * 24 * time.Hour
)

// ErrMissingRoot is returned when leaf issuance is attempted before the
// root certificate and key exist on disk.
var ErrMissingRoot = errors.New("ca: root certificate not found (run setup-server first)")

// Manager issues and persists all PKI material for one certificate directory.
type Manager struct {
	dir        string
	clientsDir string
}

// New prepares the certificate directory (creating it and the clients
// subdirectory if needed) and returns a Manager rooted there.
func New(certDir string) (*Manager, error) {
	clean := filepath.Clean(certDir)
	clientsDir := filepath.Join(clean, "clients")
	if err := os.MkdirAll(clientsDir, 0o750); err != nil {
		return nil, fmt.Errorf("create cert dir: %w", err)
	}
	return &Manager{dir: clean, clientsDir: clientsDir}, nil
}

func (m *Manager) Dir() string            { return m.dir }
func (m *Manager) RootCertFile() string   { return filepath.Join(m.dir, "ca.crt") }
func (m *Manager) RootKeyFile() string    { return filepath.Join(m.dir, "ca.key") }
func (m *Manager) ServerCertFile() string { return filepath.Join(m.dir, "server.crt") }
func (m *Manager) ServerKeyFile() string  { return filepath.Join(m.dir, "server.key") }

// ClientCertFile returns the certificate path for an operator id.
func (m *Manager) ClientCertFile(id string) string {
	return filepath.Join(m.clientsDir, id+".crt")
}

// ClientKeyFile returns the private key path for an operator id.
func (m *Manager) ClientKeyFile(id string) string {
	return filepath.Join(m.clientsDir, id+".key")
}

// subject builds the distinguished name shared by every certificate in the
// store; only the common name varies.
func subject(commonName string) pkix.Name {
	return pkix.Name{
		Country:      []string{"US"},
		Province:     []string{"IL"},
		Locality:     []string{"Urbana"},
		Organization: []string{"LCCF Lab"},
		CommonName:   commonName,
	}
}

func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	return rand.Int(rand.Reader, limit)
}

// EnsureRoot loads the root certificate and key if both files exist,
// generating and persisting a new self-signed root otherwise. Calling it
// repeatedly never regenerates existing material.
func (m *Manager) EnsureRoot() error {
	if filesExist(m.RootCertFile(), m.RootKeyFile()) {
		_, _, err := m.loadRoot()
		return err
	}
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return fmt.Errorf("generate root key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return fmt.Errorf("root serial: %w", err)
	}
	now := time.Now()
	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               subject("LCCF CA"),
		NotBefore:             now,
		NotAfter:              now.Add(rootValidity),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}
	// Self-signed: template doubles as issuer.
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create root certificate: %w", err)
	}
	return writeCertAndKey(der, key, m.RootCertFile(), m.RootKeyFile())
}

// EnsureServerCert issues the server leaf signed by the root if server.crt
// or server.key is missing. The existence check is file-based only; a
// hostname change requires deleting the server pair first.
func (m *Manager) EnsureServerCert(hostname string) error {
	if filesExist(m.ServerCertFile(), m.ServerKeyFile()) {
		return nil
	}
	caCert, caKey, err := m.loadRoot()
	if err != nil {
		return err
	}
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return fmt.Errorf("generate server key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return fmt.Errorf("server serial: %w", err)
	}
	now := time.Now()
	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               subject(hostname),
		NotBefore:             now,
		NotAfter:              now.Add(leafValidity),
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDataEncipherment | x509.KeyUsageDigitalSignature,
		DNSNames:              serverDNSNames(hostname),
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1)},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, caCert, &key.PublicKey, caKey)
	if err != nil {
		return fmt.Errorf("create server certificate: %w", err)
	}
	return writeCertAndKey(der, key, m.ServerCertFile(), m.ServerKeyFile())
}

func serverDNSNames(hostname string) []string {
	if hostname == "localhost" {
		return []string{"localhost"}
	}
	return []string{hostname, "localhost"}
}

// IssueClientCert generates a brand-new key pair and certificate for the
// operator, overwriting any previous pair. The operator id becomes the
// subject common name, which the server reads back as the caller identity.
// Re-issuing does not invalidate a previously issued certificate before its
// natural expiry; there is no revocation path.
func (m *Manager) IssueClientCert(operatorID string) (certFile, keyFile string, err error) {
	if !filesExist(m.RootCertFile(), m.RootKeyFile()) {
		return "", "", ErrMissingRoot
	}
	caCert, caKey, err := m.loadRoot()
	if err != nil {
		return "", "", err
	}
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return "", "", fmt.Errorf("generate client key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return "", "", fmt.Errorf("client serial: %w", err)
	}
	now := time.Now()
	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               subject(operatorID),
		NotBefore:             now,
		NotAfter:              now.Add(leafValidity),
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, caCert, &key.PublicKey, caKey)
	if err != nil {
		return "", "", fmt.Errorf("create client certificate: %w", err)
	}
	certFile = m.ClientCertFile(operatorID)
	keyFile = m.ClientKeyFile(operatorID)
	if err := writeCertAndKey(der, key, certFile, keyFile); err != nil {
		return "", "", err
	}
	return certFile, keyFile, nil
}

// Client describes one issued operator certificate found on disk.
type Client struct {
	ID       string
	CertFile string
	KeyFile  string
}

// ListClients scans the clients directory and returns operators for which
// both the certificate and its key are present. A certificate whose key
// file has been removed is skipped.
func (m *Manager) ListClients() ([]Client, error) {
	entries, err := os.ReadDir(m.clientsDir)
	if err != nil {
		return nil, fmt.Errorf("read clients dir: %w", err)
	}
	var out []Client
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".crt") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".crt")
		keyFile := m.ClientKeyFile(id)
		if _, err := os.Stat(keyFile); err != nil {
			continue
		}
		out = append(out, Client{ID: id, CertFile: m.ClientCertFile(id), KeyFile: keyFile})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// HasRoot reports whether both root files are present.
func (m *Manager) HasRoot() bool { return filesExist(m.RootCertFile(), m.RootKeyFile()) }

// HasServerCert reports whether both server leaf files are present.
func (m *Manager) HasServerCert() bool {
	return filesExist(m.ServerCertFile(), m.ServerKeyFile())
}

func (m *Manager) loadRoot() (*x509.Certificate, *rsa.PrivateKey, error) {
	cert, err := LoadCertificate(m.RootCertFile())
	if err != nil {
		return nil, nil, err
	}
	key, err := loadPrivateKey(m.RootKeyFile())
	if err != nil {
		return nil, nil, err
	}
	return cert, key, nil
}

func filesExist(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// writeCertAndKey persists a DER certificate and its key as PEM. The key is
// stored unencrypted (PKCS#8) for operational simplicity; the directory
// permissions are the protection boundary. Both files are written before
// success is reported so a reader never observes a cert without its key.
func writeCertAndKey(certDER []byte, key *rsa.PrivateKey, certFile, keyFile string) error {
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(certFile, certPEM, 0o644); err != nil {
		return fmt.Errorf("write certificate %s: %w", certFile, err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		// Do not leave a cert without a key behind.
		_ = os.Remove(certFile)
		return fmt.Errorf("write private key %s: %w", keyFile, err)
	}
	return nil
}

// Info is a human-oriented summary of one certificate, used by the CLI.
type Info struct {
	CommonName string
	Serial     string
	NotBefore  time.Time
	NotAfter   time.Time
	Expired    bool
}

// CertInfo loads a PEM certificate and summarizes it.
func CertInfo(path string) (Info, error) {
	cert, err := LoadCertificate(path)
	if err != nil {
		return Info{}, err
	}
	return Info{
		CommonName: cert.Subject.CommonName,
		Serial:     cert.SerialNumber.Text(16),
		NotBefore:  cert.NotBefore,
		NotAfter:   cert.NotAfter,
		Expired:    time.Now().After(cert.NotAfter),
	}, nil
}

// LoadCertificate parses a single PEM certificate from path.
func LoadCertificate(path string) (*x509.Certificate, error) {
	// #nosec G304 paths originate from the fixed store layout
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(b)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("parse certificate %s: no PEM certificate block", path)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate %s: %w", path, err)
	}
	return cert, nil
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	// #nosec G304 paths originate from the fixed store layout
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, fmt.Errorf("parse private key %s: no PEM block", path)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", path, err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("parse private key %s: not an RSA key", path)
	}
	return rsaKey, nil
}
