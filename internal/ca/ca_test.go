package ca

import (
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(t.TempDir())
	require.NoError(t, err)
	return m
}

func TestEnsureRootCreatesFiles(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.EnsureRoot())

	assert.FileExists(t, m.RootCertFile())
	assert.FileExists(t, m.RootKeyFile())

	cert, err := LoadCertificate(m.RootCertFile())
	require.NoError(t, err)
	assert.True(t, cert.IsCA)
	assert.Equal(t, "LCCF CA", cert.Subject.CommonName)
	assert.NotZero(t, cert.KeyUsage&x509.KeyUsageCertSign)
}

func TestEnsureRootIdempotent(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.EnsureRoot())

	before, err := os.ReadFile(m.RootCertFile())
	require.NoError(t, err)
	beforeKey, err := os.ReadFile(m.RootKeyFile())
	require.NoError(t, err)

	require.NoError(t, m.EnsureRoot())

	after, err := os.ReadFile(m.RootCertFile())
	require.NoError(t, err)
	afterKey, err := os.ReadFile(m.RootKeyFile())
	require.NoError(t, err)

	assert.Equal(t, before, after)
	assert.Equal(t, beforeKey, afterKey)
}

func TestEnsureServerCert(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.EnsureRoot())
	require.NoError(t, m.EnsureServerCert("lab-controller"))

	cert, err := LoadCertificate(m.ServerCertFile())
	require.NoError(t, err)
	assert.Equal(t, "lab-controller", cert.Subject.CommonName)
	assert.Contains(t, cert.DNSNames, "lab-controller")
	assert.Contains(t, cert.DNSNames, "localhost")
	require.Len(t, cert.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", cert.IPAddresses[0].String())
	assert.False(t, cert.IsCA)

	// Verifies against the root.
	root, err := LoadCertificate(m.RootCertFile())
	require.NoError(t, err)
	pool := x509.NewCertPool()
	pool.AddCert(root)
	_, err = cert.Verify(x509.VerifyOptions{Roots: pool})
	assert.NoError(t, err)
}

func TestEnsureServerCertIdempotentOnFiles(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.EnsureRoot())
	require.NoError(t, m.EnsureServerCert("host-a"))

	before, err := os.ReadFile(m.ServerCertFile())
	require.NoError(t, err)

	// A different hostname does not regenerate while the files exist.
	require.NoError(t, m.EnsureServerCert("host-b"))
	after, err := os.ReadFile(m.ServerCertFile())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestIssueClientCertRequiresRoot(t *testing.T) {
	m := newTestManager(t)
	_, _, err := m.IssueClientCert("alice")
	assert.ErrorIs(t, err, ErrMissingRoot)
}

func TestIssueClientCert(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.EnsureRoot())

	certFile, keyFile, err := m.IssueClientCert("alice")
	require.NoError(t, err)
	assert.Equal(t, m.ClientCertFile("alice"), certFile)
	assert.FileExists(t, keyFile)

	cert, err := LoadCertificate(certFile)
	require.NoError(t, err)
	assert.Equal(t, "alice", cert.Subject.CommonName)
	assert.Contains(t, cert.ExtKeyUsage, x509.ExtKeyUsageClientAuth)

	root, err := LoadCertificate(m.RootCertFile())
	require.NoError(t, err)
	pool := x509.NewCertPool()
	pool.AddCert(root)
	_, err = cert.Verify(x509.VerifyOptions{
		Roots:     pool,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	})
	assert.NoError(t, err)
}

func TestIssueClientCertAlwaysFresh(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.EnsureRoot())

	certFile, keyFile, err := m.IssueClientCert("bob")
	require.NoError(t, err)
	firstCert, err := LoadCertificate(certFile)
	require.NoError(t, err)
	firstKey, err := os.ReadFile(keyFile)
	require.NoError(t, err)

	_, _, err = m.IssueClientCert("bob")
	require.NoError(t, err)
	secondCert, err := LoadCertificate(certFile)
	require.NoError(t, err)
	secondKey, err := os.ReadFile(keyFile)
	require.NoError(t, err)

	assert.NotEqual(t, firstCert.SerialNumber, secondCert.SerialNumber)
	assert.NotEqual(t, firstKey, secondKey)
}

func TestListClients(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.EnsureRoot())

	_, _, err := m.IssueClientCert("carol")
	require.NoError(t, err)
	_, _, err = m.IssueClientCert("alice")
	require.NoError(t, err)

	// A cert without its key is excluded.
	_, _, err = m.IssueClientCert("ghost")
	require.NoError(t, err)
	require.NoError(t, os.Remove(m.ClientKeyFile("ghost")))

	clients, err := m.ListClients()
	require.NoError(t, err)
	require.Len(t, clients, 2)
	assert.Equal(t, "alice", clients[0].ID)
	assert.Equal(t, "carol", clients[1].ID)
}

func TestListClientsEmpty(t *testing.T) {
	m := newTestManager(t)
	clients, err := m.ListClients()
	require.NoError(t, err)
	assert.Empty(t, clients)
}

func TestCertInfo(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.EnsureRoot())
	_, _, err := m.IssueClientCert("dave")
	require.NoError(t, err)

	info, err := CertInfo(m.ClientCertFile("dave"))
	require.NoError(t, err)
	assert.Equal(t, "dave", info.CommonName)
	assert.NotEmpty(t, info.Serial)
	assert.False(t, info.Expired)
	assert.True(t, info.NotAfter.After(info.NotBefore))
}

func TestLoadCertificateMalformed(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.crt")
	require.NoError(t, os.WriteFile(bad, []byte("not a certificate"), 0o644))
	_, err := LoadCertificate(bad)
	assert.Error(t, err)
}

func TestFreshDirectoryBootstrap(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.EnsureRoot())
	require.NoError(t, m.EnsureServerCert("localhost"))
	_, _, err := m.IssueClientCert("op1")
	require.NoError(t, err)

	for _, f := range []string{
		m.RootCertFile(), m.RootKeyFile(),
		m.ServerCertFile(), m.ServerKeyFile(),
		m.ClientCertFile("op1"), m.ClientKeyFile("op1"),
	} {
		assert.FileExists(t, f)
	}
	assert.True(t, m.HasRoot())
	assert.True(t, m.HasServerCert())
}
