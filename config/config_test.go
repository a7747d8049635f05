package config_test

import (
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/palisade/config"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "palisade.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 8443, cfg.Port)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, config.BackendBBolt, cfg.Storage.Backend)
	assert.Equal(t, config.KeyStoreSoftware, cfg.KeyStore.Backend)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
port: 9443
data_dir: /var/lib/palisade
storage:
  backend: memory
bootstrap:
  super_admins:
    - root
    - ops
profiles:
  - name: tls-server
    key_usages: [digitalSignature, keyEncipherment]
    ext_key_usages: [serverAuth]
    default_validity_days: 30
    max_validity_days: 90
    allowed_dns_suffixes: [example.com]
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9443, cfg.Port)
	assert.Equal(t, config.BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, []string{"root", "ops"}, cfg.Bootstrap.SuperAdmins)

	require.Len(t, cfg.Profiles, 1)
	profile, err := cfg.Profiles[0].Profile()
	require.NoError(t, err)
	assert.Equal(t, "tls-server", profile.Name)
	assert.Equal(t, x509.KeyUsageDigitalSignature|x509.KeyUsageKeyEncipherment, profile.KeyUsages)
	assert.Equal(t, []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}, profile.ExtKeyUsages)
	assert.Equal(t, 30*24*time.Hour, profile.DefaultValidity)
	assert.Equal(t, 90*24*time.Hour, profile.MaxValidity)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := writeConfig(t, "storage:\n  backend: etcd\n")
	_, err := config.Load(path)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestLoadRejectsPostgresWithoutDSN(t *testing.T) {
	path := writeConfig(t, "storage:\n  backend: postgres\n")
	_, err := config.Load(path)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestLoadRejectsPKCS11WithoutModule(t *testing.T) {
	path := writeConfig(t, "keystore:\n  backend: pkcs11\n")
	_, err := config.Load(path)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestLoadRejectsUnknownKeyUsage(t *testing.T) {
	path := writeConfig(t, `
profiles:
  - name: broken
    key_usages: [flying]
`)
	_, err := config.Load(path)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}
