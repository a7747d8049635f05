// Package config loads the server configuration from a YAML file and the
// environment. Every key can be overridden with a PALISADE_ prefixed
// environment variable, with dots replaced by underscores.
package config

import (
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jmcleod/palisade/ca"
)

// ErrInvalidConfig is returned when the configuration file is present but
// semantically unusable.
var ErrInvalidConfig = errors.New("invalid configuration")

// Storage backend names accepted in the configuration.
const (
	BackendMemory   = "memory"
	BackendBBolt    = "bbolt"
	BackendPostgres = "postgres"
)

// Config is the root server configuration.
type Config struct {
	Port    int    `mapstructure:"port"`
	DataDir string `mapstructure:"data_dir"`
	TLSCert string `mapstructure:"tls_cert"`
	TLSKey  string `mapstructure:"tls_key"`

	Storage   StorageConfig   `mapstructure:"storage"`
	KeyStore  KeyStoreConfig  `mapstructure:"keystore"`
	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`
	Profiles  []ProfileConfig `mapstructure:"profiles"`
}

// StorageConfig selects and parameterizes the repository backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"` // bbolt database file
	DSN     string `mapstructure:"dsn"`  // postgres connection string
}

// Keystore backend names accepted in the configuration.
const (
	KeyStoreSoftware = "software"
	KeyStorePKCS11   = "pkcs11"
)

// KeyStoreConfig selects where CA signing keys live.
type KeyStoreConfig struct {
	Backend string `mapstructure:"backend"`

	// PKCS#11 parameters, used when Backend is "pkcs11". The server must
	// be built with -tags pkcs11 for these to take effect.
	Module     string `mapstructure:"module"`
	TokenLabel string `mapstructure:"token_label"`
	PIN        string `mapstructure:"pin"`
}

// BootstrapConfig seeds the access-control engine on first start.
type BootstrapConfig struct {
	SuperAdmins []string `mapstructure:"super_admins"`
}

// ProfileConfig is the file form of a certificate profile.
type ProfileConfig struct {
	Name                string   `mapstructure:"name"`
	KeyUsages           []string `mapstructure:"key_usages"`
	ExtKeyUsages        []string `mapstructure:"ext_key_usages"`
	DefaultValidityDays int      `mapstructure:"default_validity_days"`
	MaxValidityDays     int      `mapstructure:"max_validity_days"`
	AllowedDNSSuffixes  []string `mapstructure:"allowed_dns_suffixes"`
	AllowIPAddresses    bool     `mapstructure:"allow_ip_addresses"`
}

// Load reads the configuration file at path. An empty path loads defaults
// and environment overrides only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("port", 8443)
	v.SetDefault("data_dir", "./data")
	v.SetDefault("storage.backend", BackendBBolt)
	v.SetDefault("keystore.backend", KeyStoreSoftware)

	v.SetEnvPrefix("PALISADE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendBBolt:
	case BackendPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("%w: postgres backend requires storage.dsn", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage backend %q", ErrInvalidConfig, c.Storage.Backend)
	}
	switch c.KeyStore.Backend {
	case KeyStoreSoftware:
	case KeyStorePKCS11:
		if c.KeyStore.Module == "" {
			return fmt.Errorf("%w: pkcs11 keystore requires keystore.module", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown keystore backend %q", ErrInvalidConfig, c.KeyStore.Backend)
	}
	for _, p := range c.Profiles {
		if _, err := p.Profile(); err != nil {
			return err
		}
	}
	return nil
}

// Profile converts the file form into the profile the authority enforces.
func (p ProfileConfig) Profile() (ca.Profile, error) {
	if p.Name == "" {
		return ca.Profile{}, fmt.Errorf("%w: profile without a name", ErrInvalidConfig)
	}
	var usage x509.KeyUsage
	for _, s := range p.KeyUsages {
		u, ok := keyUsageNames[strings.ToLower(s)]
		if !ok {
			return ca.Profile{}, fmt.Errorf("%w: profile %q: unknown key usage %q", ErrInvalidConfig, p.Name, s)
		}
		usage |= u
	}
	var extUsages []x509.ExtKeyUsage
	for _, s := range p.ExtKeyUsages {
		u, ok := extKeyUsageNames[strings.ToLower(s)]
		if !ok {
			return ca.Profile{}, fmt.Errorf("%w: profile %q: unknown extended key usage %q", ErrInvalidConfig, p.Name, s)
		}
		extUsages = append(extUsages, u)
	}
	return ca.Profile{
		Name:               p.Name,
		KeyUsages:          usage,
		ExtKeyUsages:       extUsages,
		DefaultValidity:    time.Duration(p.DefaultValidityDays) * 24 * time.Hour,
		MaxValidity:        time.Duration(p.MaxValidityDays) * 24 * time.Hour,
		AllowedDNSSuffixes: p.AllowedDNSSuffixes,
		AllowIPAddresses:   p.AllowIPAddresses,
	}, nil
}

var keyUsageNames = map[string]x509.KeyUsage{
	"digitalsignature":  x509.KeyUsageDigitalSignature,
	"contentcommitment": x509.KeyUsageContentCommitment,
	"keyencipherment":   x509.KeyUsageKeyEncipherment,
	"dataencipherment":  x509.KeyUsageDataEncipherment,
	"keyagreement":      x509.KeyUsageKeyAgreement,
	"certsign":          x509.KeyUsageCertSign,
	"crlsign":           x509.KeyUsageCRLSign,
}

var extKeyUsageNames = map[string]x509.ExtKeyUsage{
	"serverauth":      x509.ExtKeyUsageServerAuth,
	"clientauth":      x509.ExtKeyUsageClientAuth,
	"codesigning":     x509.ExtKeyUsageCodeSigning,
	"emailprotection": x509.ExtKeyUsageEmailProtection,
	"timestamping":    x509.ExtKeyUsageTimeStamping,
	"ocspsigning":     x509.ExtKeyUsageOCSPSigning,
}
