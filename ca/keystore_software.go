package ca

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/palisade/internal/util"
)

// ---------------------------------------------------------------------------
// SoftwareKeyStore: default implementation backed by in-memory ECDSA keys
// ---------------------------------------------------------------------------

// SoftwareKeyStore holds ECDSA P-256 private keys, identified by an opaque
// string generated at creation time. Key material rests in a memguard
// enclave between uses, so it is encrypted in memory and excluded from core
// dumps except for the short window in which a Signer is materialized.
type SoftwareKeyStore struct {
	mu   sync.Mutex
	keys map[string]*memguard.Enclave
	rand io.Reader // defaults to crypto/rand.Reader
	seq  int       // monotonic counter for key IDs
}

// Compile-time interface check.
var _ KeyStore = (*SoftwareKeyStore)(nil)

// NewSoftwareKeyStore returns a SoftwareKeyStore ready for use.
func NewSoftwareKeyStore() *SoftwareKeyStore {
	return &SoftwareKeyStore{
		keys: make(map[string]*memguard.Enclave),
		rand: rand.Reader,
	}
}

func (s *SoftwareKeyStore) nextIDLocked() string {
	s.seq++
	return fmt.Sprintf("sw-%d", s.seq)
}

// GenerateKey creates a new ECDSA P-256 key pair and seals it.
func (s *SoftwareKeyStore) GenerateKey() (string, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), s.rand)
	if err != nil {
		return "", fmt.Errorf("generating ECDSA P-256 key: %w", err)
	}
	return s.seal(priv)
}

func (s *SoftwareKeyStore) seal(priv *ecdsa.PrivateKey) (string, error) {
	der, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("encoding private key: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextIDLocked()
	// NewEnclave wipes der after sealing it.
	s.keys[id] = memguard.NewEnclave(der)
	return id, nil
}

// open decrypts the key material and parses it. The caller gets a regular
// heap key for the duration of the operation; the sealed copy stays intact.
func (s *SoftwareKeyStore) open(keyID string) (*ecdsa.PrivateKey, error) {
	s.mu.Lock()
	enclave, ok := s.keys[keyID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	buf, err := enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("opening key enclave: %w", err)
	}
	defer buf.Destroy()
	priv, err := x509.ParseECPrivateKey(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("decoding sealed key: %w", err)
	}
	return priv, nil
}

// Signer returns the *ecdsa.PrivateKey (which implements crypto.Signer).
func (s *SoftwareKeyStore) Signer(keyID string) (crypto.Signer, error) {
	return s.open(keyID)
}

// ExportPEM encodes the private key as SEC1 "EC PRIVATE KEY" PEM.
func (s *SoftwareKeyStore) ExportPEM(keyID string) (string, error) {
	priv, err := s.open(keyID)
	if err != nil {
		return "", err
	}
	der, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})), nil
}

// ImportPEM parses an EC private key PEM block and seals it.
func (s *SoftwareKeyStore) ImportPEM(pemData string) (string, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return "", fmt.Errorf("%w: no PEM block found", ErrInvalidPEM)
	}
	// The decoded key material lives on the regular heap until sealed.
	defer util.WipeBytes(block.Bytes)

	var priv *ecdsa.PrivateKey
	var err error

	switch block.Type {
	case "EC PRIVATE KEY":
		priv, err = x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		// PKCS8 generic wrapper.
		key, e := x509.ParsePKCS8PrivateKey(block.Bytes)
		if e != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidPEM, e)
		}
		var ok bool
		priv, ok = key.(*ecdsa.PrivateKey)
		if !ok {
			return "", fmt.Errorf("%w: not an ECDSA key", ErrInvalidPEM)
		}
	default:
		return "", fmt.Errorf("%w: unexpected PEM type %q", ErrInvalidPEM, block.Type)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}

	return s.seal(priv)
}

// Delete removes the key from the store.
func (s *SoftwareKeyStore) Delete(keyID string) error {
	s.mu.Lock()
	delete(s.keys, keyID)
	s.mu.Unlock()
	return nil
}
