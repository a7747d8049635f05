package ca

import (
	"crypto"
	"errors"
)

// KeyStore abstracts private-key operations so the certificate authority
// can work with software keys, HSM-backed keys, or cloud KMS keys without
// changing calling code.
//
// A KeyID uniquely identifies a key managed by the store; its format is
// implementation-defined (an in-memory handle, an HSM slot reference, or a
// KMS key ARN).
type KeyStore interface {
	// GenerateKey creates a new signing key and returns an opaque identifier.
	// The caller must not assume anything about the key material; for
	// HSM/KMS backends the private key never leaves the hardware.
	GenerateKey() (keyID string, err error)

	// Signer returns a [crypto.Signer] for the key identified by keyID.
	// The returned Signer feeds x509.CreateCertificate and
	// x509.CreateRevocationList, which only need Sign and Public.
	Signer(keyID string) (crypto.Signer, error)

	// ExportPEM returns the private key in PEM-encoded SEC1 or PKCS8 form.
	// HSM/KMS implementations may return ErrKeyNotExportable, or a
	// reference string that ImportPEM can later interpret.
	ExportPEM(keyID string) (string, error)

	// ImportPEM loads a PEM-encoded private key into the store and returns
	// its key ID. Used when rehydrating CA keys from storage at startup.
	ImportPEM(pemData string) (keyID string, err error)

	// Delete removes the key identified by keyID from the store.
	Delete(keyID string) error
}

// ErrKeyNotExportable is returned by KeyStore.ExportPEM when the backing
// store does not allow private key material to leave the device.
var ErrKeyNotExportable = errors.New("private key is not exportable")

// ErrKeyNotFound is returned when the referenced key ID does not exist.
var ErrKeyNotFound = errors.New("key not found")

// ErrInvalidPEM is returned when PEM data cannot be decoded or parsed.
var ErrInvalidPEM = errors.New("invalid PEM data")
