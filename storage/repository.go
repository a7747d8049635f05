// Package storage defines the persistence collaborator for the CA platform.
// Records are opaque JSON documents keyed by (scope, record type, record ID);
// a scope is either a CA name or one of the shared administrative scopes.
// The core never reports success to a caller before the corresponding write
// has been accepted by the repository.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrScopeNotFound is returned when the requested scope has no records.
var ErrScopeNotFound = errors.New("scope not found")

// Shared scopes. Per-CA records use the CA name as scope.
const (
	// ScopeAuthz holds admin groups and access rules.
	ScopeAuthz = "authz"

	// ScopeAdmin holds platform-level administrative records such as
	// hashed API tokens.
	ScopeAdmin = "admin"
)

// Record types stored by the platform.
const (
	RecordTypeAdminGroup      = "admin_group"
	RecordTypePartitionConfig = "crl_config"
	RecordTypeCRLEntry        = "crl_entry"
	RecordTypeCRLList         = "crl_list"
	RecordTypeCRLCounter      = "crl_counter"
	RecordTypeCRLDocument     = "crl_document"
	RecordTypeCertificate     = "certificate"
	RecordTypeRevocation      = "revocation"
	RecordTypeTransaction     = "cmp_transaction"
	RecordTypeCAState         = "ca_state"
	RecordTypeToken           = "api_token"
)

// BatchTx provides writes within an atomic transaction. The scope is fixed
// for the batch, so methods don't take it.
type BatchTx interface {
	Put(recordType string, recordID string, data []byte) error
	Delete(recordType string, recordID string) error
}

// Repository is the durable storage interface for CA platform records.
// Implementations must make a successful Put visible to subsequent Gets
// before returning.
type Repository interface {
	Put(ctx context.Context, scope string, recordType string, recordID string, data []byte) error
	Get(ctx context.Context, scope string, recordType string, recordID string) ([]byte, error)
	List(ctx context.Context, scope string, recordType string) ([]string, error)
	Delete(ctx context.Context, scope string, recordType string, recordID string) error

	// Batch executes fn atomically: either every write in fn is applied or
	// none is. Used for CRL flushes, where the entry and its counter must
	// persist together.
	Batch(ctx context.Context, scope string, fn func(tx BatchTx) error) error
}
