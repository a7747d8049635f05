// Package ca orchestrates certificate issuance and revocation. An Authority
// owns one or more certificate authorities, enforces certificate profiles
// and access rules on every operation, and hands revocations to the
// partitioned CRL manager.
package ca

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/jmcleod/palisade/authz"
	"github.com/jmcleod/palisade/crl"
	"github.com/jmcleod/palisade/internal/uuid"
	"github.com/jmcleod/palisade/storage"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	// ErrUnknownCA is returned when the named CA does not exist.
	ErrUnknownCA = errors.New("unknown certificate authority")

	// ErrCAExists is returned when creating a CA whose name is taken.
	ErrCAExists = errors.New("certificate authority already exists")

	// ErrUnknownProfile is returned when the requested certificate profile
	// is not registered.
	ErrUnknownProfile = errors.New("unknown certificate profile")

	// ErrCertNotFound is returned when the referenced certificate does not
	// exist under the CA.
	ErrCertNotFound = errors.New("certificate not found")

	// ErrReasonConflict is returned when a certificate is revoked again
	// with a different reason. The only permitted change is escalating an
	// unspecified reason to a specific one.
	ErrReasonConflict = errors.New("certificate already revoked with a different reason")

	// ErrUnknownTransaction is returned when a confirmation references a
	// transaction this authority never issued.
	ErrUnknownTransaction = errors.New("unknown enrollment transaction")

	// ErrNotAuthorized is returned when the calling identity may not
	// perform the requested CA operation.
	ErrNotAuthorized = errors.New("identity is not authorized")

	// ErrNoCRL is returned when no signed revocation list exists yet for
	// the partition.
	ErrNoCRL = errors.New("no revocation list has been signed")
)

// Certificate status values.
const (
	StatusActive  = "active"
	StatusRevoked = "revoked"
)

// Authorizer gates CA operations. authz.Engine satisfies it.
type Authorizer interface {
	Authorize(admin, resourcePath string) authz.Decision
}

// ---------------------------------------------------------------------------
// Persistent records
// ---------------------------------------------------------------------------

// caState is the persistent per-CA document: the CA certificate, its
// (possibly externally managed) private key, and the serial counter.
type caState struct {
	Subject    string    `json:"subject"`
	CertPEM    string    `json:"certificate"`
	KeyPEM     string    `json:"private_key"`
	NextSerial int64     `json:"next_serial"`
	NotBefore  time.Time `json:"not_before"`
	NotAfter   time.Time `json:"not_after"`
}

const caStateID = "state"

// keyNotExportableSentinel is stored in place of key PEM when the keystore
// refuses to export material (HSM-resident keys without a reference form).
const keyNotExportableSentinel = "HSM-MANAGED"

// CertificateRecord is the persistent record of one issued certificate.
type CertificateRecord struct {
	SerialHex      string         `json:"serial"`
	Subject        string         `json:"subject"`
	Profile        string         `json:"profile"`
	Requestor      string         `json:"requestor"`
	TransactionID  string         `json:"transaction_id"`
	CertificatePEM string         `json:"certificate"`
	Status         string         `json:"status"`
	Reason         crl.ReasonCode `json:"reason,omitempty"`
	Partition      uint32         `json:"partition,omitempty"`
	IssuedAt       time.Time      `json:"issued_at"`
	RevokedAt      time.Time      `json:"revoked_at,omitzero"`
	Confirmed      bool           `json:"confirmed"`
}

// Info is the public information about a CA.
type Info struct {
	Name           string    `json:"name"`
	Subject        string    `json:"subject"`
	NotBefore      time.Time `json:"not_before"`
	NotAfter       time.Time `json:"not_after"`
	NextSerial     int64     `json:"next_serial"`
	CertificatePEM string    `json:"certificate"`
}

// caRuntime caches the parsed CA certificate and its keystore handle.
// Its mutex guards the state document, so serial allocation serializes per
// CA instead of across the whole Authority.
type caRuntime struct {
	mu    sync.Mutex
	state *caState
	cert  *x509.Certificate
	keyID string
}

// snapshot returns a copy of the current state document.
func (rt *caRuntime) snapshot() caState {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return *rt.state
}

// ---------------------------------------------------------------------------
// Requests and results
// ---------------------------------------------------------------------------

// EnrollmentRequest asks a CA for a new certificate under a named profile.
type EnrollmentRequest struct {
	CA             string
	Profile        string
	Subject        pkix.Name
	DNSNames       []string
	IPAddresses    []net.IP
	EmailAddresses []string

	// Validity is the requested lifetime; zero takes the profile default.
	Validity time.Duration
}

// IssuedCertificate is the result of a successful enrollment. The private
// key is returned to the requestor and never persisted.
type IssuedCertificate struct {
	CA             string    `json:"ca"`
	SerialHex      string    `json:"serial"`
	TransactionID  string    `json:"transaction_id"`
	CertificatePEM string    `json:"certificate"`
	PrivateKeyPEM  string    `json:"private_key,omitempty"`
	NotBefore      time.Time `json:"not_before"`
	NotAfter       time.Time `json:"not_after"`
}

// ---------------------------------------------------------------------------
// Authority
// ---------------------------------------------------------------------------

// Authority is the issuance and revocation orchestrator.
type Authority struct {
	repo   storage.Repository
	crl    *crl.Manager
	keys   KeyStore
	authz  Authorizer
	logger *slog.Logger

	mu       sync.RWMutex // guards the CA and profile maps only
	cas      map[string]*caRuntime
	profiles map[string]*Profile
}

// Option configures an Authority.
type Option func(*Authority)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Authority) { a.logger = logger.With("component", "ca") }
}

// WithKeyStore replaces the default software key store.
func WithKeyStore(ks KeyStore) Option {
	return func(a *Authority) { a.keys = ks }
}

// WithAuthorizer gates every operation on the identity holding the matching
// resource. Without it the caller is responsible for access control.
func WithAuthorizer(az Authorizer) Option {
	return func(a *Authority) { a.authz = az }
}

// WithProfiles registers certificate profiles at construction.
func WithProfiles(profiles ...Profile) Option {
	return func(a *Authority) {
		for _, p := range profiles {
			cp := p
			a.profiles[p.Name] = &cp
		}
	}
}

// NewAuthority returns an Authority backed by the given repository and CRL
// manager. Call Load to rehydrate persisted CAs before serving requests.
func NewAuthority(repo storage.Repository, crlManager *crl.Manager, opts ...Option) *Authority {
	a := &Authority{
		repo:     repo,
		crl:      crlManager,
		keys:     NewSoftwareKeyStore(),
		logger:   slog.Default().With("component", "ca"),
		cas:      make(map[string]*caRuntime),
		profiles: make(map[string]*Profile),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Load rehydrates every persisted CA: state documents are read from the
// shared index and the CA keys are imported into the key store.
func (a *Authority) Load(ctx context.Context) error {
	names, err := a.repo.List(ctx, storage.ScopeAdmin, storage.RecordTypeCAState)
	if err != nil {
		return fmt.Errorf("listing certificate authorities: %w", err)
	}
	cas := make(map[string]*caRuntime, len(names))
	for _, name := range names {
		rt, err := a.loadCA(ctx, name)
		if err != nil {
			return err
		}
		cas[name] = rt
	}
	a.mu.Lock()
	a.cas = cas
	a.mu.Unlock()
	return nil
}

func (a *Authority) loadCA(ctx context.Context, name string) (*caRuntime, error) {
	data, err := a.repo.Get(ctx, name, storage.RecordTypeCAState, caStateID)
	if err != nil {
		return nil, fmt.Errorf("loading state of CA %q: %w", name, err)
	}
	var state caState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decoding state of CA %q: %w", name, err)
	}
	cert, err := ParseCertificatePEM(state.CertPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate of CA %q: %w", name, err)
	}
	keyID, err := a.keys.ImportPEM(state.KeyPEM)
	if err != nil {
		return nil, fmt.Errorf("importing key of CA %q: %w", name, err)
	}
	return &caRuntime{state: &state, cert: cert, keyID: keyID}, nil
}

// CreateCA creates a self-signed certificate authority.
func (a *Authority) CreateCA(ctx context.Context, admin, name string, subject pkix.Name, validity time.Duration) (*Info, error) {
	if err := a.authorize(admin, "/ca"); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.cas[name]; ok {
		return nil, fmt.Errorf("%q: %w", name, ErrCAExists)
	}

	keyID, err := a.keys.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating key for CA %q: %w", name, err)
	}
	signer, err := a.keys.Signer(keyID)
	if err != nil {
		return nil, fmt.Errorf("getting signer for CA %q: %w", name, err)
	}

	now := time.Now().UTC()
	notAfter := now.Add(validity)
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               subject,
		NotBefore:             now,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	derBytes, err := x509.CreateCertificate(rand.Reader, template, template, signer.Public(), signer)
	if err != nil {
		return nil, fmt.Errorf("creating certificate for CA %q: %w", name, err)
	}

	keyPEM, err := a.keys.ExportPEM(keyID)
	if errors.Is(err, ErrKeyNotExportable) {
		keyPEM = keyNotExportableSentinel
	} else if err != nil {
		return nil, fmt.Errorf("exporting key for CA %q: %w", name, err)
	}

	state := &caState{
		Subject:    subject.String(),
		CertPEM:    encodeCertPEM(derBytes),
		KeyPEM:     keyPEM,
		NextSerial: 2, // serial 1 used by the CA certificate itself
		NotBefore:  now,
		NotAfter:   notAfter,
	}
	cert, err := x509.ParseCertificate(derBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate for CA %q: %w", name, err)
	}

	if err := a.persistState(ctx, name, state); err != nil {
		return nil, err
	}
	// Index record so Load can enumerate CAs.
	if err := a.repo.Put(ctx, storage.ScopeAdmin, storage.RecordTypeCAState, name, []byte(name)); err != nil {
		return nil, fmt.Errorf("indexing CA %q: %w", name, err)
	}

	rt := &caRuntime{state: state, cert: cert, keyID: keyID}
	a.cas[name] = rt
	a.logger.Info("certificate authority created", "ca", name, "subject", state.Subject)
	return caInfo(name, rt), nil
}

// RegisterProfile adds (or replaces) a certificate profile.
func (a *Authority) RegisterProfile(p Profile) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := p
	a.profiles[p.Name] = &cp
}

// CANames returns the names of every CA, sorted.
func (a *Authority) CANames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.cas))
	for name := range a.cas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Info returns public information about a CA.
func (a *Authority) Info(name string) (*Info, error) {
	rt, err := a.runtime(name)
	if err != nil {
		return nil, err
	}
	return caInfo(name, rt), nil
}

func caInfo(name string, rt *caRuntime) *Info {
	state := rt.snapshot()
	return &Info{
		Name:           name,
		Subject:        state.Subject,
		NotBefore:      state.NotBefore,
		NotAfter:       state.NotAfter,
		NextSerial:     state.NextSerial,
		CertificatePEM: state.CertPEM,
	}
}

// ---------------------------------------------------------------------------
// Enrollment
// ---------------------------------------------------------------------------

// HandleEnrollment authorizes the identity against the CA/profile resource,
// enforces the profile, and issues a certificate signed by the CA key. The
// record is persisted before success is reported; the leaf private key is
// returned to the requestor and immediately dropped from the key store.
// Only the serial allocation takes a lock (per CA); signing and persistence
// run concurrently across enrollments. A failure after allocation burns the
// serial but leaves no partial record.
func (a *Authority) HandleEnrollment(ctx context.Context, identity string, req EnrollmentRequest) (*IssuedCertificate, error) {
	resource := fmt.Sprintf("/ca/%s/profile/%s", req.CA, req.Profile)
	if err := a.authorize(identity, resource); err != nil {
		return nil, err
	}

	rt, err := a.runtime(req.CA)
	if err != nil {
		return nil, err
	}
	a.mu.RLock()
	profile, ok := a.profiles[req.Profile]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%q: %w", req.Profile, ErrUnknownProfile)
	}
	if err := profile.check(&req); err != nil {
		return nil, err
	}
	validity, err := profile.validity(req.Validity)
	if err != nil {
		return nil, err
	}

	caSigner, err := a.keys.Signer(rt.keyID)
	if err != nil {
		return nil, fmt.Errorf("getting signer for CA %q: %w", req.CA, err)
	}
	leafKeyID, err := a.keys.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating leaf key: %w", err)
	}
	defer a.keys.Delete(leafKeyID)
	leafSigner, err := a.keys.Signer(leafKeyID)
	if err != nil {
		return nil, fmt.Errorf("getting leaf signer: %w", err)
	}

	next, err := a.allocateSerial(ctx, req.CA, rt)
	if err != nil {
		return nil, err
	}
	serial := big.NewInt(next)
	serialHex := fmt.Sprintf("%X", serial)
	now := time.Now().UTC()
	notAfter := now.Add(validity)

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               req.Subject,
		NotBefore:             now,
		NotAfter:              notAfter,
		KeyUsage:              profile.KeyUsages,
		ExtKeyUsage:           profile.ExtKeyUsages,
		BasicConstraintsValid: true,
		DNSNames:              req.DNSNames,
		IPAddresses:           req.IPAddresses,
		EmailAddresses:        req.EmailAddresses,
	}
	if template.KeyUsage == 0 {
		template.KeyUsage = x509.KeyUsageDigitalSignature
	}
	// Issued certificates point at the wildcard distribution point covering
	// every partition of the CA.
	if uri, err := a.crl.DistributionPointURI(req.CA, 0, true); err == nil {
		template.CRLDistributionPoints = []string{uri}
	} else if !errors.Is(err, crl.ErrNotConfigured) {
		return nil, err
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, template, rt.cert, leafSigner.Public(), caSigner)
	if err != nil {
		return nil, fmt.Errorf("signing leaf certificate: %w", err)
	}
	leafKeyPEM, err := a.keys.ExportPEM(leafKeyID)
	if err != nil && !errors.Is(err, ErrKeyNotExportable) {
		return nil, fmt.Errorf("exporting leaf private key: %w", err)
	}

	record := &CertificateRecord{
		SerialHex:      serialHex,
		Subject:        req.Subject.String(),
		Profile:        req.Profile,
		Requestor:      identity,
		TransactionID:  uuid.New(),
		CertificatePEM: encodeCertPEM(derBytes),
		Status:         StatusActive,
		IssuedAt:       now,
	}
	recordData, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encoding certificate record: %w", err)
	}

	// Record and transaction index commit together; the serial counter was
	// already persisted by the allocation.
	err = a.repo.Batch(ctx, req.CA, func(tx storage.BatchTx) error {
		if err := tx.Put(storage.RecordTypeCertificate, serialHex, recordData); err != nil {
			return err
		}
		return tx.Put(storage.RecordTypeTransaction, record.TransactionID, []byte(serialHex))
	})
	if err != nil {
		return nil, fmt.Errorf("storing issued certificate: %w", err)
	}

	a.logger.Info("certificate issued",
		"ca", req.CA, "serial", serialHex, "profile", req.Profile,
		"subject", record.Subject, "requestor", identity)

	return &IssuedCertificate{
		CA:             req.CA,
		SerialHex:      serialHex,
		TransactionID:  record.TransactionID,
		CertificatePEM: record.CertificatePEM,
		PrivateKeyPEM:  leafKeyPEM,
		NotBefore:      now,
		NotAfter:       notAfter,
	}, nil
}

// ConfirmEnrollment acknowledges an issued certificate by its transaction
// ID, as carried in a CMP certificate confirmation. Confirming twice is a
// no-op.
func (a *Authority) ConfirmEnrollment(ctx context.Context, ca, transactionID string) error {
	serialData, err := a.repo.Get(ctx, ca, storage.RecordTypeTransaction, transactionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrScopeNotFound) {
			return fmt.Errorf("%q: %w", transactionID, ErrUnknownTransaction)
		}
		return err
	}
	record, err := a.Certificate(ctx, ca, string(serialData))
	if err != nil {
		return err
	}
	if record.Confirmed {
		return nil
	}
	record.Confirmed = true
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding certificate record: %w", err)
	}
	if err := a.repo.Put(ctx, ca, storage.RecordTypeCertificate, record.SerialHex, data); err != nil {
		return fmt.Errorf("storing confirmation: %w", err)
	}
	a.logger.Info("enrollment confirmed", "ca", ca, "serial", record.SerialHex, "transaction", transactionID)
	return nil
}

// Certificate returns the record of one issued certificate.
func (a *Authority) Certificate(ctx context.Context, ca, serialHex string) (*CertificateRecord, error) {
	data, err := a.repo.Get(ctx, ca, storage.RecordTypeCertificate, serialHex)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrScopeNotFound) {
			return nil, fmt.Errorf("%s: %w", serialHex, ErrCertNotFound)
		}
		return nil, err
	}
	var record CertificateRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decoding certificate record: %w", err)
	}
	return &record, nil
}

// Certificates returns every issued certificate of the CA, sorted by serial.
func (a *Authority) Certificates(ctx context.Context, ca string) ([]CertificateRecord, error) {
	ids, err := a.repo.List(ctx, ca, storage.RecordTypeCertificate)
	if err != nil {
		if errors.Is(err, storage.ErrScopeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	sort.Strings(ids)
	records := make([]CertificateRecord, 0, len(ids))
	for _, id := range ids {
		record, err := a.Certificate(ctx, ca, id)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, nil
}

// ---------------------------------------------------------------------------
// Revocation
// ---------------------------------------------------------------------------

// HandleRevocation marks a certificate revoked and records the line item
// with the CRL manager, atomically. Revoking with the same reason again is
// a no-op; a different reason is a conflict, except that an unspecified
// reason may be escalated to a specific one.
func (a *Authority) HandleRevocation(ctx context.Context, identity, ca, serialHex string, reason crl.ReasonCode) error {
	if err := a.authorize(identity, fmt.Sprintf("/ca/%s/revoke", ca)); err != nil {
		return err
	}
	if !reason.Valid() {
		return fmt.Errorf("revoking %s: invalid reason %d", serialHex, reason)
	}

	record, err := a.Certificate(ctx, ca, serialHex)
	if err != nil {
		return err
	}

	if record.Status == StatusRevoked {
		switch {
		case record.Reason == reason:
			return nil
		case record.Reason == crl.ReasonUnspecified && reason != crl.ReasonUnspecified:
			return a.escalateRevocation(ctx, ca, record, reason)
		default:
			return fmt.Errorf("%s revoked as %s, requested %s: %w",
				serialHex, record.Reason, reason, ErrReasonConflict)
		}
	}

	revokedAt := time.Now().UTC()
	rev := crl.Revocation{Serial: serialHex, Reason: reason, RevokedAt: revokedAt}

	err = a.repo.Batch(ctx, ca, func(tx storage.BatchTx) error {
		partition, err := a.crl.RecordRevocationTx(tx, ca, rev)
		if err != nil {
			return err
		}
		record.Status = StatusRevoked
		record.Reason = reason
		record.Partition = partition
		record.RevokedAt = revokedAt
		recordData, err := json.Marshal(record)
		if err != nil {
			return err
		}
		if err := tx.Put(storage.RecordTypeCertificate, serialHex, recordData); err != nil {
			return err
		}
		revData, err := json.Marshal(rev)
		if err != nil {
			return err
		}
		return tx.Put(storage.RecordTypeRevocation, serialHex, revData)
	})
	if err != nil {
		return fmt.Errorf("revoking %s: %w", serialHex, err)
	}

	a.logger.Info("certificate revoked",
		"ca", ca, "serial", serialHex, "reason", reason.String(),
		"partition", record.Partition, "identity", identity)
	return nil
}

// escalateRevocation upgrades an unspecified revocation reason in place,
// on the partition the serial was originally assigned to.
func (a *Authority) escalateRevocation(ctx context.Context, ca string, record *CertificateRecord, reason crl.ReasonCode) error {
	rev := crl.Revocation{Serial: record.SerialHex, Reason: reason, RevokedAt: record.RevokedAt}
	err := a.repo.Batch(ctx, ca, func(tx storage.BatchTx) error {
		if err := a.crl.UpdateRevocationTx(tx, record.Partition, rev); err != nil {
			return err
		}
		record.Reason = reason
		recordData, err := json.Marshal(record)
		if err != nil {
			return err
		}
		if err := tx.Put(storage.RecordTypeCertificate, record.SerialHex, recordData); err != nil {
			return err
		}
		revData, err := json.Marshal(rev)
		if err != nil {
			return err
		}
		return tx.Put(storage.RecordTypeRevocation, record.SerialHex, revData)
	})
	if err != nil {
		return fmt.Errorf("escalating revocation of %s: %w", record.SerialHex, err)
	}
	a.logger.Info("revocation reason escalated",
		"ca", ca, "serial", record.SerialHex, "reason", reason.String())
	return nil
}

// ---------------------------------------------------------------------------
// Internal
// ---------------------------------------------------------------------------

func (a *Authority) runtime(name string) (*caRuntime, error) {
	a.mu.RLock()
	rt, ok := a.cas[name]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownCA)
	}
	return rt, nil
}

// allocateSerial hands out the CA's next serial and persists the advanced
// counter before releasing the per-CA lock, so a crash cannot reissue a
// serial already handed out.
func (a *Authority) allocateSerial(ctx context.Context, name string, rt *caRuntime) (int64, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	next := rt.state.NextSerial
	advanced := *rt.state
	advanced.NextSerial++
	if err := a.persistState(ctx, name, &advanced); err != nil {
		return 0, err
	}
	rt.state = &advanced
	return next, nil
}

func (a *Authority) authorize(identity, resource string) error {
	if a.authz == nil {
		return nil
	}
	if !a.authz.Authorize(identity, resource).Allowed() {
		return fmt.Errorf("%s on %s: %w", identity, resource, ErrNotAuthorized)
	}
	return nil
}

func (a *Authority) persistState(ctx context.Context, name string, state *caState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding CA state: %w", err)
	}
	if err := a.repo.Put(ctx, name, storage.RecordTypeCAState, caStateID, data); err != nil {
		return fmt.Errorf("storing state of CA %q: %w", name, err)
	}
	return nil
}

func encodeCertPEM(derBytes []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes}))
}

// ParseCertificatePEM decodes a single PEM certificate block.
func ParseCertificatePEM(certPEM string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, ErrInvalidPEM
	}
	return x509.ParseCertificate(block.Bytes)
}
