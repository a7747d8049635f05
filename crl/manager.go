package crl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/jmcleod/palisade/authz"
	"github.com/jmcleod/palisade/storage"
)

// ErrPartitionSuspended is returned when flushing a suspended partition or
// suspending it twice.
var ErrPartitionSuspended = errors.New("crl partition is suspended")

// ErrNotAuthorized is returned when the calling admin may not administer
// the CA's revocation lists.
var ErrNotAuthorized = errors.New("administrator is not authorized")

// Authorizer gates administrative partition operations. authz.Engine
// satisfies it.
type Authorizer interface {
	Authorize(admin, resourcePath string) authz.Decision
}

// Manager owns partition configurations and the revocation list lifecycle
// of every CA. Assignment and reads are cheap; flushes serialize per
// (CA, partition) so distinct partitions issue concurrently.
type Manager struct {
	repo   storage.Repository
	logger *slog.Logger
	authz  Authorizer

	mu      sync.RWMutex // guards configs and flushMu
	configs map[string]*PartitionConfig
	flushMu map[string]*sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithManagerLogger sets the structured logger.
func WithManagerLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger.With("component", "crl") }
}

// WithAuthorizer gates Configure, Suspend and Resume on the admin holding
// the CA's crl resource. Without it the caller is responsible for access
// control.
func WithAuthorizer(a Authorizer) Option {
	return func(m *Manager) { m.authz = a }
}

// NewManager returns a Manager backed by the given repository. Call Load to
// populate it from storage.
func NewManager(repo storage.Repository, opts ...Option) *Manager {
	m := &Manager{
		repo:    repo,
		logger:  slog.Default().With("component", "crl"),
		configs: make(map[string]*PartitionConfig),
		flushMu: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load reads every persisted partition configuration.
func (m *Manager) Load(ctx context.Context) error {
	names, err := m.repo.List(ctx, storage.ScopeAdmin, storage.RecordTypePartitionConfig)
	if err != nil {
		return fmt.Errorf("listing partition configurations: %w", err)
	}
	configs := make(map[string]*PartitionConfig, len(names))
	for _, name := range names {
		data, err := m.repo.Get(ctx, storage.ScopeAdmin, storage.RecordTypePartitionConfig, name)
		if err != nil {
			return fmt.Errorf("loading partition configuration %q: %w", name, err)
		}
		var cfg PartitionConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("decoding partition configuration %q: %w", name, err)
		}
		configs[name] = &cfg
	}
	m.mu.Lock()
	m.configs = configs
	m.mu.Unlock()
	return nil
}

// Configure installs (or replaces) a CA's partition configuration.
func (m *Manager) Configure(ctx context.Context, admin string, cfg PartitionConfig) error {
	if err := m.authorize(admin, cfg.CAName); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persistConfigLocked(ctx, cfg.clone())
}

// Config returns a copy of the CA's partition configuration.
func (m *Manager) Config(ca string) (*PartitionConfig, error) {
	m.mu.RLock()
	cfg, ok := m.configs[ca]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%q: %w", ca, ErrNotConfigured)
	}
	return cfg.clone(), nil
}

// CANames returns the names of every configured CA, sorted.
func (m *Manager) CANames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.configs))
	for name := range m.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ---------------------------------------------------------------------------
// Assignment
// ---------------------------------------------------------------------------

// AssignPartition maps a certificate serial onto one of the CA's active
// partitions. The mapping is a hash over the ranked non-suspended set, so
// it is stable for a given suspension state and never lands on a suspended
// partition.
func (m *Manager) AssignPartition(ca, serial string) (uint32, error) {
	m.mu.RLock()
	cfg, ok := m.configs[ca]
	m.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%q: %w", ca, ErrNotConfigured)
	}
	return assign(cfg, serial)
}

func assign(cfg *PartitionConfig, serial string) (uint32, error) {
	active := cfg.activePartitions()
	if len(active) == 0 {
		return 0, ErrAllPartitionsSuspended
	}
	h := xxhash.Sum64String(serial)
	return active[h%uint64(len(active))], nil
}

// DistributionPointURI builds the distribution point URI for one partition
// of the CA, or the wildcard URI covering all of them.
func (m *Manager) DistributionPointURI(ca string, partition uint32, wildcard bool) (string, error) {
	m.mu.RLock()
	cfg, ok := m.configs[ca]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%q: %w", ca, ErrNotConfigured)
	}
	if !wildcard && (partition < 1 || partition > cfg.PartitionCount) {
		return "", fmt.Errorf("partition %d: %w", partition, ErrUnknownPartition)
	}
	return cfg.DistributionPointURI(partition, wildcard), nil
}

// RecordRevocation registers a revoked serial with its assigned partition.
// When every partition is suspended the revocation is still recorded,
// parked on the reserved partition 0 until a flush can adopt it.
func (m *Manager) RecordRevocation(ctx context.Context, ca string, rev Revocation) (uint32, error) {
	var partition uint32
	err := m.repo.Batch(ctx, ca, func(tx storage.BatchTx) error {
		var err error
		partition, err = m.RecordRevocationTx(tx, ca, rev)
		return err
	})
	if err != nil {
		return 0, err
	}
	return partition, nil
}

// RecordRevocationTx is RecordRevocation inside a caller-owned batch on the
// CA's scope, so the revocation line item can commit atomically with the
// caller's own records.
func (m *Manager) RecordRevocationTx(tx storage.BatchTx, ca string, rev Revocation) (uint32, error) {
	if !rev.Reason.Valid() {
		return 0, fmt.Errorf("recording revocation of %s: invalid reason %d", rev.Serial, rev.Reason)
	}
	partition, err := m.AssignPartition(ca, rev.Serial)
	switch {
	case errors.Is(err, ErrAllPartitionsSuspended):
		partition = 0
		m.logger.Warn("all partitions suspended, deferring revocation",
			"ca", ca, "serial", rev.Serial)
	case err != nil:
		return 0, err
	}
	data, err := json.Marshal(rev)
	if err != nil {
		return 0, fmt.Errorf("encoding revocation of %s: %w", rev.Serial, err)
	}
	if err := tx.Put(storage.RecordTypeCRLEntry, revocationID(partition, rev.Serial), data); err != nil {
		return 0, fmt.Errorf("storing revocation of %s: %w", rev.Serial, err)
	}
	m.logger.Info("revocation recorded",
		"ca", ca, "serial", rev.Serial, "reason", rev.Reason.String(), "partition", partition)
	return partition, nil
}

// UpdateRevocationTx overwrites the line item of an already recorded
// revocation in place, keeping its partition. Used when a revocation reason
// is escalated after the fact.
func (m *Manager) UpdateRevocationTx(tx storage.BatchTx, partition uint32, rev Revocation) error {
	if !rev.Reason.Valid() {
		return fmt.Errorf("updating revocation of %s: invalid reason %d", rev.Serial, rev.Reason)
	}
	data, err := json.Marshal(rev)
	if err != nil {
		return fmt.Errorf("encoding revocation of %s: %w", rev.Serial, err)
	}
	return tx.Put(storage.RecordTypeCRLEntry, revocationID(partition, rev.Serial), data)
}

// ---------------------------------------------------------------------------
// Flush
// ---------------------------------------------------------------------------

// Flush issues the next revocation list for one partition: it snapshots the
// partition's recorded revocations, adopts any deferred revocations that now
// map to it, and persists the list together with its number in a single
// atomic batch. A failed flush leaves the visible list number unchanged.
// Issued lists are history: each flush supersedes its predecessor but never
// deletes it, so earlier numbers stay retrievable via EntryByNumber.
func (m *Manager) Flush(ctx context.Context, ca string, partition uint32) (*Entry, error) {
	m.mu.RLock()
	cfg, ok := m.configs[ca]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%q: %w", ca, ErrNotConfigured)
	}
	if partition < 1 || partition > cfg.PartitionCount {
		return nil, fmt.Errorf("partition %d: %w", partition, ErrUnknownPartition)
	}
	if cfg.IsSuspended(partition) {
		return nil, fmt.Errorf("flushing partition %d: %w", partition, ErrPartitionSuspended)
	}

	lock := m.flushLock(ca, partition)
	lock.Lock()
	defer lock.Unlock()

	number := uint64(1)
	if last, err := m.LastEntry(ctx, ca, partition); err == nil {
		number = last.Number + 1
	} else if !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, storage.ErrScopeNotFound) {
		return nil, err
	}

	revocations, err := m.partitionRevocations(ctx, ca, partition)
	if err != nil {
		return nil, err
	}
	adopted, err := m.adoptableDeferred(ctx, ca, cfg, partition)
	if err != nil {
		return nil, err
	}
	revocations = append(revocations, adopted...)
	sort.Slice(revocations, func(i, j int) bool { return revocations[i].Serial < revocations[j].Serial })

	now := time.Now().UTC()
	entry := &Entry{
		CAName:      ca,
		Partition:   partition,
		Number:      number,
		ThisUpdate:  now,
		NextUpdate:  now.Add(cfg.Period),
		Revocations: revocations,
	}
	entryData, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encoding crl entry: %w", err)
	}

	err = m.repo.Batch(ctx, ca, func(tx storage.BatchTx) error {
		if err := tx.Put(storage.RecordTypeCRLList, entryID(partition, number), entryData); err != nil {
			return err
		}
		if err := tx.Put(storage.RecordTypeCRLCounter, partitionID(partition), []byte(strconv.FormatUint(number, 10))); err != nil {
			return err
		}
		for _, rev := range adopted {
			revData, err := json.Marshal(rev)
			if err != nil {
				return err
			}
			if err := tx.Delete(storage.RecordTypeCRLEntry, revocationID(0, rev.Serial)); err != nil {
				return err
			}
			if err := tx.Put(storage.RecordTypeCRLEntry, revocationID(partition, rev.Serial), revData); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persisting crl %d for %s partition %d: %w", number, ca, partition, err)
	}

	m.logger.Info("crl flushed",
		"ca", ca, "partition", partition, "number", number, "revocations", len(revocations))
	return entry.clone(), nil
}

// LastEntry returns the most recently flushed list for a partition.
// Suspended partitions keep serving their last list.
func (m *Manager) LastEntry(ctx context.Context, ca string, partition uint32) (*Entry, error) {
	data, err := m.repo.Get(ctx, ca, storage.RecordTypeCRLCounter, partitionID(partition))
	if err != nil {
		return nil, err
	}
	number, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decoding crl counter for partition %d: %w", partition, err)
	}
	return m.EntryByNumber(ctx, ca, partition, number)
}

// EntryByNumber returns one issued list from the partition's history,
// including lists long since superseded.
func (m *Manager) EntryByNumber(ctx context.Context, ca string, partition uint32, number uint64) (*Entry, error) {
	data, err := m.repo.Get(ctx, ca, storage.RecordTypeCRLList, entryID(partition, number))
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decoding crl entry: %w", err)
	}
	return &entry, nil
}

// ---------------------------------------------------------------------------
// Suspension
// ---------------------------------------------------------------------------

// Suspend takes a partition out of the assignment rotation. Its recorded
// revocations stay put and its last list remains readable.
func (m *Manager) Suspend(ctx context.Context, admin, ca string, partition uint32) error {
	return m.mutateConfig(ctx, admin, ca, partition, func(cfg *PartitionConfig) error {
		if cfg.IsSuspended(partition) {
			return fmt.Errorf("partition %d: %w", partition, ErrPartitionSuspended)
		}
		cfg.Suspended = append(cfg.Suspended, partition)
		return nil
	})
}

// Resume puts a suspended partition back into the assignment rotation.
// Revocations recorded on other partitions in the meantime are not migrated
// back.
func (m *Manager) Resume(ctx context.Context, admin, ca string, partition uint32) error {
	return m.mutateConfig(ctx, admin, ca, partition, func(cfg *PartitionConfig) error {
		if !cfg.IsSuspended(partition) {
			return fmt.Errorf("partition %d is not suspended", partition)
		}
		kept := cfg.Suspended[:0]
		for _, p := range cfg.Suspended {
			if p != partition {
				kept = append(kept, p)
			}
		}
		cfg.Suspended = kept
		return nil
	})
}

// ---------------------------------------------------------------------------
// Internal
// ---------------------------------------------------------------------------

func (m *Manager) authorize(admin, ca string) error {
	if m.authz == nil {
		return nil
	}
	if !m.authz.Authorize(admin, "/ca/"+ca+"/crl").Allowed() {
		return fmt.Errorf("administering crl partitions of %q: %w", ca, ErrNotAuthorized)
	}
	return nil
}

func (m *Manager) mutateConfig(ctx context.Context, admin, ca string, partition uint32, fn func(*PartitionConfig) error) error {
	if err := m.authorize(admin, ca); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[ca]
	if !ok {
		return fmt.Errorf("%q: %w", ca, ErrNotConfigured)
	}
	if partition < 1 || partition > cfg.PartitionCount {
		return fmt.Errorf("partition %d: %w", partition, ErrUnknownPartition)
	}
	cp := cfg.clone()
	if err := fn(cp); err != nil {
		return err
	}
	return m.persistConfigLocked(ctx, cp)
}

// persistConfigLocked writes the configuration and only then makes it
// visible. Callers hold m.mu.
func (m *Manager) persistConfigLocked(ctx context.Context, cfg *PartitionConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding partition configuration: %w", err)
	}
	if err := m.repo.Put(ctx, storage.ScopeAdmin, storage.RecordTypePartitionConfig, cfg.CAName, data); err != nil {
		return fmt.Errorf("storing partition configuration for %q: %w", cfg.CAName, err)
	}
	m.configs[cfg.CAName] = cfg
	return nil
}

func (m *Manager) flushLock(ca string, partition uint32) *sync.Mutex {
	key := ca + "/" + partitionID(partition)
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.flushMu[key]
	if !ok {
		lock = &sync.Mutex{}
		m.flushMu[key] = lock
	}
	return lock
}

// partitionRevocations loads every revocation recorded for the partition.
func (m *Manager) partitionRevocations(ctx context.Context, ca string, partition uint32) ([]Revocation, error) {
	return m.revocationsWithPrefix(ctx, ca, partitionID(partition)+"/")
}

// adoptableDeferred returns the deferred (partition 0) revocations whose
// assignment under the current active set is the flushing partition. The
// caller has already established that partition is active, so the active
// set is non-empty and assignment cannot fail.
func (m *Manager) adoptableDeferred(ctx context.Context, ca string, cfg *PartitionConfig, partition uint32) ([]Revocation, error) {
	deferred, err := m.revocationsWithPrefix(ctx, ca, "0/")
	if err != nil {
		return nil, err
	}
	var adopted []Revocation
	for _, rev := range deferred {
		p, err := assign(cfg, rev.Serial)
		if err != nil {
			return nil, err
		}
		if p == partition {
			adopted = append(adopted, rev)
		}
	}
	return adopted, nil
}

func (m *Manager) revocationsWithPrefix(ctx context.Context, ca, prefix string) ([]Revocation, error) {
	ids, err := m.repo.List(ctx, ca, storage.RecordTypeCRLEntry)
	if err != nil {
		if errors.Is(err, storage.ErrScopeNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing revocations for %q: %w", ca, err)
	}
	var revocations []Revocation
	for _, id := range ids {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		data, err := m.repo.Get(ctx, ca, storage.RecordTypeCRLEntry, id)
		if err != nil {
			return nil, fmt.Errorf("loading revocation %q: %w", id, err)
		}
		var rev Revocation
		if err := json.Unmarshal(data, &rev); err != nil {
			return nil, fmt.Errorf("decoding revocation %q: %w", id, err)
		}
		revocations = append(revocations, rev)
	}
	return revocations, nil
}

func revocationID(partition uint32, serial string) string {
	return partitionID(partition) + "/" + serial
}

func entryID(partition uint32, number uint64) string {
	return partitionID(partition) + "/" + strconv.FormatUint(number, 10)
}

func partitionID(partition uint32) string {
	return strconv.FormatUint(uint64(partition), 10)
}
