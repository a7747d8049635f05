package crl_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/palisade/authz"
	"github.com/jmcleod/palisade/crl"
	"github.com/jmcleod/palisade/storage"
	"github.com/jmcleod/palisade/storage/memory"
)

func newTestManager(t *testing.T, cfg crl.PartitionConfig) *crl.Manager {
	t.Helper()
	m := crl.NewManager(memory.NewRepository())
	require.NoError(t, m.Configure(t.Context(), "root", cfg))
	return m
}

func threePartitionConfig() crl.PartitionConfig {
	return crl.PartitionConfig{
		CAName:         "issuing-ca",
		PartitionCount: 3,
		Period:         5 * time.Minute,
		BaseURL:        "http://crl.example.com/search.cgi?iHash=abc",
	}
}

func TestConfigureValidation(t *testing.T) {
	m := crl.NewManager(memory.NewRepository())
	ctx := t.Context()

	err := m.Configure(ctx, "root", crl.PartitionConfig{CAName: "ca", Period: time.Minute})
	assert.ErrorIs(t, err, crl.ErrInvalidConfig)

	err = m.Configure(ctx, "root", crl.PartitionConfig{
		CAName: "ca", PartitionCount: 2, Period: time.Minute, Suspended: []uint32{3},
	})
	assert.ErrorIs(t, err, crl.ErrInvalidConfig)

	err = m.Configure(ctx, "root", crl.PartitionConfig{
		CAName: "ca", PartitionCount: 2, Period: -time.Minute,
	})
	assert.ErrorIs(t, err, crl.ErrInvalidConfig)
}

func TestAssignPartitionDeterministic(t *testing.T) {
	m := newTestManager(t, threePartitionConfig())

	first, err := m.AssignPartition("issuing-ca", "1A2B3C")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, first, uint32(1))
	assert.LessOrEqual(t, first, uint32(3))

	for range 10 {
		p, err := m.AssignPartition("issuing-ca", "1A2B3C")
		require.NoError(t, err)
		assert.Equal(t, first, p)
	}

	_, err = m.AssignPartition("unknown-ca", "1A2B3C")
	assert.ErrorIs(t, err, crl.ErrNotConfigured)
}

func TestAssignPartitionSkipsSuspended(t *testing.T) {
	cfg := threePartitionConfig()
	cfg.Suspended = []uint32{1}
	m := newTestManager(t, cfg)

	// Partition 1 is suspended, so every serial must land on 2 or 3.
	for i := range 200 {
		p, err := m.AssignPartition("issuing-ca", fmt.Sprintf("%06X", i))
		require.NoError(t, err)
		assert.NotEqual(t, uint32(1), p)
	}
}

func TestAssignPartitionAllSuspended(t *testing.T) {
	cfg := threePartitionConfig()
	cfg.Suspended = []uint32{1, 2, 3}
	m := newTestManager(t, cfg)

	_, err := m.AssignPartition("issuing-ca", "1A2B3C")
	assert.ErrorIs(t, err, crl.ErrAllPartitionsSuspended)
}

func TestDistributionPointURI(t *testing.T) {
	m := newTestManager(t, threePartitionConfig())

	uri, err := m.DistributionPointURI("issuing-ca", 0, true)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(uri, "&partition=*"), uri)

	uri, err = m.DistributionPointURI("issuing-ca", 2, false)
	require.NoError(t, err)
	assert.Equal(t, "http://crl.example.com/search.cgi?iHash=abc&partition=2", uri)

	_, err = m.DistributionPointURI("issuing-ca", 4, false)
	assert.ErrorIs(t, err, crl.ErrUnknownPartition)
}

func TestDistributionPointURIWithoutQuery(t *testing.T) {
	cfg := threePartitionConfig()
	cfg.BaseURL = "http://crl.example.com/issuing-ca"
	m := newTestManager(t, cfg)

	uri, err := m.DistributionPointURI("issuing-ca", 1, false)
	require.NoError(t, err)
	assert.Equal(t, "http://crl.example.com/issuing-ca?partition=1", uri)
}

func TestFlushSequencesNumbers(t *testing.T) {
	m := newTestManager(t, threePartitionConfig())
	ctx := t.Context()

	for want := uint64(1); want <= 3; want++ {
		entry, err := m.Flush(ctx, "issuing-ca", 1)
		require.NoError(t, err)
		assert.Equal(t, want, entry.Number)
		assert.True(t, entry.NextUpdate.After(entry.ThisUpdate))
	}

	// Partitions sequence independently.
	entry, err := m.Flush(ctx, "issuing-ca", 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), entry.Number)

	last, err := m.LastEntry(ctx, "issuing-ca", 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), last.Number)
}

func TestFlushKeepsSupersededEntries(t *testing.T) {
	m := newTestManager(t, threePartitionConfig())
	ctx := t.Context()

	first, err := m.Flush(ctx, "issuing-ca", 1)
	require.NoError(t, err)

	p, err := m.RecordRevocation(ctx, "issuing-ca", crl.Revocation{
		Serial: "1A2B3C", Reason: crl.ReasonSuperseded, RevokedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	if p != 1 {
		// The serial may hash elsewhere; the history property is per
		// partition, so flush the one the revocation landed on too.
		_, err = m.Flush(ctx, "issuing-ca", p)
		require.NoError(t, err)
	}
	second, err := m.Flush(ctx, "issuing-ca", 1)
	require.NoError(t, err)
	require.Equal(t, first.Number+1, second.Number)

	// The superseded list is still retrievable, unchanged.
	got, err := m.EntryByNumber(ctx, "issuing-ca", 1, first.Number)
	require.NoError(t, err)
	assert.Equal(t, first.Number, got.Number)
	assert.Empty(t, got.Revocations)
	assert.Equal(t, first.ThisUpdate.Unix(), got.ThisUpdate.Unix())

	latest, err := m.LastEntry(ctx, "issuing-ca", 1)
	require.NoError(t, err)
	assert.Equal(t, second.Number, latest.Number)
}

func TestFlushIncludesRecordedRevocations(t *testing.T) {
	m := newTestManager(t, threePartitionConfig())
	ctx := t.Context()

	revokedAt := time.Now().UTC()
	p, err := m.RecordRevocation(ctx, "issuing-ca", crl.Revocation{
		Serial: "1A2B3C", Reason: crl.ReasonKeyCompromise, RevokedAt: revokedAt,
	})
	require.NoError(t, err)

	entry, err := m.Flush(ctx, "issuing-ca", p)
	require.NoError(t, err)
	require.Len(t, entry.Revocations, 1)
	assert.Equal(t, "1A2B3C", entry.Revocations[0].Serial)
	assert.Equal(t, crl.ReasonKeyCompromise, entry.Revocations[0].Reason)

	// Revocations are cumulative: the next list still carries them.
	entry, err = m.Flush(ctx, "issuing-ca", p)
	require.NoError(t, err)
	assert.Len(t, entry.Revocations, 1)
	assert.Equal(t, uint64(2), entry.Number)
}

func TestFlushConcurrentMonotonic(t *testing.T) {
	m := newTestManager(t, threePartitionConfig())
	ctx := context.Background()

	const n = 20
	numbers := make(chan uint64, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := m.Flush(ctx, "issuing-ca", 1)
			if err == nil {
				numbers <- entry.Number
			}
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[uint64]bool, n)
	for num := range numbers {
		assert.False(t, seen[num], "duplicate crl number %d", num)
		seen[num] = true
	}
	// Gap-free 1..n.
	require.Len(t, seen, n)
	for want := uint64(1); want <= n; want++ {
		assert.True(t, seen[want], "missing crl number %d", want)
	}
}

func TestFlushSuspendedPartitionRejected(t *testing.T) {
	cfg := threePartitionConfig()
	cfg.Suspended = []uint32{2}
	m := newTestManager(t, cfg)

	_, err := m.Flush(t.Context(), "issuing-ca", 2)
	assert.ErrorIs(t, err, crl.ErrPartitionSuspended)

	_, err = m.Flush(t.Context(), "issuing-ca", 9)
	assert.ErrorIs(t, err, crl.ErrUnknownPartition)
}

// batchFailRepo makes every Batch fail while leaving plain operations alone.
type batchFailRepo struct {
	storage.Repository
}

var errBatchFailed = errors.New("batch failed")

func (r *batchFailRepo) Batch(context.Context, string, func(tx storage.BatchTx) error) error {
	return errBatchFailed
}

func TestFlushFailurePreservesNumber(t *testing.T) {
	ctx := t.Context()
	repo := memory.NewRepository()

	m := crl.NewManager(repo)
	require.NoError(t, m.Configure(ctx, "root", threePartitionConfig()))
	entry, err := m.Flush(ctx, "issuing-ca", 1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), entry.Number)

	broken := crl.NewManager(&batchFailRepo{Repository: repo})
	require.NoError(t, broken.Load(ctx))
	_, err = broken.Flush(ctx, "issuing-ca", 1)
	require.ErrorIs(t, err, errBatchFailed)

	// The failed flush must not have advanced the visible number.
	entry, err = m.Flush(ctx, "issuing-ca", 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), entry.Number)
}

func TestSuspendAndResumeLifecycle(t *testing.T) {
	m := newTestManager(t, threePartitionConfig())
	ctx := t.Context()

	_, err := m.Flush(ctx, "issuing-ca", 1)
	require.NoError(t, err)

	require.NoError(t, m.Suspend(ctx, "root", "issuing-ca", 1))
	err = m.Suspend(ctx, "root", "issuing-ca", 1)
	assert.ErrorIs(t, err, crl.ErrPartitionSuspended)

	// Suspended partitions keep serving the last flushed list.
	last, err := m.LastEntry(ctx, "issuing-ca", 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), last.Number)

	// But no new assignments land there.
	for i := range 100 {
		p, err := m.AssignPartition("issuing-ca", fmt.Sprintf("%06X", i))
		require.NoError(t, err)
		assert.NotEqual(t, uint32(1), p)
	}

	require.NoError(t, m.Resume(ctx, "root", "issuing-ca", 1))
	err = m.Resume(ctx, "root", "issuing-ca", 1)
	assert.Error(t, err)

	// Numbering continues where it left off.
	entry, err := m.Flush(ctx, "issuing-ca", 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), entry.Number)
}

func TestResumeDoesNotMigrateRevocations(t *testing.T) {
	m := newTestManager(t, threePartitionConfig())
	ctx := t.Context()

	// Find a serial that maps to partition 1 while all three are active.
	var serial string
	for i := 0; ; i++ {
		s := fmt.Sprintf("%06X", i)
		p, err := m.AssignPartition("issuing-ca", s)
		require.NoError(t, err)
		if p == 1 {
			serial = s
			break
		}
	}

	require.NoError(t, m.Suspend(ctx, "root", "issuing-ca", 1))
	home, err := m.RecordRevocation(ctx, "issuing-ca", crl.Revocation{
		Serial: serial, Reason: crl.ReasonSuperseded, RevokedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NotEqual(t, uint32(1), home)

	require.NoError(t, m.Resume(ctx, "root", "issuing-ca", 1))

	// The revocation stays on the partition it was recorded against.
	entry, err := m.Flush(ctx, "issuing-ca", home)
	require.NoError(t, err)
	require.Len(t, entry.Revocations, 1)

	entry, err = m.Flush(ctx, "issuing-ca", 1)
	require.NoError(t, err)
	assert.Empty(t, entry.Revocations)
}

func TestDeferredRevocationsAdoptedAfterResume(t *testing.T) {
	cfg := threePartitionConfig()
	cfg.PartitionCount = 1
	cfg.Suspended = []uint32{1}
	m := newTestManager(t, cfg)
	ctx := t.Context()

	p, err := m.RecordRevocation(ctx, "issuing-ca", crl.Revocation{
		Serial: "DEAD01", Reason: crl.ReasonCACompromise, RevokedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), p)

	require.NoError(t, m.Resume(ctx, "root", "issuing-ca", 1))

	entry, err := m.Flush(ctx, "issuing-ca", 1)
	require.NoError(t, err)
	require.Len(t, entry.Revocations, 1)
	assert.Equal(t, "DEAD01", entry.Revocations[0].Serial)

	// Adoption rewrote the record, so it persists on the partition now.
	entry, err = m.Flush(ctx, "issuing-ca", 1)
	require.NoError(t, err)
	assert.Len(t, entry.Revocations, 1)
}

func TestRecordRevocationRejectsInvalidReason(t *testing.T) {
	m := newTestManager(t, threePartitionConfig())
	_, err := m.RecordRevocation(t.Context(), "issuing-ca", crl.Revocation{
		Serial: "1A2B3C", Reason: crl.ReasonCode(7),
	})
	assert.Error(t, err)
}

func TestManagerReloadsFromStorage(t *testing.T) {
	ctx := t.Context()
	repo := memory.NewRepository()

	m1 := crl.NewManager(repo)
	cfg := threePartitionConfig()
	cfg.Suspended = []uint32{3}
	require.NoError(t, m1.Configure(ctx, "root", cfg))

	m2 := crl.NewManager(repo)
	require.NoError(t, m2.Load(ctx))
	got, err := m2.Config("issuing-ca")
	require.NoError(t, err)
	assert.Equal(t, uint32(3), got.PartitionCount)
	assert.Equal(t, []uint32{3}, got.Suspended)
	assert.Equal(t, []string{"issuing-ca"}, m2.CANames())
}

// stubAuthorizer allows exactly one admin.
type stubAuthorizer struct{ admin string }

func (s *stubAuthorizer) Authorize(admin, _ string) authz.Decision {
	if admin == s.admin {
		return authz.DecisionAllow
	}
	return authz.DecisionDeny
}

func TestSuspendRequiresAuthorization(t *testing.T) {
	ctx := t.Context()
	m := crl.NewManager(memory.NewRepository(), crl.WithAuthorizer(&stubAuthorizer{admin: "root"}))
	require.NoError(t, m.Configure(ctx, "root", threePartitionConfig()))

	err := m.Suspend(ctx, "mallory", "issuing-ca", 1)
	assert.ErrorIs(t, err, crl.ErrNotAuthorized)

	err = m.Configure(ctx, "mallory", threePartitionConfig())
	assert.ErrorIs(t, err, crl.ErrNotAuthorized)

	require.NoError(t, m.Suspend(ctx, "root", "issuing-ca", 1))
	require.NoError(t, m.Resume(ctx, "root", "issuing-ca", 1))
}

func TestParseReason(t *testing.T) {
	code, err := crl.ParseReason("keyCompromise")
	require.NoError(t, err)
	assert.Equal(t, crl.ReasonKeyCompromise, code)

	code, err = crl.ParseReason("SUPERSEDED")
	require.NoError(t, err)
	assert.Equal(t, crl.ReasonSuperseded, code)

	_, err = crl.ParseReason("bogus")
	assert.Error(t, err)
}
