package postgres_test

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/palisade/storage"
	"github.com/jmcleod/palisade/storage/postgres"
)

// newTestStore connects to the database named by PALISADE_POSTGRES_TEST_DSN,
// skipping the test when the variable is unset.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("PALISADE_POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("PALISADE_POSTGRES_TEST_DSN not set")
	}
	store, err := postgres.NewRepositoryFromDSN(t.Context(), dsn)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func TestPutGetDelete(t *testing.T) {
	ctx := t.Context()
	store := newTestStore(t)

	err := store.Put(ctx, "pgtest-ca", storage.RecordTypeCertificate, "serial-1", []byte(`{"status":"active"}`))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Delete(ctx, "pgtest-ca", storage.RecordTypeCertificate, "serial-1")
	})

	data, err := store.Get(ctx, "pgtest-ca", storage.RecordTypeCertificate, "serial-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"active"}`, string(data))

	require.NoError(t, store.Delete(ctx, "pgtest-ca", storage.RecordTypeCertificate, "serial-1"))
	_, err = store.Get(ctx, "pgtest-ca", storage.RecordTypeCertificate, "serial-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestBatchRollsBack(t *testing.T) {
	ctx := t.Context()
	store := newTestStore(t)

	boom := errors.New("boom")
	err := store.Batch(ctx, "pgtest-ca", func(tx storage.BatchTx) error {
		require.NoError(t, tx.Put(storage.RecordTypeCRLCounter, "p9", []byte("9")))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.Get(ctx, "pgtest-ca", storage.RecordTypeCRLCounter, "p9")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
