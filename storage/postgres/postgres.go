// Package postgres implements storage.Repository backed by PostgreSQL.
//
// The records table uses a composite primary key (scope, record_type,
// record_id) mirroring the key space of the BBolt and in-memory backends.
// Record documents are stored as BYTEA.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/palisade/storage"
)

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewRepository(pool), nil
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

const upsertSQL = `INSERT INTO records (scope, record_type, record_id, data)
	 VALUES ($1, $2, $3, $4)
	 ON CONFLICT (scope, record_type, record_id) DO UPDATE SET data = $4`

func (s *Store) Put(ctx context.Context, scope, recordType, recordID string, data []byte) error {
	_, err := s.pool.Exec(ctx, upsertSQL, scope, recordType, recordID, data)
	return err
}

func (s *Store) Get(ctx context.Context, scope, recordType, recordID string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM records WHERE scope = $1 AND record_type = $2 AND record_id = $3`,
		scope, recordType, recordID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s/%s: %w", scope, recordType, recordID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Store) List(ctx context.Context, scope, recordType string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT record_id FROM records WHERE scope = $1 AND record_type = $2`,
		scope, recordType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) Delete(ctx context.Context, scope, recordType, recordID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM records WHERE scope = $1 AND record_type = $2 AND record_id = $3`,
		scope, recordType, recordID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s/%s: %w", scope, recordType, recordID, storage.ErrNotFound)
	}
	return nil
}

// Batch runs fn inside a single database transaction.
func (s *Store) Batch(ctx context.Context, scope string, fn func(tx storage.BatchTx) error) error {
	pgTx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer pgTx.Rollback(ctx) //nolint:errcheck

	btx := &pgBatchTx{ctx: ctx, tx: pgTx, scope: scope}
	if err := fn(btx); err != nil {
		return err
	}
	return pgTx.Commit(ctx)
}

type pgBatchTx struct {
	ctx   context.Context
	tx    pgx.Tx
	scope string
}

var _ storage.BatchTx = (*pgBatchTx)(nil)

func (btx *pgBatchTx) Put(recordType, recordID string, data []byte) error {
	_, err := btx.tx.Exec(btx.ctx, upsertSQL, btx.scope, recordType, recordID, data)
	return err
}

func (btx *pgBatchTx) Delete(recordType, recordID string) error {
	_, err := btx.tx.Exec(btx.ctx,
		`DELETE FROM records WHERE scope = $1 AND record_type = $2 AND record_id = $3`,
		btx.scope, recordType, recordID)
	return err
}
