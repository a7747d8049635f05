package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS records (
	scope       TEXT  NOT NULL,
	record_type TEXT  NOT NULL,
	record_id   TEXT  NOT NULL,
	data        BYTEA NOT NULL,
	PRIMARY KEY (scope, record_type, record_id)
);

CREATE INDEX IF NOT EXISTS records_scope_type_idx
	ON records (scope, record_type);
`

// EnsureSchema creates the records table if it does not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schemaSQL)
	return err
}
